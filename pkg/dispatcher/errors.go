package dispatcher

import "errors"

// ErrDuplicateEvent is returned by Ingest when transportEventID has already
// been accepted within the dedup retention window.
var ErrDuplicateEvent = errors.New("dispatcher: duplicate transport event")
