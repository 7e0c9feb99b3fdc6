package packager

import "errors"

// Sentinel errors wrapped with taxonomy.InputRejected by Package.
var (
	ErrMalformed        = errors.New("packager: malformed input event")
	ErrUnsupportedMedia = errors.New("packager: unsupported media content-type")
	ErrOversize         = errors.New("packager: payload exceeds configured size cap")
)
