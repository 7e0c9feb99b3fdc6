package processingstore

import (
	"context"
	stdsql "database/sql"
	"fmt"
)

// CreateSourceBinding records the association between a transport sender
// handle and the token_id issued for it, made once by the integration layer
// at token request time. Idempotent: rebinding the same source_id to the
// same token_id is a no-op.
func (s *Store) CreateSourceBinding(ctx context.Context, sourceID, tokenID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_bindings (source_id, token_id)
		VALUES ($1, $2)
		ON CONFLICT (source_id) DO NOTHING`,
		sourceID, tokenID)
	if err != nil {
		return fmt.Errorf("inserting source binding: %w", err)
	}
	return nil
}

// TokenIDForSourceID returns the token_id bound to sourceID.
func (s *Store) TokenIDForSourceID(ctx context.Context, sourceID string) (string, error) {
	var tokenID string
	err := s.db.QueryRowContext(ctx, `
		SELECT token_id FROM source_bindings WHERE source_id = $1`, sourceID).Scan(&tokenID)
	switch {
	case err == stdsql.ErrNoRows:
		return "", ErrSourceBindingNotFound
	case err != nil:
		return "", fmt.Errorf("querying source binding: %w", err)
	}
	return tokenID, nil
}
