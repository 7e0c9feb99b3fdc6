package tokenization

import (
	"context"
	"fmt"
	"time"
)

// Reconcile runs the startup reconciliation sweep: any TokenizationRequest
// still pending after graceWindow is an orphan of a crashed two-phase
// write. It is expired, and any partially-written Processing Store
// projection for the same token_id is removed. Returns the number of
// requests reconciled.
func (s *Service) Reconcile(ctx context.Context, graceWindow time.Duration) (int, error) {
	if graceWindow <= 0 {
		graceWindow = 5 * time.Minute
	}
	cutoff := time.Now().Add(-graceWindow)

	stale, err := s.hosp.ListStalePending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing stale pending requests: %w", err)
	}

	for _, req := range stale {
		if err := s.hosp.ExpireTokenizationRequest(ctx, req.RequestID); err != nil {
			return 0, fmt.Errorf("expiring stale request %s: %w", req.RequestID, err)
		}
		if err := s.proc.DeleteTokenizedPatient(ctx, req.TokenID); err != nil {
			return 0, fmt.Errorf("deleting orphan projection for %s: %w", req.TokenID, err)
		}
		s.audit.Emit(ctx, req.TokenID, "tokenization_reconciled", "expired", "tokenization")
	}
	return len(stale), nil
}
