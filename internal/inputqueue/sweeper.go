package inputqueue

import (
	"context"
	"log/slog"
	"time"
)

// Start spawns the deadline sweeper goroutine. Safe to call once.
func (q *Queue) Start(ctx context.Context) {
	interval := q.cfg.SweepInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	q.wg.Add(1)
	go q.runSweeper(ctx, interval)
}

// Stop signals the sweeper to exit and waits for it.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.wg.Wait()
}

func (q *Queue) runSweeper(ctx context.Context, interval time.Duration) {
	defer q.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
			if err := q.sweepOnce(ctx); err != nil {
				slog.Error("input queue sweep failed", "error", err)
			}
		}
	}
}

func (q *Queue) sweepOnce(ctx context.Context) error {
	purged, err := q.store.SweepExpiredInputs(ctx, time.Now())
	if err != nil {
		return err
	}
	for _, e := range purged {
		tokenID, err := q.sessions.TokenIDForSession(ctx, e.SessionID)
		if err != nil {
			slog.Warn("could not resolve token_id for expired input, skipping audit entry",
				"session_id", e.SessionID, "processing_id", e.ProcessingID, "error", err)
			continue
		}
		q.audit.Emit(ctx, tokenID, "input_expired", "purged", "input_queue")
	}
	return nil
}
