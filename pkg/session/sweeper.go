package session

import (
	"context"
	"log/slog"
	"time"
)

// Start spawns the sweeper goroutine. Start is not idempotent: each call
// spawns another sweeper goroutine.
func (m *Manager) Start(ctx context.Context) {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Second
	}
	m.wg.Add(1)
	go m.runSweeper(ctx, interval)
}

// Stop signals the sweeper to exit and waits for it.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// runSweeper evaluates every in-memory session once per interval and
// expires any whose last_touched_at has aged past TTL. The interval is
// not clamped: a SweepInterval below one second sweeps more often than
// once a second.
func (m *Manager) runSweeper(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweepOnce(ctx)
		}
	}
}

func (m *Manager) sweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-m.cfg.TTL)

	for _, sh := range m.shards {
		sh.mu.RLock()
		candidates := make([]*entry, 0, len(sh.entries))
		for _, e := range sh.entries {
			candidates = append(candidates, e)
		}
		sh.mu.RUnlock()

		for _, e := range candidates {
			m.expireIfStale(ctx, e, cutoff)
		}
	}
}

func (m *Manager) expireIfStale(ctx context.Context, e *entry, cutoff time.Time) {
	e.mu.Lock()
	if e.state != StateActive || e.lastTouchedAt.After(cutoff) {
		e.mu.Unlock()
		return
	}
	e.state = StateExpired
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if err := m.mirror(ctx, e); err != nil {
		slog.Warn("session durable mirror failed on expiry", "session_id", e.sessionID, "error", err)
	}
	m.audit.Emit(ctx, e.tokenID, "session_expire", "expired", "session_manager")
}
