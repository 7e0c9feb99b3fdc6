package taskrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/AutonomosCdM/vigia-sub003/internal/processingstore"
	"github.com/AutonomosCdM/vigia-sub003/internal/taxonomy"
)

// Runner is the Async Task Runner: a fixed-size worker pool that polls the
// configured priority queues in order, bounding each queue's concurrency to
// a reserved share of the pool with the remainder available as shared
// overflow capacity.
type Runner struct {
	cfg      Config
	store    Store
	audit    AuditSink
	sessions SessionCancelRegistry

	mu       sync.RWMutex
	handlers map[string]Handler

	reserved map[string]*semaphore.Weighted
	overflow *semaphore.Weighted

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Runner. Each queue in cfg.PriorityOrder is given a
// reserved semaphore sized to ceil(PoolSize * MinConcurrencyShare) (at
// least 1), so a flood on one queue can never fully starve the others; the
// remaining pool capacity is shared overflow, consumed in priority order.
func New(cfg Config, store Store, audit AuditSink, sessions SessionCancelRegistry) *Runner {
	pool := cfg.PoolSize
	if pool <= 0 {
		pool = 4
	}
	share := cfg.MinConcurrencyShare
	if share <= 0 {
		share = 0.10
	}

	reserved := make(map[string]*semaphore.Weighted, len(cfg.PriorityOrder))
	var reservedTotal int64
	for _, q := range cfg.PriorityOrder {
		n := int64(math.Ceil(float64(pool) * share))
		if n < 1 {
			n = 1
		}
		reserved[q] = semaphore.NewWeighted(n)
		reservedTotal += n
	}
	overflowCap := int64(pool) - reservedTotal
	if overflowCap < 0 {
		overflowCap = 0
	}

	return &Runner{
		cfg:      cfg,
		store:    store,
		audit:    audit,
		sessions: sessions,
		handlers: make(map[string]Handler),
		reserved: reserved,
		overflow: semaphore.NewWeighted(overflowCap),
		stopCh:   make(chan struct{}),
	}
}

// RegisterHandler binds a stage name to the Handler that executes it.
// Handlers must be registered before Start.
func (r *Runner) RegisterHandler(stage string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[stage] = h
}

// Submit enqueues a new top-of-chain task and audits the enqueue.
func (r *Runner) Submit(ctx context.Context, queue, stage, sessionID, tokenID string, payload []byte) (string, error) {
	t := processingstore.TaskQueueEntry{
		TaskID:      uuid.New().String(),
		Queue:       queue,
		SessionID:   sessionID,
		TokenID:     tokenID,
		Stage:       stage,
		Payload:     payload,
		Attempt:     0,
		MaxAttempts: r.maxAttemptsDefault(),
		AvailableAt: time.Now(),
		Deadline:    time.Now().Add(r.deadlineFor(stage)),
	}
	if err := r.store.EnqueueTask(ctx, t); err != nil {
		return "", fmt.Errorf("submitting task: %w", err)
	}
	r.audit.Emit(ctx, tokenID, "task_enqueued", "ok", stage)
	return t.TaskID, nil
}

// Stats reports the observed in-flight depth per priority queue.
func (r *Runner) Stats(ctx context.Context) ([]QueueStats, error) {
	stats := make([]QueueStats, 0, len(r.cfg.PriorityOrder))
	for _, q := range r.cfg.PriorityOrder {
		n, err := r.store.CountInFlight(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("counting in-flight tasks for %s: %w", q, err)
		}
		stats = append(stats, QueueStats{Queue: q, InFlight: n})
	}
	return stats, nil
}

// Start spawns the worker pool and the lease-reclaim sweeper.
func (r *Runner) Start(ctx context.Context) {
	pool := r.cfg.PoolSize
	if pool <= 0 {
		pool = 4
	}
	for i := 0; i < pool; i++ {
		r.wg.Add(1)
		go r.runWorker(ctx, i)
	}
	r.wg.Add(1)
	go r.runLeaseReclaimer(ctx)
}

// Stop signals all workers and the sweeper to exit and waits for them.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Runner) runWorker(ctx context.Context, _ int) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		default:
		}
		if r.pollOnce(ctx) {
			continue
		}
		r.sleep(r.pollInterval())
	}
}

func (r *Runner) sleep(d time.Duration) {
	select {
	case <-r.stopCh:
	case <-time.After(d):
	}
}

// pollOnce tries each priority queue in order and claims and fully
// processes at most one task. It returns true if it found work, so the
// caller can immediately look for more instead of sleeping.
func (r *Runner) pollOnce(ctx context.Context) bool {
	for _, q := range r.cfg.PriorityOrder {
		sem, ok := r.acquire(q)
		if !ok {
			continue
		}

		task, err := r.store.ClaimNext(ctx, q, time.Now().Add(r.visibilityTimeout()))
		if err != nil {
			sem.Release(1)
			if !errors.Is(err, processingstore.ErrNoTaskAvailable) {
				slog.Error("claiming task failed", "queue", q, "error", err)
			}
			continue
		}

		r.process(ctx, *task)
		sem.Release(1)
		return true
	}
	return false
}

func (r *Runner) acquire(queue string) (*semaphore.Weighted, bool) {
	reservedSem, ok := r.reserved[queue]
	if !ok {
		return nil, false
	}
	if reservedSem.TryAcquire(1) {
		return reservedSem, true
	}
	if r.overflow.TryAcquire(1) {
		return r.overflow, true
	}
	return nil, false
}

func (r *Runner) process(ctx context.Context, task processingstore.TaskQueueEntry) {
	log := slog.With("task_id", task.TaskID, "queue", task.Queue, "stage", task.Stage, "attempt", task.Attempt)

	taskCtx, cancel := context.WithDeadline(ctx, task.Deadline)
	defer cancel()

	if r.sessions != nil && task.SessionID != "" {
		if err := r.sessions.RegisterCancel(task.SessionID, cancel); err != nil {
			log.Warn("registering task cancel with session failed", "error", err)
		}
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(taskCtx)
	go r.runHeartbeat(heartbeatCtx, task.TaskID)

	handler := r.handlerFor(task.Stage)
	if handler == nil {
		stopHeartbeat()
		log.Error("no handler registered for stage")
		r.fail(ctx, task, fmt.Errorf("taskrunner: no handler registered for stage %q", task.Stage))
		return
	}

	next, err := handler(taskCtx, task)
	stopHeartbeat()

	switch {
	case err == nil:
		r.succeed(ctx, task, next)
	case errors.Is(taskCtx.Err(), context.Canceled):
		r.cancelTask(ctx, task)
	case errors.Is(taskCtx.Err(), context.DeadlineExceeded):
		// A task past its per-stage deadline is canceled, not retried: the
		// work it was doing is stale by the time it would be rescheduled.
		r.cancelTask(ctx, task)
	default:
		r.fail(ctx, task, err)
	}
}

func (r *Runner) handlerFor(stage string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[stage]
}

func (r *Runner) succeed(ctx context.Context, task processingstore.TaskQueueEntry, next *NextStage) {
	if err := r.store.MarkDone(ctx, task.TaskID); err != nil {
		slog.Error("marking task done failed", "task_id", task.TaskID, "error", err)
	}
	r.audit.Emit(ctx, task.TokenID, "task_succeeded", "ok", task.Stage)

	if next == nil {
		return
	}
	if _, err := r.Submit(ctx, next.Queue, next.Stage, task.SessionID, task.TokenID, next.Payload); err != nil {
		slog.Error("enqueuing downstream task failed", "from_stage", task.Stage, "to_stage", next.Stage, "error", err)
	}
}

func (r *Runner) cancelTask(ctx context.Context, task processingstore.TaskQueueEntry) {
	if err := r.store.MarkCanceled(ctx, task.TaskID); err != nil {
		slog.Error("marking task canceled failed", "task_id", task.TaskID, "error", err)
	}
	r.audit.Emit(ctx, task.TokenID, "task_canceled", "canceled", task.Stage)
}

func (r *Runner) fail(ctx context.Context, task processingstore.TaskQueueEntry, cause error) {
	class := taxonomy.Classify(cause)
	if task.Attempt >= r.effectiveMaxAttempts(task) || !class.Retryable() {
		r.escalate(ctx, task)
		return
	}
	r.retry(ctx, task)
}

func (r *Runner) escalate(ctx context.Context, task processingstore.TaskQueueEntry) {
	if err := r.store.MarkEscalated(ctx, task.TaskID); err != nil {
		slog.Error("marking task escalated failed", "task_id", task.TaskID, "error", err)
	}
	r.audit.Emit(ctx, task.TokenID, "task_escalated", "escalated", task.Stage)

	if _, err := r.Submit(ctx, r.reviewQueue(), "human_review", task.SessionID, task.TokenID, task.Payload); err != nil {
		slog.Error("enqueuing human review task failed", "task_id", task.TaskID, "error", err)
	}
}

func (r *Runner) retry(ctx context.Context, task processingstore.TaskQueueEntry) {
	delay := r.backoff(task.Attempt)
	if err := r.store.RescheduleWithBackoff(ctx, task.TaskID, time.Now().Add(delay)); err != nil {
		slog.Error("rescheduling task failed", "task_id", task.TaskID, "error", err)
	}
	r.audit.Emit(ctx, task.TokenID, "task_retry_scheduled", "pending", task.Stage)
}

func (r *Runner) runHeartbeat(ctx context.Context, taskID string) {
	interval := r.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 20 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Heartbeat(ctx, taskID, time.Now().Add(r.visibilityTimeout())); err != nil {
				slog.Warn("task heartbeat failed", "task_id", taskID, "error", err)
			}
		}
	}
}

func (r *Runner) runLeaseReclaimer(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.visibilityTimeout())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			n, err := r.store.ReclaimExpiredLeases(ctx, time.Now())
			if err != nil {
				slog.Error("reclaiming expired leases failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("reclaimed expired task leases", "count", n)
			}
		}
	}
}

// backoff computes the retry delay for a task about to be rescheduled
// after a retryable failure: exponential in the attempt count, jittered by
// RetryJitterFraction on either side. attempt is already incremented at
// claim time, so it is always >= 1 here.
func (r *Runner) backoff(attempt int) time.Duration {
	base := r.cfg.RetryDelayBase
	if base <= 0 {
		base = 60 * time.Second
	}
	delay := base * time.Duration(1<<uint(attempt-1))

	jitterFraction := r.cfg.RetryJitterFraction
	if jitterFraction <= 0 {
		jitterFraction = 0.10
	}
	jitter := time.Duration(float64(delay) * jitterFraction)
	if jitter <= 0 {
		return delay
	}
	offset := time.Duration(rand.Int64N(int64(2*jitter))) - jitter
	return delay + offset
}

// pollInterval jitters the empty-queue poll sleep by +/-10% so that
// multiple idle workers don't wake up in lockstep.
func (r *Runner) pollInterval() time.Duration {
	base := r.cfg.PollInterval
	if base <= 0 {
		base = time.Second
	}
	jitter := base / 10
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (r *Runner) effectiveMaxAttempts(task processingstore.TaskQueueEntry) int {
	if task.MaxAttempts > 0 {
		return task.MaxAttempts
	}
	return r.maxAttemptsDefault()
}

func (r *Runner) maxAttemptsDefault() int {
	if r.cfg.MaxAttempts > 0 {
		return r.cfg.MaxAttempts
	}
	return 3
}

func (r *Runner) deadlineFor(stage string) time.Duration {
	if d, ok := r.cfg.DeadlineByStage[stage]; ok && d > 0 {
		return d
	}
	if r.cfg.DefaultDeadline > 0 {
		return r.cfg.DefaultDeadline
	}
	return 3 * time.Minute
}

func (r *Runner) visibilityTimeout() time.Duration {
	if r.cfg.VisibilityTimeout > 0 {
		return r.cfg.VisibilityTimeout
	}
	return 60 * time.Second
}

func (r *Runner) reviewQueue() string {
	if r.cfg.ReviewQueue != "" {
		return r.cfg.ReviewQueue
	}
	if len(r.cfg.PriorityOrder) > 0 {
		return r.cfg.PriorityOrder[0]
	}
	return "medical_priority"
}
