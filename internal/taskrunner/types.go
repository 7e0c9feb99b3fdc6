// Package taskrunner implements the Async Task Runner: a priority-queued,
// lease-based worker pool that executes the clinical processing chain
// (image prep, detection, decision, notification, audit finalize) as a
// sequence of independently retryable stage tasks.
package taskrunner

import (
	"context"
	"time"

	"github.com/AutonomosCdM/vigia-sub003/internal/processingstore"
)

// NextStage describes a follow-on task a Handler wants enqueued after it
// completes successfully — the "workflow edge" to the next stage in the
// clinical processing chain.
type NextStage struct {
	Queue   string
	Stage   string
	Payload []byte
}

// Handler executes one stage of work for a claimed task. A nil *NextStage
// return means the chain ends here. An error other than context
// cancellation is classified via taxonomy.Classify to decide between retry
// and escalation.
type Handler func(ctx context.Context, task processingstore.TaskQueueEntry) (*NextStage, error)

// Store is the subset of processingstore's task queue API the runner
// depends on.
type Store interface {
	EnqueueTask(ctx context.Context, t processingstore.TaskQueueEntry) error
	ClaimNext(ctx context.Context, queue string, leaseExpiresAt time.Time) (*processingstore.TaskQueueEntry, error)
	Heartbeat(ctx context.Context, taskID string, leaseExpiresAt time.Time) error
	MarkDone(ctx context.Context, taskID string) error
	MarkCanceled(ctx context.Context, taskID string) error
	MarkEscalated(ctx context.Context, taskID string) error
	RescheduleWithBackoff(ctx context.Context, taskID string, availableAt time.Time) error
	ReclaimExpiredLeases(ctx context.Context, now time.Time) (int64, error)
	CountInFlight(ctx context.Context, queue string) (int, error)
}

// AuditSink is the append-only audit trail the runner reports task
// lifecycle events to.
type AuditSink interface {
	Emit(ctx context.Context, tokenID, action, outcome, component string)
}

// SessionCancelRegistry lets the runner tie a task's context cancellation
// to its owning session's lifecycle (expiry or explicit close). Dispatcher
// guarantees at most one task in flight per session at a time, so
// registering the current task's cancel on each claim is safe: a session
// with no further work simply leaves a stale, harmless cancel func behind.
type SessionCancelRegistry interface {
	RegisterCancel(sessionID string, cancel context.CancelFunc) error
}

// Config controls pool sizing, retry/backoff policy, and per-stage
// deadlines.
type Config struct {
	PoolSize            int
	PriorityOrder       []string
	MinConcurrencyShare float64
	MaxAttempts         int
	RetryDelayBase      time.Duration
	RetryJitterFraction float64
	DeadlineByStage     map[string]time.Duration
	DefaultDeadline     time.Duration
	VisibilityTimeout   time.Duration
	HeartbeatInterval   time.Duration
	PollInterval        time.Duration
	ReviewQueue         string
}

// QueueStats reports the observed in-flight depth of one priority queue.
type QueueStats struct {
	Queue    string
	InFlight int
}
