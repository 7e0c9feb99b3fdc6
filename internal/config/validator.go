package config

import "fmt"

// Validator validates a Config comprehensively, failing fast on the first
// invalid field so misconfiguration is caught at startup rather than at
// runtime inside a worker.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll validates sections in dependency order: stores, session,
// input queue, task runner, worker, queues, medical. The tokenization,
// audit, notification and transport sections are not validated.
func (v *Validator) ValidateAll() error {
	if err := v.validateStore("hospital_store", v.cfg.HospitalStore); err != nil {
		return err
	}
	if err := v.validateStore("processing_store", v.cfg.ProcessingStore); err != nil {
		return err
	}
	if err := v.validateSession(); err != nil {
		return err
	}
	if err := v.validateInputQueue(); err != nil {
		return err
	}
	if err := v.validateTask(); err != nil {
		return err
	}
	if err := v.validateWorker(); err != nil {
		return err
	}
	if err := v.validateQueues(); err != nil {
		return err
	}
	if err := v.validateMedical(); err != nil {
		return err
	}
	return nil
}

func (v *Validator) validateStore(name string, s StoreConfig) error {
	if s.Database == "" {
		return NewValidationError(name+".database", fmt.Errorf("must not be empty"))
	}
	if s.MaxIdleConns > s.MaxOpenConns {
		return NewValidationError(name+".max_idle_conns", fmt.Errorf("cannot exceed max_open_conns (%d)", s.MaxOpenConns))
	}
	if s.MaxOpenConns < 1 {
		return NewValidationError(name+".max_open_conns", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *Validator) validateSession() error {
	s := v.cfg.Session
	if s.TTL <= 0 {
		return NewValidationError("session.ttl_seconds", fmt.Errorf("must be positive"))
	}
	if s.SweepInterval <= 0 {
		return NewValidationError("session.sweep_interval", fmt.Errorf("must be positive"))
	}
	if s.ShardCount < 1 {
		return NewValidationError("session.shard_count", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *Validator) validateInputQueue() error {
	q := v.cfg.InputQueue
	if q.Deadline <= 0 {
		return NewValidationError("input_queue.deadline_seconds", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *Validator) validateTask() error {
	t := v.cfg.Task
	if t.MaxAttempts < 1 {
		return NewValidationError("task.max_attempts", fmt.Errorf("must be at least 1"))
	}
	if t.RetryDelayBase <= 0 {
		return NewValidationError("task.retry_delay_base_seconds", fmt.Errorf("must be positive"))
	}
	if t.RetryJitterFraction < 0 || t.RetryJitterFraction >= 1 {
		return NewValidationError("task.retry_jitter_fraction", fmt.Errorf("must be in [0, 1)"))
	}
	return nil
}

func (v *Validator) validateWorker() error {
	w := v.cfg.Worker
	if w.PoolSize < 1 {
		return NewValidationError("worker.pool_size", fmt.Errorf("must be at least 1"))
	}
	if w.Prefetch < 1 {
		return NewValidationError("worker.prefetch", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *Validator) validateQueues() error {
	q := v.cfg.Queues
	if len(q.PriorityOrder) == 0 {
		return NewValidationError("queues.priority_order", fmt.Errorf("must name at least one queue"))
	}
	if q.MinConcurrencyShare < 0 || q.MinConcurrencyShare > 1 {
		return NewValidationError("queues.min_concurrency_share", fmt.Errorf("must be in [0, 1]"))
	}
	if float64(len(q.PriorityOrder))*q.MinConcurrencyShare > 1.0001 {
		return NewValidationError("queues.min_concurrency_share", fmt.Errorf("reserved shares across %d queues exceed full pool capacity", len(q.PriorityOrder)))
	}
	return nil
}

func (v *Validator) validateMedical() error {
	m := v.cfg.Medical
	if m.ConfidenceEscalationThreshold < 0 || m.ConfidenceEscalationThreshold > 1 {
		return NewValidationError("medical.confidence_escalation_threshold", fmt.Errorf("must be in [0, 1]"))
	}
	return nil
}
