// Package config loads and validates the orchestrator's single configuration
// structure, covering every component in the orchestrator: the
// two stores, the session manager, the input queue, the async task runner,
// tokenization, notification, and audit retention.
package config

import "time"

// Config is the umbrella configuration object read once at startup and
// shared read-mostly by every component. No other global mutable
// configuration singleton exists; the only other global mutable state is
// the session map (pkg/session) and the rotated encryption-key holder
// (internal/cryptkeyring).
type Config struct {
	HospitalStore   StoreConfig           `yaml:"hospital_store"`
	ProcessingStore StoreConfig           `yaml:"processing_store"`
	Session         SessionConfig         `yaml:"session"`
	InputQueue      InputQueueConfig      `yaml:"input_queue"`
	Task            TaskConfig            `yaml:"task"`
	Worker          WorkerConfig          `yaml:"worker"`
	Queues          QueuesConfig          `yaml:"queues"`
	Tokenization    TokenizationConfig    `yaml:"tokenization"`
	Audit           AuditConfig           `yaml:"audit"`
	Medical         MedicalConfig         `yaml:"medical"`
	Notification    NotificationConfig    `yaml:"notification"`
	Transport       TransportConfig       `yaml:"transport"`
	HTTPPort        string                `yaml:"http_port"`
}

// StoreConfig holds connection settings for one Postgres-backed store.
// The Hospital Store and Processing Store each get their own StoreConfig and
// their own connection pool — they are never shared.
type StoreConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// SessionConfig controls the Session Manager's hard TTL and sweep cadence.
type SessionConfig struct {
	TTL            time.Duration `yaml:"ttl_seconds"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	ShardCount     int           `yaml:"shard_count"`
}

// InputQueueConfig controls the encrypted Input Queue.
type InputQueueConfig struct {
	Deadline      time.Duration `yaml:"deadline_seconds"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// TaskConfig controls per-task retry/escalation semantics in the Async Task
// Runner.
type TaskConfig struct {
	MaxAttempts          int                      `yaml:"max_attempts"`
	RetryDelayBase       time.Duration            `yaml:"retry_delay_base_seconds"`
	RetryJitterFraction  float64                  `yaml:"retry_jitter_fraction"`
	DeadlineByStage      map[string]time.Duration `yaml:"deadline_seconds_by_stage"`
	DefaultDeadline      time.Duration            `yaml:"default_deadline_seconds"`
	VisibilityTimeout    time.Duration            `yaml:"visibility_timeout_seconds"`
	HeartbeatInterval    time.Duration            `yaml:"heartbeat_interval_seconds"`
}

// WorkerConfig sizes the worker pool shared across priority queues.
type WorkerConfig struct {
	PoolSize  int           `yaml:"pool_size"`
	Prefetch  int           `yaml:"prefetch"`
	PollEvery time.Duration `yaml:"poll_interval"`
}

// QueuesConfig orders the named priority queues and reserves a minimum
// concurrency share for each, bounding starvation.
type QueuesConfig struct {
	PriorityOrder       []string `yaml:"priority_order"`
	MinConcurrencyShare float64  `yaml:"min_concurrency_share"`
}

// TokenizationConfig controls token generation, alias assignment, and
// reconciliation of orphaned pending requests.
type TokenizationConfig struct {
	ReconciliationGrace time.Duration `yaml:"reconciliation_grace_seconds"`
	AliasVocabularySalt string        `yaml:"alias_vocabulary_salt"`
	DefaultTTL          time.Duration `yaml:"default_ttl"`
}

// AuditConfig controls audit log retention.
type AuditConfig struct {
	RetentionDays   int           `yaml:"retention_days"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

// MedicalConfig holds clinical decision thresholds.
type MedicalConfig struct {
	ConfidenceEscalationThreshold float64 `yaml:"confidence_escalation_threshold"`
}

// NotificationConfig configures the outbound Slack/email/SMS adapter.
type NotificationConfig struct {
	SlackTokenEnv   string `yaml:"slack_token_env"`
	RoutineChannel  string `yaml:"routine_channel"`
	UrgentChannel   string `yaml:"urgent_channel"`
	EmergencyChannel string `yaml:"emergency_channel"`
	MaxAttempts     int    `yaml:"max_attempts"`
}

// TransportConfig configures the inbound webhook adapter.
type TransportConfig struct {
	SignatureSecretEnv string `yaml:"signature_secret_env"`
	SourceSaltEnv      string `yaml:"source_salt_env"`
	MaxMediaBytes      int64  `yaml:"max_media_bytes"`
}
