package config

import "time"

// Default returns the built-in configuration defaults for every component.
// User-supplied YAML is merged on top of this via Load.
func Default() *Config {
	return &Config{
		HospitalStore: StoreConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "orchestrator",
			Database:        "hospital_store",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 15 * time.Minute,
		},
		ProcessingStore: StoreConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "orchestrator",
			Database:        "processing_store",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 15 * time.Minute,
		},
		Session: SessionConfig{
			TTL:           15 * time.Minute,
			SweepInterval: time.Second,
			ShardCount:    32,
		},
		InputQueue: InputQueueConfig{
			Deadline:      15 * time.Minute,
			SweepInterval: 10 * time.Second,
		},
		Task: TaskConfig{
			MaxAttempts:         3,
			RetryDelayBase:      60 * time.Second,
			RetryJitterFraction: 0.10,
			DeadlineByStage: map[string]time.Duration{
				"image_prep":     3 * time.Minute,
				"detection":      5 * time.Minute,
				"decision":       3 * time.Minute,
				"notification":   3 * time.Minute,
				"audit_finalize": 3 * time.Minute,
			},
			DefaultDeadline:   3 * time.Minute,
			VisibilityTimeout: 60 * time.Second,
			HeartbeatInterval: 20 * time.Second,
		},
		Worker: WorkerConfig{
			PoolSize:  4,
			Prefetch:  1,
			PollEvery: time.Second,
		},
		Queues: QueuesConfig{
			PriorityOrder: []string{
				"medical_priority",
				"image_processing",
				"notifications",
				"audit_logging",
			},
			MinConcurrencyShare: 0.10,
		},
		Tokenization: TokenizationConfig{
			ReconciliationGrace: 5 * time.Minute,
			DefaultTTL:          24 * time.Hour,
		},
		Audit: AuditConfig{
			RetentionDays: 2555,
			SweepInterval: 12 * time.Hour,
		},
		Medical: MedicalConfig{
			ConfidenceEscalationThreshold: 0.60,
		},
		Notification: NotificationConfig{
			RoutineChannel:   "#medical-routine",
			UrgentChannel:    "#medical-urgent",
			EmergencyChannel: "#medical-emergency",
			MaxAttempts:      3,
		},
		Transport: TransportConfig{
			MaxMediaBytes: 25 << 20,
		},
		HTTPPort: "8080",
	}
}
