package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAll_Defaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, NewValidator(cfg).ValidateAll())
}

func TestValidateAll_RejectsInvalidFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty hospital store database",
			mutate:  func(c *Config) { c.HospitalStore.Database = "" },
			wantErr: "hospital_store.database",
		},
		{
			name:    "idle exceeds open",
			mutate:  func(c *Config) { c.ProcessingStore.MaxIdleConns = c.ProcessingStore.MaxOpenConns + 1 },
			wantErr: "processing_store.max_idle_conns",
		},
		{
			name:    "zero session ttl",
			mutate:  func(c *Config) { c.Session.TTL = 0 },
			wantErr: "session.ttl_seconds",
		},
		{
			name:    "zero max attempts",
			mutate:  func(c *Config) { c.Task.MaxAttempts = 0 },
			wantErr: "task.max_attempts",
		},
		{
			name:    "jitter fraction out of range",
			mutate:  func(c *Config) { c.Task.RetryJitterFraction = 1.2 },
			wantErr: "task.retry_jitter_fraction",
		},
		{
			name:    "empty priority order",
			mutate:  func(c *Config) { c.Queues.PriorityOrder = nil },
			wantErr: "queues.priority_order",
		},
		{
			name:    "confidence threshold out of range",
			mutate:  func(c *Config) { c.Medical.ConfidenceEscalationThreshold = 2 },
			wantErr: "medical.confidence_escalation_threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.HospitalStore.Database = "hospital"
			cfg.ProcessingStore.Database = "processing"
			tt.mutate(cfg)

			err := NewValidator(cfg).ValidateAll()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
