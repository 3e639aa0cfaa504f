package config

import "time"

// DefaultConfig returns the configuration used when nothing overrides
// it. The defaults run a single-node engine on the in-memory store.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "sagaflow",
			Environment: "development",
			Debug:       false,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			HTTP: HTTPConfig{
				ReadTimeout:    30 * time.Second,
				WriteTimeout:   30 * time.Second,
				IdleTimeout:    120 * time.Second,
				MaxHeaderBytes: 1 << 20,
			},
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   200,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Saga: SagaConfig{
			Timeout:             30 * time.Minute,
			CompensationBudget:  5 * time.Minute,
			CompensationAllowed: true,
			NonUndoableActions:  []string{"CREATE_SHIPMENT", "SEND_NOTIFICATION"},
			Recovery: RecoveryConfig{
				Enabled:   true,
				Interval:  30 * time.Second,
				Staleness: time.Minute,
				Limit:     100,
			},
		},
		Storage: StorageConfig{
			Type: "memory",
			Badger: BadgerConfig{
				Path:             "./data/sagas",
				SyncWrites:       true,
				ValueLogFileSize: 1 << 30,
			},
			RedisLock: RedisLockConfig{
				Enabled: false,
				Address: "localhost:6379",
				DB:      0,
				TTL:     time.Minute,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Endpoint:   "localhost:4317",
			Insecure:   true,
			SampleRate: 0.1,
			Timeout:    10 * time.Second,
		},
	}
}
