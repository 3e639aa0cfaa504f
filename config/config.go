// Package config loads and validates sagaflow configuration from
// defaults, an optional config file, environment variables and CLI
// overrides, in that order of precedence.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Saga    SagaConfig    `mapstructure:"saga"`
	Storage StorageConfig `mapstructure:"storage"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig identifies the deployment.
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment" validate:"oneof=development staging production"`
	Debug       bool   `mapstructure:"debug"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host      string          `mapstructure:"host"`
	Port      int             `mapstructure:"port" validate:"gte=1,lte=65535"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// HTTPConfig holds HTTP server timeouts.
type HTTPConfig struct {
	ReadTimeout    time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes" validate:"gt=0"`
}

// RateLimitConfig throttles API requests.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps" validate:"gte=0"`
	Burst   int     `mapstructure:"burst" validate:"gte=0"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
	Output string `mapstructure:"output"`
}

// SagaConfig holds the engine's execution policy.
type SagaConfig struct {
	Timeout             time.Duration  `mapstructure:"timeout" validate:"gt=0"`
	CompensationBudget  time.Duration  `mapstructure:"compensation_budget" validate:"gt=0"`
	CompensationAllowed bool           `mapstructure:"compensation_allowed"`
	NonUndoableActions  []string       `mapstructure:"non_undoable_actions"`
	Recovery            RecoveryConfig `mapstructure:"recovery"`
}

// RecoveryConfig drives the stuck-saga sweep.
type RecoveryConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval" validate:"gt=0"`
	Staleness time.Duration `mapstructure:"staleness" validate:"gt=0"`
	Limit     int           `mapstructure:"limit" validate:"gt=0"`
}

// StorageConfig selects and configures the saga repository.
type StorageConfig struct {
	Type      string          `mapstructure:"type" validate:"oneof=memory badger"`
	Badger    BadgerConfig    `mapstructure:"badger"`
	RedisLock RedisLockConfig `mapstructure:"redis_lock"`
}

// BadgerConfig configures the Badger repository.
type BadgerConfig struct {
	Path             string `mapstructure:"path" validate:"required"`
	SyncWrites       bool   `mapstructure:"sync_writes"`
	ValueLogFileSize int64  `mapstructure:"value_log_file_size" validate:"gt=0"`
}

// RedisLockConfig configures the distributed per-saga lock.
type RedisLockConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	TTL      time.Duration `mapstructure:"ttl" validate:"gt=0"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port" validate:"gte=1,lte=65535"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Endpoint   string        `mapstructure:"endpoint"`
	Insecure   bool          `mapstructure:"insecure"`
	SampleRate float64       `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
}
