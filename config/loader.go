package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variables. A double
	// underscore separates nesting levels, so key names containing a
	// single underscore stay intact:
	// SAGAFLOW_SAGA__COMPENSATION_BUDGET -> saga.compensation_budget.
	EnvPrefix = "SAGAFLOW_"

	// Delimiter is the key delimiter for nested config.
	Delimiter = "."
)

// Loader loads configuration from defaults, file, environment and
// overrides, lowest to highest precedence.
type Loader struct {
	k *koanf.Koanf
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{k: koanf.New(Delimiter)}
}

// Load assembles the configuration. configPath may be empty, in which
// case standard locations are tried; overrides are flat dot-separated
// keys, typically from CLI flags.
func (l *Loader) Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	if err := l.k.Load(confmap.Provider(defaultsMap(), Delimiter), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if err := l.loadFile(configPath); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	} else {
		l.loadDefaultFiles()
	}

	if err := l.k.Load(env.Provider(EnvPrefix, Delimiter, envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if len(overrides) > 0 {
		if err := l.k.Load(confmap.Provider(overrides, Delimiter), nil); err != nil {
			return nil, fmt.Errorf("apply overrides: %w", err)
		}
	}

	var cfg Config
	dc := &mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		Result:           &cfg,
		WeaklyTypedInput: true,
	}
	if err := l.k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag:           "mapstructure",
		DecoderConfig: dc,
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps an environment variable name to a config key.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", Delimiter)
}

func (l *Loader) loadFile(path string) error {
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file not found: %s", path)
	}
	return l.k.Load(file.Provider(path), parser)
}

// loadDefaultFiles tries standard config locations, first hit wins.
func (l *Loader) loadDefaultFiles() {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"config.json",
		"configs/config.yaml",
		"/etc/sagaflow/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			_ = l.loadFile(path)
			return
		}
	}
}

// Get returns a raw configuration value by key.
func (l *Loader) Get(key string) interface{} { return l.k.Get(key) }

// defaultsMap flattens DefaultConfig into dot-separated keys so later
// providers merge into it key by key instead of replacing whole
// sections.
func defaultsMap() map[string]interface{} {
	d := DefaultConfig()
	return map[string]interface{}{
		"app.name":        d.App.Name,
		"app.environment": d.App.Environment,
		"app.debug":       d.App.Debug,

		"server.host":                  d.Server.Host,
		"server.port":                  d.Server.Port,
		"server.http.read_timeout":     d.Server.HTTP.ReadTimeout,
		"server.http.write_timeout":    d.Server.HTTP.WriteTimeout,
		"server.http.idle_timeout":     d.Server.HTTP.IdleTimeout,
		"server.http.max_header_bytes": d.Server.HTTP.MaxHeaderBytes,
		"server.rate_limit.enabled":    d.Server.RateLimit.Enabled,
		"server.rate_limit.rps":        d.Server.RateLimit.RPS,
		"server.rate_limit.burst":      d.Server.RateLimit.Burst,

		"log.level":  d.Log.Level,
		"log.format": d.Log.Format,
		"log.output": d.Log.Output,

		"saga.timeout":              d.Saga.Timeout,
		"saga.compensation_budget":  d.Saga.CompensationBudget,
		"saga.compensation_allowed": d.Saga.CompensationAllowed,
		"saga.non_undoable_actions": d.Saga.NonUndoableActions,
		"saga.recovery.enabled":     d.Saga.Recovery.Enabled,
		"saga.recovery.interval":    d.Saga.Recovery.Interval,
		"saga.recovery.staleness":   d.Saga.Recovery.Staleness,
		"saga.recovery.limit":       d.Saga.Recovery.Limit,

		"storage.type":                       d.Storage.Type,
		"storage.badger.path":                d.Storage.Badger.Path,
		"storage.badger.sync_writes":         d.Storage.Badger.SyncWrites,
		"storage.badger.value_log_file_size": d.Storage.Badger.ValueLogFileSize,
		"storage.redis_lock.enabled":         d.Storage.RedisLock.Enabled,
		"storage.redis_lock.address":         d.Storage.RedisLock.Address,
		"storage.redis_lock.password":        d.Storage.RedisLock.Password,
		"storage.redis_lock.db":              d.Storage.RedisLock.DB,
		"storage.redis_lock.ttl":             d.Storage.RedisLock.TTL,

		"metrics.enabled": d.Metrics.Enabled,
		"metrics.path":    d.Metrics.Path,
		"metrics.port":    d.Metrics.Port,

		"tracing.enabled":     d.Tracing.Enabled,
		"tracing.endpoint":    d.Tracing.Endpoint,
		"tracing.insecure":    d.Tracing.Insecure,
		"tracing.sample_rate": d.Tracing.SampleRate,
		"tracing.timeout":     d.Tracing.Timeout,
	}
}

// Load is a convenience function using a fresh loader.
func Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	return NewLoader().Load(configPath, overrides)
}
