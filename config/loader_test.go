package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "sagaflow", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, 30*time.Second, cfg.Server.HTTP.ReadTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 30*time.Minute, cfg.Saga.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Saga.CompensationBudget)
	assert.True(t, cfg.Saga.CompensationAllowed)
	assert.Equal(t, []string{"CREATE_SHIPMENT", "SEND_NOTIFICATION"}, cfg.Saga.NonUndoableActions)
	assert.True(t, cfg.Saga.Recovery.Enabled)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
app:
  name: sagaflow-test
  environment: production
server:
  port: 9999
saga:
  timeout: 15m
  recovery:
    staleness: 2m
storage:
  type: badger
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "sagaflow-test", cfg.App.Name)
	assert.Equal(t, "production", cfg.App.Environment)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Saga.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.Saga.Recovery.Staleness)
	assert.Equal(t, "badger", cfg.Storage.Type)

	// Untouched keys keep their defaults.
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 30*time.Second, cfg.Saga.Recovery.Interval)
}

func TestLoadJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"app": {"name": "sagaflow-json"}, "log": {"level": "debug"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "sagaflow-json", cfg.App.Name)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o600))

	_, err := Load(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config file format")
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("SAGAFLOW_SERVER__PORT", "7070")
	t.Setenv("SAGAFLOW_LOG__LEVEL", "warn")
	t.Setenv("SAGAFLOW_SAGA__COMPENSATION_BUDGET", "3m")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 3*time.Minute, cfg.Saga.CompensationBudget)
}

func TestLoadOverridesWinOverEnvironment(t *testing.T) {
	t.Setenv("SAGAFLOW_SERVER__PORT", "7070")

	cfg, err := Load("", map[string]interface{}{
		"server.port": 6060,
		"app.name":    "cli-name",
	})
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.Server.Port)
	assert.Equal(t, "cli-name", cfg.App.Name)
}

func TestLoadValidationFailure(t *testing.T) {
	_, err := Load("", map[string]interface{}{
		"server.port":     0,
		"app.environment": "laptop",
	})
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	require.Len(t, verrs, 2)

	fields := make(map[string]bool, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field] = true
	}
	assert.True(t, fields["Config.Server.Port"])
	assert.True(t, fields["Config.App.Environment"])
}

func TestEnvKeyMapping(t *testing.T) {
	assert.Equal(t, "server.port", envKey("SAGAFLOW_SERVER__PORT"))
	assert.Equal(t, "saga.compensation_budget", envKey("SAGAFLOW_SAGA__COMPENSATION_BUDGET"))
	assert.Equal(t, "saga.recovery.limit", envKey("SAGAFLOW_SAGA__RECOVERY__LIMIT"))
}

func TestValidateDefaults(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}
