package logger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"debug", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"bogus", InfoLevel},
		{"", InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "input %q", tt.input)
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "debug", DebugLevel.String())
	assert.Equal(t, "info", InfoLevel.String())
	assert.Equal(t, "warn", WarnLevel.String())
	assert.Equal(t, "error", ErrorLevel.String())
	assert.Equal(t, "unknown", Level(99).String())
}

func TestNewNilConfig(t *testing.T) {
	log := New(nil)
	require.NotNil(t, log)
	assert.Equal(t, InfoLevel, log.Level())
}

func TestSetLevelRuntime(t *testing.T) {
	log := New(&Config{Level: InfoLevel, Format: "text", Output: "stderr"})
	assert.Equal(t, InfoLevel, log.Level())

	log.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, log.Level())

	log.SetLevel(ErrorLevel)
	assert.Equal(t, ErrorLevel, log.Level())
}

func TestWithSharesLevel(t *testing.T) {
	parent := New(&Config{Level: InfoLevel, Format: "text", Output: "stderr"})
	child := parent.With("component", "test")
	require.NotNil(t, child)

	parent.SetLevel(DebugLevel)
	// The slog level var is shared, so debug records pass through the
	// child even though its cached Level was taken at creation.
	child.Debug("visible after parent level change")
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log := New(&Config{Level: InfoLevel, Format: "json", Output: path})

	log.Info("hello", "key", "value")
	require.NoError(t, log.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, content)

	var record map[string]any
	require.NoError(t, json.Unmarshal(content, &record))
	assert.Equal(t, "hello", record["msg"])
	assert.Equal(t, "value", record["key"])
}

func TestFileOutputFallsBackToStderr(t *testing.T) {
	log := New(&Config{Level: InfoLevel, Format: "text", Output: "/nonexistent/dir/app.log"})
	// Fallback writers are not owned, so Close is a no-op.
	assert.NoError(t, log.Close())
}

func TestCloseStdStreams(t *testing.T) {
	for _, output := range []string{"stdout", "stderr", ""} {
		log := New(&Config{Level: InfoLevel, Format: "text", Output: output})
		assert.NoError(t, log.Close(), "output %q", output)
	}
}

func TestDerivedLoggerCloseIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log := New(&Config{Level: InfoLevel, Format: "json", Output: path})
	defer log.Close()

	child := log.With("component", "test")
	assert.NoError(t, child.Close())

	// The parent still owns the file.
	log.Info("still writable")
}

func TestContextRoundTrip(t *testing.T) {
	log := New(&Config{Level: InfoLevel, Format: "text", Output: "stderr"})
	ctx := log.WithContext(context.Background())

	got := FromContext(ctx)
	assert.Same(t, log, got)
}

func TestFromContextFallsBackToGlobal(t *testing.T) {
	got := FromContext(context.Background())
	assert.Same(t, Global(), got)
}

func TestSetGlobal(t *testing.T) {
	prev := Global()
	defer SetGlobal(prev)

	replacement := New(&Config{Level: DebugLevel, Format: "text", Output: "stderr"})
	SetGlobal(replacement)
	assert.Same(t, replacement, Global())

	// nil is ignored.
	SetGlobal(nil)
	assert.Same(t, replacement, Global())

	SetLevel(WarnLevel)
	assert.Equal(t, WarnLevel, Global().Level())
}
