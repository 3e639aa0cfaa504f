package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestNewWatcherRequiresPath(t *testing.T) {
	_, err := NewWatcher("")
	assert.Error(t, err)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "app:\n  name: before\n")

	w, err := NewWatcher(path, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	reloaded := make(chan *Config, 1)
	w.OnChange(func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	// Give Watch a moment to register the file before writing.
	time.Sleep(50 * time.Millisecond)
	writeConfig(t, path, "app:\n  name: after\n")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "after", cfg.App.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	require.NoError(t, w.Stop())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after Stop")
	}
}

func TestWatcherDropsInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "app:\n  name: good\n")

	w, err := NewWatcher(path, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	reloaded := make(chan *Config, 4)
	w.OnChange(func(cfg *Config) { reloaded <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Watch(ctx) }()

	time.Sleep(50 * time.Millisecond)
	writeConfig(t, path, "app:\n  environment: laptop\n")

	select {
	case cfg := <-reloaded:
		t.Fatalf("invalid config was delivered: %+v", cfg.App)
	case <-time.After(300 * time.Millisecond):
	}

	// A valid write afterwards still gets through.
	writeConfig(t, path, "app:\n  name: fixed\n")
	select {
	case cfg := <-reloaded:
		assert.Equal(t, "fixed", cfg.App.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("valid reload was not delivered")
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "app:\n  name: x\n")

	w, err := NewWatcher(path)
	require.NoError(t, err)
	require.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}
