package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagaflow/sagaflow/pkg/saga"
)

// failingRepo answers every probe read with an error.
type failingRepo struct {
	saga.Repository
}

func (failingRepo) ExistsByOrderNo(ctx context.Context, orderNo string) (bool, error) {
	return false, errors.New("store down")
}

func TestHealth(t *testing.T) {
	h := NewHealthHandler(saga.NewMemoryRepository())

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, "ok", out["status"])
}

func TestReady(t *testing.T) {
	h := NewHealthHandler(saga.NewMemoryRepository())

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]bool
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.True(t, out["ready"])
}

func TestReadyRepositoryDown(t *testing.T) {
	h := NewHealthHandler(failingRepo{saga.NewMemoryRepository()})

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, false, out["ready"])
	assert.Contains(t, out["error"], "store down")
}

func TestStatus(t *testing.T) {
	h := NewHealthHandler(saga.NewMemoryRepository())

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, "ok", out["status"])
	assert.Contains(t, out, "version")
	assert.Contains(t, out, "go_version")
	assert.Contains(t, out, "uptime_seconds")
}
