package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/sagaflow/sagaflow/pkg/api/response"
	"github.com/sagaflow/sagaflow/pkg/saga"
	"github.com/sagaflow/sagaflow/pkg/version"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	repo    saga.Repository
	started time.Time
}

// NewHealthHandler creates a health handler over the saga repository.
func NewHealthHandler(repo saga.Repository) *HealthHandler {
	return &HealthHandler{repo: repo, started: time.Now()}
}

// Health handles GET /health (liveness).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /ready (readiness). The repository must answer a
// probe read within the deadline.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := h.repo.ExistsByOrderNo(ctx, "readiness-probe"); err != nil {
		response.JSON(w, http.StatusServiceUnavailable, map[string]any{
			"ready": false,
			"error": err.Error(),
		})
		return
	}
	response.JSON(w, http.StatusOK, map[string]bool{"ready": true})
}

// Status handles GET /status with build and uptime details.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	info := version.Info()
	response.JSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"version":        info["version"],
		"git_commit":     info["git_commit"],
		"build_time":     info["build_time"],
		"go_version":     info["go_version"],
	})
}
