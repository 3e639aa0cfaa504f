// Package api provides the HTTP API server.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sagaflow/sagaflow/config"
	"github.com/sagaflow/sagaflow/pkg/api/handlers"
	"github.com/sagaflow/sagaflow/pkg/api/middleware"
	"github.com/sagaflow/sagaflow/pkg/logger"
)

// Handlers bundles the route handlers for the router.
type Handlers struct {
	Saga      *handlers.SagaHandler
	Health    *handlers.HealthHandler
	WebSocket *handlers.WebSocketHandler

	// Metrics, when set, records every served request.
	Metrics middleware.MetricsRecorder
}

// NewRouter builds the chi router with the middleware stack and all
// routes registered.
func NewRouter(cfg *config.Config, log logger.Logger, h *Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	if h.Metrics != nil {
		r.Use(middleware.Metrics(h.Metrics))
	}
	if cfg.Server.RateLimit.Enabled {
		r.Use(middleware.RateLimit(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst))
	}

	RegisterRoutes(r, h)
	return r
}

// RegisterRoutes attaches all endpoints to the router.
func RegisterRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		if h.Saga != nil {
			r.Route("/sagas", func(r chi.Router) {
				r.Post("/", h.Saga.Start)
				r.Get("/", h.Saga.List)
				r.Get("/by-order/{orderNo}", h.Saga.GetByOrderNo)
				r.Route("/{orderID}", func(r chi.Router) {
					r.Get("/", h.Saga.Get)
					r.Get("/steps", h.Saga.Steps)
					r.Post("/callback", h.Saga.Callback)
					r.Post("/resume", h.Saga.Resume)
				})
			})
		}
	})

	if h.Health != nil {
		r.Get("/health", h.Health.Health)
		r.Get("/ready", h.Health.Ready)
		r.Get("/status", h.Health.Status)
	}

	if h.WebSocket != nil {
		r.Method(http.MethodGet, "/ws", h.WebSocket)
	}
}
