// Package metrics provides Prometheus instrumentation for sagaflow.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sagaflow/sagaflow/pkg/logger"
)

// Manager owns the Prometheus registry and all sagaflow metrics. A
// disabled manager is a cheap no-op, so callers never branch on the
// metrics setting.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	sagaStarted  prometheus.Counter
	sagaFinished *prometheus.CounterVec
	sagaDuration *prometheus.HistogramVec
	sagaActive   prometheus.Gauge

	stepExecutions *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec

	compensations *prometheus.CounterVec
	recoveries    prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Port    int
	Path    string

	SagaDurationBuckets []float64
	StepDurationBuckets []float64
	HTTPDurationBuckets []float64
}

// DefaultConfig returns the default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		Port:                9091,
		Path:                "/metrics",
		SagaDurationBuckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		StepDurationBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		HTTPDurationBuckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}
}

// NewManager creates a metrics manager with its own registry.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{enabled: false}
	}
	if len(cfg.SagaDurationBuckets) == 0 {
		cfg.SagaDurationBuckets = DefaultConfig().SagaDurationBuckets
	}
	if len(cfg.StepDurationBuckets) == 0 {
		cfg.StepDurationBuckets = DefaultConfig().StepDurationBuckets
	}
	if len(cfg.HTTPDurationBuckets) == 0 {
		cfg.HTTPDurationBuckets = DefaultConfig().HTTPDurationBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Manager{registry: registry, enabled: true}

	m.sagaStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "saga_started_total",
		Help: "Total number of sagas started",
	})
	m.sagaFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_finished_total",
		Help: "Total number of sagas reaching a terminal status",
	}, []string{"status"})
	m.sagaDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "saga_duration_seconds",
		Help:    "Saga wall-clock duration in seconds by terminal status",
		Buckets: cfg.SagaDurationBuckets,
	}, []string{"status"})
	m.sagaActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "saga_active_count",
		Help: "Current number of sagas being driven by this process",
	})
	m.stepExecutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_step_executions_total",
		Help: "Total number of step executions by action and result",
	}, []string{"action", "result"})
	m.stepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "saga_step_duration_seconds",
		Help:    "Step execution duration in seconds by action",
		Buckets: cfg.StepDurationBuckets,
	}, []string{"action"})
	m.compensations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_compensations_total",
		Help: "Total number of compensation step executions by action and outcome",
	}, []string{"action", "outcome"})
	m.recoveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "saga_recoveries_total",
		Help: "Total number of sagas re-entered by the recovery sweep",
	})
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds by method and route",
		Buckets: cfg.HTTPDurationBuckets,
	}, []string{"method", "route"})

	registry.MustRegister(
		m.sagaStarted,
		m.sagaFinished,
		m.sagaDuration,
		m.sagaActive,
		m.stepExecutions,
		m.stepDuration,
		m.compensations,
		m.recoveries,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Enabled reports whether metrics collection is on.
func (m *Manager) Enabled() bool { return m.enabled }

// Handler returns the scrape endpoint handler.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves the scrape endpoint on its own port until the
// context is cancelled.
func (m *Manager) StartServer(ctx context.Context, port int, path string, log logger.Logger) error {
	if !m.enabled {
		return nil
	}
	if log == nil {
		log = logger.Global()
	}
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("metrics server listening", "addr", server.Addr, "path", path)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// RecordHTTPRequest records one served HTTP request.
func (m *Manager) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
