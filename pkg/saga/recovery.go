package saga

import (
	"context"
	"sync"
	"time"

	"github.com/sagaflow/sagaflow/pkg/logger"
)

const (
	defaultSweepInterval  = 30 * time.Second
	defaultSweepStaleness = time.Minute
	defaultSweepLimit     = 100
)

// Sweeper periodically scans for sagas stuck in non-terminal statuses
// and re-enters them through the engine as recovery resumes. The
// staleness window keeps it off sagas another worker is actively
// driving; the per-saga lock covers the remaining race.
type Sweeper struct {
	engine    *Engine
	repo      Repository
	log       logger.Logger
	metrics   MetricsRecorder
	interval  time.Duration
	staleness time.Duration
	limit     int

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// SweeperOption customizes a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets how often the sweep runs.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSweepStaleness sets how long a saga must be untouched before the
// sweep picks it up.
func WithSweepStaleness(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.staleness = d
		}
	}
}

// WithSweepLimit caps the sagas recovered per pass.
func WithSweepLimit(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithSweeperLogger overrides the sweeper logger.
func WithSweeperLogger(l logger.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSweeperMetrics installs the metrics recorder.
func WithSweeperMetrics(m MetricsRecorder) SweeperOption {
	return func(s *Sweeper) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewSweeper builds a recovery sweeper over the engine and repository.
func NewSweeper(engine *Engine, repo Repository, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		engine:    engine,
		repo:      repo,
		log:       logger.Global(),
		metrics:   NopMetrics(),
		interval:  defaultSweepInterval,
		staleness: defaultSweepStaleness,
		limit:     defaultSweepLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the periodic sweep. Safe to call once; subsequent
// calls are no-ops until Stop.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(ctx)
	s.log.Info("recovery sweeper started",
		"interval", s.interval.String(),
		"staleness", s.staleness.String(),
		"limit", s.limit,
	)
}

// Stop halts the sweep and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	s.log.Info("recovery sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.log.ErrorContext(ctx, "recovery sweep failed", "error", err)
			}
		}
	}
}

// RunOnce executes a single sweep pass and returns how many sagas were
// re-entered.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	ctx, span := tracer().Start(ctx, spanRecoverySweep)
	defer span.End()

	stuck, err := s.repo.FindStuckSagas(ctx, RecoverableStatuses(), s.staleness, s.limit)
	if err != nil {
		return 0, err
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	resumed := 0
	for _, sc := range stuck {
		select {
		case <-ctx.Done():
			return resumed, ctx.Err()
		default:
		}

		s.log.InfoContext(ctx, "recovering stuck saga",
			"order_id", sc.OrderID,
			"status", string(sc.Status),
			"stale_for", time.Since(sc.UpdatedAt).String(),
		)
		out, err := s.engine.Resume(ctx, ResumeCommand{
			OrderID:    sc.OrderID,
			IsRecovery: true,
			Source:     "recovery-sweep",
		})
		if err != nil {
			s.log.WarnContext(ctx, "stuck saga resume failed",
				"order_id", sc.OrderID,
				"error", err,
			)
			continue
		}
		resumed++
		s.log.InfoContext(ctx, "stuck saga recovered",
			"order_id", sc.OrderID,
			"status", string(out.Status),
		)
	}
	s.metrics.RecordRecovery(resumed)
	return resumed, nil
}
