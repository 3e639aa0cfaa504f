package saga

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sagaflow/sagaflow/pkg/logger"
)

// OrderItem is one line of the order a saga fulfils.
type OrderItem struct {
	SKU      string `json:"sku" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0"`
	Price    int64  `json:"price" validate:"gte=0"`
}

// PaymentInfo carries the charge instruction.
type PaymentInfo struct {
	Method string `json:"method" validate:"required"`
	Amount int64  `json:"amount" validate:"gt=0"`
}

// ShippingInfo carries the delivery instruction.
type ShippingInfo struct {
	Address string `json:"address" validate:"required"`
	Carrier string `json:"carrier,omitempty"`
}

// StartCommand requests a new saga.
type StartCommand struct {
	OrderNo    string            `json:"order_no" validate:"required"`
	CustomerID int64             `json:"customer_id" validate:"gt=0"`
	Items      []OrderItem       `json:"items" validate:"min=1,dive"`
	Payment    PaymentInfo       `json:"payment" validate:"required"`
	Shipping   ShippingInfo      `json:"shipping" validate:"required"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ResumeCommand re-enters a parked or stuck saga. When StepID and
// Result are set, the callback outcome is applied to the step before
// the saga resumes. IsRecovery marks entries driven by the recovery
// sweep rather than a callback.
type ResumeCommand struct {
	OrderID    int64
	StepID     string
	Result     *StepResult
	IsRecovery bool
	Source     string
}

// ContextFactory turns a start command into a saga context with its
// forward steps attached.
type ContextFactory interface {
	Create(cmd StartCommand) (*SagaContext, error)
}

// StepRebuilder reattaches executable steps to a context reloaded from
// a store that persists only step logs.
type StepRebuilder interface {
	Rebuild(sc *SagaContext, logs []StepLog) ([]Step, error)
}

// Observer is notified after every engine entry with the resulting
// context. Used to fan out status events.
type Observer interface {
	SagaUpdated(sc *SagaContext)
}

// Engine is the saga entry point. Every entry acquires the per-saga
// lock, so at most one worker drives a given saga at a time; entries
// never return errors about the saga's own outcome, only about its
// existence.
type Engine struct {
	repo      Repository
	registry  *Registry
	factory   ContextFactory
	rebuilder StepRebuilder
	observer  Observer
	log       logger.Logger
	metrics   MetricsRecorder
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithRebuilder installs the step rebuilder used after reloads.
func WithRebuilder(r StepRebuilder) EngineOption {
	return func(e *Engine) { e.rebuilder = r }
}

// WithObserver installs a status event observer.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithEngineLogger overrides the engine logger.
func WithEngineLogger(l logger.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithEngineMetrics installs the metrics recorder.
func WithEngineMetrics(m MetricsRecorder) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// NewEngine wires the engine. The registry must already hold a handler
// for every reachable status.
func NewEngine(repo Repository, registry *Registry, factory ContextFactory, opts ...EngineOption) *Engine {
	e := &Engine{
		repo:     repo,
		registry: registry,
		factory:  factory,
		log:      logger.Global(),
		metrics:  NopMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start creates and drives a new saga until it parks or terminates.
// The returned context is never nil; every failure mode is expressed
// as its status.
func (e *Engine) Start(ctx context.Context, cmd StartCommand) *SagaContext {
	ctx, span := tracer().Start(ctx, spanSagaStart, trace.WithAttributes(
		attribute.String("saga.order_no", cmd.OrderNo),
	))
	defer span.End()

	sc, err := e.factory.Create(cmd)
	if err != nil {
		e.log.WarnContext(ctx, "saga creation rejected",
			"order_no", cmd.OrderNo,
			"error", err,
		)
		sc = NewSagaContext(0, cmd.OrderNo, cmd.CustomerID)
		res := Rejected(CodeInvalidInput, err.Error())
		sc.LastResult = &res
		sc.forceStatus(StatusFailed)
		return sc
	}
	span.SetAttributes(attribute.Int64("saga.order_id", sc.OrderID))

	if !e.repo.TryLock(ctx, sc.OrderID) {
		res := Failed(CodeConcurrentUpdate, fmt.Sprintf("saga %d is locked", sc.OrderID))
		sc.LastResult = &res
		sc.forceStatus(StatusSystemError)
		return sc
	}
	defer e.repo.ReleaseLock(ctx, sc.OrderID)

	if err := e.repo.Create(ctx, sc); err != nil {
		if errors.Is(err, ErrSagaExists) {
			res := Rejected(CodeDuplicateRequest, fmt.Sprintf("order %s already has a saga", sc.OrderNo))
			sc.LastResult = &res
			sc.forceStatus(StatusFailed)
			return sc
		}
		res := Failed(CodePersistenceError, err.Error())
		sc.LastResult = &res
		sc.forceStatus(StatusSystemError)
		return sc
	}

	e.metrics.RecordSagaStarted()
	e.metrics.IncActiveSagas()
	defer e.metrics.DecActiveSagas()

	out := e.registry.Dispatch(ctx, sc)
	e.notify(out)
	return out
}

// Resume re-enters an existing saga after a callback or through the
// recovery sweep. A saga already owned by another worker is returned
// as-is without driving it; a terminal saga is a no-op.
func (e *Engine) Resume(ctx context.Context, cmd ResumeCommand) (*SagaContext, error) {
	ctx, span := tracer().Start(ctx, spanSagaResume, trace.WithAttributes(
		attribute.Int64("saga.order_id", cmd.OrderID),
		attribute.Bool("saga.recovery", cmd.IsRecovery),
	))
	defer span.End()

	if !e.repo.TryLock(ctx, cmd.OrderID) {
		e.log.InfoContext(ctx, "saga busy, resume skipped",
			"order_id", cmd.OrderID,
			"source", cmd.Source,
		)
		return e.repo.FindByID(ctx, cmd.OrderID)
	}
	defer e.repo.ReleaseLock(ctx, cmd.OrderID)

	sc, err := e.repo.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if sc.IsTerminal() {
		e.log.InfoContext(ctx, "resume on terminal saga ignored",
			"order_id", sc.OrderID,
			"status", string(sc.Status),
		)
		return sc, nil
	}

	if len(sc.Steps()) == 0 && e.rebuilder != nil {
		if err := e.rebuildSteps(ctx, sc); err != nil {
			res := Failed(CodeInternalError, err.Error())
			sc.LastResult = &res
			sc.forceStatus(StatusSystemError)
			persistStatus(ctx, e.log, e.repo, sc)
			out := e.registry.Dispatch(ctx, sc)
			e.notify(out)
			return out, nil
		}
	}

	if cmd.StepID != "" && cmd.Result != nil {
		if step := sc.FindStep(cmd.StepID); step != nil {
			if !step.UpdateStatus(*cmd.Result) {
				e.log.WarnContext(ctx, "callback ignored, step already final",
					"order_id", sc.OrderID,
					"step_id", cmd.StepID,
				)
			}
		} else {
			e.log.WarnContext(ctx, "callback for unknown step",
				"order_id", sc.OrderID,
				"step_id", cmd.StepID,
			)
		}
	}

	next := sc.Status.ResumeStatus()
	if cmd.IsRecovery {
		next = sc.Status.RecoveryStatus()
	}
	if next != sc.Status {
		transition(ctx, e.log, sc, next)
		if !persistStatus(ctx, e.log, e.repo, sc) {
			out := e.registry.Dispatch(ctx, sc)
			e.notify(out)
			return out, nil
		}
	}

	out := e.registry.Dispatch(ctx, sc)
	e.notify(out)
	return out, nil
}

// Query returns the saga's current context without driving it.
func (e *Engine) Query(ctx context.Context, orderID int64) (*SagaContext, error) {
	return e.repo.FindByID(ctx, orderID)
}

// QueryByOrderNo returns the saga for an order number.
func (e *Engine) QueryByOrderNo(ctx context.Context, orderNo string) (*SagaContext, error) {
	return e.repo.FindByOrderNo(ctx, orderNo)
}

// List returns a page of sagas plus the total match count.
func (e *Engine) List(ctx context.Context, filter ListFilter) ([]*SagaContext, int, error) {
	return e.repo.List(ctx, filter)
}

// Exists reports whether the order number already has a saga.
func (e *Engine) Exists(ctx context.Context, orderNo string) (bool, error) {
	return e.repo.ExistsByOrderNo(ctx, orderNo)
}

// StepLogs returns the persisted step trail for a saga.
func (e *Engine) StepLogs(ctx context.Context, orderID int64) ([]StepLog, error) {
	return e.repo.LoadSteps(ctx, orderID)
}

func (e *Engine) rebuildSteps(ctx context.Context, sc *SagaContext) error {
	logs, err := e.repo.LoadSteps(ctx, sc.OrderID)
	if err != nil {
		return fmt.Errorf("load step logs: %w", err)
	}
	steps, err := e.rebuilder.Rebuild(sc, logs)
	if err != nil {
		return fmt.Errorf("rebuild steps: %w", err)
	}
	sc.SetSteps(steps)
	e.log.InfoContext(ctx, "saga steps rebuilt from logs",
		"order_id", sc.OrderID,
		"steps", len(steps),
		"logs", len(logs),
	)
	return nil
}

func (e *Engine) notify(sc *SagaContext) {
	if e.observer != nil && sc != nil {
		e.observer.SagaUpdated(sc)
	}
}
