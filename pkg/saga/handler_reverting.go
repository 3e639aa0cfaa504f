package saga

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sagaflow/sagaflow/pkg/logger"
)

// CompensationStepFactory builds the compensation step for a succeeded
// forward step. A nil return skips the step.
type CompensationStepFactory func(forward Step) Step

// RevertingHandler owns REVERTING and REVERTING_PENDING. It builds the
// compensation array from the succeeded forward steps, newest first,
// and runs it to completion, parking on asynchronous outcomes.
type RevertingHandler struct {
	repo        Repository
	registry    *Registry
	compFactory CompensationStepFactory
	log         logger.Logger
	metrics     MetricsRecorder
}

func NewRevertingHandler(repo Repository, registry *Registry, factory CompensationStepFactory, log logger.Logger, metrics MetricsRecorder) *RevertingHandler {
	if log == nil {
		log = logger.Global()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &RevertingHandler{repo: repo, registry: registry, compFactory: factory, log: log, metrics: metrics}
}

func (h *RevertingHandler) States() []Status {
	return []Status{StatusReverting, StatusRevertingPending}
}

func (h *RevertingHandler) Process(ctx context.Context, sc *SagaContext) *SagaContext {
	if sc.Status != StatusReverting {
		transition(ctx, h.log, sc, StatusReverting)
		if !persistStatus(ctx, h.log, h.repo, sc) {
			return h.registry.Dispatch(ctx, sc)
		}
	}

	if len(sc.CompensationSteps()) == 0 {
		n := sc.BuildCompensationSteps(h.compFactory)
		h.log.InfoContext(ctx, "compensation steps built",
			"order_id", sc.OrderID,
			"count", n,
		)
		if n == 0 {
			return h.complete(ctx, sc)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return h.park(ctx, sc)
		}
		step, ok := sc.NextCompensationStep()
		if !ok {
			return h.complete(ctx, sc)
		}

		started := time.Now()
		stepCtx, span := tracer().Start(ctx, spanCompensate, trace.WithAttributes(
			attribute.Int64("saga.order_id", sc.OrderID),
			attribute.String("saga.step_id", step.StepID()),
			attribute.String("saga.action", string(step.Action())),
		))
		res := step.Execute(stepCtx)
		span.End()
		h.metrics.RecordStepExecution(step.Action(), res.Status, time.Since(started))
		h.metrics.RecordCompensation(step.Action(), res.IsSuccess())
		persistSteps(ctx, h.log, h.repo, sc, step.ToLog())

		switch {
		case res.IsSuccess():
			h.log.InfoContext(ctx, "compensation step succeeded",
				"order_id", sc.OrderID,
				"step_id", step.StepID(),
			)

		case res.ShouldWait():
			sc.LastResult = &res
			return h.park(ctx, sc)

		default:
			sc.LastResult = &res
			h.log.ErrorContext(ctx, "compensation step failed",
				"order_id", sc.OrderID,
				"step_id", step.StepID(),
				"error_code", int(res.ErrorCode),
				"error", res.ErrorMessage,
			)
			transition(ctx, h.log, sc, StatusRevertFailed)
			persistStatus(ctx, h.log, h.repo, sc)
			return h.registry.Dispatch(ctx, sc)
		}
	}
}

func (h *RevertingHandler) park(ctx context.Context, sc *SagaContext) *SagaContext {
	if !transition(ctx, h.log, sc, StatusRevertingPending) {
		persistStatus(ctx, h.log, h.repo, sc)
		return h.registry.Dispatch(ctx, sc)
	}
	if !persistStatus(ctx, h.log, h.repo, sc) {
		return h.registry.Dispatch(ctx, sc)
	}
	h.log.InfoContext(ctx, "saga compensation parked",
		"order_id", sc.OrderID,
	)
	return sc
}

func (h *RevertingHandler) complete(ctx context.Context, sc *SagaContext) *SagaContext {
	transition(ctx, h.log, sc, StatusReverted)
	persistStatus(ctx, h.log, h.repo, sc)
	return h.registry.Dispatch(ctx, sc)
}
