package saga

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sagaflow/sagaflow/pkg/logger"
)

// ProcessingHandler owns PROCESSING and PENDING. It advances the
// forward cursor one step per pass and routes the outcome: continue,
// park, or hand the failure to the compensation decision.
type ProcessingHandler struct {
	repo     Repository
	registry *Registry
	log      logger.Logger
	metrics  MetricsRecorder
}

func NewProcessingHandler(repo Repository, registry *Registry, log logger.Logger, metrics MetricsRecorder) *ProcessingHandler {
	if log == nil {
		log = logger.Global()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &ProcessingHandler{repo: repo, registry: registry, log: log, metrics: metrics}
}

func (h *ProcessingHandler) States() []Status {
	return []Status{StatusProcessing, StatusPending}
}

func (h *ProcessingHandler) Process(ctx context.Context, sc *SagaContext) *SagaContext {
	step, ok := sc.NextStep()
	if !ok {
		if sc.IsLastStep() {
			return h.complete(ctx, sc)
		}
		res := Failed(CodeInternalError, "no executable step at cursor")
		sc.LastResult = &res
		sc.forceStatus(StatusSystemError)
		persistStatus(ctx, h.log, h.repo, sc)
		return h.registry.Dispatch(ctx, sc)
	}

	started := time.Now()
	stepCtx, span := tracer().Start(ctx, spanStepExecute, trace.WithAttributes(
		attribute.Int64("saga.order_id", sc.OrderID),
		attribute.String("saga.step_id", step.StepID()),
		attribute.String("saga.action", string(step.Action())),
	))
	res := step.Execute(stepCtx)
	span.End()
	h.metrics.RecordStepExecution(step.Action(), res.Status, time.Since(started))

	h.log.InfoContext(ctx, "saga step executed",
		"order_id", sc.OrderID,
		"step_id", step.StepID(),
		"action", string(step.Action()),
		"result", string(res.Status),
	)

	switch {
	case res.Status == StepCompleted:
		// The effect was applied by an earlier attempt. Record the
		// step but yield instead of driving the next one; a callback
		// or the recovery sweep picks the saga back up.
		sc.LastResult = &res
		persistSteps(ctx, h.log, h.repo, sc, step.ToLog())
		persistStatus(ctx, h.log, h.repo, sc)
		h.log.InfoContext(ctx, "saga step already completed, yielding",
			"order_id", sc.OrderID,
			"step_id", step.StepID(),
		)
		return sc

	case res.ShouldContinue():
		sc.LastResult = &res
		persistSteps(ctx, h.log, h.repo, sc, step.ToLog())
		if sc.IsLastStep() {
			return h.complete(ctx, sc)
		}
		return h.registry.Dispatch(ctx, sc)

	case res.ShouldWait():
		return h.park(ctx, sc, step, res)

	case res.IsFailure():
		return h.fail(ctx, sc, step, res)

	default:
		h.log.ErrorContext(ctx, "forward step returned a compensation status",
			"order_id", sc.OrderID,
			"step_id", step.StepID(),
			"result", string(res.Status),
		)
		failed := Failed(CodeInternalError, "unexpected step result "+string(res.Status))
		sc.LastResult = &failed
		sc.forceStatus(StatusSystemError)
		persistStatus(ctx, h.log, h.repo, sc)
		return h.registry.Dispatch(ctx, sc)
	}
}

// park records the in-flight step and leaves the saga in PENDING for a
// callback or the recovery sweep.
func (h *ProcessingHandler) park(ctx context.Context, sc *SagaContext, step Step, res StepResult) *SagaContext {
	sc.LastResult = &res
	if !transition(ctx, h.log, sc, StatusPending) {
		persistStatus(ctx, h.log, h.repo, sc)
		return h.registry.Dispatch(ctx, sc)
	}
	persistSteps(ctx, h.log, h.repo, sc, step.ToLog())
	if !persistStatus(ctx, h.log, h.repo, sc) {
		return h.registry.Dispatch(ctx, sc)
	}
	h.log.InfoContext(ctx, "saga parked awaiting callback",
		"order_id", sc.OrderID,
		"step_id", step.StepID(),
	)
	return sc
}

func (h *ProcessingHandler) fail(ctx context.Context, sc *SagaContext, step Step, res StepResult) *SagaContext {
	sc.LastResult = &res
	persistSteps(ctx, h.log, h.repo, sc, step.ToLog())

	next := sc.EvaluateFailedStep()
	h.log.WarnContext(ctx, "saga step failed",
		"order_id", sc.OrderID,
		"step_id", step.StepID(),
		"error_code", int(res.ErrorCode),
		"error", res.ErrorMessage,
		"next_status", string(next),
	)
	transition(ctx, h.log, sc, next)
	persistStatus(ctx, h.log, h.repo, sc)
	return h.registry.Dispatch(ctx, sc)
}

func (h *ProcessingHandler) complete(ctx context.Context, sc *SagaContext) *SagaContext {
	transition(ctx, h.log, sc, StatusSuccess)
	persistStatus(ctx, h.log, h.repo, sc)
	return h.registry.Dispatch(ctx, sc)
}
