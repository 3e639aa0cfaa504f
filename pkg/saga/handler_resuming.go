package saga

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sagaflow/sagaflow/pkg/logger"
)

// ResumingHandler owns RESUMING, RESUMING_REVERTING and the two
// RECOVERY_* states. Resumed sagas query the in-flight step first and
// only re-execute it when the outcome is unknown, relying on the step
// id as idempotency key to make the retry safe.
type ResumingHandler struct {
	repo     Repository
	registry *Registry
	log      logger.Logger
	metrics  MetricsRecorder
}

func NewResumingHandler(repo Repository, registry *Registry, log logger.Logger, metrics MetricsRecorder) *ResumingHandler {
	if log == nil {
		log = logger.Global()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &ResumingHandler{repo: repo, registry: registry, log: log, metrics: metrics}
}

func (h *ResumingHandler) States() []Status {
	return []Status{
		StatusResuming,
		StatusResumingReverting,
		StatusRecoveryProcessing,
		StatusRecoveryReverting,
	}
}

func (h *ResumingHandler) Process(ctx context.Context, sc *SagaContext) *SagaContext {
	step := sc.CurrentStep()
	if step == nil {
		return h.noCurrentStep(ctx, sc)
	}

	queryCtx, span := tracer().Start(ctx, spanStepQuery, trace.WithAttributes(
		attribute.Int64("saga.order_id", sc.OrderID),
		attribute.String("saga.step_id", step.StepID()),
	))
	q := step.Query(queryCtx)
	span.End()

	h.log.InfoContext(ctx, "resumed saga queried in-flight step",
		"order_id", sc.OrderID,
		"step_id", step.StepID(),
		"status", string(sc.Status),
		"result", string(q.Status),
	)

	switch {
	case q.ShouldContinue() || q.Status == StepCompensated:
		persistSteps(ctx, h.log, h.repo, sc, step.ToLog())
		return h.continueProcessing(ctx, sc)

	case q.Status == StepPending:
		return h.park(ctx, sc, step)

	case q.Status == StepUnknown:
		return h.retry(ctx, sc, step)

	case q.IsFailure():
		sc.LastResult = &q
		persistSteps(ctx, h.log, h.repo, sc, step.ToLog())
		return h.stepFailed(ctx, sc)

	default:
		res := Failed(CodeInternalError, "unexpected query result "+string(q.Status))
		sc.LastResult = &res
		sc.forceStatus(StatusSystemError)
		persistStatus(ctx, h.log, h.repo, sc)
		return h.registry.Dispatch(ctx, sc)
	}
}

// retry re-executes a step whose outcome could not be determined.
func (h *ResumingHandler) retry(ctx context.Context, sc *SagaContext, step Step) *SagaContext {
	stepCtx, span := tracer().Start(ctx, spanStepExecute, trace.WithAttributes(
		attribute.Int64("saga.order_id", sc.OrderID),
		attribute.String("saga.step_id", step.StepID()),
	))
	res := step.Execute(stepCtx)
	span.End()
	persistSteps(ctx, h.log, h.repo, sc, step.ToLog())

	switch {
	case res.ShouldContinue() || res.Status == StepCompensated:
		return h.continueProcessing(ctx, sc)
	case res.ShouldWait():
		return h.park(ctx, sc, step)
	default:
		sc.LastResult = &res
		return h.stepFailed(ctx, sc)
	}
}

// continueProcessing hands the saga back to the forward or reverting
// flow after the in-flight step settled successfully.
func (h *ResumingHandler) continueProcessing(ctx context.Context, sc *SagaContext) *SagaContext {
	if sc.Status.IsReverting() {
		if !sc.HasMoreCompensationSteps() {
			transition(ctx, h.log, sc, StatusReverted)
			persistStatus(ctx, h.log, h.repo, sc)
			return h.registry.Dispatch(ctx, sc)
		}
		transition(ctx, h.log, sc, StatusReverting)
		persistStatus(ctx, h.log, h.repo, sc)
		return h.registry.Dispatch(ctx, sc)
	}

	if sc.IsLastStep() {
		transition(ctx, h.log, sc, StatusSuccess)
		persistStatus(ctx, h.log, h.repo, sc)
		return h.registry.Dispatch(ctx, sc)
	}
	transition(ctx, h.log, sc, StatusProcessing)
	persistStatus(ctx, h.log, h.repo, sc)
	return h.registry.Dispatch(ctx, sc)
}

func (h *ResumingHandler) park(ctx context.Context, sc *SagaContext, step Step) *SagaContext {
	next := StatusPending
	if sc.Status.IsReverting() {
		next = StatusRevertingPending
	}
	if !transition(ctx, h.log, sc, next) {
		persistStatus(ctx, h.log, h.repo, sc)
		return h.registry.Dispatch(ctx, sc)
	}
	if !persistStatus(ctx, h.log, h.repo, sc) {
		return h.registry.Dispatch(ctx, sc)
	}
	h.log.InfoContext(ctx, "resumed saga still pending",
		"order_id", sc.OrderID,
		"step_id", step.StepID(),
	)
	return sc
}

func (h *ResumingHandler) stepFailed(ctx context.Context, sc *SagaContext) *SagaContext {
	if sc.Status.IsReverting() {
		transition(ctx, h.log, sc, StatusRevertFailed)
		persistStatus(ctx, h.log, h.repo, sc)
		return h.registry.Dispatch(ctx, sc)
	}
	next := sc.EvaluateFailedStep()
	transition(ctx, h.log, sc, next)
	persistStatus(ctx, h.log, h.repo, sc)
	return h.registry.Dispatch(ctx, sc)
}

// noCurrentStep settles a resumed saga that has no step under its
// cursor, which happens when the process died between persisting a
// status and starting the step.
func (h *ResumingHandler) noCurrentStep(ctx context.Context, sc *SagaContext) *SagaContext {
	if sc.Status.IsReverting() {
		transition(ctx, h.log, sc, StatusReverting)
		persistStatus(ctx, h.log, h.repo, sc)
		return h.registry.Dispatch(ctx, sc)
	}
	if sc.CurrentStepIndex() < 0 {
		transition(ctx, h.log, sc, StatusProcessing)
		persistStatus(ctx, h.log, h.repo, sc)
		return h.registry.Dispatch(ctx, sc)
	}
	if sc.IsLastStep() {
		transition(ctx, h.log, sc, StatusSuccess)
		persistStatus(ctx, h.log, h.repo, sc)
		return h.registry.Dispatch(ctx, sc)
	}
	h.log.WarnContext(ctx, "resumed saga has no attributable step",
		"order_id", sc.OrderID,
		"cursor", sc.CurrentStepIndex(),
	)
	transition(ctx, h.log, sc, StatusManualReview)
	persistStatus(ctx, h.log, h.repo, sc)
	return h.registry.Dispatch(ctx, sc)
}
