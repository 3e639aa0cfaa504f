package saga

import (
	"context"

	"github.com/sagaflow/sagaflow/pkg/logger"
)

// InitHandler owns INIT. It runs the before-hook chain and either
// rejects the saga into FAILED or advances it into PROCESSING.
type InitHandler struct {
	repo     Repository
	registry *Registry
	hooks    *HookChain
	log      logger.Logger
}

func NewInitHandler(repo Repository, registry *Registry, hooks *HookChain, log logger.Logger) *InitHandler {
	if log == nil {
		log = logger.Global()
	}
	return &InitHandler{repo: repo, registry: registry, hooks: hooks, log: log}
}

func (h *InitHandler) States() []Status { return []Status{StatusInit} }

func (h *InitHandler) Process(ctx context.Context, sc *SagaContext) *SagaContext {
	h.log.InfoContext(ctx, "saga initializing",
		"order_id", sc.OrderID,
		"order_no", sc.OrderNo,
		"steps", len(sc.Steps()),
	)

	if h.hooks != nil {
		hr := h.hooks.RunBefore(ctx, sc)
		if !hr.Success {
			res := hr.ToStepResult()
			sc.LastResult = &res
			transition(ctx, h.log, sc, statusForHookFailure(hr.Failure))
			persistStatus(ctx, h.log, h.repo, sc)
			return h.registry.Dispatch(ctx, sc)
		}
	}

	transition(ctx, h.log, sc, StatusProcessing)
	persistStatus(ctx, h.log, h.repo, sc)
	return h.registry.Dispatch(ctx, sc)
}

// statusForHookFailure classifies a before-hook rejection. Failures
// caused by the request itself are FAILED; a broken or panicking hook
// is the engine's fault and lands in SYSTEM_ERROR.
func statusForHookFailure(f FailureType) Status {
	switch f {
	case FailureDuplicate, FailureValidation, FailureAuthorization:
		return StatusFailed
	default:
		return StatusSystemError
	}
}
