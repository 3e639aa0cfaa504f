package saga

import (
	"context"
	"fmt"
	"sort"

	"github.com/sagaflow/sagaflow/pkg/logger"
)

// FailureType classifies why a before-hook rejected a saga.
type FailureType string

const (
	FailureNone          FailureType = "NONE"
	FailureDuplicate     FailureType = "DUPLICATE"
	FailureValidation    FailureType = "VALIDATION"
	FailureAuthorization FailureType = "AUTHORIZATION"
	FailureSystemError   FailureType = "SYSTEM_ERROR"
	FailureOther         FailureType = "OTHER"
)

// HookResult is the outcome of a before-hook. A failed result aborts
// the saga before any step runs.
type HookResult struct {
	Success      bool
	Failure      FailureType
	ErrorCode    ErrorCode
	ErrorMessage string
}

// HookOK is the passing hook result.
func HookOK() HookResult {
	return HookResult{Success: true, Failure: FailureNone}
}

// HookDuplicate rejects a saga whose order number was already seen.
func HookDuplicate(orderNo string) HookResult {
	return HookResult{
		Success:      false,
		Failure:      FailureDuplicate,
		ErrorCode:    CodeDuplicateRequest,
		ErrorMessage: fmt.Sprintf("order %s already has a saga", orderNo),
	}
}

// HookValidationFailed rejects a saga with malformed input.
func HookValidationFailed(message string) HookResult {
	return HookResult{
		Success:      false,
		Failure:      FailureValidation,
		ErrorCode:    CodeInvalidInput,
		ErrorMessage: message,
	}
}

// HookUnauthorized rejects a saga the caller may not start.
func HookUnauthorized(message string) HookResult {
	return HookResult{
		Success:      false,
		Failure:      FailureAuthorization,
		ErrorCode:    CodeUnauthorized,
		ErrorMessage: message,
	}
}

// HookSystemError rejects a saga because a hook itself failed.
func HookSystemError(message string) HookResult {
	return HookResult{
		Success:      false,
		Failure:      FailureSystemError,
		ErrorCode:    CodeInternalError,
		ErrorMessage: message,
	}
}

// ToStepResult projects a failed hook result onto the step result
// recorded as the saga's last result. Caller-caused rejections map to
// REJECTED, hook breakage to FAILED.
func (r HookResult) ToStepResult() StepResult {
	if r.Success {
		return Succeeded("")
	}
	switch r.Failure {
	case FailureDuplicate, FailureValidation, FailureAuthorization:
		return Rejected(r.ErrorCode, r.ErrorMessage)
	default:
		return Failed(r.ErrorCode, r.ErrorMessage)
	}
}

// Hook observes saga creation and completion. Before runs ahead of the
// first step and may veto the saga; After runs once a terminal status
// is reached and is best effort.
type Hook interface {
	Name() string

	// Priority orders hook execution; lower runs first.
	Priority() int

	Before(ctx context.Context, sc *SagaContext) HookResult
	After(ctx context.Context, sc *SagaContext)
}

// HookChain runs registered hooks in priority order. Panics inside a
// hook never escape: a panicking before-hook vetoes the saga, a
// panicking after-hook is logged and skipped.
type HookChain struct {
	hooks []Hook
	log   logger.Logger
}

// NewHookChain builds an empty chain.
func NewHookChain(log logger.Logger) *HookChain {
	if log == nil {
		log = logger.Global()
	}
	return &HookChain{log: log}
}

// Register adds a hook, keeping the chain sorted by priority.
func (c *HookChain) Register(h Hook) {
	c.hooks = append(c.hooks, h)
	sort.SliceStable(c.hooks, func(i, j int) bool {
		return c.hooks[i].Priority() < c.hooks[j].Priority()
	})
}

// Hooks returns the registered hooks in execution order.
func (c *HookChain) Hooks() []Hook {
	out := make([]Hook, len(c.hooks))
	copy(out, c.hooks)
	return out
}

// RunBefore executes before-hooks in order, stopping at the first
// failure.
func (c *HookChain) RunBefore(ctx context.Context, sc *SagaContext) HookResult {
	for _, h := range c.hooks {
		res := c.runOneBefore(ctx, h, sc)
		if !res.Success {
			c.log.WarnContext(ctx, "before-hook rejected saga",
				"hook", h.Name(),
				"order_id", sc.OrderID,
				"failure", string(res.Failure),
				"error", res.ErrorMessage,
			)
			return res
		}
	}
	return HookOK()
}

func (c *HookChain) runOneBefore(ctx context.Context, h Hook, sc *SagaContext) (res HookResult) {
	defer func() {
		if r := recover(); r != nil {
			res = HookSystemError(fmt.Sprintf("hook %s panicked: %v", h.Name(), r))
		}
	}()
	return h.Before(ctx, sc)
}

// RunAfter executes every after-hook regardless of individual failures.
func (c *HookChain) RunAfter(ctx context.Context, sc *SagaContext) {
	for _, h := range c.hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.ErrorContext(ctx, "after-hook panicked",
						"hook", h.Name(),
						"order_id", sc.OrderID,
						"panic", fmt.Sprint(r),
					)
				}
			}()
			h.After(ctx, sc)
		}()
	}
}
