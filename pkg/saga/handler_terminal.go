package saga

import (
	"context"
	"time"

	"github.com/sagaflow/sagaflow/pkg/logger"
)

// TerminalHandler owns every terminal status. It runs the after-hook
// chain best effort and records the final outcome; the status itself
// was persisted by the handler that chose it.
type TerminalHandler struct {
	hooks   *HookChain
	log     logger.Logger
	metrics MetricsRecorder
}

func NewTerminalHandler(hooks *HookChain, log logger.Logger, metrics MetricsRecorder) *TerminalHandler {
	if log == nil {
		log = logger.Global()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &TerminalHandler{hooks: hooks, log: log, metrics: metrics}
}

func (h *TerminalHandler) States() []Status {
	return []Status{
		StatusSuccess,
		StatusFailed,
		StatusReverted,
		StatusRevertFailed,
		StatusManualReview,
		StatusTimeout,
		StatusSystemError,
	}
}

func (h *TerminalHandler) Process(ctx context.Context, sc *SagaContext) *SagaContext {
	duration := time.Since(sc.CreatedAt)
	h.metrics.RecordSagaFinished(sc.Status, duration)

	if h.hooks != nil {
		h.hooks.RunAfter(ctx, sc)
	}

	if sc.Status == StatusSuccess || sc.Status == StatusReverted {
		h.log.InfoContext(ctx, "saga reached terminal status",
			"order_id", sc.OrderID,
			"order_no", sc.OrderNo,
			"status", string(sc.Status),
			"duration", duration.String(),
		)
	} else {
		args := []any{
			"order_id", sc.OrderID,
			"order_no", sc.OrderNo,
			"status", string(sc.Status),
			"duration", duration.String(),
		}
		if sc.LastResult != nil {
			args = append(args,
				"error_code", int(sc.LastResult.ErrorCode),
				"error", sc.LastResult.ErrorMessage,
			)
		}
		h.log.WarnContext(ctx, "saga reached terminal status", args...)
	}
	return sc
}
