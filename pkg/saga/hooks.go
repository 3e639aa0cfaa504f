package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sagaflow/sagaflow/pkg/logger"
)

// Hook priorities. Cheap checks run first.
const (
	priorityValidation     = 10
	priorityDuplicateCheck = 20
	priorityNotification   = 100
	priorityAuditLog       = 110
)

// DuplicateCheckHook vetoes a saga whose order number already belongs
// to a different saga. The hook runs after the saga's own record is
// created, so a hit on its own order id is not a duplicate; the
// repository's unique constraint on order number remains the authority
// under races.
type DuplicateCheckHook struct {
	repo Repository
}

func NewDuplicateCheckHook(repo Repository) *DuplicateCheckHook {
	return &DuplicateCheckHook{repo: repo}
}

func (h *DuplicateCheckHook) Name() string  { return "duplicate-check" }
func (h *DuplicateCheckHook) Priority() int { return priorityDuplicateCheck }

func (h *DuplicateCheckHook) Before(ctx context.Context, sc *SagaContext) HookResult {
	existing, err := h.repo.FindByOrderNo(ctx, sc.OrderNo)
	if err != nil {
		if errors.Is(err, ErrSagaNotFound) {
			return HookOK()
		}
		return HookSystemError(fmt.Sprintf("duplicate check failed: %v", err))
	}
	if existing.OrderID != sc.OrderID {
		return HookDuplicate(sc.OrderNo)
	}
	return HookOK()
}

func (h *DuplicateCheckHook) After(ctx context.Context, sc *SagaContext) {}

// contextChecks are the structural requirements on a new saga.
type contextChecks struct {
	OrderID    int64  `validate:"gt=0"`
	OrderNo    string `validate:"required"`
	CustomerID int64  `validate:"gt=0"`
	StepCount  int    `validate:"gt=0"`
}

// ValidationHook vetoes structurally invalid sagas before any step runs.
type ValidationHook struct {
	validate *validator.Validate
}

func NewValidationHook() *ValidationHook {
	return &ValidationHook{validate: validator.New()}
}

func (h *ValidationHook) Name() string  { return "validation" }
func (h *ValidationHook) Priority() int { return priorityValidation }

func (h *ValidationHook) Before(ctx context.Context, sc *SagaContext) HookResult {
	checks := contextChecks{
		OrderID:    sc.OrderID,
		OrderNo:    sc.OrderNo,
		CustomerID: sc.CustomerID,
		StepCount:  len(sc.Steps()),
	}
	if err := h.validate.StructCtx(ctx, checks); err != nil {
		return HookValidationFailed(err.Error())
	}
	if sc.Timeout <= 0 {
		return HookValidationFailed("saga timeout must be positive")
	}
	return HookOK()
}

func (h *ValidationHook) After(ctx context.Context, sc *SagaContext) {}

// Notifier delivers a terminal-status notification to an external
// channel. Failures are the caller's to absorb.
type Notifier interface {
	NotifySagaFinished(ctx context.Context, sc *SagaContext) error
}

// NotificationHook reports terminal sagas through a Notifier, best
// effort.
type NotificationHook struct {
	notifier Notifier
	log      logger.Logger
}

func NewNotificationHook(n Notifier, log logger.Logger) *NotificationHook {
	if log == nil {
		log = logger.Global()
	}
	return &NotificationHook{notifier: n, log: log}
}

func (h *NotificationHook) Name() string  { return "notification" }
func (h *NotificationHook) Priority() int { return priorityNotification }

func (h *NotificationHook) Before(ctx context.Context, sc *SagaContext) HookResult {
	return HookOK()
}

func (h *NotificationHook) After(ctx context.Context, sc *SagaContext) {
	if h.notifier == nil {
		return
	}
	if err := h.notifier.NotifySagaFinished(ctx, sc); err != nil {
		h.log.WarnContext(ctx, "saga notification failed",
			"order_id", sc.OrderID,
			"status", string(sc.Status),
			"error", err,
		)
	}
}

// LogNotifier is a Notifier that writes to the structured log. Used
// when no external notification channel is configured.
type LogNotifier struct {
	log logger.Logger
}

func NewLogNotifier(log logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.Global()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) NotifySagaFinished(ctx context.Context, sc *SagaContext) error {
	n.log.InfoContext(ctx, "saga finished",
		"order_id", sc.OrderID,
		"order_no", sc.OrderNo,
		"status", string(sc.Status),
	)
	return nil
}

// AuditEntry records the outcome of a finished saga for offline review.
type AuditEntry struct {
	OrderID          int64       `json:"order_id"`
	OrderNo          string      `json:"order_no"`
	CustomerID       int64       `json:"customer_id"`
	Status           Status      `json:"status"`
	ProcessedStepIDs []string    `json:"processed_step_ids"`
	LastResult       *StepResult `json:"last_result,omitempty"`
	StartedAt        time.Time   `json:"started_at"`
	FinishedAt       time.Time   `json:"finished_at"`
}

// AuditSink receives audit entries.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditLogHook writes one audit entry per finished saga.
type AuditLogHook struct {
	sink AuditSink
}

func NewAuditLogHook(sink AuditSink) *AuditLogHook {
	return &AuditLogHook{sink: sink}
}

func (h *AuditLogHook) Name() string  { return "audit-log" }
func (h *AuditLogHook) Priority() int { return priorityAuditLog }

func (h *AuditLogHook) Before(ctx context.Context, sc *SagaContext) HookResult {
	return HookOK()
}

func (h *AuditLogHook) After(ctx context.Context, sc *SagaContext) {
	if h.sink == nil {
		return
	}
	h.sink.Record(ctx, AuditEntry{
		OrderID:          sc.OrderID,
		OrderNo:          sc.OrderNo,
		CustomerID:       sc.CustomerID,
		Status:           sc.Status,
		ProcessedStepIDs: sc.ProcessedStepIDs(),
		LastResult:       sc.LastResult,
		StartedAt:        sc.CreatedAt,
		FinishedAt:       sc.UpdatedAt,
	})
}

// LogAuditSink writes audit entries to the structured log.
type LogAuditSink struct {
	log logger.Logger
}

func NewLogAuditSink(log logger.Logger) *LogAuditSink {
	if log == nil {
		log = logger.Global()
	}
	return &LogAuditSink{log: log}
}

func (s *LogAuditSink) Record(ctx context.Context, entry AuditEntry) {
	s.log.InfoContext(ctx, "saga audit",
		"order_id", entry.OrderID,
		"order_no", entry.OrderNo,
		"customer_id", entry.CustomerID,
		"status", string(entry.Status),
		"steps", len(entry.ProcessedStepIDs),
		"duration", entry.FinishedAt.Sub(entry.StartedAt).String(),
	)
}
