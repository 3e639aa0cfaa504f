package saga

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Action identifies the business operation a step performs.
type Action string

const (
	ActionReserveInventory Action = "RESERVE_INVENTORY"
	ActionChargePayment    Action = "CHARGE_PAYMENT"
	ActionCreateShipment   Action = "CREATE_SHIPMENT"
	ActionSendNotification Action = "SEND_NOTIFICATION"

	ActionReleaseInventory Action = "RELEASE_INVENTORY"
	ActionRefundPayment    Action = "REFUND_PAYMENT"
	ActionCancelShipment   Action = "CANCEL_SHIPMENT"
)

// compensationActions pairs each forward action with its undo action.
// Actions without an entry cannot be undone once they succeed.
var compensationActions = map[Action]Action{
	ActionReserveInventory: ActionReleaseInventory,
	ActionChargePayment:    ActionRefundPayment,
	ActionCreateShipment:   ActionCancelShipment,
}

// CompensationAction returns the undo action for a forward action.
// ok is false when the action has no compensation.
func (a Action) CompensationAction() (Action, bool) {
	c, ok := compensationActions[a]
	return c, ok
}

// IsCompensation reports whether the action undoes a forward action.
func (a Action) IsCompensation() bool {
	switch a {
	case ActionReleaseInventory, ActionRefundPayment, ActionCancelShipment:
		return true
	default:
		return false
	}
}

// StepLog is the persistence projection of a step, written after
// every state-changing attempt.
type StepLog struct {
	StepID         string      `json:"step_id"`
	OrderID        int64       `json:"order_id"`
	Index          int         `json:"index"`
	Action         Action      `json:"action"`
	ServiceType    string      `json:"service_type"`
	Status         StepStatus  `json:"status"`
	Result         *StepResult `json:"result,omitempty"`
	IsCompensation bool        `json:"is_compensation"`
	CompensatesFor string      `json:"compensates_for,omitempty"`
	SentAt         *time.Time  `json:"sent_at,omitempty"`
	ReceivedAt     *time.Time  `json:"received_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Step is the contract every saga step fulfils. Execute performs the
// effect, Query checks the outcome without side effects, UpdateStatus
// applies an externally observed result. Implementations must be
// idempotent on the step id.
type Step interface {
	StepID() string
	OrderID() int64
	Index() int
	Action() Action
	ServiceType() string
	Status() StepStatus
	Result() *StepResult

	Execute(ctx context.Context) StepResult
	Query(ctx context.Context) StepResult
	UpdateStatus(result StepResult) bool
	ToLog() StepLog
}

// ExecFunc performs or inspects a step's effect. The step id doubles
// as the idempotency key passed to the downstream service.
type ExecFunc func(ctx context.Context, stepID string) StepResult

// BaseStep carries the bookkeeping shared by all steps: identity,
// status, result, timestamps, and the wrapping of user logic with
// panic translation. Concrete steps embed it by composition, supplying
// execute and query functions.
type BaseStep struct {
	id             string
	orderID        int64
	index          int
	action         Action
	serviceType    string
	isCompensation bool
	compensatesFor string

	exec  ExecFunc
	query ExecFunc

	mu         sync.Mutex
	status     StepStatus
	result     *StepResult
	sentAt     *time.Time
	receivedAt *time.Time
	createdAt  time.Time
	updatedAt  time.Time
}

// NewBaseStep builds a step. The step id is derived from the saga id,
// the position in the step array, the action and the target service,
// and is stable across restarts.
func NewBaseStep(orderID int64, index int, action Action, serviceType string, exec, query ExecFunc) *BaseStep {
	now := time.Now()
	return &BaseStep{
		id:             StepID(orderID, index, action, serviceType),
		orderID:        orderID,
		index:          index,
		action:         action,
		serviceType:    serviceType,
		isCompensation: action.IsCompensation(),
		exec:           exec,
		query:          query,
		status:         StepUnknown,
		createdAt:      now,
		updatedAt:      now,
	}
}

// StepID formats the deterministic step identifier.
func StepID(orderID int64, index int, action Action, serviceType string) string {
	return fmt.Sprintf("%d:%03d:%s:%s", orderID, index, action, serviceType)
}

func (s *BaseStep) StepID() string      { return s.id }
func (s *BaseStep) OrderID() int64      { return s.orderID }
func (s *BaseStep) Index() int          { return s.index }
func (s *BaseStep) Action() Action      { return s.action }
func (s *BaseStep) ServiceType() string { return s.serviceType }

func (s *BaseStep) Status() StepStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *BaseStep) Result() *StepResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return nil
	}
	r := *s.result
	return &r
}

// SetCompensatesFor records the forward step this compensation undoes.
func (s *BaseStep) SetCompensatesFor(stepID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compensatesFor = stepID
}

// Execute runs the step's effect. Panics in the supplied function are
// translated into a failed result rather than unwinding the saga.
func (s *BaseStep) Execute(ctx context.Context) (res StepResult) {
	s.mu.Lock()
	now := time.Now()
	s.sentAt = &now
	if s.isCompensation {
		s.status = StepCompensating
	} else {
		s.status = StepExecuting
	}
	s.updatedAt = now
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			res = FromPanic(r)
			if s.isCompensation {
				res.Status = StepCompensationFailed
			}
			s.apply(res)
		}
	}()

	res = s.exec(ctx, s.id)
	s.apply(res)
	return res
}

// Query checks the step's outcome without side effects. When a final
// result was already recorded, for example by a callback, it is
// returned directly instead of asking the downstream service again.
func (s *BaseStep) Query(ctx context.Context) (res StepResult) {
	s.mu.Lock()
	if s.status.IsFinal() && s.result != nil {
		r := *s.result
		s.mu.Unlock()
		return r
	}
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			res = Unknown(fmt.Sprintf("query panicked: %v", r))
		}
	}()

	if s.query == nil {
		return Unknown("step has no query support")
	}
	res = s.query(ctx, s.id)
	if res.Status != StepUnknown {
		s.apply(res)
	}
	return res
}

// UpdateStatus applies an externally observed result, typically from
// a callback. It refuses to overwrite a final status and reports
// whether the result was applied.
func (s *BaseStep) UpdateStatus(result StepResult) bool {
	s.mu.Lock()
	if s.status.IsFinal() {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	s.apply(result)
	return true
}

func (s *BaseStep) apply(res StepResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.status = res.Status
	r := res
	s.result = &r
	s.receivedAt = &now
	s.updatedAt = now
}

// ToLog snapshots the step for persistence.
func (s *BaseStep) ToLog() StepLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := StepLog{
		StepID:         s.id,
		OrderID:        s.orderID,
		Index:          s.index,
		Action:         s.action,
		ServiceType:    s.serviceType,
		Status:         s.status,
		IsCompensation: s.isCompensation,
		CompensatesFor: s.compensatesFor,
		SentAt:         s.sentAt,
		ReceivedAt:     s.receivedAt,
		CreatedAt:      s.createdAt,
		UpdatedAt:      s.updatedAt,
	}
	if s.result != nil {
		r := *s.result
		log.Result = &r
	}
	return log
}

// NeedsCompensation reports whether a succeeded forward step must be
// undone when the saga reverts.
func NeedsCompensation(s Step) bool {
	if s.Action().IsCompensation() {
		return false
	}
	if _, ok := s.Action().CompensationAction(); !ok {
		return false
	}
	return s.Status().NeedsCompensation()
}
