package saga

import (
	"time"
)

const (
	// beginStep is the cursor value before any step has run.
	beginStep = -1

	// DefaultTimeout bounds a saga's total wall-clock lifetime.
	DefaultTimeout = 30 * time.Minute

	// MinCompensationBudget is the least remaining time required to
	// start compensating. When a failing saga has less than this left,
	// its deadline is extended so compensation can finish.
	MinCompensationBudget = 5 * time.Minute
)

// SagaContext is the complete state of one saga run: identity, status,
// the forward step array with its cursor, the compensation step array
// built on failure, the processed-step trail and the timeout window.
//
// A context is owned by one goroutine at a time; the engine's per-saga
// lock enforces this, so the struct itself is not synchronized.
type SagaContext struct {
	OrderID    int64
	OrderNo    string
	CustomerID int64

	Status     Status
	LastResult *StepResult

	Timeout             time.Duration
	CompensationAllowed bool
	Metadata            map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time

	steps               []Step
	currentStep         int
	compensationSteps   []Step
	currentCompensation int
	processedStepIDs    []string

	nonUndoable map[Action]struct{}
	minBudget   time.Duration

	// witness is the stored UpdatedAt observed at load time; the
	// repository's optimistic status update compares against it.
	witness time.Time
}

// NewSagaContext builds a context in INIT with default timeout and
// compensation policy.
func NewSagaContext(orderID int64, orderNo string, customerID int64) *SagaContext {
	now := time.Now()
	return &SagaContext{
		OrderID:             orderID,
		OrderNo:             orderNo,
		CustomerID:          customerID,
		Status:              StatusInit,
		Timeout:             DefaultTimeout,
		CompensationAllowed: true,
		Metadata:            map[string]string{},
		CreatedAt:           now,
		UpdatedAt:           now,
		currentStep:         beginStep,
		currentCompensation: beginStep,
		minBudget:           MinCompensationBudget,
		nonUndoable: map[Action]struct{}{
			ActionCreateShipment:   {},
			ActionSendNotification: {},
		},
	}
}

// SetSteps installs the forward step array. Steps are executed in
// array order.
func (sc *SagaContext) SetSteps(steps []Step) {
	sc.steps = steps
}

// Steps returns the forward step array.
func (sc *SagaContext) Steps() []Step { return sc.steps }

// RestoreProgress seeds the forward cursor and processed-step trail
// from persisted step logs after a reload. Compensation steps are
// rebuilt from the forward array when the saga reverts; downstream
// idempotency absorbs any replays.
func (sc *SagaContext) RestoreProgress(logs []StepLog) {
	sc.currentStep = beginStep
	sc.processedStepIDs = sc.processedStepIDs[:0]
	for _, l := range logs {
		if l.IsCompensation {
			continue
		}
		if l.Index > sc.currentStep {
			sc.currentStep = l.Index
		}
		sc.processedStepIDs = append(sc.processedStepIDs, l.StepID)
	}
}

// NextStep advances the forward cursor and returns the step to run.
// The step id is appended to the processed trail before execution so
// a crash mid-step is attributable.
func (sc *SagaContext) NextStep() (Step, bool) {
	if sc.currentStep+1 >= len(sc.steps) {
		return nil, false
	}
	sc.currentStep++
	step := sc.steps[sc.currentStep]
	sc.processedStepIDs = append(sc.processedStepIDs, step.StepID())
	return step, true
}

// HasMoreSteps reports whether forward steps remain after the cursor.
func (sc *SagaContext) HasMoreSteps() bool {
	return sc.currentStep+1 < len(sc.steps)
}

/// CurrentStep returns the step under the cursor of the active phase:
// the compensation cursor while reverting, the forward cursor
// otherwise. Nil when no step is in flight.
func (sc *SagaContext) CurrentStep() Step {
	if sc.Status.IsReverting() {
		if sc.currentCompensation >= 0 && sc.currentCompensation < len(sc.compensationSteps) {
			return sc.compensationSteps[sc.currentCompensation]
		}
		return nil
	}
	if sc.currentStep >= 0 && sc.currentStep < len(sc.steps) {
		return sc.steps[sc.currentStep]
	}
	return nil
}

// IsLastStep reports whether the cursor sits on the final forward step
// and that step finished successfully.
func (sc *SagaContext) IsLastStep() bool {
	if len(sc.steps) == 0 || sc.currentStep < len(sc.steps)-1 {
		return false
	}
	st := sc.steps[len(sc.steps)-1].Status()
	return st.IsSuccess() || st == StepCompleted
}

// FindStep locates a step by id in the forward and compensation arrays.
func (sc *SagaContext) FindStep(stepID string) Step {
	for _, s := range sc.steps {
		if s.StepID() == stepID {
			return s
		}
	}
	for _, s := range sc.compensationSteps {
		if s.StepID() == stepID {
			return s
		}
	}
	return nil
}

// ProcessedStepIDs returns the ordered trail of step ids handed out
// for execution.
func (sc *SagaContext) ProcessedStepIDs() []string {
	out := make([]string, len(sc.processedStepIDs))
	copy(out, sc.processedStepIDs)
	return out
}

// StepsNeedingCompensation returns the succeeded undoable forward
// steps in reverse execution order.
func (sc *SagaContext) StepsNeedingCompensation() []Step {
	var out []Step
	for i := len(sc.steps) - 1; i >= 0; i-- {
		if NeedsCompensation(sc.steps[i]) {
			out = append(out, sc.steps[i])
		}
	}
	return out
}

// BuildCompensationSteps materializes the compensation array from the
// forward steps that need undoing, newest first, using the supplied
// factory. Returns the number of compensation steps built.
func (sc *SagaContext) BuildCompensationSteps(factory func(forward Step) Step) int {
	targets := sc.StepsNeedingCompensation()
	sc.compensationSteps = make([]Step, 0, len(targets))
	for _, fwd := range targets {
		if comp := factory(fwd); comp != nil {
			sc.compensationSteps = append(sc.compensationSteps, comp)
		}
	}
	sc.currentCompensation = beginStep
	return len(sc.compensationSteps)
}

// SetCompensationSteps installs a prebuilt compensation array.
func (sc *SagaContext) SetCompensationSteps(steps []Step) {
	sc.compensationSteps = steps
	sc.currentCompensation = beginStep
}

// CompensationSteps returns the compensation array.
func (sc *SagaContext) CompensationSteps() []Step { return sc.compensationSteps }

// HasMoreCompensationSteps reports whether compensation steps remain.
func (sc *SagaContext) HasMoreCompensationSteps() bool {
	return sc.currentCompensation+1 < len(sc.compensationSteps)
}

// NextCompensationStep advances the compensation cursor.
func (sc *SagaContext) NextCompensationStep() (Step, bool) {
	if !sc.HasMoreCompensationSteps() {
		return nil, false
	}
	sc.currentCompensation++
	step := sc.compensationSteps[sc.currentCompensation]
	sc.processedStepIDs = append(sc.processedStepIDs, step.StepID())
	return step, true
}

// SetStatus validates and applies a status transition, refreshing
// UpdatedAt.
func (sc *SagaContext) SetStatus(next Status) error {
	if err := ValidateTransition(sc.Status, next); err != nil {
		if e, ok := err.(*Error); ok {
			e.OrderID = sc.OrderID
		}
		return err
	}
	sc.Status = next
	sc.UpdatedAt = time.Now()
	return nil
}

// forceStatus applies a status without transition validation. Reserved
// for SYSTEM_ERROR classification paths.
func (sc *SagaContext) forceStatus(next Status) {
	sc.Status = next
	sc.UpdatedAt = time.Now()
}

// IsTerminal reports whether the saga reached a final status.
func (sc *SagaContext) IsTerminal() bool { return sc.Status.IsTerminal() }

// IsTimedOut reports whether the saga exceeded its deadline.
func (sc *SagaContext) IsTimedOut() bool {
	return time.Since(sc.CreatedAt) > sc.Timeout
}

// RemainingTime returns the time left before the deadline. Negative
// once the saga has timed out.
func (sc *SagaContext) RemainingTime() time.Duration {
	return sc.Timeout - time.Since(sc.CreatedAt)
}

// ExtendTimeoutIfNeeded pushes the deadline out so at least the
// compensation budget remains.
func (sc *SagaContext) ExtendTimeoutIfNeeded() {
	if sc.RemainingTime() < sc.minBudget {
		sc.Timeout = time.Since(sc.CreatedAt) + sc.minBudget
	}
}

// SetMinCompensationBudget overrides the compensation budget. Values
// below or equal to zero keep the default.
func (sc *SagaContext) SetMinCompensationBudget(d time.Duration) {
	if d > 0 {
		sc.minBudget = d
	}
}

// SetNonUndoableActions replaces the set of actions whose success
// forecloses automatic compensation.
func (sc *SagaContext) SetNonUndoableActions(actions []Action) {
	sc.nonUndoable = make(map[Action]struct{}, len(actions))
	for _, a := range actions {
		sc.nonUndoable[a] = struct{}{}
	}
}

func (sc *SagaContext) isNonUndoable(a Action) bool {
	_, ok := sc.nonUndoable[a]
	return ok
}

/// EvaluateFailedStep decides where a saga goes after a step failure:
//
//	FAILED         first step failed, nothing to undo
//	MANUAL_REVIEW  a non-undoable action already succeeded
//	REVERTING      compensation allowed and enough time remains
//	REVERT_FAILED  otherwise
//
// The decision is pure over the forward steps, the compensation policy
// and the remaining time, except that choosing REVERTING extends the
// deadline to cover the compensation budget.
func (sc *SagaContext) EvaluateFailedStep() Status {
	if len(sc.steps) == 0 {
		return StatusFailed
	}
	first := sc.steps[0].Status()
	if first.IsFailed() || first == StepRejected {
		return StatusFailed
	}
	for _, s := range sc.steps {
		st := s.Status()
		if sc.isNonUndoable(s.Action()) && (st == StepSucceeded || st == StepCompleted) {
			return StatusManualReview
		}
	}
	if sc.CompensationAllowed && sc.RemainingTime() > sc.minBudget {
		sc.ExtendTimeoutIfNeeded()
		return StatusReverting
	}
	return StatusRevertFailed
}

// StepLogs snapshots every step, forward then compensation, for
// persistence or API projection.
func (sc *SagaContext) StepLogs() []StepLog {
	logs := make([]StepLog, 0, len(sc.steps)+len(sc.compensationSteps))
	for _, s := range sc.steps {
		logs = append(logs, s.ToLog())
	}
	for _, s := range sc.compensationSteps {
		logs = append(logs, s.ToLog())
	}
	return logs
}

// CurrentStepIndex returns the forward cursor position.
func (sc *SagaContext) CurrentStepIndex() int { return sc.currentStep }

// clone copies the context's scalar state. Step values are shared;
// they synchronize internally.
func (sc *SagaContext) clone() *SagaContext {
	cp := *sc
	cp.Metadata = make(map[string]string, len(sc.Metadata))
	for k, v := range sc.Metadata {
		cp.Metadata[k] = v
	}
	cp.processedStepIDs = append([]string(nil), sc.processedStepIDs...)
	cp.steps = append([]Step(nil), sc.steps...)
	cp.compensationSteps = append([]Step(nil), sc.compensationSteps...)
	cp.nonUndoable = make(map[Action]struct{}, len(sc.nonUndoable))
	for k := range sc.nonUndoable {
		cp.nonUndoable[k] = struct{}{}
	}
	if sc.LastResult != nil {
		r := *sc.LastResult
		cp.LastResult = &r
	}
	return &cp
}
