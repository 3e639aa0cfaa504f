// Package saga implements an orchestration engine for multi-step
// distributed transactions. A central coordinator drives each saga
// through a deterministic state machine, persists every transition,
// reacts to synchronous and asynchronous step outcomes, runs
// compensating actions on failure and recovers in-flight sagas after
// a process restart.
package saga

import "fmt"

// Status is the lifecycle state of a saga instance.
type Status string

const (
	// StatusInit is the entry state of a freshly created saga.
	StatusInit Status = "INIT"

	// Forward execution states.
	StatusProcessing         Status = "PROCESSING"
	StatusPending            Status = "PENDING"
	StatusResuming           Status = "RESUMING"
	StatusRecoveryProcessing Status = "RECOVERY_PROCESSING"

	// Reverting (compensation) states.
	StatusReverting         Status = "REVERTING"
	StatusRevertingPending  Status = "REVERTING_PENDING"
	StatusResumingReverting Status = "RESUMING_REVERTING"
	StatusRecoveryReverting Status = "RECOVERY_REVERTING"

	// Terminal states.
	StatusSuccess      Status = "SUCCESS"
	StatusFailed       Status = "FAILED"
	StatusReverted     Status = "REVERTED"
	StatusRevertFailed Status = "REVERT_FAILED"
	StatusManualReview Status = "MANUAL_REVIEW"
	StatusTimeout      Status = "TIMEOUT"
	StatusSystemError  Status = "SYSTEM_ERROR"
)

// validTransitions enumerates the legal edges of the saga state
// machine. SYSTEM_ERROR and TIMEOUT are reachable from every
// non-terminal state and are handled in CanTransitionTo directly.
var validTransitions = map[Status]map[Status]struct{}{
	StatusInit: {
		StatusProcessing: {},
		StatusFailed:     {},
	},
	StatusProcessing: {
		StatusSuccess:            {},
		StatusPending:            {},
		StatusReverting:          {},
		StatusFailed:             {},
		StatusManualReview:       {},
		StatusRevertFailed:       {},
		StatusResuming:           {},
		StatusRecoveryProcessing: {},
	},
	StatusPending: {
		StatusProcessing:         {},
		StatusReverting:          {},
		StatusResuming:           {},
		StatusRecoveryProcessing: {},
	},
	StatusResuming: {
		StatusProcessing:   {},
		StatusPending:      {},
		StatusSuccess:      {},
		StatusFailed:       {},
		StatusReverting:    {},
		StatusManualReview: {},
		StatusRevertFailed: {},
	},
	StatusRecoveryProcessing: {
		StatusProcessing:   {},
		StatusPending:      {},
		StatusSuccess:      {},
		StatusFailed:       {},
		StatusReverting:    {},
		StatusManualReview: {},
		StatusRevertFailed: {},
	},
	StatusReverting: {
		StatusReverted:          {},
		StatusRevertingPending:  {},
		StatusRevertFailed:      {},
		StatusResumingReverting: {},
		StatusRecoveryReverting: {},
	},
	StatusRevertingPending: {
		StatusReverting:         {},
		StatusReverted:          {},
		StatusRevertFailed:      {},
		StatusResumingReverting: {},
		StatusRecoveryReverting: {},
	},
	StatusResumingReverting: {
		StatusReverting:        {},
		StatusRevertingPending: {},
		StatusReverted:         {},
		StatusRevertFailed:     {},
		StatusManualReview:     {},
	},
	StatusRecoveryReverting: {
		StatusReverting:        {},
		StatusRevertingPending: {},
		StatusReverted:         {},
		StatusRevertFailed:     {},
		StatusManualReview:     {},
	},
}

// IsTerminal reports whether the status has no outbound edges.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusReverted, StatusRevertFailed,
		StatusManualReview, StatusTimeout, StatusSystemError:
		return true
	default:
		return false
	}
}

// IsProcessing reports whether the saga is in forward execution.
func (s Status) IsProcessing() bool {
	switch s {
	case StatusProcessing, StatusRecoveryProcessing, StatusResuming:
		return true
	default:
		return false
	}
}

// IsReverting reports whether the saga is in the compensation phase.
func (s Status) IsReverting() bool {
	switch s {
	case StatusReverting, StatusRevertingPending, StatusResumingReverting, StatusRecoveryReverting:
		return true
	default:
		return false
	}
}

// IsPending reports whether the saga is parked awaiting an external callback.
func (s Status) IsPending() bool {
	return s == StatusPending || s == StatusRevertingPending
}

// IsFailed reports whether the status signals an unsuccessful outcome.
func (s Status) IsFailed() bool {
	switch s {
	case StatusFailed, StatusRevertFailed, StatusManualReview, StatusTimeout:
		return true
	default:
		return false
	}
}

// RecoveryStatus maps a status to the state the recovery sweep drives
// the saga into. Idempotent: RecoveryStatus of a recovery state is itself.
func (s Status) RecoveryStatus() Status {
	switch s {
	case StatusProcessing, StatusPending, StatusResuming:
		return StatusRecoveryProcessing
	case StatusReverting, StatusRevertingPending, StatusResumingReverting:
		return StatusRecoveryReverting
	default:
		return s
	}
}

// ResumeStatus maps a status to the state a callback-driven resume
// enters. Idempotent like RecoveryStatus.
func (s Status) ResumeStatus() Status {
	switch s {
	case StatusPending, StatusProcessing:
		return StatusResuming
	case StatusRevertingPending, StatusReverting:
		return StatusResumingReverting
	default:
		return s
	}
}

// CanTransitionTo checks whether the edge s -> next is legal.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	// Any non-terminal state may be classified as a system error or
	// time out on entry.
	if next == StatusSystemError || next == StatusTimeout {
		return true
	}
	validNext, ok := validTransitions[s]
	if !ok {
		return false
	}
	_, ok = validNext[next]
	return ok
}

// ValidateTransition returns a typed error when the edge is illegal.
func ValidateTransition(current, next Status) error {
	if !current.CanTransitionTo(next) {
		return &Error{
			Code:    CodeInvalidStateTransition,
			Message: fmt.Sprintf("invalid saga status transition: %s -> %s", current, next),
		}
	}
	return nil
}

// RecoverableStatuses is the set of states the recovery sweep scans for.
func RecoverableStatuses() []Status {
	return []Status{
		StatusProcessing,
		StatusPending,
		StatusResuming,
		StatusRecoveryProcessing,
		StatusReverting,
		StatusRevertingPending,
		StatusResumingReverting,
		StatusRecoveryReverting,
	}
}
