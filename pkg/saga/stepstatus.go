package saga

// StepStatus is the state of one saga step attempt.
type StepStatus string

const (
	// Forward execution states.
	StepPending    StepStatus = "PENDING"
	StepExecuting  StepStatus = "EXECUTING"
	StepProcessing StepStatus = "PROCESSING"
	StepSucceeded  StepStatus = "SUCCEEDED"
	StepFailed     StepStatus = "FAILED"
	StepTimeout    StepStatus = "TIMEOUT"
	StepSkipped    StepStatus = "SKIPPED"
	StepUnknown    StepStatus = "UNKNOWN"
	StepCompleted  StepStatus = "COMPLETED"
	StepRejected   StepStatus = "REJECTED"

	// Compensation states.
	StepNeedsCompensation  StepStatus = "NEEDS_COMPENSATION"
	StepCompensating       StepStatus = "COMPENSATING"
	StepCompensated        StepStatus = "COMPENSATED"
	StepCompensationFailed StepStatus = "COMPENSATION_FAILED"
)

// IsSuccess reports whether the step finished with its intended effect.
func (s StepStatus) IsSuccess() bool {
	return s == StepSucceeded || s == StepCompensated
}

// IsFailed reports whether the step finished unsuccessfully.
func (s StepStatus) IsFailed() bool {
	return s == StepFailed || s == StepTimeout || s == StepCompensationFailed
}

// IsInProgress reports whether the step is currently executing.
func (s StepStatus) IsInProgress() bool {
	return s == StepExecuting || s == StepCompensating
}

// IsFinal reports whether the step status can no longer change.
func (s StepStatus) IsFinal() bool {
	switch s {
	case StepSucceeded, StepFailed, StepTimeout, StepSkipped,
		StepCompensated, StepCompensationFailed:
		return true
	default:
		return false
	}
}

// NeedsCompensation reports whether the step's effect must be undone
// when the saga reverts.
func (s StepStatus) NeedsCompensation() bool {
	return s == StepSucceeded || s == StepNeedsCompensation
}

// IsRetryable reports whether re-executing the step may succeed.
func (s StepStatus) IsRetryable() bool {
	return s == StepFailed || s == StepTimeout
}

// IsCompensationOnly reports whether the status is only meaningful
// during the compensation phase. A forward step returning one of
// these is an invariant violation.
func (s StepStatus) IsCompensationOnly() bool {
	switch s {
	case StepNeedsCompensation, StepCompensating, StepCompensated, StepCompensationFailed:
		return true
	default:
		return false
	}
}
