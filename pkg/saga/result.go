package saga

import "fmt"

// StepResult is the outcome of executing or querying a step. Results
// are value types; factories below enforce the valid combinations.
type StepResult struct {
	Status        StepStatus        `json:"status"`
	ErrorCode     ErrorCode         `json:"error_code,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	ExternalRefID string            `json:"external_ref_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Succeeded builds a successful forward result.
func Succeeded(externalRefID string) StepResult {
	return StepResult{Status: StepSucceeded, ExternalRefID: externalRefID}
}

// Completed marks a step whose effect was already applied by an
// earlier attempt (idempotent replay).
func Completed(externalRefID string) StepResult {
	return StepResult{Status: StepCompleted, ExternalRefID: externalRefID}
}

// Pending marks a step accepted by the downstream service but not yet
// finished; the saga parks until a callback or recovery sweep.
func Pending(externalRefID string) StepResult {
	return StepResult{Status: StepPending, ExternalRefID: externalRefID}
}

// Unknown marks an attempt whose outcome could not be determined, for
// example a timeout where the request may or may not have landed.
func Unknown(message string) StepResult {
	return StepResult{Status: StepUnknown, ErrorCode: CodeServiceTimeout, ErrorMessage: message}
}

// Failed builds a failed result with a mandatory error code.
func Failed(code ErrorCode, message string) StepResult {
	if message == "" {
		message = code.Message()
	}
	return StepResult{Status: StepFailed, ErrorCode: code, ErrorMessage: message}
}

// Rejected marks a business rule rejection; retrying cannot succeed.
func Rejected(code ErrorCode, message string) StepResult {
	if message == "" {
		message = code.Message()
	}
	return StepResult{Status: StepRejected, ErrorCode: code, ErrorMessage: message}
}

// Compensated builds a successful compensation result.
func Compensated(externalRefID string) StepResult {
	return StepResult{Status: StepCompensated, ExternalRefID: externalRefID}
}

// CompensationFailed builds a failed compensation result.
func CompensationFailed(code ErrorCode, message string) StepResult {
	if message == "" {
		message = code.Message()
	}
	return StepResult{Status: StepCompensationFailed, ErrorCode: code, ErrorMessage: message}
}

// FromPanic converts a recovered panic value into a failed result.
func FromPanic(v any) StepResult {
	return StepResult{
		Status:       StepFailed,
		ErrorCode:    CodeStepPanic,
		ErrorMessage: fmt.Sprintf("step panicked: %v", v),
	}
}

// IsSuccess reports whether the step achieved its intended effect.
func (r StepResult) IsSuccess() bool {
	return r.Status == StepSucceeded || r.Status == StepCompleted || r.Status == StepCompensated
}

// ShouldContinue reports whether the saga may advance past this step.
func (r StepResult) ShouldContinue() bool {
	return r.Status == StepSucceeded || r.Status == StepCompleted
}

// ShouldWait reports whether the saga must park for an external outcome.
func (r StepResult) ShouldWait() bool {
	switch r.Status {
	case StepPending, StepUnknown, StepExecuting, StepProcessing, StepSkipped:
		return true
	default:
		return false
	}
}

// IsFailure reports whether the step definitively failed.
func (r StepResult) IsFailure() bool {
	return r.Status == StepFailed || r.Status == StepRejected || r.Status == StepTimeout || r.Status == StepCompensationFailed
}

// IsRetryable reports whether re-executing the step may succeed.
func (r StepResult) IsRetryable() bool {
	return r.Status.IsRetryable() && r.ErrorCode.IsRetryable()
}
