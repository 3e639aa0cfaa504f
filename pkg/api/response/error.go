package response

import (
	"errors"
	"net/http"

	"github.com/sagaflow/sagaflow/pkg/saga"
)

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error information.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// API error codes.
const (
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeTooManyRequests  = "TOO_MANY_REQUESTS"
	ErrCodeInternalServer   = "INTERNAL_SERVER_ERROR"
)

// HandleError maps domain errors onto HTTP error responses.
func HandleError(w http.ResponseWriter, err error, requestID string) {
	switch {
	case errors.Is(err, saga.ErrSagaNotFound):
		Error(w, http.StatusNotFound, ErrCodeNotFound, "saga not found", requestID)
	case errors.Is(err, saga.ErrSagaExists):
		Error(w, http.StatusConflict, ErrCodeConflict, "saga already exists", requestID)
	default:
		Error(w, http.StatusInternalServerError, ErrCodeInternalServer, err.Error(), requestID)
	}
}

// StatusFromResult maps a terminal start result onto an HTTP status.
// Rejections caused by the caller are client errors; everything else
// that stopped before running is a server fault.
func StatusFromResult(res *saga.StepResult) int {
	if res == nil {
		return http.StatusCreated
	}
	switch res.ErrorCode {
	case saga.CodeDuplicateRequest:
		return http.StatusConflict
	case saga.CodeInvalidInput, saga.CodeMissingParameter, saga.CodeInvalidOrderNo:
		return http.StatusBadRequest
	case saga.CodeUnauthorized:
		return http.StatusForbidden
	case saga.CodeConcurrentUpdate:
		return http.StatusConflict
	case saga.CodePersistenceError, saga.CodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusCreated
	}
}
