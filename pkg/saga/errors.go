package saga

import (
	"errors"
	"fmt"
)

// ErrorCode classifies step and saga failures. Ranges:
// 1xxx input, 2xxx business rule, 3xxx external dependency (retryable),
// 4xxx internal, 5xxx saga infrastructure.
type ErrorCode int

const (
	CodeOK ErrorCode = 0

	// Input errors (1xxx).
	CodeInvalidInput     ErrorCode = 1001
	CodeMissingParameter ErrorCode = 1002
	CodeInvalidOrderNo   ErrorCode = 1003
	CodeDuplicateRequest ErrorCode = 1004

	// Business errors (2xxx).
	CodeInsufficientInventory ErrorCode = 2001
	CodePaymentDeclined       ErrorCode = 2002
	CodeShipmentRejected      ErrorCode = 2003
	CodeOrderCancelled        ErrorCode = 2004
	CodeUnauthorized          ErrorCode = 2005

	// External dependency errors (3xxx), retryable.
	CodeServiceUnavailable ErrorCode = 3001
	CodeServiceTimeout     ErrorCode = 3002
	CodeRateLimited        ErrorCode = 3003
	CodeNetworkError       ErrorCode = 3004

	// Internal errors (4xxx).
	CodeInternalError      ErrorCode = 4001
	CodePersistenceError   ErrorCode = 4002
	CodeSerializationError ErrorCode = 4003
	CodeConcurrentUpdate   ErrorCode = 4004

	// Saga infrastructure errors (5xxx).
	CodeStateHandlerNotFound   ErrorCode = 5001
	CodeInvalidStateTransition ErrorCode = 5002
	CodeCompensationFailed     ErrorCode = 5003
	CodeSagaTimeout            ErrorCode = 5004
	CodeSagaNotFound           ErrorCode = 5005
	CodeStepPanic              ErrorCode = 5006
)

var errorMessages = map[ErrorCode]string{
	CodeOK:                     "ok",
	CodeInvalidInput:           "invalid input",
	CodeMissingParameter:       "missing required parameter",
	CodeInvalidOrderNo:         "invalid order number",
	CodeDuplicateRequest:       "duplicate request",
	CodeInsufficientInventory:  "insufficient inventory",
	CodePaymentDeclined:        "payment declined",
	CodeShipmentRejected:       "shipment rejected",
	CodeOrderCancelled:         "order cancelled",
	CodeUnauthorized:           "unauthorized",
	CodeServiceUnavailable:     "downstream service unavailable",
	CodeServiceTimeout:         "downstream service timed out",
	CodeRateLimited:            "downstream service rate limited",
	CodeNetworkError:           "network error",
	CodeInternalError:          "internal error",
	CodePersistenceError:       "persistence error",
	CodeSerializationError:     "serialization error",
	CodeConcurrentUpdate:       "concurrent update detected",
	CodeStateHandlerNotFound:   "no handler registered for saga status",
	CodeInvalidStateTransition: "invalid saga status transition",
	CodeCompensationFailed:     "compensation failed",
	CodeSagaTimeout:            "saga timed out",
	CodeSagaNotFound:           "saga not found",
	CodeStepPanic:              "step panicked",
}

// Message returns the canonical description for the code.
func (c ErrorCode) Message() string {
	if m, ok := errorMessages[c]; ok {
		return m
	}
	return fmt.Sprintf("unknown error code %d", int(c))
}

// IsRetryable reports whether re-attempting the operation may succeed.
// Only external dependency failures are retryable.
func (c ErrorCode) IsRetryable() bool {
	return c >= 3000 && c < 4000
}

// IsBusinessError reports whether the failure is a business rule rejection.
func (c ErrorCode) IsBusinessError() bool {
	return c >= 2000 && c < 3000
}

// RequiresCompensation reports whether a failure with this code calls
// for compensating the steps that already applied effects. Business
// rejections and external dependency failures abort a saga mid-flight;
// input and infrastructure errors stop it before any new effect lands.
func (c ErrorCode) RequiresCompensation() bool {
	return c.IsBusinessError() || c.IsRetryable()
}

// Sentinel errors surfaced by the persistence port.
var (
	// ErrSagaNotFound is returned when no saga exists for the given id.
	ErrSagaNotFound = errors.New("saga not found")

	// ErrSagaExists is returned by Create when the order id or order
	// number is already taken.
	ErrSagaExists = errors.New("saga already exists")

	// ErrStaleContext is returned by UpdateStatus when the stored
	// record changed since the caller loaded its context.
	ErrStaleContext = errors.New("saga context is stale")
)

// Error is a typed saga failure carrying the error code and the
// identity of the saga and step it occurred in.
type Error struct {
	Code    ErrorCode
	OrderID int64
	StepID  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.Message()
	}
	if e.StepID != "" {
		return fmt.Sprintf("saga %d step %s: [%d] %s", e.OrderID, e.StepID, int(e.Code), msg)
	}
	if e.OrderID != 0 {
		return fmt.Sprintf("saga %d: [%d] %s", e.OrderID, int(e.Code), msg)
	}
	return fmt.Sprintf("[%d] %s", int(e.Code), msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a typed saga error.
func NewError(code ErrorCode, orderID int64, message string) *Error {
	return &Error{Code: code, OrderID: orderID, Message: message}
}

// WrapError attaches a code and saga identity to an underlying error.
func WrapError(code ErrorCode, orderID int64, err error) *Error {
	return &Error{Code: code, OrderID: orderID, Message: err.Error(), Err: err}
}
