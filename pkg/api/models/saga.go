// Package models defines the API request and response shapes.
package models

import (
	"time"

	"github.com/sagaflow/sagaflow/pkg/saga"
)

// StartSagaRequest is the body of POST /api/v1/sagas.
type StartSagaRequest struct {
	OrderNo    string            `json:"order_no" validate:"required"`
	CustomerID int64             `json:"customer_id" validate:"gt=0"`
	Items      []saga.OrderItem  `json:"items" validate:"min=1,dive"`
	Payment    saga.PaymentInfo  `json:"payment" validate:"required"`
	Shipping   saga.ShippingInfo `json:"shipping" validate:"required"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ToCommand converts the request into an engine start command.
func (r StartSagaRequest) ToCommand() saga.StartCommand {
	return saga.StartCommand{
		OrderNo:    r.OrderNo,
		CustomerID: r.CustomerID,
		Items:      r.Items,
		Payment:    r.Payment,
		Shipping:   r.Shipping,
		Metadata:   r.Metadata,
	}
}

// CallbackRequest is the body of POST /api/v1/sagas/{orderID}/callback.
// It carries the asynchronous outcome of one step.
type CallbackRequest struct {
	StepID        string            `json:"step_id" validate:"required"`
	Status        string            `json:"status" validate:"required"`
	ErrorCode     int               `json:"error_code,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	ExternalRefID string            `json:"external_ref_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ToResult converts the callback into a step result.
func (r CallbackRequest) ToResult() saga.StepResult {
	return saga.StepResult{
		Status:        saga.StepStatus(r.Status),
		ErrorCode:     saga.ErrorCode(r.ErrorCode),
		ErrorMessage:  r.ErrorMessage,
		ExternalRefID: r.ExternalRefID,
		Metadata:      r.Metadata,
	}
}

// SagaResponse is the full view of one saga.
type SagaResponse struct {
	OrderID          int64             `json:"order_id"`
	OrderNo          string            `json:"order_no"`
	CustomerID       int64             `json:"customer_id"`
	Status           string            `json:"status"`
	LastResult       *saga.StepResult  `json:"last_result,omitempty"`
	CurrentStep      int               `json:"current_step"`
	ProcessedStepIDs []string          `json:"processed_step_ids,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// NewSagaResponse builds the response view from a saga context.
func NewSagaResponse(sc *saga.SagaContext) SagaResponse {
	return SagaResponse{
		OrderID:          sc.OrderID,
		OrderNo:          sc.OrderNo,
		CustomerID:       sc.CustomerID,
		Status:           string(sc.Status),
		LastResult:       sc.LastResult,
		CurrentStep:      sc.CurrentStepIndex(),
		ProcessedStepIDs: sc.ProcessedStepIDs(),
		Metadata:         sc.Metadata,
		CreatedAt:        sc.CreatedAt,
		UpdatedAt:        sc.UpdatedAt,
	}
}

// SagaSummary is the list item view.
type SagaSummary struct {
	OrderID   int64     `json:"order_id"`
	OrderNo   string    `json:"order_no"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SagaListResponse is the body of GET /api/v1/sagas.
type SagaListResponse struct {
	Items  []SagaSummary `json:"items"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// StepLogsResponse is the body of GET /api/v1/sagas/{orderID}/steps.
type StepLogsResponse struct {
	OrderID int64          `json:"order_id"`
	Steps   []saga.StepLog `json:"steps"`
}
