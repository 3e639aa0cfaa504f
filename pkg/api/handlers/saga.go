// Package handlers provides the HTTP request handlers.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sagaflow/sagaflow/pkg/api/middleware"
	"github.com/sagaflow/sagaflow/pkg/api/models"
	"github.com/sagaflow/sagaflow/pkg/api/response"
	"github.com/sagaflow/sagaflow/pkg/logger"
	"github.com/sagaflow/sagaflow/pkg/saga"
)

// SagaHandler exposes the saga engine over HTTP.
type SagaHandler struct {
	engine    *saga.Engine
	log       logger.Logger
	validator *validator.Validate
}

// NewSagaHandler creates a saga handler.
func NewSagaHandler(engine *saga.Engine, log logger.Logger) *SagaHandler {
	return &SagaHandler{
		engine:    engine,
		log:       log,
		validator: validator.New(),
	}
}

// Start handles POST /api/v1/sagas. The saga is driven synchronously
// until it parks or terminates; the response carries wherever it got.
func (h *SagaHandler) Start(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req models.StartSagaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid request body", requestID)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), requestID)
		return
	}

	sc := h.engine.Start(r.Context(), req.ToCommand())
	if sc.OrderID == 0 {
		message := "saga creation rejected"
		if sc.LastResult != nil {
			message = sc.LastResult.ErrorMessage
		}
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, message, requestID)
		return
	}

	response.JSON(w, response.StatusFromResult(sc.LastResult), models.NewSagaResponse(sc))
}

// Callback handles POST /api/v1/sagas/{orderID}/callback. It applies
// the reported step outcome and resumes the saga.
func (h *SagaHandler) Callback(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	orderID, ok := orderIDParam(w, r, requestID)
	if !ok {
		return
	}

	var req models.CallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid request body", requestID)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), requestID)
		return
	}

	result := req.ToResult()
	sc, err := h.engine.Resume(r.Context(), saga.ResumeCommand{
		OrderID: orderID,
		StepID:  req.StepID,
		Result:  &result,
		Source:  "callback",
	})
	if err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusOK, models.NewSagaResponse(sc))
}

// Resume handles POST /api/v1/sagas/{orderID}/resume. It re-enters a
// parked saga without a step outcome, querying the current step.
func (h *SagaHandler) Resume(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	orderID, ok := orderIDParam(w, r, requestID)
	if !ok {
		return
	}

	sc, err := h.engine.Resume(r.Context(), saga.ResumeCommand{
		OrderID: orderID,
		Source:  "api",
	})
	if err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusAccepted, models.NewSagaResponse(sc))
}

// Get handles GET /api/v1/sagas/{orderID}.
func (h *SagaHandler) Get(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	orderID, ok := orderIDParam(w, r, requestID)
	if !ok {
		return
	}

	sc, err := h.engine.Query(r.Context(), orderID)
	if err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusOK, models.NewSagaResponse(sc))
}

// GetByOrderNo handles GET /api/v1/sagas/by-order/{orderNo}.
func (h *SagaHandler) GetByOrderNo(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	orderNo := chi.URLParam(r, "orderNo")
	if orderNo == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "order number is required", requestID)
		return
	}

	sc, err := h.engine.QueryByOrderNo(r.Context(), orderNo)
	if err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusOK, models.NewSagaResponse(sc))
}

// Steps handles GET /api/v1/sagas/{orderID}/steps.
func (h *SagaHandler) Steps(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	orderID, ok := orderIDParam(w, r, requestID)
	if !ok {
		return
	}

	if _, err := h.engine.Query(r.Context(), orderID); err != nil {
		response.HandleError(w, err, requestID)
		return
	}
	logs, err := h.engine.StepLogs(r.Context(), orderID)
	if err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusOK, models.StepLogsResponse{OrderID: orderID, Steps: logs})
}

// List handles GET /api/v1/sagas.
func (h *SagaHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	limit := 20
	offset := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			limit = parsed
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	status := saga.Status(strings.TrimSpace(r.URL.Query().Get("status")))

	sagas, total, err := h.engine.List(r.Context(), saga.ListFilter{
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	items := make([]models.SagaSummary, 0, len(sagas))
	for _, sc := range sagas {
		items = append(items, models.SagaSummary{
			OrderID:   sc.OrderID,
			OrderNo:   sc.OrderNo,
			Status:    string(sc.Status),
			CreatedAt: sc.CreatedAt,
			UpdatedAt: sc.UpdatedAt,
		})
	}

	response.JSON(w, http.StatusOK, models.SagaListResponse{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// orderIDParam parses the orderID path parameter, writing a 400 on
// failure.
func orderIDParam(w http.ResponseWriter, r *http.Request, requestID string) (int64, bool) {
	raw := chi.URLParam(r, "orderID")
	orderID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || orderID <= 0 {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid order id", requestID)
		return 0, false
	}
	return orderID, true
}
