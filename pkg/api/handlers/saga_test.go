package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagaflow/sagaflow/pkg/api/middleware"
	"github.com/sagaflow/sagaflow/pkg/api/models"
	"github.com/sagaflow/sagaflow/pkg/api/response"
	"github.com/sagaflow/sagaflow/pkg/logger"
	"github.com/sagaflow/sagaflow/pkg/order"
	"github.com/sagaflow/sagaflow/pkg/saga"
)

func newTestEngine(t *testing.T, steps *order.StepFactory) (*saga.Engine, saga.Repository) {
	t.Helper()
	repo := saga.NewMemoryRepository()
	log := logger.New(&logger.Config{Level: logger.ErrorLevel, Format: "text", Output: "stderr"})
	factory := order.NewFactory(steps)

	hooks := saga.NewHookChain(log)
	hooks.Register(saga.NewValidationHook())
	hooks.Register(saga.NewDuplicateCheckHook(repo))

	registry := saga.NewRegistry(repo, log)
	registry.MustRegister(saga.NewInitHandler(repo, registry, hooks, log))
	registry.MustRegister(saga.NewProcessingHandler(repo, registry, log, nil))
	registry.MustRegister(saga.NewRevertingHandler(repo, registry, factory.CompensationFor, log, nil))
	registry.MustRegister(saga.NewResumingHandler(repo, registry, log, nil))
	registry.MustRegister(saga.NewTerminalHandler(hooks, log, nil))

	engine := saga.NewEngine(repo, registry, factory,
		saga.WithRebuilder(factory),
		saga.WithEngineLogger(log),
	)
	return engine, repo
}

func defaultStepFactory() *order.StepFactory {
	return order.NewStepFactory(
		order.NewStubService("inventory"),
		order.NewStubService("payment"),
		order.NewStubService("shipping"),
		order.NewStubService("notification"),
	)
}

func pendingPaymentFactory() *order.StepFactory {
	return order.NewStepFactory(
		order.NewStubService("inventory"),
		order.NewStubService("payment", order.StubRespond(func(req order.Request) saga.StepResult {
			return saga.Pending("pay-async")
		})),
		order.NewStubService("shipping"),
		order.NewStubService("notification"),
	)
}

func newTestRouter(t *testing.T, steps *order.StepFactory) (http.Handler, *saga.Engine) {
	t.Helper()
	engine, repo := newTestEngine(t, steps)
	log := logger.New(&logger.Config{Level: logger.ErrorLevel, Format: "text", Output: "stderr"})

	h := NewSagaHandler(engine, log)
	health := NewHealthHandler(repo)

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Route("/api/v1/sagas", func(r chi.Router) {
		r.Post("/", h.Start)
		r.Get("/", h.List)
		r.Get("/by-order/{orderNo}", h.GetByOrderNo)
		r.Route("/{orderID}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Get("/steps", h.Steps)
			r.Post("/callback", h.Callback)
			r.Post("/resume", h.Resume)
		})
	})
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	r.Get("/status", health.Status)
	return r, engine
}

func startBody(orderNo string) string {
	return fmt.Sprintf(`{
		"order_no": %q,
		"customer_id": 42,
		"items": [{"sku": "SKU-A", "quantity": 1, "price": 500}],
		"payment": {"method": "card", "amount": 500},
		"shipping": {"address": "1 Main St", "carrier": "DHL"}
	}`, orderNo)
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeSaga(t *testing.T, rec *httptest.ResponseRecorder) models.SagaResponse {
	t.Helper()
	var out models.SagaResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) response.ErrorResponse {
	t.Helper()
	var out response.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestStartSaga(t *testing.T) {
	router, _ := newTestRouter(t, defaultStepFactory())

	rec := doJSON(t, router, http.MethodPost, "/api/v1/sagas", startBody("ORD-api-1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	out := decodeSaga(t, rec)
	assert.Positive(t, out.OrderID)
	assert.Equal(t, "ORD-api-1", out.OrderNo)
	assert.Equal(t, string(saga.StatusSuccess), out.Status)
	assert.Len(t, out.ProcessedStepIDs, 4)
}

func TestStartSagaInvalidBody(t *testing.T) {
	router, _ := newTestRouter(t, defaultStepFactory())

	rec := doJSON(t, router, http.MethodPost, "/api/v1/sagas", "{not json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, response.ErrCodeBadRequest, decodeError(t, rec).Error.Code)
}

func TestStartSagaValidationFailure(t *testing.T) {
	router, _ := newTestRouter(t, defaultStepFactory())

	body := strings.Replace(startBody("ORD-api-2"), `"ORD-api-2"`, `""`, 1)
	rec := doJSON(t, router, http.MethodPost, "/api/v1/sagas", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, response.ErrCodeValidationFailed, decodeError(t, rec).Error.Code)
}

func TestStartSagaDuplicateOrderNo(t *testing.T) {
	router, _ := newTestRouter(t, defaultStepFactory())

	first := doJSON(t, router, http.MethodPost, "/api/v1/sagas", startBody("ORD-api-dup"))
	require.Equal(t, http.StatusCreated, first.Code)

	second := doJSON(t, router, http.MethodPost, "/api/v1/sagas", startBody("ORD-api-dup"))
	require.Equal(t, http.StatusConflict, second.Code)
	out := decodeSaga(t, second)
	assert.Equal(t, string(saga.StatusFailed), out.Status)
}

func TestGetSaga(t *testing.T) {
	router, _ := newTestRouter(t, defaultStepFactory())

	created := decodeSaga(t, doJSON(t, router, http.MethodPost, "/api/v1/sagas", startBody("ORD-api-get")))

	rec := doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/v1/sagas/%d", created.OrderID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeSaga(t, rec)
	assert.Equal(t, created.OrderID, out.OrderID)
	assert.Equal(t, string(saga.StatusSuccess), out.Status)
}

func TestGetSagaBadID(t *testing.T) {
	router, _ := newTestRouter(t, defaultStepFactory())

	rec := doJSON(t, router, http.MethodGet, "/api/v1/sagas/not-a-number", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, response.ErrCodeBadRequest, decodeError(t, rec).Error.Code)
}

func TestGetSagaNotFound(t *testing.T) {
	router, _ := newTestRouter(t, defaultStepFactory())

	rec := doJSON(t, router, http.MethodGet, "/api/v1/sagas/999999", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, response.ErrCodeNotFound, decodeError(t, rec).Error.Code)
}

func TestGetSagaByOrderNo(t *testing.T) {
	router, _ := newTestRouter(t, defaultStepFactory())

	doJSON(t, router, http.MethodPost, "/api/v1/sagas", startBody("ORD-api-byno"))

	rec := doJSON(t, router, http.MethodGet, "/api/v1/sagas/by-order/ORD-api-byno", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ORD-api-byno", decodeSaga(t, rec).OrderNo)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/sagas/by-order/ORD-unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSagaSteps(t *testing.T) {
	router, _ := newTestRouter(t, defaultStepFactory())

	created := decodeSaga(t, doJSON(t, router, http.MethodPost, "/api/v1/sagas", startBody("ORD-api-steps")))

	rec := doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/v1/sagas/%d/steps", created.OrderID), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out models.StepLogsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, created.OrderID, out.OrderID)
	require.Len(t, out.Steps, 4)
	for _, l := range out.Steps {
		assert.Equal(t, saga.StepSucceeded, l.Status)
	}
}

func TestCallbackResumesPendingSaga(t *testing.T) {
	router, _ := newTestRouter(t, pendingPaymentFactory())

	created := decodeSaga(t, doJSON(t, router, http.MethodPost, "/api/v1/sagas", startBody("ORD-api-cb")))
	require.Equal(t, string(saga.StatusPending), created.Status)

	stepID := fmt.Sprintf("%d:001:CHARGE_PAYMENT:payment", created.OrderID)
	body := fmt.Sprintf(`{"step_id": %q, "status": "SUCCEEDED", "external_ref_id": "pay-42"}`, stepID)
	rec := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/sagas/%d/callback", created.OrderID), body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(saga.StatusSuccess), decodeSaga(t, rec).Status)
}

func TestCallbackValidation(t *testing.T) {
	router, _ := newTestRouter(t, pendingPaymentFactory())

	created := decodeSaga(t, doJSON(t, router, http.MethodPost, "/api/v1/sagas", startBody("ORD-api-cbval")))

	rec := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/sagas/%d/callback", created.OrderID), `{"status": "SUCCEEDED"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, response.ErrCodeValidationFailed, decodeError(t, rec).Error.Code)
}

func TestResumeQueriesPendingStep(t *testing.T) {
	router, _ := newTestRouter(t, pendingPaymentFactory())

	created := decodeSaga(t, doJSON(t, router, http.MethodPost, "/api/v1/sagas", startBody("ORD-api-resume")))
	require.Equal(t, string(saga.StatusPending), created.Status)

	// The stub settles the pending payment when queried.
	rec := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/sagas/%d/resume", created.OrderID), "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, string(saga.StatusSuccess), decodeSaga(t, rec).Status)
}

func TestResumeUnknownSaga(t *testing.T) {
	router, _ := newTestRouter(t, defaultStepFactory())

	rec := doJSON(t, router, http.MethodPost, "/api/v1/sagas/424242/resume", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSagas(t *testing.T) {
	router, _ := newTestRouter(t, defaultStepFactory())

	for i := 0; i < 3; i++ {
		doJSON(t, router, http.MethodPost, "/api/v1/sagas", startBody(fmt.Sprintf("ORD-api-list-%d", i)))
	}

	rec := doJSON(t, router, http.MethodGet, "/api/v1/sagas?limit=2&offset=1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out models.SagaListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, 3, out.Total)
	assert.Equal(t, 2, out.Limit)
	assert.Equal(t, 1, out.Offset)
	require.Len(t, out.Items, 2)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/sagas?status=FAILED", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out = models.SagaListResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Zero(t, out.Total)
	assert.Empty(t, out.Items)
}
