// Package order supplies the order-fulfilment domain on top of the
// saga engine: the downstream service contract, the step factory that
// turns a start command into a forward step array, and the context
// factory the engine creates sagas through.
package order

import (
	"context"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/sagaflow/sagaflow/pkg/saga"
)

// Request is the payload sent to a downstream service. The idempotency
// key is the step id, so retries of the same step are absorbed by the
// service.
type Request struct {
	IdempotencyKey string
	OrderID        int64
	Action         saga.Action
	SKU            string
	Quantity       int
	Amount         int64
	Address        string
	Metadata       map[string]string
}

// Service is a downstream order service: inventory, payment, shipping
// or notification. Execute applies the effect; Query checks an earlier
// request's outcome without side effects.
type Service interface {
	Name() string
	Execute(ctx context.Context, req Request) saga.StepResult
	Query(ctx context.Context, req Request) saga.StepResult
}

// StubService simulates a downstream service in memory. It honors the
// idempotency key: re-executing a settled request returns the recorded
// outcome as COMPLETED instead of applying the effect twice. Failure
// and pending rates make it useful for demos and chaos-style tests.
type StubService struct {
	name string

	mu       sync.Mutex
	recorded map[string]saga.StepResult
	rng      *rand.Rand

	respond     func(req Request) saga.StepResult
	failureRate float64
	pendingRate float64
}

// StubOption customizes a StubService.
type StubOption func(*StubService)

// StubRespond scripts the outcome of first-time executions.
func StubRespond(fn func(req Request) saga.StepResult) StubOption {
	return func(s *StubService) { s.respond = fn }
}

// StubRates sets random failure and pending probabilities for
// first-time executions. Ignored when a respond script is set.
func StubRates(failureRate, pendingRate float64) StubOption {
	return func(s *StubService) {
		s.failureRate = failureRate
		s.pendingRate = pendingRate
	}
}

// StubSeed fixes the random source, for reproducible runs.
func StubSeed(seed int64) StubOption {
	return func(s *StubService) { s.rng = rand.New(rand.NewSource(seed)) }
}

// NewStubService builds a stub that succeeds by default.
func NewStubService(name string, opts ...StubOption) *StubService {
	s := &StubService{
		name:     name,
		recorded: make(map[string]saga.StepResult),
		rng:      rand.New(rand.NewSource(rand.Int63())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *StubService) Name() string { return s.name }

// Execute applies the request. A key seen before returns the recorded
// outcome; a successful replay is reported as COMPLETED.
func (s *StubService) Execute(ctx context.Context, req Request) saga.StepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.recorded[req.IdempotencyKey]; ok {
		if prev.IsSuccess() {
			return saga.Completed(prev.ExternalRefID)
		}
		return prev
	}

	res := s.outcome(req)
	s.recorded[req.IdempotencyKey] = res
	return res
}

// Query reports the outcome of an earlier request. A request recorded
// as pending is reported settled, simulating asynchronous completion
// on the downstream side; an unseen key is UNKNOWN.
func (s *StubService) Query(ctx context.Context, req Request) saga.StepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.recorded[req.IdempotencyKey]
	if !ok {
		return saga.Unknown("no record for " + req.IdempotencyKey)
	}
	if prev.Status == saga.StepPending {
		settled := saga.Succeeded(prev.ExternalRefID)
		if req.Action.IsCompensation() {
			settled = saga.Compensated(prev.ExternalRefID)
		}
		s.recorded[req.IdempotencyKey] = settled
		return settled
	}
	return prev
}

// Settle overrides the recorded outcome for a key, simulating an
// out-of-band completion on the downstream side.
func (s *StubService) Settle(key string, res saga.StepResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded[key] = res
}

func (s *StubService) outcome(req Request) saga.StepResult {
	if s.respond != nil {
		return s.respond(req)
	}
	roll := s.rng.Float64()
	switch {
	case roll < s.failureRate:
		if req.Action.IsCompensation() {
			return saga.CompensationFailed(saga.CodeServiceUnavailable, s.name+" unavailable")
		}
		return saga.Failed(saga.CodeServiceUnavailable, s.name+" unavailable")
	case roll < s.failureRate+s.pendingRate:
		return saga.Pending(newRefID(s.name))
	default:
		if req.Action.IsCompensation() {
			return saga.Compensated(newRefID(s.name))
		}
		return saga.Succeeded(newRefID(s.name))
	}
}

func newRefID(service string) string {
	return service + "-" + uuid.NewString()
}
