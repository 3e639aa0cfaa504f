package order

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagaflow/sagaflow/pkg/saga"
)

func TestStubServiceIdempotentReplay(t *testing.T) {
	svc := NewStubService("payment")
	ctx := context.Background()
	req := Request{IdempotencyKey: "key-1", OrderID: 1, Action: saga.ActionChargePayment, Amount: 500}

	first := svc.Execute(ctx, req)
	require.Equal(t, saga.StepSucceeded, first.Status)
	require.NotEmpty(t, first.ExternalRefID)

	replay := svc.Execute(ctx, req)
	assert.Equal(t, saga.StepCompleted, replay.Status)
	assert.Equal(t, first.ExternalRefID, replay.ExternalRefID, "replay returns the original reference")
}

func TestStubServiceFailedReplayStaysFailed(t *testing.T) {
	svc := NewStubService("payment", StubRespond(func(req Request) saga.StepResult {
		return saga.Failed(saga.CodePaymentDeclined, "declined")
	}))
	ctx := context.Background()
	req := Request{IdempotencyKey: "key-2", Action: saga.ActionChargePayment}

	first := svc.Execute(ctx, req)
	require.Equal(t, saga.StepFailed, first.Status)

	replay := svc.Execute(ctx, req)
	assert.Equal(t, saga.StepFailed, replay.Status)
	assert.Equal(t, saga.CodePaymentDeclined, replay.ErrorCode)
}

func TestStubServiceQuery(t *testing.T) {
	svc := NewStubService("inventory", StubRespond(func(req Request) saga.StepResult {
		return saga.Pending("inv-1")
	}))
	ctx := context.Background()

	// Unseen key.
	res := svc.Query(ctx, Request{IdempotencyKey: "never-sent"})
	assert.Equal(t, saga.StepUnknown, res.Status)

	// A pending request settles on query.
	req := Request{IdempotencyKey: "key-3", Action: saga.ActionReserveInventory}
	svc.Execute(ctx, req)
	res = svc.Query(ctx, req)
	assert.Equal(t, saga.StepSucceeded, res.Status)
	assert.Equal(t, "inv-1", res.ExternalRefID)

	// Settled outcome is stable on further queries.
	res = svc.Query(ctx, req)
	assert.Equal(t, saga.StepSucceeded, res.Status)
}

func TestStubServiceQuerySettlesCompensationAsCompensated(t *testing.T) {
	svc := NewStubService("inventory", StubRespond(func(req Request) saga.StepResult {
		return saga.Pending("rel-1")
	}))
	ctx := context.Background()
	req := Request{IdempotencyKey: "key-4", Action: saga.ActionReleaseInventory}

	svc.Execute(ctx, req)
	res := svc.Query(ctx, req)
	assert.Equal(t, saga.StepCompensated, res.Status)
}

func TestStubServiceSettle(t *testing.T) {
	svc := NewStubService("shipping", StubRespond(func(req Request) saga.StepResult {
		return saga.Pending("ship-1")
	}))
	ctx := context.Background()
	req := Request{IdempotencyKey: "key-5", Action: saga.ActionCreateShipment}

	svc.Execute(ctx, req)
	svc.Settle("key-5", saga.Failed(saga.CodeShipmentRejected, "no carrier"))

	res := svc.Query(ctx, req)
	assert.Equal(t, saga.StepFailed, res.Status)
	assert.Equal(t, saga.CodeShipmentRejected, res.ErrorCode)
}

func TestStubServiceRates(t *testing.T) {
	ctx := context.Background()

	alwaysFail := NewStubService("inventory", StubRates(1.0, 0), StubSeed(1))
	res := alwaysFail.Execute(ctx, Request{IdempotencyKey: "f-1", Action: saga.ActionReserveInventory})
	assert.Equal(t, saga.StepFailed, res.Status)
	assert.Equal(t, saga.CodeServiceUnavailable, res.ErrorCode)

	failComp := NewStubService("inventory", StubRates(1.0, 0), StubSeed(1))
	res = failComp.Execute(ctx, Request{IdempotencyKey: "f-2", Action: saga.ActionReleaseInventory})
	assert.Equal(t, saga.StepCompensationFailed, res.Status)

	alwaysPend := NewStubService("payment", StubRates(0, 1.0), StubSeed(1))
	res = alwaysPend.Execute(ctx, Request{IdempotencyKey: "p-1", Action: saga.ActionChargePayment})
	assert.Equal(t, saga.StepPending, res.Status)
}
