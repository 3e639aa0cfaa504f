package order

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagaflow/sagaflow/pkg/saga"
)

func testStepFactory(opts ...StubOption) *StepFactory {
	return NewStepFactory(
		NewStubService("inventory", opts...),
		NewStubService("payment", opts...),
		NewStubService("shipping", opts...),
		NewStubService("notification", opts...),
	)
}

func testCommand(orderNo string, items int) saga.StartCommand {
	cmd := saga.StartCommand{
		OrderNo:    orderNo,
		CustomerID: 42,
		Payment:    saga.PaymentInfo{Method: "card", Amount: 1000},
		Shipping:   saga.ShippingInfo{Address: "1 Main St", Carrier: "DHL"},
		Metadata:   map[string]string{"channel": "web"},
	}
	for i := 0; i < items; i++ {
		cmd.Items = append(cmd.Items, saga.OrderItem{SKU: "SKU-" + string(rune('A'+i)), Quantity: 1, Price: 500})
	}
	return cmd
}

func TestBuildStepsOrdering(t *testing.T) {
	f := testStepFactory()
	steps := f.BuildSteps(10, testCommand("ORD-10", 2))
	require.Len(t, steps, 5, "one reservation per item plus payment, shipment and notification")

	assert.Equal(t, saga.ActionReserveInventory, steps[0].Action())
	assert.Equal(t, saga.ActionReserveInventory, steps[1].Action())
	assert.Equal(t, saga.ActionChargePayment, steps[2].Action())
	assert.Equal(t, saga.ActionCreateShipment, steps[3].Action())
	assert.Equal(t, saga.ActionSendNotification, steps[4].Action())

	for i, s := range steps {
		assert.Equal(t, i, s.Index())
		assert.Equal(t, int64(10), s.OrderID())
	}

	assert.Equal(t, "10:000:RESERVE_INVENTORY:inventory", steps[0].StepID())
	assert.Equal(t, "10:002:CHARGE_PAYMENT:payment", steps[2].StepID())

	// The same command yields the same array.
	again := f.BuildSteps(10, testCommand("ORD-10", 2))
	require.Len(t, again, 5)
	for i := range steps {
		assert.Equal(t, steps[i].StepID(), again[i].StepID())
	}
}

func TestOrderStepExecutePassesIdempotencyKey(t *testing.T) {
	var seenKey string
	inventory := NewStubService("inventory", StubRespond(func(req Request) saga.StepResult {
		seenKey = req.IdempotencyKey
		return saga.Succeeded("inv-1")
	}))
	f := NewStepFactory(inventory, NewStubService("payment"), NewStubService("shipping"), NewStubService("notification"))

	steps := f.BuildSteps(11, testCommand("ORD-11", 1))
	res := steps[0].Execute(context.Background())
	assert.Equal(t, saga.StepSucceeded, res.Status)
	assert.Equal(t, steps[0].StepID(), seenKey, "the step id is the idempotency key")
}

func TestCompensationFor(t *testing.T) {
	f := testStepFactory()
	steps := f.BuildSteps(12, testCommand("ORD-12", 1))

	comp := f.CompensationFor(steps[0])
	require.NotNil(t, comp)
	assert.Equal(t, saga.ActionReleaseInventory, comp.Action())
	assert.Equal(t, steps[0].Index(), comp.Index())
	assert.Equal(t, steps[0].OrderID(), comp.OrderID())
	assert.Equal(t, steps[0].StepID(), comp.ToLog().CompensatesFor)

	payComp := f.CompensationFor(steps[1])
	require.NotNil(t, payComp)
	assert.Equal(t, saga.ActionRefundPayment, payComp.Action())

	// Notifications cannot be undone.
	assert.Nil(t, f.CompensationFor(steps[3]))

	// Steps built elsewhere are not compensable by this factory.
	foreign := saga.NewBaseStep(12, 0, saga.ActionReserveInventory, "INVENTORY",
		func(ctx context.Context, stepID string) saga.StepResult { return saga.Succeeded("") }, nil)
	assert.Nil(t, f.CompensationFor(foreign))
}

func TestCompensationStepTargetsSameResources(t *testing.T) {
	var released Request
	inventory := NewStubService("inventory", StubRespond(func(req Request) saga.StepResult {
		if req.Action == saga.ActionReleaseInventory {
			released = req
			return saga.Compensated("rel-1")
		}
		return saga.Succeeded("inv-1")
	}))
	f := NewStepFactory(inventory, NewStubService("payment"), NewStubService("shipping"), NewStubService("notification"))

	steps := f.BuildSteps(13, testCommand("ORD-13", 1))
	steps[0].Execute(context.Background())

	comp := f.CompensationFor(steps[0])
	require.NotNil(t, comp)
	res := comp.Execute(context.Background())
	assert.Equal(t, saga.StepCompensated, res.Status)
	assert.Equal(t, "SKU-A", released.SKU)
	assert.Equal(t, 1, released.Quantity)
}

func TestRestoreFromLog(t *testing.T) {
	f := testStepFactory()
	steps := f.BuildSteps(14, testCommand("ORD-14", 1))

	res := saga.Succeeded("inv-restored")
	restoreFromLog(steps[0], saga.StepLog{StepID: steps[0].StepID(), Result: &res})
	assert.Equal(t, saga.StepSucceeded, steps[0].Status())

	// Bare status without a result still applies.
	restoreFromLog(steps[1], saga.StepLog{StepID: steps[1].StepID(), Status: saga.StepPending})
	assert.Equal(t, saga.StepPending, steps[1].Status())

	// Unknown status is not replayed.
	restoreFromLog(steps[2], saga.StepLog{StepID: steps[2].StepID(), Status: saga.StepUnknown})
	assert.Equal(t, saga.StepUnknown, steps[2].Status())
}
