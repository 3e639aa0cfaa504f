package order

import (
	"context"

	"github.com/sagaflow/sagaflow/pkg/saga"
)

// Service type names used in step ids.
const (
	ServiceInventory    = "INVENTORY"
	ServicePayment      = "PAYMENT"
	ServiceShipping     = "SHIPPING"
	ServiceNotification = "NOTIFICATION"
)

// orderStep binds a saga step to a downstream service call, keeping
// the request payload so the compensation step can target the same
// resources.
type orderStep struct {
	*saga.BaseStep
	svc Service
	req Request
}

func newOrderStep(orderID int64, index int, action saga.Action, svc Service, req Request) *orderStep {
	s := &orderStep{svc: svc, req: req}
	s.req.OrderID = orderID
	s.req.Action = action
	exec := func(ctx context.Context, stepID string) saga.StepResult {
		r := s.req
		r.IdempotencyKey = stepID
		return s.svc.Execute(ctx, r)
	}
	query := func(ctx context.Context, stepID string) saga.StepResult {
		r := s.req
		r.IdempotencyKey = stepID
		return s.svc.Query(ctx, r)
	}
	s.BaseStep = saga.NewBaseStep(orderID, index, action, svc.Name(), exec, query)
	return s
}

// StepFactory builds forward and compensation steps over the four
// downstream services.
type StepFactory struct {
	Inventory    Service
	Payment      Service
	Shipping     Service
	Notification Service
}

// NewStepFactory wires the step factory.
func NewStepFactory(inventory, payment, shipping, notification Service) *StepFactory {
	return &StepFactory{
		Inventory:    inventory,
		Payment:      payment,
		Shipping:     shipping,
		Notification: notification,
	}
}

// BuildSteps materializes the forward step array for an order: one
// inventory reservation per line item, then payment, shipment and
// notification. Step ids derive from the saga id and position, so the
// same command always yields the same array.
func (f *StepFactory) BuildSteps(orderID int64, cmd saga.StartCommand) []saga.Step {
	steps := make([]saga.Step, 0, len(cmd.Items)+3)
	index := 0

	for _, item := range cmd.Items {
		steps = append(steps, newOrderStep(orderID, index, saga.ActionReserveInventory, f.Inventory, Request{
			SKU:      item.SKU,
			Quantity: item.Quantity,
			Amount:   item.Price,
			Metadata: cmd.Metadata,
		}))
		index++
	}

	steps = append(steps, newOrderStep(orderID, index, saga.ActionChargePayment, f.Payment, Request{
		Amount:   cmd.Payment.Amount,
		Metadata: cmd.Metadata,
	}))
	index++

	steps = append(steps, newOrderStep(orderID, index, saga.ActionCreateShipment, f.Shipping, Request{
		Address:  cmd.Shipping.Address,
		Metadata: cmd.Metadata,
	}))
	index++

	steps = append(steps, newOrderStep(orderID, index, saga.ActionSendNotification, f.Notification, Request{
		Metadata: cmd.Metadata,
	}))

	return steps
}

// CompensationFor builds the undo step for a succeeded forward step.
// Returns nil for actions without a compensation or for steps not
// built by this factory.
func (f *StepFactory) CompensationFor(forward saga.Step) saga.Step {
	compAction, ok := forward.Action().CompensationAction()
	if !ok {
		return nil
	}
	fwd, ok := forward.(*orderStep)
	if !ok {
		return nil
	}
	svc := f.serviceFor(compAction)
	if svc == nil {
		return nil
	}
	comp := newOrderStep(forward.OrderID(), forward.Index(), compAction, svc, fwd.req)
	comp.SetCompensatesFor(forward.StepID())
	return comp
}

func (f *StepFactory) serviceFor(action saga.Action) Service {
	switch action {
	case saga.ActionReserveInventory, saga.ActionReleaseInventory:
		return f.Inventory
	case saga.ActionChargePayment, saga.ActionRefundPayment:
		return f.Payment
	case saga.ActionCreateShipment, saga.ActionCancelShipment:
		return f.Shipping
	case saga.ActionSendNotification:
		return f.Notification
	default:
		return nil
	}
}

// restoreFromLog applies a persisted outcome to a rebuilt step.
func restoreFromLog(step saga.Step, l saga.StepLog) {
	if l.Result != nil {
		step.UpdateStatus(*l.Result)
		return
	}
	if l.Status != "" && l.Status != saga.StepUnknown {
		step.UpdateStatus(saga.StepResult{Status: l.Status})
	}
}
