package order

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sagaflow/sagaflow/pkg/saga"
)

// metadataCommandKey holds the serialized start command in the saga
// metadata, so steps can be rebuilt deterministically after a reload.
const metadataCommandKey = "order.command"

// Factory creates saga contexts for start commands and rebuilds their
// steps after a reload. It implements both saga.ContextFactory and
// saga.StepRebuilder.
type Factory struct {
	steps    *StepFactory
	validate *validator.Validate

	timeout             time.Duration
	minBudget           time.Duration
	nonUndoable         []saga.Action
	compensationAllowed bool

	lastID atomic.Int64
}

// FactoryOption customizes a Factory.
type FactoryOption func(*Factory)

// FactoryTimeout sets the saga deadline for new contexts.
func FactoryTimeout(d time.Duration) FactoryOption {
	return func(f *Factory) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// FactoryCompensationBudget sets the minimum time reserved for
// compensation.
func FactoryCompensationBudget(d time.Duration) FactoryOption {
	return func(f *Factory) {
		if d > 0 {
			f.minBudget = d
		}
	}
}

// FactoryNonUndoable sets the actions whose success forecloses
// automatic compensation.
func FactoryNonUndoable(actions []saga.Action) FactoryOption {
	return func(f *Factory) { f.nonUndoable = actions }
}

// FactoryCompensationAllowed toggles automatic compensation.
func FactoryCompensationAllowed(allowed bool) FactoryOption {
	return func(f *Factory) { f.compensationAllowed = allowed }
}

// NewFactory builds a context factory over the step factory.
func NewFactory(steps *StepFactory, opts ...FactoryOption) *Factory {
	f := &Factory{
		steps:               steps,
		validate:            validator.New(),
		timeout:             saga.DefaultTimeout,
		minBudget:           saga.MinCompensationBudget,
		compensationAllowed: true,
	}
	f.lastID.Store(time.Now().UnixMilli() * 1000)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create validates the command and builds a context with its forward
// steps attached. Saga ids are time-seeded and strictly increasing
// within the process.
func (f *Factory) Create(cmd saga.StartCommand) (*saga.SagaContext, error) {
	if err := f.validate.Struct(cmd); err != nil {
		return nil, fmt.Errorf("invalid start command: %w", err)
	}

	orderID := f.lastID.Add(1)
	sc := saga.NewSagaContext(orderID, cmd.OrderNo, cmd.CustomerID)
	sc.Timeout = f.timeout
	sc.SetMinCompensationBudget(f.minBudget)
	sc.CompensationAllowed = f.compensationAllowed
	if f.nonUndoable != nil {
		sc.SetNonUndoableActions(f.nonUndoable)
	}

	for k, v := range cmd.Metadata {
		sc.Metadata[k] = v
	}
	raw, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("serialize start command: %w", err)
	}
	sc.Metadata[metadataCommandKey] = string(raw)

	sc.SetSteps(f.steps.BuildSteps(orderID, cmd))
	return sc, nil
}

// Rebuild reconstructs the forward step array from the command stored
// in the saga metadata and replays the persisted outcomes onto it.
// Compensation steps are rebuilt lazily by the reverting flow.
func (f *Factory) Rebuild(sc *saga.SagaContext, logs []saga.StepLog) ([]saga.Step, error) {
	raw, ok := sc.Metadata[metadataCommandKey]
	if !ok {
		return nil, fmt.Errorf("saga %d has no stored start command", sc.OrderID)
	}
	var cmd saga.StartCommand
	if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
		return nil, fmt.Errorf("decode stored start command: %w", err)
	}

	steps := f.steps.BuildSteps(sc.OrderID, cmd)
	byID := make(map[string]saga.Step, len(steps))
	for _, s := range steps {
		byID[s.StepID()] = s
	}
	for _, l := range logs {
		if l.IsCompensation {
			continue
		}
		if step, found := byID[l.StepID]; found {
			restoreFromLog(step, l)
		}
	}
	return steps, nil
}

// CompensationFor exposes the step factory's compensation builder in
// the shape the reverting handler expects.
func (f *Factory) CompensationFor(forward saga.Step) saga.Step {
	return f.steps.CompensationFor(forward)
}
