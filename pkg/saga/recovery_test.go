package saga

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeperRunOnceEmpty(t *testing.T) {
	factory := &scriptedFactory{build: func(id int64) []Step { return nil }}
	h := newEngineHarness(t, factory, compensateWith(Compensated("")))

	sweeper := NewSweeper(h.engine, h.repo, WithSweepStaleness(time.Minute))
	n, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweeperRecoversParkedSaga(t *testing.T) {
	settled := false
	factory := &scriptedFactory{build: func(id int64) []Step {
		return []Step{
			scriptedWithQuery(id, 0, ActionReserveInventory, "INVENTORY", Pending("inv-async"), func() StepResult {
				if settled {
					return Succeeded("inv-settled")
				}
				return Pending("inv-async")
			}),
			scripted(id, 1, ActionChargePayment, "PAYMENT", Succeeded("")),
		}
	}}
	h := newEngineHarness(t, factory, compensateWith(Compensated("")))
	ctx := context.Background()

	sc := h.engine.Start(ctx, startCmd("ORD-sweep"))
	require.Equal(t, StatusPending, sc.Status)

	sweeper := NewSweeper(h.engine, h.repo, WithSweepStaleness(time.Minute), WithSweepLimit(10))

	// A freshly parked saga is inside the staleness window and is left
	// alone.
	n, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Backdate the stored record past the staleness window.
	h.repo.mu.Lock()
	h.repo.sagas[sc.OrderID].UpdatedAt = time.Now().Add(-2 * time.Minute)
	h.repo.mu.Unlock()

	settled = true
	n, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := h.repo.FindByID(ctx, sc.OrderID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, stored.Status)
}

func TestSweeperSkipsTerminalSagas(t *testing.T) {
	factory := &scriptedFactory{build: func(id int64) []Step {
		return []Step{scripted(id, 0, ActionReserveInventory, "INVENTORY", Succeeded(""))}
	}}
	h := newEngineHarness(t, factory, compensateWith(Compensated("")))
	ctx := context.Background()

	sc := h.engine.Start(ctx, startCmd("ORD-sweep-done"))
	require.Equal(t, StatusSuccess, sc.Status)

	h.repo.mu.Lock()
	h.repo.sagas[sc.OrderID].UpdatedAt = time.Now().Add(-time.Hour)
	h.repo.mu.Unlock()

	sweeper := NewSweeper(h.engine, h.repo, WithSweepStaleness(time.Minute))
	n, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweeperStartStop(t *testing.T) {
	factory := &scriptedFactory{build: func(id int64) []Step { return nil }}
	h := newEngineHarness(t, factory, compensateWith(Compensated("")))

	sweeper := NewSweeper(h.engine, h.repo, WithSweepInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper.Start(ctx)
	sweeper.Start(ctx) // second start is a no-op
	time.Sleep(30 * time.Millisecond)
	sweeper.Stop()
	sweeper.Stop() // second stop is a no-op
}
