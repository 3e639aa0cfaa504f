package saga

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepIDFormat(t *testing.T) {
	assert.Equal(t, "42:003:CHARGE_PAYMENT:PAYMENT",
		StepID(42, 3, ActionChargePayment, "PAYMENT"))
}

func TestCompensationAction(t *testing.T) {
	comp, ok := ActionReserveInventory.CompensationAction()
	require.True(t, ok)
	assert.Equal(t, ActionReleaseInventory, comp)

	comp, ok = ActionChargePayment.CompensationAction()
	require.True(t, ok)
	assert.Equal(t, ActionRefundPayment, comp)

	_, ok = ActionSendNotification.CompensationAction()
	assert.False(t, ok)

	assert.True(t, ActionReleaseInventory.IsCompensation())
	assert.False(t, ActionReserveInventory.IsCompensation())
}

func TestBaseStepExecute(t *testing.T) {
	var gotID string
	step := NewBaseStep(7, 0, ActionReserveInventory, "INVENTORY",
		func(ctx context.Context, stepID string) StepResult {
			gotID = stepID
			return Succeeded("ref-1")
		}, nil)

	assert.Equal(t, StepUnknown, step.Status())

	res := step.Execute(context.Background())
	assert.Equal(t, StepSucceeded, res.Status)
	assert.Equal(t, "ref-1", res.ExternalRefID)
	assert.Equal(t, step.StepID(), gotID)
	assert.Equal(t, StepSucceeded, step.Status())
	require.NotNil(t, step.Result())
	assert.Equal(t, "ref-1", step.Result().ExternalRefID)
}

func TestBaseStepExecutePanicIsTranslated(t *testing.T) {
	step := NewBaseStep(7, 0, ActionChargePayment, "PAYMENT",
		func(ctx context.Context, stepID string) StepResult {
			panic("boom")
		}, nil)

	res := step.Execute(context.Background())
	assert.Equal(t, StepFailed, res.Status)
	assert.Equal(t, CodeStepPanic, res.ErrorCode)
	assert.Contains(t, res.ErrorMessage, "boom")
	assert.Equal(t, StepFailed, step.Status())
}

func TestBaseStepCompensationPanic(t *testing.T) {
	step := NewBaseStep(7, 0, ActionRefundPayment, "PAYMENT",
		func(ctx context.Context, stepID string) StepResult {
			panic("refund exploded")
		}, nil)

	res := step.Execute(context.Background())
	assert.Equal(t, StepCompensationFailed, res.Status)
	assert.Equal(t, CodeStepPanic, res.ErrorCode)
}

func TestBaseStepQueryReturnsStoredFinalResult(t *testing.T) {
	queried := 0
	step := NewBaseStep(7, 0, ActionReserveInventory, "INVENTORY",
		func(ctx context.Context, stepID string) StepResult {
			return Succeeded("ref-9")
		},
		func(ctx context.Context, stepID string) StepResult {
			queried++
			return Failed(CodeInternalError, "should not be asked")
		})

	step.Execute(context.Background())

	res := step.Query(context.Background())
	assert.Equal(t, StepSucceeded, res.Status)
	assert.Equal(t, "ref-9", res.ExternalRefID)
	assert.Zero(t, queried, "query function must not run once the step is final")
}

func TestBaseStepQueryWithoutSupport(t *testing.T) {
	step := NewBaseStep(7, 0, ActionReserveInventory, "INVENTORY",
		func(ctx context.Context, stepID string) StepResult {
			return Pending("")
		}, nil)
	step.Execute(context.Background())

	res := step.Query(context.Background())
	assert.Equal(t, StepUnknown, res.Status)
	assert.Equal(t, CodeServiceTimeout, res.ErrorCode)
}

func TestBaseStepQueryAppliesSettledResult(t *testing.T) {
	answer := Pending("")
	step := NewBaseStep(7, 0, ActionReserveInventory, "INVENTORY",
		func(ctx context.Context, stepID string) StepResult {
			return Pending("")
		},
		func(ctx context.Context, stepID string) StepResult {
			return answer
		})
	step.Execute(context.Background())

	// Still pending downstream.
	res := step.Query(context.Background())
	assert.Equal(t, StepPending, res.Status)
	assert.Equal(t, StepPending, step.Status())

	// Downstream settled.
	answer = Succeeded("ref-2")
	res = step.Query(context.Background())
	assert.Equal(t, StepSucceeded, res.Status)
	assert.Equal(t, StepSucceeded, step.Status())
}

func TestBaseStepUpdateStatusRefusesFinal(t *testing.T) {
	step := NewBaseStep(7, 0, ActionReserveInventory, "INVENTORY",
		func(ctx context.Context, stepID string) StepResult {
			return Pending("")
		}, nil)
	step.Execute(context.Background())

	assert.True(t, step.UpdateStatus(Succeeded("cb-ref")))
	assert.Equal(t, StepSucceeded, step.Status())

	assert.False(t, step.UpdateStatus(Failed(CodeInternalError, "late callback")))
	assert.Equal(t, StepSucceeded, step.Status())
}

func TestBaseStepToLog(t *testing.T) {
	step := NewBaseStep(42, 1, ActionChargePayment, "PAYMENT",
		func(ctx context.Context, stepID string) StepResult {
			return Succeeded("pay-1")
		}, nil)
	step.Execute(context.Background())

	log := step.ToLog()
	assert.Equal(t, step.StepID(), log.StepID)
	assert.Equal(t, int64(42), log.OrderID)
	assert.Equal(t, 1, log.Index)
	assert.Equal(t, ActionChargePayment, log.Action)
	assert.Equal(t, "PAYMENT", log.ServiceType)
	assert.Equal(t, StepSucceeded, log.Status)
	assert.False(t, log.IsCompensation)
	require.NotNil(t, log.Result)
	assert.Equal(t, "pay-1", log.Result.ExternalRefID)
	require.NotNil(t, log.SentAt)
	require.NotNil(t, log.ReceivedAt)
}

func TestNeedsCompensation(t *testing.T) {
	succeeded := NewBaseStep(1, 0, ActionReserveInventory, "INVENTORY",
		func(ctx context.Context, stepID string) StepResult { return Succeeded("") }, nil)
	succeeded.Execute(context.Background())
	assert.True(t, NeedsCompensation(succeeded))

	failed := NewBaseStep(1, 1, ActionChargePayment, "PAYMENT",
		func(ctx context.Context, stepID string) StepResult { return Failed(CodePaymentDeclined, "") }, nil)
	failed.Execute(context.Background())
	assert.False(t, NeedsCompensation(failed))

	// SEND_NOTIFICATION has no compensation action.
	notify := NewBaseStep(1, 2, ActionSendNotification, "NOTIFICATION",
		func(ctx context.Context, stepID string) StepResult { return Succeeded("") }, nil)
	notify.Execute(context.Background())
	assert.False(t, NeedsCompensation(notify))

	// Compensation steps are never themselves compensated.
	release := NewBaseStep(1, 0, ActionReleaseInventory, "INVENTORY",
		func(ctx context.Context, stepID string) StepResult { return Compensated("") }, nil)
	release.Execute(context.Background())
	assert.False(t, NeedsCompensation(release))
}

func TestStepResultPredicates(t *testing.T) {
	assert.True(t, Succeeded("").IsSuccess())
	assert.True(t, Completed("").IsSuccess())
	assert.True(t, Compensated("").IsSuccess())
	assert.False(t, Pending("").IsSuccess())

	assert.True(t, Succeeded("").ShouldContinue())
	assert.True(t, Completed("").ShouldContinue())
	assert.False(t, Compensated("").ShouldContinue())

	assert.True(t, Pending("").ShouldWait())
	assert.True(t, Unknown("").ShouldWait())
	assert.True(t, StepResult{Status: StepSkipped}.ShouldWait())
	assert.True(t, StepResult{Status: StepExecuting}.ShouldWait())
	assert.True(t, StepResult{Status: StepProcessing}.ShouldWait())
	assert.False(t, Succeeded("").ShouldWait())

	assert.True(t, Failed(CodeInternalError, "").IsFailure())
	assert.True(t, Rejected(CodeInvalidInput, "").IsFailure())
	assert.True(t, CompensationFailed(CodeNetworkError, "").IsFailure())
	assert.False(t, Pending("").IsFailure())

	assert.True(t, Failed(CodeServiceTimeout, "").IsRetryable())
	assert.False(t, Failed(CodePaymentDeclined, "").IsRetryable())
}
