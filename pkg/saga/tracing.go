package saga

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies this package's tracer.
const tracerName = "github.com/sagaflow/sagaflow/pkg/saga"

// Span names used by the engine and handlers.
const (
	spanSagaStart     = "saga.start"
	spanSagaResume    = "saga.resume"
	spanStepExecute   = "saga.step.execute"
	spanStepQuery     = "saga.step.query"
	spanCompensate    = "saga.step.compensate"
	spanRecoverySweep = "saga.recovery.sweep"
)

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
