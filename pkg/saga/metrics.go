package saga

import "time"

// MetricsRecorder receives saga engine measurements. The Prometheus
// implementation lives in pkg/metrics; the engine itself only depends
// on this interface.
type MetricsRecorder interface {
	RecordSagaStarted()
	RecordSagaFinished(status Status, duration time.Duration)
	IncActiveSagas()
	DecActiveSagas()
	RecordStepExecution(action Action, status StepStatus, duration time.Duration)
	RecordCompensation(action Action, success bool)
	RecordRecovery(resumed int)
}

type nopMetrics struct{}

// NopMetrics returns a MetricsRecorder that discards everything.
func NopMetrics() MetricsRecorder { return nopMetrics{} }

func (nopMetrics) RecordSagaStarted()                                    {}
func (nopMetrics) RecordSagaFinished(Status, time.Duration)              {}
func (nopMetrics) IncActiveSagas()                                       {}
func (nopMetrics) DecActiveSagas()                                       {}
func (nopMetrics) RecordStepExecution(Action, StepStatus, time.Duration) {}
func (nopMetrics) RecordCompensation(Action, bool)                       {}
func (nopMetrics) RecordRecovery(int)                                    {}
