package metrics

import (
	"time"

	"github.com/sagaflow/sagaflow/pkg/saga"
)

// The Manager satisfies the engine's MetricsRecorder port.
var _ saga.MetricsRecorder = (*Manager)(nil)

func (m *Manager) RecordSagaStarted() {
	if !m.enabled {
		return
	}
	m.sagaStarted.Inc()
}

func (m *Manager) RecordSagaFinished(status saga.Status, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.sagaFinished.WithLabelValues(string(status)).Inc()
	m.sagaDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

func (m *Manager) IncActiveSagas() {
	if !m.enabled {
		return
	}
	m.sagaActive.Inc()
}

func (m *Manager) DecActiveSagas() {
	if !m.enabled {
		return
	}
	m.sagaActive.Dec()
}

func (m *Manager) RecordStepExecution(action saga.Action, status saga.StepStatus, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.stepExecutions.WithLabelValues(string(action), string(status)).Inc()
	m.stepDuration.WithLabelValues(string(action)).Observe(duration.Seconds())
}

func (m *Manager) RecordCompensation(action saga.Action, success bool) {
	if !m.enabled {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.compensations.WithLabelValues(string(action), outcome).Inc()
}

func (m *Manager) RecordRecovery(resumed int) {
	if !m.enabled || resumed <= 0 {
		return
	}
	m.recoveries.Add(float64(resumed))
}
