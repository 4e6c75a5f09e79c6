package analyst

import (
	"sync"
	"time"
)

// SessionMetrics tracks what happened during one session.
type SessionMetrics struct {
	Steps        int
	ToolCalls    int
	Malformed    int
	Unrecognized int
	QueryErrors  int
	Duration     time.Duration

	mu sync.Mutex
}

func (m *SessionMetrics) update(fn func(*SessionMetrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

// Copy returns a snapshot without the mutex.
func (m *SessionMetrics) Copy() SessionMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	return SessionMetrics{
		Steps:        m.Steps,
		ToolCalls:    m.ToolCalls,
		Malformed:    m.Malformed,
		Unrecognized: m.Unrecognized,
		QueryErrors:  m.QueryErrors,
		Duration:     m.Duration,
	}
}

// Counters exposes the snapshot as abort expression variables.
func (m *SessionMetrics) Counters() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]interface{}{
		CounterSteps:        float64(m.Steps),
		CounterMalformed:    float64(m.Malformed),
		CounterUnrecognized: float64(m.Unrecognized),
		CounterQueryErrors:  float64(m.QueryErrors),
		CounterToolCalls:    float64(m.ToolCalls),
	}
}
