package coordinator

import (
	"sync"
	"sync/atomic"
	"time"
)

// rollingWindow bounds how many recent per-event processing durations the
// Metrics snapshot averages over, per spec.md §4.6 "rolling average
// processing time (last 1000 events)".
const rollingWindow = 1000

// Metrics is the in-process counter set the Stream Coordinator exposes,
// independent of the Prometheus registrations in internal/metrics (those
// are cumulative and process-wide; this is the coordinator's own
// point-in-time view, the same split the teacher's worker pool keeps
// between promauto counters and QueueDepth()).
type Metrics struct {
	mu sync.Mutex

	processedCount int64
	errorCount     int64
	lastProcessed  time.Time
	durations      []time.Duration
	durationsHead  int

	running atomic.Bool
	bufSize atomic.Int64
}

func newMetrics() *Metrics {
	return &Metrics{durations: make([]time.Duration, 0, rollingWindow)}
}

func (m *Metrics) recordEvent(d time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.processedCount++
	if failed {
		m.errorCount++
	}
	m.lastProcessed = time.Now().UTC()

	if len(m.durations) < rollingWindow {
		m.durations = append(m.durations, d)
	} else {
		m.durations[m.durationsHead] = d
		m.durationsHead = (m.durationsHead + 1) % rollingWindow
	}
}

func (m *Metrics) setBufferSize(n int) { m.bufSize.Store(int64(n)) }
func (m *Metrics) setRunning(r bool)   { m.running.Store(r) }

// Snapshot is a point-in-time copy of the coordinator's exposed metrics.
type Snapshot struct {
	ProcessedCount    int64
	ErrorCount        int64
	LastProcessed     time.Time
	AvgProcessingTime time.Duration
	CurrentBufferSize int64
	Running           bool
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var avg time.Duration
	if len(m.durations) > 0 {
		var total time.Duration
		for _, d := range m.durations {
			total += d
		}
		avg = total / time.Duration(len(m.durations))
	}

	return Snapshot{
		ProcessedCount:    m.processedCount,
		ErrorCount:        m.errorCount,
		LastProcessed:     m.lastProcessed,
		AvgProcessingTime: avg,
		CurrentBufferSize: m.bufSize.Load(),
		Running:           m.running.Load(),
	}
}
