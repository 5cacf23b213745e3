package server

import (
	"sync/atomic"

	"github.com/infodancer/maild/internal/metrics"
)

// ConnectionLimiter caps the concurrent sessions of one protocol. Each
// refusal is counted and reported to the collector under that protocol.
type ConnectionLimiter struct {
	protocol  string
	limit     int64
	collector metrics.Collector

	active   atomic.Int64
	rejected atomic.Int64
}

// NewConnectionLimiter creates a limiter admitting at most limit sessions
// of protocol. A nil collector discards the rejection metric.
func NewConnectionLimiter(protocol string, limit int, collector metrics.Collector) *ConnectionLimiter {
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	return &ConnectionLimiter{
		protocol:  protocol,
		limit:     int64(limit),
		collector: collector,
	}
}

// TryAcquire takes a session slot. At capacity it records the refusal
// and returns false.
func (l *ConnectionLimiter) TryAcquire() bool {
	for {
		active := l.active.Load()
		if active >= l.limit {
			l.rejected.Add(1)
			l.collector.ConnectionRejected(l.protocol)
			return false
		}
		if l.active.CompareAndSwap(active, active+1) {
			return true
		}
	}
}

// Release returns a slot taken by TryAcquire.
func (l *ConnectionLimiter) Release() {
	l.active.Add(-1)
}

// Active returns the number of slots in use.
func (l *ConnectionLimiter) Active() int64 {
	return l.active.Load()
}

// Rejected returns how many connections were refused since creation.
func (l *ConnectionLimiter) Rejected() int64 {
	return l.rejected.Load()
}
