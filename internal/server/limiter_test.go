package server

import (
	"sync"
	"testing"

	"github.com/infodancer/maild/internal/metrics"
)

// rejectCounter records ConnectionRejected calls per protocol.
type rejectCounter struct {
	metrics.NoopCollector
	mu       sync.Mutex
	rejected map[string]int
}

func newRejectCounter() *rejectCounter {
	return &rejectCounter{rejected: make(map[string]int)}
}

func (c *rejectCounter) ConnectionRejected(protocol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejected[protocol]++
}

func (c *rejectCounter) count(protocol string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rejected[protocol]
}

func TestConnectionLimiter_AdmitsUpToLimit(t *testing.T) {
	collector := newRejectCounter()
	limiter := NewConnectionLimiter(metrics.ProtocolPOP3, 2, collector)

	if !limiter.TryAcquire() || !limiter.TryAcquire() {
		t.Fatal("TryAcquire under the limit should succeed")
	}
	if limiter.TryAcquire() {
		t.Fatal("TryAcquire at the limit should fail")
	}

	if got := limiter.Active(); got != 2 {
		t.Errorf("Active() = %d, want 2", got)
	}
	if got := limiter.Rejected(); got != 1 {
		t.Errorf("Rejected() = %d, want 1", got)
	}
	if got := collector.count(metrics.ProtocolPOP3); got != 1 {
		t.Errorf("pop3 rejections reported = %d, want 1", got)
	}
	if got := collector.count(metrics.ProtocolSMTP); got != 0 {
		t.Errorf("smtp rejections reported = %d, want 0", got)
	}
}

func TestConnectionLimiter_ReleaseFreesSlot(t *testing.T) {
	collector := newRejectCounter()
	limiter := NewConnectionLimiter(metrics.ProtocolSMTP, 1, collector)

	if !limiter.TryAcquire() {
		t.Fatal("first TryAcquire should succeed")
	}
	if limiter.TryAcquire() {
		t.Fatal("second TryAcquire should fail")
	}
	limiter.Release()

	if !limiter.TryAcquire() {
		t.Error("TryAcquire after Release should succeed")
	}
	if got := collector.count(metrics.ProtocolSMTP); got != 1 {
		t.Errorf("rejections reported = %d, want 1", got)
	}
}

func TestConnectionLimiter_NilCollector(t *testing.T) {
	limiter := NewConnectionLimiter(metrics.ProtocolPOP3, 0, nil)

	if limiter.TryAcquire() {
		t.Fatal("a zero limit admits nothing")
	}
	if got := limiter.Rejected(); got != 1 {
		t.Errorf("Rejected() = %d, want 1", got)
	}
}

func TestConnectionLimiter_ConcurrentAcquire(t *testing.T) {
	collector := newRejectCounter()
	limiter := NewConnectionLimiter(metrics.ProtocolPOP3, 50, collector)

	var wg sync.WaitGroup
	for i := 0; i < 120; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			limiter.TryAcquire()
		}()
	}
	wg.Wait()

	if got := limiter.Active(); got != 50 {
		t.Errorf("Active() = %d, want 50", got)
	}
	if got := limiter.Rejected(); got != 70 {
		t.Errorf("Rejected() = %d, want 70", got)
	}
	if got := collector.count(metrics.ProtocolPOP3); got != 70 {
		t.Errorf("rejections reported = %d, want 70", got)
	}
}

func TestConnectionLimiter_ConcurrentAcquireRelease(t *testing.T) {
	limiter := NewConnectionLimiter(metrics.ProtocolSMTP, 10, nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if limiter.TryAcquire() {
					limiter.Release()
				}
			}
		}()
	}
	wg.Wait()

	if got := limiter.Active(); got != 0 {
		t.Errorf("Active() after all releases = %d, want 0", got)
	}
}
