package bwo

import "sync"

// capSemaphore is a resizable counting semaphore gating how many transfers
// may be active at once. storj.io/common/sync2.Limiter provides the same
// bounded-concurrency idea but assumes it owns the goroutine running the
// admitted work (Go(ctx, fn) blocks until fn returns); here admission and
// completion are two separate externally-driven calls (updateProgress/
// complete/fail arrive from the I/O executor later), so capacity is tracked
// directly rather than through Limiter's run-and-release API. Resizing
// changes the capacity in place, which sync2.Limiter has no API for.
type capSemaphore struct {
	mu       sync.Mutex
	capacity int
	inUse    int
}

func newCapSemaphore(capacity int) *capSemaphore {
	return &capSemaphore{capacity: capacity}
}

// tryAcquire admits one more active transfer if under capacity.
func (s *capSemaphore) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inUse >= s.capacity {
		return false
	}
	s.inUse++
	return true
}

func (s *capSemaphore) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inUse > 0 {
		s.inUse--
	}
}

// resize replaces the capacity, per spec section 4.B's "on path change"
// recompute. It never forcibly evicts in-use slots; callers that need to
// shed active tasks down to the new cap do so by pausing tasks explicitly
// and calling release for each.
func (s *capSemaphore) resize(capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capacity = capacity
}

func (s *capSemaphore) used() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse
}

func (s *capSemaphore) cap() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}
