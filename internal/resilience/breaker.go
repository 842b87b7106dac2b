package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrCircuitOpen is returned when the breaker rejects a call outright.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// Breaker is a consecutive-failure circuit breaker for a single upstream.
// After Threshold consecutive failures it rejects calls for ResetAfter,
// then lets one probe through; a probe failure reopens the circuit.
type Breaker struct {
	threshold  int
	resetAfter time.Duration

	mu       sync.Mutex
	failures int
	openedAt time.Time
	open     bool

	now func() time.Time // test hook
}

// NewBreaker creates a breaker. Non-positive arguments get defaults
// (5 failures, 30s reset).
func NewBreaker(threshold int, resetAfter time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetAfter <= 0 {
		resetAfter = 30 * time.Second
	}
	return &Breaker{threshold: threshold, resetAfter: resetAfter, now: time.Now}
}

// Allow reports whether a call may proceed. In the open state it returns
// ErrCircuitOpen until ResetAfter has elapsed, then admits a single probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil
	}
	if b.now().Sub(b.openedAt) >= b.resetAfter {
		// Half-open: admit the probe. Record decides what happens next.
		return nil
	}
	return ErrCircuitOpen
}

// Record feeds a call outcome into the breaker. Only transient errors count
// toward the threshold; a permanent error says nothing about upstream health.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !IsTransient(err) {
		b.failures = 0
		b.open = false
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.open = true
		b.openedAt = b.now()
	}
}

// Open reports whether the circuit is currently rejecting calls.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open && b.now().Sub(b.openedAt) < b.resetAfter
}
