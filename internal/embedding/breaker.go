package embedding

import (
	"sync"
	"time"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/clock"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/errs"
)

// breakerState enumerates the three circuit states: CLOSED, OPEN for
// resetTimeout seconds, HALF_OPEN for a single probe.
type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// CircuitBreaker gates calls to one remote model. Failure threshold default
// 3-5; a HALF_OPEN failure reopens, a HALF_OPEN success closes.
type CircuitBreaker struct {
	mu sync.Mutex

	clock        clock.Clock
	failures     int
	threshold    int
	resetTimeout time.Duration
	state        breakerState
	openedAt     time.Time
	halfOpenBusy bool
}

// NewCircuitBreaker builds a breaker with the given failure threshold and
// OPEN-state duration.
func NewCircuitBreaker(c clock.Clock, threshold int, resetTimeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 4
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{clock: c, threshold: threshold, resetTimeout: resetTimeout}
}

// Allow reports whether a call may proceed, transitioning OPEN -> HALF_OPEN
// once resetTimeout has elapsed. Only one HALF_OPEN probe runs at a time.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if b.clock().Sub(b.openedAt) >= b.resetTimeout {
			b.state = stateHalfOpen
			b.halfOpenBusy = true
			return true
		}
		return false
	case stateHalfOpen:
		if b.halfOpenBusy {
			return false
		}
		b.halfOpenBusy = true
		return true
	}
	return false
}

// RecordSuccess closes the circuit and resets the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = stateClosed
	b.halfOpenBusy = false
}

// RecordFailure increments the failure count (or reopens immediately from
// HALF_OPEN), opening the circuit once the threshold is reached.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halfOpenBusy = false
	if b.state == stateHalfOpen {
		b.state = stateOpen
		b.openedAt = b.clock()
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.state = stateOpen
		b.openedAt = b.clock()
	}
}

// ErrOpen wraps errs.ErrCircuitOpen with the model name.
func ErrOpen(model string) error {
	return errs.Wrapf(errs.ErrCircuitOpen, "circuit open for model %q", model)
}
