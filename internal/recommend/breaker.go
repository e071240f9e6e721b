package recommend

import (
	"math"
	"sync/atomic"
	"time"
)

const (
	breakerClosed uint32 = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker skips the vector path after repeated store failures.
//
// After threshold consecutive failures it opens for resetAfter. The first
// request after that is let through as a probe; its outcome closes or
// reopens the breaker.
type CircuitBreaker struct {
	failures    atomic.Int32
	threshold   int32
	resetAfter  time.Duration
	state       atomic.Uint32
	lastFailure atomic.Int64 // unix nanos
	now         func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(threshold int32, resetAfter time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &CircuitBreaker{threshold: threshold, resetAfter: resetAfter, now: time.Now}
}

// Allow reports whether a request may use the protected path.
func (cb *CircuitBreaker) Allow() bool {
	for {
		switch cb.state.Load() {
		case breakerOpen:
			if cb.now().Sub(time.Unix(0, cb.lastFailure.Load())) < cb.resetAfter {
				return false
			}
			// Only one caller wins the probe.
			if cb.state.CompareAndSwap(breakerOpen, breakerHalfOpen) {
				return true
			}
		case breakerHalfOpen:
			return false
		default:
			return true
		}
	}
}

// RecordSuccess closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.failures.Store(0)
	cb.state.Store(breakerClosed)
}

// RecordFailure counts a failure and opens the breaker at the threshold.
// A failed probe reopens it immediately.
func (cb *CircuitBreaker) RecordFailure() {
	for {
		current := cb.failures.Load()
		if current == math.MaxInt32 {
			break
		}
		if cb.failures.CompareAndSwap(current, current+1) {
			break
		}
	}
	if cb.failures.Load() < cb.threshold && cb.state.Load() != breakerHalfOpen {
		return
	}
	if cb.state.CompareAndSwap(breakerClosed, breakerOpen) ||
		cb.state.CompareAndSwap(breakerHalfOpen, breakerOpen) {
		cb.lastFailure.Store(cb.now().UnixNano())
	}
}

// Release returns an unused probe. A half-open breaker goes back to open
// with its old failure time, so the next request probes again.
func (cb *CircuitBreaker) Release() {
	cb.state.CompareAndSwap(breakerHalfOpen, breakerOpen)
}

// State returns "closed", "open" or "half-open".
func (cb *CircuitBreaker) State() string {
	switch cb.state.Load() {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
