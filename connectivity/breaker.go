package connectivity

import (
	"context"
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // calls pass through
	BreakerOpen                         // calls rejected immediately
	BreakerHalfOpen                     // trial calls allowed
)

// CircuitBreaker stops calling a failing remote service for a while.
// Safe for concurrent use.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        BreakerState
	failures     int
	successes    int
	threshold    int
	resetTimeout time.Duration
	halfOpenMax  int
	lastFailure  time.Time
	now          func() time.Time
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerThreshold sets the consecutive failures that open the breaker.
func WithBreakerThreshold(n int) BreakerOption {
	return func(cb *CircuitBreaker) { cb.threshold = n }
}

// WithBreakerResetTimeout sets how long the breaker stays open.
func WithBreakerResetTimeout(d time.Duration) BreakerOption {
	return func(cb *CircuitBreaker) { cb.resetTimeout = d }
}

// WithBreakerClock sets the clock (tests).
func WithBreakerClock(fn func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = fn }
}

// NewCircuitBreaker opens after 5 failures, stays open 30s and closes
// again after 2 successful trial calls.
func NewCircuitBreaker(opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		threshold:    5,
		resetTimeout: 30 * time.Second,
		halfOpenMax:  2,
		now:          time.Now,
	}
	for _, o := range opts {
		o(cb)
	}
	return cb
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state != BreakerOpen
}

// Record updates the breaker with the outcome of a call.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err == nil {
		switch cb.state {
		case BreakerHalfOpen:
			cb.successes++
			if cb.successes >= cb.halfOpenMax {
				cb.state, cb.failures, cb.successes = BreakerClosed, 0, 0
			}
		case BreakerClosed:
			cb.failures = 0
		}
		return
	}
	cb.lastFailure = cb.now()
	switch cb.state {
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.threshold {
			cb.state = BreakerOpen
		}
	case BreakerHalfOpen:
		cb.state, cb.successes = BreakerOpen, 0
	}
}

// Do runs fn if the breaker allows it and records the result.
func (cb *CircuitBreaker) Do(ctx context.Context, service string, fn func(context.Context) error) error {
	if !cb.Allow() {
		return &ErrCircuitOpen{Service: service}
	}
	err := fn(ctx)
	cb.Record(err)
	return err
}

// must hold mu
func (cb *CircuitBreaker) maybeHalfOpen() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
		cb.state = BreakerHalfOpen
		cb.successes = 0
	}
}
