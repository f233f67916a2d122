// Package breaker implements the per-backend three-state circuit breaker
// and the manager that owns one breaker per backend address.
package breaker

import (
	"sync"
	"time"
)

// State is one of the three circuit-breaker states.
type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// DefaultHalfOpenMaxRequests is used when a Config leaves HalfOpenMaxRequests
// unset.
const DefaultHalfOpenMaxRequests = 3

// Config parameterizes one breaker.
type Config struct {
	Threshold           int
	Timeout             time.Duration
	HalfOpenMaxRequests int

	// OnTransition, if set, is invoked synchronously whenever a breaker
	// built from this Config changes state — used to feed the metrics
	// collector's open/half-open transition counters. Called while the
	// breaker's own lock is held, so it must not call back into the
	// breaker.
	OnTransition func(from, to State)
}

func (c Config) normalized() Config {
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = DefaultHalfOpenMaxRequests
	}
	if c.Threshold <= 0 {
		c.Threshold = 1
	}
	return c
}

// Breaker guards one backend address.
type Breaker struct {
	cfg Config

	mu              sync.Mutex
	state           State
	failureCount    uint32
	successCount    uint32
	lastFailureTime time.Time
	hasFailed       bool
}

// New creates a breaker in the Closed state.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg.normalized(), state: Closed}
}

// AllowRequest reports whether a request may proceed, performing the
// Open→HalfOpen timeout transition as a side effect when due.
func (b *Breaker) AllowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.hasFailed && time.Since(b.lastFailureTime) >= b.cfg.Timeout {
			b.transitionLocked(HalfOpen)
			b.successCount = 0
			return true
		}
		return false
	case HalfOpen:
		return b.successCount < uint32(b.cfg.HalfOpenMaxRequests)
	}
	return false
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failureCount = 0
	case HalfOpen:
		b.successCount++
		if b.successCount >= uint32(b.cfg.HalfOpenMaxRequests) {
			b.toClosedLocked()
		}
	case Open:
		// No-op: the API contract says this should not happen if the
		// caller always checks AllowRequest first.
	}
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= uint32(b.cfg.Threshold) {
			b.toOpenLocked(now)
		}
	case Open:
		b.lastFailureTime = now
		b.hasFailed = true
	case HalfOpen:
		b.toOpenLocked(now)
	}
}

// State returns the current state (does not trigger the timeout transition
// — call AllowRequest for that).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to exactly the state of a newly
// constructed breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failureCount = 0
	b.successCount = 0
	b.hasFailed = false
	b.lastFailureTime = time.Time{}
}

func (b *Breaker) toOpenLocked(now time.Time) {
	b.transitionLocked(Open)
	b.lastFailureTime = now
	b.hasFailed = true
}

func (b *Breaker) toClosedLocked() {
	b.transitionLocked(Closed)
	b.failureCount = 0
	b.successCount = 0
	b.hasFailed = false
}

// transitionLocked updates state and fires cfg.OnTransition, if set, with
// the old and new states. Called with b.mu held.
func (b *Breaker) transitionLocked(to State) {
	from := b.state
	b.state = to
	if b.cfg.OnTransition != nil && from != to {
		b.cfg.OnTransition(from, to)
	}
}
