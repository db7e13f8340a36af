package circuit

import (
	"errors"
	"sync"
	"time"

	"deltabot/internal/logger"
)

// ErrOpen is returned by callers that refuse work while the breaker is open.
var ErrOpen = errors.New("circuit open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

type CircuitBreaker struct {
	mu            sync.Mutex
	state         State
	failures      int
	threshold     int
	timeout       time.Duration
	openedAt      time.Time
	probing       bool
	name          string
	nowFn         func() time.Time
	onStateChange func(name string, from, to State)
}

func NewCircuitBreaker(name string, threshold int, timeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		timeout:   timeout,
		state:     StateClosed,
		nowFn:     time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.mu.Lock()
	cb.nowFn = now
	cb.mu.Unlock()
}

// SetStateChangeHandler installs a hook run after every transition, outside the lock.
func (cb *CircuitBreaker) SetStateChangeHandler(handler func(name string, from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = handler
}

func (cb *CircuitBreaker) Name() string { return cb.name }

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Allow reports whether a call may proceed. After the cooldown a single
// probe is let through in half-open; concurrent callers are refused until
// it reports back.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	var fire func()
	allowed := true
	switch cb.state {
	case StateOpen:
		if cb.nowFn().Sub(cb.openedAt) >= cb.timeout {
			fire = cb.transition(StateHalfOpen)
			cb.probing = true
		} else {
			allowed = false
		}
	case StateHalfOpen:
		if cb.probing {
			allowed = false
		} else {
			cb.probing = true
		}
	}
	cb.mu.Unlock()
	if fire != nil {
		fire()
	}
	return allowed
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	var fire func()
	switch cb.state {
	case StateHalfOpen:
		fire = cb.transition(StateClosed)
	}
	cb.failures = 0
	cb.probing = false
	cb.mu.Unlock()
	if fire != nil {
		fire()
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	var fire func()
	cb.failures++
	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.threshold {
			cb.openedAt = cb.nowFn()
			fire = cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.openedAt = cb.nowFn()
		cb.probing = false
		fire = cb.transition(StateOpen)
	}
	cb.mu.Unlock()
	if fire != nil {
		fire()
	}
}

// Release returns an unused half-open probe slot, e.g. when the guarded
// call ended for a reason that says nothing about the remote side.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) transition(to State) func() {
	from := cb.state
	cb.state = to
	handler := cb.onStateChange
	failures := cb.failures
	return func() {
		if handler != nil {
			handler(cb.name, from, to)
			return
		}
		logger.Warnf("CircuitBreaker %s state change: %s -> %s (failures=%d/%d, timeout=%s)",
			cb.name, from, to, failures, cb.threshold, cb.timeout)
	}
}
