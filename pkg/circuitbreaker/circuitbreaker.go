package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State of the breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// ErrOpen is returned when the breaker rejects a call without invoking the
// downstream.
var ErrOpen = errors.New("circuit breaker is open")

type Settings struct {
	Name string
	// MaxFailures consecutive failures trip the breaker CLOSED -> OPEN.
	MaxFailures int
	// OpenTimeout is how long the breaker stays OPEN before allowing one
	// probe call (HALF_OPEN).
	OpenTimeout time.Duration
}

// CircuitBreaker is an explicit CLOSED/OPEN/HALF_OPEN state machine. Callers
// wrap every downstream invocation in Execute; the breaker consults its state
// before invoking and records the outcome after.
type CircuitBreaker struct {
	name        string
	maxFailures int
	openTimeout time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	now      func() time.Time
}

func NewCircuitBreaker(settings Settings) *CircuitBreaker {
	if settings.MaxFailures <= 0 {
		settings.MaxFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		name:        settings.Name,
		maxFailures: settings.MaxFailures,
		openTimeout: settings.OpenTimeout,
		state:       StateClosed,
		now:         time.Now,
	}
}

// State returns the current state, applying the OPEN -> HALF_OPEN timeout.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.openTimeout {
		cb.state = StateHalfOpen
	}
	return cb.state
}

// Execute invokes fn unless the breaker is OPEN. In HALF_OPEN a single
// success closes the breaker; a failure reopens it.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	if cb.currentState() == StateOpen {
		cb.mu.Unlock()
		return ErrOpen
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
			cb.state = StateOpen
			cb.openedAt = cb.now()
		}
		return err
	}
	cb.state = StateClosed
	cb.failures = 0
	return nil
}
