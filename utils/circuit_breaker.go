package utils

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	default:
		return "open"
	}
}

type Counts struct {
	Requests            uint32
	Failures            uint32
	ConsecutiveFailures uint32
}

type BreakerSettings struct {
	// MinRequests in the current window before the failure ratio is considered.
	MinRequests  uint32
	FailureRatio float64
	// Window resets the counts while closed.
	Window time.Duration
	// Cooldown is how long the breaker stays open before one trial call is let through.
	Cooldown time.Duration
}

// CircuitBreaker stops calling a failing dependency for a cooldown period.
type CircuitBreaker struct {
	name     string
	settings BreakerSettings
	now      func() time.Time

	mu      sync.Mutex
	state   State
	counts  Counts
	expiry  time.Time
	probing bool
}

func NewCircuitBreaker(name string, settings BreakerSettings) *CircuitBreaker {
	if settings.MinRequests == 0 {
		settings.MinRequests = 10
	}
	if settings.FailureRatio <= 0 {
		settings.FailureRatio = 0.6
	}
	if settings.Window <= 0 {
		settings.Window = time.Minute
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 30 * time.Second
	}
	cb := &CircuitBreaker{
		name:     name,
		settings: settings,
		now:      time.Now,
		state:    StateClosed,
	}
	cb.expiry = cb.now().Add(settings.Window)
	return cb
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState(cb.now())
}

// Execute runs fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.before(); err != nil {
		return err
	}

	defer func() {
		if e := recover(); e != nil {
			cb.after(false)
			panic(e)
		}
	}()

	err := fn()
	cb.after(err == nil)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState(cb.now()) {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	cb.counts.Requests++
	return nil
}

func (cb *CircuitBreaker) after(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	state := cb.currentState(now)

	if state == StateHalfOpen {
		cb.probing = false
		if success {
			cb.reset(StateClosed, now)
		} else {
			cb.reset(StateOpen, now)
		}
		return
	}

	if success {
		cb.counts.ConsecutiveFailures = 0
		return
	}
	cb.counts.Failures++
	cb.counts.ConsecutiveFailures++
	if cb.counts.Requests >= cb.settings.MinRequests &&
		float64(cb.counts.Failures)/float64(cb.counts.Requests) >= cb.settings.FailureRatio {
		cb.reset(StateOpen, now)
	}
}

func (cb *CircuitBreaker) currentState(now time.Time) State {
	switch cb.state {
	case StateClosed:
		if now.After(cb.expiry) {
			cb.reset(StateClosed, now)
		}
	case StateOpen:
		if now.After(cb.expiry) {
			cb.state = StateHalfOpen
			cb.counts = Counts{}
		}
	}
	return cb.state
}

func (cb *CircuitBreaker) reset(state State, now time.Time) {
	cb.state = state
	cb.counts = Counts{}
	switch state {
	case StateClosed:
		cb.expiry = now.Add(cb.settings.Window)
	case StateOpen:
		cb.expiry = now.Add(cb.settings.Cooldown)
	}
}
