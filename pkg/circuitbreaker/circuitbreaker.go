// Package circuitbreaker stops calling a dependency after repeated failures.
// The engine uses it around optional collaborators (the Redis user lock) so a
// failing dependency degrades to the store transaction instead of failing awards.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker's position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned without calling the dependency while the breaker
// is open or its single half-open probe is in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Settings configures a CircuitBreaker. Zero values fall back to one trip
// after 5 failures, a 30s cool-down and 1 probe success to close.
type Settings struct {
	Name string

	// Trip is the number of consecutive failures that opens the breaker.
	Trip int
	// Recover is the number of consecutive half-open successes that closes it.
	Recover int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration

	// IsFailure filters which errors count. Nil counts every error.
	IsFailure func(error) bool
	// OnStateChange observes transitions. It runs under the breaker's lock.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker guards calls to one dependency.
type CircuitBreaker struct {
	s Settings

	mu       sync.Mutex
	state    State
	streak   int // consecutive failures while closed, successes while half-open
	openedAt time.Time
	probing  bool
	now      func() time.Time
}

// New creates a closed breaker.
func New(s Settings) *CircuitBreaker {
	if s.Trip <= 0 {
		s.Trip = 5
	}
	if s.Recover <= 0 {
		s.Recover = 1
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	return &CircuitBreaker{s: s, now: time.Now}
}

// UserLockBreaker returns the breaker for the distributed per-user lock.
// Lock contention is not a failure; only errors accepted by isFailure count.
func UserLockBreaker(isFailure func(error) bool, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(Settings{
		Name:          "user-lock",
		Trip:          3,
		Recover:       1,
		Cooldown:      15 * time.Second,
		IsFailure:     isFailure,
		OnStateChange: onStateChange,
	})
}

// Execute calls fn unless the breaker is open and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.admit() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// State reports the current position.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.s.Cooldown {
			return false
		}
		cb.move(StateHalfOpen)
		cb.probing = true
		return true
	case StateHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	}
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := err != nil && (cb.s.IsFailure == nil || cb.s.IsFailure(err))
	if cb.state == StateHalfOpen {
		cb.probing = false
	}

	switch {
	case failed && cb.state == StateHalfOpen:
		cb.trip()
	case failed:
		cb.streak++
		if cb.streak >= cb.s.Trip {
			cb.trip()
		}
	case cb.state == StateHalfOpen:
		cb.streak++
		if cb.streak >= cb.s.Recover {
			cb.move(StateClosed)
		}
	default:
		cb.streak = 0
	}
}

func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.now()
	cb.move(StateOpen)
}

func (cb *CircuitBreaker) move(to State) {
	from := cb.state
	cb.state = to
	cb.streak = 0
	if from != to && cb.s.OnStateChange != nil {
		cb.s.OnStateChange(cb.s.Name, from, to)
	}
}
