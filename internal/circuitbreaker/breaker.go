// Package circuitbreaker implements a small closed/open/half-open breaker,
// adapted from the teacher's internal/circuitbreaker/breaker.go for the API
// Pool's per-endpoint exponential-backoff quarantine (spec.md §4.2).
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

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
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker implements a circuit breaker with exponential backoff on the
// open-timeout, capped at maxAttempts quarantine cycles before it stops
// extending the timeout further (spec.md §4.2: "max attempts configurable,
// default 5").
type Breaker struct {
	mu sync.Mutex

	state            State
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
	baseOpenTimeout  time.Duration
	maxAttempts      int
	attempt          int
	openedAt         time.Time
	onStateChange    func(from, to State)
}

type Config struct {
	FailureThreshold int
	SuccessThreshold int
	BaseOpenTimeout  time.Duration
	MaxAttempts      int
	OnStateChange    func(from, to State)
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.BaseOpenTimeout <= 0 {
		cfg.BaseOpenTimeout = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Breaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		baseOpenTimeout:  cfg.BaseOpenTimeout,
		maxAttempts:      cfg.MaxAttempts,
		onStateChange:    cfg.OnStateChange,
	}
}

// Allow reports whether a call should be attempted right now, transitioning
// open -> half-open once the (exponentially backed-off) timeout elapses.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.currentTimeout() {
			b.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

func (b *Breaker) currentTimeout() time.Duration {
	timeout := b.baseOpenTimeout
	for i := 0; i < b.attempt && i < b.maxAttempts; i++ {
		timeout *= 2
	}
	return timeout
}

// RecordSuccess reports a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.attempt = 0
			b.failureCount = 0
			b.successCount = 0
			b.transition(StateClosed)
		}
	case StateClosed:
		b.failureCount = 0
	}
}

// RecordFailure reports a failed call, opening the breaker once the
// failure threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.openBreaker()
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			b.openBreaker()
		}
	}
}

func (b *Breaker) openBreaker() {
	b.successCount = 0
	b.failureCount = 0
	if b.attempt < b.maxAttempts {
		b.attempt++
	}
	b.openedAt = time.Now()
	b.transition(StateOpen)
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.onStateChange != nil && from != to {
		b.onStateChange(from, to)
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
