package resilience

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type CircuitState string

const (
	CircuitStateClosed   CircuitState = "closed"
	CircuitStateOpen     CircuitState = "open"
	CircuitStateHalfOpen CircuitState = "half_open"
)

// CircuitBreaker guards one remote host so a dead club website stops
// consuming the fetch budget. After FailureThreshold consecutive failures it
// rejects calls for OpenTimeout, then lets HalfOpenMaxReq probes through; all
// probes must succeed to close it again.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	// OnStateChange, when set, is called with the lock held on every
	// transition. It must not call back into the breaker.
	OnStateChange func(from, to CircuitState)

	mu       sync.Mutex
	state    CircuitState
	failures int       // consecutive, closed state only
	until    time.Time // end of the open window
	probes   int       // admitted while half-open
	passed   int       // succeeded while half-open
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:   NormalizeCircuitBreakerConfig(cfg),
		now:   time.Now,
		state: CircuitStateClosed,
	}
}

// Execute runs fn when the breaker admits it. isFailure decides whether the
// returned error counts against the breaker; a nil isFailure counts every error.
func (b *CircuitBreaker) Execute(fn func() error, isFailure func(error) bool) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn()
	if err != nil && (isFailure == nil || isFailure(err)) {
		b.RecordFailure()
	} else {
		b.RecordSuccess()
	}
	return err
}

// Allow admits a call or returns ErrCircuitOpen. Every admitted call must be
// followed by RecordSuccess or RecordFailure.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.expireLocked()
	switch b.state {
	case CircuitStateOpen:
		return ErrCircuitOpen
	case CircuitStateHalfOpen:
		if b.probes >= b.cfg.HalfOpenMaxReq {
			return ErrCircuitOpen
		}
		b.probes++
	}
	return nil
}

func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitStateClosed:
		b.failures = 0
	case CircuitStateHalfOpen:
		b.passed++
		if b.passed >= b.cfg.HalfOpenMaxReq {
			b.setLocked(CircuitStateClosed)
		}
	}
}

func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitStateClosed:
		b.failures++
		if b.failures < b.cfg.FailureThreshold {
			return
		}
		b.setLocked(CircuitStateOpen)
	case CircuitStateHalfOpen:
		b.setLocked(CircuitStateOpen)
	case CircuitStateOpen:
		// a late result from before the trip extends the window
		b.until = b.now().Add(b.cfg.OpenTimeout)
	}
}

func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireLocked()
	return b.state
}

func (b *CircuitBreaker) expireLocked() {
	if b.state == CircuitStateOpen && !b.now().Before(b.until) {
		b.setLocked(CircuitStateHalfOpen)
	}
}

func (b *CircuitBreaker) setLocked(to CircuitState) {
	from := b.state
	b.state = to
	b.failures, b.probes, b.passed = 0, 0, 0
	b.until = time.Time{}
	if to == CircuitStateOpen {
		b.until = b.now().Add(b.cfg.OpenTimeout)
	}
	if b.OnStateChange != nil && from != to {
		b.OnStateChange(from, to)
	}
}
