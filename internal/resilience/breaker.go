package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/fjacquet/archer_ops/internal/logging"
)

// ErrCircuitOpen is returned while a breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State of a CircuitBreaker.
type State string

// Breaker states.
const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Breaker defaults.
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
)

// BreakerState is a snapshot for reporting.
type BreakerState struct {
	State        State `json:"state"`
	FailureCount int   `json:"failure_count"`
	Threshold    int   `json:"threshold"`
}

// CircuitBreaker stops calling a failing dependency for a recovery window.
type CircuitBreaker struct {
	threshold int
	recovery  time.Duration
	now       func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
}

// NewCircuitBreaker returns a closed breaker. Non-positive arguments take
// the defaults.
func NewCircuitBreaker(threshold int, recovery time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if recovery <= 0 {
		recovery = DefaultRecoveryTimeout
	}
	return &CircuitBreaker{threshold: threshold, recovery: recovery, now: time.Now, state: StateClosed}
}

// Call runs fn unless the breaker is open.
func (b *CircuitBreaker) Call(fn func() error) error {
	b.mu.Lock()
	if b.state == StateOpen {
		if b.now().Sub(b.lastFailure) <= b.recovery {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		logging.Component("resilience").Info("Circuit breaker half-open")
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		if b.state == StateHalfOpen {
			logging.Component("resilience").Info("Circuit breaker closed")
		}
		b.state = StateClosed
		b.failures = 0
		return nil
	}
	b.failures++
	b.lastFailure = b.now()
	if b.failures >= b.threshold || b.state == StateHalfOpen {
		if b.state != StateOpen {
			logging.Component("resilience").WithField("failures", b.failures).Warn("Circuit breaker open")
		}
		b.state = StateOpen
	}
	return err
}

// Snapshot returns the current state.
func (b *CircuitBreaker) Snapshot() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerState{State: b.state, FailureCount: b.failures, Threshold: b.threshold}
}
