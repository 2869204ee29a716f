package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fjacquet/archer_ops/internal/logging"
	log "github.com/sirupsen/logrus"
)

// Retry defaults.
const (
	DefaultInitialInterval = time.Second
	DefaultMultiplier      = 2.0
)

// RetryOption configures a RetryManager.
type RetryOption func(*RetryManager)

// WithInitialInterval sets the first backoff delay.
func WithInitialInterval(d time.Duration) RetryOption {
	return func(m *RetryManager) { m.initial = d }
}

// WithBreakerSettings sets the threshold and recovery window of the
// breakers created by the manager.
func WithBreakerSettings(threshold int, recovery time.Duration) RetryOption {
	return func(m *RetryManager) {
		m.threshold = threshold
		m.recovery = recovery
	}
}

// RetryManager retries operations with exponential backoff. The retry budget
// comes from the classification of each failure, and every key has its own
// circuit breaker around the whole retry sequence.
type RetryManager struct {
	initial   time.Duration
	threshold int
	recovery  time.Duration

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRetryManager creates a manager.
func NewRetryManager(opts ...RetryOption) *RetryManager {
	m := &RetryManager{
		initial:  DefaultInitialInterval,
		breakers: map[string]*CircuitBreaker{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Breaker returns the breaker of key, creating it on first use.
func (m *RetryManager) Breaker(key string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[key]
	if !ok {
		b = NewCircuitBreaker(m.threshold, m.recovery)
		m.breakers[key] = b
	}
	return b
}

// Breakers returns a snapshot of every breaker.
func (m *RetryManager) Breakers() map[string]BreakerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]BreakerState, len(m.breakers))
	for k, b := range m.breakers {
		out[k] = b.Snapshot()
	}
	return out
}

func (m *RetryManager) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.initial
	b.Multiplier = DefaultMultiplier
	b.RandomizationFactor = 0
	b.MaxInterval = m.initial * 64
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do runs fn until it succeeds, fails with a non-retryable error, exhausts
// the retry budget of its classification, or ctx ends. An empty key skips the
// circuit breaker.
func (m *RetryManager) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	run := func() error { return m.retry(ctx, key, fn) }
	if key == "" {
		return run()
	}
	return m.Breaker(key).Call(run)
}

func (m *RetryManager) retry(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	attempt := 0
	op := func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		class := Classify(err)
		if !class.Retryable || attempt >= class.MaxRetries {
			return backoff.Permanent(err)
		}
		attempt++
		return err
	}
	notify := func(err error, wait time.Duration) {
		logging.Component("resilience").WithFields(log.Fields{
			"key":     key,
			"attempt": attempt,
			"wait":    wait.String(),
		}).Warnf("Retrying after error: %v", err)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(m.newBackOff(), ctx), notify)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
