// Package payrail defines the payment rail boundary: this service never
// captures a payment itself, it only initiates a capture against an
// external processor and reacts to the processor's outcome. Concrete rails
// (stripepay, paypalpay) implement Gateway; CircuitBreaker wraps any
// Gateway to stop hammering a rail that is already failing.
package payrail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Gateway is the boundary every payment rail adapter implements. The core
// never reaches past this interface into a specific processor's SDK.
type Gateway interface {
	InitiateCapture(ctx context.Context, orderID string, amount decimal.Decimal, currency string) (string, error)
	RefundCapture(ctx context.Context, captureID string, amount decimal.Decimal) error
}

// State is a CircuitBreaker's current disposition toward its wrapped rail.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// CircuitBreaker wraps a Gateway and stops issuing calls to a rail that has
// failed maxFailures times in a row, retrying with a single probe call
// after resetTimeout.
type CircuitBreaker struct {
	inner        Gateway
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.Mutex
	failures    int
	state       State
	openedAt    time.Time
}

// NewCircuitBreaker wraps inner with failure-count-based tripping.
func NewCircuitBreaker(inner Gateway, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{inner: inner, maxFailures: maxFailures, resetTimeout: resetTimeout, state: StateClosed}
}

// State reports the breaker's current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked()
}

func (cb *CircuitBreaker) currentStateLocked() State {
	if cb.state == StateOpen && time.Since(cb.openedAt) > cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = StateClosed
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.failures >= cb.maxFailures {
		cb.state = StateOpen
		cb.openedAt = time.Now()
	}
}

func (cb *CircuitBreaker) call(ctx context.Context, fn func() error) error {
	cb.mu.Lock()
	state := cb.currentStateLocked()
	cb.mu.Unlock()

	if state == StateOpen {
		return fmt.Errorf("payment rail circuit open")
	}

	err := fn()
	if err != nil {
		cb.recordFailure()
		log.WithError(err).WithField("state", cb.State()).Warn("payment rail call failed")
		return err
	}
	cb.recordSuccess()
	return nil
}

// InitiateCapture delegates to the wrapped rail unless the breaker is open.
func (cb *CircuitBreaker) InitiateCapture(ctx context.Context, orderID string, amount decimal.Decimal, currency string) (string, error) {
	var captureID string
	err := cb.call(ctx, func() error {
		var err error
		captureID, err = cb.inner.InitiateCapture(ctx, orderID, amount, currency)
		return err
	})
	return captureID, err
}

// RefundCapture delegates to the wrapped rail unless the breaker is open.
func (cb *CircuitBreaker) RefundCapture(ctx context.Context, captureID string, amount decimal.Decimal) error {
	return cb.call(ctx, func() error {
		return cb.inner.RefundCapture(ctx, captureID, amount)
	})
}
