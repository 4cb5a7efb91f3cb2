package payrail

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRail struct {
	failNext int
	calls    int
}

func (f *fakeRail) InitiateCapture(ctx context.Context, orderID string, amount decimal.Decimal, currency string) (string, error) {
	f.calls++
	if f.failNext > 0 {
		f.failNext--
		return "", errors.New("processor unavailable")
	}
	return "cap_" + orderID, nil
}

func (f *fakeRail) RefundCapture(ctx context.Context, captureID string, amount decimal.Decimal) error {
	return nil
}

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	rail := &fakeRail{failNext: 3}
	cb := NewCircuitBreaker(rail, 2, time.Minute)

	_, err := cb.InitiateCapture(context.Background(), "order1", decimal.NewFromInt(10), "USD")
	require.Error(t, err)
	assert.Equal(t, StateClosed, cb.State())

	_, err = cb.InitiateCapture(context.Background(), "order1", decimal.NewFromInt(10), "USD")
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())

	_, err = cb.InitiateCapture(context.Background(), "order1", decimal.NewFromInt(10), "USD")
	require.Error(t, err)
	assert.Equal(t, 2, rail.calls, "breaker should short-circuit the third call without reaching the rail")
}

func TestCircuitBreakerHalfOpensAfterResetTimeout(t *testing.T) {
	rail := &fakeRail{failNext: 2}
	cb := NewCircuitBreaker(rail, 2, 10*time.Millisecond)

	for i := 0; i < 2; i++ {
		_, _ = cb.InitiateCapture(context.Background(), "order1", decimal.NewFromInt(10), "USD")
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	captureID, err := cb.InitiateCapture(context.Background(), "order1", decimal.NewFromInt(10), "USD")
	require.NoError(t, err)
	assert.Equal(t, "cap_order1", captureID)
	assert.Equal(t, StateClosed, cb.State())
}
