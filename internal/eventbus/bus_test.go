package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInOrder(t *testing.T) {
	bus := New(8)
	sub := bus.Subscribe(1)

	bus.Publish(1, KindBidPlaced, "first")
	bus.Publish(1, KindBidPlaced, "second")

	ctx := context.Background()
	ev1, ok := sub.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, uint64(1), ev1.Seq)
	assert.Equal(t, "first", ev1.Payload)

	ev2, ok := sub.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, uint64(2), ev2.Seq)
	assert.Equal(t, "second", ev2.Payload)
}

func TestUnsubscribeClosesSubscription(t *testing.T) {
	bus := New(8)
	sub := bus.Subscribe(1)
	bus.Unsubscribe(sub)

	_, ok := sub.Next(context.Background())
	assert.False(t, ok)
	assert.Equal(t, ReasonUnsubscribed, sub.Reason())
}

func TestSlowConsumerIsDisconnectedNotBlocked(t *testing.T) {
	bus := New(2)
	sub := bus.Subscribe(1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(1, KindBidPlaced, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow consumer instead of disconnecting it")
	}

	// Drain whatever made it into the bounded queue before disconnect.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	for {
		_, ok := sub.Next(ctx)
		if !ok {
			break
		}
	}
	assert.Equal(t, ReasonSlowConsumer, sub.Reason())
}

func TestSubscriberCountReflectsLiveSubscribers(t *testing.T) {
	bus := New(8)
	sub1 := bus.Subscribe(5)
	bus.Subscribe(5)
	assert.Equal(t, 2, bus.SubscriberCount(5))

	bus.Unsubscribe(sub1)
	assert.Equal(t, 1, bus.SubscriberCount(5))
}
