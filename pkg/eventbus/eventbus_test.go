package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type testEvent struct {
	ID int
}

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	bus := New[testEvent]()
	defer bus.Shutdown()

	ch1, cancel1 := bus.Subscribe(context.Background())
	defer cancel1()
	ch2, cancel2 := bus.Subscribe(context.Background())
	defer cancel2()

	delivered := bus.Publish(testEvent{ID: 1})
	assert.Equal(t, 2, delivered)

	assert.Equal(t, 1, (<-ch1).ID)
	assert.Equal(t, 1, (<-ch2).ID)
}

func TestBus_PreservesPublishOrderPerSubscriber(t *testing.T) {
	bus := New[testEvent]()
	defer bus.Shutdown()

	ch, cancel := bus.Subscribe(context.Background())
	defer cancel()

	for i := 0; i < 10; i++ {
		bus.Publish(testEvent{ID: i})
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, i, (<-ch).ID)
	}
}

func TestBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewWithBuffer[testEvent](2)
	defer bus.Shutdown()

	_, cancel := bus.Subscribe(context.Background())
	defer cancel()

	// Nobody is draining; the buffer fills and the rest drop.
	for i := 0; i < 10; i++ {
		bus.Publish(testEvent{ID: i})
	}

	assert.Equal(t, uint64(8), bus.Dropped())
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := New[testEvent]()
	defer bus.Shutdown()

	_, cancel := bus.Subscribe(context.Background())
	cancel()

	delivered := bus.Publish(testEvent{ID: 1})
	assert.Zero(t, delivered)
}

func TestBus_ContextCancellationUnsubscribes(t *testing.T) {
	bus := New[testEvent]()
	defer bus.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	_, cleanup := bus.Subscribe(ctx)
	defer cleanup()

	cancel()
	require.Eventually(t, func() bool {
		return bus.Publish(testEvent{ID: 1}) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestBus_ShutdownIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := New[testEvent]()
	ch, cancel := bus.Subscribe(context.Background())
	defer cancel()
	_ = ch

	bus.Shutdown()
	bus.Shutdown()

	assert.Zero(t, bus.Publish(testEvent{ID: 1}))

	// Subscribing after shutdown yields a closed channel.
	closedCh, cleanup := bus.Subscribe(context.Background())
	defer cleanup()
	_, open := <-closedCh
	assert.False(t, open)
}
