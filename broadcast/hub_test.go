package broadcast_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/brencher/broadcast"
)

func receive[T any](t *testing.T, sub *broadcast.Subscription[T]) T {
	t.Helper()
	select {
	case v, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestPublishOrderPerSubscriber(t *testing.T) {
	hub := broadcast.New[int]()
	defer hub.Close()

	a := hub.Subscribe(broadcast.Unbounded())
	b := hub.Subscribe(broadcast.Unbounded())

	for i := 0; i < 100; i++ {
		hub.Publish(i)
	}

	for i := 0; i < 100; i++ {
		assert.Equal(t, i, receive(t, a))
		assert.Equal(t, i, receive(t, b))
	}
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	var drops atomic.Int64
	hub := broadcast.New[int](broadcast.WithDropHook(func(string) { drops.Add(1) }))
	defer hub.Close()

	slow := hub.Subscribe(broadcast.WithBuffer(4), broadcast.WithName("slow"))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	assert.Positive(t, slow.Dropped())
	assert.Equal(t, int64(slow.Dropped()), drops.Load())

	// The newest value always survives drop-oldest.
	var last int
	for {
		select {
		case v := <-slow.C():
			last = v
			continue
		case <-time.After(100 * time.Millisecond):
		}
		break
	}
	assert.Equal(t, 999, last)
}

func TestUnboundedNeverDrops(t *testing.T) {
	hub := broadcast.New[int](broadcast.WithDefaultBufferSize(2))
	defer hub.Close()

	sub := hub.Subscribe(broadcast.Unbounded())
	for i := 0; i < 500; i++ {
		hub.Publish(i)
	}
	for i := 0; i < 500; i++ {
		require.Equal(t, i, receive(t, sub))
	}
	assert.Zero(t, sub.Dropped())
}

func TestCloseSubscription(t *testing.T) {
	hub := broadcast.New[string]()
	defer hub.Close()

	sub := hub.Subscribe()
	require.Equal(t, 1, hub.Len())

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.Len())

	_, ok := <-sub.C()
	assert.False(t, ok)

	hub.Publish("ignored")
}

func TestHubCloseClosesSubscribers(t *testing.T) {
	hub := broadcast.New[string]()
	sub := hub.Subscribe()
	hub.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)

	late := hub.Subscribe()
	_, ok = <-late.C()
	assert.False(t, ok)

	hub.Publish("after close")
	hub.Close()
}

func TestSubscribeFunc(t *testing.T) {
	hub := broadcast.New[int]()
	defer hub.Close()

	var (
		mu  sync.Mutex
		got []int
	)
	cancel := hub.SubscribeFunc(context.Background(), func(v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	}, broadcast.Unbounded())

	hub.Publish(1)
	hub.Publish(2)
	hub.Publish(3)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return hub.Len() == 0 }, time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []int{1, 2, 3}, got)
	mu.Unlock()
}

func TestSubscribeFuncStopsOnContext(t *testing.T) {
	hub := broadcast.New[int]()
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	hub.SubscribeFunc(ctx, func(int) {})
	require.Equal(t, 1, hub.Len())

	cancel()
	require.Eventually(t, func() bool { return hub.Len() == 0 }, time.Second, 10*time.Millisecond)
}
