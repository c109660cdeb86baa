// Package broadcast provides Hub, the single publish/subscribe primitive used
// to fan release changes out to the orchestration worker and to live
// observers.
//
// Publish never blocks. Each subscriber owns a private queue drained by its
// own goroutine, so a slow reader only affects itself. Bounded subscribers
// drop their oldest pending value on overflow; unbounded subscribers grow.
//
// Basic usage:
//
//	hub := broadcast.New[release.Event]()
//	sub := hub.Subscribe(broadcast.WithBuffer(16))
//	defer sub.Close()
//
//	for ev := range sub.C() {
//	    ...
//	}
package broadcast

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// DefaultBufferSize is the per-subscriber queue length for bounded subscribers.
const DefaultBufferSize = 64

// Hub fans published values out to every live subscription.
//
// All methods are safe for concurrent use.
type Hub[T any] struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription[T]
	closed bool

	logger     *slog.Logger
	bufferSize int
	onDrop     func(name string)
}

// Option configures a Hub.
type Option func(*hubConfig)

type hubConfig struct {
	logger     *slog.Logger
	bufferSize int
	onDrop     func(name string)
}

// WithLogger sets the logger for the hub.
func WithLogger(logger *slog.Logger) Option {
	return func(c *hubConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDefaultBufferSize sets the queue length of bounded subscribers that do
// not choose their own.
func WithDefaultBufferSize(size int) Option {
	return func(c *hubConfig) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

// WithDropHook registers fn to be called with the subscriber name whenever a
// bounded subscriber discards a value.
func WithDropHook(fn func(name string)) Option {
	return func(c *hubConfig) {
		c.onDrop = fn
	}
}

// New creates an empty Hub.
func New[T any](opts ...Option) *Hub[T] {
	cfg := hubConfig{
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Hub[T]{
		subs:       make(map[string]*Subscription[T]),
		logger:     cfg.logger,
		bufferSize: cfg.bufferSize,
		onDrop:     cfg.onDrop,
	}
}

// Subscribe registers a new subscription. Values published after Subscribe
// returns are delivered in publish order. Subscribing to a closed hub
// returns an already closed subscription.
func (h *Hub[T]) Subscribe(opts ...SubscribeOption) *Subscription[T] {
	cfg := subscribeConfig{policy: PolicyDropOldest, bufferSize: h.bufferSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	sub := newSubscription(h, cfg)

	go sub.pump()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.shutdown()
		return sub
	}
	h.subs[sub.id] = sub
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "subscription", sub.id, "name", sub.name, "policy", cfg.policy.String())
	return sub
}

// SubscribeFunc delivers values to fn on a dedicated goroutine until ctx is
// done or the returned cancel function is called.
func (h *Hub[T]) SubscribeFunc(ctx context.Context, fn func(T), opts ...SubscribeOption) (cancel func()) {
	sub := h.Subscribe(opts...)

	go func() {
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case v, ok := <-sub.C():
				if !ok {
					return
				}
				fn(v)
			}
		}
	}()

	return sub.Close
}

// Publish enqueues v for every live subscription. It never blocks on
// subscribers.
func (h *Hub[T]) Publish(v T) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	for _, sub := range h.subs {
		sub.enqueue(v)
	}
}

// Len returns the number of live subscriptions.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscription. Later Publish calls are ignored.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[string]*Subscription[T])
	h.mu.Unlock()

	for _, sub := range subs {
		sub.shutdown()
	}
}

func (h *Hub[T]) remove(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

func (h *Hub[T]) dropped(sub *Subscription[T]) {
	h.logger.Warn("subscriber queue full, dropping oldest value", "subscription", sub.id, "name", sub.name)
	if h.onDrop != nil {
		h.onDrop(sub.name)
	}
}
