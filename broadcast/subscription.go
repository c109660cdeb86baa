package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Policy decides what a subscription does when its queue is full.
type Policy int

const (
	// PolicyDropOldest discards the oldest pending value to make room.
	PolicyDropOldest Policy = iota

	// PolicyUnbounded never discards; the queue grows as needed.
	PolicyUnbounded
)

// String returns a human-readable policy name.
func (p Policy) String() string {
	switch p {
	case PolicyDropOldest:
		return "drop-oldest"
	case PolicyUnbounded:
		return "unbounded"
	default:
		return "unknown"
	}
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	name       string
	policy     Policy
	bufferSize int
}

// WithBuffer sets the queue length of a bounded subscription.
func WithBuffer(size int) SubscribeOption {
	return func(c *subscribeConfig) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

// WithPolicy sets the overflow policy.
func WithPolicy(p Policy) SubscribeOption {
	return func(c *subscribeConfig) {
		c.policy = p
	}
}

// Unbounded is shorthand for WithPolicy(PolicyUnbounded).
func Unbounded() SubscribeOption {
	return WithPolicy(PolicyUnbounded)
}

// WithName labels the subscription in logs and drop metrics.
func WithName(name string) SubscribeOption {
	return func(c *subscribeConfig) {
		c.name = name
	}
}

// Subscription is a handle on one subscriber's feed.
type Subscription[T any] struct {
	id     string
	name   string
	policy Policy
	limit  int
	hub    *Hub[T]

	mu    sync.Mutex
	queue []T

	out     chan T
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

func newSubscription[T any](hub *Hub[T], cfg subscribeConfig) *Subscription[T] {
	id := uuid.NewString()
	name := cfg.name
	if name == "" {
		name = id
	}

	return &Subscription[T]{
		id:     id,
		name:   name,
		policy: cfg.policy,
		limit:  cfg.bufferSize,
		hub:    hub,
		out:    make(chan T),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// ID returns the unique subscription identifier.
func (s *Subscription[T]) ID() string {
	return s.id
}

// C returns the delivery channel. It is closed after Close.
func (s *Subscription[T]) C() <-chan T {
	return s.out
}

// Dropped returns how many values were discarded on overflow.
func (s *Subscription[T]) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription from the hub and discards pending values.
// It is safe to call more than once.
func (s *Subscription[T]) Close() {
	s.hub.remove(s.id)
	s.shutdown()
}

func (s *Subscription[T]) shutdown() {
	s.once.Do(func() {
		close(s.done)
	})
}

func (s *Subscription[T]) enqueue(v T) {
	s.mu.Lock()
	s.queue = append(s.queue, v)
	overflow := s.policy == PolicyDropOldest && len(s.queue) > s.limit
	if overflow {
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
	}
	s.mu.Unlock()

	if overflow {
		s.dropped.Add(1)
		s.hub.dropped(s)
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) next() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		var zero T
		return zero, false
	}
	v := s.queue[0]
	var zero T
	s.queue[0] = zero
	s.queue = s.queue[1:]
	return v, true
}

// pump moves queued values to the delivery channel one at a time.
func (s *Subscription[T]) pump() {
	defer close(s.out)

	for {
		v, ok := s.next()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}

		select {
		case s.out <- v:
		case <-s.done:
			return
		}
	}
}
