// Package pubsub holds the primitives that connect the acquisition loop to its consumers: a
// bounded fan-out Channel, a latest-value Watch and a single-slot Signal.
package pubsub

import (
	"sync"

	"go.uber.org/atomic"
)

// DefaultCapacity is the queue depth of a subscriber that does not ask for one.
const DefaultCapacity = 32

// Channel fans values out to every subscriber. Each subscriber has its own bounded queue, so a
// slow subscriber loses values instead of slowing the publisher or other subscribers.
type Channel[T any] struct {
	mu     sync.Mutex
	subs   []*Subscriber[T]
	closed bool
}

// NewChannel returns a channel without subscribers.
func NewChannel[T any]() *Channel[T] {
	return &Channel[T]{}
}

// Subscriber receives the values published after it subscribed.
type Subscriber[T any] struct {
	ch      chan T
	parent  *Channel[T]
	dropped atomic.Uint64
	once    sync.Once
}

// Subscribe adds a subscriber with the default queue depth.
func (c *Channel[T]) Subscribe() *Subscriber[T] {
	return c.SubscribeWithCapacity(DefaultCapacity)
}

// SubscribeWithCapacity adds a subscriber with the given queue depth.
func (c *Channel[T]) SubscribeWithCapacity(capacity int) *Subscriber[T] {
	if capacity < 1 {
		capacity = 1
	}
	s := &Subscriber[T]{ch: make(chan T, capacity), parent: c}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	c.subs = append(c.subs, s)
	return s
}

// TryPublish offers v to every subscriber without blocking and returns how many of them had a
// full queue and missed it.
func (c *Channel[T]) TryPublish(v T) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	missed := 0
	for _, s := range c.subs {
		select {
		case s.ch <- v:
		default:
			s.dropped.Inc()
			missed++
		}
	}
	return missed
}

// NumSubscribers returns the current subscriber count.
func (c *Channel[T]) NumSubscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Close closes every subscriber queue. Values already queued can still be received.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, s := range c.subs {
		s.once.Do(func() { close(s.ch) })
	}
	c.subs = nil
}

func (c *Channel[T]) remove(s *Subscriber[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, sub := range c.subs {
		if sub == s {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	s.once.Do(func() { close(s.ch) })
}

// C returns the queue. It is closed when the subscriber or the channel is closed.
func (s *Subscriber[T]) C() <-chan T {
	return s.ch
}

// Dropped returns how many values this subscriber missed because its queue was full.
func (s *Subscriber[T]) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes.
func (s *Subscriber[T]) Close() {
	s.parent.remove(s)
}
