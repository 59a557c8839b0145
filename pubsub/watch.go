package pubsub

import "sync"

// Watch holds one value that many receivers can read. Receivers learn that the value changed
// but not how many times; intermediate values are not queued.
type Watch[T any] struct {
	mu      sync.Mutex
	value   T
	version uint64
	waiters []chan struct{}
}

// NewWatch returns a watch holding initial.
func NewWatch[T any](initial T) *Watch[T] {
	return &Watch[T]{value: initial}
}

// Send replaces the value and wakes every receiver.
func (w *Watch[T]) Send(v T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.value = v
	w.version++
	for _, c := range w.waiters {
		close(c)
	}
	w.waiters = nil
}

// Get returns the current value.
func (w *Watch[T]) Get() T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value
}

// Receiver returns a receiver that has seen the current value.
func (w *Watch[T]) Receiver() *Receiver[T] {
	w.mu.Lock()
	defer w.mu.Unlock()
	return &Receiver[T]{watch: w, seen: w.version}
}

// Receiver tracks which version of a Watch it has seen.
type Receiver[T any] struct {
	watch *Watch[T]
	seen  uint64
}

// Changed returns a channel that is closed once the value differs from the last one taken. It
// is already closed if a change is pending.
func (r *Receiver[T]) Changed() <-chan struct{} {
	w := r.watch
	w.mu.Lock()
	defer w.mu.Unlock()
	c := make(chan struct{})
	if w.version != r.seen {
		close(c)
		return c
	}
	w.waiters = append(w.waiters, c)
	return c
}

// Take returns the current value and marks it seen.
func (r *Receiver[T]) Take() T {
	w := r.watch
	w.mu.Lock()
	defer w.mu.Unlock()
	r.seen = w.version
	return w.value
}
