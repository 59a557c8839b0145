package pubsub

import "sync"

// Signal is a single slot holding the latest request. A new Signal overwrites one that was not
// taken yet, so a burst of requests collapses into the last one.
type Signal[T any] struct {
	mu    sync.Mutex
	value T
	set   bool
	ready chan struct{}
}

// NewSignal returns an empty signal.
func NewSignal[T any]() *Signal[T] {
	return &Signal[T]{ready: make(chan struct{}, 1)}
}

// Signal stores v, replacing any pending value.
func (s *Signal[T]) Signal(v T) {
	s.mu.Lock()
	s.value = v
	s.set = true
	s.mu.Unlock()
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Wait returns a channel that receives once a value is pending. After receiving, call Take.
func (s *Signal[T]) Wait() <-chan struct{} {
	return s.ready
}

// Take returns the pending value and clears the slot.
func (s *Signal[T]) Take() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.value, s.set
	var zero T
	s.value, s.set = zero, false
	return v, ok
}

// Reset clears the slot without reading it.
func (s *Signal[T]) Reset() {
	s.Take()
	select {
	case <-s.ready:
	default:
	}
}
