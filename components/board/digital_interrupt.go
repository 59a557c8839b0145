package board

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

// Tick represents a signal received by an interrupt pin. This signal is communicated
// via registered channel to the various drivers.
type Tick struct {
	Name             string
	High             bool
	TimestampNanosec uint64
}

// A DigitalInterrupt represents a configured interrupt on the board that
// when interrupted, calls the added callbacks.
type DigitalInterrupt interface {
	// Name returns the name of the interrupt.
	Name() string

	// Value returns the number of edges seen so far.
	Value(ctx context.Context) (int64, error)

	// Tick is to be called either manually if the interrupt is a proxy to some real
	// hardware interrupt or for tests.
	// nanoseconds is from an arbitrary point in time, but always increasing and always needs
	// to be accurate.
	Tick(ctx context.Context, high bool, nanoseconds uint64) error

	// AddCallback adds a listener for interrupts. Delivery never blocks the interrupt source: a
	// callback channel that is full misses the tick.
	AddCallback(c chan Tick)

	// RemoveCallback removes a listener for interrupts.
	RemoveCallback(c chan Tick)
}

// BasicDigitalInterrupt counts edges and fans each one out to its callbacks.
type BasicDigitalInterrupt struct {
	name  string
	count atomic.Int64

	mu        sync.Mutex
	callbacks []chan Tick
}

// NewBasicDigitalInterrupt returns an interrupt with no callbacks.
func NewBasicDigitalInterrupt(name string) *BasicDigitalInterrupt {
	return &BasicDigitalInterrupt{name: name}
}

// Name returns the name of the interrupt.
func (i *BasicDigitalInterrupt) Name() string {
	return i.name
}

// Value returns the number of edges seen so far.
func (i *BasicDigitalInterrupt) Value(ctx context.Context) (int64, error) {
	return i.count.Load(), nil
}

// Tick records an edge and offers it to every callback without blocking.
func (i *BasicDigitalInterrupt) Tick(ctx context.Context, high bool, nanoseconds uint64) error {
	i.count.Inc()

	i.mu.Lock()
	defer i.mu.Unlock()
	for _, c := range i.callbacks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c <- Tick{Name: i.name, High: high, TimestampNanosec: nanoseconds}:
		default:
		}
	}
	return nil
}

// AddCallback adds a listener for interrupts.
func (i *BasicDigitalInterrupt) AddCallback(c chan Tick) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.callbacks = append(i.callbacks, c)
}

// RemoveCallback removes a listener for interrupts.
func (i *BasicDigitalInterrupt) RemoveCallback(c chan Tick) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for id := range i.callbacks {
		if i.callbacks[id] == c {
			i.callbacks[id] = i.callbacks[len(i.callbacks)-1]
			i.callbacks = i.callbacks[:len(i.callbacks)-1]
			return
		}
	}
}
