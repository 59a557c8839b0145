package stream

import (
	"context"

	"github.com/benbjohnson/clock"

	"go.viam.com/biosignal/logging"
)

// Sink is a transport endpoint that takes whole frames.
type Sink interface {
	// Send transmits one encoded frame.
	Send(ctx context.Context, frame []byte) error
	// PayloadLimit is the largest frame Send accepts. It may change between calls.
	PayloadLimit() int
}

// Batcher packs samples into frames that fit the payload limit of its sink.
//
// It starts calibrating: samples are appended until the encoded frame exceeds the limit, and
// the number that fit becomes the per-frame budget. The sample that overflowed is carried into
// the next frame. After that every frame holds the budget, unless the limit shrank, in which
// case trailing samples are carried over and the budget shrinks with them. Every sample added
// is sent in exactly one frame.
type Batcher struct {
	sink   Sink
	clock  clock.Clock
	logger logging.Logger

	// Dropped, when set, reports the upstream drop count carried in each frame.
	Dropped func() uint64

	counter    uint32
	maxSamples int
	pending    []Sample
	frame      Frame
}

// NewBatcher returns a calibrating batcher. A nil clock uses the wall clock.
func NewBatcher(sink Sink, clk clock.Clock, logger logging.Logger) *Batcher {
	if clk == nil {
		clk = clock.New()
	}
	return &Batcher{sink: sink, clock: clk, logger: logger}
}

// MaxSamples returns the per-frame budget, or 0 while calibrating.
func (b *Batcher) MaxSamples() int {
	return b.maxSamples
}

// Pending returns how many samples wait for the next frame.
func (b *Batcher) Pending() int {
	return len(b.pending)
}

// PacketCounter returns the counter the next frame will carry.
func (b *Batcher) PacketCounter() uint32 {
	return b.counter
}

// Add queues s and sends the frames that became complete.
func (b *Batcher) Add(ctx context.Context, s Sample) error {
	b.pending = append(b.pending, s)
	if b.maxSamples == 0 {
		return b.calibrate(ctx)
	}
	return b.drain(ctx, false)
}

func (b *Batcher) calibrate(ctx context.Context) error {
	b.stamp()
	limit := b.sink.PayloadLimit()
	n := len(b.pending)
	if b.sizeOf(n) <= limit {
		return nil
	}
	if n == 1 {
		b.logger.Warnw("single sample exceeds payload limit, sending anyway",
			"limit", limit, "size", b.sizeOf(1))
		return b.send(ctx, 1)
	}
	b.maxSamples = n - 1
	b.logger.Debugw("calibrated frame budget", "max_samples", b.maxSamples, "limit", limit)
	if err := b.send(ctx, b.maxSamples); err != nil {
		return err
	}
	return b.drain(ctx, false)
}

// drain sends full frames, or every pending sample when all is set.
func (b *Batcher) drain(ctx context.Context, all bool) error {
	for len(b.pending) > 0 && (all || len(b.pending) >= b.maxSamples) {
		want := len(b.pending)
		if b.maxSamples > 0 && want > b.maxSamples {
			want = b.maxSamples
		}
		b.stamp()
		n := b.fit(want)
		if n < want && b.maxSamples > 0 && n < b.maxSamples {
			b.logger.Infow("payload limit shrank, reducing frame budget",
				"max_samples", n, "previous", b.maxSamples, "limit", b.sink.PayloadLimit())
			b.maxSamples = n
		}
		if err := b.send(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// fit returns how many of the first want pending samples fit the current limit. A single
// sample is always sent.
func (b *Batcher) fit(want int) int {
	limit := b.sink.PayloadLimit()
	n := want
	for n > 1 && b.sizeOf(n) > limit {
		n--
	}
	if n == 1 && b.sizeOf(1) > limit {
		b.logger.Warnw("single sample exceeds payload limit, sending anyway",
			"limit", limit, "size", b.sizeOf(1))
	}
	return n
}

// Flush sends every pending sample without ending calibration.
func (b *Batcher) Flush(ctx context.Context) error {
	return b.drain(ctx, true)
}

// Interrupt sends what was collected and recalibrates on the next sample, since the payload
// limit may differ once streaming resumes.
func (b *Batcher) Interrupt(ctx context.Context) error {
	err := b.drain(ctx, true)
	b.maxSamples = 0
	return err
}

// stamp sets the header of the frame being assembled.
func (b *Batcher) stamp() {
	b.frame.PacketCounter = b.counter
	b.frame.Timestamp = uint64(b.clock.Now().UnixMicro())
	if b.Dropped != nil {
		b.frame.Dropped = b.Dropped()
	}
}

func (b *Batcher) sizeOf(n int) int {
	b.frame.Samples = b.pending[:n]
	return b.frame.Size()
}

// send emits the first n pending samples as one frame. A failed send is logged and the samples
// are not retried; only a context error is returned.
func (b *Batcher) send(ctx context.Context, n int) error {
	b.frame.Samples = b.pending[:n]
	payload := b.frame.Marshal()
	rest := make([]Sample, len(b.pending)-n, cap(b.pending))
	copy(rest, b.pending[n:])
	b.pending = rest
	b.counter++
	if err := b.sink.Send(ctx, payload); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.logger.Warnw("failed to send frame", "packet_counter", b.counter-1, "error", err)
	}
	return nil
}
