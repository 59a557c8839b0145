package stream

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"go.viam.com/biosignal/components/ads1299"
	"go.viam.com/biosignal/logging"
	"go.viam.com/biosignal/pubsub"
)

// DefaultInterval is how often an interval streamer flushes, about 30 frames per second.
const DefaultInterval = 33 * time.Millisecond

// Streamer feeds one subscription of the sample fan-out through a Batcher into a Sink.
type Streamer struct {
	name      string
	sink      Sink
	sub       *pubsub.Subscriber[ads1299.Batch]
	streaming *pubsub.Receiver[bool]
	interval  time.Duration
	clock     clock.Clock
	logger    logging.Logger
}

// NewNotifyStreamer returns a streamer that sends a frame as soon as it is full.
func NewNotifyStreamer(
	name string,
	sink Sink,
	sub *pubsub.Subscriber[ads1299.Batch],
	streaming *pubsub.Receiver[bool],
	clk clock.Clock,
	logger logging.Logger,
) *Streamer {
	return newStreamer(name, sink, sub, streaming, 0, clk, logger)
}

// NewIntervalStreamer returns a streamer that also sends whatever it holds every interval. A
// zero interval uses DefaultInterval.
func NewIntervalStreamer(
	name string,
	sink Sink,
	sub *pubsub.Subscriber[ads1299.Batch],
	streaming *pubsub.Receiver[bool],
	interval time.Duration,
	clk clock.Clock,
	logger logging.Logger,
) *Streamer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return newStreamer(name, sink, sub, streaming, interval, clk, logger)
}

func newStreamer(
	name string,
	sink Sink,
	sub *pubsub.Subscriber[ads1299.Batch],
	streaming *pubsub.Receiver[bool],
	interval time.Duration,
	clk clock.Clock,
	logger logging.Logger,
) *Streamer {
	if clk == nil {
		clk = clock.New()
	}
	return &Streamer{
		name:      name,
		sink:      sink,
		sub:       sub,
		streaming: streaming,
		interval:  interval,
		clock:     clk,
		logger:    logger,
	}
}

// Name returns the streamer name used in logs.
func (s *Streamer) Name() string {
	return s.name
}

// Run consumes batches until ctx is done or the subscription is closed. When streaming turns
// off, the partial frame is sent and the frame budget is recalibrated on the next sample.
func (s *Streamer) Run(ctx context.Context) error {
	b := NewBatcher(s.sink, s.clock, s.logger)
	b.Dropped = s.sub.Dropped

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := s.clock.Ticker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	s.logger.Debugw("streamer started", "name", s.name, "interval", s.interval)
	defer s.logger.Debugw("streamer stopped", "name", s.name, "packets", b.PacketCounter())

	changed := s.streaming.Changed()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			enabled := s.streaming.Take()
			changed = s.streaming.Changed()
			if !enabled {
				if err := b.Interrupt(ctx); err != nil {
					return ignoreCanceled(ctx, err)
				}
			}
		case batch, ok := <-s.sub.C():
			if !ok {
				return ignoreCanceled(ctx, b.Flush(ctx))
			}
			if len(batch) == 0 {
				continue
			}
			if err := b.Add(ctx, SampleFromBatch(batch)); err != nil {
				return ignoreCanceled(ctx, err)
			}
		case <-tick:
			if err := b.Flush(ctx); err != nil {
				return ignoreCanceled(ctx, err)
			}
		}
	}
}

func ignoreCanceled(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
