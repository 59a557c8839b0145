package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.viam.com/biosignal/components/ads1299"
	"go.viam.com/biosignal/config"
	"go.viam.com/biosignal/data"
	"go.viam.com/biosignal/logging"
	"go.viam.com/biosignal/profile"
	"go.viam.com/biosignal/pubsub"
	"go.viam.com/biosignal/services/acquisition"
	"go.viam.com/biosignal/stream"
	"go.viam.com/biosignal/transport/udp"
)

// shutdownTimeout bounds stopping the chain and releasing the board once the service is
// interrupted.
const shutdownTimeout = 10 * time.Second

// RunAction runs the service until the context of c is done.
func RunAction(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.Close()
	logger := env.logger

	if name := c.String(flagProfile); name != "" {
		if err := env.store.SetCurrent(name); err != nil {
			return err
		}
	}
	if id := c.String(flagSessionID); id != "" {
		if err := env.store.SetSessionID(id); err != nil {
			return err
		}
	}

	ctx := c.Context
	b, err := openBoard(ctx, env.cfg, env.sampleRate(), logger.Sublogger("board"))
	if err != nil {
		return err
	}
	manager := newManager(env, b)
	task := manager.Task()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		manager.Close()
		if err := multierr.Combine(task.Close(closeCtx), b.Close(closeCtx)); err != nil {
			logger.Warnw("error shutting down", "error", err)
		}
	}()
	if env.cfg.Recorder.Enabled {
		manager.SetRecorder(newRecorder(env), env.store.SessionID)
	}

	if _, err := env.store.AcquisitionConfig(env.store.Current()); errors.Is(err, profile.ErrNoConfig) {
		logger.Infow("profile has no acquisition config, probing the chain", "profile", env.store.Current())
		if err := manager.Handle(ctx, acquisition.EventResetConfig); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for idx := range env.cfg.Transports {
		sink, err := startTransport(gctx, g, &env.cfg.Transports[idx], task, logger)
		if err != nil {
			return multierr.Combine(err, g.Wait())
		}
		defer func() {
			logger.Debugw("closing transport", "address", sink.LocalAddr(), "error", sink.Close())
		}()
	}
	g.Go(func() error {
		return env.store.Watch(gctx, func() {
			if err := manager.Handle(gctx, acquisition.EventConfigChanged); err != nil {
				logger.Warnw("failed to apply changed profile", "error", err)
			}
		})
	})
	if c.Bool(flagStdinEvents) {
		// The scanner cannot be interrupted, so it is left out of the group.
		go readEvents(gctx, os.Stdin, manager, logger)
	}

	if env.cfg.Recorder.Enabled && env.cfg.Recorder.AutoStart {
		if err := manager.Handle(gctx, acquisition.EventStartRecording); err != nil {
			logger.Errorw("failed to start recording", "error", err)
		}
	}
	if !c.Bool(flagIdle) {
		if err := manager.Handle(gctx, acquisition.EventStartStream); err != nil {
			logger.Errorw("failed to start streaming", "error", err)
		}
	}
	logger.Infow("service running", "profile", env.store.Current(), "transports", len(env.cfg.Transports))
	return g.Wait()
}

// startTransport dials one transport and feeds it from its own subscription.
func startTransport(
	ctx context.Context,
	g *errgroup.Group,
	tc *config.TransportConfig,
	task *acquisition.Task,
	logger logging.Logger,
) (*udp.Sink, error) {
	attrs := tc.ConvertedAttributes
	tlogger := logger.Sublogger("transport." + tc.Name)
	sink, err := udp.Dial(ctx, *attrs, tlogger)
	if err != nil {
		return nil, errors.Wrapf(err, "starting transport %q", tc.Name)
	}
	var sub *pubsub.Subscriber[ads1299.Batch]
	if attrs.QueueDepth > 0 {
		sub = task.Samples().SubscribeWithCapacity(attrs.QueueDepth)
	} else {
		sub = task.Samples().Subscribe()
	}

	var streamer *stream.Streamer
	switch tc.Type {
	case config.TransportInterval:
		streamer = stream.NewIntervalStreamer(tc.Name, sink, sub, task.StreamingReceiver(), attrs.Interval, clock.New(), tlogger)
	default:
		streamer = stream.NewNotifyStreamer(tc.Name, sink, sub, task.StreamingReceiver(), clock.New(), tlogger)
	}
	g.Go(func() error {
		defer sub.Close()
		return streamer.Run(ctx)
	})
	tlogger.Infow("transport started", "type", tc.Type, "address", attrs.Address, "payload_limit", sink.PayloadLimit())
	return sink, nil
}

// newRecorder builds the recorder behind the start_recording and stop_recording events.
func newRecorder(env *environment) *data.Recorder {
	rc := env.cfg.Recorder
	return data.NewRecorder(data.RecorderConfig{
		Dir:          rc.Dir,
		BatchSize:    rc.BatchSize,
		QueueDepth:   rc.QueueDepth,
		MinFreeBytes: uint64(rc.MinFreeMB) << 20,
	}, nil, env.logger.Sublogger("recorder"))
}

// readEvents handles one event name per line of r until ctx is done or r is exhausted.
func readEvents(ctx context.Context, r io.Reader, manager *acquisition.Manager, logger logging.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		evCtx := ctx
		// "debug <event>" logs the handling of that one event at debug level.
		if name, ok := strings.CutPrefix(line, "debug "); ok {
			line = strings.TrimSpace(name)
			evCtx = logging.WithDebug(ctx, line)
		}
		ev, err := acquisition.ParseEvent(line)
		if err != nil {
			logger.Warnw("ignoring unknown event", "input", line)
			continue
		}
		if err := manager.Handle(evCtx, ev); err != nil {
			logger.Warnw("event failed", "event", ev, "error", err)
		}
	}
}

// ProbeAction resets the chain once and reports the channel count.
func ProbeAction(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := c.Context
	b, err := openBoard(ctx, env.cfg, env.sampleRate(), env.logger.Sublogger("board"))
	if err != nil {
		return err
	}
	manager := newManager(env, b)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		manager.Close()
		if err := multierr.Combine(manager.Task().Close(closeCtx), b.Close(closeCtx)); err != nil {
			env.logger.Warnw("error shutting down", "error", err)
		}
	}()

	if c.Bool(flagWriteConfig) {
		if err := manager.Handle(ctx, acquisition.EventResetConfig); err != nil {
			return err
		}
		return manager.Handle(ctx, acquisition.EventPrintConfig)
	}
	n, err := manager.Task().ProbeChannels(ctx)
	if err != nil {
		return err
	}
	printf(c, "%d channels on %d chip selects\n", n, len(env.cfg.Board.SPI.ChipSelects))
	return manager.Task().PowerDown(ctx)
}
