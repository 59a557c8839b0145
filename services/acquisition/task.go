package acquisition

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"golang.org/x/time/rate"

	"go.viam.com/biosignal/components/ads1299"
	"go.viam.com/biosignal/components/board"
	"go.viam.com/biosignal/logging"
	"go.viam.com/biosignal/pubsub"
)

// ErrNoDevices is returned by Start when no chip select answered the reset.
var ErrNoDevices = errors.New("no acquisition devices detected")

// ErrBusy is returned by operations that need the bus while a session owns it.
var ErrBusy = errors.New("acquisition session is running")

const teardownTimeout = 5 * time.Second

// TaskConfig describes the chain a Task drives.
type TaskConfig struct {
	ChipSelects []string
	Bus         ads1299.BusParams
	// Delayer paces the reset sequence. Nil waits on the wall clock.
	Delayer ads1299.Delayer
}

// A Task owns the frontend while a session streams. Start opens the session synchronously and a
// worker then services data-ready edges until Stop, a bus error or Close. Batches are filtered
// through the channel mask of the active config and published on Samples without blocking.
type Task struct {
	board  board.Board
	cfg    TaskConfig
	logger logging.Logger

	samples   *pubsub.Channel[ads1299.Batch]
	streaming *pubsub.Watch[bool]
	signal    *pubsub.Signal[*Config]
	// stop is kept apart from signal so a later config cannot overwrite a pending stop.
	stop     *pubsub.Signal[struct{}]
	dropWarn rate.Sometimes
	workers  *utils.StoppableWorkers

	// opMu serializes the operations that take the bus.
	opMu sync.Mutex

	mu          sync.Mutex
	state       State
	done        chan struct{}
	active      *Config
	numChannels int
	lastErr     error
	poweredDown bool
}

// NewTask returns a stopped task for the chain on b.
func NewTask(b board.Board, cfg TaskConfig, logger logging.Logger) *Task {
	if cfg.Delayer == nil {
		cfg.Delayer = ads1299.ClockDelayer{}
	}
	if cfg.Bus == (ads1299.BusParams{}) {
		cfg.Bus = ads1299.DefaultBusParams
	}
	return &Task{
		board:     b,
		cfg:       cfg,
		logger:    logger,
		samples:   pubsub.NewChannel[ads1299.Batch](),
		streaming: pubsub.NewWatch(false),
		signal:    pubsub.NewSignal[*Config](),
		stop:      pubsub.NewSignal[struct{}](),
		dropWarn:  rate.Sometimes{Interval: time.Second},
		workers:   utils.NewBackgroundStoppableWorkers(),
	}
}

// Samples is the fan-out every filtered batch is published on.
func (t *Task) Samples() *pubsub.Channel[ads1299.Batch] {
	return t.samples
}

// StreamingReceiver returns a new receiver of the streaming flag.
func (t *Task) StreamingReceiver() *pubsub.Receiver[bool] {
	return t.streaming.Receiver()
}

// State returns the session state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the error that ended the last session, if any.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// ActiveConfig returns a copy of the config of the running session, or nil.
func (t *Task) ActiveConfig() *Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active.Clone()
}

// PoweredDown reports whether the chain was left powered down.
func (t *Task) PoweredDown() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.poweredDown
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

type session struct {
	handle   board.SPIHandle
	frontend *ads1299.Frontend
	mask     ChannelMask
}

// close releases the data-ready callback and the bus.
func (s *session) close() error {
	s.frontend.Close()
	return s.handle.Close()
}

// Start resets the chain, applies cfg, arms streaming and hands the session to a worker. Start
// on a running task is a logged no-op. Zero detected devices and a config whose channel count
// does not match the chain are errors; the chain is then powered down and the bus released.
func (t *Task) Start(ctx context.Context, cfg *Config) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if st := t.State(); st.Running() {
		t.logger.Infow("start requested while running, ignoring", "state", st)
		return nil
	}
	if err := cfg.Validate("config"); err != nil {
		return err
	}
	cfg = cfg.Clone()

	t.setState(StateStarting)
	sess, layout, err := t.open(ctx, cfg)
	if err != nil {
		t.mu.Lock()
		t.state = StateStopped
		t.lastErr = err
		t.poweredDown = true
		t.mu.Unlock()
		return err
	}

	t.signal.Reset()
	t.stop.Reset()
	done := make(chan struct{})
	t.mu.Lock()
	t.state = StateStreaming
	t.done = done
	t.active = cfg
	t.numChannels = layout.NumChannels()
	t.lastErr = nil
	t.poweredDown = false
	t.mu.Unlock()
	t.streaming.Send(true)
	t.logger.Infow("streaming started", "devices", layout.NumDevices(), "channels", layout.NumChannels(),
		"active_channels", sess.mask.NumActive(), "sample_rate", cfg.SampleRate)

	t.workers.Add(func(ctx context.Context) {
		defer close(done)
		t.teardown(sess, t.run(ctx, sess))
	})
	return nil
}

func (t *Task) open(ctx context.Context, cfg *Config) (*session, ChannelLayout, error) {
	handle, err := t.board.SPI().OpenHandle()
	if err != nil {
		return nil, ChannelLayout{}, errors.Wrap(err, "locking bus")
	}
	pins, err := ads1299.PinsFromBoard(t.board)
	if err != nil {
		return nil, ChannelLayout{}, multierr.Combine(err, handle.Close())
	}
	sess := &session{
		handle:   handle,
		frontend: ads1299.NewFrontend(handle, t.cfg.ChipSelects, t.cfg.Bus, pins, t.logger),
	}
	fail := func(err error) (*session, ChannelLayout, error) {
		return nil, ChannelLayout{}, multierr.Combine(err, sess.frontend.PowerDown(ctx), sess.close())
	}

	if err := sess.frontend.Reset(ctx, t.cfg.Delayer); err != nil {
		return fail(errors.Wrap(err, "resetting chain"))
	}
	t.logger.CDebugw(ctx, "chain reset", "channel_counts", sess.frontend.ChannelCounts())
	if len(sess.frontend.Devices()) == 0 {
		return fail(ErrNoDevices)
	}
	layout, err := Apply(ctx, sess.frontend.Devices(), cfg, t.logger)
	if err != nil {
		return fail(err)
	}
	if sess.mask, err = NewChannelMask(layout, cfg); err != nil {
		return fail(err)
	}
	if err := sess.frontend.StartStream(ctx); err != nil {
		return fail(errors.Wrap(err, "starting stream"))
	}
	return sess, layout, nil
}

// run services the session until it is asked to stop or the bus fails.
func (t *Task) run(ctx context.Context, sess *session) error {
	for {
		if _, ok := t.stop.Take(); ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.stop.Wait():
			return nil
		case <-t.signal.Wait():
			cfg, ok := t.signal.Take()
			if !ok || cfg == nil {
				continue
			}
			if err := t.reconfigure(ctx, sess, cfg); err != nil {
				return err
			}
		case tick := <-sess.frontend.DataReady():
			if tick.High {
				continue
			}
			batch, err := sess.frontend.ReadBatch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return errors.Wrap(err, "reading batch")
			}
			t.publish(sess.mask.Filter(batch))
		}
	}
}

func (t *Task) publish(batch ads1299.Batch) {
	if len(batch) == 0 {
		return
	}
	if missed := t.samples.TryPublish(batch); missed > 0 {
		t.dropWarn.Do(func() {
			t.logger.Warnw("sample consumers are behind, dropping batch", "subscribers_missed", missed)
		})
	}
}

// reconfigure swaps the config of a running session: stop the stream, apply, rebuild the mask,
// start again. Any error here is a bus error and ends the session.
func (t *Task) reconfigure(ctx context.Context, sess *session, cfg *Config) error {
	t.setState(StateReconfiguring)
	if err := sess.frontend.StopStream(ctx); err != nil {
		return errors.Wrap(err, "stopping stream for reconfiguration")
	}
	layout, err := Apply(ctx, sess.frontend.Devices(), cfg, t.logger)
	if err != nil {
		return errors.Wrap(err, "applying config")
	}
	mask, err := NewChannelMask(layout, cfg)
	if err != nil {
		return err
	}
	if err := sess.frontend.StartStream(ctx); err != nil {
		return errors.Wrap(err, "restarting stream")
	}
	sess.mask = mask

	t.mu.Lock()
	t.state = StateStreaming
	t.active = cfg
	t.mu.Unlock()
	t.logger.Infow("config applied while streaming", "active_channels", mask.NumActive())
	return nil
}

// teardown leaves the chain idle. A session that ended on an error also powers the chain down.
func (t *Task) teardown(sess *session, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	var err error
	if runErr != nil {
		t.logger.Errorw("acquisition session failed, powering down", "error", runErr)
		err = sess.frontend.PowerDown(ctx)
	} else {
		err = sess.frontend.StopStream(ctx)
	}
	err = multierr.Combine(err, sess.close())
	if err != nil {
		t.logger.Warnw("error releasing acquisition chain", "error", err)
	}

	t.mu.Lock()
	t.state = StateStopped
	t.active = nil
	t.numChannels = 0
	t.lastErr = runErr
	if runErr != nil {
		t.poweredDown = true
	}
	t.mu.Unlock()
	t.streaming.Send(false)
	t.logger.Info("streaming stopped")
}

// Stop ends the session and waits until the bus is released. Stop on a stopped task is a logged
// no-op.
func (t *Task) Stop(ctx context.Context) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.Lock()
	st, done := t.state, t.done
	t.mu.Unlock()
	if !st.Running() {
		t.logger.Debug("stop requested while stopped, ignoring")
		return nil
	}
	t.stop.Signal(struct{}{})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconfigure hands cfg to the running session without waiting. A nil cfg requests a stop. A
// config that is invalid or does not cover the running chain is rejected and the session keeps
// its current config. On a stopped task the call is a logged no-op; the next Start takes its
// config from the caller.
func (t *Task) Reconfigure(cfg *Config) error {
	t.mu.Lock()
	st, n := t.state, t.numChannels
	t.mu.Unlock()

	if !st.Running() {
		t.logger.Debug("reconfigure requested while stopped, ignoring")
		return nil
	}
	if cfg == nil {
		t.stop.Signal(struct{}{})
		return nil
	}
	if err := cfg.Validate("config"); err != nil {
		t.logger.Warnw("rejecting config, keeping the running one", "error", err)
		return err
	}
	if cfg.NumChannels() != n {
		err := &ChannelCountError{Configured: cfg.NumChannels(), Detected: n}
		t.logger.Warnw("rejecting config, keeping the running one", "error", err)
		return err
	}
	t.signal.Signal(cfg.Clone())
	return nil
}

// ProbeChannels resets the chain and returns its total channel count. It needs the bus, so it
// fails with ErrBusy while a session runs. A chain that was powered down is powered down again.
func (t *Task) ProbeChannels(ctx context.Context) (int, error) {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if st := t.State(); st.Running() {
		return 0, ErrBusy
	}
	handle, err := t.board.SPI().OpenHandle()
	if err != nil {
		return 0, errors.Wrap(err, "locking bus")
	}
	pins, err := ads1299.PinsFromBoard(t.board)
	if err != nil {
		return 0, multierr.Combine(err, handle.Close())
	}
	sess := &session{
		handle:   handle,
		frontend: ads1299.NewFrontend(handle, t.cfg.ChipSelects, t.cfg.Bus, pins, t.logger),
	}
	if err := sess.frontend.Reset(ctx, t.cfg.Delayer); err != nil {
		return 0, multierr.Combine(errors.Wrap(err, "resetting chain"), sess.close())
	}
	n := sess.frontend.NumChannels()
	if t.PoweredDown() {
		err = sess.frontend.PowerDown(ctx)
	}
	if err = multierr.Combine(err, sess.close()); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNoDevices
	}
	t.logger.Infow("probed chain", "channels", n)
	return n, nil
}

// PowerDown drops the start and power down lines of a stopped chain. It fails with ErrBusy while
// a session runs.
func (t *Task) PowerDown(ctx context.Context) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if st := t.State(); st.Running() {
		return ErrBusy
	}
	pins, err := ads1299.PinsFromBoard(t.board)
	if err != nil {
		return err
	}
	if err := multierr.Combine(
		errors.Wrap(pins.Start.Set(ctx, false), "start line"),
		errors.Wrap(pins.PowerDown.Set(ctx, false), "power down line"),
	); err != nil {
		return err
	}
	t.mu.Lock()
	t.poweredDown = true
	t.mu.Unlock()
	return nil
}

// Close stops the session, closes the sample fan-out and stops the worker.
func (t *Task) Close(ctx context.Context) error {
	err := t.Stop(ctx)
	t.workers.Stop()
	t.samples.Close()
	return err
}
