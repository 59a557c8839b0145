package data

import (
	"context"
	"os"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.viam.com/biosignal/components/ads1299"
	"go.viam.com/biosignal/internal/diskusage"
	"go.viam.com/biosignal/logging"
	"go.viam.com/biosignal/pubsub"
	"go.viam.com/biosignal/stream"
)

const (
	// DefaultBatchSize is how many samples go into one recorded frame.
	DefaultBatchSize = 100
	// DefaultQueueDepth is the recorder subscription depth. It is deeper than a transport's so
	// that a slow disk loses fewer batches.
	DefaultQueueDepth = 1024

	pendingFrames = 4
)

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	Dir        string
	BatchSize  int
	QueueDepth int
	// MinFreeBytes refuses to start a session when the recording file system has less space
	// left. Zero disables the check.
	MinFreeBytes uint64
}

var (
	// ErrSessionActive is returned when a recording is started while another one runs.
	ErrSessionActive = errors.New("a recording session is already active")
	// ErrDiskFull is returned when the recording directory is below the configured free space.
	ErrDiskFull = errors.New("not enough free disk space to record")
)

// Recorder writes the sample stream to a new file per session.
type Recorder struct {
	cfg    RecorderConfig
	clock  clock.Clock
	logger logging.Logger

	active atomic.Bool
	stop   *pubsub.Signal[struct{}]
	create func(path string) (*Writer, error)
}

// NewRecorder returns an idle recorder. A nil clock uses the wall clock.
func NewRecorder(cfg RecorderConfig, clk clock.Clock, logger logging.Logger) *Recorder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Recorder{
		cfg:    cfg,
		clock:  clk,
		logger: logger,
		stop:   pubsub.NewSignal[struct{}](),
		create: CreateWriter,
	}
}

// Active reports whether a session is recording.
func (r *Recorder) Active() bool {
	return r.active.Load()
}

// Stop ends the active session. The session writes its partial frame and closes the file before
// Record returns.
func (r *Recorder) Stop() {
	r.stop.Signal(struct{}{})
}

// Record subscribes to samples and writes them to a new file in the configured directory until
// Stop is called, ctx is done, or samples is closed. It returns the path of the recording.
// Changes of streaming are logged but do not end the session.
func (r *Recorder) Record(
	ctx context.Context,
	samples *pubsub.Channel[ads1299.Batch],
	streaming *pubsub.Receiver[bool],
	sessionID string,
) (string, error) {
	sess, err := r.Open(samples, sessionID)
	if err != nil {
		return "", err
	}
	return sess.Path(), sess.Run(ctx, streaming)
}

// A Session is a recording with its file created and its subscription in place. Samples
// published after Open are queued for it until Run consumes them.
type Session struct {
	r    *Recorder
	path string
	w    *Writer
	sub  *pubsub.Subscriber[ads1299.Batch]
	ran  atomic.Bool
}

// Open claims the recorder and creates the next recording file. It fails with ErrSessionActive
// while another session is open. The session must be Run.
func (r *Recorder) Open(samples *pubsub.Channel[ads1299.Batch], sessionID string) (_ *Session, err error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	if !r.active.CompareAndSwap(false, true) {
		return nil, ErrSessionActive
	}
	defer func() {
		if err != nil {
			r.active.Store(false)
		}
	}()
	r.stop.Reset()

	if err := os.MkdirAll(r.cfg.Dir, 0o750); err != nil {
		return nil, errors.Wrap(err, "creating recording directory")
	}
	if err := r.checkFreeSpace(); err != nil {
		return nil, err
	}
	now := r.clock.Now()
	path, err := NextFilePath(r.cfg.Dir, sessionID, now, ClockTrusted(now))
	if err != nil {
		return nil, err
	}
	w, err := r.create(path)
	if err != nil {
		return nil, errors.Wrap(err, "creating recording")
	}
	r.logger.Infow("recording started", "path", path, "batch_size", r.cfg.BatchSize)
	return &Session{r: r, path: path, w: w, sub: samples.SubscribeWithCapacity(r.cfg.QueueDepth)}, nil
}

// Path returns the file the session records to.
func (s *Session) Path() string {
	return s.path
}

// Run records until the recorder is stopped, ctx is done or the sample channel is closed. It
// then writes the partial frame, closes the file and releases the recorder.
func (s *Session) Run(ctx context.Context, streaming *pubsub.Receiver[bool]) (err error) {
	if !s.ran.CompareAndSwap(false, true) {
		return errors.New("recording session already ran")
	}
	r, w, sub := s.r, s.w, s.sub
	defer r.active.Store(false)
	defer sub.Close()

	frames := make(chan *stream.Frame, pendingFrames)
	written := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		defer close(written)
		for f := range frames {
			if err := w.WriteFrame(f); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		defer close(frames)
		return r.collect(ctx, sub, streaming, frames, written)
	})
	err = g.Wait()
	if closeErr := w.Close(); closeErr != nil {
		err = multierr.Combine(err, errors.Wrapf(closeErr, "closing %s", s.path))
	}
	r.logger.Infow("recording stopped", "path", s.path, "frames", w.Frames(), "size", FormatSize(w.Bytes()),
		"dropped", sub.Dropped())
	return err
}

func (r *Recorder) checkFreeSpace() error {
	if r.cfg.MinFreeBytes == 0 {
		return nil
	}
	usage, err := diskusage.Statfs(r.cfg.Dir)
	if err != nil {
		r.logger.Warnw("could not check free disk space", "dir", r.cfg.Dir, "error", err)
		return nil
	}
	if usage.AvailableBytes < r.cfg.MinFreeBytes {
		return errors.Wrapf(ErrDiskFull, "%s available in %s, need %s",
			FormatSize(usage.AvailableBytes), r.cfg.Dir, FormatSize(r.cfg.MinFreeBytes))
	}
	return nil
}

// collect batches samples into frames until the session ends, then hands over the partial one.
// written is closed when the writer gave up.
func (r *Recorder) collect(
	ctx context.Context,
	sub *pubsub.Subscriber[ads1299.Batch],
	streaming *pubsub.Receiver[bool],
	frames chan<- *stream.Frame,
	written <-chan struct{},
) error {
	var counter uint32
	newFrame := func() *stream.Frame {
		return &stream.Frame{
			PacketCounter: counter,
			Timestamp:     uint64(r.clock.Now().UnixMicro()),
			Samples:       make([]stream.Sample, 0, r.cfg.BatchSize),
		}
	}
	emit := func(f *stream.Frame) error {
		f.Dropped = sub.Dropped()
		select {
		case frames <- f:
			counter++
			return nil
		case <-written:
			// The writer reports its own error.
			return nil
		}
	}

	frame := newFrame()
	add := func(batch ads1299.Batch) error {
		frame.Samples = append(frame.Samples, stream.SampleFromBatch(batch))
		if len(frame.Samples) < r.cfg.BatchSize {
			return nil
		}
		if err := emit(frame); err != nil {
			return err
		}
		frame = newFrame()
		return nil
	}
	// finish records what is already queued and hands over the partial frame.
	finish := func() error {
		for {
			select {
			case batch, ok := <-sub.C():
				if !ok {
					return r.flushPartial(frame, emit)
				}
				if err := add(batch); err != nil {
					return err
				}
			default:
				return r.flushPartial(frame, emit)
			}
		}
	}

	changed := streaming.Changed()
	for {
		select {
		case batch, ok := <-sub.C():
			if !ok {
				return r.flushPartial(frame, emit)
			}
			if err := add(batch); err != nil {
				return err
			}
		case <-changed:
			if !streaming.Take() {
				r.logger.Info("streaming stopped while recording")
			}
			changed = streaming.Changed()
		case <-r.stop.Wait():
			r.stop.Reset()
			return finish()
		case <-ctx.Done():
			return finish()
		case <-written:
			return nil
		}
	}
}

func (r *Recorder) flushPartial(frame *stream.Frame, emit func(*stream.Frame) error) error {
	if len(frame.Samples) == 0 {
		return nil
	}
	return emit(frame)
}
