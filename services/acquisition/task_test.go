package acquisition

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/biosignal/components/ads1299"
	adsfake "go.viam.com/biosignal/components/ads1299/fake"
	"go.viam.com/biosignal/components/board"
	"go.viam.com/biosignal/components/board/fake"
	"go.viam.com/biosignal/data"
	"go.viam.com/biosignal/logging"
	"go.viam.com/biosignal/pubsub"
	"go.viam.com/biosignal/testutils/inject"
)

type taskHarness struct {
	board *fake.Board
	chips []*adsfake.Chip
	task  *Task
}

func newTaskHarness(t *testing.T, logger logging.Logger, counts ...int) *taskHarness {
	t.Helper()
	h := &taskHarness{}
	devices := map[string]fake.SPIDevice{}
	chipSelects := []string{"cs0", "cs1"}
	for i, n := range counts {
		chip := adsfake.NewChip(n)
		h.chips = append(h.chips, chip)
		devices[chipSelects[i]] = chip
	}
	h.board = fake.NewBoard(devices, logger)
	h.board.RunDataReady(time.Millisecond, clock.New())
	h.task = NewTask(h.board, TaskConfig{ChipSelects: chipSelects, Delayer: noDelay{}}, logger)
	t.Cleanup(func() {
		test.That(t, h.task.Close(context.Background()), test.ShouldBeNil)
		test.That(t, h.board.Close(context.Background()), test.ShouldBeNil)
	})
	return h
}

func (h *taskHarness) line(t *testing.T, name string) bool {
	t.Helper()
	high, err := h.board.GPIOPins[name].Get(context.Background())
	test.That(t, err, test.ShouldBeNil)
	return high
}

// waitBatch receives batches until one satisfies ok.
func waitBatch(t *testing.T, sub *pubsub.Subscriber[ads1299.Batch], ok func(ads1299.Batch) bool) ads1299.Batch {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case batch, open := <-sub.C():
			test.That(t, open, test.ShouldBeTrue)
			if ok(batch) {
				return batch
			}
		case <-timeout:
			t.Fatal("timed out waiting for a matching batch")
		}
	}
}

// upperHalfDown is a config for two 8 channel chips with the second chip switched off.
func upperHalfDown() *Config {
	cfg := DefaultConfig(16)
	for ch := 8; ch < 16; ch++ {
		cfg.Channels[ch].PowerDown = true
	}
	return cfg
}

func TestTaskStreaming(t *testing.T) {
	ctx := context.Background()
	logger, logs := logging.NewObservedTestLogger(t)
	h := newTaskHarness(t, logger, 8, 8)
	sub := h.task.Samples().Subscribe()
	defer sub.Close()
	streaming := h.task.StreamingReceiver()
	test.That(t, streaming.Take(), test.ShouldBeFalse)

	test.That(t, h.task.Start(ctx, upperHalfDown()), test.ShouldBeNil)
	test.That(t, h.task.State(), test.ShouldEqual, StateStreaming)
	test.That(t, streaming.Take(), test.ShouldBeTrue)
	test.That(t, h.line(t, board.PinStart), test.ShouldBeTrue)
	test.That(t, h.task.ActiveConfig().NumChannels(), test.ShouldEqual, 16)

	batch := waitBatch(t, sub, func(ads1299.Batch) bool { return true })
	test.That(t, batch, test.ShouldHaveLength, 1)
	test.That(t, batch[0].Channels, test.ShouldHaveLength, 8)
	test.That(t, batch[0].Channels[0], test.ShouldBeBetweenOrEqual, int32(1000), int32(1099))
	test.That(t, batch[0].Channels[7], test.ShouldBeBetweenOrEqual, int32(8000), int32(8099))

	t.Run("start while streaming is ignored", func(t *testing.T) {
		test.That(t, h.task.Start(ctx, DefaultConfig(16)), test.ShouldBeNil)
		test.That(t, logs.FilterMessageSnippet("start requested while running").Len(), test.ShouldEqual, 1)
		test.That(t, h.task.ActiveConfig().Channels[8].PowerDown, test.ShouldBeTrue)
	})

	t.Run("reconfigure", func(t *testing.T) {
		cfg := DefaultConfig(16)
		cfg.Channels[0].PowerDown = true
		test.That(t, h.task.Reconfigure(cfg), test.ShouldBeNil)
		batch := waitBatch(t, sub, func(b ads1299.Batch) bool { return len(b) == 2 })
		test.That(t, batch[0].Channels, test.ShouldHaveLength, 7)
		test.That(t, batch[0].Channels[0], test.ShouldBeBetweenOrEqual, int32(2000), int32(2099))
		test.That(t, batch[1].Channels, test.ShouldHaveLength, 8)
		testutils.WaitForAssertion(t, func(tb testing.TB) {
			tb.Helper()
			test.That(tb, h.task.ActiveConfig().Channels[0].PowerDown, test.ShouldBeTrue)
		})
		test.That(t, h.task.State(), test.ShouldEqual, StateStreaming)
	})

	t.Run("bad reconfigure keeps the running config", func(t *testing.T) {
		err := h.task.Reconfigure(DefaultConfig(8))
		var countErr *ChannelCountError
		test.That(t, errors.As(err, &countErr), test.ShouldBeTrue)

		bad := DefaultConfig(16)
		bad.Channels[3].Gain = 7
		test.That(t, h.task.Reconfigure(bad), test.ShouldNotBeNil)
		test.That(t, h.task.State(), test.ShouldEqual, StateStreaming)
	})

	test.That(t, h.task.Stop(ctx), test.ShouldBeNil)
	test.That(t, h.task.State(), test.ShouldEqual, StateStopped)
	test.That(t, h.task.Err(), test.ShouldBeNil)
	test.That(t, h.task.ActiveConfig(), test.ShouldBeNil)
	test.That(t, streaming.Take(), test.ShouldBeFalse)
	test.That(t, h.line(t, board.PinStart), test.ShouldBeFalse)
	test.That(t, h.chips[0].Continuous(), test.ShouldBeFalse)

	test.That(t, h.task.Stop(ctx), test.ShouldBeNil)
	test.That(t, h.task.Reconfigure(DefaultConfig(16)), test.ShouldBeNil)

	t.Run("restart with another config", func(t *testing.T) {
		cfg := upperHalfDown()
		cfg.Channels[0].PowerDown = true
		test.That(t, h.task.Start(ctx, cfg), test.ShouldBeNil)
		batch := waitBatch(t, sub, func(b ads1299.Batch) bool {
			return len(b) == 1 && len(b[0].Channels) == 7
		})
		test.That(t, batch[0].Channels[6], test.ShouldBeBetweenOrEqual, int32(8000), int32(8099))
		test.That(t, h.task.Reconfigure(nil), test.ShouldBeNil)
		testutils.WaitForAssertion(t, func(tb testing.TB) {
			tb.Helper()
			test.That(tb, h.task.State(), test.ShouldEqual, StateStopped)
		})
	})
}

func TestTaskStopWinsOverReconfigure(t *testing.T) {
	ctx := context.Background()
	h := newTaskHarness(t, logging.NewTestLogger(t), 8, 8)

	for i := 0; i < 50; i++ {
		test.That(t, h.task.Start(ctx, DefaultConfig(16)), test.ShouldBeNil)

		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		stopped := make(chan error, 1)
		go func() {
			stopped <- h.task.Stop(stopCtx)
		}()
		// Configs keep arriving while the stop is in flight.
		var stopErr error
	reconfigure:
		for {
			select {
			case stopErr = <-stopped:
				break reconfigure
			default:
				test.That(t, h.task.Reconfigure(DefaultConfig(16)), test.ShouldBeNil)
			}
		}
		cancel()
		test.That(t, stopErr, test.ShouldBeNil)
		test.That(t, h.task.State(), test.ShouldEqual, StateStopped)
	}
}

func TestTaskStartFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("no devices", func(t *testing.T) {
		h := newTaskHarness(t, logging.NewTestLogger(t))
		err := h.task.Start(ctx, DefaultConfig(8))
		test.That(t, err, test.ShouldEqual, ErrNoDevices)
		test.That(t, h.task.State(), test.ShouldEqual, StateStopped)
		test.That(t, h.task.Err(), test.ShouldEqual, ErrNoDevices)
		test.That(t, h.task.PoweredDown(), test.ShouldBeTrue)
		test.That(t, h.line(t, board.PinPowerDown), test.ShouldBeFalse)
	})

	t.Run("channel count mismatch", func(t *testing.T) {
		h := newTaskHarness(t, logging.NewTestLogger(t), 8)
		err := h.task.Start(ctx, DefaultConfig(4))
		var countErr *ChannelCountError
		test.That(t, errors.As(err, &countErr), test.ShouldBeTrue)
		test.That(t, countErr.Detected, test.ShouldEqual, 8)
		test.That(t, h.task.State(), test.ShouldEqual, StateStopped)

		// The bus was released.
		n, err := h.task.ProbeChannels(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, n, test.ShouldEqual, 8)
	})

	t.Run("board without data-ready line", func(t *testing.T) {
		h := newTaskHarness(t, logging.NewTestLogger(t), 8)
		injected := &inject.Board{
			Board: h.board,
			DigitalInterruptByNameFunc: func(name string) (board.DigitalInterrupt, error) {
				return nil, errors.New("no such line")
			},
		}
		task := NewTask(injected, TaskConfig{ChipSelects: []string{"cs0"}, Delayer: noDelay{}}, logging.NewTestLogger(t))
		defer func() {
			test.That(t, task.Close(ctx), test.ShouldBeNil)
		}()
		err := task.Start(ctx, DefaultConfig(8))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "no such line")
		test.That(t, task.State(), test.ShouldEqual, StateStopped)

		// The bus handle was released.
		n, err := h.task.ProbeChannels(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, n, test.ShouldEqual, 8)
	})

	t.Run("bus unavailable", func(t *testing.T) {
		injected := &inject.Board{
			SPIFunc: func() board.SPI {
				return &inject.SPI{OpenHandleFunc: func() (board.SPIHandle, error) {
					return nil, errors.New("spidev busy")
				}}
			},
		}
		task := NewTask(injected, TaskConfig{ChipSelects: []string{"cs0"}, Delayer: noDelay{}}, logging.NewTestLogger(t))
		defer func() {
			test.That(t, task.Close(ctx), test.ShouldBeNil)
		}()
		err := task.Start(ctx, DefaultConfig(8))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "locking bus")
		test.That(t, task.Err(), test.ShouldEqual, err)
	})

	t.Run("invalid config", func(t *testing.T) {
		h := newTaskHarness(t, logging.NewTestLogger(t), 8)
		cfg := DefaultConfig(8)
		cfg.SampleRate = 7
		test.That(t, h.task.Start(ctx, cfg), test.ShouldNotBeNil)
		test.That(t, h.task.State(), test.ShouldEqual, StateStopped)
	})
}

func TestTaskBusFault(t *testing.T) {
	ctx := context.Background()
	logger, logs := logging.NewObservedTestLogger(t)
	h := newTaskHarness(t, logger, 8)
	sub := h.task.Samples().Subscribe()
	defer sub.Close()

	test.That(t, h.task.Start(ctx, DefaultConfig(8)), test.ShouldBeNil)
	waitBatch(t, sub, func(ads1299.Batch) bool { return true })

	fault := errors.New("bus on fire")
	h.chips[0].SetFault(fault)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, h.task.State(), test.ShouldEqual, StateStopped)
	})
	test.That(t, errors.Is(h.task.Err(), fault), test.ShouldBeTrue)
	test.That(t, h.task.PoweredDown(), test.ShouldBeTrue)
	test.That(t, h.line(t, board.PinPowerDown), test.ShouldBeFalse)
	test.That(t, logs.FilterMessageSnippet("acquisition session failed").Len(), test.ShouldEqual, 1)

	// No retry: the task stays stopped until started again.
	h.chips[0].SetFault(nil)
	test.That(t, h.task.Start(ctx, DefaultConfig(8)), test.ShouldBeNil)
	test.That(t, h.task.Err(), test.ShouldBeNil)
	test.That(t, h.task.PoweredDown(), test.ShouldBeFalse)
}

func TestTaskProbe(t *testing.T) {
	ctx := context.Background()
	h := newTaskHarness(t, logging.NewTestLogger(t), 8, 4)

	n, err := h.task.ProbeChannels(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 12)
	test.That(t, h.line(t, board.PinPowerDown), test.ShouldBeTrue)

	test.That(t, h.task.PowerDown(ctx), test.ShouldBeNil)
	test.That(t, h.line(t, board.PinPowerDown), test.ShouldBeFalse)
	n, err = h.task.ProbeChannels(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 12)
	test.That(t, h.line(t, board.PinPowerDown), test.ShouldBeFalse)

	test.That(t, h.task.Start(ctx, DefaultConfig(12)), test.ShouldBeNil)
	_, err = h.task.ProbeChannels(ctx)
	test.That(t, err, test.ShouldEqual, ErrBusy)
	test.That(t, h.task.PowerDown(ctx), test.ShouldEqual, ErrBusy)
}

type memStore struct {
	mu      sync.Mutex
	current string
	configs map[string]*Config
}

func (s *memStore) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *memStore) AcquisitionConfig(profile string) (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[profile]
	if !ok {
		return nil, errors.New("no such profile")
	}
	return cfg.Clone(), nil
}

func (s *memStore) SetAcquisitionConfig(profile string, cfg *Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[profile] = cfg.Clone()
	return nil
}

func TestManager(t *testing.T) {
	ctx := context.Background()
	logger, logs := logging.NewObservedTestLogger(t)
	h := newTaskHarness(t, logger, 8, 8)
	store := &memStore{current: "p1", configs: map[string]*Config{"p1": upperHalfDown()}}
	m := NewManager(h.task, store, logger)
	sub := h.task.Samples().Subscribe()
	defer sub.Close()

	test.That(t, m.Handle(ctx, EventStartStream), test.ShouldBeNil)
	test.That(t, h.task.State(), test.ShouldEqual, StateStreaming)
	test.That(t, m.Handle(ctx, EventStartStream), test.ShouldBeNil)
	test.That(t, logs.FilterMessageSnippet("already running").Len(), test.ShouldEqual, 1)

	test.That(t, m.Handle(ctx, EventResetConfig), test.ShouldEqual, ErrBusy)

	cfg := DefaultConfig(16)
	test.That(t, store.SetAcquisitionConfig("p1", cfg), test.ShouldBeNil)
	test.That(t, m.Handle(ctx, EventConfigChanged), test.ShouldBeNil)
	waitBatch(t, sub, func(b ads1299.Batch) bool { return len(b) == 2 })

	test.That(t, m.Handle(ctx, EventPrintConfig), test.ShouldBeNil)
	test.That(t, logs.FilterMessageSnippet("acquisition config").Len(), test.ShouldBeGreaterThanOrEqualTo, 1)

	test.That(t, m.Handle(ctx, EventStopStream), test.ShouldBeNil)
	test.That(t, h.task.State(), test.ShouldEqual, StateStopped)
	test.That(t, h.task.PoweredDown(), test.ShouldBeTrue)
	test.That(t, m.Handle(ctx, EventStopStream), test.ShouldBeNil)
	test.That(t, logs.FilterMessageSnippet("already powered down").Len(), test.ShouldEqual, 1)

	// Not streaming, so nothing to push.
	test.That(t, m.Handle(ctx, EventConfigChanged), test.ShouldBeNil)

	store.configs["p1"] = upperHalfDown()
	test.That(t, m.Handle(ctx, EventResetConfig), test.ShouldBeNil)
	got, err := store.AcquisitionConfig("p1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, DefaultConfig(16))
	test.That(t, h.task.PoweredDown(), test.ShouldBeTrue)
	test.That(t, h.line(t, board.PinPowerDown), test.ShouldBeFalse)

	t.Run("missing profile", func(t *testing.T) {
		store.current = "nope"
		test.That(t, m.Handle(ctx, EventStartStream), test.ShouldNotBeNil)
		test.That(t, m.Handle(ctx, EventPrintConfig), test.ShouldNotBeNil)
	})

	t.Run("event names", func(t *testing.T) {
		for ev := EventStartStream; ev <= EventStopRecording; ev++ {
			parsed, err := ParseEvent(ev.String())
			test.That(t, err, test.ShouldBeNil)
			test.That(t, parsed, test.ShouldEqual, ev)
		}
		_, err := ParseEvent("record")
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, m.Handle(ctx, Event(42)), test.ShouldNotBeNil)
	})
}

func TestManagerRecording(t *testing.T) {
	ctx := context.Background()
	logger, logs := logging.NewObservedTestLogger(t)
	h := newTaskHarness(t, logger, 8, 8)
	store := &memStore{current: "p1", configs: map[string]*Config{"p1": DefaultConfig(16)}}
	m := NewManager(h.task, store, logger)
	defer m.Close()

	test.That(t, m.Handle(ctx, EventStartRecording), test.ShouldEqual, ErrNoRecorder)
	test.That(t, m.Handle(ctx, EventStopRecording), test.ShouldEqual, ErrNoRecorder)

	dir := t.TempDir()
	rec := data.NewRecorder(data.RecorderConfig{Dir: dir, BatchSize: 5}, clock.NewMock(), logger)
	m.SetRecorder(rec, func() string { return "ab" })

	test.That(t, m.Handle(ctx, EventStartRecording), test.ShouldBeNil)
	test.That(t, rec.Active(), test.ShouldBeTrue)
	test.That(t, errors.Is(m.Handle(ctx, EventStartRecording), data.ErrSessionActive), test.ShouldBeTrue)

	sub := h.task.Samples().Subscribe()
	defer sub.Close()
	test.That(t, m.Handle(ctx, EventStartStream), test.ShouldBeNil)
	// The recording subscribed first, so it has this batch queued too.
	waitBatch(t, sub, func(ads1299.Batch) bool { return true })

	test.That(t, m.Handle(ctx, EventStopRecording), test.ShouldBeNil)
	test.That(t, rec.Active(), test.ShouldBeFalse)
	test.That(t, h.task.State(), test.ShouldEqual, StateStreaming)

	frames, err := data.FramesFromPath(filepath.Join(dir, "000_ab.dat"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frames, test.ShouldNotBeEmpty)
	test.That(t, frames[0].Samples[0].Data, test.ShouldHaveLength, 16)

	test.That(t, m.Handle(ctx, EventStopRecording), test.ShouldBeNil)
	test.That(t, logs.FilterMessageSnippet("while not recording").Len(), test.ShouldEqual, 1)

	t.Run("close ends the session", func(t *testing.T) {
		test.That(t, m.Handle(ctx, EventStartRecording), test.ShouldBeNil)
		test.That(t, rec.Active(), test.ShouldBeTrue)
		m.Close()
		test.That(t, rec.Active(), test.ShouldBeFalse)
		_, err := data.FramesFromPath(filepath.Join(dir, "001_ab.dat"))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, m.Handle(ctx, EventStartRecording), test.ShouldNotBeNil)
	})
}
