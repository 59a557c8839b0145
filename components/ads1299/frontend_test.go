package ads1299_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/biosignal/components/ads1299"
	adsfake "go.viam.com/biosignal/components/ads1299/fake"
	"go.viam.com/biosignal/components/board"
	"go.viam.com/biosignal/components/board/fake"
	"go.viam.com/biosignal/logging"
	"go.viam.com/biosignal/testutils/inject"
)

// eventLog interleaves line changes, bus transfers and waits so ordering can be asserted.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ret := l.events
	l.events = nil
	return ret
}

func (l *eventLog) Delay(ctx context.Context, d time.Duration) error {
	l.add("wait %s", d)
	return nil
}

type frontendHarness struct {
	board    *fake.Board
	chips    map[string]*adsfake.Chip
	log      *eventLog
	frontend *ads1299.Frontend
}

func newFrontendHarness(t *testing.T, counts map[string]int, chipSelects ...string) *frontendHarness {
	t.Helper()
	logger := logging.NewTestLogger(t)
	h := &frontendHarness{chips: map[string]*adsfake.Chip{}, log: &eventLog{}}
	devices := map[string]fake.SPIDevice{}
	for cs, n := range counts {
		chip := adsfake.NewChip(n)
		h.chips[cs] = chip
		devices[cs] = chip
	}
	h.board = fake.NewBoard(devices, logger)
	t.Cleanup(func() { test.That(t, h.board.Close(context.Background()), test.ShouldBeNil) })

	realHandle, err := h.board.SPI().OpenHandle()
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { test.That(t, realHandle.Close(), test.ShouldBeNil) })
	handle := &inject.SPIHandle{
		SPIHandle: realHandle,
		XferFunc: func(ctx context.Context, baud uint, chipSelect string, mode uint, tx []byte) ([]byte, error) {
			h.log.add("xfer %s % X", chipSelect, tx)
			return realHandle.Xfer(ctx, baud, chipSelect, mode, tx)
		},
	}

	pins, err := ads1299.PinsFromBoard(h.board)
	test.That(t, err, test.ShouldBeNil)
	recordLine := func(name string, pin board.GPIOPin) board.GPIOPin {
		return &inject.GPIOPin{
			GPIOPin: pin,
			SetFunc: func(ctx context.Context, high bool) error {
				h.log.add("%s %v", name, high)
				return pin.Set(ctx, high)
			},
		}
	}
	pins.Start = recordLine("start", pins.Start)
	pins.Reset = recordLine("reset", pins.Reset)
	pins.PowerDown = recordLine("pwdn", pins.PowerDown)

	h.frontend = ads1299.NewFrontend(handle, chipSelects, ads1299.DefaultBusParams, pins, logger)
	t.Cleanup(h.frontend.Close)
	return h
}

func TestFrontendReset(t *testing.T) {
	ctx := context.Background()
	h := newFrontendHarness(t, map[string]int{"0": 8, "1": 6}, "0", "1")

	test.That(t, h.frontend.Reset(ctx, h.log), test.ShouldBeNil)
	test.That(t, h.log.take(), test.ShouldResemble, []string{
		"start false",
		"pwdn true",
		"reset true",
		"wait 183.5008ms",
		"reset false",
		"wait 1.4µs",
		"reset true",
		"wait 12.6µs",
		"xfer 0 11",
		"xfer 0 20 00 00",
		"xfer 1 11",
		"xfer 1 20 00 00",
	})
	test.That(t, h.frontend.ChannelCounts(), test.ShouldResemble, []int{8, 6})
	test.That(t, h.frontend.NumChannels(), test.ShouldEqual, 14)
	test.That(t, len(h.frontend.Devices()), test.ShouldEqual, 2)
}

func TestFrontendTimingFloors(t *testing.T) {
	test.That(t, ads1299.PowerOnDelay, test.ShouldEqual, 700*time.Nanosecond*(1<<18))
	test.That(t, ads1299.ResetPulseWidth, test.ShouldEqual, 1400*time.Nanosecond)
	test.That(t, ads1299.ResetSettleDelay, test.ShouldEqual, 12600*time.Nanosecond)
}

func TestFrontendDiscoveryToleratesMissingDevice(t *testing.T) {
	ctx := context.Background()
	h := newFrontendHarness(t, map[string]int{"1": 4}, "0", "1")

	test.That(t, h.frontend.Reset(ctx, h.log), test.ShouldBeNil)
	test.That(t, h.frontend.ChannelCounts(), test.ShouldResemble, []int{4})
	test.That(t, h.frontend.Devices()[0].ChipSelect(), test.ShouldEqual, "1")
}

func TestFrontendStartStopOrdering(t *testing.T) {
	ctx := context.Background()
	h := newFrontendHarness(t, map[string]int{"0": 4, "1": 4}, "0", "1")
	test.That(t, h.frontend.Reset(ctx, h.log), test.ShouldBeNil)
	h.log.take()

	test.That(t, h.frontend.StartStream(ctx), test.ShouldBeNil)
	test.That(t, h.log.take(), test.ShouldResemble, []string{"xfer 0 10", "xfer 1 10", "start true"})
	test.That(t, h.chips["0"].Continuous(), test.ShouldBeTrue)

	test.That(t, h.frontend.StopStream(ctx), test.ShouldBeNil)
	test.That(t, h.log.take(), test.ShouldResemble, []string{"start false", "xfer 0 11", "xfer 1 11"})
	test.That(t, h.chips["1"].Continuous(), test.ShouldBeFalse)
}

func TestFrontendPoll(t *testing.T) {
	ctx := context.Background()
	h := newFrontendHarness(t, map[string]int{"0": 8, "1": 4}, "0", "1")
	test.That(t, h.frontend.Reset(ctx, h.log), test.ShouldBeNil)
	for _, chip := range h.chips {
		for ch := 0; ch < ads1299.MaxChannels; ch++ {
			chip.SetRegister(ads1299.ChannelSetRegister(ch), 0x60)
		}
	}
	test.That(t, h.frontend.StartStream(ctx), test.ShouldBeNil)

	t.Run("rising edges are ignored", func(t *testing.T) {
		test.That(t, h.board.DRDY.Tick(ctx, true, 1), test.ShouldBeNil)
		cancelCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err := h.frontend.Poll(cancelCtx)
		test.That(t, err, test.ShouldBeError, context.DeadlineExceeded)
	})

	t.Run("falling edge yields a batch", func(t *testing.T) {
		test.That(t, h.board.DRDY.Tick(ctx, false, 2), test.ShouldBeNil)
		batch, err := h.frontend.Poll(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(batch), test.ShouldEqual, 2)
		test.That(t, len(batch[0].Channels), test.ShouldEqual, 8)
		test.That(t, len(batch[1].Channels), test.ShouldEqual, 4)
		test.That(t, batch[1].Channels[3], test.ShouldEqual, int32(4000))
		test.That(t, batch.NumChannels(), test.ShouldEqual, 12)
	})

	t.Run("one failing device fails the batch", func(t *testing.T) {
		h.chips["1"].SetFault(fmt.Errorf("miso stuck"))
		defer h.chips["1"].SetFault(nil)
		_, err := h.frontend.ReadBatch(ctx)
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("power down", func(t *testing.T) {
		h.log.take()
		test.That(t, h.frontend.PowerDown(ctx), test.ShouldBeNil)
		test.That(t, h.log.take(), test.ShouldResemble, []string{"start false", "pwdn false"})
		test.That(t, h.frontend.NumChannels(), test.ShouldEqual, 0)
	})
}
