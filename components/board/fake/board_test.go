package fake

import (
	"context"
	"testing"
	"time"

	clk "github.com/benbjohnson/clock"
	"go.viam.com/test"

	"go.viam.com/biosignal/components/board"
	"go.viam.com/biosignal/logging"
)

type echoDevice struct{}

func (echoDevice) Transfer(tx []byte) ([]byte, error) {
	rx := make([]byte, len(tx))
	for i, b := range tx {
		rx[i] = ^b
	}
	return rx, nil
}

func TestFakeBoard(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ctx := context.Background()
	b := NewBoard(map[string]SPIDevice{"0": echoDevice{}}, logger)

	t.Run("lines", func(t *testing.T) {
		for _, name := range []string{board.PinStart, board.PinReset, board.PinPowerDown} {
			pin, err := b.GPIOPinByName(name)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, pin.Set(ctx, true), test.ShouldBeNil)
			high, err := pin.Get(ctx)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, high, test.ShouldBeTrue)
		}
		_, err := b.GPIOPinByName("nope")
		test.That(t, err, test.ShouldNotBeNil)

		_, err = b.DigitalInterruptByName(board.PinDataReady)
		test.That(t, err, test.ShouldBeNil)
		_, err = b.DigitalInterruptByName("nope")
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("bus routing", func(t *testing.T) {
		handle, err := b.SPI().OpenHandle()
		test.That(t, err, test.ShouldBeNil)

		rx, err := handle.Xfer(ctx, 1000000, "0", 1, []byte{0x0F, 0xF0})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, rx, test.ShouldResemble, []byte{0xF0, 0x0F})

		rx, err = handle.Xfer(ctx, 1000000, "1", 1, []byte{0x20, 0x00, 0x00})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, rx, test.ShouldResemble, []byte{0, 0, 0})

		test.That(t, handle.Close(), test.ShouldBeNil)
		_, err = handle.Xfer(ctx, 1000000, "0", 1, []byte{0})
		test.That(t, err, test.ShouldNotBeNil)

		transfers := b.Bus.Transfers()
		test.That(t, len(transfers), test.ShouldEqual, 2)
		test.That(t, transfers[1].ChipSelect, test.ShouldEqual, "1")
		test.That(t, transfers[1].Tx, test.ShouldResemble, []byte{0x20, 0x00, 0x00})
	})

	t.Run("data ready follows the start line", func(t *testing.T) {
		mockClock := clk.NewMock()
		ticks := make(chan board.Tick, 10)
		b.DRDY.AddCallback(ticks)
		defer b.DRDY.RemoveCallback(ticks)

		start := b.GPIOPins[board.PinStart]
		test.That(t, start.Set(ctx, false), test.ShouldBeNil)
		b.RunDataReady(4*time.Millisecond, mockClock)

		mockClock.Add(4 * time.Millisecond)
		select {
		case <-ticks:
			t.Fatal("no edge expected while start is low")
		case <-time.After(20 * time.Millisecond):
		}

		test.That(t, start.Set(ctx, true), test.ShouldBeNil)
		mockClock.Add(4 * time.Millisecond)
		select {
		case tick := <-ticks:
			test.That(t, tick.High, test.ShouldBeFalse)
			test.That(t, tick.Name, test.ShouldEqual, board.PinDataReady)
		case <-time.After(time.Second):
			t.Fatal("expected a falling edge")
		}
	})

	test.That(t, b.Close(ctx), test.ShouldBeNil)
	test.That(t, b.CloseCount, test.ShouldEqual, 1)
}
