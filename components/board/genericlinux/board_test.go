//go:build linux

package genericlinux

import (
	"context"
	"testing"

	"go.viam.com/test"

	"go.viam.com/biosignal/components/board"
	"go.viam.com/biosignal/logging"
)

func TestGenericLinux(t *testing.T) {
	ctx := context.Background()

	b := &Board{
		spi:        NewSPIBus("0"),
		gpios:      map[string]*outputLine{board.PinStart: newOutputLine(board.GPIOLineConfig{Chip: "gpiochip0", Line: 4})},
		interrupts: map[string]*digitalInterrupt{},
		cancelFunc: func() {},
		logger:     logging.NewTestLogger(t),
	}

	t.Run("lookups", func(t *testing.T) {
		pin, err := b.GPIOPinByName(board.PinStart)
		test.That(t, err, test.ShouldBeNil)
		// Never driven, so no line was requested and it reads low.
		high, err := pin.Get(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, high, test.ShouldBeFalse)
		_, err = b.GPIOPinByName("10")
		test.That(t, err, test.ShouldNotBeNil)
		_, err = b.DigitalInterruptByName(board.PinDataReady)
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("spi handle", func(t *testing.T) {
		h, err := b.SPI().OpenHandle()
		test.That(t, err, test.ShouldBeNil)

		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err = h.Xfer(canceled, 1000000, "0", 1, []byte{0x20, 0x00, 0x00})
		test.That(t, err, test.ShouldBeError, context.Canceled)

		test.That(t, h.Close(), test.ShouldBeNil)
		test.That(t, h.Close(), test.ShouldBeNil)
		_, err = h.Xfer(ctx, 1000000, "0", 1, []byte{0x00})
		test.That(t, err, test.ShouldNotBeNil)

		// The bus is free again once the handle is closed.
		h, err = b.SPI().OpenHandle()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, h.Close(), test.ShouldBeNil)
	})

	// No line was ever opened, so closing touches no hardware.
	test.That(t, b.Close(ctx), test.ShouldBeNil)
}
