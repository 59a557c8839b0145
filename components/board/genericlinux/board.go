//go:build linux

package genericlinux

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/host/v3"

	"go.viam.com/biosignal/components/board"
	"go.viam.com/biosignal/logging"
)

// Board is a Linux board with one spidev bus and the frontend control lines on GPIO chips.
type Board struct {
	spi        board.SPI
	gpios      map[string]*outputLine
	interrupts map[string]*digitalInterrupt

	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
	logger                  logging.Logger
}

// NewBoard initializes the periph.io host drivers and opens the lines named in the config.
func NewBoard(ctx context.Context, conf board.Config, logger logging.Logger) (*Board, error) {
	if _, err := host.Init(); err != nil {
		logger.Debugw("error initializing host", "error", err)
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	b := &Board{
		spi: NewSPIBus(conf.SPI.BusSelect),
		gpios: map[string]*outputLine{
			board.PinStart:     newOutputLine(conf.Pins.Start),
			board.PinReset:     newOutputLine(conf.Pins.Reset),
			board.PinPowerDown: newOutputLine(conf.Pins.PowerDown),
		},
		interrupts: map[string]*digitalInterrupt{},
		cancelFunc: cancelFunc,
		logger:     logger,
	}

	drdy, err := newDigitalInterrupt(cancelCtx, board.PinDataReady, conf.Pins.DataReady, &b.activeBackgroundWorkers)
	if err != nil {
		cancelFunc()
		return nil, errors.Wrapf(err, "opening %s line %s:%d", board.PinDataReady, conf.Pins.DataReady.Chip, conf.Pins.DataReady.Line)
	}
	b.interrupts[board.PinDataReady] = drdy
	return b, nil
}

// SPI returns the shared bus.
func (b *Board) SPI() board.SPI {
	return b.spi
}

// GPIOPinByName returns the output line with the given name.
func (b *Board) GPIOPinByName(name string) (board.GPIOPin, error) {
	pin, ok := b.gpios[name]
	if !ok {
		return nil, errors.Errorf("cant find GPIO (%s)", name)
	}
	return pin, nil
}

// DigitalInterruptByName returns the interrupt with the given name.
func (b *Board) DigitalInterruptByName(name string) (board.DigitalInterrupt, error) {
	interrupt, ok := b.interrupts[name]
	if !ok {
		return nil, errors.Errorf("cant find digital interrupt (%s)", name)
	}
	return interrupt, nil
}

// Close releases every line and the bus.
func (b *Board) Close(ctx context.Context) error {
	b.cancelFunc()
	var err error
	for _, interrupt := range b.interrupts {
		err = multierr.Combine(err, interrupt.Close())
	}
	b.activeBackgroundWorkers.Wait()
	for _, pin := range b.gpios {
		err = multierr.Combine(err, pin.Close())
	}
	return multierr.Combine(err, b.spi.Close(ctx))
}
