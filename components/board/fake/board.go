// Package fake implements a fake acquisition board. Devices on its SPI bus are simulated by
// whatever SPIDevice is attached to each chip select.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/biosignal/components/board"
	"go.viam.com/biosignal/logging"
)

// An SPIDevice answers full duplex transfers addressed to its chip select.
type SPIDevice interface {
	Transfer(tx []byte) ([]byte, error)
}

// Board is a fake board holding a fake bus, output lines that remember their value and a
// data-ready interrupt that can be ticked by hand or by a background clock.
type Board struct {
	Bus      *SPI
	GPIOPins map[string]*GPIOPin
	DRDY     *board.BasicDigitalInterrupt

	mu         sync.Mutex
	workers    *utils.StoppableWorkers
	logger     logging.Logger
	CloseCount int
}

// NewBoard returns a new fake board whose bus routes transfers to the given devices.
func NewBoard(devices map[string]SPIDevice, logger logging.Logger) *Board {
	return &Board{
		Bus: &SPI{devices: devices},
		GPIOPins: map[string]*GPIOPin{
			board.PinStart:     {},
			board.PinReset:     {},
			board.PinPowerDown: {},
		},
		DRDY:    board.NewBasicDigitalInterrupt(board.PinDataReady),
		workers: utils.NewBackgroundStoppableWorkers(),
		logger:  logger,
	}
}

// SPI returns the fake bus.
func (b *Board) SPI() board.SPI {
	return b.Bus
}

// GPIOPinByName returns the output line with the given name.
func (b *Board) GPIOPinByName(name string) (board.GPIOPin, error) {
	pin, ok := b.GPIOPins[name]
	if !ok {
		return nil, errors.Errorf("cant find GPIO (%s)", name)
	}
	return pin, nil
}

// DigitalInterruptByName returns the interrupt with the given name.
func (b *Board) DigitalInterruptByName(name string) (board.DigitalInterrupt, error) {
	if name != board.PinDataReady {
		return nil, errors.Errorf("cant find digital interrupt (%s)", name)
	}
	return b.DRDY, nil
}

// RunDataReady ticks a falling edge on the data-ready line every period while the start line is
// high, the way a free running converter does.
func (b *Board) RunDataReady(period time.Duration, clk clock.Clock) {
	ticker := clk.Ticker(period)
	b.workers.Add(func(ctx context.Context) {
		defer ticker.Stop()
		start := b.GPIOPins[board.PinStart]
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if high, _ := start.Get(ctx); !high {
					continue
				}
				utils.UncheckedError(b.DRDY.Tick(ctx, false, uint64(now.UnixNano())))
			}
		}
	})
}

// Close stops the background data-ready clock.
func (b *Board) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CloseCount++

	b.workers.Stop()
	return nil
}

// A GPIOPin reads back the same set values and remembers every transition.
type GPIOPin struct {
	mu      sync.Mutex
	high    bool
	history []bool
}

// Set sets the pin to either low or high.
func (gp *GPIOPin) Set(ctx context.Context, high bool) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	gp.high = high
	gp.history = append(gp.history, high)
	return nil
}

// Get gets the high/low state of the pin.
func (gp *GPIOPin) Get(ctx context.Context) (bool, error) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	return gp.high, nil
}

// History returns every value the pin was set to, oldest first.
func (gp *GPIOPin) History() []bool {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	return append([]bool(nil), gp.history...)
}

// SPI is a fake bus. Opening a handle locks it until the handle is closed.
type SPI struct {
	mu      sync.Mutex
	devices map[string]SPIDevice

	logMu sync.Mutex
	log   []Transfer
}

// Transfer is one recorded transaction.
type Transfer struct {
	ChipSelect string
	Tx         []byte
}

// OpenHandle locks the bus.
func (s *SPI) OpenHandle() (board.SPIHandle, error) {
	s.mu.Lock()
	return &spiHandle{bus: s}, nil
}

// Close is a no-op.
func (s *SPI) Close(ctx context.Context) error {
	return nil
}

// Transfers returns and clears the recorded transactions.
func (s *SPI) Transfers() []Transfer {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	ret := s.log
	s.log = nil
	return ret
}

type spiHandle struct {
	bus    *SPI
	closed bool
}

func (h *spiHandle) Xfer(ctx context.Context, baud uint, chipSelect string, mode uint, tx []byte) ([]byte, error) {
	if h.closed {
		return nil, errors.New("can't use Xfer() on an already closed SPIHandle")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.bus.logMu.Lock()
	h.bus.log = append(h.bus.log, Transfer{ChipSelect: chipSelect, Tx: append([]byte(nil), tx...)})
	h.bus.logMu.Unlock()

	dev, ok := h.bus.devices[chipSelect]
	if !ok {
		// Nothing drives MISO, so the bus reads back zeros.
		return make([]byte, len(tx)), nil
	}
	return dev.Transfer(tx)
}

func (h *spiHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.bus.mu.Unlock()
	return nil
}
