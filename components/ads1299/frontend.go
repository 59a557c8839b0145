package ads1299

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/biosignal/components/board"
	"go.viam.com/biosignal/logging"
)

// Pins are the control lines shared by every chip of a frontend.
type Pins struct {
	Start     board.GPIOPin
	Reset     board.GPIOPin
	PowerDown board.GPIOPin
	DataReady board.DigitalInterrupt
}

// PinsFromBoard looks up the control lines by their standard names.
func PinsFromBoard(b board.Board) (Pins, error) {
	var pins Pins
	var err error
	if pins.Start, err = b.GPIOPinByName(board.PinStart); err != nil {
		return Pins{}, err
	}
	if pins.Reset, err = b.GPIOPinByName(board.PinReset); err != nil {
		return Pins{}, err
	}
	if pins.PowerDown, err = b.GPIOPinByName(board.PinPowerDown); err != nil {
		return Pins{}, err
	}
	if pins.DataReady, err = b.DigitalInterruptByName(board.PinDataReady); err != nil {
		return Pins{}, err
	}
	return pins, nil
}

// Frontend sequences a daisy chain of chips that share one bus handle and the control lines.
// The caller holds the bus handle for the frontend's lifetime and closes it after Close.
type Frontend struct {
	chipSelects []string
	handle      board.SPIHandle
	bus         BusParams
	pins        Pins
	logger      logging.Logger

	devices []*Device
	ticks   chan board.Tick
}

// NewFrontend returns a frontend over the given chip selects, in chain order. No device is live
// until Reset.
func NewFrontend(
	handle board.SPIHandle,
	chipSelects []string,
	bus BusParams,
	pins Pins,
	logger logging.Logger,
) *Frontend {
	f := &Frontend{
		chipSelects: chipSelects,
		handle:      handle,
		bus:         bus,
		pins:        pins,
		logger:      logger,
		ticks:       make(chan board.Tick, 1),
	}
	pins.DataReady.AddCallback(f.ticks)
	return f
}

// Reset power cycles the chain through its reset line and discovers the chips. A chip select
// that does not answer is logged and left out. The waits are the datasheet minimums.
func (f *Frontend) Reset(ctx context.Context, delay Delayer) error {
	if err := f.pins.Start.Set(ctx, false); err != nil {
		return errors.Wrap(err, "start line")
	}
	if err := f.pins.PowerDown.Set(ctx, true); err != nil {
		return errors.Wrap(err, "power down line")
	}
	if err := f.pins.Reset.Set(ctx, true); err != nil {
		return errors.Wrap(err, "reset line")
	}
	if err := delay.Delay(ctx, PowerOnDelay); err != nil {
		return err
	}
	if err := f.pins.Reset.Set(ctx, false); err != nil {
		return errors.Wrap(err, "reset line")
	}
	if err := delay.Delay(ctx, ResetPulseWidth); err != nil {
		return err
	}
	if err := f.pins.Reset.Set(ctx, true); err != nil {
		return errors.Wrap(err, "reset line")
	}
	if err := delay.Delay(ctx, ResetSettleDelay); err != nil {
		return err
	}
	return f.discover(ctx)
}

func (f *Frontend) discover(ctx context.Context) error {
	var devices []*Device
	for _, cs := range f.chipSelects {
		dev := NewDevice(f.handle, cs, f.bus, f.logger)
		if err := dev.Smell(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warnw("device not detected, skipping", "chip_select", cs, "error", err)
			continue
		}
		f.logger.Infow("device detected", "chip_select", cs, "channels", dev.NumChannels())
		devices = append(devices, dev)
	}
	f.devices = devices
	return nil
}

// Devices returns the live devices in chain order.
func (f *Frontend) Devices() []*Device {
	return f.devices
}

// ChannelCounts returns the channel count of every live device in chain order.
func (f *Frontend) ChannelCounts() []int {
	counts := make([]int, len(f.devices))
	for i, dev := range f.devices {
		counts[i] = dev.NumChannels()
	}
	return counts
}

// NumChannels returns the total channel count.
func (f *Frontend) NumChannels() int {
	n := 0
	for _, dev := range f.devices {
		n += dev.NumChannels()
	}
	return n
}

// StartStream arms continuous read mode on every device, then raises the start line. Devices
// must be armed before start fires or the first data-ready edge is lost.
func (f *Frontend) StartStream(ctx context.Context) error {
	f.drainTicks()
	for _, dev := range f.devices {
		if err := dev.Command(ctx, CommandRDATAC); err != nil {
			return err
		}
	}
	return errors.Wrap(f.pins.Start.Set(ctx, true), "start line")
}

// StopStream lowers the start line, then leaves continuous read mode on every device.
func (f *Frontend) StopStream(ctx context.Context) error {
	if err := f.pins.Start.Set(ctx, false); err != nil {
		return errors.Wrap(err, "start line")
	}
	for _, dev := range f.devices {
		if err := dev.Command(ctx, CommandSDATAC); err != nil {
			return err
		}
	}
	return nil
}

// DataReady delivers data-ready edges. Only the falling edge means a frame is ready.
func (f *Frontend) DataReady() <-chan board.Tick {
	return f.ticks
}

// ReadBatch reads one continuous read frame from every device in chain order. Any device
// failure fails the whole batch.
func (f *Frontend) ReadBatch(ctx context.Context) (Batch, error) {
	batch := make(Batch, 0, len(f.devices))
	for _, dev := range f.devices {
		data, err := dev.ReadDataContinuous(ctx)
		if err != nil {
			return nil, err
		}
		batch = append(batch, data)
	}
	return batch, nil
}

// Poll waits for the next falling data-ready edge, then reads a batch.
func (f *Frontend) Poll(ctx context.Context) (Batch, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case tick := <-f.ticks:
			if tick.High {
				continue
			}
			return f.ReadBatch(ctx)
		}
	}
}

// PowerDown drops the power down line, which halts every chip until the next Reset.
func (f *Frontend) PowerDown(ctx context.Context) error {
	multierrs := multierr.Combine(
		errors.Wrap(f.pins.Start.Set(ctx, false), "start line"),
		errors.Wrap(f.pins.PowerDown.Set(ctx, false), "power down line"),
	)
	f.devices = nil
	return multierrs
}

// Close stops listening to the data-ready line.
func (f *Frontend) Close() {
	f.pins.DataReady.RemoveCallback(f.ticks)
}

func (f *Frontend) drainTicks() {
	for {
		select {
		case <-f.ticks:
		default:
			return
		}
	}
}
