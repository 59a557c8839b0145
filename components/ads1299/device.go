package ads1299

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/biosignal/components/board"
	"go.viam.com/biosignal/logging"
)

// BusParams are the SPI transfer settings of a device.
type BusParams struct {
	BaudRate uint
	Mode     uint
}

// DefaultBusParams clocks the bus at 4 MHz in mode 1 (CPOL 0, CPHA 1).
var DefaultBusParams = BusParams{BaudRate: 4000000, Mode: 1}

const maxResyncAttempts = 3

// Device is one chip on a bus handle owned by the caller. A Device is not safe for concurrent
// use; the owner serializes every call, which also makes ModifyRegister safe.
type Device struct {
	handle      board.SPIHandle
	chipSelect  string
	bus         BusParams
	logger      logging.Logger
	numChannels int
}

// NewDevice returns a device on the given chip select. Its channel count is unknown until
// Smell succeeds.
func NewDevice(handle board.SPIHandle, chipSelect string, bus BusParams, logger logging.Logger) *Device {
	if bus.BaudRate == 0 {
		bus = DefaultBusParams
	}
	return &Device{
		handle:     handle,
		chipSelect: chipSelect,
		bus:        bus,
		logger:     logger,
	}
}

// ChipSelect returns the chip select of the device.
func (d *Device) ChipSelect() string {
	return d.chipSelect
}

// NumChannels returns the channel count found by Smell, or 0.
func (d *Device) NumChannels() int {
	return d.numChannels
}

func (d *Device) xfer(ctx context.Context, tx []byte) ([]byte, error) {
	rx, err := d.handle.Xfer(ctx, d.bus.BaudRate, d.chipSelect, d.bus.Mode, tx)
	if err != nil {
		return nil, errors.Wrapf(err, "spi transfer on chip select %s", d.chipSelect)
	}
	if len(rx) != len(tx) {
		return nil, errors.Errorf("spi transfer on chip select %s returned %d bytes, expected %d",
			d.chipSelect, len(rx), len(tx))
	}
	return rx, nil
}

// Command sends a one byte command.
func (d *Device) Command(ctx context.Context, cmd Command) error {
	_, err := d.xfer(ctx, []byte{byte(cmd)})
	return errors.Wrapf(err, "command %s", cmd)
}

// ReadRegisters reads n consecutive registers starting at reg in one transaction.
func (d *Device) ReadRegisters(ctx context.Context, reg Register, n int) ([]byte, error) {
	if n < 1 || int(reg)+n > NumRegisters {
		return nil, errors.Errorf("cannot read %d registers from %s", n, reg)
	}
	tx := append(readRegistersHeader(reg, n), make([]byte, n)...)
	rx, err := d.xfer(ctx, tx)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", reg)
	}
	return rx[2:], nil
}

// ReadRegister reads one register.
func (d *Device) ReadRegister(ctx context.Context, reg Register) (byte, error) {
	values, err := d.ReadRegisters(ctx, reg, 1)
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

// WriteRegisters writes consecutive registers starting at reg in one transaction.
func (d *Device) WriteRegisters(ctx context.Context, reg Register, values []byte) error {
	if len(values) < 1 || int(reg)+len(values) > NumRegisters {
		return errors.Errorf("cannot write %d registers from %s", len(values), reg)
	}
	tx := append(writeRegistersHeader(reg, len(values)), values...)
	_, err := d.xfer(ctx, tx)
	return errors.Wrapf(err, "writing %s", reg)
}

// WriteRegister writes one register.
func (d *Device) WriteRegister(ctx context.Context, reg Register, value byte) error {
	return d.WriteRegisters(ctx, reg, []byte{value})
}

// ModifyRegister reads reg, passes its value through fn and writes the result back. The two
// transactions are not atomic on the bus.
func (d *Device) ModifyRegister(ctx context.Context, reg Register, fn func(byte) byte) error {
	value, err := d.ReadRegister(ctx, reg)
	if err != nil {
		return err
	}
	return d.WriteRegister(ctx, reg, fn(value))
}

// Smell stops continuous read mode, so registers can be read, and checks the ID register. On
// success the channel count is remembered.
func (d *Device) Smell(ctx context.Context) error {
	if err := d.Command(ctx, CommandSDATAC); err != nil {
		return err
	}
	value, err := d.ReadRegister(ctx, RegisterID)
	if err != nil {
		return err
	}
	n, err := ID(value).Smell()
	if err != nil {
		return errors.Wrapf(err, "chip select %s: id 0x%02X", d.chipSelect, value)
	}
	d.numChannels = n
	return nil
}

func (d *Device) frameChannels() int {
	if d.numChannels == 0 {
		return MaxChannels
	}
	return d.numChannels
}

// ReadDataContinuous clocks out one frame in continuous read mode. A frame without the status
// marker is realigned by dropping bytes up to the next candidate marker and reading the missing
// tail. A FrameDesyncError is returned once maxResyncAttempts realignments failed.
func (d *Device) ReadDataContinuous(ctx context.Context) (Data, error) {
	n := d.frameChannels()
	frameLen := FrameLen(n)
	buf, err := d.xfer(ctx, make([]byte, frameLen))
	if err != nil {
		return Data{}, err
	}
	for attempt := 0; !hasMagic(buf[0]); attempt++ {
		if attempt == maxResyncAttempts {
			return Data{}, &FrameDesyncError{ChipSelect: d.chipSelect, Status: buf[0], Attempts: attempt}
		}
		skip := frameLen
		for i := 1; i < frameLen; i++ {
			if hasMagic(buf[i]) {
				skip = i
				break
			}
		}
		d.logger.Warnw("frame out of sync, realigning",
			"chip_select", d.chipSelect, "status", buf[0], "skip", skip)
		tail, err := d.xfer(ctx, make([]byte, skip))
		if err != nil {
			return Data{}, err
		}
		buf = append(buf[skip:], tail...)
	}
	return DecodeData(buf, n)
}

// ReadData issues RDATA and reads one frame. It works outside continuous read mode. The
// ADS1299 datasheet (RDATA command) shifts out the same 24 status bits and 24 bits per channel
// as continuous mode, starting on the byte after the opcode, so the transaction is one byte
// longer than a continuous read and carries no further header.
func (d *Device) ReadData(ctx context.Context) (Data, error) {
	n := d.frameChannels()
	tx := make([]byte, 1+FrameLen(n))
	tx[0] = byte(CommandRDATA)
	rx, err := d.xfer(ctx, tx)
	if err != nil {
		return Data{}, err
	}
	return DecodeData(rx[1:], n)
}

// SampleRate reads the output data rate.
func (d *Device) SampleRate(ctx context.Context) (SampleRate, error) {
	value, err := d.ReadRegister(ctx, RegisterConfig1)
	if err != nil {
		return 0, err
	}
	cfg, err := DecodeConfig1(value)
	if err != nil {
		return 0, err
	}
	return cfg.SampleRate, nil
}

// SetSampleRate changes the output data rate.
func (d *Device) SetSampleRate(ctx context.Context, rate SampleRate) error {
	if !rate.Valid() {
		return errors.Errorf("invalid sample rate code %d", uint8(rate))
	}
	return d.ModifyRegister(ctx, RegisterConfig1, func(b byte) byte {
		return setField(b, config1DR, 0, uint8(rate))
	})
}

// Calibration reads the test signal settings.
func (d *Device) Calibration(ctx context.Context) (Config2, error) {
	value, err := d.ReadRegister(ctx, RegisterConfig2)
	if err != nil {
		return Config2{}, err
	}
	return DecodeConfig2(value), nil
}

// SetCalibrationFrequency changes the test signal frequency.
func (d *Device) SetCalibrationFrequency(ctx context.Context, freq CalFreq) error {
	return d.ModifyRegister(ctx, RegisterConfig2, func(b byte) byte {
		return setField(b, config2CalFreq, 0, uint8(freq))
	})
}

// LeadOff reads the lead-off comparator settings.
func (d *Device) LeadOff(ctx context.Context) (LeadOff, error) {
	value, err := d.ReadRegister(ctx, RegisterLeadOff)
	if err != nil {
		return LeadOff{}, err
	}
	return DecodeLeadOff(value), nil
}

// ChannelSettings reads the CHnSET register of a local channel.
func (d *Device) ChannelSettings(ctx context.Context, ch int) (ChannelSet, error) {
	if err := d.checkChannel(ch); err != nil {
		return ChannelSet{}, err
	}
	reg := ChannelSetRegister(ch)
	value, err := d.ReadRegister(ctx, reg)
	if err != nil {
		return ChannelSet{}, err
	}
	return DecodeChannelSet(reg, value)
}

// SetChannelSettings writes the CHnSET register of a local channel.
func (d *Device) SetChannelSettings(ctx context.Context, ch int, cs ChannelSet) error {
	if err := d.checkChannel(ch); err != nil {
		return err
	}
	if !cs.Gain.Valid() {
		return errors.Errorf("invalid gain code %d", uint8(cs.Gain))
	}
	return d.ModifyRegister(ctx, ChannelSetRegister(ch), cs.Apply)
}

// SetChannelPowerDown powers a local channel down or up.
func (d *Device) SetChannelPowerDown(ctx context.Context, ch int, pd bool) error {
	if err := d.checkChannel(ch); err != nil {
		return err
	}
	return d.ModifyRegister(ctx, ChannelSetRegister(ch), func(b byte) byte {
		return setBits(b, chSetPD, pd)
	})
}

// GPIO reads the GPIO register.
func (d *Device) GPIO(ctx context.Context) (GPIO, error) {
	value, err := d.ReadRegister(ctx, RegisterGPIO)
	if err != nil {
		return GPIO{}, err
	}
	return DecodeGPIO(value), nil
}

func (d *Device) checkChannel(ch int) error {
	if ch < 0 || ch >= d.frameChannels() {
		return errors.Errorf("channel %d out of range for chip select %s", ch, d.chipSelect)
	}
	return nil
}
