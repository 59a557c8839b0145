package acquisition

import (
	"context"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/biosignal/components/ads1299"
	"go.viam.com/biosignal/logging"
)

// Apply writes cfg to every device of the chain. Global fields go to every device, except the
// clock output, which only the first device drives. Channel settings are taken from cfg.Channels
// starting at each device's offset in the chain. Registers are read, modified and written back,
// so reserved bits are kept.
func Apply(ctx context.Context, devices []*ads1299.Device, cfg *Config, logger logging.Logger) (ChannelLayout, error) {
	layout := NewChannelLayout(lo.Map(devices, func(d *ads1299.Device, _ int) int { return d.NumChannels() }))
	if cfg.NumChannels() != layout.NumChannels() {
		return layout, &ChannelCountError{Configured: cfg.NumChannels(), Detected: layout.NumChannels()}
	}
	for i, dev := range devices {
		start, end := layout.Range(i)
		if err := applyDevice(ctx, dev, i == 0, cfg, cfg.Channels[start:end]); err != nil {
			return layout, errors.Wrapf(err, "configuring chip select %s", dev.ChipSelect())
		}
		logger.Debugw("configured device", "chip_select", dev.ChipSelect(), "channels", end-start,
			"first_channel", start)
	}
	return layout, nil
}

func applyDevice(
	ctx context.Context,
	dev *ads1299.Device,
	clockMaster bool,
	cfg *Config,
	channels []ChannelConfig,
) error {
	steps := []struct {
		reg ads1299.Register
		fn  func(byte) byte
	}{
		{ads1299.RegisterConfig1, ads1299.Config1{
			DaisyEn:     cfg.DaisyEn,
			ClockOutput: clockMaster,
			SampleRate:  cfg.SampleRate,
		}.Apply},
		{ads1299.RegisterConfig2, ads1299.Config2{
			InternalCalibration:  cfg.InternalCalibration,
			CalibrationAmplitude: cfg.CalibrationAmplitude,
			CalibrationFrequency: cfg.CalibrationFrequency,
		}.Apply},
		{ads1299.RegisterConfig3, ads1299.Config3{
			PowerDownRefBuf:  cfg.PowerDownRefBuf,
			BiasMeasure:      cfg.BiasMeasure,
			BiasRefInternal:  cfg.BiasRefInternal,
			PowerDownBias:    cfg.PowerDownBias,
			BiasLeadOffSense: cfg.BiasLeadOffSense,
			BiasStat:         cfg.BiasStat,
		}.Apply},
		{ads1299.RegisterLeadOff, ads1299.LeadOff{
			CompThreshold: cfg.CompThreshold,
			Current:       cfg.LeadOffCurrent,
			Frequency:     cfg.LeadOffFrequency,
		}.Apply},
	}
	for _, s := range steps {
		if err := dev.ModifyRegister(ctx, s.reg, s.fn); err != nil {
			return err
		}
	}

	for local, ch := range channels {
		chSet := ads1299.ChannelSet{PowerDown: ch.PowerDown, Gain: ch.Gain, SRB2: ch.SRB2, Mux: ch.Mux}
		if err := dev.ModifyRegister(ctx, ads1299.ChannelSetRegister(local), chSet.Apply); err != nil {
			return err
		}
		bits := []struct {
			reg ads1299.Register
			on  bool
		}{
			{ads1299.RegisterLeadOffSenseP, ch.LeadOffSenseP},
			{ads1299.RegisterLeadOffSenseN, ch.LeadOffSenseN},
			{ads1299.RegisterLeadOffFlip, ch.LeadOffFlip},
			{ads1299.RegisterBiasSenseP, ch.BiasSenseP},
			{ads1299.RegisterBiasSenseN, ch.BiasSenseN},
		}
		for _, b := range bits {
			on := b.on
			if err := dev.ModifyRegister(ctx, b.reg, func(v byte) byte {
				return ads1299.SetChannelBit(v, local, on)
			}); err != nil {
				return err
			}
		}
	}

	tail := []struct {
		reg ads1299.Register
		fn  func(byte) byte
	}{
		{ads1299.RegisterGPIO, ads1299.GPIO{Control: ads1299.GPIOControl(cfg.GPIOControl)}.Apply},
		{ads1299.RegisterMisc1, ads1299.Misc1{SRB1: cfg.SRB1}.Apply},
		{ads1299.RegisterConfig4, ads1299.Config4{
			SingleShot:           cfg.SingleShot,
			PowerDownLeadOffComp: cfg.PowerDownLeadOffComp,
		}.Apply},
	}
	for _, s := range tail {
		if err := dev.ModifyRegister(ctx, s.reg, s.fn); err != nil {
			return err
		}
	}
	return nil
}
