// Package acquisition runs the acquisition session: it owns the frontend while streaming, applies
// configuration across the daisy chain, filters powered down channels out of every batch and
// publishes the result to the sample fan-out.
package acquisition

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/biosignal/components/ads1299"
)

// ChannelConfig is the configuration of one analog input.
type ChannelConfig struct {
	PowerDown     bool         `json:"power_down"`
	Gain          ads1299.Gain `json:"gain"`
	SRB2          bool         `json:"srb2"`
	Mux           ads1299.Mux  `json:"mux"`
	BiasSenseP    bool         `json:"bias_sensp"`
	BiasSenseN    bool         `json:"bias_sensn"`
	LeadOffSenseP bool         `json:"lead_off_sensp"`
	LeadOffSenseN bool         `json:"lead_off_sensn"`
	LeadOffFlip   bool         `json:"lead_off_flip"`
}

// Config is the full acquisition configuration. Global fields are written to every device;
// Channels holds one entry per channel of the whole chain, device 0 first.
type Config struct {
	// DaisyEn is the raw DAISY_EN bit, active low.
	DaisyEn bool `json:"daisy_en"`
	// ClockOutput is kept for stored profiles. The clock output is always driven by the first
	// device of the chain and no other.
	ClockOutput bool               `json:"clk_en"`
	SampleRate  ads1299.SampleRate `json:"sample_rate"`

	InternalCalibration  bool            `json:"internal_calibration"`
	CalibrationAmplitude bool            `json:"calibration_amplitude"`
	CalibrationFrequency ads1299.CalFreq `json:"calibration_frequency"`

	// PowerDownRefBuf and PowerDownBias are active low.
	PowerDownRefBuf  bool `json:"pd_refbuf"`
	BiasMeasure      bool `json:"bias_meas"`
	BiasRefInternal  bool `json:"biasref_int"`
	PowerDownBias    bool `json:"pd_bias"`
	BiasLeadOffSense bool `json:"bias_loff_sens"`
	BiasStat         bool `json:"bias_stat"`

	CompThreshold    ads1299.CompThreshPos `json:"comparator_threshold_pos"`
	LeadOffCurrent   ads1299.ILeadOff      `json:"lead_off_current"`
	LeadOffFrequency ads1299.FLeadOff      `json:"lead_off_frequency"`

	// GPIOControl makes GPIO n+1 an input when set.
	GPIOControl [4]bool `json:"gpioc"`
	SRB1        bool    `json:"srb1"`
	SingleShot  bool    `json:"single_shot"`
	// PowerDownLeadOffComp is active low.
	PowerDownLeadOffComp bool `json:"pd_loff_comp"`

	Channels []ChannelConfig `json:"channels"`
}

// DefaultChannelConfig is a powered electrode input at the highest gain.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{Gain: ads1299.GainX24, Mux: ads1299.MuxNormal}
}

// DefaultConfig returns the configuration for a chain with numChannels channels: 250 SPS, every
// GPIO an input and every channel a powered electrode input.
func DefaultConfig(numChannels int) *Config {
	cfg := &Config{
		SampleRate:           ads1299.SampleRate250,
		CalibrationFrequency: ads1299.CalFreqFclkBy21,
		CompThreshold:        ads1299.CompThresh95,
		LeadOffCurrent:       ads1299.ILeadOff6nA,
		LeadOffFrequency:     ads1299.FLeadOffDC,
		GPIOControl:          [4]bool{true, true, true, true},
		Channels:             make([]ChannelConfig, numChannels),
	}
	for i := range cfg.Channels {
		cfg.Channels[i] = DefaultChannelConfig()
	}
	return cfg
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Channels = append([]ChannelConfig(nil), c.Channels...)
	return &cp
}

// NumChannels returns the number of channel entries.
func (c *Config) NumChannels() int {
	return len(c.Channels)
}

// String renders the config as JSON for logs.
func (c *Config) String() string {
	b, err := json.Marshal(c)
	if err != nil {
		return err.Error()
	}
	return string(b)
}

// Validate checks every enum field. Decoded JSON is valid by construction; configs built in code
// may not be.
func (c *Config) Validate(path string) error {
	if !c.SampleRate.Valid() {
		return goutils.NewConfigValidationError(path, errors.Errorf("invalid sample_rate code %d", c.SampleRate))
	}
	if !c.CalibrationFrequency.Valid() {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("invalid calibration_frequency code %d", c.CalibrationFrequency))
	}
	if !c.CompThreshold.Valid() || !c.LeadOffCurrent.Valid() || !c.LeadOffFrequency.Valid() {
		return goutils.NewConfigValidationError(path, errors.New("invalid lead-off comparator setting"))
	}
	if len(c.Channels) == 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "channels")
	}
	for i, ch := range c.Channels {
		if !ch.Gain.Valid() {
			return goutils.NewConfigValidationError(path, errors.Errorf("channels.%d: invalid gain code %d", i, ch.Gain))
		}
		if !ch.Mux.Valid() {
			return goutils.NewConfigValidationError(path, errors.Errorf("channels.%d: invalid mux code %d", i, ch.Mux))
		}
	}
	return nil
}

// ChannelCountError means a config does not have one channel entry per detected channel.
type ChannelCountError struct {
	Configured int
	Detected   int
}

func (e *ChannelCountError) Error() string {
	return fmt.Sprintf("config has %d channels but %d were detected", e.Configured, e.Detected)
}
