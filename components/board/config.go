package board

import (
	"fmt"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// SPIConfig enumerates a specific, shareable SPI bus and the chip selects of the devices on it.
type SPIConfig struct {
	Name      string `json:"name"`
	BusSelect string `json:"bus_select"`
	// ChipSelects lists the device chip selects in daisy chain order.
	ChipSelects []string `json:"chip_selects"`
	BaudRate    uint     `json:"baud_rate,omitempty"`
	Mode        uint     `json:"mode,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (config *SPIConfig) Validate(path string) error {
	if config.Name == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if config.BusSelect == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "bus_select")
	}
	if len(config.ChipSelects) == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "chip_selects")
	}
	if config.Mode > 3 {
		return utils.NewConfigValidationError(path, errors.Errorf("spi mode %d out of range [0, 3]", config.Mode))
	}
	return nil
}

// GPIOLineConfig names one line of a Linux GPIO character device.
type GPIOLineConfig struct {
	Chip string `json:"chip"`
	Line uint32 `json:"line"`
}

// Validate ensures all parts of the config are valid.
func (config *GPIOLineConfig) Validate(path string) error {
	if config.Chip == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "chip")
	}
	return nil
}

// FrontendPinsConfig describes the control lines shared by every device in a daisy chain.
type FrontendPinsConfig struct {
	Start     GPIOLineConfig `json:"start"`
	Reset     GPIOLineConfig `json:"reset"`
	PowerDown GPIOLineConfig `json:"pwdn"`
	DataReady GPIOLineConfig `json:"drdy"`
}

// Validate ensures all parts of the config are valid.
func (config *FrontendPinsConfig) Validate(path string) error {
	for _, line := range []struct {
		name string
		cfg  *GPIOLineConfig
	}{
		{"start", &config.Start},
		{"reset", &config.Reset},
		{"pwdn", &config.PowerDown},
		{"drdy", &config.DataReady},
	} {
		if err := line.cfg.Validate(fmt.Sprintf("%s.%s", path, line.name)); err != nil {
			return err
		}
	}
	return nil
}

// Config describes the board an acquisition frontend is wired to. A fake board simulates the
// chips and control lines in process.
type Config struct {
	Fake bool               `json:"fake,omitempty"`
	SPI  SPIConfig          `json:"spi"`
	Pins FrontendPinsConfig `json:"pins"`
	// FakeChannels lists the channel count of each simulated device.
	FakeChannels []int `json:"fake_channels,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (config *Config) Validate(path string) error {
	if err := config.SPI.Validate(fmt.Sprintf("%s.%s", path, "spi")); err != nil {
		return err
	}
	if config.Fake {
		for idx, n := range config.FakeChannels {
			if n != 4 && n != 6 && n != 8 {
				return utils.NewConfigValidationError(
					fmt.Sprintf("%s.fake_channels.%d", path, idx),
					errors.Errorf("channel count must be 4, 6 or 8, got %d", n))
			}
		}
		return nil
	}
	return config.Pins.Validate(fmt.Sprintf("%s.%s", path, "pins"))
}
