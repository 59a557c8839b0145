// Package config defines the acquisition service configuration file: the board, the transports
// fed from the sample stream, the recorder, the profile store and logging.
package config

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/biosignal/components/ads1299"
	"go.viam.com/biosignal/components/board"
	"go.viam.com/biosignal/logging"
	"go.viam.com/biosignal/transport/udp"
)

// DefaultProfileFile is the profile store used when none is configured, relative to the config
// file.
const DefaultProfileFile = "profiles.json"

// Config is the whole service configuration.
type Config struct {
	Board       board.Config      `json:"board"`
	Transports  []TransportConfig `json:"transports,omitempty"`
	Recorder    RecorderConfig    `json:"recorder"`
	ProfileFile string            `json:"profile_file,omitempty"`
	Log         LogConfig         `json:"log"`

	// ConfigFilePath is the file the config was read from, if any.
	ConfigFilePath string `json:"-"`
}

// Validate ensures all parts of the config are valid. It also fills in defaults and decodes
// transport attributes.
func (c *Config) Validate() error {
	if err := c.Board.Validate("board"); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Transports))
	for idx := range c.Transports {
		tc := &c.Transports[idx]
		path := fmt.Sprintf("transports.%d", idx)
		if err := tc.Validate(path); err != nil {
			return err
		}
		if _, ok := seen[tc.Name]; ok {
			return utils.NewConfigValidationError(path, errors.Errorf("duplicate transport name %q", tc.Name))
		}
		seen[tc.Name] = struct{}{}
	}
	if err := c.Recorder.Validate("recorder"); err != nil {
		return err
	}
	if c.ProfileFile == "" {
		c.ProfileFile = DefaultProfileFile
	}
	return c.Log.Validate("log")
}

// BusParams returns the transfer settings of the configured SPI bus.
func (c *Config) BusParams() ads1299.BusParams {
	bus := ads1299.DefaultBusParams
	if c.Board.SPI.BaudRate != 0 {
		bus.BaudRate = c.Board.SPI.BaudRate
	}
	if c.Board.SPI.Mode != 0 {
		bus.Mode = c.Board.SPI.Mode
	}
	return bus
}

// TransportType selects how a transport is fed.
type TransportType string

// Transport types.
const (
	// TransportNotify sends a frame as soon as it is full.
	TransportNotify TransportType = "notify"
	// TransportInterval also sends whatever is pending on every interval tick.
	TransportInterval TransportType = "interval"
)

// TransportConfig is one transport. Attributes are decoded into ConvertedAttributes by Validate.
type TransportConfig struct {
	Name       string                 `json:"name"`
	Type       TransportType          `json:"type"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`

	ConvertedAttributes *udp.Config `json:"-"`
}

// Validate ensures all parts of the config are valid.
func (tc *TransportConfig) Validate(path string) error {
	if tc.Name == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "name")
	}
	switch tc.Type {
	case TransportNotify, TransportInterval:
	case "":
		return utils.NewConfigValidationFieldRequiredError(path, "type")
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown transport type %q", tc.Type))
	}
	converted, err := decodeAttributes(tc.Attributes)
	if err != nil {
		return utils.NewConfigValidationError(path, errors.Wrap(err, "error decoding attributes"))
	}
	if err := converted.Validate(path + ".attributes"); err != nil {
		return err
	}
	if tc.Type == TransportNotify && converted.Interval != 0 {
		return utils.NewConfigValidationError(path, errors.New("interval is only valid for interval transports"))
	}
	tc.ConvertedAttributes = converted
	return nil
}

func decodeAttributes(attributes map[string]interface{}) (*udp.Config, error) {
	out := &udp.Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      out,
		ErrorUnused: true,
		DecodeHook:  mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, err
	}
	return out, nil
}

// RecorderConfig configures recording of the sample stream to disk.
type RecorderConfig struct {
	Enabled    bool   `json:"enabled"`
	Dir        string `json:"dir,omitempty"`
	BatchSize  int    `json:"batch_size,omitempty"`
	QueueDepth int    `json:"queue_depth,omitempty"`
	// MinFreeMB is the free space the recording file system must have for a session to start.
	MinFreeMB int `json:"min_free_mb,omitempty"`
	// AutoStart opens a recording session when the service starts. Otherwise sessions are
	// started and stopped by events.
	AutoStart bool `json:"auto_start,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (rc *RecorderConfig) Validate(path string) error {
	if !rc.Enabled {
		return nil
	}
	if rc.Dir == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "dir")
	}
	if rc.BatchSize < 0 {
		return utils.NewConfigValidationError(path, errors.New("batch_size must not be negative"))
	}
	if rc.QueueDepth < 0 {
		return utils.NewConfigValidationError(path, errors.New("queue_depth must not be negative"))
	}
	if rc.MinFreeMB < 0 {
		return utils.NewConfigValidationError(path, errors.New("min_free_mb must not be negative"))
	}
	return nil
}

// LogConfig configures log levels and an optional rotated log file.
type LogConfig struct {
	Level    string                        `json:"level,omitempty"`
	Patterns []logging.LoggerPatternConfig `json:"patterns,omitempty"`
	File     *logging.FileAppenderConfig   `json:"file,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (lc *LogConfig) Validate(path string) error {
	if lc.Level != "" {
		if _, err := logging.LevelFromString(lc.Level); err != nil {
			return utils.NewConfigValidationError(path, err)
		}
	}
	for idx, p := range lc.Patterns {
		patternPath := fmt.Sprintf("%s.patterns.%d", path, idx)
		if p.Pattern == "" {
			return utils.NewConfigValidationFieldRequiredError(patternPath, "pattern")
		}
		if err := p.Validate(); err != nil {
			return utils.NewConfigValidationError(patternPath, err)
		}
	}
	if lc.File != nil && lc.File.Path == "" {
		return utils.NewConfigValidationFieldRequiredError(path+".file", "path")
	}
	return nil
}
