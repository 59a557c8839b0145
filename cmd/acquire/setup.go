package main

import (
	"context"
	"io"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/biosignal/components/ads1299"
	adsfake "go.viam.com/biosignal/components/ads1299/fake"
	"go.viam.com/biosignal/components/board"
	fakeboard "go.viam.com/biosignal/components/board/fake"
	"go.viam.com/biosignal/components/board/genericlinux"
	"go.viam.com/biosignal/config"
	"go.viam.com/biosignal/logging"
	"go.viam.com/biosignal/profile"
	"go.viam.com/biosignal/services/acquisition"
)

// defaultFakeChannels is the channel count of a simulated device when the config lists none.
const defaultFakeChannels = 8

type environment struct {
	cfg    *config.Config
	logger logging.Logger
	store  *profile.FileStore

	logFile io.Closer
}

func (env *environment) Close() {
	if env.logFile == nil {
		return
	}
	if err := env.logFile.Close(); err != nil {
		env.logger.Debugw("error closing log file", "error", err)
	}
}

// setup reads the config, builds the root logger and opens the profile store.
func setup(c *cli.Context) (*environment, error) {
	cfg, err := config.Read(c.String(flagConfig))
	if err != nil {
		return nil, err
	}
	logger, logFile, err := newLogger(cfg.Log, c.Bool(flagDebug))
	if err != nil {
		return nil, err
	}
	logging.ReplaceGlobal(logger)
	env := &environment{cfg: cfg, logger: logger, logFile: logFile}

	store, err := profile.OpenFileStore(cfg.ProfileFile, logger.Sublogger("profile"))
	if err != nil {
		env.Close()
		return nil, err
	}
	env.store = store
	return env, nil
}

// newLogger must run before any sublogger is created: subloggers copy the appenders of their
// parent at creation.
func newLogger(cfg config.LogConfig, debug bool) (logging.Logger, io.Closer, error) {
	logger := logging.NewLogger("biosignal")
	if cfg.Level != "" {
		level, err := logging.LevelFromString(cfg.Level)
		if err != nil {
			return nil, nil, err
		}
		logger.SetLevel(level)
	}
	if debug {
		logger.SetLevel(logging.DEBUG)
	}

	var closer io.Closer
	if cfg.File != nil {
		var appender logging.Appender
		appender, closer = logging.NewFileAppender(*cfg.File)
		logger.AddAppender(appender)
	}
	if err := logging.UpdateLoggerLevels(cfg.Patterns, logger); err != nil {
		return nil, closer, err
	}
	return logger, closer, nil
}

// openBoard returns the configured board. A fake board gets one simulated chip per chip select
// and a data-ready clock running at rate.
func openBoard(ctx context.Context, cfg *config.Config, rate ads1299.SampleRate, logger logging.Logger) (board.Board, error) {
	if !cfg.Board.Fake {
		b, err := genericlinux.NewBoard(ctx, cfg.Board, logger)
		if err != nil {
			return nil, errors.Wrap(err, "opening board")
		}
		return b, nil
	}
	devices := make(map[string]fakeboard.SPIDevice, len(cfg.Board.SPI.ChipSelects))
	for idx, cs := range cfg.Board.SPI.ChipSelects {
		n := defaultFakeChannels
		if idx < len(cfg.Board.FakeChannels) {
			n = cfg.Board.FakeChannels[idx]
		}
		devices[cs] = adsfake.NewChip(n)
	}
	b := fakeboard.NewBoard(devices, logger)
	b.RunDataReady(rate.Period(), clock.New())
	logger.Infow("using simulated board", "chip_selects", cfg.Board.SPI.ChipSelects, "rate", rate)
	return b, nil
}

// newManager builds the acquisition task on b and a manager reading configs from the store.
func newManager(env *environment, b board.Board) *acquisition.Manager {
	task := acquisition.NewTask(b, acquisition.TaskConfig{
		ChipSelects: env.cfg.Board.SPI.ChipSelects,
		Bus:         env.cfg.BusParams(),
	}, env.logger.Sublogger("acquisition"))
	return acquisition.NewManager(task, env.store, env.logger.Sublogger("manager"))
}

// sampleRate is the rate of the current profile, or the default rate when it has no config.
func (env *environment) sampleRate() ads1299.SampleRate {
	if cfg, err := env.store.AcquisitionConfig(env.store.Current()); err == nil {
		return cfg.SampleRate
	}
	return acquisition.DefaultConfig(0).SampleRate
}
