package logging

import (
	"regexp"
	"sync"

	"github.com/pkg/errors"
)

var globalLoggerRegistry = newRegistry()

// Registry tracks named loggers so their levels can be changed by pattern at runtime.
type Registry struct {
	mu        sync.RWMutex
	loggers   map[string]Logger
	logConfig []LoggerPatternConfig
}

func newRegistry() *Registry {
	return &Registry{
		loggers: make(map[string]Logger),
	}
}

func (lr *Registry) registerLogger(name string, logger Logger) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.loggers[name] = logger
}

func (lr *Registry) loggerNamed(name string) (logger Logger, ok bool) {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	logger, ok = lr.loggers[name]
	return
}

func (lr *Registry) names() []string {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	ret := make([]string, 0, len(lr.loggers))
	for name := range lr.loggers {
		ret = append(ret, name)
	}
	return ret
}

// levelFor returns the level of the last pattern in `cfg` matching `name`.
func levelFor(cfg []LoggerPatternConfig, name string) (Level, bool, error) {
	var (
		level   Level
		matched bool
	)
	for _, lpc := range cfg {
		if !validatePattern(lpc.Pattern) {
			continue
		}
		r, err := regexp.Compile(buildRegexFromPattern(lpc.Pattern))
		if err != nil {
			return INFO, false, err
		}
		if !r.MatchString(name) {
			continue
		}
		l, err := LevelFromString(lpc.Level)
		if err != nil {
			return INFO, false, err
		}
		level, matched = l, true
	}
	return level, matched, nil
}

// Update replaces the pattern configuration and re-levels every registered logger. Loggers no
// pattern matches go back to INFO.
func (lr *Registry) Update(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	for _, lpc := range logConfig {
		if !validatePattern(lpc.Pattern) {
			errorLogger.Warnw("failed to validate a pattern", "pattern", lpc.Pattern)
		}
	}

	lr.mu.Lock()
	lr.logConfig = logConfig
	lr.mu.Unlock()

	for _, name := range lr.names() {
		level, ok, err := levelFor(logConfig, name)
		if err != nil {
			return errors.Wrapf(err, "applying log config to %q", name)
		}
		if !ok {
			level = INFO
		}
		logger, found := lr.loggerNamed(name)
		if !found {
			return errors.Errorf("logger named %s not recognized", name)
		}
		logger.SetLevel(level)
	}
	return nil
}

// register records `logger` under `name`, replacing any previous holder of the name, and levels it
// with the current patterns.
func (lr *Registry) register(name string, logger Logger) Logger {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.loggers[name] = logger
	if level, ok, err := levelFor(lr.logConfig, name); err == nil && ok {
		logger.SetLevel(level)
	}
	return logger
}

// UpdateLoggerLevels applies pattern based levels to every logger created through Sublogger.
func UpdateLoggerLevels(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	return globalLoggerRegistry.Update(logConfig, errorLogger)
}
