package logging

import (
	"strings"
	"testing"

	"go.viam.com/test"
)

func verifySetLevels(registry *Registry, expectedMatches map[string]string) bool {
	for name, level := range expectedMatches {
		logger, ok := registry.loggerNamed(name)
		if !ok || !strings.EqualFold(level, logger.GetLevel().String()) {
			return false
		}
	}
	return true
}

func createTestRegistry(loggerNames []string) *Registry {
	manager := newRegistry()
	for _, name := range loggerNames {
		manager.registerLogger(name, NewLogger(name))
	}
	return manager
}

func TestValidatePattern(t *testing.T) {
	t.Parallel()

	type testCfg struct {
		pattern string
		isValid bool
	}

	tests := []testCfg{
		// Valid patterns
		{"biosignal.acquisition", true},
		{"biosignal.acquisition.*", true},
		{"biosignal.*.acquisition", true},
		{"biosignal.*.*", true},
		{"*.acquisition", true},
		{"*", true},

		// Invalid patterns
		{"biosignal..acquisition", false},
		{"biosignal.acquisition.", false},
		{".biosignal.acquisition", false},
		{"biosignal.acquisition.**", false},
		{"biosignal.**.acquisition", false},

		// Invalid patterns with special characters
		{"_.biosignal.acquisition", false},
		{"-.biosignal", false},
		{"biosignal.-", false},
		{"biosignal.-.acquisition", false},
		{"biosignal._.acquisition", false},
	}

	for _, tc := range tests {
		t.Run(tc.pattern, func(t *testing.T) {
			t.Parallel()
			test.That(t, validatePattern(tc.pattern), test.ShouldEqual, tc.isValid)
		})
	}
}

func TestUpdateLoggerRegistry(t *testing.T) {
	type testCfg struct {
		loggerConfig    []LoggerPatternConfig
		loggerNames     []string
		expectedMatches map[string]string
	}

	tests := []testCfg{
		{
			loggerConfig: []LoggerPatternConfig{
				{
					Pattern: "biosignal.acquisition",
					Level:   "WARN",
				},
			},
			loggerNames: []string{
				"biosignal.acquisition",
				"biosignal.acquisition.frontend",
				"biosignal.recorder",
			},
			expectedMatches: map[string]string{
				"biosignal.acquisition": "WARN",
			},
		},
		{
			loggerConfig: []LoggerPatternConfig{
				{
					Pattern: "biosignal.*",
					Level:   "DEBUG",
				},
			},
			loggerNames: []string{
				"biosignal.acquisition",
				"biosignal.stream.frontend",
				"biosignal.acquisition.device0.frontend",
			},
			expectedMatches: map[string]string{
				"biosignal.acquisition":                  "DEBUG",
				"biosignal.stream.frontend":              "DEBUG",
				"biosignal.acquisition.device0.frontend": "DEBUG",
			},
		},
		{
			loggerConfig: []LoggerPatternConfig{
				{
					Pattern: "biosignal.*.frontend",
					Level:   "ERROR",
				},
			},
			loggerNames: []string{
				"biosignal.acquisition.frontend",
				"biosignal.stream.frontend",
				"biosignal.acquisition.stream",
			},
			expectedMatches: map[string]string{
				"biosignal.acquisition.frontend": "ERROR",
				"biosignal.stream.frontend":      "ERROR",
			},
		},
		{
			loggerConfig: []LoggerPatternConfig{
				{
					Pattern: "biosignal.*",
					Level:   "DEBUG",
				},
				{
					Pattern: "biosignal.acquisition",
					Level:   "WARN",
				},
			},
			loggerNames: []string{
				"biosignal.acquisition",
			},
			expectedMatches: map[string]string{
				"biosignal.acquisition": "WARN",
			},
		},
		{
			loggerConfig: []LoggerPatternConfig{
				{
					Pattern: "biosignal.*.frontend",
					Level:   "WARN",
				},
			},
			loggerNames: []string{
				"biosignal.acquisition.frontend",
				"biosignal.acquisition.daisy.frontend",
			},
			expectedMatches: map[string]string{
				"biosignal.acquisition.frontend":       "WARN",
				"biosignal.acquisition.daisy.frontend": "WARN",
			},
		},
		{
			loggerConfig: []LoggerPatternConfig{
				{
					Pattern: "_.*.frontend",
					Level:   "DEBUG",
				},
			},
			loggerNames: []string{
				"biosignal.acquisition",
			},
			expectedMatches: map[string]string{},
		},
		{
			loggerConfig: []LoggerPatternConfig{
				{
					Pattern: "a.b",
					Level:   "DEBUG",
				},
			},
			loggerNames: []string{
				"a.b.c",
			},
			expectedMatches: map[string]string{
				"a.b.c": "INFO",
			},
		},
	}

	for _, tc := range tests {
		testRegistry := createTestRegistry(tc.loggerNames)

		err := testRegistry.Update(tc.loggerConfig, NewLogger("error-logger"))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, verifySetLevels(testRegistry, tc.expectedMatches), test.ShouldBeTrue)
	}
}

func TestSubloggerPicksUpPatternLevel(t *testing.T) {
	root := NewBlankLogger("levels")
	test.That(t, UpdateLoggerLevels([]LoggerPatternConfig{{Pattern: "levels.*", Level: "warn"}}, root), test.ShouldBeNil)
	defer func() {
		test.That(t, UpdateLoggerLevels(nil, root), test.ShouldBeNil)
	}()

	sub := root.Sublogger("task")
	test.That(t, sub.GetLevel(), test.ShouldEqual, WARN)
}

func TestLoggerPatternConfigValidate(t *testing.T) {
	test.That(t, LoggerPatternConfig{Pattern: "biosignal.*", Level: "debug"}.Validate(), test.ShouldBeNil)

	err := LoggerPatternConfig{Pattern: "biosignal..recorder", Level: "debug"}.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "invalid logger pattern")

	err = LoggerPatternConfig{Pattern: "biosignal.recorder", Level: "loud"}.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown log level")
}
