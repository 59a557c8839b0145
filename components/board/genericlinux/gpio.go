//go:build linux

// Package genericlinux implements the acquisition board on Linux: spidev through periph.io and
// GPIO character devices through mkch's gpio package.
package genericlinux

import (
	"context"
	"sync"

	"github.com/mkch/gpio"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/biosignal/components/board"
)

// consumer is the label the kernel shows for lines held by this process.
const consumer = "biosignal"

// withChip opens the GPIO character device at path for the duration of fn. Lines requested in
// fn stay valid after the chip is closed.
func withChip(path string, fn func(chip *gpio.Chip) error) error {
	chip, err := gpio.OpenChip(path)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	defer utils.UncheckedErrorFunc(chip.Close)
	return fn(chip)
}

// outputLine is one control output. The line is requested on first use and starts at the value
// being written, so it never glitches through the other level.
type outputLine struct {
	cfg board.GPIOLineConfig

	mu   sync.Mutex
	line *gpio.Line
	high bool
}

func newOutputLine(cfg board.GPIOLineConfig) *outputLine {
	return &outputLine{cfg: cfg}
}

func (o *outputLine) request(initial bool) error {
	if o.line != nil {
		return nil
	}
	return withChip(o.cfg.Chip, func(chip *gpio.Chip) error {
		line, err := chip.OpenLine(o.cfg.Line, levelByte(initial), gpio.Output, consumer)
		if err != nil {
			return errors.Wrapf(err, "requesting line %d", o.cfg.Line)
		}
		o.line, o.high = line, initial
		return nil
	})
}

func (o *outputLine) Set(ctx context.Context, high bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.line == nil {
		return o.request(high)
	}
	if err := o.line.SetValue(levelByte(high)); err != nil {
		return err
	}
	o.high = high
	return nil
}

// Get returns the last level written. A line that was never driven reads low.
func (o *outputLine) Get(ctx context.Context) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.high, nil
}

func (o *outputLine) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.line == nil {
		return nil
	}
	err := o.line.Close()
	o.line = nil
	return err
}

func levelByte(high bool) byte {
	if high {
		return 1
	}
	return 0
}
