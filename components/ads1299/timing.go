package ads1299

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// Timing floors, derived from the slowest allowed converter clock.
const (
	MaxClockPeriod   = 700 * time.Nanosecond
	PowerOnDelay     = MaxClockPeriod << 18
	ResetPulseWidth  = MaxClockPeriod << 1
	ResetSettleDelay = 18 * MaxClockPeriod
)

// A Delayer waits for at least the given duration.
type Delayer interface {
	Delay(ctx context.Context, d time.Duration) error
}

// ClockDelayer waits on a clock.
type ClockDelayer struct {
	Clock clock.Clock
}

// Delay waits for d or until ctx is done.
func (cd ClockDelayer) Delay(ctx context.Context, d time.Duration) error {
	clk := cd.Clock
	if clk == nil {
		clk = clock.New()
	}
	timer := clk.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
