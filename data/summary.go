package data

import (
	"io"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/biosignal/components/ads1299"
)

// DefaultVref is the reference voltage of the acquisition board, in volts.
const DefaultVref = 4.5

// Summary describes a recording.
type Summary struct {
	Path     string
	Frames   int
	Samples  int
	Channels int
	// Start and End are the timestamps of the first and last frame.
	Start time.Time
	End   time.Time
	// Dropped is the upstream drop count carried by the last frame.
	Dropped uint64
	// MinMicrovolts and MaxMicrovolts bound every channel value, converted with the gain and
	// reference voltage the summary was asked for.
	MinMicrovolts float64
	MaxMicrovolts float64
}

// Duration returns the time between the first and last frame.
func (s Summary) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Summarize reads every frame of r from the start. The channel count is taken from the first
// sample; a recording with no samples gets the full-scale range.
func Summarize(r *Reader, gain ads1299.Gain, vref float64) (Summary, error) {
	r.Reset()
	defer r.Reset()

	sum := Summary{
		Path:          r.Path(),
		MinMicrovolts: math.Inf(1),
		MaxMicrovolts: math.Inf(-1),
	}
	for {
		frame, err := r.ReadNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sum, err
		}
		ts := time.UnixMicro(int64(frame.Timestamp))
		if sum.Frames == 0 {
			sum.Start = ts
			if len(frame.Samples) > 0 {
				sum.Channels = len(frame.Samples[0].Data)
			}
		}
		sum.End = ts
		sum.Frames++
		sum.Samples += len(frame.Samples)
		sum.Dropped = frame.Dropped
		for _, s := range frame.Samples {
			if len(s.Data) == 0 {
				continue
			}
			sum.MinMicrovolts = math.Min(sum.MinMicrovolts, ads1299.Microvolts(lo.Min(s.Data), gain, vref))
			sum.MaxMicrovolts = math.Max(sum.MaxMicrovolts, ads1299.Microvolts(lo.Max(s.Data), gain, vref))
		}
	}
	if math.IsInf(sum.MinMicrovolts, 0) || math.IsInf(sum.MaxMicrovolts, 0) {
		sum.MinMicrovolts = ads1299.Microvolts(-1<<23, gain, vref)
		sum.MaxMicrovolts = ads1299.Microvolts(1<<23-1, gain, vref)
	}
	return sum, nil
}
