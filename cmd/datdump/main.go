// Package main prints a summary, and optionally every frame, of recordings written by the
// acquisition service.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/biosignal/components/ads1299"
	"go.viam.com/biosignal/data"
	"go.viam.com/biosignal/logging"
)

const (
	flagGain   = "gain"
	flagVref   = "vref"
	flagFrames = "frames"
)

func newApp() *cli.App {
	return &cli.App{
		Name:      "datdump",
		Usage:     "inspect .dat recordings",
		ArgsUsage: "<file.dat>...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  flagGain,
				Value: ads1299.GainX24.String(),
				Usage: "PGA gain the recording was made with, for the microvolt range",
			},
			&cli.Float64Flag{
				Name:  flagVref,
				Value: data.DefaultVref,
				Usage: "reference voltage in volts",
			},
			&cli.BoolFlag{
				Name:  flagFrames,
				Usage: "print every frame",
			},
		},
		Action: DumpAction,
	}
}

// DumpAction summarizes each file named on the command line.
func DumpAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("no recordings given")
	}
	var gain ads1299.Gain
	if err := gain.UnmarshalText([]byte(c.String(flagGain))); err != nil {
		return err
	}
	for _, path := range c.Args().Slice() {
		if err := dump(c.App.Writer, path, gain, c.Float64(flagVref), c.Bool(flagFrames)); err != nil {
			return errors.Wrapf(err, "reading %s", path)
		}
	}
	return nil
}

func dump(w io.Writer, path string, gain ads1299.Gain, vref float64, frames bool) (err error) {
	r, err := data.OpenReader(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := r.Close(); err == nil {
			err = closeErr
		}
	}()

	sum, err := data.Summarize(r, gain, vref)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s (%s): %d frames, %d samples, %d channels, %s, %d dropped\n",
		sum.Path, data.FormatSize(r.Size()), sum.Frames, sum.Samples, sum.Channels,
		sum.Duration().Round(time.Millisecond), sum.Dropped)
	if sum.Frames > 0 {
		fmt.Fprintf(w, "  %s .. %s, range %.1f .. %.1f uV\n",
			sum.Start.UTC().Format(time.RFC3339Nano), sum.End.UTC().Format(time.RFC3339Nano),
			sum.MinMicrovolts, sum.MaxMicrovolts)
	}
	if !frames {
		return nil
	}
	for {
		frame, err := r.ReadNext()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  #%d ts=%d dropped=%d samples=%d\n",
			frame.PacketCounter, frame.Timestamp, frame.Dropped, len(frame.Samples))
		for _, s := range frame.Samples {
			fmt.Fprintf(w, "    loff_p=%#x loff_n=%#x gpio=%#x %v\n", s.LeadOffPositive, s.LeadOffNegative, s.GPIO, s.Data)
		}
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logging.NewLogger("datdump").Error(err)
		os.Exit(1)
	}
}
