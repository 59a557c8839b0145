package ads1299

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// The enums below hold the raw field code so encoding is a plain shift. Each one marshals to a
// stable name for JSON profiles.

type fieldCode interface {
	~uint8
}

func codeName[T fieldCode](v T, names []string) string {
	if int(v) < len(names) {
		return names[v]
	}
	return fmt.Sprintf("%d", uint8(v))
}

func parseCode[T fieldCode](text []byte, names []string, kind string) (T, error) {
	for i, name := range names {
		if name == string(text) {
			return T(i), nil
		}
	}
	return 0, errors.Errorf("unknown %s %q", kind, string(text))
}

// SampleRate is the CONFIG1 DR field. The code doubles the decimation per step.
type SampleRate uint8

// Output data rates.
const (
	SampleRate16k SampleRate = iota
	SampleRate8k
	SampleRate4k
	SampleRate2k
	SampleRate1k
	SampleRate500
	SampleRate250
)

var sampleRateNames = []string{"16ksps", "8ksps", "4ksps", "2ksps", "1ksps", "500sps", "250sps"}

func (r SampleRate) String() string { return codeName(r, sampleRateNames) }

// Valid reports whether r is a defined rate.
func (r SampleRate) Valid() bool { return r <= SampleRate250 }

// Hz returns the rate in samples per second.
func (r SampleRate) Hz() int { return 16000 >> r }

// Period returns the time between samples.
func (r SampleRate) Period() time.Duration { return time.Second / time.Duration(r.Hz()) }

// MarshalText implements encoding.TextMarshaler.
func (r SampleRate) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, errors.Errorf("invalid sample rate code %d", uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *SampleRate) UnmarshalText(text []byte) (err error) {
	*r, err = parseCode[SampleRate](text, sampleRateNames, "sample rate")
	return
}

// CalFreq is the CONFIG2 CAL_FREQ field.
type CalFreq uint8

// Test signal frequencies.
const (
	CalFreqFclkBy21 CalFreq = iota
	CalFreqFclkBy20
	CalFreqDoNotUse
	CalFreqDC
)

var calFreqNames = []string{"fclk/2^21", "fclk/2^20", "do_not_use", "dc"}

func (f CalFreq) String() string { return codeName(f, calFreqNames) }

// Valid reports whether f is a defined code.
func (f CalFreq) Valid() bool { return f <= CalFreqDC }

// MarshalText implements encoding.TextMarshaler.
func (f CalFreq) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *CalFreq) UnmarshalText(text []byte) (err error) {
	*f, err = parseCode[CalFreq](text, calFreqNames, "calibration frequency")
	return
}

// CompThreshPos is the LOFF COMP_TH field, the positive side lead-off comparator threshold.
type CompThreshPos uint8

// Comparator thresholds in percent.
const (
	CompThresh95 CompThreshPos = iota
	CompThresh92_5
	CompThresh90
	CompThresh87_5
	CompThresh85
	CompThresh80
	CompThresh75
	CompThresh70
)

var compThreshNames = []string{"95%", "92.5%", "90%", "87.5%", "85%", "80%", "75%", "70%"}

func (c CompThreshPos) String() string { return codeName(c, compThreshNames) }

// Valid reports whether c is a defined code.
func (c CompThreshPos) Valid() bool { return c <= CompThresh70 }

// MarshalText implements encoding.TextMarshaler.
func (c CompThreshPos) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *CompThreshPos) UnmarshalText(text []byte) (err error) {
	*c, err = parseCode[CompThreshPos](text, compThreshNames, "comparator threshold")
	return
}

// ILeadOff is the LOFF ILEAD_OFF field, the lead-off excitation current.
type ILeadOff uint8

// Lead-off currents.
const (
	ILeadOff6nA ILeadOff = iota
	ILeadOff24nA
	ILeadOff6uA
	ILeadOff24uA
)

var iLeadOffNames = []string{"6nA", "24nA", "6uA", "24uA"}

func (i ILeadOff) String() string { return codeName(i, iLeadOffNames) }

// Valid reports whether i is a defined code.
func (i ILeadOff) Valid() bool { return i <= ILeadOff24uA }

// MarshalText implements encoding.TextMarshaler.
func (i ILeadOff) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ILeadOff) UnmarshalText(text []byte) (err error) {
	*i, err = parseCode[ILeadOff](text, iLeadOffNames, "lead-off current")
	return
}

// FLeadOff is the LOFF FLEAD_OFF field, the lead-off excitation frequency.
type FLeadOff uint8

// Lead-off frequencies.
const (
	FLeadOffDC FLeadOff = iota
	FLeadOffAC7_8
	FLeadOffAC31_2
	FLeadOffACFdrBy4
)

var fLeadOffNames = []string{"dc", "ac_7.8hz", "ac_31.2hz", "ac_fdr/4"}

func (f FLeadOff) String() string { return codeName(f, fLeadOffNames) }

// Valid reports whether f is a defined code.
func (f FLeadOff) Valid() bool { return f <= FLeadOffACFdrBy4 }

// MarshalText implements encoding.TextMarshaler.
func (f FLeadOff) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *FLeadOff) UnmarshalText(text []byte) (err error) {
	*f, err = parseCode[FLeadOff](text, fLeadOffNames, "lead-off frequency")
	return
}

// Gain is the CHnSET GAIN field.
type Gain uint8

// PGA gains.
const (
	GainX1 Gain = iota
	GainX2
	GainX4
	GainX6
	GainX8
	GainX12
	GainX24
)

var gainNames = []string{"x1", "x2", "x4", "x6", "x8", "x12", "x24"}

var gainFactors = []int{1, 2, 4, 6, 8, 12, 24}

func (g Gain) String() string { return codeName(g, gainNames) }

// Valid reports whether g is a defined gain.
func (g Gain) Valid() bool { return g <= GainX24 }

// Factor returns the amplification factor.
func (g Gain) Factor() int {
	if !g.Valid() {
		return 0
	}
	return gainFactors[g]
}

// MarshalText implements encoding.TextMarshaler.
func (g Gain) MarshalText() ([]byte, error) {
	if !g.Valid() {
		return nil, errors.Errorf("invalid gain code %d", uint8(g))
	}
	return []byte(g.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *Gain) UnmarshalText(text []byte) (err error) {
	*g, err = parseCode[Gain](text, gainNames, "gain")
	return
}

// Mux is the CHnSET MUX field, the channel input selection.
type Mux uint8

// Channel inputs.
const (
	MuxNormal Mux = iota
	MuxShorted
	MuxBiasMeasure
	MuxMVDD
	MuxTemperature
	MuxTestSignal
	MuxBiasDrivePositive
	MuxBiasDriveNegative
)

var muxNames = []string{"normal", "shorted", "bias_measure", "mvdd", "temperature", "test_signal", "bias_drp", "bias_drn"}

func (m Mux) String() string { return codeName(m, muxNames) }

// Valid reports whether m is a defined input.
func (m Mux) Valid() bool { return m <= MuxBiasDriveNegative }

// MarshalText implements encoding.TextMarshaler.
func (m Mux) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mux) UnmarshalText(text []byte) (err error) {
	*m, err = parseCode[Mux](text, muxNames, "mux")
	return
}
