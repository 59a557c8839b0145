package ads1299

import "fmt"

// Register is a register address.
type Register uint8

// Register map (datasheet table 11).
const (
	RegisterID Register = iota
	RegisterConfig1
	RegisterConfig2
	RegisterConfig3
	RegisterLeadOff
	RegisterCh1Set
	RegisterCh2Set
	RegisterCh3Set
	RegisterCh4Set
	RegisterCh5Set
	RegisterCh6Set
	RegisterCh7Set
	RegisterCh8Set
	RegisterBiasSenseP
	RegisterBiasSenseN
	RegisterLeadOffSenseP
	RegisterLeadOffSenseN
	RegisterLeadOffFlip
	RegisterLeadOffStatP
	RegisterLeadOffStatN
	RegisterGPIO
	RegisterMisc1
	RegisterMisc2
	RegisterConfig4

	// NumRegisters is the size of the register file.
	NumRegisters = int(RegisterConfig4) + 1
)

// MaxChannels is the channel count of the largest family member.
const MaxChannels = 8

var registerNames = [...]string{
	"ID", "CONFIG1", "CONFIG2", "CONFIG3", "LOFF",
	"CH1SET", "CH2SET", "CH3SET", "CH4SET", "CH5SET", "CH6SET", "CH7SET", "CH8SET",
	"BIAS_SENSP", "BIAS_SENSN", "LOFF_SENSP", "LOFF_SENSN", "LOFF_FLIP",
	"LOFF_STATP", "LOFF_STATN", "GPIO", "MISC1", "MISC2", "CONFIG4",
}

func (r Register) String() string {
	if int(r) < len(registerNames) {
		return registerNames[r]
	}
	return fmt.Sprintf("Register(0x%02X)", uint8(r))
}

// ChannelSetRegister returns the CHnSET register of a zero based local channel.
func ChannelSetRegister(ch int) Register {
	if ch < 0 || ch >= MaxChannels {
		panic(fmt.Sprintf("channel %d out of range", ch))
	}
	return RegisterCh1Set + Register(ch)
}

// Register defaults after reset.
const (
	DefaultConfig1    byte = 0x96
	DefaultConfig2    byte = 0xC0
	DefaultConfig3    byte = 0x60
	DefaultChannelSet byte = 0x61
	DefaultGPIO       byte = 0x0F
)

func setBits(b, mask byte, on bool) byte {
	if on {
		return b | mask
	}
	return b &^ mask
}

func setField(b, mask byte, shift uint, code uint8) byte {
	return b&^mask | (code<<shift)&mask
}

// SetChannelBit sets or clears the bit of a local channel in one of the per channel bitmask
// registers (BIAS_SENSP, BIAS_SENSN, LOFF_SENSP, LOFF_SENSN, LOFF_FLIP).
func SetChannelBit(b byte, ch int, on bool) byte {
	return setBits(b, 1<<uint(ch), on)
}

// ID is the read-only identification register.
type ID byte

const (
	idRevisionMask = 0xE0
	idFamilyMask   = 0x0C
	idChannelsMask = 0x03

	idFamilyADS1299 = 0x03
)

// Revision returns the REV_ID field.
func (id ID) Revision() uint8 {
	return uint8(id&idRevisionMask) >> 5
}

// NumChannels decodes the NU_CH field.
func (id ID) NumChannels() (int, error) {
	code := byte(id & idChannelsMask)
	switch code {
	case 0x0:
		return 4, nil
	case 0x1:
		return 6, nil
	case 0x2:
		return 8, nil
	default:
		return 0, &DecodeError{Register: RegisterID, Field: "NU_CH", Code: code, Err: ErrInvalidChannelCount}
	}
}

// Smell checks the device family and returns the channel count. A bus with nothing on it reads
// all zeros or all ones, both of which fail the family check.
func (id ID) Smell() (int, error) {
	if byte(id&idFamilyMask)>>2 != idFamilyADS1299 {
		return 0, ErrNotDetected
	}
	return id.NumChannels()
}

// Config1 is the CONFIG1 register.
type Config1 struct {
	// DaisyEn is the raw DAISY_EN bit. It is active low: 0 selects daisy chain mode and 1
	// selects multiple readback mode.
	DaisyEn     bool
	ClockOutput bool
	SampleRate  SampleRate
}

const (
	config1DaisyEn = 0x40
	config1ClkEn   = 0x20
	config1DR      = 0x07
)

// DecodeConfig1 decodes CONFIG1.
func DecodeConfig1(b byte) (Config1, error) {
	rate := SampleRate(b & config1DR)
	if !rate.Valid() {
		return Config1{}, newFieldError(RegisterConfig1, "DR", byte(rate))
	}
	return Config1{
		DaisyEn:     b&config1DaisyEn != 0,
		ClockOutput: b&config1ClkEn != 0,
		SampleRate:  rate,
	}, nil
}

// Apply writes the fields onto a register value, keeping reserved bits.
func (c Config1) Apply(b byte) byte {
	b = setBits(b, config1DaisyEn, c.DaisyEn)
	b = setBits(b, config1ClkEn, c.ClockOutput)
	return setField(b, config1DR, 0, uint8(c.SampleRate))
}

// Config2 is the CONFIG2 register, the test signal source.
type Config2 struct {
	InternalCalibration  bool
	CalibrationAmplitude bool
	CalibrationFrequency CalFreq
}

const (
	config2IntCal  = 0x10
	config2CalAmp  = 0x04
	config2CalFreq = 0x03
)

// DecodeConfig2 decodes CONFIG2.
func DecodeConfig2(b byte) Config2 {
	return Config2{
		InternalCalibration:  b&config2IntCal != 0,
		CalibrationAmplitude: b&config2CalAmp != 0,
		CalibrationFrequency: CalFreq(b & config2CalFreq),
	}
}

// Apply writes the fields onto a register value, keeping reserved bits.
func (c Config2) Apply(b byte) byte {
	b = setBits(b, config2IntCal, c.InternalCalibration)
	b = setBits(b, config2CalAmp, c.CalibrationAmplitude)
	return setField(b, config2CalFreq, 0, uint8(c.CalibrationFrequency))
}

// Config3 is the CONFIG3 register. PowerDownRefBuf and PowerDownBias are active low.
type Config3 struct {
	PowerDownRefBuf  bool
	BiasMeasure      bool
	BiasRefInternal  bool
	PowerDownBias    bool
	BiasLeadOffSense bool
	BiasStat         bool
}

const (
	config3PdRefBuf     = 0x80
	config3BiasMeas     = 0x10
	config3BiasRefInt   = 0x08
	config3PdBias       = 0x04
	config3BiasLoffSens = 0x02
	config3BiasStat     = 0x01
)

// DecodeConfig3 decodes CONFIG3.
func DecodeConfig3(b byte) Config3 {
	return Config3{
		PowerDownRefBuf:  b&config3PdRefBuf != 0,
		BiasMeasure:      b&config3BiasMeas != 0,
		BiasRefInternal:  b&config3BiasRefInt != 0,
		PowerDownBias:    b&config3PdBias != 0,
		BiasLeadOffSense: b&config3BiasLoffSens != 0,
		BiasStat:         b&config3BiasStat != 0,
	}
}

// Apply writes the fields onto a register value. BIAS_STAT is read-only on silicon but is
// written like the rest.
func (c Config3) Apply(b byte) byte {
	b = setBits(b, config3PdRefBuf, c.PowerDownRefBuf)
	b = setBits(b, config3BiasMeas, c.BiasMeasure)
	b = setBits(b, config3BiasRefInt, c.BiasRefInternal)
	b = setBits(b, config3PdBias, c.PowerDownBias)
	b = setBits(b, config3BiasLoffSens, c.BiasLeadOffSense)
	return setBits(b, config3BiasStat, c.BiasStat)
}

// LeadOff is the LOFF register.
type LeadOff struct {
	CompThreshold CompThreshPos
	Current       ILeadOff
	Frequency     FLeadOff
}

const (
	loffCompTh   = 0xE0
	loffILeadOff = 0x0C
	loffFLeadOff = 0x03
)

// DecodeLeadOff decodes LOFF. Every code of every field is defined.
func DecodeLeadOff(b byte) LeadOff {
	return LeadOff{
		CompThreshold: CompThreshPos((b & loffCompTh) >> 5),
		Current:       ILeadOff((b & loffILeadOff) >> 2),
		Frequency:     FLeadOff(b & loffFLeadOff),
	}
}

// Apply writes the fields onto a register value, keeping reserved bits.
func (l LeadOff) Apply(b byte) byte {
	b = setField(b, loffCompTh, 5, uint8(l.CompThreshold))
	b = setField(b, loffILeadOff, 2, uint8(l.Current))
	return setField(b, loffFLeadOff, 0, uint8(l.Frequency))
}

// ChannelSet is a CHnSET register.
type ChannelSet struct {
	PowerDown bool
	Gain      Gain
	SRB2      bool
	Mux       Mux
}

const (
	chSetPD   = 0x80
	chSetGain = 0x70
	chSetSRB2 = 0x08
	chSetMux  = 0x07
)

// DecodeChannelSet decodes a CHnSET register. The reserved gain code is a DecodeError.
func DecodeChannelSet(reg Register, b byte) (ChannelSet, error) {
	gain := Gain((b & chSetGain) >> 4)
	if !gain.Valid() {
		return ChannelSet{}, newFieldError(reg, "GAIN", byte(gain))
	}
	return ChannelSet{
		PowerDown: b&chSetPD != 0,
		Gain:      gain,
		SRB2:      b&chSetSRB2 != 0,
		Mux:       Mux(b & chSetMux),
	}, nil
}

// Apply writes the fields onto a register value.
func (c ChannelSet) Apply(b byte) byte {
	b = setBits(b, chSetPD, c.PowerDown)
	b = setField(b, chSetGain, 4, uint8(c.Gain))
	b = setBits(b, chSetSRB2, c.SRB2)
	return setField(b, chSetMux, 0, uint8(c.Mux))
}

// GPIO is the GPIO register. Control bit n set makes GPIO n+1 an input.
type GPIO struct {
	Data    uint8
	Control uint8
}

// DecodeGPIO decodes GPIO.
func DecodeGPIO(b byte) GPIO {
	return GPIO{Data: b >> 4, Control: b & 0x0F}
}

// Apply writes the control nibble. Data bits of inputs are read-only, so they are kept.
func (g GPIO) Apply(b byte) byte {
	return setField(b, 0x0F, 0, g.Control)
}

// GPIOControl packs per pin input flags into a control nibble.
func GPIOControl(inputs [4]bool) uint8 {
	var c uint8
	for i, in := range inputs {
		if in {
			c |= 1 << uint(i)
		}
	}
	return c
}

const misc1SRB1 = 0x20

// Misc1 is the MISC1 register.
type Misc1 struct {
	SRB1 bool
}

// DecodeMisc1 decodes MISC1.
func DecodeMisc1(b byte) Misc1 {
	return Misc1{SRB1: b&misc1SRB1 != 0}
}

// Apply writes the fields onto a register value.
func (m Misc1) Apply(b byte) byte {
	return setBits(b, misc1SRB1, m.SRB1)
}

// Config4 is the CONFIG4 register. PowerDownLeadOffComp is active low.
type Config4 struct {
	SingleShot           bool
	PowerDownLeadOffComp bool
}

const (
	config4SingleShot = 0x08
	config4PdLoffComp = 0x02
)

// DecodeConfig4 decodes CONFIG4.
func DecodeConfig4(b byte) Config4 {
	return Config4{
		SingleShot:           b&config4SingleShot != 0,
		PowerDownLeadOffComp: b&config4PdLoffComp != 0,
	}
}

// Apply writes the fields onto a register value.
func (c Config4) Apply(b byte) byte {
	b = setBits(b, config4SingleShot, c.SingleShot)
	return setBits(b, config4PdLoffComp, c.PowerDownLeadOffComp)
}
