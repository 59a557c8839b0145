package ads1299

import (
	"github.com/pkg/errors"
)

const (
	statusLen    = 3
	bytesPerChan = 3

	// MaxFrameLen is the continuous read frame of an eight channel device.
	MaxFrameLen = statusLen + bytesPerChan*MaxChannels

	statusMagicMask = 0xF0
	statusMagic     = 0xC0
)

// FrameLen returns the continuous read frame length of a device with n channels.
func FrameLen(n int) int {
	return statusLen + bytesPerChan*n
}

// Data is one decoded frame of a single device.
type Data struct {
	// LeadOffPositive and LeadOffNegative hold one bit per channel, channel 1 in bit 0.
	LeadOffPositive uint8
	LeadOffNegative uint8
	// GPIO holds the data nibble in register layout, bits 7:4.
	GPIO     uint8
	Channels []int32
}

// Batch holds one Data per live device, in discovery order.
type Batch []Data

// NumChannels returns the total channel count of the batch.
func (b Batch) NumChannels() int {
	n := 0
	for _, d := range b {
		n += len(d.Channels)
	}
	return n
}

// DecodeData decodes the status word and the first n channel groups of buf. Trailing bytes are
// ignored, so one 27 byte buffer serves every channel count.
func DecodeData(buf []byte, n int) (Data, error) {
	if n < 0 || n > MaxChannels {
		return Data{}, errors.Errorf("cannot decode %d channels", n)
	}
	if len(buf) < FrameLen(n) {
		return Data{}, errors.Errorf("frame of %d bytes too short for %d channels", len(buf), n)
	}
	d := Data{
		LeadOffPositive: buf[0]<<4 | buf[1]>>4,
		LeadOffNegative: buf[1]<<4 | buf[2]>>4,
		GPIO:            buf[2] << 4,
		Channels:        make([]int32, n),
	}
	for i := range d.Channels {
		d.Channels[i] = int24(buf[statusLen+bytesPerChan*i:])
	}
	return d, nil
}

func int24(b []byte) int32 {
	v := int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])
	return v << 8 >> 8
}

func hasMagic(status byte) bool {
	return status&statusMagicMask == statusMagic
}

// Microvolts converts a raw code to microvolts at the input for a given gain and reference
// voltage. One LSB is vref / gain / (2^23 - 1).
func Microvolts(raw int32, gain Gain, vref float64) float64 {
	factor := gain.Factor()
	if factor == 0 {
		return 0
	}
	return float64(raw) * vref / float64(factor) / float64(1<<23-1) * 1e6
}
