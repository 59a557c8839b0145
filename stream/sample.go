// Package stream packs the acquisition sample stream into frames sized for a transport payload
// and runs the consumer loops that send them.
package stream

import (
	"go.viam.com/biosignal/components/ads1299"
)

// Sample is one poll tick flattened across devices. Only active channels are present.
type Sample struct {
	// LeadOffPositive and LeadOffNegative hold one bit per emitted channel, device 0 first.
	LeadOffPositive uint32
	LeadOffNegative uint32
	// GPIO holds one data nibble per device, device 0 in the low nibble.
	GPIO uint32
	Data []int32
}

// SampleFromBatch flattens a filtered batch. The lead-off bits of a device are masked to its
// emitted channel count and placed after those of the devices before it.
func SampleFromBatch(batch ads1299.Batch) Sample {
	s := Sample{Data: make([]int32, 0, batch.NumChannels())}
	var bitShift, gpioShift uint
	for _, d := range batch {
		n := uint(len(d.Channels))
		mask := uint32(1)<<n - 1
		s.Data = append(s.Data, d.Channels...)
		s.LeadOffPositive |= (uint32(d.LeadOffPositive) & mask) << bitShift
		s.LeadOffNegative |= (uint32(d.LeadOffNegative) & mask) << bitShift
		s.GPIO |= uint32(d.GPIO>>4) << gpioShift
		bitShift += n
		gpioShift += 4
	}
	return s
}
