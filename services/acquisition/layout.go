package acquisition

import (
	"github.com/samber/lo"

	"go.viam.com/biosignal/components/ads1299"
)

// ChannelLayout maps global channel indices onto the devices of a chain.
type ChannelLayout struct {
	counts  []int
	offsets []int
}

// NewChannelLayout returns the layout of devices with the given channel counts, in chain order.
func NewChannelLayout(counts []int) ChannelLayout {
	offsets := make([]int, len(counts))
	next := 0
	for i, n := range counts {
		offsets[i] = next
		next += n
	}
	return ChannelLayout{counts: append([]int(nil), counts...), offsets: offsets}
}

// NumDevices returns the device count.
func (l ChannelLayout) NumDevices() int {
	return len(l.counts)
}

// NumChannels returns the total channel count.
func (l ChannelLayout) NumChannels() int {
	return lo.Sum(l.counts)
}

// Count returns the channel count of device dev.
func (l ChannelLayout) Count(dev int) int {
	return l.counts[dev]
}

// Offset returns the global index of the first channel of device dev.
func (l ChannelLayout) Offset(dev int) int {
	return l.offsets[dev]
}

// Range returns the global channel indices [start, end) of device dev.
func (l ChannelLayout) Range(dev int) (start, end int) {
	return l.offsets[dev], l.offsets[dev] + l.counts[dev]
}

// Locate returns the device and local channel of a global channel index.
func (l ChannelLayout) Locate(global int) (dev, local int, ok bool) {
	if global < 0 {
		return 0, 0, false
	}
	for i, n := range l.counts {
		if global < l.offsets[i]+n {
			return i, global - l.offsets[i], true
		}
	}
	return 0, 0, false
}

// ChannelMask marks which global channels are emitted.
type ChannelMask struct {
	layout ChannelLayout
	active []bool
}

// NewChannelMask derives the mask of cfg over layout: a channel is active unless it is powered
// down.
func NewChannelMask(layout ChannelLayout, cfg *Config) (ChannelMask, error) {
	if cfg.NumChannels() != layout.NumChannels() {
		return ChannelMask{}, &ChannelCountError{Configured: cfg.NumChannels(), Detected: layout.NumChannels()}
	}
	active := lo.Map(cfg.Channels, func(ch ChannelConfig, _ int) bool { return !ch.PowerDown })
	return ChannelMask{layout: layout, active: active}, nil
}

// Len returns the number of channels covered.
func (m ChannelMask) Len() int {
	return len(m.active)
}

// Active reports whether global channel i is emitted.
func (m ChannelMask) Active(i int) bool {
	return i >= 0 && i < len(m.active) && m.active[i]
}

// NumActive returns the number of emitted channels.
func (m ChannelMask) NumActive() int {
	return lo.Count(m.active, true)
}

// Filter returns batch reduced to the active channels, keeping their order. A device without
// active channels is left out. batch is not modified.
func (m ChannelMask) Filter(batch ads1299.Batch) ads1299.Batch {
	out := make(ads1299.Batch, 0, len(batch))
	for dev, d := range batch {
		if dev >= m.layout.NumDevices() {
			break
		}
		offset := m.layout.Offset(dev)
		channels := make([]int32, 0, len(d.Channels))
		for local, v := range d.Channels {
			if m.Active(offset + local) {
				channels = append(channels, v)
			}
		}
		if len(channels) == 0 {
			continue
		}
		d.Channels = channels
		out = append(out, d)
	}
	return out
}
