package stream

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Frame is the unit sent to a transport and appended to a recording. It is encoded in protobuf
// wire format:
//
//	message Frame  { uint32 packet_counter = 1; uint64 ts = 2; repeated Sample samples = 3; uint64 dropped = 4; }
//	message Sample { uint32 lead_off_positive = 1; uint32 lead_off_negative = 2; uint32 gpio = 3; repeated sint32 data = 4; }
type Frame struct {
	PacketCounter uint32
	// Timestamp is the assembly time in microseconds.
	Timestamp uint64
	Samples   []Sample
	// Dropped counts the batches this consumer lost to backpressure since it subscribed.
	Dropped uint64
}

const (
	frameCounterField = 1
	frameTSField      = 2
	frameSamplesField = 3
	frameDroppedField = 4

	sampleLeadOffPField = 1
	sampleLeadOffNField = 2
	sampleGPIOField     = 3
	sampleDataField     = 4
)

func varintFieldSize(num protowire.Number, v uint64) int {
	if v == 0 {
		return 0
	}
	return protowire.SizeTag(num) + protowire.SizeVarint(v)
}

func (s *Sample) dataSize() int {
	n := 0
	for _, v := range s.Data {
		n += protowire.SizeVarint(protowire.EncodeZigZag(int64(v)))
	}
	return n
}

// Size returns the encoded size of the sample body.
func (s *Sample) Size() int {
	n := varintFieldSize(sampleLeadOffPField, uint64(s.LeadOffPositive)) +
		varintFieldSize(sampleLeadOffNField, uint64(s.LeadOffNegative)) +
		varintFieldSize(sampleGPIOField, uint64(s.GPIO))
	if len(s.Data) > 0 {
		n += protowire.SizeTag(sampleDataField) + protowire.SizeBytes(s.dataSize())
	}
	return n
}

func (s *Sample) appendTo(b []byte) []byte {
	b = appendVarintField(b, sampleLeadOffPField, uint64(s.LeadOffPositive))
	b = appendVarintField(b, sampleLeadOffNField, uint64(s.LeadOffNegative))
	b = appendVarintField(b, sampleGPIOField, uint64(s.GPIO))
	if len(s.Data) > 0 {
		b = protowire.AppendTag(b, sampleDataField, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(s.dataSize()))
		for _, v := range s.Data {
			b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v)))
		}
	}
	return b
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// Size returns the encoded size of the frame.
func (f *Frame) Size() int {
	n := varintFieldSize(frameCounterField, uint64(f.PacketCounter)) +
		varintFieldSize(frameTSField, f.Timestamp) +
		varintFieldSize(frameDroppedField, f.Dropped)
	for i := range f.Samples {
		n += protowire.SizeTag(frameSamplesField) + protowire.SizeBytes(f.Samples[i].Size())
	}
	return n
}

// Marshal encodes the frame.
func (f *Frame) Marshal() []byte {
	return f.AppendMarshal(make([]byte, 0, f.Size()))
}

// AppendMarshal appends the encoded frame to b.
func (f *Frame) AppendMarshal(b []byte) []byte {
	b = appendVarintField(b, frameCounterField, uint64(f.PacketCounter))
	b = appendVarintField(b, frameTSField, f.Timestamp)
	for i := range f.Samples {
		b = protowire.AppendTag(b, frameSamplesField, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(f.Samples[i].Size()))
		b = f.Samples[i].appendTo(b)
	}
	return appendVarintField(b, frameDroppedField, f.Dropped)
}

// Unmarshal decodes a frame. Unknown fields are skipped.
func (f *Frame) Unmarshal(b []byte) error {
	*f = Frame{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "frame tag")
		}
		b = b[n:]
		switch {
		case num == frameCounterField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "packet_counter")
			}
			f.PacketCounter = uint32(v)
			b = b[n:]
		case num == frameTSField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "ts")
			}
			f.Timestamp = v
			b = b[n:]
		case num == frameDroppedField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "dropped")
			}
			f.Dropped = v
			b = b[n:]
		case num == frameSamplesField && typ == protowire.BytesType:
			body, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "samples")
			}
			var s Sample
			if err := s.unmarshal(body); err != nil {
				return errors.Wrapf(err, "sample %d", len(f.Samples))
			}
			f.Samples = append(f.Samples, s)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "field %d", num)
			}
			b = b[n:]
		}
	}
	return nil
}

func (s *Sample) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == sampleDataField && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return protowire.ParseError(m)
				}
				s.Data = append(s.Data, int32(protowire.DecodeZigZag(v)))
				packed = packed[m:]
			}
			b = b[n:]
		case num == sampleDataField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			s.Data = append(s.Data, int32(protowire.DecodeZigZag(v)))
			b = b[n:]
		case typ == protowire.VarintType && num >= sampleLeadOffPField && num <= sampleGPIOField:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			switch num {
			case sampleLeadOffPField:
				s.LeadOffPositive = uint32(v)
			case sampleLeadOffNField:
				s.LeadOffNegative = uint32(v)
			default:
				s.GPIO = uint32(v)
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}
