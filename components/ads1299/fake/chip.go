// Package fake simulates an ADS1299 family chip on a fake board's SPI bus.
package fake

import (
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/biosignal/components/ads1299"
)

// Chip answers the command set of one chip. It powers up in continuous read mode, where
// register reads and writes are ignored the way silicon ignores them.
type Chip struct {
	mu          sync.Mutex
	numChannels int
	regs        [ads1299.NumRegisters]byte
	continuous  bool
	pending     []byte
	sample      uint64
	fault       error

	// Signal returns the raw code of a channel on a normal input. It defaults to
	// 1000 * (ch + 1) + sample % 100.
	Signal func(sample uint64, ch int) int32
}

// NewChip returns a chip with the given channel count (4, 6 or 8) in its reset state.
func NewChip(numChannels int) *Chip {
	c := &Chip{numChannels: numChannels}
	c.reset()
	return c
}

// IDFor returns the ID register of a chip with n channels.
func IDFor(n int) byte {
	switch n {
	case 4:
		return 0x3C
	case 6:
		return 0x3D
	default:
		return 0x3E
	}
}

func (c *Chip) reset() {
	c.regs = [ads1299.NumRegisters]byte{}
	c.regs[ads1299.RegisterID] = IDFor(c.numChannels)
	c.regs[ads1299.RegisterConfig1] = ads1299.DefaultConfig1
	c.regs[ads1299.RegisterConfig2] = ads1299.DefaultConfig2
	c.regs[ads1299.RegisterConfig3] = ads1299.DefaultConfig3
	for ch := 0; ch < ads1299.MaxChannels; ch++ {
		c.regs[ads1299.ChannelSetRegister(ch)] = ads1299.DefaultChannelSet
	}
	c.regs[ads1299.RegisterGPIO] = ads1299.DefaultGPIO
	c.continuous = true
	c.pending = nil
}

// Registers returns a snapshot of the register file.
func (c *Chip) Registers() [ads1299.NumRegisters]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs
}

// SetRegister overwrites a register, bypassing the bus.
func (c *Chip) SetRegister(reg ads1299.Register, value byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs[reg] = value
}

// Continuous reports whether the chip is in continuous read mode.
func (c *Chip) Continuous() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.continuous
}

// Misalign queues n bytes of noise ahead of the next frame, as if clock edges had been lost.
func (c *Chip) Misalign(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(make([]byte, n), c.pending...)
}

// SetFault makes every following transfer fail with err. A nil err clears it.
func (c *Chip) SetFault(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fault = err
}

// Transfer implements the fake board's SPIDevice.
func (c *Chip) Transfer(tx []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fault != nil {
		return nil, c.fault
	}
	rx := make([]byte, len(tx))
	if len(tx) == 0 {
		return rx, nil
	}

	if isZero(tx) {
		if c.continuous {
			c.clockOut(rx)
		}
		return rx, nil
	}

	op := tx[0]
	switch {
	case op&0xE0 == 0x20:
		if c.continuous {
			return rx, nil
		}
		reg, n, err := c.registerRange(tx)
		if err != nil {
			return nil, err
		}
		copy(rx[2:], c.regs[reg:int(reg)+n])
	case op&0xE0 == 0x40:
		if c.continuous {
			return rx, nil
		}
		reg, n, err := c.registerRange(tx)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			if r := ads1299.Register(int(reg) + i); r != ads1299.RegisterID {
				c.regs[r] = tx[2+i]
			}
		}
	case len(tx) > 1 && ads1299.Command(op) == ads1299.CommandRDATA:
		c.pending = nil
		c.clockOut(rx[1:])
	case len(tx) == 1:
		switch ads1299.Command(op) {
		case ads1299.CommandSDATAC:
			c.continuous = false
		case ads1299.CommandRDATAC:
			c.continuous = true
			c.pending = nil
		case ads1299.CommandReset:
			c.reset()
		default:
		}
	default:
		return nil, errors.Errorf("unexpected transfer % X", tx)
	}
	return rx, nil
}

func (c *Chip) registerRange(tx []byte) (ads1299.Register, int, error) {
	if len(tx) < 2 {
		return 0, 0, errors.New("register command without count")
	}
	reg := ads1299.Register(tx[0] & 0x1F)
	n := int(tx[1]) + 1
	if len(tx) != 2+n || int(reg)+n > ads1299.NumRegisters {
		return 0, 0, errors.Errorf("bad register transfer % X", tx)
	}
	return reg, n, nil
}

func (c *Chip) clockOut(rx []byte) {
	for i := range rx {
		if len(c.pending) == 0 {
			c.pending = c.frame()
		}
		rx[i] = c.pending[0]
		c.pending = c.pending[1:]
	}
}

func (c *Chip) frame() []byte {
	buf := make([]byte, ads1299.FrameLen(c.numChannels))
	buf[0] = 0xC0
	buf[2] = c.regs[ads1299.RegisterGPIO] >> 4
	for ch := 0; ch < c.numChannels; ch++ {
		v := c.value(ch)
		off := 3 + 3*ch
		buf[off] = byte(v >> 16)
		buf[off+1] = byte(v >> 8)
		buf[off+2] = byte(v)
	}
	c.sample++
	return buf
}

func (c *Chip) value(ch int) int32 {
	set := c.regs[ads1299.ChannelSetRegister(ch)]
	if set&0x80 != 0 {
		return 0
	}
	switch ads1299.Mux(set & 0x07) {
	case ads1299.MuxShorted:
		return 0
	case ads1299.MuxTestSignal:
		if c.sample/32%2 == 0 {
			return 0x1000
		}
		return -0x1000
	default:
	}
	if c.Signal != nil {
		return c.Signal(c.sample, ch)
	}
	return int32(1000*(ch+1)) + int32(c.sample%100)
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
