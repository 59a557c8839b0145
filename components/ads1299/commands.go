// Package ads1299 drives Texas Instruments ADS1299 family biopotential converters over SPI. A
// datasheet for this chip is at https://www.ti.com/lit/ds/symlink/ads1299.pdf
//
// The package covers the command set, typed views of every configuration register, decoding of
// the 24-bit status word and channel samples, and a Frontend which sequences reset, discovery
// and synchronized streaming for several chips daisy chained on one bus.
//
// The chips share the START, RESET and PWDN lines and a single DRDY line. Every chip has its own
// chip select. The first chip in the chain drives the sample clock for the others.
package ads1299

import "fmt"

// Command is a one byte opcode.
type Command byte

// System, data read and register commands (datasheet table 10).
const (
	CommandWakeup  Command = 0x02
	CommandStandby Command = 0x04
	CommandReset   Command = 0x06
	CommandStart   Command = 0x08
	CommandStop    Command = 0x0A
	CommandRDATAC  Command = 0x10
	CommandSDATAC  Command = 0x11
	CommandRDATA   Command = 0x12

	opcodeRREG = 0x20
	opcodeWREG = 0x40
)

func (c Command) String() string {
	switch c {
	case CommandWakeup:
		return "WAKEUP"
	case CommandStandby:
		return "STANDBY"
	case CommandReset:
		return "RESET"
	case CommandStart:
		return "START"
	case CommandStop:
		return "STOP"
	case CommandRDATAC:
		return "RDATAC"
	case CommandSDATAC:
		return "SDATAC"
	case CommandRDATA:
		return "RDATA"
	default:
		return fmt.Sprintf("Command(0x%02X)", byte(c))
	}
}

// The second header byte of RREG and WREG is the number of registers minus one.
func readRegistersHeader(reg Register, n int) []byte {
	return []byte{opcodeRREG | byte(reg), byte(n - 1)}
}

func writeRegistersHeader(reg Register, n int) []byte {
	return []byte{opcodeWREG | byte(reg), byte(n - 1)}
}
