// Package board defines the interfaces between an acquisition frontend and the board it is wired
// to: one shared SPI bus, the control output lines and the data-ready interrupt.
package board

import "context"

// Names of the control lines every acquisition board provides.
const (
	PinStart     = "start"
	PinReset     = "reset"
	PinPowerDown = "pwdn"
	PinDataReady = "drdy"
)

// A Board owns the bus and lines shared by a daisy chain of converters.
type Board interface {
	// SPI returns the shared bus.
	SPI() SPI

	// GPIOPinByName returns the output line with the given name.
	GPIOPinByName(name string) (GPIOPin, error)

	// DigitalInterruptByName returns the interrupt with the given name.
	DigitalInterruptByName(name string) (DigitalInterrupt, error)

	// Close releases every line and the bus.
	Close(ctx context.Context) error
}
