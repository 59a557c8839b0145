package inject

import (
	"context"

	"go.viam.com/biosignal/components/board"
)

// Board is an injected board. Unset functions fall through to the embedded board.
type Board struct {
	board.Board
	SPIFunc                    func() board.SPI
	GPIOPinByNameFunc          func(name string) (board.GPIOPin, error)
	DigitalInterruptByNameFunc func(name string) (board.DigitalInterrupt, error)
	CloseFunc                  func(ctx context.Context) error
}

// SPI calls the injected SPI or the real version.
func (b *Board) SPI() board.SPI {
	if b.SPIFunc == nil {
		return b.Board.SPI()
	}
	return b.SPIFunc()
}

// GPIOPinByName calls the injected GPIOPinByName or the real version.
func (b *Board) GPIOPinByName(name string) (board.GPIOPin, error) {
	if b.GPIOPinByNameFunc == nil {
		return b.Board.GPIOPinByName(name)
	}
	return b.GPIOPinByNameFunc(name)
}

// DigitalInterruptByName calls the injected DigitalInterruptByName or the real version.
func (b *Board) DigitalInterruptByName(name string) (board.DigitalInterrupt, error) {
	if b.DigitalInterruptByNameFunc == nil {
		return b.Board.DigitalInterruptByName(name)
	}
	return b.DigitalInterruptByNameFunc(name)
}

// Close calls the injected Close or the real version.
func (b *Board) Close(ctx context.Context) error {
	if b.CloseFunc == nil {
		if b.Board == nil {
			return nil
		}
		return b.Board.Close(ctx)
	}
	return b.CloseFunc(ctx)
}
