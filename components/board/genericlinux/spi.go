//go:build linux

package genericlinux

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"

	"go.viam.com/biosignal/components/board"
)

type spiBus struct {
	mu  sync.Mutex
	bus string
}

// NewSPIBus returns the spidev bus with the given bus number, e.g. "0" for /dev/spidev0.*.
func NewSPIBus(busSelect string) board.SPI {
	return &spiBus{bus: busSelect}
}

type spiPortKey struct {
	chipSelect string
	baud       uint
	mode       uint
}

type spiPort struct {
	port spi.PortCloser
	conn spi.Conn
}

// spiHandle keeps ports open for the lifetime of the handle: a streaming session issues one
// transfer per device per sample, so reopening spidev on every Xfer is too slow.
type spiHandle struct {
	bus      *spiBus
	isClosed bool
	ports    map[spiPortKey]*spiPort
}

func (sb *spiBus) OpenHandle() (board.SPIHandle, error) {
	sb.mu.Lock()
	return &spiHandle{bus: sb, ports: map[spiPortKey]*spiPort{}}, nil
}

func (sb *spiBus) Close(ctx context.Context) error {
	return nil
}

func (sh *spiHandle) connect(baud uint, chipSelect string, mode uint) (spi.Conn, error) {
	key := spiPortKey{chipSelect, baud, mode}
	if p, ok := sh.ports[key]; ok {
		return p.conn, nil
	}

	port, err := spireg.Open(fmt.Sprintf("SPI%s.%s", sh.bus.bus, chipSelect))
	if err != nil {
		return nil, err
	}
	conn, err := port.Connect(physic.Hertz*physic.Frequency(baud), spi.Mode(mode), 8)
	if err != nil {
		return nil, multierr.Combine(err, port.Close())
	}
	sh.ports[key] = &spiPort{port: port, conn: conn}
	return conn, nil
}

func (sh *spiHandle) Xfer(ctx context.Context, baud uint, chipSelect string, mode uint, tx []byte) ([]byte, error) {
	if sh.isClosed {
		return nil, errors.New("can't use Xfer() on an already closed SPIHandle")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := sh.connect(baud, chipSelect, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "opening SPI%s.%s", sh.bus.bus, chipSelect)
	}
	rx := make([]byte, len(tx))
	return rx, conn.Tx(tx, rx)
}

func (sh *spiHandle) Close() error {
	if sh.isClosed {
		return nil
	}
	sh.isClosed = true
	var err error
	for _, p := range sh.ports {
		err = multierr.Combine(err, p.port.Close())
	}
	sh.ports = nil
	sh.bus.mu.Unlock()
	return err
}
