//go:build linux

package genericlinux

import (
	"context"
	"sync"

	"github.com/mkch/gpio"
	"go.viam.com/utils"

	"go.viam.com/biosignal/components/board"
)

type digitalInterrupt struct {
	*board.BasicDigitalInterrupt
	line       *gpio.LineWithEvent
	cancelCtx  context.Context
	cancelFunc func()
}

func newDigitalInterrupt(
	ctx context.Context,
	name string,
	cfg board.GPIOLineConfig,
	workers *sync.WaitGroup,
) (*digitalInterrupt, error) {
	var line *gpio.LineWithEvent
	err := withChip(cfg.Chip, func(chip *gpio.Chip) error {
		var err error
		line, err = chip.OpenLineWithEvents(cfg.Line, gpio.Input, gpio.BothEdges, consumer)
		return err
	})
	if err != nil {
		return nil, err
	}

	cancelCtx, cancelFunc := context.WithCancel(ctx)
	di := &digitalInterrupt{
		BasicDigitalInterrupt: board.NewBasicDigitalInterrupt(name),
		line:                  line,
		cancelCtx:             cancelCtx,
		cancelFunc:            cancelFunc,
	}
	di.startMonitor(workers)
	return di, nil
}

func (di *digitalInterrupt) startMonitor(workers *sync.WaitGroup) {
	workers.Add(1)
	utils.ManagedGo(func() {
		for {
			select {
			case <-di.cancelCtx.Done():
				return
			case event, ok := <-di.line.Events():
				if !ok {
					return
				}
				if event == nil {
					continue
				}
				utils.UncheckedError(di.Tick(di.cancelCtx, event.RisingEdge, uint64(event.Time.UnixNano())))
			}
		}
	}, workers.Done)
}

func (di *digitalInterrupt) Close() error {
	// The monitor only reads the event channel, which the line closes, so it need not be awaited
	// before closing the line.
	di.cancelFunc()
	return di.line.Close()
}
