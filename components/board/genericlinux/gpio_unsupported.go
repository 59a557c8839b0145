//go:build !linux

// Package genericlinux implements the acquisition board on Linux. On other platforms only the
// constructor exists and it always fails, so a fake board must be configured instead.
package genericlinux

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/biosignal/components/board"
	"go.viam.com/biosignal/logging"
)

// Board is unavailable off Linux.
type Board struct {
	board.Board
}

// NewBoard always fails off Linux.
func NewBoard(ctx context.Context, conf board.Config, logger logging.Logger) (*Board, error) {
	return nil, errors.New("GPIO character devices and spidev are only supported on linux")
}
