package ads1299

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotDetected means the ID register did not identify an ADS1299 family chip.
	ErrNotDetected = errors.New("ads1299 not detected")

	// ErrInvalidChannelCount means the ID register reported the reserved channel count code.
	ErrInvalidChannelCount = errors.New("invalid channel count")

	// ErrInvalidFieldValue means a register field held a reserved code.
	ErrInvalidFieldValue = errors.New("invalid register field value")

	// ErrFrameDesync means a continuous read frame did not start with the status marker.
	ErrFrameDesync = errors.New("continuous read frame out of sync")
)

// A DecodeError reports a register field whose raw code has no meaning.
type DecodeError struct {
	Register Register
	Field    string
	Code     byte
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s.%s: code 0b%b: %v", e.Register, e.Field, e.Code, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func newFieldError(reg Register, field string, code byte) error {
	return &DecodeError{Register: reg, Field: field, Code: code, Err: ErrInvalidFieldValue}
}

// A FrameDesyncError is returned once realignment of a continuous read stream gave up. It is
// fatal to the streaming session, the same as any other bus fault.
type FrameDesyncError struct {
	ChipSelect string
	Status     byte
	Attempts   int
}

func (e *FrameDesyncError) Error() string {
	return fmt.Sprintf("chip select %s: status byte 0x%02X after %d resync attempts: %v",
		e.ChipSelect, e.Status, e.Attempts, ErrFrameDesync)
}

func (e *FrameDesyncError) Unwrap() error {
	return ErrFrameDesync
}
