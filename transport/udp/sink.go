// Package udp sends encoded frames as UDP datagrams, one frame per datagram.
package udp

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	goutils "go.viam.com/utils"

	"go.viam.com/biosignal/logging"
)

// DefaultPayloadLimit is the payload limit of a sink whose config leaves it unset.
const DefaultPayloadLimit = 244

// minPayloadLimit is the smallest limit that fits a frame header and one channel.
const minPayloadLimit = 20

// maxPayloadLimit is the largest UDP payload over IPv4.
const maxPayloadLimit = 65507

// Config is the attribute set of a UDP transport.
type Config struct {
	Address      string        `json:"address"`
	PayloadLimit int           `json:"payload_limit,omitempty"`
	Interval     time.Duration `json:"interval,omitempty"`
	QueueDepth   int           `json:"queue_depth,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Address == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "address")
	}
	if _, _, err := net.SplitHostPort(cfg.Address); err != nil {
		return goutils.NewConfigValidationError(path, errors.Wrap(err, "error validating address"))
	}
	if cfg.PayloadLimit != 0 && (cfg.PayloadLimit < minPayloadLimit || cfg.PayloadLimit > maxPayloadLimit) {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("payload_limit %d out of range [%d, %d]", cfg.PayloadLimit, minPayloadLimit, maxPayloadLimit))
	}
	if cfg.Interval < 0 {
		return goutils.NewConfigValidationError(path, errors.New("interval must not be negative"))
	}
	if cfg.QueueDepth < 0 {
		return goutils.NewConfigValidationError(path, errors.New("queue_depth must not be negative"))
	}
	return nil
}

// Sink writes frames to a connected UDP socket. The payload limit can be changed at any time,
// the way a link renegotiates its MTU.
type Sink struct {
	conn   net.Conn
	logger logging.Logger

	limit  atomic.Int64
	frames atomic.Uint64
	bytes  atomic.Uint64
}

// Dial connects a sink to cfg.Address.
func Dial(ctx context.Context, cfg Config, logger logging.Logger) (*Sink, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", cfg.Address)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", cfg.Address)
	}
	s := &Sink{conn: conn, logger: logger}
	limit := cfg.PayloadLimit
	if limit == 0 {
		limit = DefaultPayloadLimit
	}
	s.limit.Store(int64(limit))
	return s, nil
}

// Send writes frame as one datagram. A frame over the payload limit is still sent; the batcher
// only produces one when a single sample does not fit.
func (s *Sink) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// A zero deadline clears the previous one.
	deadline, _ := ctx.Deadline()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if _, err := s.conn.Write(frame); err != nil {
		return err
	}
	s.frames.Inc()
	s.bytes.Add(uint64(len(frame)))
	return nil
}

// PayloadLimit returns the current payload limit.
func (s *Sink) PayloadLimit() int {
	return int(s.limit.Load())
}

// SetPayloadLimit changes the payload limit seen by the next frame.
func (s *Sink) SetPayloadLimit(n int) {
	old := s.limit.Swap(int64(n))
	if old != int64(n) {
		s.logger.Infow("payload limit changed", "old", old, "new", n)
	}
}

// Stats returns the number of frames and bytes sent.
func (s *Sink) Stats() (frames, bytes uint64) {
	return s.frames.Load(), s.bytes.Load()
}

// LocalAddr returns the local address of the socket.
func (s *Sink) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Close closes the socket.
func (s *Sink) Close() error {
	return s.conn.Close()
}
