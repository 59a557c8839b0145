package udp

import (
	"context"
	"net"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/biosignal/logging"
)

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	err := cfg.Validate("transports.0")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "address")

	cfg.Address = "nope"
	test.That(t, cfg.Validate("transports.0"), test.ShouldNotBeNil)

	cfg.Address = "127.0.0.1:9000"
	test.That(t, cfg.Validate("transports.0"), test.ShouldBeNil)

	cfg.PayloadLimit = 10
	test.That(t, cfg.Validate("transports.0"), test.ShouldNotBeNil)
	cfg.PayloadLimit = 512
	cfg.Interval = -time.Second
	test.That(t, cfg.Validate("transports.0"), test.ShouldNotBeNil)
}

func TestSink(t *testing.T) {
	ctx := context.Background()
	logger, logs := logging.NewObservedTestLogger(t)

	listener, err := net.ListenPacket("udp", "127.0.0.1:0")
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, listener.Close(), test.ShouldBeNil)
	}()

	sink, err := Dial(ctx, Config{Address: listener.LocalAddr().String()}, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, sink.Close(), test.ShouldBeNil)
	}()
	test.That(t, sink.PayloadLimit(), test.ShouldEqual, DefaultPayloadLimit)

	test.That(t, sink.Send(ctx, []byte{1, 2, 3}), test.ShouldBeNil)
	buf := make([]byte, 64)
	test.That(t, listener.SetReadDeadline(time.Now().Add(5*time.Second)), test.ShouldBeNil)
	n, from, err := listener.ReadFrom(buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, buf[:n], test.ShouldResemble, []byte{1, 2, 3})
	test.That(t, from.String(), test.ShouldEqual, sink.LocalAddr().String())

	frames, bytes := sink.Stats()
	test.That(t, frames, test.ShouldEqual, uint64(1))
	test.That(t, bytes, test.ShouldEqual, uint64(3))

	sink.SetPayloadLimit(100)
	test.That(t, sink.PayloadLimit(), test.ShouldEqual, 100)
	sink.SetPayloadLimit(100)
	test.That(t, logs.FilterMessageSnippet("payload limit changed").Len(), test.ShouldEqual, 1)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	test.That(t, sink.Send(canceled, []byte{4}), test.ShouldBeError, context.Canceled)
}
