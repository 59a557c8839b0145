package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"go.viam.com/biosignal/data"
	"go.viam.com/biosignal/stream"
)

func TestDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "00001_ab.dat")
	w, err := data.CreateWriter(path)
	test.That(t, err, test.ShouldBeNil)
	for i := uint32(0); i < 3; i++ {
		test.That(t, w.WriteFrame(&stream.Frame{
			PacketCounter: i,
			Timestamp:     uint64(1_700_000_000_000_000 + int(i)*4000),
			Samples:       []stream.Sample{{GPIO: 0x3, Data: []int32{int32(i), -int32(i)}}},
		}), test.ShouldBeNil)
	}
	test.That(t, w.Close(), test.ShouldBeNil)

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	test.That(t, app.Run([]string{"datdump", "--frames", path}), test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "3 frames, 3 samples, 2 channels, 8ms")
	test.That(t, out.String(), test.ShouldContainSubstring, "#2 ts=1700000000008000")
	test.That(t, out.String(), test.ShouldContainSubstring, "[2 -2]")

	app = newApp()
	app.Writer = &bytes.Buffer{}
	test.That(t, app.Run([]string{"datdump", "--gain", "x3", path}), test.ShouldNotBeNil)
	test.That(t, app.Run([]string{"datdump"}), test.ShouldNotBeNil)
}
