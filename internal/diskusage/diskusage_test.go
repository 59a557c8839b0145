//go:build !windows

package diskusage

import (
	"testing"

	"go.viam.com/test"
)

func TestStatfs(t *testing.T) {
	usage, err := Statfs(t.TempDir())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, usage.SizeBytes, test.ShouldBeGreaterThan, uint64(0))
	test.That(t, usage.AvailableBytes, test.ShouldBeLessThanOrEqualTo, usage.SizeBytes)
	test.That(t, usage.AvailablePercent(), test.ShouldBeBetweenOrEqual, 0.0, 1.0)

	_, err = Statfs("/does/not/exist")
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, DiskUsage{}.AvailablePercent(), test.ShouldEqual, 0.0)
}
