// Package diskusage reports how full the file system holding a path is.
package diskusage

// DiskUsage is the size and free space of one file system.
type DiskUsage struct {
	AvailableBytes uint64
	SizeBytes      uint64
}

// AvailablePercent returns the share of the file system still free, from 0 to 1.
func (d DiskUsage) AvailablePercent() float64 {
	if d.SizeBytes == 0 {
		return 0
	}
	return float64(d.AvailableBytes) / float64(d.SizeBytes)
}
