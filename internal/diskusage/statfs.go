//go:build !windows

package diskusage

import (
	"syscall"
)

// Statfs returns the usage of the file system holding path.
func Statfs(path string) (DiskUsage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return DiskUsage{}, err
	}
	return DiskUsage{
		AvailableBytes: stat.Bavail * uint64(stat.Bsize),
		SizeBytes:      stat.Blocks * uint64(stat.Bsize),
	}, nil
}
