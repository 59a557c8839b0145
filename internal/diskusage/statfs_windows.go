package diskusage

import "github.com/pkg/errors"

// Statfs is not implemented on Windows.
func Statfs(path string) (DiskUsage, error) {
	return DiskUsage{}, errors.New("disk usage is not supported on windows")
}
