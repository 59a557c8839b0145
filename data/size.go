package data

import "fmt"

var sizeUnits = []string{"KB", "MB", "GB", "TB"}

// FormatSize renders a byte count for logs and listings, e.g. "1.50 MB".
func FormatSize[T int64 | uint64 | int](b T) string {
	if b < 1024 {
		return fmt.Sprintf("%d Bytes", b)
	}
	v := float64(b) / 1024
	unit := 0
	for v >= 1024 && unit < len(sizeUnits)-1 {
		v /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", v, sizeUnits[unit])
}
