package fs

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Usage describes capacity of the volume holding a path.
type Usage struct {
	TotalBytes uint64
	FreeBytes  uint64
}

// FreeRatio returns FreeBytes/TotalBytes, or 1 when the total is unknown.
func (u Usage) FreeRatio() float64 {
	if u.TotalBytes == 0 {
		return 1
	}

	return float64(u.FreeBytes) / float64(u.TotalBytes)
}

// DiskUsage reports total and available bytes for the filesystem containing path.
//
// Free space is what an unprivileged process can use (f_bavail), not the raw
// free block count.
func DiskUsage(path string) (Usage, error) {
	var st unix.Statfs_t

	err := unix.Statfs(path, &st)
	if err != nil {
		return Usage{}, fmt.Errorf("statfs %q: %w", path, err)
	}

	bsize := uint64(st.Bsize) //nolint:gosec // block size is never negative

	return Usage{
		TotalBytes: st.Blocks * bsize,
		FreeBytes:  st.Bavail * bsize,
	}, nil
}
