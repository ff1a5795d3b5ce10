// Package fs is the filesystem seam under the disk tier.
//
// Production code uses [Real]. Tests swap in [Chaos] to make individual
// calls fail with real errno values (ENOSPC, EIO, EACCES) so the journal
// and write-through paths can be exercised without a broken disk.
package fs

import (
	"io"
	"os"
)

// File is the subset of [os.File] the disk tier reads, writes and syncs.
type File interface {
	io.ReadWriteCloser
	io.Seeker

	Stat() (os.FileInfo, error)
	Sync() error
}

// FS lists every filesystem call the disk tier makes. Paths are OS paths,
// not io/fs slash paths.
//
// Implementations must be safe for concurrent use.
type FS interface {
	Open(path string) (File, error)
	Create(path string) (File, error)
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// ReadDir returns entries sorted by name.
	ReadDir(path string) ([]os.DirEntry, error)
	MkdirAll(path string, perm os.FileMode) error
	Stat(path string) (os.FileInfo, error)

	// Exists returns (false, nil) for a missing path and (false, err) when
	// the path could not be checked.
	Exists(path string) (bool, error)

	Remove(path string) error
	RemoveAll(path string) error

	// Rename replaces newpath in one step when both paths share a volume.
	// Value files and the journal are installed this way.
	Rename(oldpath, newpath string) error
}

var _ File = (*os.File)(nil)
