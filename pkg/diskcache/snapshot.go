package diskcache

import (
	"errors"
	"io"

	"github.com/calvinalkan/imagecache/pkg/fs"
)

// Snapshot is a point-in-time view of an entry's committed values.
//
// The value files are opened when the snapshot is taken, so later commits,
// removals and [Cache.Delete] do not change what it reads. Close releases
// the file handles and must always be called.
type Snapshot struct {
	key     string
	files   []fs.File
	lengths []int64
	closed  bool
}

// Key returns the entry key.
func (s *Snapshot) Key() string {
	return s.key
}

// Reader returns the reader for value index. It panics if index is out of
// range.
func (s *Snapshot) Reader(index int) io.Reader {
	return s.files[index]
}

// Len returns the committed length of value index in bytes.
func (s *Snapshot) Len(index int) int64 {
	return s.lengths[index]
}

// Close closes every value file. Close is idempotent.
func (s *Snapshot) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true

	var errs []error
	for _, f := range s.files {
		errs = append(errs, f.Close())
	}

	return errors.Join(errs...)
}
