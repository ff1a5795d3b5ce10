package imagecache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/calvinalkan/imagecache/pkg/diskcache"
)

// diskKeyLen caps derived disk keys. A hex SHA-256 is exactly this long.
const diskKeyLen = 64

// DiskStore is the persistent tier as seen by [Cache]. [*diskcache.Cache]
// satisfies it through [NewDiskStore].
type DiskStore interface {
	Edit(key string) (DiskEditor, error)
	Get(key string) (DiskSnapshot, bool, error)
	Flush() error
	Delete() error
	Directory() string
	Size() int64
	MaxSize() int64
	Len() int
	Close() error
}

// DiskEditor stages one entry write. See [diskcache.Editor].
type DiskEditor interface {
	NewWriter(index int) (io.WriteCloser, error)
	Commit() error
	Abort() error
}

// DiskSnapshot is a committed entry opened for reading. See [diskcache.Snapshot].
type DiskSnapshot interface {
	Reader(index int) io.Reader
	Len(index int) int64
	Close() error
}

// DiskKey maps a cache key to the file-safe key used on disk: the lowercase
// hex SHA-256 of the key.
func DiskKey(key string) string {
	sum := sha256.Sum256([]byte(key))

	return hex.EncodeToString(sum[:])[:diskKeyLen]
}

// NewDiskStore adapts an open [diskcache.Cache].
func NewDiskStore(c *diskcache.Cache) DiskStore {
	return diskStore{c: c}
}

type diskStore struct {
	c *diskcache.Cache
}

func (d diskStore) Edit(key string) (DiskEditor, error) {
	ed, err := d.c.Edit(key)
	if err != nil {
		return nil, err
	}

	return ed, nil
}

func (d diskStore) Get(key string) (DiskSnapshot, bool, error) {
	snap, found, err := d.c.Get(key)
	if err != nil || !found {
		return nil, false, err
	}

	return snap, true, nil
}

func (d diskStore) Flush() error      { return d.c.Flush() }
func (d diskStore) Delete() error     { return d.c.Delete() }
func (d diskStore) Directory() string { return d.c.Directory() }
func (d diskStore) Size() int64       { return d.c.Size() }
func (d diskStore) MaxSize() int64    { return d.c.MaxSize() }
func (d diskStore) Len() int          { return d.c.Len() }
func (d diskStore) Close() error      { return d.c.Close() }

var (
	_ DiskEditor   = (*diskcache.Editor)(nil)
	_ DiskSnapshot = (*diskcache.Snapshot)(nil)
)
