package imagecache

import "log/slog"

// NewWithStore builds a cache over store instead of opening opts.Dir.
func NewWithStore(opts Options, store DiskStore) (*Cache, error) {
	return newCache(opts, func(Options, *slog.Logger) (DiskStore, error) {
		return store, nil
	})
}

// EditDiskForTesting opens a disk editor for key as a concurrent writer would.
func (c *Cache) EditDiskForTesting(key string) (DiskEditor, error) {
	return c.disk.Edit(DiskKey(key))
}
