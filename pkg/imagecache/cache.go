package imagecache

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"

	"github.com/calvinalkan/imagecache/internal/logging"
	"github.com/calvinalkan/imagecache/internal/lru"
	"github.com/calvinalkan/imagecache/pkg/diskcache"
	"github.com/calvinalkan/imagecache/pkg/imaging"
)

// Cache is a write-through memory and disk image cache. All methods are safe
// for concurrent use and block the calling goroutine.
type Cache struct {
	dir     string
	mem     *lru.Cache[string, *imaging.Entity]
	disk    DiskStore // nil when degraded
	decoder imaging.Decoder
	log     *slog.Logger
	loads   singleflight.Group
	writes  *writeTracker
	stats   counters
}

// New opens the disk tier in opts.Dir and returns a ready cache.
//
// When the disk tier cannot be opened the failure is logged and the cache
// runs memory-only, unless opts.RequireDisk is set, in which case New returns
// an error wrapping [ErrDiskUnavailable].
func New(opts Options) (*Cache, error) {
	return newCache(opts, openDiskStore)
}

type storeOpener func(opts Options, log *slog.Logger) (DiskStore, error)

func newCache(opts Options, open storeOpener) (*Cache, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	log := logging.NewComponentLogger(opts.Logger, "imagecache")

	store, err := open(opts, log)
	if err != nil {
		if opts.RequireDisk {
			return nil, fmt.Errorf("%w: %w", ErrDiskUnavailable, err)
		}

		logging.ErrorWithContext(log, "disk tier unavailable, running memory-only", "disk_open",
			logging.String("dir", opts.Dir),
			logging.Error(err),
			logging.String(logging.FieldImpact, "cached images will not survive a restart"),
			logging.String(logging.FieldErrorHint, "check that the cache dir is writable and not opened by another process"),
		)

		store = nil
	}

	c := &Cache{
		dir:     opts.Dir,
		mem:     lru.New[string, *imaging.Entity](opts.MemoryBudget, (*imaging.Entity).Weight),
		disk:    store,
		decoder: opts.Decoder,
		log:     log,
		writes:  newWriteTracker(),
	}

	log.Debug("cache opened",
		logging.String("dir", opts.Dir),
		logging.String("memory_budget", humanize.IBytes(uint64(opts.MemoryBudget))),
		logging.String("disk_budget", humanize.IBytes(uint64(opts.DiskBudget))),
		logging.Bool("degraded", store == nil),
	)

	return c, nil
}

func openDiskStore(opts Options, log *slog.Logger) (DiskStore, error) {
	dc, err := diskcache.Open(diskcache.Options{
		FS:         opts.FS,
		Dir:        opts.Dir,
		AppVersion: opts.AppVersion,
		ValueCount: 1,
		MaxSize:    opts.DiskBudget,
	})
	if err != nil {
		return nil, err
	}

	if rec := dc.Recovered(); rec != nil {
		log.Warn("disk journal unreadable, cache directory reset",
			logging.String("dir", opts.Dir),
			logging.Error(rec),
		)
	}

	log.Debug("disk tier opened",
		logging.Int("entries", dc.Len()),
		logging.Int64("bytes", dc.Size()),
	)

	return NewDiskStore(dc), nil
}

// Put builds the entity for data, stores it in memory and writes data
// through to disk. Disk failures are logged, never returned; the memory
// entry stands regardless.
//
// An entity that fails to decode is not kept in memory, but its bytes still
// go to disk.
func (c *Cache) Put(key string, data []byte) {
	c.stats.puts.Add(1)

	stripe := c.writes.stripe(key)
	stripe.begin()
	defer stripe.end()

	entity := imaging.Build(data, c.decoder)
	if entity.Valid() {
		c.mem.Put(key, entity)
	} else {
		// A stale entity must not outlive the bytes replacing it on disk.
		c.mem.Remove(key)

		c.log.Warn("payload failed to decode, not cached in memory",
			logging.String(logging.FieldCacheKey, key),
			logging.Int("bytes", len(data)),
			logging.Error(entity.Err()),
		)
	}

	if c.disk == nil {
		return
	}

	c.writeDisk(key, data)
}

func (c *Cache) writeDisk(key string, data []byte) {
	diskKey := DiskKey(key)

	ed, err := c.disk.Edit(diskKey)
	if errors.Is(err, diskcache.ErrBusy) {
		c.stats.diskBusy.Add(1)
		c.log.Debug("disk entry busy, skipping write",
			logging.String(logging.FieldCacheKey, key),
			logging.String(logging.FieldDiskKey, diskKey),
		)

		return
	}

	if err == nil {
		err = c.writeEntry(ed, data)
		if err != nil {
			// Report the write failure; Abort only cleans up.
			_ = ed.Abort()
		}
	}

	if err != nil {
		c.stats.diskFailures.Add(1)
		logging.ErrorWithContext(c.log, "disk write failed", "disk_write",
			logging.String(logging.FieldCacheKey, key),
			logging.String(logging.FieldDiskKey, diskKey),
			logging.Error(err),
			logging.String(logging.FieldImpact, "entry is cached in memory only"),
		)

		return
	}

	c.stats.diskWrites.Add(1)
}

func (c *Cache) writeEntry(ed DiskEditor, data []byte) error {
	w, err := ed.NewWriter(0)
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(w, writeBufferSize)

	_, err = bw.Write(data)
	if err == nil {
		err = bw.Flush()
	}

	closeErr := w.Close()
	if err != nil {
		return errors.Join(err, closeErr)
	}

	if closeErr != nil {
		return closeErr
	}

	err = c.disk.Flush()
	if err != nil {
		return err
	}

	return ed.Commit()
}

// Get returns the entity for key. A memory miss reads the disk tier, decodes
// the bytes and promotes a valid result into memory. Concurrent misses for
// the same key share one disk read.
//
// The returned entity may be invalid (Valid() == false) when the stored bytes
// do not decode. Disk read failures are logged and reported as a miss.
func (c *Cache) Get(key string) (*imaging.Entity, bool) {
	if e, ok := c.mem.Get(key); ok {
		c.stats.hits.Add(1)

		return e, true
	}

	c.stats.misses.Add(1)

	if c.disk == nil {
		return nil, false
	}

	// Gets only share a load observed at the same write generation, so a
	// Get that starts after a Put never receives bytes read before it.
	stripe := c.writes.stripe(key)
	since := stripe.gen.Load()

	v, err, _ := c.loads.Do(key+"\x00"+strconv.FormatUint(since, 10), func() (any, error) {
		return c.load(key, stripe, since)
	})
	if err != nil {
		c.stats.diskFailures.Add(1)
		logging.ErrorWithContext(c.log, "disk read failed", "disk_read",
			logging.String(logging.FieldCacheKey, key),
			logging.Error(err),
			logging.String(logging.FieldImpact, "reported as cache miss"),
		)

		return nil, false
	}

	e, _ := v.(*imaging.Entity)
	if e == nil {
		return nil, false
	}

	return e, true
}

// load reads key from disk and promotes it unless a Put on the same stripe
// overlapped the read; since is the stripe generation seen before it.
func (c *Cache) load(key string, stripe *writeStripe, since uint64) (*imaging.Entity, error) {
	// A load that finished just before this one may already have promoted.
	if e, ok := c.mem.Peek(key); ok {
		return e, nil
	}

	start := time.Now()
	diskKey := DiskKey(key)

	snap, found, err := c.disk.Get(diskKey)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, nil
	}

	defer func() {
		closeErr := snap.Close()
		if closeErr != nil {
			c.log.Warn("closing disk snapshot failed",
				logging.String(logging.FieldDiskKey, diskKey),
				logging.Error(closeErr),
			)
		}
	}()

	data, err := io.ReadAll(snap.Reader(0))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", diskKey, err)
	}

	e := imaging.Build(data, c.decoder)
	if !e.Valid() {
		c.log.Warn("stored payload failed to decode",
			logging.String(logging.FieldCacheKey, key),
			logging.Error(e.Err()),
		)

		return e, nil
	}

	raced := false

	stored, evicted := c.mem.PutIf(key, e, func() bool {
		raced = !stripe.quiet(since)

		return !raced
	})
	if raced {
		c.log.Debug("promotion skipped, concurrent put",
			logging.String(logging.FieldCacheKey, key),
		)
	}

	if stored {
		c.stats.promotions.Add(1)

		c.log.Debug("promoted disk entry",
			logging.String(logging.FieldCacheKey, key),
			logging.Int64("weight", e.Weight()),
			logging.Int("evicted", evicted),
			logging.Duration("elapsed", time.Since(start)),
		)
	}

	return e, nil
}

// Clear deletes every disk entry and leaves an empty, usable disk tier.
// The memory tier is not touched.
func (c *Cache) Clear() {
	if c.disk == nil {
		return
	}

	err := c.disk.Delete()
	if err != nil {
		c.stats.diskFailures.Add(1)
		logging.ErrorWithContext(c.log, "clearing disk tier failed", "disk_clear",
			logging.String("dir", c.dir),
			logging.Error(err),
		)

		return
	}

	c.log.Info("disk tier cleared", logging.String("dir", c.dir))
}

// Folder returns the directory backing the disk tier.
func (c *Cache) Folder() string {
	if c.disk == nil {
		return c.dir
	}

	return c.disk.Directory()
}

// Trim evicts least recently used memory entries until their total weight is
// at most target and returns how many were evicted. Call it when the process
// is under memory pressure.
func (c *Cache) Trim(target int64) int {
	n := c.mem.Trim(max(target, 0))
	if n > 0 {
		c.log.Debug("memory tier trimmed",
			logging.Int("evicted", n),
			logging.String("weight", humanize.IBytes(uint64(c.mem.Weight()))),
		)
	}

	return n
}

// Degraded reports whether the cache runs without a disk tier.
func (c *Cache) Degraded() bool {
	return c.disk == nil
}

// Close releases the disk tier. Memory entries stay readable; later disk
// operations fail and are logged.
func (c *Cache) Close() error {
	if c.disk == nil {
		return nil
	}

	return c.disk.Close()
}
