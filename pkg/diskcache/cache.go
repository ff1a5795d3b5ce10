package diskcache

import (
	"bufio"
	"container/list"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"github.com/gofrs/flock"

	"github.com/calvinalkan/imagecache/pkg/fs"
)

const (
	journalFile = "journal"
	lockFile    = ".lock"

	// redundantOpCompactThreshold is the number of journal lines that no
	// longer describe live state before the journal is rewritten.
	redundantOpCompactThreshold = 2000
)

var keyPattern = regexp.MustCompile(`^[a-z0-9_-]{1,120}$`)

// Options configures [Open].
type Options struct {
	// FS performs all value and journal reads and writes. Defaults to [fs.NewReal].
	FS fs.FS

	// Dir is the cache directory. It is created if missing.
	Dir string

	// AppVersion is stored in the journal header. Opening a directory written
	// with a different version wipes it.
	AppVersion int

	// ValueCount is the number of values per entry. Must be >= 1.
	ValueCount int

	// MaxSize bounds the total size of committed values in bytes. Must be > 0.
	MaxSize int64
}

// Cache is a journaled on-disk store. See the package documentation.
type Cache struct {
	fs         fs.FS
	dir        string
	appVersion int
	valueCount int
	maxSize    int64
	lock       *flock.Flock

	mu            sync.Mutex
	journal       fs.File
	journalBuf    *bufio.Writer
	journalBroken bool
	entries       map[string]*list.Element // value is *entry
	lru           *list.List               // front = most recently used
	size          int64
	redundantOps  int
	generation    uint64
	closed        bool
	recovered     error
}

type entry struct {
	key      string
	lengths  []int64
	readable bool
	editor   *Editor
}

// ValidKey reports whether key can be stored.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// Open opens or creates the cache in opts.Dir.
//
// A journal that cannot be parsed or that was written with other options is
// not an error: the directory is wiped and the failure is reported by
// [Cache.Recovered]. Open fails with [ErrLocked] when another handle holds
// the directory and with an I/O error when the directory is unusable.
func Open(opts Options) (*Cache, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("%w: empty dir", ErrInvalidInput)
	}

	if opts.ValueCount < 1 {
		return nil, fmt.Errorf("%w: value count %d", ErrInvalidInput, opts.ValueCount)
	}

	if opts.MaxSize <= 0 {
		return nil, fmt.Errorf("%w: max size %d", ErrInvalidInput, opts.MaxSize)
	}

	fsys := opts.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	err := fsys.MkdirAll(opts.Dir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("diskcache: create dir: %w", err)
	}

	lock := flock.New(filepath.Join(opts.Dir, lockFile))

	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("diskcache: lock dir: %w", err)
	}

	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, opts.Dir)
	}

	c := &Cache{
		fs:         fsys,
		dir:        opts.Dir,
		appVersion: opts.AppVersion,
		valueCount: opts.ValueCount,
		maxSize:    opts.MaxSize,
		lock:       lock,
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
	}

	err = c.init()
	if err != nil {
		return nil, errors.Join(err, c.closeJournalLocked(), lock.Unlock())
	}

	return c, nil
}

// init loads the journal or starts a fresh one.
func (c *Cache) init() error {
	exists, err := c.fs.Exists(c.journalPath())
	if err != nil {
		return fmt.Errorf("diskcache: stat journal: %w", err)
	}

	if exists {
		rebuild, readErr := c.readJournal()

		switch {
		case readErr == nil:
			err = c.processJournal()
			if err != nil {
				return err
			}

			if rebuild || c.compactionDue() {
				err = c.rebuildJournalLocked()
			} else {
				err = c.openJournalForAppend()
			}

			if err != nil {
				return err
			}

			// MaxSize may have shrunk since the last run.
			return c.trimLocked()
		case errors.Is(readErr, ErrCorrupt), errors.Is(readErr, ErrIncompatible):
			c.recovered = readErr
			c.resetState()

			wipeErr := c.wipeFiles()
			if wipeErr != nil {
				return errors.Join(readErr, wipeErr)
			}
		default:
			return readErr
		}
	}

	return c.rebuildJournalLocked()
}

// Recovered returns the journal error that made [Open] wipe the directory,
// or nil if the journal was intact or absent.
func (c *Cache) Recovered() error {
	return c.recovered
}

// Edit opens an editor for key. It fails with [ErrBusy] if another editor for
// key is open. The entry's previous value, if any, stays readable until the
// editor commits.
func (c *Cache) Edit(key string) (*Editor, error) {
	if !ValidKey(key) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	e := c.lookupLocked(key)
	if e != nil && e.editor != nil {
		return nil, fmt.Errorf("%w: %s", ErrBusy, key)
	}

	if e == nil {
		e = &entry{key: key, lengths: make([]int64, c.valueCount)}
		c.entries[key] = c.lru.PushFront(e)
	} else {
		// Journal replay moves an entry on every record; match that here.
		c.lru.MoveToFront(c.entries[key])
	}

	ed := &Editor{
		c:          c,
		entry:      e,
		generation: c.generation,
		written:    make([]bool, c.valueCount),
	}
	e.editor = ed

	err := c.appendJournalLocked(true, opDirty, key)
	if err != nil {
		e.editor = nil

		if !e.readable {
			c.dropLocked(e)
		}

		return nil, err
	}

	return ed, nil
}

// Get returns a snapshot of the committed values for key. found is false
// when no committed value exists. The caller must close the snapshot.
func (c *Cache) Get(key string) (*Snapshot, bool, error) {
	if !ValidKey(key) {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false, ErrClosed
	}

	e := c.lookupLocked(key)
	if e == nil || !e.readable {
		return nil, false, nil
	}

	files := make([]fs.File, 0, c.valueCount)

	closeAll := func() error {
		var errs []error
		for _, f := range files {
			errs = append(errs, f.Close())
		}

		return errors.Join(errs...)
	}

	for i := range c.valueCount {
		f, err := c.fs.Open(c.cleanPath(key, i))
		if err != nil {
			closeErr := closeAll()

			if os.IsNotExist(err) {
				// Value file removed behind our back: treat as a miss.
				return nil, false, closeErr
			}

			return nil, false, errors.Join(fmt.Errorf("diskcache: open value %s.%d: %w", key, i, err), closeErr)
		}

		files = append(files, f)
	}

	c.lru.MoveToFront(c.entries[key])
	c.redundantOps++

	err := c.appendJournalLocked(false, opRead, key)
	if err == nil && c.compactionDue() {
		err = c.rebuildJournalLocked()
	}

	if err != nil {
		return nil, false, errors.Join(err, closeAll())
	}

	return &Snapshot{key: key, files: files, lengths: append([]int64(nil), e.lengths...)}, true, nil
}

// Remove deletes the committed entry for key. It returns false if the key is
// absent or currently being edited.
func (c *Cache) Remove(key string) (bool, error) {
	if !ValidKey(key) {
		return false, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, ErrClosed
	}

	e := c.lookupLocked(key)
	if e == nil || e.editor != nil {
		return false, nil
	}

	err := c.removeEntryLocked(e)
	if err != nil {
		return false, err
	}

	if c.compactionDue() {
		err = c.rebuildJournalLocked()
		if err != nil {
			return true, err
		}
	}

	return true, nil
}

// Flush trims the store to its size bound and forces the journal to disk.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	err := c.trimLocked()
	if err != nil {
		return err
	}

	return c.syncJournalLocked()
}

// Delete removes every entry and value file and leaves an empty, usable
// store. Open editors are invalidated: their Commit returns [ErrClosed].
// Snapshots opened before Delete keep reading their values.
func (c *Cache) Delete() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	closeErr := c.closeJournalLocked()

	c.resetState()
	c.generation++

	err := c.wipeFiles()
	if err != nil {
		return errors.Join(err, closeErr)
	}

	err = c.rebuildJournalLocked()
	if err != nil {
		return errors.Join(err, closeErr)
	}

	return nil
}

// Close flushes the journal, aborts open editors and releases the directory
// lock. Close is idempotent.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	var errs []error

	for elem := c.lru.Front(); elem != nil; {
		next := elem.Next()

		e := elem.Value.(*entry)
		if e.editor != nil {
			errs = append(errs, c.completeEditLocked(e.editor, false))
		}

		elem = next
	}

	errs = append(errs, c.closeJournalLocked(), c.lock.Unlock())

	return errors.Join(errs...)
}

// Directory returns the cache directory.
func (c *Cache) Directory() string {
	return c.dir
}

// MaxSize returns the size bound in bytes.
func (c *Cache) MaxSize() int64 {
	return c.maxSize
}

// Size returns the total size of committed values in bytes.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.size
}

// Len returns the number of committed entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0

	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		if elem.Value.(*entry).readable {
			n++
		}
	}

	return n
}

func (c *Cache) lookupLocked(key string) *entry {
	elem, ok := c.entries[key]
	if !ok {
		return nil
	}

	return elem.Value.(*entry)
}

func (c *Cache) dropLocked(e *entry) {
	if elem, ok := c.entries[e.key]; ok {
		c.lru.Remove(elem)
		delete(c.entries, e.key)
	}
}

// removeEntryLocked deletes the clean files of e and journals a REMOVE.
func (c *Cache) removeEntryLocked(e *entry) error {
	for i := range c.valueCount {
		err := c.fs.Remove(c.cleanPath(e.key, i))
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("diskcache: remove value %s.%d: %w", e.key, i, err)
		}

		c.size -= e.lengths[i]
		e.lengths[i] = 0
	}

	e.readable = false
	c.dropLocked(e)
	c.redundantOps++

	return c.appendJournalLocked(false, opRemove, e.key)
}

// trimLocked evicts least recently used entries until size <= maxSize.
func (c *Cache) trimLocked() error {
	elem := c.lru.Back()

	for c.size > c.maxSize && elem != nil {
		prev := elem.Prev()

		e := elem.Value.(*entry)
		if e.editor == nil && e.readable {
			err := c.removeEntryLocked(e)
			if err != nil {
				return err
			}
		}

		elem = prev
	}

	return nil
}

func (c *Cache) compactionDue() bool {
	return c.redundantOps >= redundantOpCompactThreshold && c.redundantOps >= len(c.entries)
}

func (c *Cache) resetState() {
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
	c.size = 0
	c.redundantOps = 0
}

// wipeFiles removes everything in the directory except the lock file.
func (c *Cache) wipeFiles() error {
	dirEntries, err := c.fs.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("diskcache: list dir: %w", err)
	}

	for _, de := range dirEntries {
		if de.Name() == lockFile {
			continue
		}

		err = c.fs.RemoveAll(filepath.Join(c.dir, de.Name()))
		if err != nil {
			return fmt.Errorf("diskcache: wipe %s: %w", de.Name(), err)
		}
	}

	return nil
}

func (c *Cache) journalPath() string {
	return filepath.Join(c.dir, journalFile)
}

func (c *Cache) cleanPath(key string, index int) string {
	return filepath.Join(c.dir, key+"."+strconv.Itoa(index))
}

func (c *Cache) dirtyPath(key string, index int) string {
	return c.cleanPath(key, index) + ".tmp"
}
