package fs

import (
	"errors"
	"io/fs"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// ChaosConfig sets per-operation failure probabilities in [0, 1].
// A zero ChaosConfig never fails anything.
type ChaosConfig struct {
	// OpenFailRate controls how often Open, Create and OpenFile fail.
	// Read-only opens return EACCES, EIO or EMFILE. Write opens add
	// ENOSPC, EDQUOT and EROFS.
	OpenFailRate float64

	// ReadFailRate controls how often File.Read fails with EIO, returning
	// zero bytes.
	ReadFailRate float64

	// WriteFailRate makes File.Write fail before writing anything.
	WriteFailRate float64

	// PartialWriteRate makes File.Write persist a prefix and then fail.
	PartialWriteRate float64

	// SyncFailRate makes File.Sync fail.
	SyncFailRate float64

	// CloseFailRate controls how often File.Close reports EIO. The underlying
	// file is always closed.
	CloseFailRate float64

	// RenameFailRate controls how often Rename fails with an *os.LinkError.
	RenameFailRate float64

	// RemoveFailRate controls how often Remove and RemoveAll fail.
	RemoveFailRate float64

	// MkdirAllFailRate controls how often MkdirAll fails.
	MkdirAllFailRate float64

	// WriteErrnos is the errno set used for write, sync and write-open
	// failures. Defaults to EIO, ENOSPC, EDQUOT and EROFS. Set it to
	// []syscall.Errno{syscall.ENOSPC} to model a full disk.
	WriteErrnos []syscall.Errno

	// Match restricts injection to paths for which it returns true.
	// A nil Match injects on every path.
	Match func(path string) bool
}

// ChaosMode switches injection on and off at runtime.
type ChaosMode uint8

const (
	ChaosModeActive ChaosMode = iota // default
	ChaosModeNoOp                    // pass-through
)

// ChaosStats counts injected faults per operation.
type ChaosStats struct {
	OpenFails     int64
	ReadFails     int64
	WriteFails    int64
	PartialWrites int64
	SyncFails     int64
	CloseFails    int64
	RenameFails   int64
	RemoveFails   int64
	MkdirAllFails int64
}

// Total is the number of faults injected so far.
func (s ChaosStats) Total() int64 {
	return s.OpenFails + s.ReadFails + s.WriteFails + s.PartialWrites + s.SyncFails +
		s.CloseFails + s.RenameFails + s.RemoveFails + s.MkdirAllFails
}

// chaosError tags an injected failure. The wrapped *fs.PathError or
// *os.LinkError stays reachable through errors.Is and errors.As.
type chaosError struct {
	Err error
}

func (e *chaosError) Error() string { return "injected: " + e.Err.Error() }

func (e *chaosError) Unwrap() error { return e.Err }

// IsChaosErr reports whether err came from a [Chaos] fault rather than the
// real filesystem.
func IsChaosErr(err error) bool {
	var injected *chaosError

	return errors.As(err, &injected)
}

var defaultWriteErrnos = []syscall.Errno{syscall.EIO, syscall.ENOSPC, syscall.EDQUOT, syscall.EROFS}

// Chaos wraps an [FS] and injects failures for testing.
//
// Chaos never injects ENOENT: missing-path results always come from the
// wrapped [FS]. Each call independently decides whether to inject; there is
// no sticky per-path state.
//
// Use [Chaos.SetMode] to toggle injection and [Chaos.Stats] to inspect how
// many faults were injected.
type Chaos struct {
	fs     FS
	config ChaosConfig
	mode   atomic.Uint32

	rngMu sync.Mutex
	rng   *rand.Rand

	openFails     atomic.Int64
	readFails     atomic.Int64
	writeFails    atomic.Int64
	partialWrites atomic.Int64
	syncFails     atomic.Int64
	closeFails    atomic.Int64
	renameFails   atomic.Int64
	removeFails   atomic.Int64
	mkdirAllFails atomic.Int64
}

// NewChaos wraps underlying. Equal seeds replay the same fault sequence for
// the same call sequence.
func NewChaos(underlying FS, seed int64, config ChaosConfig) *Chaos {
	if underlying == nil {
		panic("underlying fs is nil")
	}

	if len(config.WriteErrnos) == 0 {
		config.WriteErrnos = defaultWriteErrnos
	}

	return &Chaos{
		fs:     underlying,
		config: config,
		rng:    rand.New(rand.NewPCG(uint64(seed), uint64(seed))), //nolint:gosec // deterministic test rng
	}
}

// SetMode updates [Chaos] behavior. Safe to call concurrently with
// filesystem operations.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		OpenFails:     c.openFails.Load(),
		ReadFails:     c.readFails.Load(),
		WriteFails:    c.writeFails.Load(),
		PartialWrites: c.partialWrites.Load(),
		SyncFails:     c.syncFails.Load(),
		CloseFails:    c.closeFails.Load(),
		RenameFails:   c.renameFails.Load(),
		RemoveFails:   c.removeFails.Load(),
		MkdirAllFails: c.mkdirAllFails.Load(),
	}
}

func (c *Chaos) Open(path string) (File, error) {
	return c.open(path, false, func() (File, error) { return c.fs.Open(path) })
}

func (c *Chaos) Create(path string) (File, error) {
	return c.open(path, true, func() (File, error) { return c.fs.Create(path) })
}

// OpenFile opens a file with fault injection. Flags that can modify the file
// make the open eligible for write errnos.
func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	writable := flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0

	return c.open(path, writable, func() (File, error) { return c.fs.OpenFile(path, flag, perm) })
}

// ReadDir is never faulted; listing failures are not part of the fault model.
func (c *Chaos) ReadDir(path string) ([]os.DirEntry, error) {
	return c.fs.ReadDir(path)
}

func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	if c.should(path, c.config.MkdirAllFailRate) {
		c.mkdirAllFails.Add(1)

		return pathError("mkdir", path, c.pick(c.config.WriteErrnos))
	}

	return c.fs.MkdirAll(path, perm)
}

func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	return c.fs.Stat(path)
}

func (c *Chaos) Exists(path string) (bool, error) {
	return c.fs.Exists(path)
}

func (c *Chaos) Remove(path string) error {
	if c.should(path, c.config.RemoveFailRate) {
		c.removeFails.Add(1)

		return pathError("remove", path, c.pick([]syscall.Errno{syscall.EACCES, syscall.EBUSY, syscall.EIO}))
	}

	return c.fs.Remove(path)
}

func (c *Chaos) RemoveAll(path string) error {
	if c.should(path, c.config.RemoveFailRate) {
		c.removeFails.Add(1)

		return pathError("unlinkat", path, c.pick([]syscall.Errno{syscall.EACCES, syscall.EBUSY, syscall.EIO}))
	}

	return c.fs.RemoveAll(path)
}

func (c *Chaos) Rename(oldpath, newpath string) error {
	if c.should(oldpath, c.config.RenameFailRate) {
		c.renameFails.Add(1)
		errno := c.pick([]syscall.Errno{syscall.EACCES, syscall.EIO, syscall.ENOSPC, syscall.EROFS})

		return &chaosError{Err: &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: errno}}
	}

	return c.fs.Rename(oldpath, newpath)
}

func (c *Chaos) open(path string, writable bool, openFn func() (File, error)) (File, error) {
	if c.should(path, c.config.OpenFailRate) {
		c.openFails.Add(1)

		errnos := []syscall.Errno{syscall.EACCES, syscall.EIO, syscall.EMFILE}
		if writable {
			errnos = append(errnos, c.config.WriteErrnos...)
		}

		return nil, pathError("open", path, c.pick(errnos))
	}

	file, err := openFn()
	if err != nil {
		return nil, err
	}

	return &chaosFile{f: file, chaos: c, path: path}, nil
}

func (c *Chaos) active() bool {
	return ChaosMode(c.mode.Load()) == ChaosModeActive
}

// should reports whether a fault with the given rate fires for path.
func (c *Chaos) should(path string, rate float64) bool {
	if rate <= 0 || !c.active() {
		return false
	}

	if c.config.Match != nil && !c.config.Match(path) {
		return false
	}

	c.rngMu.Lock()
	roll := c.rng.Float64()
	c.rngMu.Unlock()

	return roll < rate
}

func (c *Chaos) intn(n int) int {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()

	return c.rng.IntN(n)
}

func (c *Chaos) pick(errnos []syscall.Errno) syscall.Errno {
	return errnos[c.intn(len(errnos))]
}

func pathError(op, path string, errno syscall.Errno) error {
	return &chaosError{Err: &fs.PathError{Op: op, Path: path, Err: errno}}
}

// chaosFile wraps a [File] and injects faults on handle operations.
type chaosFile struct {
	f     File
	chaos *Chaos
	path  string
}

var _ File = (*chaosFile)(nil)

func (cf *chaosFile) Read(buf []byte) (int, error) {
	if cf.chaos.should(cf.path, cf.chaos.config.ReadFailRate) {
		cf.chaos.readFails.Add(1)

		return 0, pathError("read", cf.path, syscall.EIO)
	}

	return cf.f.Read(buf)
}

func (cf *chaosFile) Write(data []byte) (int, error) {
	c := cf.chaos

	if c.should(cf.path, c.config.WriteFailRate) {
		c.writeFails.Add(1)

		return 0, pathError("write", cf.path, c.pick(c.config.WriteErrnos))
	}

	if len(data) > 1 && c.should(cf.path, c.config.PartialWriteRate) {
		c.partialWrites.Add(1)

		n, err := cf.f.Write(data[:c.intn(len(data)-1)+1])
		if err != nil {
			return n, err
		}

		return n, pathError("write", cf.path, c.pick(c.config.WriteErrnos))
	}

	return cf.f.Write(data)
}

func (cf *chaosFile) Seek(offset int64, whence int) (int64, error) {
	return cf.f.Seek(offset, whence)
}

func (cf *chaosFile) Stat() (os.FileInfo, error) {
	return cf.f.Stat()
}

func (cf *chaosFile) Sync() error {
	c := cf.chaos

	if c.should(cf.path, c.config.SyncFailRate) {
		c.syncFails.Add(1)

		return pathError("sync", cf.path, c.pick(c.config.WriteErrnos))
	}

	return cf.f.Sync()
}

func (cf *chaosFile) Close() error {
	err := cf.f.Close()
	if err != nil {
		return err
	}

	if cf.chaos.should(cf.path, cf.chaos.config.CloseFailRate) {
		cf.chaos.closeFails.Add(1)

		return pathError("close", cf.path, syscall.EIO)
	}

	return nil
}

var _ FS = (*Chaos)(nil)
