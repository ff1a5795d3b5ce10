package imagecache

import (
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"

	"github.com/calvinalkan/imagecache/pkg/fs"
	"github.com/calvinalkan/imagecache/pkg/imaging"
)

const (
	// DefaultAppVersion is used when [Options.AppVersion] is zero.
	DefaultAppVersion = 1

	fallbackMemoryBudget = 32 << 20
	writeBufferSize      = 8 << 10
)

// Options configures [New].
type Options struct {
	// Dir is the disk tier directory. Required.
	Dir string

	// DiskBudget bounds the disk tier in bytes. Must be > 0.
	DiskBudget int64

	// MemoryBudget bounds the summed weight of in-memory entities in bytes.
	// Zero selects [DefaultMemoryBudget].
	MemoryBudget int64

	// AppVersion versions the on-disk format. Changing it discards existing
	// disk entries on open. Zero selects [DefaultAppVersion].
	AppVersion int

	// FS is the filesystem used by the disk tier. Defaults to [fs.NewReal].
	FS fs.FS

	// Decoder decodes raster payloads. Defaults to [imaging.NewDecoder].
	Decoder imaging.Decoder

	// Logger receives diagnostics. Defaults to a no-op logger.
	Logger *slog.Logger

	// RequireDisk makes [New] fail with [ErrDiskUnavailable] instead of
	// degrading to a memory-only cache when the disk tier cannot be opened.
	RequireDisk bool
}

// DefaultMemoryBudget returns one eighth of the runtime soft memory limit
// when one is set (see [debug.SetMemoryLimit]), or 32 MiB otherwise.
func DefaultMemoryBudget() int64 {
	limit := debug.SetMemoryLimit(-1)
	if limit <= 0 || limit == math.MaxInt64 {
		return fallbackMemoryBudget
	}

	return max(limit/8, 1)
}

func (o Options) withDefaults() (Options, error) {
	if o.Dir == "" {
		return o, fmt.Errorf("%w: dir is required", ErrInvalidOptions)
	}

	if o.DiskBudget <= 0 {
		return o, fmt.Errorf("%w: disk budget must be positive, got %d", ErrInvalidOptions, o.DiskBudget)
	}

	if o.MemoryBudget < 0 {
		return o, fmt.Errorf("%w: memory budget must not be negative, got %d", ErrInvalidOptions, o.MemoryBudget)
	}

	if o.AppVersion < 0 {
		return o, fmt.Errorf("%w: app version must not be negative, got %d", ErrInvalidOptions, o.AppVersion)
	}

	if o.MemoryBudget == 0 {
		o.MemoryBudget = DefaultMemoryBudget()
	}

	if o.AppVersion == 0 {
		o.AppVersion = DefaultAppVersion
	}

	if o.FS == nil {
		o.FS = fs.NewReal()
	}

	if o.Decoder == nil {
		o.Decoder = imaging.NewDecoder()
	}

	return o, nil
}
