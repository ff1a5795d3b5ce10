package imagecache

import "errors"

var (
	// ErrInvalidOptions indicates [Options] failed validation in [New].
	//
	// This is a programming or configuration error.
	ErrInvalidOptions = errors.New("imagecache: invalid options")

	// ErrDiskUnavailable indicates the disk tier could not be opened and
	// [Options.RequireDisk] was set. The wrapped error carries the cause.
	ErrDiskUnavailable = errors.New("imagecache: disk tier unavailable")
)
