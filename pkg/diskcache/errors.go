package diskcache

import "errors"

// Sentinel errors returned by diskcache operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, diskcache.ErrBusy) {
//	    // another edit for this key is open; skip
//	}
var (
	// ErrBusy indicates an edit is already open for the key.
	//
	// Recovery: skip the write or retry after the other edit completes.
	ErrBusy = errors.New("diskcache: edit in progress")

	// ErrClosed indicates the [Cache] was closed, or the [Editor] already
	// committed, aborted or was invalidated by [Cache.Delete].
	ErrClosed = errors.New("diskcache: closed")

	// ErrInvalidKey indicates a key outside [a-z0-9_-]{1,120}.
	//
	// This is a programming error.
	ErrInvalidKey = errors.New("diskcache: invalid key")

	// ErrInvalidInput indicates invalid options or value indexes.
	//
	// This is a programming error.
	ErrInvalidInput = errors.New("diskcache: invalid input")

	// ErrIncomplete indicates a commit on a new entry that did not write
	// every value.
	ErrIncomplete = errors.New("diskcache: incomplete entry")

	// ErrLocked indicates another process (or [Cache]) holds the directory.
	//
	// Recovery: close the other handle or use a different directory.
	ErrLocked = errors.New("diskcache: directory locked")

	// ErrCorrupt indicates the journal could not be parsed. [Open] recovers
	// from it by wiping the directory; see [Cache.Recovered].
	ErrCorrupt = errors.New("diskcache: corrupt journal")

	// ErrIncompatible indicates the journal was written with a different
	// journal version, [Options.AppVersion] or [Options.ValueCount]. [Open]
	// recovers from it by wiping the directory; see [Cache.Recovered].
	ErrIncompatible = errors.New("diskcache: incompatible journal")
)
