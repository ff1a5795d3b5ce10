// Package diskcache provides a journaled, size-bounded key-value store on disk.
//
// Each entry holds a fixed number of values (byte streams) stored as plain
// files in the cache directory. A text journal records every edit, commit,
// removal and read so the store can rebuild its index and least-recently-used
// order after a restart.
//
// # Basic Usage
//
//	c, err := diskcache.Open(diskcache.Options{
//	    Dir:        "/var/cache/images",
//	    AppVersion: 1,
//	    ValueCount: 1,
//	    MaxSize:    64 << 20,
//	})
//	if err != nil {
//	    // handle [ErrLocked] or I/O failure
//	}
//	defer c.Close()
//
//	// Write
//	ed, err := c.Edit("key")
//	w, _ := ed.NewWriter(0)
//	w.Write(data)
//	ed.Commit()
//
//	// Read
//	snap, found, err := c.Get("key")
//	defer snap.Close()
//	data, err := io.ReadAll(snap.Reader(0))
//
// # Consistency
//
// A value becomes visible only after [Editor.Commit]. Writers stream into a
// private dirty file that is renamed over the clean file on commit, so a
// [Snapshot] opened before a commit keeps reading the old bytes and never
// observes a torn value. Entries whose journal record ends in DIRTY after a
// crash are deleted on the next [Open].
//
// # Concurrency
//
// All methods are safe for concurrent use. At most one [Editor] may be open
// per key; [Cache.Edit] fails fast with [ErrBusy] instead of waiting.
// A directory may be opened by only one [Cache] at a time, enforced with an
// advisory file lock ([ErrLocked]).
//
// # Size Management
//
// After every commit and flush the store removes least recently used entries
// until the total size of committed values is at most [Options.MaxSize].
// Entries with an open editor are skipped until their edit completes.
package diskcache
