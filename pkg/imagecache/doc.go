// Package imagecache is a write-through, two-tier cache for image payloads.
//
// A bounded in-memory tier holds decoded [imaging.Entity] values for fast
// repeated access. A journaled on-disk tier ([diskcache]) keeps the raw bytes
// across restarts. Put writes through both tiers; Get serves from memory and
// falls back to disk, decoding and promoting what it finds.
//
//	c, err := imagecache.New(imagecache.Options{
//	    Dir:        filepath.Join(os.TempDir(), "images"),
//	    DiskBudget: 64 << 20,
//	})
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	c.Put("avatar:42", data)
//	if e, ok := c.Get("avatar:42"); ok && e.Valid() {
//	    draw(e.Pixels())
//	}
//
// # Failure Model
//
// Disk failures never surface to Put or Get callers. A failed write is
// aborted and logged while the memory entry stands; a failed read is logged
// and reported as a miss. If the disk tier cannot be opened at all the cache
// runs memory-only ([Cache.Degraded]) unless [Options.RequireDisk] is set.
//
// # Tier Asymmetry
//
// [Cache.Clear] wipes the disk tier only. Entries already in memory stay
// readable until evicted by the memory budget or [Cache.Trim].
//
// An entity that fails to decode is never kept in memory. Its bytes are still
// written to disk, and Get returns the invalid entity (Valid() == false)
// without promoting it.
package imagecache
