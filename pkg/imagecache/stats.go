package imagecache

import "sync/atomic"

// Stats is a point-in-time view of both tiers and the cache counters.
type Stats struct {
	MemoryEntries   int
	MemoryWeight    int64
	MemoryBudget    int64
	MemoryEvictions int64

	DiskEntries int
	DiskSize    int64
	DiskBudget  int64
	Degraded    bool

	Puts         int64
	Hits         int64
	Misses       int64
	Promotions   int64
	DiskWrites   int64
	DiskBusy     int64
	DiskFailures int64
}

// HitRate returns hits / (hits + misses), or 0 before the first Get.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}

	return float64(s.Hits) / float64(total)
}

type counters struct {
	puts         atomic.Int64
	hits         atomic.Int64
	misses       atomic.Int64
	promotions   atomic.Int64
	diskWrites   atomic.Int64
	diskBusy     atomic.Int64
	diskFailures atomic.Int64
}

// Stats returns current sizes and counters. Tiers are sampled one after the
// other, so the snapshot is not atomic across them.
func (c *Cache) Stats() Stats {
	s := Stats{
		MemoryEntries:   c.mem.Len(),
		MemoryWeight:    c.mem.Weight(),
		MemoryBudget:    c.mem.MaxWeight(),
		MemoryEvictions: c.mem.Evictions(),
		Degraded:        c.disk == nil,
		Puts:            c.stats.puts.Load(),
		Hits:            c.stats.hits.Load(),
		Misses:          c.stats.misses.Load(),
		Promotions:      c.stats.promotions.Load(),
		DiskWrites:      c.stats.diskWrites.Load(),
		DiskBusy:        c.stats.diskBusy.Load(),
		DiskFailures:    c.stats.diskFailures.Load(),
	}

	if c.disk != nil {
		s.DiskEntries = c.disk.Len()
		s.DiskSize = c.disk.Size()
		s.DiskBudget = c.disk.MaxSize()
	}

	return s
}
