package imagecache

import (
	"hash/maphash"
	"sync/atomic"
)

const writeStripes = 64

// writeTracker lets a disk promotion tell whether a Put on the same key
// overlapped it. Keys share stripes, so a collision only skips a promotion.
type writeTracker struct {
	seed    maphash.Seed
	stripes [writeStripes]writeStripe
}

// writeStripe: gen moves when a Put starts and again when it returns;
// inflight counts Puts that have started but not returned.
type writeStripe struct {
	gen      atomic.Uint64
	inflight atomic.Int64
}

func newWriteTracker() *writeTracker {
	return &writeTracker{seed: maphash.MakeSeed()}
}

func (w *writeTracker) stripe(key string) *writeStripe {
	return &w.stripes[maphash.String(w.seed, key)%writeStripes]
}

func (s *writeStripe) begin() {
	s.inflight.Add(1)
	s.gen.Add(1)
}

func (s *writeStripe) end() {
	s.gen.Add(1)
	s.inflight.Add(-1)
}

// quiet reports that no Put touched the stripe since gen was observed.
func (s *writeStripe) quiet(since uint64) bool {
	return s.inflight.Load() == 0 && s.gen.Load() == since
}
