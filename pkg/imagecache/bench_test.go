package imagecache_test

import (
	"fmt"
	"testing"

	"github.com/calvinalkan/imagecache/pkg/imagecache"
)

func newBenchCache(b *testing.B, memoryBudget int64) *imagecache.Cache {
	b.Helper()

	c, err := imagecache.New(imagecache.Options{
		Dir:          b.TempDir(),
		DiskBudget:   64 << 20,
		MemoryBudget: memoryBudget,
		RequireDisk:  true,
	})
	if err != nil {
		b.Fatalf("New failed: %v", err)
	}

	b.Cleanup(func() { _ = c.Close() })

	return c
}

func Benchmark_Get_Memory_Hit(b *testing.B) {
	c := newBenchCache(b, 8<<20)
	c.Put("hot", pngBytes(b, 64, 64))

	for b.Loop() {
		if _, ok := c.Get("hot"); !ok {
			b.Fatal("unexpected miss")
		}
	}
}

func Benchmark_Get_Disk_Promotion(b *testing.B) {
	c := newBenchCache(b, 8<<20)
	c.Put("cold", pngBytes(b, 64, 64))

	for b.Loop() {
		c.Trim(0)

		if _, ok := c.Get("cold"); !ok {
			b.Fatal("unexpected miss")
		}
	}
}

func Benchmark_Put(b *testing.B) {
	c := newBenchCache(b, 1<<20)
	data := pngBytes(b, 32, 32)

	i := 0

	for b.Loop() {
		c.Put(fmt.Sprintf("k%d", i%256), data)
		i++
	}
}
