package bufalloc

import "github.com/hupe1980/bufalloc/internal/space"

// smallRegion is a SmallRegionSize medium allocation, aligned to its size,
// that serves small allocations at SmallGranularity.
type smallRegion struct {
	chunk *bufferChunk
	off   int
	space *space.Space

	hasNurseryOwnedAllocs bool
}

func newSmallRegion(c *bufferChunk, off int) *smallRegion {
	return &smallRegion{
		chunk: c,
		off:   off,
		space: space.NewSmallRegion(c.base() + uintptr(off)),
	}
}

func (r *smallRegion) slice(off, n int) []byte { return r.chunk.slice(r.off+off, n) }

func (r *smallRegion) isEmpty() bool { return r.space.IsEmpty() }
