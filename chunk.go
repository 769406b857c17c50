package bufalloc

import (
	"iter"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/bufalloc/internal/bitset"
	"github.com/hupe1980/bufalloc/internal/freelist"
	"github.com/hupe1980/bufalloc/internal/mmap"
	"github.com/hupe1980/bufalloc/internal/sizeclass"
	"github.com/hupe1980/bufalloc/internal/space"
)

// chunkHome names the container a chunk currently lives in.
type chunkHome uint8

const (
	homeNone chunkHome = iota
	homeMixed
	homeTenured
	homeAvailableMixed
	homeAvailableTenured
	homeMinorSweep
	homeMajorToSweep
)

func (h chunkHome) String() string {
	switch h {
	case homeNone:
		return "none"
	case homeMixed:
		return "mixed"
	case homeTenured:
		return "tenured"
	case homeAvailableMixed:
		return "available-mixed"
	case homeAvailableTenured:
		return "available-tenured"
	case homeMinorSweep:
		return "minor-sweep"
	case homeMajorToSweep:
		return "major-to-sweep"
	default:
		return "unknown"
	}
}

// bufferChunk is a ChunkSize region serving medium allocations and hosting
// small regions.
//
// Chunks whose free regions sit in the allocator's shared lists are "current"
// and live in mixedChunks or tenuredChunks. Chunks that own their free lists
// are either available for allocation, queued for a major sweep or held by a
// background sweep.
type bufferChunk struct {
	link freelist.Link[bufferChunk]

	data   []byte
	medium *space.Space

	regionBits *bitset.Atomic
	regions    [sizeclass.SmallRegionsPerChunk]atomic.Pointer[smallRegion]

	// decommitted holds the indices of pages returned to the OS.
	decommitted *roaring.Bitmap

	freeLists     space.Lists
	ownsFreeLists bool

	allocatedDuringCollection       bool
	hasNurseryOwnedAllocs           bool
	hasNurseryOwnedAllocsAfterSweep bool

	zone int
	home chunkHome
}

// Links implements freelist.Elem.
func (c *bufferChunk) Links() *freelist.Link[bufferChunk] { return &c.link }

type chunkList = freelist.List[bufferChunk, *bufferChunk]

type chunkLists = freelist.Lists[bufferChunk, *bufferChunk]

func newChunk(data []byte, zone int) *bufferChunk {
	return &bufferChunk{
		data:        data,
		medium:      space.NewChunk(mmap.Addr(data)),
		regionBits:  bitset.New(sizeclass.SmallRegionsPerChunk),
		decommitted: roaring.New(),
		zone:        zone,
	}
}

func (c *bufferChunk) base() uintptr { return c.medium.Base() }

// slice returns the n bytes at chunk offset off.
func (c *bufferChunk) slice(off, n int) []byte { return c.data[off : off+n : off+n] }

// smallRegionAt returns the small region covering chunk offset off.
func (c *bufferChunk) smallRegionAt(off int) *smallRegion {
	i := off >> sizeclass.SmallRegionShift
	if !c.regionBits.Test(i) {
		return nil
	}

	return c.regions[i].Load()
}

func (c *bufferChunk) addSmallRegion(off int) *smallRegion {
	i := off >> sizeclass.SmallRegionShift
	r := newSmallRegion(c, off)
	c.regions[i].Store(r)
	c.regionBits.Set(i)

	return r
}

func (c *bufferChunk) removeSmallRegion(r *smallRegion) {
	i := r.off >> sizeclass.SmallRegionShift
	c.regionBits.Unset(i)
	c.regions[i].Store(nil)
}

// smallRegions iterates the chunk's small regions in address order.
func (c *bufferChunk) smallRegions() iter.Seq[*smallRegion] {
	return func(yield func(*smallRegion) bool) {
		for i := c.regionBits.NextSet(0); i >= 0; i = c.regionBits.NextSet(i + 1) {
			r := c.regions[i].Load()
			if r != nil && !yield(r) {
				return
			}
		}
	}
}

// spaceFor returns the space an allocation at chunk offset off lives in,
// together with the offset inside that space.
func (c *bufferChunk) spaceFor(off int) (*space.Space, *smallRegion, int) {
	if r := c.smallRegionAt(off); r != nil {
		return r.space, r, off - r.off
	}

	return c.medium, nil, off
}

// sizeClassForAvailableLists files an owning chunk by the largest class it
// can serve.
func (c *bufferChunk) sizeClassForAvailableLists() int {
	cls := c.freeLists.LastAvailable(0, sizeclass.MaxMediumClass)
	if cls == freelist.None {
		return sizeclass.FullChunkClass
	}

	return cls
}

// computeHasNurseryOwnedAllocs scans the nursery bitmaps.
func (c *bufferChunk) computeHasNurseryOwnedAllocs() bool {
	if c.medium.HasNurseryOwned() {
		return true
	}

	for r := range c.smallRegions() {
		if r.space.HasNurseryOwned() {
			return true
		}
	}

	return false
}

func (c *bufferChunk) clearMarks() {
	c.medium.ClearMarks()

	for r := range c.smallRegions() {
		r.space.ClearMarks()
	}
}

// isEmpty reports whether the chunk holds no allocations. Small regions are
// medium allocations, so a chunk with regions is never empty.
func (c *bufferChunk) isEmpty() bool { return c.medium.IsEmpty() }

// dropFreeRegions forgets every tracked free region of the chunk and its
// small regions. The regions must not be in a list.
func (c *bufferChunk) dropFreeRegions() {
	c.medium.ClearFreeRegions()

	for r := range c.smallRegions() {
		r.space.ClearFreeRegions()
	}
}

// freeRegions iterates every tracked free region of the chunk, medium regions
// first.
func (c *bufferChunk) freeRegions() iter.Seq[*space.FreeRegion] {
	return func(yield func(*space.FreeRegion) bool) {
		for r := range c.medium.FreeRegions() {
			if !yield(r) {
				return
			}
		}

		for sr := range c.smallRegions() {
			for r := range sr.space.FreeRegions() {
				if !yield(r) {
					return
				}
			}
		}
	}
}

// commitRegion recommits every page of a decommitted medium region.
func (c *bufferChunk) commitRegion(pa PageAllocator, r *space.FreeRegion) error {
	if !r.Decommitted {
		return nil
	}

	if err := pa.Commit(c.data[r.Start:r.End]); err != nil {
		return err
	}

	c.decommitted.RemoveRange(uint64(r.Start/sizeclass.PageSize), uint64(r.End/sizeclass.PageSize))
	r.Decommitted = false

	return nil
}

// decommitRegion returns the not yet decommitted pages of a medium region to
// the OS and reports the bytes released.
func (c *bufferChunk) decommitRegion(pa PageAllocator, r *space.FreeRegion) int {
	first, last := r.Start/sizeclass.PageSize, r.End/sizeclass.PageSize

	released := 0
	for p := first; p < last; {
		if c.decommitted.Contains(uint32(p)) {
			p++
			continue
		}

		q := p + 1
		for q < last && !c.decommitted.Contains(uint32(q)) {
			q++
		}

		if err := pa.Decommit(c.data[p*sizeclass.PageSize : q*sizeclass.PageSize]); err == nil {
			c.decommitted.AddRange(uint64(p), uint64(q))
			released += (q - p) * sizeclass.PageSize
		}

		p = q
	}

	r.Decommitted = c.regionDecommitted(r.Start, r.End)

	return released
}

// regionDecommitted reports whether any page of a medium region is
// decommitted.
func (c *bufferChunk) regionDecommitted(start, end int) bool {
	for p := start / sizeclass.PageSize; p < end/sizeclass.PageSize; p++ {
		if c.decommitted.Contains(uint32(p)) {
			return true
		}
	}

	return false
}

func (c *bufferChunk) decommittedBytes() int {
	return int(c.decommitted.GetCardinality()) * sizeclass.PageSize
}
