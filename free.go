package bufalloc

import (
	"context"

	"github.com/hupe1980/bufalloc/internal/space"
)

// isSweeping reports whether a background sweep currently owns c.
func (a *Allocator) isSweeping(c *bufferChunk) bool {
	return c.home == homeMinorSweep || (c.home == homeMajorToSweep && a.state.majorSweeping())
}

func (a *Allocator) freeMedium(c *bufferChunk, off int) bool {
	if a.isSweeping(c) {
		return false
	}

	nurseryOwned := c.medium.IsNurseryOwned(off)
	bytes := c.medium.SetDeallocated(off)

	if !nurseryOwned {
		a.heap.RemoveBytes(bytes, false)
	}

	a.reclaim(c, c.medium, off, off+bytes)

	if c.isEmpty() {
		a.releaseChunk(c)
		return true
	}

	a.refileAvailable(c)

	return true
}

func (a *Allocator) freeSmall(c *bufferChunk, region *smallRegion, off int) bool {
	if a.isSweeping(c) {
		return false
	}

	bytes := region.space.SetDeallocated(off)
	a.reclaim(c, region.space, off, off+bytes)
	a.refileAvailable(c)

	return true
}

func (a *Allocator) growMedium(c *bufferChunk, off, oldBytes, newBytes int) bool {
	if a.isSweeping(c) {
		return false
	}

	r := c.medium.RegionAt(off + oldBytes)
	if r == nil || r.End < off+newBytes {
		return false
	}

	if err := c.commitRegion(a.pa, r); err != nil {
		return false
	}

	lists := a.listsFor(c)
	lists.Remove(r)

	if c.medium.Resize(r, off+newBytes, r.End) {
		lists.PushFront(r.Class(), r)
	}

	c.medium.UpdateEnd(off, oldBytes, newBytes)

	if !c.medium.IsNurseryOwned(off) {
		a.heap.AddBytes(newBytes-oldBytes, true)
	}

	a.refileAvailable(c)

	return true
}

func (a *Allocator) shrinkMedium(c *bufferChunk, off, oldBytes, newBytes int) bool {
	if a.isSweeping(c) {
		return false
	}

	c.medium.UpdateEnd(off, oldBytes, newBytes)

	if !c.medium.IsNurseryOwned(off) {
		a.heap.RemoveBytes(oldBytes-newBytes, false)
	}

	a.reclaim(c, c.medium, off+newBytes, off+oldBytes)
	a.refileAvailable(c)

	return true
}

// reclaim turns the freed span [from, to) into free space. The whole gap
// around it is coalesced into one region filed at the front of its class.
func (a *Allocator) reclaim(c *bufferChunk, sp *space.Space, from, to int) {
	lists := a.listsFor(c)
	start, end := sp.GapAround(from, to)

	for _, off := range [...]int{start, to} {
		if r := sp.RegionAt(off); r != nil {
			if r.InList() {
				lists.Remove(r)
			}

			sp.Untrack(r)
		}
	}

	r := sp.Track(start, end)
	if r == nil {
		return
	}

	if sp == c.medium && !c.decommitted.IsEmpty() {
		r.Decommitted = c.regionDecommitted(start, end)
	}

	lists.PushFront(r.Class(), r)
}

// refileAvailable re-files an available chunk after its largest free class
// changed.
func (a *Allocator) refileAvailable(c *bufferChunk) {
	var lists *chunkLists

	switch c.home {
	case homeAvailableMixed:
		lists = &a.availableMixed
	case homeAvailableTenured:
		lists = &a.availableTenured
	default:
		return
	}

	if cls := c.sizeClassForAvailableLists(); cls != c.link.Class() {
		lists.Remove(c)
		lists.PushBack(cls, c)
	}
}

// removeFromHome unlinks c from the container it lives in.
func (a *Allocator) removeFromHome(c *bufferChunk) {
	switch c.home {
	case homeMixed:
		a.mixedChunks.Remove(c)
	case homeTenured:
		a.tenuredChunks.Remove(c)
	case homeAvailableMixed:
		a.availableMixed.Remove(c)
	case homeAvailableTenured:
		a.availableTenured.Remove(c)
	case homeMajorToSweep:
		a.tenuredToSweep.Remove(c)
	}

	c.home = homeNone
}

// releaseChunk returns an empty chunk owned by the main thread to the page
// allocator.
func (a *Allocator) releaseChunk(c *bufferChunk) {
	lists := a.listsFor(c)
	for r := range c.freeRegions() {
		if r.InList() {
			lists.Remove(r)
		}
	}

	c.dropFreeRegions()
	a.removeFromHome(c)
	a.unregisterChunk(c)
	a.pa.RecycleChunk(c.data)
	a.noteChunkRelease(c, false)
}

func (a *Allocator) unregisterChunk(c *bufferChunk) {
	if a.chunks[c.base()] == c {
		delete(a.chunks, c.base())
	}
}

// noteChunkRelease is safe to call from a sweep.
func (a *Allocator) noteChunkRelease(c *bufferChunk, swept bool) {
	a.counters.chunksReleased.Add(1)
	a.metrics.RecordChunkRelease()
	a.logger.LogChunkRelease(context.Background(), c.base(), swept)
}
