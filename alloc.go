package bufalloc

import (
	"context"
	"fmt"

	"github.com/hupe1980/bufalloc/internal/bitset"
	"github.com/hupe1980/bufalloc/internal/freelist"
	"github.com/hupe1980/bufalloc/internal/sizeclass"
	"github.com/hupe1980/bufalloc/internal/space"
)

func (a *Allocator) allocSmall(ctx context.Context, bytes int, nurseryOwned, stall bool) (Ptr, error) {
	bytes = sizeclass.GoodAllocSize(bytes)
	class := sizeclass.ForSmallAlloc(bytes)

	p, err := a.allocWithRefill(ctx, sizeclass.Small, bytes, class, sizeclass.MaxSmallClass, stall)
	if err != nil {
		return Null, err
	}

	chunk := a.chunkFor(p)
	region := chunk.smallRegionAt(p.chunkOffset())
	debugAssert(region != nil, "small allocation %#x outside a small region", uintptr(p))

	region.space.SetAllocated(p.chunkOffset()-region.off, bytes, nurseryOwned)

	if nurseryOwned {
		region.hasNurseryOwnedAllocs = true
		a.noteNurseryAlloc(chunk)
	}

	return p, nil
}

func (a *Allocator) allocMedium(ctx context.Context, bytes int, nurseryOwned, stall bool) (Ptr, error) {
	bytes = sizeclass.GoodAllocSize(bytes)
	class := sizeclass.ForMediumAlloc(bytes)

	p, err := a.allocWithRefill(ctx, sizeclass.Medium, bytes, class, sizeclass.MaxMediumClass, stall)
	if err != nil {
		return Null, err
	}

	chunk := a.chunkFor(p)
	chunk.medium.SetAllocated(p.chunkOffset(), bytes, nurseryOwned)

	if nurseryOwned {
		a.noteNurseryAlloc(chunk)
	} else {
		a.heap.AddBytes(bytes, true)
	}

	return p, nil
}

func (a *Allocator) allocWithRefill(ctx context.Context, kind sizeclass.Kind, bytes, class, maxClass int, stall bool) (Ptr, error) {
	p, err := a.bumpAlloc(bytes, class, maxClass)
	if p != Null || err != nil {
		return p, err
	}

	if err := a.refill(ctx, kind, class, maxClass, stall); err != nil {
		return Null, err
	}

	p, err = a.bumpAlloc(bytes, class, maxClass)
	if p == Null && err == nil {
		err = ErrOutOfMemory
	}

	return p, err
}

// allocMediumAligned allocates a tenured medium buffer aligned to its size.
func (a *Allocator) allocMediumAligned(ctx context.Context, bytes int, stall bool) (Ptr, error) {
	debugAssert(bytes <= sizeclass.MaxAlignedAllocSize && bytes&(bytes-1) == 0, "bad aligned size %d", bytes)

	class := sizeclass.ForMediumAlloc(bytes)

	p, err := a.alignedAlloc(bytes, class)
	if err != nil {
		return Null, err
	}

	if p == Null {
		if err := a.refill(ctx, sizeclass.Medium, class+1, sizeclass.MaxMediumClass, stall); err != nil {
			return Null, err
		}

		if p, err = a.alignedAlloc(bytes, class); err != nil {
			return Null, err
		}

		if p == Null {
			return Null, ErrOutOfMemory
		}
	}

	a.chunkFor(p).medium.SetAllocated(p.chunkOffset(), bytes, false)
	a.heap.AddBytes(bytes, true)

	return p, nil
}

// bumpAlloc carves bytes from the head of the first region of the smallest
// available class in [class, maxClass]. It returns Null when the shared lists
// cannot serve the request.
func (a *Allocator) bumpAlloc(bytes, class, maxClass int) (Ptr, error) {
	c := a.freeLists.FirstAvailable(class, maxClass)
	if c == freelist.None {
		return Null, nil
	}

	r := a.freeLists.First(c)
	if err := a.regionChunk(r).commitRegion(a.pa, r); err != nil {
		return Null, fmt.Errorf("%w: commit: %w", ErrOutOfMemory, err)
	}

	p := Ptr(r.Addr())
	a.updateFreeListsAfterAlloc(&a.freeLists, r, r.Start+bytes)

	return p, nil
}

// alignedAlloc allocates bytes aligned to bytes. A region of the requested
// class may be too misaligned; any region of the next class up is large
// enough to contain an aligned block.
func (a *Allocator) alignedAlloc(bytes, class int) (Ptr, error) {
	c := a.freeLists.FirstAvailable(class, sizeclass.MaxMediumClass)
	if c == freelist.None {
		return Null, nil
	}

	p, err := a.tryAlignedAlloc(a.freeLists.First(c), bytes)
	if p != Null || err != nil || c >= sizeclass.MaxMediumClass {
		return p, err
	}

	c = a.freeLists.FirstAvailable(c+1, sizeclass.MaxMediumClass)
	if c == freelist.None {
		return Null, nil
	}

	return a.tryAlignedAlloc(a.freeLists.First(c), bytes)
}

func (a *Allocator) tryAlignedAlloc(r *space.FreeRegion, bytes int) (Ptr, error) {
	start := sizeclass.RoundUp(r.Start, bytes)
	if start+bytes > r.End {
		return Null, nil
	}

	if err := a.regionChunk(r).commitRegion(a.pa, r); err != nil {
		return Null, fmt.Errorf("%w: commit: %w", ErrOutOfMemory, err)
	}

	sp, end := r.Space(), r.End
	if start == r.Start {
		a.updateFreeListsAfterAlloc(&a.freeLists, r, start+bytes)
		return Ptr(sp.Addr(start)), nil
	}

	// The region keeps the alignment prefix and moves to the back; the
	// suffix becomes a new region.
	a.freeLists.Remove(r)
	if sp.Resize(r, r.Start, start) {
		a.freeLists.PushBack(r.Class(), r)
	}

	if s := sp.Track(start+bytes, end); s != nil {
		a.freeLists.PushFront(s.Class(), s)
	}

	return Ptr(sp.Addr(start)), nil
}

// updateFreeListsAfterAlloc moves the start of r after an allocation from its
// head, re-filing r by its new class or dropping it when it falls below the
// minimum region size.
func (a *Allocator) updateFreeListsAfterAlloc(lists *space.Lists, r *space.FreeRegion, newStart int) {
	lists.Remove(r)
	if r.Space().Resize(r, newStart, r.End) {
		lists.PushFront(r.Class(), r)
	}
}

// refill makes the shared free lists able to serve class. It adopts available
// chunks first, then merges pending sweep results and finally grows the heap.
func (a *Allocator) refill(ctx context.Context, kind sizeclass.Kind, class, maxClass int, stall bool) error {
	if a.useAvailableChunk(class, maxClass) {
		return nil
	}

	if a.hasSweptData() {
		a.mergeSweptData()

		if a.useAvailableChunk(class, maxClass) {
			return nil
		}
	}

	if kind == sizeclass.Small {
		return a.allocNewSmallRegion(ctx, stall)
	}

	return a.allocNewChunk(ctx, stall)
}

func (a *Allocator) useAvailableChunk(class, maxClass int) bool {
	return a.useAvailableChunkFrom(&a.availableMixed, &a.mixedChunks, homeMixed, class, maxClass) ||
		a.useAvailableChunkFrom(&a.availableTenured, &a.tenuredChunks, homeTenured, class, maxClass)
}

// useAvailableChunkFrom makes available chunks current, one per missing
// class in ascending order, until a chunk that can serve class arrives.
func (a *Allocator) useAvailableChunkFrom(src *chunkLists, dst *chunkList, home chunkHome, class, maxClass int) bool {
	mask := src.Available().Below(maxClass) &^ a.freeLists.Available()

	for i := mask.Next(0); i != bitset.None; i = mask.Next(i + 1) {
		chunk := src.PopFirst(i)
		a.makeCurrent(chunk, dst, home)

		if i >= class {
			return true
		}
	}

	return false
}

// makeCurrent hands the free lists of an owning chunk to the shared lists.
func (a *Allocator) makeCurrent(c *bufferChunk, dst *chunkList, home chunkHome) {
	a.freeLists.Append(&c.freeLists)
	c.ownsFreeLists = false
	c.home = home
	dst.PushBack(c)
}

func (a *Allocator) allocNewChunk(ctx context.Context, stall bool) error {
	data, err := a.pa.AllocChunk(ctx, stall)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	}

	c := newChunk(data, a.zone)
	c.allocatedDuringCollection = a.state.majorMarking()
	a.chunks[c.base()] = c

	c.home = homeTenured
	a.tenuredChunks.PushBack(c)

	r := c.medium.Track(sizeclass.FirstMediumAllocOffset, sizeclass.ChunkSize)
	a.freeLists.PushFront(r.Class(), r)

	a.counters.chunksAllocated.Add(1)
	a.metrics.RecordChunkAlloc()
	a.logger.LogChunkAlloc(ctx, c.base(), len(a.chunks))

	return nil
}

func (a *Allocator) allocNewSmallRegion(ctx context.Context, stall bool) error {
	p, err := a.allocMediumAligned(ctx, sizeclass.SmallRegionSize, stall)
	if err != nil {
		return err
	}

	chunk := a.chunkFor(p)
	region := chunk.addSmallRegion(p.chunkOffset())

	r := region.space.Track(sizeclass.FirstSmallAllocOffset, sizeclass.SmallRegionSize)
	a.listsFor(chunk).PushFront(r.Class(), r)

	return nil
}

// noteNurseryAlloc moves a current tenured chunk to the mixed chunks on its
// first nursery-owned allocation.
func (a *Allocator) noteNurseryAlloc(c *bufferChunk) {
	if c.hasNurseryOwnedAllocs {
		return
	}

	c.hasNurseryOwnedAllocs = true

	if c.home == homeTenured {
		a.tenuredChunks.Remove(c)
		c.home = homeMixed
		a.mixedChunks.PushBack(c)
	}
}

func (a *Allocator) markNurseryOwned(p Ptr) {
	if p.isLarge() {
		if b := a.lookupLarge(p); b != nil {
			b.setMarked()
		}

		return
	}

	if sp, off, ok := a.lookupSmallOrMedium(p); ok {
		sp.SetMarked(off)
	}
}

// regionChunk returns the chunk a free region belongs to.
func (a *Allocator) regionChunk(r *space.FreeRegion) *bufferChunk {
	return a.chunks[r.Space().Base()&^uintptr(sizeclass.ChunkMask)]
}

// listsFor returns the lists holding the free regions of c.
func (a *Allocator) listsFor(c *bufferChunk) *space.Lists {
	if c.ownsFreeLists {
		return &c.freeLists
	}

	return &a.freeLists
}
