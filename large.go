package bufalloc

import (
	"context"
	"fmt"

	"github.com/hupe1980/bufalloc/internal/freelist"
	"github.com/hupe1980/bufalloc/internal/mmap"
	"github.com/hupe1980/bufalloc/internal/sizeclass"
	"github.com/hupe1980/bufalloc/internal/space"
)

// largeMetaSize is the size of the small allocation that carries the mark
// and nursery bits of a large buffer.
const largeMetaSize = 64

// maxLargeAllocSize bounds large requests so rounding cannot overflow.
const maxLargeAllocSize = 1 << 46

type largeHome uint8

const (
	largeHomeNone largeHome = iota
	largeHomeNursery
	largeHomeNurseryToSweep
	largeHomeTenured
	largeHomeTenuredToSweep
	largeHomeSweeping
)

// largeBuffer is a buffer mapped directly from the page allocator in
// ChunkSize multiples. Its address is chunk aligned.
type largeBuffer struct {
	link freelist.Link[largeBuffer]

	base Ptr
	data []byte

	isNurseryOwned            bool
	allocatedDuringCollection bool

	meta      Ptr
	metaChunk *bufferChunk
	metaSpace *space.Space
	metaOff   int

	home largeHome
}

// Links implements freelist.Elem.
func (b *largeBuffer) Links() *freelist.Link[largeBuffer] { return &b.link }

type largeList = freelist.List[largeBuffer, *largeBuffer]

func (b *largeBuffer) addr() Ptr { return b.base }

func (b *largeBuffer) allocBytes() int { return len(b.data) }

func (b *largeBuffer) isMarked() bool { return b.metaSpace.IsMarked(b.metaOff) }

func (b *largeBuffer) setMarked() bool { return b.metaSpace.SetMarked(b.metaOff) }

func (b *largeBuffer) setUnmarked() { b.metaSpace.SetUnmarked(b.metaOff) }

func (b *largeBuffer) setNurseryOwned(v bool) {
	b.isNurseryOwned = v
	b.metaSpace.SetNurseryOwned(b.metaOff, v)
}

func (a *Allocator) largeList(h largeHome) *largeList {
	switch h {
	case largeHomeNursery:
		return &a.largeNursery
	case largeHomeNurseryToSweep:
		return &a.largeNurseryToSweep
	case largeHomeTenured:
		return &a.largeTenured
	case largeHomeTenuredToSweep:
		return &a.largeTenuredToSweep
	default:
		return nil
	}
}

func (a *Allocator) moveLarge(b *largeBuffer, to largeHome) {
	if l := a.largeList(b.home); l != nil {
		l.Remove(b)
	}

	b.home = to
	if l := a.largeList(to); l != nil {
		l.PushBack(b)
	}
}

func (a *Allocator) lookupLarge(p Ptr) *largeBuffer {
	a.largeMu.Lock()
	defer a.largeMu.Unlock()

	return a.large[p]
}

func (a *Allocator) allocLarge(ctx context.Context, bytes int, nurseryOwned, stall bool) (Ptr, error) {
	if bytes > maxLargeAllocSize {
		return Null, ErrInvalidSize
	}

	bytes = sizeclass.GoodAllocSize(bytes)

	meta, err := a.allocSmall(ctx, largeMetaSize, nurseryOwned, stall)
	if err != nil {
		return Null, err
	}

	data, err := a.pa.MapAligned(ctx, bytes, sizeclass.ChunkSize, stall)
	if err != nil {
		a.free(meta)
		return Null, fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	}

	chunk := a.chunkFor(meta)
	sp, _, off := chunk.spaceFor(meta.chunkOffset())

	b := &largeBuffer{
		base:                      Ptr(mmap.Addr(data)),
		data:                      data,
		isNurseryOwned:            nurseryOwned,
		allocatedDuringCollection: a.state.majorMarking(),
		meta:                      meta,
		metaChunk:                 chunk,
		metaSpace:                 sp,
		metaOff:                   off,
	}

	p := b.addr()

	a.largeMu.Lock()
	a.large[p] = b
	a.largeMu.Unlock()

	if nurseryOwned {
		a.moveLarge(b, largeHomeNursery)
	} else {
		a.moveLarge(b, largeHomeTenured)
		a.heap.AddBytes(bytes, true)
	}

	a.counters.largeMapped.Add(1)
	a.metrics.RecordLargeAlloc(bytes)

	return p, nil
}

// freeLarge frees b unless a sweep currently owns it.
func (a *Allocator) freeLarge(b *largeBuffer) bool {
	if b.home == largeHomeSweeping {
		return false
	}

	a.moveLarge(b, largeHomeNone)
	a.unregisterLarge(b)

	if !b.isNurseryOwned {
		a.heap.RemoveBytes(b.allocBytes(), false)
	}

	a.unmapLarge(b)
	a.free(b.meta)

	return true
}

func (a *Allocator) unregisterLarge(b *largeBuffer) {
	a.largeMu.Lock()
	delete(a.large, b.addr())
	a.largeMu.Unlock()
}

// unmapLarge is safe to call from a sweep.
func (a *Allocator) unmapLarge(b *largeBuffer) {
	n := b.allocBytes()
	if err := a.pa.Unmap(b.data); err != nil {
		a.logger.WarnContext(context.Background(), "unmap large buffer failed", "bytes", n, "error", err)
	}

	a.counters.largeUnmapped.Add(1)
	a.metrics.RecordLargeFree(n)
}

// shrinkLarge releases the tail pages of b. It fails where a mapping cannot
// be partially unmapped.
func (a *Allocator) shrinkLarge(b *largeBuffer, newBytes int) bool {
	if b.home == largeHomeSweeping {
		return false
	}

	if err := a.pa.UnmapTail(b.data, newBytes); err != nil {
		return false
	}

	delta := b.allocBytes() - newBytes
	b.data = b.data[:newBytes:newBytes]

	if !b.isNurseryOwned {
		a.heap.RemoveBytes(delta, false)
	}

	return true
}
