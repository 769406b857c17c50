package bufalloc

import (
	"errors"
	"fmt"

	"github.com/hupe1980/bufalloc/internal/sizeclass"
	"github.com/hupe1980/bufalloc/internal/space"
)

// Verify checks the heap structures the owner controls: the allocation
// bitmaps, the free-region tables against the gaps between allocations,
// free list membership and the nursery flags of every chunk and large
// buffer. It returns every violation found, joined.
func (a *Allocator) Verify() error {
	a.mergeSweptData()

	v := &verifier{}

	current := 0

	for home, c := range a.ownedChunks() {
		v.chunk(a, home, c)

		if !c.ownsFreeLists {
			for range c.freeRegions() {
				current++
			}
		}
	}

	for cls, r := range a.freeLists.All() {
		c := a.regionChunk(r)

		switch {
		case c == nil:
			v.fail(r.Addr(), "shared free region outside any chunk")
		case c.ownsFreeLists:
			v.fail(c.base(), "shared free region of a chunk owning its lists")
		case cls != r.Class():
			v.failf(r.Addr(), "free region of class %d filed under %d", r.Class(), cls)
		case r.Space().RegionAt(r.Start) != r:
			v.fail(r.Addr(), "listed free region is not tracked")
		}
	}

	if n := a.freeLists.Count(); n != current {
		v.failf(0, "%d shared free regions for %d tracked in current chunks", n, current)
	}

	a.largeMu.Lock()
	for p, b := range a.large {
		v.large(p, b)
	}
	a.largeMu.Unlock()

	return errors.Join(v.errs...)
}

type verifier struct {
	errs []error
}

func (v *verifier) fail(addr uintptr, msg string) {
	v.errs = append(v.errs, &InvariantError{Addr: addr, Msg: msg})
}

func (v *verifier) failf(addr uintptr, format string, args ...any) {
	v.fail(addr, fmt.Sprintf(format, args...))
}

func (v *verifier) chunk(a *Allocator, home chunkHome, c *bufferChunk) {
	base := c.base()

	if c.home != home {
		v.failf(base, "chunk in %s list has home %s", home, c.home)
	}

	if a.chunks[base] != c {
		v.fail(base, "chunk not registered")
	}

	if c.zone != a.zone {
		v.failf(base, "chunk of zone %d in zone %d", c.zone, a.zone)
	}

	isCurrent := home == homeMixed || home == homeTenured
	if c.ownsFreeLists == isCurrent {
		v.failf(base, "%s chunk has ownsFreeLists=%t", home, c.ownsFreeLists)
	}

	if !c.ownsFreeLists && !c.freeLists.IsEmpty() {
		v.fail(base, "current chunk holds private free regions")
	}

	if c.computeHasNurseryOwnedAllocs() && !c.hasNurseryOwnedAllocs {
		v.fail(base, "nursery allocations in a chunk not flagged mixed")
	}

	if (home == homeMixed || home == homeAvailableMixed) != c.hasNurseryOwnedAllocs {
		v.failf(base, "%s chunk has hasNurseryOwnedAllocs=%t", home, c.hasNurseryOwnedAllocs)
	}

	if c.ownsFreeLists {
		tracked := 0
		for range c.freeRegions() {
			tracked++
		}

		if n := c.freeLists.Count(); n != tracked {
			v.failf(base, "%d listed free regions for %d tracked", n, tracked)
		}
	}

	if (home == homeAvailableMixed || home == homeAvailableTenured) && c.link.Class() != c.sizeClassForAvailableLists() {
		v.failf(base, "available chunk filed under class %d, serves %d", c.link.Class(), c.sizeClassForAvailableLists())
	}

	v.space(c.medium)

	for r := range c.smallRegions() {
		if r.off%sizeclass.SmallRegionSize != 0 {
			v.failf(base, "small region at unaligned offset %d", r.off)
		}

		if !c.medium.IsAllocated(r.off) || c.medium.AllocBytes(r.off) != sizeclass.SmallRegionSize {
			v.failf(base, "small region at %d is not a %d byte allocation", r.off, sizeclass.SmallRegionSize)
		}

		v.space(r.space)
	}
}

func (v *verifier) space(sp *space.Space) {
	tracked := 0

	for start, end := range sp.Gaps() {
		r := sp.RegionAt(start)

		if end-start < sizeclass.MinFreeRegionSize {
			if r != nil {
				v.failf(sp.Addr(start), "tracked free region of %d bytes", r.Size())
			}

			continue
		}

		switch {
		case r == nil:
			v.failf(sp.Addr(start), "untracked gap of %d bytes", end-start)
			continue
		case r.End != end:
			v.failf(sp.Addr(start), "free region ends at %d, gap at %d", r.End, end)
		case !r.InList():
			v.fail(sp.Addr(start), "free region in no list")
		case r.Links().Class() != r.Class():
			v.failf(sp.Addr(start), "free region of class %d filed under %d", r.Class(), r.Links().Class())
		}

		tracked++
	}

	if n := sp.FreeRegionCount(); n != tracked {
		v.failf(sp.Base(), "%d free regions tracked for %d gaps", n, tracked)
	}

	for off, bytes := range sp.Allocs() {
		if off < sp.Lo() || off+bytes > sp.Size() || !sp.Aligned(off) {
			v.failf(sp.Addr(off), "allocation [%d, %d) outside the space", off, off+bytes)
		}
	}
}

func (v *verifier) large(p Ptr, b *largeBuffer) {
	addr := uintptr(p)

	if b.addr() != p {
		v.fail(addr, "large buffer registered under a different address")
	}

	if !p.isLarge() {
		v.fail(addr, "large buffer is not chunk aligned")
	}

	if b.home == largeHomeSweeping {
		return
	}

	if !b.link.Linked() {
		v.failf(addr, "large buffer with home %d in no list", b.home)
	}

	if !b.metaSpace.IsAllocated(b.metaOff) {
		v.fail(addr, "large buffer metadata not allocated")
		return
	}

	if b.metaSpace.IsNurseryOwned(b.metaOff) != b.isNurseryOwned {
		v.fail(addr, "large buffer metadata disagrees on nursery ownership")
	}

	nurseryHome := b.home == largeHomeNursery || b.home == largeHomeNurseryToSweep
	if nurseryHome != b.isNurseryOwned {
		v.failf(addr, "large buffer with nursery=%t in home %d", b.isNurseryOwned, b.home)
	}
}
