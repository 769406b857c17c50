// Package space implements the bitmap-addressed allocation spaces that back
// chunks and small regions.
//
// A Space covers [Base, Base+Size) at a fixed granularity. Allocations are
// recorded in a start bitmap and an end bitmap; the end bit of an allocation
// that reaches the end of the space is implicit. Free spans are derived from
// the bitmaps, and spans large enough to be reused are tracked as FreeRegion
// records keyed by their start offset.
//
// All bitmaps are atomic so that a background sweeper and the owning thread
// can read allocation state concurrently. The free region table is owned by
// whichever thread currently owns the space.
package space

import (
	"iter"

	"github.com/hupe1980/bufalloc/internal/bitset"
	"github.com/hupe1980/bufalloc/internal/sizeclass"
)

// Space is a bitmap-addressed allocation space.
type Space struct {
	base  uintptr
	size  int
	shift uint
	lo    int
	kind  sizeclass.Kind

	start   *bitset.Atomic
	end     *bitset.Atomic
	nursery *bitset.Atomic
	mark    *bitset.Atomic

	regions map[int]*FreeRegion
}

// New creates a space of size bytes at base with granularity 1<<shift.
// Offsets below lo are reserved and never allocated or freed.
func New(base uintptr, size int, shift uint, lo int, kind sizeclass.Kind) *Space {
	n := size >> shift

	return &Space{
		base:    base,
		size:    size,
		shift:   shift,
		lo:      lo,
		kind:    kind,
		start:   bitset.New(n),
		end:     bitset.New(n),
		nursery: bitset.New(n),
		mark:    bitset.New(n),
		regions: make(map[int]*FreeRegion),
	}
}

// NewChunk creates the medium space of a chunk at base.
func NewChunk(base uintptr) *Space {
	return New(base, sizeclass.ChunkSize, sizeclass.MinMediumAllocShift, sizeclass.FirstMediumAllocOffset, sizeclass.Medium)
}

// NewSmallRegion creates the space of a small region at base.
func NewSmallRegion(base uintptr) *Space {
	return New(base, sizeclass.SmallRegionSize, sizeclass.MinSmallAllocShift, sizeclass.FirstSmallAllocOffset, sizeclass.Small)
}

// Base returns the address of offset 0.
func (s *Space) Base() uintptr { return s.base }

// Size returns the size of the space in bytes.
func (s *Space) Size() int { return s.size }

// Lo returns the first usable offset.
func (s *Space) Lo() int { return s.lo }

// Kind returns the tier served by the space.
func (s *Space) Kind() sizeclass.Kind { return s.kind }

// Granularity returns the allocation granularity.
func (s *Space) Granularity() int { return 1 << s.shift }

// Addr converts an offset to an address.
func (s *Space) Addr(off int) uintptr { return s.base + uintptr(off) }

// Offset converts an address inside the space to an offset.
func (s *Space) Offset(addr uintptr) int { return int(addr - s.base) }

// Contains reports whether addr lies inside the space.
func (s *Space) Contains(addr uintptr) bool {
	return addr >= s.base && addr < s.base+uintptr(s.size)
}

// Aligned reports whether off is a multiple of the granularity.
func (s *Space) Aligned(off int) bool { return off&(1<<s.shift-1) == 0 }

func (s *Space) bit(off int) int { return off >> s.shift }

// SetAllocated records an allocation of bytes at off.
func (s *Space) SetAllocated(off, bytes int, nurseryOwned bool) {
	s.start.Set(s.bit(off))
	s.setEnd(off + bytes)
	s.nursery.SetTo(s.bit(off), nurseryOwned)
	s.mark.Unset(s.bit(off))
}

func (s *Space) setEnd(end int) {
	if end < s.size {
		s.end.Set(s.bit(end))
	}
}

func (s *Space) clearEnd(end int) {
	if end < s.size {
		s.end.Unset(s.bit(end))
	}
}

// SetDeallocated removes the allocation at off and returns its size.
func (s *Space) SetDeallocated(off int) int {
	bytes := s.AllocBytes(off)
	s.clearEnd(off + bytes)
	s.start.Unset(s.bit(off))
	s.nursery.Unset(s.bit(off))
	s.mark.Unset(s.bit(off))

	return bytes
}

// UpdateEnd moves the end of the allocation at off from oldBytes to newBytes.
func (s *Space) UpdateEnd(off, oldBytes, newBytes int) {
	s.clearEnd(off + oldBytes)
	s.setEnd(off + newBytes)
}

// IsAllocated reports whether an allocation starts at off.
func (s *Space) IsAllocated(off int) bool { return s.start.Test(s.bit(off)) }

// AllocBytes returns the size of the allocation starting at off.
func (s *Space) AllocBytes(off int) int {
	e := s.end.NextSet(s.bit(off) + 1)
	if e < 0 {
		return s.size - off
	}

	return e<<s.shift - off
}

// IsNurseryOwned reports whether the allocation at off is nursery owned.
func (s *Space) IsNurseryOwned(off int) bool { return s.nursery.Test(s.bit(off)) }

// SetNurseryOwned sets the nursery bit of the allocation at off.
func (s *Space) SetNurseryOwned(off int, v bool) { s.nursery.SetTo(s.bit(off), v) }

// HasNurseryOwned reports whether any allocation is nursery owned.
func (s *Space) HasNurseryOwned() bool { return !s.nursery.IsEmpty() }

// SetMarked marks the allocation at off and reports whether this call set
// the mark.
func (s *Space) SetMarked(off int) bool { return !s.mark.TestAndSet(s.bit(off)) }

// SetUnmarked clears the mark of the allocation at off.
func (s *Space) SetUnmarked(off int) { s.mark.Unset(s.bit(off)) }

// IsMarked reports whether the allocation at off is marked.
func (s *Space) IsMarked(off int) bool { return s.mark.Test(s.bit(off)) }

// ClearMarks clears every mark bit.
func (s *Space) ClearMarks() { s.mark.ClearAll() }

// HasMarks reports whether any mark bit is set.
func (s *Space) HasMarks() bool { return !s.mark.IsEmpty() }

// NextAllocated returns the offset of the first allocation at or after off,
// or -1.
func (s *Space) NextAllocated(off int) int {
	i := s.start.NextSet(s.bit(off + 1<<s.shift - 1))
	if i < 0 {
		return -1
	}

	return i << s.shift
}

// PrevAllocated returns the offset of the last allocation starting before
// off, or -1.
func (s *Space) PrevAllocated(off int) int {
	if off <= 0 {
		return -1
	}

	i := s.start.PrevSet(s.bit(off - 1))
	if i < 0 {
		return -1
	}

	return i << s.shift
}

// Allocs iterates allocations in address order as (offset, bytes).
func (s *Space) Allocs() iter.Seq2[int, int] {
	return func(yield func(int, int) bool) {
		for i := s.start.NextSet(0); i >= 0; {
			off := i << s.shift
			bytes := s.AllocBytes(off)

			if !yield(off, bytes) {
				return
			}

			i = s.start.NextSet(s.bit(off + bytes))
		}
	}
}

// IsEmpty reports whether the space holds no allocations.
func (s *Space) IsEmpty() bool { return s.start.IsEmpty() }

// AllocCount returns the number of allocations.
func (s *Space) AllocCount() int { return s.start.Count() }

// AllocatedBytes returns the sum of all allocation sizes.
func (s *Space) AllocatedBytes() int {
	n := 0
	for _, bytes := range s.Allocs() {
		n += bytes
	}

	return n
}

// GapAround returns the free span containing [from, to), which must hold no
// allocations: it extends back to the end of the previous allocation and
// forward to the start of the next one.
func (s *Space) GapAround(from, to int) (start, end int) {
	start = s.lo
	if p := s.PrevAllocated(from); p >= 0 {
		start = max(p+s.AllocBytes(p), s.lo)
	}

	end = s.size
	if n := s.NextAllocated(to); n >= 0 {
		end = n
	}

	return start, end
}

// Gaps iterates the free spans between allocations as (start, end). Empty
// spans are skipped.
func (s *Space) Gaps() iter.Seq2[int, int] {
	return func(yield func(int, int) bool) {
		prev := s.lo
		for off, bytes := range s.Allocs() {
			if off > prev && !yield(prev, off) {
				return
			}

			prev = off + bytes
		}

		if prev < s.size {
			yield(prev, s.size)
		}
	}
}
