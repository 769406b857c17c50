package space

import (
	"iter"
	"maps"
	"slices"

	"github.com/hupe1980/bufalloc/internal/freelist"
	"github.com/hupe1980/bufalloc/internal/sizeclass"
)

// FreeRegion is a tracked free span [Start, End) of a space.
type FreeRegion struct {
	link  freelist.Link[FreeRegion]
	space *Space

	Start int
	End   int
	// Decommitted is set when some pages of the region were returned to the
	// OS and must be recommitted before reuse.
	Decommitted bool
}

// Links implements freelist.Elem.
func (r *FreeRegion) Links() *freelist.Link[FreeRegion] { return &r.link }

// Space returns the space the region belongs to.
func (r *FreeRegion) Space() *Space { return r.space }

// Size returns the region size in bytes.
func (r *FreeRegion) Size() int { return r.End - r.Start }

// Class returns the size class the region is filed under.
func (r *FreeRegion) Class() int { return sizeclass.ForFreeRegion(r.Size(), r.space.kind) }

// Addr returns the address of the region start.
func (r *FreeRegion) Addr() uintptr { return r.space.Addr(r.Start) }

// InList reports whether the region is currently filed in a free list.
func (r *FreeRegion) InList() bool { return r.link.Linked() }

// List is a plain list of free regions.
type List = freelist.List[FreeRegion, *FreeRegion]

// Lists is a size-class indexed array of free region lists.
type Lists = freelist.Lists[FreeRegion, *FreeRegion]

// Track records [start, end) as a free region. Spans smaller than
// MinFreeRegionSize are not tracked and nil is returned.
func (s *Space) Track(start, end int) *FreeRegion {
	if end-start < sizeclass.MinFreeRegionSize {
		return nil
	}

	r := &FreeRegion{space: s, Start: start, End: end}
	s.regions[start] = r

	return r
}

// RegionAt returns the free region starting at off, or nil.
func (s *Space) RegionAt(off int) *FreeRegion { return s.regions[off] }

// Untrack forgets r. r must not be in a free list.
func (s *Space) Untrack(r *FreeRegion) {
	if s.regions[r.Start] == r {
		delete(s.regions, r.Start)
	}
}

// Resize moves the bounds of r. It returns false and untracks r when the new
// span is too small to be tracked; r must not be in a free list then.
func (s *Space) Resize(r *FreeRegion, start, end int) bool {
	if s.regions[r.Start] == r {
		delete(s.regions, r.Start)
	}

	r.Start, r.End = start, end
	if end-start < sizeclass.MinFreeRegionSize {
		return false
	}

	s.regions[start] = r

	return true
}

// FreeRegionCount returns the number of tracked free regions.
func (s *Space) FreeRegionCount() int { return len(s.regions) }

// FreeBytes returns the bytes covered by tracked free regions.
func (s *Space) FreeBytes() int {
	n := 0
	for _, r := range s.regions {
		n += r.Size()
	}

	return n
}

// FreeRegions iterates tracked regions in address order.
func (s *Space) FreeRegions() iter.Seq[*FreeRegion] {
	return func(yield func(*FreeRegion) bool) {
		for _, off := range slices.Sorted(maps.Keys(s.regions)) {
			r := s.regions[off]
			if r == nil {
				continue
			}

			if !yield(r) {
				return
			}
		}
	}
}

// ClearFreeRegions forgets every tracked region. The regions must have been
// removed from their free lists.
func (s *Space) ClearFreeRegions() { clear(s.regions) }
