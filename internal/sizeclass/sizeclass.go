// Package sizeclass defines the allocation tiers, the chunk geometry and the
// mapping between byte counts and free-list size classes.
//
// # Tiers
//
// Allocations fall into three tiers:
//   - Small: up to MaxSmallAllocSize, carved from 16 KiB small regions at 16 B granularity
//   - Medium: up to MaxMediumAllocSize, carved from 1 MiB chunks at 4 KiB granularity
//   - Large: everything else, mapped directly in chunk-size multiples
//
// # Size Classes
//
// Free regions are filed by power-of-two size class. Classes 0..7 hold small
// regions (32 B .. 4 KiB), classes 8..16 hold medium regions (4 KiB .. 1 MiB).
// Allocation rounds the class up so that any region in the class can serve
// the request; free regions are filed by rounding down.
package sizeclass

import "math/bits"

const (
	ChunkShift = 20
	ChunkSize  = 1 << ChunkShift
	ChunkMask  = ChunkSize - 1

	PageSize = 4096

	SmallRegionShift = 14
	SmallRegionSize  = 1 << SmallRegionShift
	SmallRegionMask  = SmallRegionSize - 1
	// SmallRegionsPerChunk bounds the per-chunk small region table.
	SmallRegionsPerChunk = ChunkSize / SmallRegionSize

	MinSmallAllocShift  = 4
	MinMediumAllocShift = 12
	MinLargeAllocShift  = ChunkShift

	SmallGranularity  = 1 << MinSmallAllocShift
	MediumGranularity = 1 << MinMediumAllocShift

	MinSizeClassShift = 5
	MinFreeRegionSize = 1 << MinSizeClassShift
	// MinAllocSize equals MinFreeRegionSize so a freed allocation can always
	// be tracked as a free region.
	MinAllocSize = MinFreeRegionSize

	MaxSmallAllocSize   = MediumGranularity - SmallGranularity
	MinMediumAllocSize  = MediumGranularity
	MaxMediumAllocSize  = ChunkSize - MediumGranularity
	MaxAlignedAllocSize = 256 * 1024

	// FirstMediumAllocOffset reserves the first page of every chunk, so no
	// allocation inside a chunk is ever chunk aligned.
	FirstMediumAllocOffset = PageSize
	FirstSmallAllocOffset  = 0
)

const (
	SmallClasses   = MinMediumAllocShift - MinSizeClassShift + 1
	MediumClasses  = MinLargeAllocShift - MinMediumAllocShift + 1
	AllocClasses   = SmallClasses + MediumClasses
	MaxSmallClass  = SmallClasses - 1
	MinMediumClass = SmallClasses
	MaxMediumClass = AllocClasses - 1
	// FullChunkClass files chunks that have no free space left.
	FullChunkClass = AllocClasses
	// ListCount is the number of lists needed to hold every class including
	// FullChunkClass.
	ListCount = FullChunkClass + 1
)

// Kind is an allocation tier.
type Kind uint8

const (
	Small Kind = iota
	Medium
	Large
)

func (k Kind) String() string {
	switch k {
	case Small:
		return "small"
	case Medium:
		return "medium"
	case Large:
		return "large"
	default:
		return "unknown"
	}
}

// Tier returns the tier that serves an allocation of the given size.
func Tier(bytes int) Kind {
	switch {
	case bytes <= MaxSmallAllocSize:
		return Small
	case bytes <= MaxMediumAllocSize:
		return Medium
	default:
		return Large
	}
}

// IsSmall reports whether bytes is served by the small tier.
func IsSmall(bytes int) bool { return bytes <= MaxSmallAllocSize }

// IsMedium reports whether bytes is served by the medium tier.
func IsMedium(bytes int) bool { return bytes > MaxSmallAllocSize && bytes <= MaxMediumAllocSize }

// IsLarge reports whether bytes is served by the large tier.
func IsLarge(bytes int) bool { return bytes > MaxMediumAllocSize }

// RoundUp rounds n up to a multiple of the power of two align.
func RoundUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// RoundDown rounds n down to a multiple of the power of two align.
func RoundDown(n, align int) int {
	return n &^ (align - 1)
}

// GoodAllocSize returns the size actually reserved for a request of bytes.
func GoodAllocSize(bytes int) int {
	switch Tier(bytes) {
	case Small:
		return RoundUp(max(bytes, MinAllocSize), SmallGranularity)
	case Medium:
		return RoundUp(bytes, MediumGranularity)
	default:
		return RoundUp(bytes, ChunkSize)
	}
}

func log2Ceil(n int) int {
	if n <= 1 {
		return 0
	}

	return bits.Len(uint(n - 1))
}

func log2Floor(n int) int {
	return bits.Len(uint(n)) - 1
}

// ForSmallAlloc returns the smallest class whose regions can all serve bytes.
func ForSmallAlloc(bytes int) int {
	c := log2Ceil(bytes) - MinSizeClassShift
	if c < 0 {
		return 0
	}

	return c
}

// ForMediumAlloc returns the smallest medium class whose regions can all
// serve bytes.
func ForMediumAlloc(bytes int) int {
	return log2Ceil(bytes) - MinMediumAllocShift + MinMediumClass
}

// ForAlloc dispatches to ForSmallAlloc or ForMediumAlloc.
func ForAlloc(bytes int) int {
	if IsSmall(bytes) {
		return ForSmallAlloc(bytes)
	}

	return ForMediumAlloc(bytes)
}

// ForFreeRegion returns the class a free region of bytes is filed under.
// bytes must be at least MinFreeRegionSize.
func ForFreeRegion(bytes int, kind Kind) int {
	if kind == Medium && bytes >= MaxMediumAllocSize {
		return MaxMediumClass
	}

	c := min(log2Floor(bytes)-MinSizeClassShift, MaxMediumClass)
	if kind == Small {
		return min(c, MaxSmallClass)
	}

	return c + 1
}

// Bytes returns the lower bound on region size for class c.
func Bytes(c int) int {
	if c >= MinMediumClass {
		c--
	}

	return 1 << (c + MinSizeClassShift)
}

// KindOf returns the tier a class belongs to.
func KindOf(c int) Kind {
	if c <= MaxSmallClass {
		return Small
	}

	return Medium
}

// Granularity returns the allocation granularity for a tier.
func Granularity(kind Kind) int {
	if kind == Small {
		return SmallGranularity
	}

	return MediumGranularity
}

// ClassRange returns the inclusive class bounds used by kind.
func ClassRange(kind Kind) (lo, hi int) {
	if kind == Small {
		return 0, MaxSmallClass
	}

	return MinMediumClass, MaxMediumClass
}
