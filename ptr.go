package bufalloc

import "github.com/hupe1980/bufalloc/internal/sizeclass"

// Ptr is the address of a buffer allocation. Buffer memory is mapped outside
// the Go heap, so a Ptr stays valid until the buffer is freed or swept.
type Ptr uintptr

// Null is the null buffer pointer.
const Null Ptr = 0

// IsNull reports whether p is Null.
func (p Ptr) IsNull() bool { return p == Null }

// isLarge reports whether p can only be a large buffer. Chunk allocations
// never start on a chunk boundary because of the reserved header page.
func (p Ptr) isLarge() bool { return p != Null && uintptr(p)&sizeclass.ChunkMask == 0 }

func (p Ptr) chunkBase() uintptr { return uintptr(p) &^ sizeclass.ChunkMask }

func (p Ptr) chunkOffset() int { return int(uintptr(p) & sizeclass.ChunkMask) }

// Generation selects the minor (nursery) or major (tenured) collection.
type Generation uint8

const (
	// Minor collects nursery-owned buffers.
	Minor Generation = iota
	// Major collects tenured buffers.
	Major
)

func (g Generation) String() string {
	switch g {
	case Minor:
		return "minor"
	case Major:
		return "major"
	default:
		return "unknown"
	}
}

// Tracer describes the collector pass that reports an edge.
type Tracer interface {
	// IsTenuring reports a minor collection pass.
	IsTenuring() bool
	// IsMarking reports a major collection marking pass.
	IsMarking() bool
}

// Owner is the cell that holds a buffer edge.
type Owner interface {
	IsTenured() bool
}
