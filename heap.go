package bufalloc

import (
	"context"
	"sync/atomic"
)

// PageAllocator supplies chunk-aligned memory. The default implementation
// maps anonymous memory and pools recycled chunks.
//
// Implementations must be safe for concurrent use: background sweeps recycle
// chunks and unmap large buffers while the owner allocates.
type PageAllocator interface {
	// AllocChunk returns ChunkSize bytes aligned to ChunkSize. With stall set
	// the call may wait for memory until ctx is done.
	AllocChunk(ctx context.Context, stall bool) ([]byte, error)
	// RecycleChunk takes back a chunk obtained from AllocChunk.
	RecycleChunk(b []byte)
	// MapAligned maps size bytes aligned to align.
	MapAligned(ctx context.Context, size, align int, stall bool) ([]byte, error)
	// Unmap releases a mapping obtained from MapAligned.
	Unmap(b []byte) error
	// UnmapTail releases the pages of b after the first keep bytes. It fails
	// on platforms that cannot unmap part of a mapping.
	UnmapTail(b []byte, keep int) error
	// Decommit returns the physical pages of b to the OS.
	Decommit(b []byte) error
	// Commit makes pages of b usable after Decommit.
	Commit(b []byte) error
}

// Heap receives heap-size accounting for tenured buffers. Implementations must
// be safe for concurrent use; sweeps report freed bytes from the background.
type Heap interface {
	// AddBytes records newly tenured bytes. checkThresholds is false when
	// the bytes arrive during tenuring and must not trigger a collection.
	AddBytes(n int, checkThresholds bool)
	// RemoveBytes records freed tenured bytes. sweeping is true when called
	// from a sweep.
	RemoveBytes(n int, sweeping bool)
}

// HeapCounter is the default Heap. It counts bytes and calls a trigger once
// each time the count crosses a threshold from below.
type HeapCounter struct {
	bytes     atomic.Int64
	threshold int64
	trigger   func(bytes int64)
	armed     atomic.Bool
}

// NewHeapCounter creates a HeapCounter. A threshold of zero or a nil trigger
// disables triggering.
func NewHeapCounter(threshold int64, trigger func(bytes int64)) *HeapCounter {
	h := &HeapCounter{threshold: threshold, trigger: trigger}
	h.armed.Store(true)

	return h
}

// AddBytes implements Heap.
func (h *HeapCounter) AddBytes(n int, checkThresholds bool) {
	total := h.bytes.Add(int64(n))

	if !checkThresholds || h.trigger == nil || h.threshold <= 0 || total < h.threshold {
		return
	}

	if h.armed.CompareAndSwap(true, false) {
		h.trigger(total)
	}
}

// RemoveBytes implements Heap.
func (h *HeapCounter) RemoveBytes(n int, _ bool) {
	if h.bytes.Add(-int64(n)) < h.threshold {
		h.armed.Store(true)
	}
}

// Bytes returns the current count.
func (h *HeapCounter) Bytes() int64 { return h.bytes.Load() }
