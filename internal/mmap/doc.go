// Package mmap provides anonymous, aligned memory mappings outside the Go heap.
//
// # Overview
//
// The allocator obtains its chunks and large buffers directly from the OS so
// that their addresses are stable, chunk aligned and invisible to the Go
// garbage collector.
//
// # Usage
//
//	data, err := mmap.MapAligned(1<<20, 1<<20)
//	if err != nil { ... }
//	defer mmap.Unmap(data)
//
//	// Return the tail of a mapping (not supported on Windows)
//	err = mmap.UnmapTail(data, 1<<19)
//
//	// Release physical pages but keep the address range
//	err = mmap.Decommit(data[4096:])
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2) with over-allocation and trimming for
//     alignment, madvise(2) for decommit and access hints
//   - Windows: VirtualAlloc reserve and retry for alignment, MEM_DECOMMIT for
//     decommit; partial unmapping is not supported
//
// # Thread Safety
//
// All functions are safe for concurrent use on disjoint ranges. Callers must
// ensure no goroutine touches a range after it has been unmapped.
package mmap
