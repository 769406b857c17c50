package bufalloc

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting allocator metrics.
// Implement this interface to integrate with monitoring systems; package prom
// provides a Prometheus implementation.
//
// Methods may be called from background sweep goroutines and must be safe
// for concurrent use.
type MetricsCollector interface {
	// RecordChunkAlloc is called after a chunk has been obtained from the
	// page allocator.
	RecordChunkAlloc()

	// RecordChunkRelease is called after a chunk has been returned to the
	// page allocator.
	RecordChunkRelease()

	// RecordLargeAlloc is called after a large buffer has been mapped.
	RecordLargeAlloc(bytes int)

	// RecordLargeFree is called after a large buffer has been unmapped.
	RecordLargeFree(bytes int)

	// RecordSweep is called after each background sweep. bytesFreed counts
	// the allocation bytes reclaimed.
	RecordSweep(gen Generation, duration time.Duration, bytesFreed int64)

	// RecordAllocFailure is called when an allocation fails.
	RecordAllocFailure(bytes int)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordChunkAlloc()                            {}
func (NoopMetricsCollector) RecordChunkRelease()                          {}
func (NoopMetricsCollector) RecordLargeAlloc(int)                         {}
func (NoopMetricsCollector) RecordLargeFree(int)                          {}
func (NoopMetricsCollector) RecordSweep(Generation, time.Duration, int64) {}
func (NoopMetricsCollector) RecordAllocFailure(int)                       {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	ChunkAllocs      atomic.Int64
	ChunkReleases    atomic.Int64
	LargeAllocs      atomic.Int64
	LargeAllocBytes  atomic.Int64
	LargeFrees       atomic.Int64
	LargeFreeBytes   atomic.Int64
	MinorSweeps      atomic.Int64
	MajorSweeps      atomic.Int64
	SweepTotalNanos  atomic.Int64
	SweptBytes       atomic.Int64
	AllocFailures    atomic.Int64
	AllocFailedBytes atomic.Int64
}

// RecordChunkAlloc implements MetricsCollector.
func (b *BasicMetricsCollector) RecordChunkAlloc() {
	b.ChunkAllocs.Add(1)
}

// RecordChunkRelease implements MetricsCollector.
func (b *BasicMetricsCollector) RecordChunkRelease() {
	b.ChunkReleases.Add(1)
}

// RecordLargeAlloc implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLargeAlloc(bytes int) {
	b.LargeAllocs.Add(1)
	b.LargeAllocBytes.Add(int64(bytes))
}

// RecordLargeFree implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLargeFree(bytes int) {
	b.LargeFrees.Add(1)
	b.LargeFreeBytes.Add(int64(bytes))
}

// RecordSweep implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSweep(gen Generation, duration time.Duration, bytesFreed int64) {
	if gen == Minor {
		b.MinorSweeps.Add(1)
	} else {
		b.MajorSweeps.Add(1)
	}
	b.SweepTotalNanos.Add(duration.Nanoseconds())
	b.SweptBytes.Add(bytesFreed)
}

// RecordAllocFailure implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAllocFailure(bytes int) {
	b.AllocFailures.Add(1)
	b.AllocFailedBytes.Add(int64(bytes))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		ChunkAllocs:    b.ChunkAllocs.Load(),
		ChunkReleases:  b.ChunkReleases.Load(),
		LargeAllocs:    b.LargeAllocs.Load(),
		LargeFrees:     b.LargeFrees.Load(),
		LiveLargeBytes: b.LargeAllocBytes.Load() - b.LargeFreeBytes.Load(),
		MinorSweeps:    b.MinorSweeps.Load(),
		MajorSweeps:    b.MajorSweeps.Load(),
		SweepAvgNanos:  b.getAvgSweepNanos(),
		SweptBytes:     b.SweptBytes.Load(),
		AllocFailures:  b.AllocFailures.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgSweepNanos() int64 {
	count := b.MinorSweeps.Load() + b.MajorSweeps.Load()
	if count == 0 {
		return 0
	}
	return b.SweepTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	ChunkAllocs    int64
	ChunkReleases  int64
	LargeAllocs    int64
	LargeFrees     int64
	LiveLargeBytes int64
	MinorSweeps    int64
	MajorSweeps    int64
	SweepAvgNanos  int64
	SweptBytes     int64
	AllocFailures  int64
}
