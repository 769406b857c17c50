// Package bufalloc provides a generational buffer allocator for garbage
// collected runtimes that keep raw byte buffers outside the Go heap.
//
// Buffers are served from chunk-aligned memory in three tiers:
//
//   - small (up to 4080 bytes): 16 byte granularity, carved from 16 KiB small
//     regions that are themselves medium allocations
//   - medium (up to 1 MiB - 4 KiB): 4 KiB granularity, carved from 1 MiB
//     chunks
//   - large: mapped directly in chunk multiples
//
// Free space is kept in segregated free lists indexed by size class and is
// coalesced eagerly on free.
//
// # Quick Start
//
//	a, _ := bufalloc.New()
//	defer a.Close()
//
//	p, _ := a.Alloc(256, true) // nursery owned
//	buf := a.Bytes(p)
//	copy(buf, "hello")
//	a.Free(p)
//
// # Generations
//
// Every buffer is either nursery owned (minor generation) or tenured (major
// generation). The collector drives the allocator through a fixed sequence
// and reports the buffer edges it finds with TraceEdge:
//
//	a.StartMinorCollection()
//	// ... trace roots, calling a.TraceEdge(trc, owner, &p) per buffer edge
//	if a.StartMinorSweeping() {
//	    task := a.StartSweepTask(ctx, bufalloc.Minor)
//	    defer task.Wait()
//	}
//
// A major collection follows the same pattern with StartMajorCollection,
// StartMajorSweeping and FinishMajorCollection. A minor collection may run
// while a major collection is marking or sweeping.
//
// # Concurrency
//
// An Allocator belongs to one goroutine. Only SweepForMinorCollection,
// SweepForMajorCollection and the SweepTask helpers run elsewhere; they
// hand their results back through channels that the owner merges on its
// next allocation or collection step.
//
// # Observability
//
// Logging goes through a slog-based Logger (WithLogger), events through a
// MetricsCollector (WithMetricsCollector; see package prom), and snapshots
// through Stats, Counters and PrintStats. Verify checks the heap structures.
package bufalloc
