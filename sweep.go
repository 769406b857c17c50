package bufalloc

import (
	"context"
	"time"

	"github.com/hupe1980/bufalloc/internal/sizeclass"
	"github.com/hupe1980/bufalloc/internal/space"
)

// sweepJob is the work handed to a background sweep. Everything it holds is
// owned by the sweep until the matching results are merged.
type sweepJob struct {
	gen      Generation
	chunks   chunkList
	large    largeList
	decommit bool
	results  chan sweepResult
}

// sweepResult is one message from a sweep to the owner. Chunk messages are
// sent as chunks finish; the final message carries the surviving large
// buffers and sets finished.
type sweepResult struct {
	chunk    *bufferChunk
	released bool

	large largeList
	// metas are metadata allocations of dead large buffers that live in
	// chunks outside the job.
	metas []Ptr

	finished bool
}

// SweepForMinorCollection runs the sweep queued by StartMinorSweeping. It
// may be called from any goroutine and returns immediately when no minor
// sweep is queued.
func (a *Allocator) SweepForMinorCollection() {
	select {
	case job := <-a.minorJob:
		a.sweep(job)
	default:
	}
}

// SweepForMajorCollection runs the sweep queued by StartMajorSweeping. With
// shouldDecommit set, the pages of large free regions are returned to the OS.
// It may be called from any goroutine.
func (a *Allocator) SweepForMajorCollection(shouldDecommit bool) {
	select {
	case job := <-a.majorJob:
		job.decommit = shouldDecommit
		a.sweep(job)
	default:
	}
}

func (a *Allocator) sweep(job *sweepJob) {
	start := time.Now()

	inJob := make(map[*bufferChunk]struct{}, job.chunks.Len())
	for c := range job.chunks.All() {
		inJob[c] = struct{}{}
	}

	var (
		survivors largeList
		dead      []*largeBuffer
		metas     []Ptr
		freed     int64
	)

	// Large buffers go first: their marks live in metadata allocations the
	// chunk sweep below clears.
	for b := range job.large.All() {
		job.large.Remove(b)

		_, metaInJob := inJob[b.metaChunk]

		if b.isMarked() {
			if !metaInJob {
				b.setUnmarked()
			}

			survivors.PushBack(b)

			continue
		}

		a.unregisterLarge(b)

		if !b.isNurseryOwned {
			a.heap.RemoveBytes(b.allocBytes(), true)
		}

		if !metaInJob {
			metas = append(metas, b.meta)
		}

		freed += int64(b.allocBytes())
		dead = append(dead, b)
	}

	chunks, released := 0, 0

	for c := range job.chunks.All() {
		job.chunks.Remove(c)

		n, empty := a.sweepChunk(c, job.gen, job.decommit)
		freed += int64(n)
		chunks++

		if empty {
			released++
		}

		job.results <- sweepResult{chunk: c, released: empty}
	}

	// Dead buffers keep largeHomeSweeping so a stale Free from the owner is
	// refused.
	for _, b := range dead {
		a.unmapLarge(b)
	}

	elapsed := time.Since(start)

	if job.gen == Minor {
		a.counters.minorSweeps.Add(1)
	} else {
		a.counters.majorSweeps.Add(1)
	}
	a.counters.bytesSwept.Add(uint64(freed))
	a.metrics.RecordSweep(job.gen, elapsed, freed)
	a.logger.LogSweep(context.Background(), job.gen, chunks, released, len(dead), freed)

	job.results <- sweepResult{large: survivors, metas: metas, finished: true}
}

// sweepChunk frees the unmarked allocations of gen in c and rebuilds its
// free lists. It reports the bytes freed and whether the chunk was empty and
// has been returned to the page allocator.
func (a *Allocator) sweepChunk(c *bufferChunk, gen Generation, decommit bool) (int, bool) {
	c.freeLists.Clear()
	c.dropFreeRegions()

	freed := 0

	for r := range c.smallRegions() {
		freed += sweepSpace(r.space, gen, nil)

		if r.isEmpty() {
			c.removeSmallRegion(r)
			c.medium.SetDeallocated(r.off)
			a.heap.RemoveBytes(sizeclass.SmallRegionSize, true)
		}
	}

	freed += sweepSpace(c.medium, gen, func(off, bytes int) bool {
		if c.smallRegionAt(off) != nil {
			return false
		}

		if gen == Major {
			a.heap.RemoveBytes(bytes, true)
		}

		return true
	})

	if c.isEmpty() {
		a.pa.RecycleChunk(c.data)
		a.noteChunkRelease(c, true)

		return freed, true
	}

	for start, end := range c.medium.Gaps() {
		r := c.medium.Track(start, end)
		if r == nil {
			continue
		}

		if decommit && r.Size() >= sizeclass.PageSize && a.rc.AllowDecommit(r.Size()) {
			c.decommitRegion(a.pa, r)
		} else {
			r.Decommitted = c.regionDecommitted(start, end)
		}

		c.freeLists.PushBack(r.Class(), r)
	}

	for sr := range c.smallRegions() {
		for start, end := range sr.space.Gaps() {
			if r := sr.space.Track(start, end); r != nil {
				c.freeLists.PushBack(r.Class(), r)
			}
		}

		sr.hasNurseryOwnedAllocs = sr.space.HasNurseryOwned()
	}

	c.hasNurseryOwnedAllocsAfterSweep = c.computeHasNurseryOwnedAllocs()

	return freed, false
}

// sweepSpace frees the unmarked allocations of gen in sp and unmarks the
// survivors. Allocations of the other generation are left alone. A non-nil
// dead is consulted before each allocation is freed.
func sweepSpace(sp *space.Space, gen Generation, dead func(off, bytes int) bool) int {
	freed := 0

	for off, bytes := range sp.Allocs() {
		if sp.IsNurseryOwned(off) != (gen == Minor) {
			continue
		}

		if sp.IsMarked(off) {
			sp.SetUnmarked(off)
			continue
		}

		if dead != nil && !dead(off, bytes) {
			continue
		}

		sp.SetDeallocated(off)
		freed += bytes
	}

	return freed
}
