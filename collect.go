package bufalloc

import "context"

func (a *Allocator) setState(s gcState) {
	if s != a.state {
		a.logger.LogStateChange(context.Background(), a.state.String(), s.String())
	}

	a.state = s
}

// StartMinorCollection begins a minor collection. A minor sweep still in
// flight is finished first. Nursery-owned large buffers become candidates
// for sweeping until TraceEdge reports them.
func (a *Allocator) StartMinorCollection() {
	if a.state.minorSweeping() {
		a.waitForSweep(Minor)
	}

	a.mergeSweptData()
	next := a.state.startMinor()

	debugAssert(a.largeNurseryToSweep.IsEmpty(), "nursery large buffers left from the previous minor collection")

	for b := range a.largeNursery.All() {
		b.home = largeHomeNurseryToSweep
	}
	a.largeNurseryToSweep.Append(&a.largeNursery)

	a.setState(next)
}

// StartMinorSweeping ends minor marking and queues the mixed chunks for
// SweepForMinorCollection. It reports false when there is nothing to sweep;
// the minor collection is then complete.
func (a *Allocator) StartMinorSweeping() bool {
	a.mergeSweptData()

	if !a.state.minorMarking() {
		a.state.invalid("start minor sweep")
	}

	if a.mixedChunks.IsEmpty() && a.availableMixed.IsEmpty() && a.largeNurseryToSweep.IsEmpty() {
		a.setState(a.state.skipMinorSweep())
		return false
	}

	a.returnSharedRegions()

	for c := range a.tenuredChunks.All() {
		a.tenuredChunks.Remove(c)
		a.pushAvailable(c, false)
	}

	job := &sweepJob{gen: Minor}

	for c := range a.mixedChunks.All() {
		a.mixedChunks.Remove(c)
		c.home = homeMinorSweep
		job.chunks.PushBack(c)
	}

	for _, c := range a.availableMixed.All() {
		a.availableMixed.Remove(c)
		c.home = homeMinorSweep
		job.chunks.PushBack(c)
	}

	job.large = a.largeNurseryToSweep.Take()
	for b := range job.large.All() {
		b.home = largeHomeSweeping
	}

	a.minorResults = make(chan sweepResult, job.chunks.Len()+1)
	job.results = a.minorResults
	a.minorJob <- job

	a.setState(a.state.startMinorSweep())

	return true
}

// StartMajorCollection begins a major collection. Every tenured chunk and
// large buffer becomes a sweep candidate; memory allocated from now on is
// exempt from this collection.
func (a *Allocator) StartMajorCollection() {
	a.mergeSweptData()
	next := a.state.startMajor()

	a.returnSharedRegions()

	for c := range a.mixedChunks.All() {
		a.mixedChunks.Remove(c)
		a.pushAvailable(c, false)
	}

	for _, c := range a.availableMixed.All() {
		c.allocatedDuringCollection = true
	}

	for c := range a.tenuredChunks.All() {
		a.tenuredChunks.Remove(c)
		c.home = homeMajorToSweep
		a.tenuredToSweep.PushBack(c)
	}

	for _, c := range a.availableTenured.All() {
		a.availableTenured.Remove(c)
		c.home = homeMajorToSweep
		a.tenuredToSweep.PushBack(c)
	}

	for b := range a.largeTenured.All() {
		b.home = largeHomeTenuredToSweep
	}
	a.largeTenuredToSweep.Append(&a.largeTenured)

	a.setState(next)
}

// StartMajorSweeping ends major marking and queues the tenured chunks for
// SweepForMajorCollection. A minor sweep that overlapped the start of the
// collection is finished first.
func (a *Allocator) StartMajorSweeping() {
	if a.state.adopting() {
		a.waitForSweep(Minor)
	}

	a.mergeSweptData()
	next := a.state.startMajorSweep()

	job := &sweepJob{gen: Major, chunks: a.tenuredToSweep.Take(), large: a.largeTenuredToSweep.Take()}
	for b := range job.large.All() {
		b.home = largeHomeSweeping
	}

	a.majorResults = make(chan sweepResult, job.chunks.Len()+1)
	job.results = a.majorResults
	a.majorJob <- job

	a.setState(next)
}

// FinishMajorCollection completes the major collection. A running sweep is
// waited for; a collection that is still marking is abandoned and its
// candidates are returned unswept. It does nothing once the major sweep has
// been merged.
func (a *Allocator) FinishMajorCollection() {
	switch {
	case a.state.majorSweeping():
		a.waitForSweep(Major)
	case a.state.majorMarking():
		a.abortMajorCollection()
	}
}

func (a *Allocator) abortMajorCollection() {
	for c := range a.tenuredToSweep.All() {
		a.tenuredToSweep.Remove(c)
		c.clearMarks()
		a.pushAvailable(c, false)
	}

	for b := range a.largeTenuredToSweep.All() {
		b.setUnmarked()
		b.home = largeHomeTenured
	}
	a.largeTenured.Prepend(&a.largeTenuredToSweep)

	a.setState(a.state.abortMajor())
	a.clearAllocatedDuringCollection()
}

func (a *Allocator) clearAllocatedDuringCollection() {
	for c := range a.mixedChunks.All() {
		c.allocatedDuringCollection = false
	}

	for c := range a.tenuredChunks.All() {
		c.allocatedDuringCollection = false
	}

	for _, c := range a.availableMixed.All() {
		c.allocatedDuringCollection = false
	}

	for _, c := range a.availableTenured.All() {
		c.allocatedDuringCollection = false
	}

	for _, l := range [...]*largeList{&a.largeNursery, &a.largeNurseryToSweep, &a.largeTenured} {
		for b := range l.All() {
			b.allocatedDuringCollection = false
		}
	}
}

// returnSharedRegions moves every region of the shared free lists back to
// the lists of its chunk and makes every current chunk own its lists.
func (a *Allocator) returnSharedRegions() {
	for cls, r := range a.freeLists.All() {
		a.freeLists.Remove(r)
		a.regionChunk(r).freeLists.PushBack(cls, r)
	}

	for c := range a.mixedChunks.All() {
		c.ownsFreeLists = true
	}

	for c := range a.tenuredChunks.All() {
		c.ownsFreeLists = true
	}
}

// pushAvailable files an owning chunk in the available lists matching its
// nursery state. Chunks with nursery allocations are exempt from a major
// collection in progress.
func (a *Allocator) pushAvailable(c *bufferChunk, front bool) {
	c.ownsFreeLists = true

	lists := &a.availableTenured
	c.home = homeAvailableTenured

	if c.hasNurseryOwnedAllocs {
		lists = &a.availableMixed
		c.home = homeAvailableMixed

		if a.state.majorMarking() {
			c.allocatedDuringCollection = true
		}
	}

	cls := c.sizeClassForAvailableLists()
	if front {
		lists.PushFront(cls, c)
	} else {
		lists.PushBack(cls, c)
	}
}

// hasSweptData reports whether sweep results are waiting to be merged.
func (a *Allocator) hasSweptData() bool {
	return len(a.minorResults) > 0 || len(a.majorResults) > 0
}

// mergeSweptData merges every sweep result that has arrived so far.
func (a *Allocator) mergeSweptData() {
	a.drain(Minor)
	a.drain(Major)
}

func (a *Allocator) results(gen Generation) *chan sweepResult {
	if gen == Minor {
		return &a.minorResults
	}

	return &a.majorResults
}

func (a *Allocator) drain(gen Generation) {
	ch := a.results(gen)

	for *ch != nil {
		select {
		case r := <-*ch:
			a.mergeResult(gen, r)
		default:
			return
		}
	}
}

// waitForSweep blocks until the sweep of gen has finished and merges it. A
// job that no background goroutine has picked up is swept here.
func (a *Allocator) waitForSweep(gen Generation) {
	ch := a.results(gen)
	if *ch == nil {
		return
	}

	jobs := a.minorJob
	if gen == Major {
		jobs = a.majorJob
	}

	select {
	case job := <-jobs:
		if gen == Major {
			job.decommit = a.decommit
		}
		a.sweep(job)
	default:
	}

	for *ch != nil {
		a.mergeResult(gen, <-*ch)
	}
}

func (a *Allocator) mergeResult(gen Generation, r sweepResult) {
	if c := r.chunk; c != nil {
		if r.released {
			a.unregisterChunk(c)
			c.home = homeNone
		} else {
			c.hasNurseryOwnedAllocs = c.hasNurseryOwnedAllocsAfterSweep
			c.ownsFreeLists = true

			if gen == Minor {
				a.placeMinorSwept(c)
			} else {
				c.allocatedDuringCollection = false
				a.pushAvailable(c, true)
			}
		}
	}

	if !r.large.IsEmpty() {
		home, dst := largeHomeTenured, &a.largeTenured
		if gen == Minor {
			home, dst = largeHomeNursery, &a.largeNursery
		}

		for b := range r.large.All() {
			b.home = home
		}
		dst.Prepend(&r.large)
	}

	for _, meta := range r.metas {
		a.free(meta)
	}

	if r.finished {
		*a.results(gen) = nil

		if gen == Minor {
			a.setState(a.state.finishMinorSweep())
		} else {
			a.setState(a.state.finishMajorSweep())
			a.clearAllocatedDuringCollection()
		}
	}
}

func (a *Allocator) placeMinorSwept(c *bufferChunk) {
	switch {
	case a.state.afterMajor():
		c.allocatedDuringCollection = false
		c.clearMarks()
	case a.state.adopting():
		if !c.hasNurseryOwnedAllocs {
			c.allocatedDuringCollection = false
			c.home = homeMajorToSweep
			a.tenuredToSweep.PushBack(c)

			return
		}

		c.clearMarks()
	}

	a.pushAvailable(c, false)
}
