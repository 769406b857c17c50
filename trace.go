package bufalloc

// TraceEdge reports the buffer edge *p held by owner to the allocator.
//
// While tenuring, a nursery-owned buffer reachable from a tenured owner is
// promoted to the tenured generation; one reachable from a nursery owner is
// marked so the minor sweep keeps it. While marking, a tenured buffer is
// marked for the major sweep. Other combinations are ignored.
func (a *Allocator) TraceEdge(trc Tracer, owner Owner, p *Ptr) {
	if p == nil || *p == Null {
		return
	}

	switch {
	case trc.IsTenuring():
		if !a.IsNurseryOwned(*p) {
			return
		}

		if owner != nil && owner.IsTenured() {
			a.promote(*p)
		} else {
			a.markNurseryLive(*p)
		}
	case trc.IsMarking():
		if !a.IsNurseryOwned(*p) {
			a.MarkTenuredAlloc(*p)
		}
	}
}

// MarkTenuredAlloc marks the tenured buffer at p for the major collection
// and reports whether this call set the mark. Buffers allocated while the
// collection was marking are never marked.
func (a *Allocator) MarkTenuredAlloc(p Ptr) bool {
	if p.isLarge() {
		b := a.lookupLarge(p)
		if b == nil || b.isNurseryOwned || b.allocatedDuringCollection {
			return false
		}

		return b.setMarked()
	}

	chunk := a.chunkFor(p)
	if chunk == nil || chunk.allocatedDuringCollection {
		return false
	}

	sp, _, off := chunk.spaceFor(p.chunkOffset())
	if !sp.Aligned(off) || !sp.IsAllocated(off) || sp.IsNurseryOwned(off) {
		return false
	}

	return sp.SetMarked(off)
}

// promote moves a nursery-owned buffer to the tenured generation.
func (a *Allocator) promote(p Ptr) {
	if p.isLarge() {
		b := a.lookupLarge(p)
		if b == nil {
			return
		}

		b.setNurseryOwned(false)
		b.allocatedDuringCollection = a.state.majorMarking()
		a.moveLarge(b, largeHomeTenured)
		a.heap.AddBytes(b.allocBytes(), false)

		return
	}

	chunk := a.chunkFor(p)
	if chunk == nil {
		return
	}

	sp, region, off := chunk.spaceFor(p.chunkOffset())
	sp.SetNurseryOwned(off, false)

	if region == nil {
		a.heap.AddBytes(sp.AllocBytes(off), false)
	}
}

// markNurseryLive keeps a nursery-owned buffer alive through the minor
// sweep.
func (a *Allocator) markNurseryLive(p Ptr) {
	if p.isLarge() {
		b := a.lookupLarge(p)
		if b == nil {
			return
		}

		b.setMarked()

		if b.home == largeHomeNurseryToSweep {
			a.moveLarge(b, largeHomeNursery)
		}

		return
	}

	a.markNurseryOwned(p)
}
