package bufalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bufalloc/internal/sizeclass"
)

func TestMinorCollection(t *testing.T) {
	a := newTestAllocator(t)

	live := mustAlloc(t, a, 64, true)
	dead := mustAlloc(t, a, 64, true)
	tenured := mustAlloc(t, a, 64, false)
	mediumLive := mustAlloc(t, a, 8192, true)
	mediumDead := mustAlloc(t, a, 8192, true)
	largeLive := mustAlloc(t, a, 2*sizeclass.ChunkSize, true)
	largeDead := mustAlloc(t, a, 2*sizeclass.ChunkSize, true)

	runMinor(t, a, []Ptr{live, mediumLive, largeLive}, nil)

	assert.Equal(t, stateIdle, a.state)

	for _, p := range []Ptr{live, tenured, mediumLive, largeLive} {
		assert.True(t, a.IsBufferAlloc(p))
		assert.False(t, a.IsMarkedBlack(p))
	}

	for _, p := range []Ptr{dead, mediumDead, largeDead} {
		assert.False(t, a.IsBufferAlloc(p))
	}

	assert.True(t, a.IsNurseryOwned(live))
	assert.False(t, a.IsNurseryOwned(tenured))

	s := a.Stats()
	assert.Equal(t, 1, s.AvailableMixedChunks)
	assert.Equal(t, 1, s.LargeNurseryAllocs)

	c := a.Counters()
	assert.Equal(t, uint64(1), c.MinorSweeps)
	assert.Equal(t, uint64(1), c.LargeUnmapped)

	requireValid(t, a)
}

func TestMinorCollectionPromotes(t *testing.T) {
	a := newTestAllocator(t)
	heap := a.heap.(*HeapCounter)

	medium := mustAlloc(t, a, 8192, true)
	small := mustAlloc(t, a, 64, true)
	large := mustAlloc(t, a, 2*sizeclass.ChunkSize, true)

	before := heap.Bytes()

	runMinor(t, a, nil, []Ptr{medium, small, large})

	for _, p := range []Ptr{medium, small, large} {
		assert.True(t, a.IsBufferAlloc(p))
		assert.False(t, a.IsNurseryOwned(p))
	}

	assert.Equal(t, before+8192+2*sizeclass.ChunkSize, heap.Bytes())

	s := a.Stats()
	assert.Zero(t, s.AvailableMixedChunks)
	assert.Equal(t, 1, s.AvailableTenuredChunks)
	assert.Equal(t, 1, s.LargeTenuredAllocs)
	assert.Zero(t, s.LargeNurseryAllocs)
	assert.Zero(t, a.NurseryBytes())

	requireValid(t, a)
}

func TestMinorCollectionNothingToSweep(t *testing.T) {
	a := newTestAllocator(t)

	p := mustAlloc(t, a, 8192, false)

	a.StartMinorCollection()
	assert.Equal(t, stateMinorMarking, a.state)
	assert.False(t, a.StartMinorSweeping())
	assert.Equal(t, stateIdle, a.state)

	assert.True(t, a.IsBufferAlloc(p))
	assert.Zero(t, a.Counters().MinorSweeps)
}

func TestMinorCollectionReleasesEmptyChunks(t *testing.T) {
	a := newTestAllocator(t)

	p := mustAlloc(t, a, 8192, true)
	require.Len(t, a.chunks, 1)

	runMinor(t, a, nil, nil)

	assert.False(t, a.IsBufferAlloc(p))
	assert.Empty(t, a.chunks)
	assert.True(t, a.IsEmpty())
	assert.Equal(t, uint64(1), a.Counters().ChunksReleased)
}

func TestAllocDuringCollection(t *testing.T) {
	a := newTestAllocator(t)

	_, err := a.AllocDuringCollection(t.Context(), 64, true)
	assert.ErrorIs(t, err, ErrInvalidState)

	mustAlloc(t, a, 64, true)

	a.StartMinorCollection()

	p, err := a.AllocDuringCollection(t.Context(), 64, true)
	require.NoError(t, err)
	assert.True(t, a.IsMarkedBlack(p))

	large, err := a.AllocDuringCollection(t.Context(), 2*sizeclass.ChunkSize, true)
	require.NoError(t, err)
	assert.True(t, a.IsMarkedBlack(large))

	require.True(t, a.StartMinorSweeping())
	a.SweepForMinorCollection()
	a.mergeSweptData()

	assert.True(t, a.IsBufferAlloc(p))
	assert.True(t, a.IsBufferAlloc(large))
	assert.False(t, a.IsMarkedBlack(p))

	requireValid(t, a)
}

func TestFreeDuringSweep(t *testing.T) {
	a := newTestAllocator(t)

	p := mustAlloc(t, a, 8192, true)
	keep := mustAlloc(t, a, 8192, true)
	large := mustAlloc(t, a, 2*sizeclass.ChunkSize, true)

	a.StartMinorCollection()
	a.TraceEdge(tenuringTracer, nurseryOwner, &keep)
	require.True(t, a.StartMinorSweeping())

	assert.False(t, a.Free(p))
	assert.False(t, a.Free(large))

	_, err := a.Realloc(keep, 16384, true)
	require.NoError(t, err)

	a.SweepForMinorCollection()
	a.mergeSweptData()

	assert.False(t, a.IsBufferAlloc(p))
	assert.False(t, a.IsBufferAlloc(large))

	requireValid(t, a)
}

func TestQueuedSweepRunsOnWait(t *testing.T) {
	a := newTestAllocator(t)

	p := mustAlloc(t, a, 64, true)

	a.StartMinorCollection()
	require.True(t, a.StartMinorSweeping())

	// Nobody ran the sweep; the next collection runs it itself.
	a.StartMinorCollection()
	assert.Equal(t, stateMinorMarking, a.state)
	assert.False(t, a.IsBufferAlloc(p))

	assert.False(t, a.StartMinorSweeping())
	requireValid(t, a)
}

func TestMajorCollection(t *testing.T) {
	a := newTestAllocator(t)
	heap := a.heap.(*HeapCounter)

	keep := mustAlloc(t, a, 8192, false)
	drop := mustAlloc(t, a, 8192, false)
	smallKeep := mustAlloc(t, a, 64, false)
	smallDrop := mustAlloc(t, a, 64, false)
	largeKeep := mustAlloc(t, a, 2*sizeclass.ChunkSize, false)
	largeDrop := mustAlloc(t, a, 2*sizeclass.ChunkSize, false)

	before := heap.Bytes()

	runMajor(t, a, []Ptr{keep, smallKeep, largeKeep}, false)

	assert.Equal(t, stateIdle, a.state)

	for _, p := range []Ptr{keep, smallKeep, largeKeep} {
		assert.True(t, a.IsBufferAlloc(p))
		assert.False(t, a.IsMarkedBlack(p))
	}

	for _, p := range []Ptr{drop, smallDrop, largeDrop} {
		assert.False(t, a.IsBufferAlloc(p))
	}

	assert.Equal(t, before-8192-2*sizeclass.ChunkSize, heap.Bytes())

	s := a.Stats()
	assert.Equal(t, 1, s.AvailableTenuredChunks)
	assert.Equal(t, 1, s.LargeTenuredAllocs)
	assert.Equal(t, uint64(1), a.Counters().MajorSweeps)

	requireValid(t, a)
}

func TestMajorCollectionSparesNewAndMixed(t *testing.T) {
	a := newTestAllocator(t)

	old := mustAlloc(t, a, 8192, false)
	mixedTenured := mustAlloc(t, a, 64, false)
	mustAlloc(t, a, 64, true)

	a.StartMajorCollection()

	// Allocated while marking: never marked, never swept.
	fresh := mustAlloc(t, a, 8192, false)
	assert.False(t, a.MarkTenuredAlloc(fresh))

	a.StartMajorSweeping()
	a.SweepForMajorCollection(false)
	a.FinishMajorCollection()

	assert.True(t, a.IsBufferAlloc(fresh))
	assert.True(t, a.IsBufferAlloc(old))
	assert.True(t, a.IsBufferAlloc(mixedTenured))

	requireValid(t, a)
}

func TestMajorCollectionDecommits(t *testing.T) {
	a := newTestAllocator(t)

	keep := mustAlloc(t, a, 8192, false)
	for range 8 {
		mustAlloc(t, a, 64*1024, false)
	}

	runMajor(t, a, []Ptr{keep}, true)

	s := a.Stats()
	assert.Positive(t, s.DecommittedBytes)
	assert.True(t, a.IsBufferAlloc(keep))
	requireValid(t, a)

	// Decommitted memory is usable again.
	p := mustAlloc(t, a, 256*1024, false)
	buf := a.Bytes(p)
	buf[0], buf[len(buf)-1] = 1, 2
	assert.Equal(t, byte(2), a.Bytes(p)[len(buf)-1])

	requireValid(t, a)
}

func TestMarkTenuredAlloc(t *testing.T) {
	a := newTestAllocator(t)

	p := mustAlloc(t, a, 8192, false)

	a.StartMajorCollection()

	n := mustAlloc(t, a, 8192, true)

	assert.True(t, a.MarkTenuredAlloc(p))
	assert.False(t, a.MarkTenuredAlloc(p))
	assert.True(t, a.IsMarkedBlack(p))
	assert.False(t, a.MarkTenuredAlloc(n))
	assert.False(t, a.MarkTenuredAlloc(Ptr(0x1000)))

	a.FinishMajorCollection()
	assert.Equal(t, stateIdle, a.state)
}

func TestAbortMajorCollection(t *testing.T) {
	a := newTestAllocator(t)

	p := mustAlloc(t, a, 8192, false)
	large := mustAlloc(t, a, 2*sizeclass.ChunkSize, false)

	a.StartMajorCollection()
	a.TraceEdge(markingTracer, tenuredOwner, &p)
	a.TraceEdge(markingTracer, tenuredOwner, &large)
	require.True(t, a.IsMarkedBlack(p))

	a.FinishMajorCollection()

	assert.Equal(t, stateIdle, a.state)
	assert.True(t, a.IsBufferAlloc(p))
	assert.True(t, a.IsBufferAlloc(large))
	assert.False(t, a.IsMarkedBlack(p))
	assert.False(t, a.IsMarkedBlack(large))

	s := a.Stats()
	assert.Equal(t, 1, s.LargeTenuredAllocs)
	assert.Equal(t, 1, s.AvailableTenuredChunks)

	requireValid(t, a)

	// The next major collection starts from scratch.
	runMajor(t, a, nil, false)
	assert.False(t, a.IsBufferAlloc(large))
	assert.False(t, a.IsBufferAlloc(p))
}

func TestMinorDuringMajorMarking(t *testing.T) {
	a := newTestAllocator(t)

	keep := mustAlloc(t, a, 8192, false)

	a.StartMajorCollection()
	a.TraceEdge(markingTracer, tenuredOwner, &keep)

	nursery := mustAlloc(t, a, 64, true)

	a.StartMinorCollection()
	assert.Equal(t, stateMinorMarkingMajorMarking, a.state)

	require.True(t, a.StartMinorSweeping())
	assert.Equal(t, stateMinorSweepingMajorMarking, a.state)

	a.SweepForMinorCollection()
	a.mergeSweptData()
	assert.Equal(t, stateMajorMarking, a.state)
	assert.False(t, a.IsBufferAlloc(nursery))

	a.StartMajorSweeping()
	a.SweepForMajorCollection(false)
	a.FinishMajorCollection()

	assert.Equal(t, stateIdle, a.state)
	assert.True(t, a.IsBufferAlloc(keep))

	requireValid(t, a)
}

func TestMinorDuringMajorSweeping(t *testing.T) {
	a := newTestAllocator(t)

	drop := mustAlloc(t, a, 8192, false)

	a.StartMajorCollection()
	a.StartMajorSweeping()
	assert.Equal(t, stateMajorSweeping, a.state)

	nursery := mustAlloc(t, a, 8192, true)

	a.StartMinorCollection()
	assert.Equal(t, stateMinorMarkingMajorSweeping, a.state)
	a.TraceEdge(tenuringTracer, nurseryOwner, &nursery)

	require.True(t, a.StartMinorSweeping())
	assert.Equal(t, stateMinorSweepingMajorSweeping, a.state)

	a.SweepForMajorCollection(false)
	a.mergeSweptData()
	assert.Equal(t, stateMinorSweepingAfterMajor, a.state)

	a.SweepForMinorCollection()
	a.mergeSweptData()
	assert.Equal(t, stateIdle, a.state)

	assert.False(t, a.IsBufferAlloc(drop))
	assert.True(t, a.IsBufferAlloc(nursery))

	requireValid(t, a)
}

func TestMajorAdoptsMinorSweep(t *testing.T) {
	a := newTestAllocator(t)

	keep := mustAlloc(t, a, 8192, false)
	drop := mustAlloc(t, a, 8192, false)
	nursery := mustAlloc(t, a, 8192, true)

	a.StartMinorCollection()
	require.True(t, a.StartMinorSweeping())

	a.StartMajorCollection()
	assert.Equal(t, stateMinorSweepingMajorAdopting, a.state)
	a.TraceEdge(markingTracer, tenuredOwner, &keep)

	a.SweepForMinorCollection()

	a.StartMajorSweeping()
	assert.Equal(t, stateMajorSweeping, a.state)
	a.SweepForMajorCollection(false)
	a.FinishMajorCollection()

	assert.Equal(t, stateIdle, a.state)
	assert.False(t, a.IsBufferAlloc(nursery))
	assert.False(t, a.IsBufferAlloc(drop))
	assert.True(t, a.IsBufferAlloc(keep))
	assert.False(t, a.IsMarkedBlack(keep))

	requireValid(t, a)
}

func TestStateTransitionsPanic(t *testing.T) {
	a := newTestAllocator(t)

	assert.Panics(t, func() { a.StartMinorSweeping() })
	assert.Panics(t, func() { a.StartMajorSweeping() })

	a.StartMinorCollection()
	assert.Panics(t, func() { a.StartMinorCollection() })
	assert.Panics(t, func() { a.StartMajorCollection() })
	assert.False(t, a.StartMinorSweeping())

	// Finishing a collection that never started is a no-op.
	a.FinishMajorCollection()
	assert.Equal(t, stateIdle, a.state)
}
