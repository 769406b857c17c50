package bufalloc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bufalloc/internal/sizeclass"
)

func startNurserySweep(t *testing.T, a *Allocator) {
	t.Helper()

	mustAlloc(t, a, 64, true)
	mustAlloc(t, a, 8192, true)

	a.StartMinorCollection()
	require.True(t, a.StartMinorSweeping())
}

func TestSweepTask(t *testing.T) {
	a := newTestAllocator(t)
	startNurserySweep(t, a)

	task := a.StartSweepTask(t.Context(), Minor)
	require.NoError(t, task.Wait())

	assert.True(t, a.IsEmpty())
	assert.Equal(t, stateIdle, a.state)
	assert.Equal(t, uint64(1), a.Counters().MinorSweeps)
}

func TestSweepTaskCanceled(t *testing.T) {
	rc := NewResourceController(ResourceConfig{MaxBackgroundWorkers: 1})
	a := newTestAllocator(t, WithResourceController(rc))
	startNurserySweep(t, a)

	// Hold the only background slot so the task has to wait for it.
	require.True(t, rc.TryAcquireBackground())

	ctx, cancel := context.WithCancel(t.Context())
	task := a.StartSweepTask(ctx, Minor)
	cancel()

	require.ErrorIs(t, task.Wait(), context.Canceled)
	rc.ReleaseBackground()

	assert.False(t, a.IsEmpty())

	// The job is still queued and runs on the owner's goroutine.
	a.StartMinorCollection()
	assert.True(t, a.IsEmpty())

	a.mergeSweptData()
	assert.False(t, a.StartMinorSweeping())
}

func TestOwnerWorksDuringBackgroundSweep(t *testing.T) {
	a := newTestAllocator(t)

	large := make([]Ptr, 4)
	for i := range large {
		large[i] = mustAlloc(t, a, 2*sizeclass.ChunkSize, true)
	}

	for range 32 {
		mustAlloc(t, a, 64, true)
		mustAlloc(t, a, 8192, true)
	}

	a.StartMinorCollection()
	require.True(t, a.StartMinorSweeping())

	task := a.StartSweepTask(t.Context(), Minor)

	for i := range 64 {
		bytes := 64
		if i%2 == 1 {
			bytes = 8192
		}

		p, err := a.Alloc(bytes, i%4 < 2)
		require.NoError(t, err)

		size := sizeclass.GoodAllocSize(bytes)
		assert.Equal(t, size, a.AllocSize(p))
		assert.Len(t, a.Bytes(p), size)
		assert.True(t, a.Free(p))

		// Dead large buffers belong to the sweep whether or not it has
		// reached them yet.
		for _, b := range large {
			assert.False(t, a.Free(b))
		}
	}

	require.NoError(t, task.Wait())
	a.mergeSweptData()

	for _, b := range large {
		assert.False(t, a.IsBufferAlloc(b))
	}

	assert.Zero(t, a.Stats().LargeNurseryAllocs)
	assert.Equal(t, stateIdle, a.state)
	requireValid(t, a)
}

func TestSweepZones(t *testing.T) {
	zones := make([]*Allocator, 4)
	for i := range zones {
		zones[i] = newTestAllocator(t, WithZone(i))
		startNurserySweep(t, zones[i])
	}

	require.NoError(t, SweepZones(t.Context(), Minor, zones...))

	for _, z := range zones {
		assert.True(t, z.IsEmpty(), "zone %d", z.Zone())
		requireValid(t, z)
	}
}

func TestSweepZonesCanceled(t *testing.T) {
	a := newTestAllocator(t)
	startNurserySweep(t, a)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	require.ErrorIs(t, SweepZones(ctx, Minor, a), context.Canceled)

	a.SweepForMinorCollection()
	a.mergeSweptData()
	assert.True(t, a.IsEmpty())
}
