package pages

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bufalloc/internal/mmap"
	"github.com/hupe1980/bufalloc/internal/resource"
	"github.com/hupe1980/bufalloc/internal/sizeclass"
)

func TestAllocChunk(t *testing.T) {
	a := New(Config{})
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	b, err := a.AllocChunk(t.Context(), false)
	require.NoError(t, err)
	assert.Len(t, b, sizeclass.ChunkSize)
	assert.Zero(t, mmap.Addr(b)&sizeclass.ChunkMask)

	b[0] = 1
	b[sizeclass.ChunkSize-1] = 1

	a.RecycleChunk(b)
	assert.Equal(t, 1, a.Stats().PooledChunks)

	again, err := a.AllocChunk(t.Context(), false)
	require.NoError(t, err)
	assert.Equal(t, mmap.Addr(b), mmap.Addr(again))

	stats := a.Stats()
	assert.Equal(t, uint64(1), stats.ChunksMapped)
	assert.Equal(t, uint64(1), stats.ChunksReused)
	assert.Equal(t, int64(sizeclass.ChunkSize), stats.MappedBytes)

	require.NoError(t, a.Unmap(again))
	assert.Zero(t, a.Stats().MappedBytes)
}

func TestRecycleChunkConcurrent(t *testing.T) {
	a := New(Config{PoolSize: 4})
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	recycled := make([][]byte, 8)
	for i := range recycled {
		b, err := a.AllocChunk(t.Context(), false)
		require.NoError(t, err)
		recycled[i] = b
	}

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		for _, b := range recycled {
			a.RecycleChunk(b)
		}
	}()

	held := make([][]byte, 0, len(recycled))

	for range recycled {
		b, err := a.AllocChunk(t.Context(), false)
		require.NoError(t, err)

		b[0] = 0xab
		b[sizeclass.ChunkSize-1] = 0xcd
		held = append(held, b)
	}

	wg.Wait()

	// Recycling never decommits a chunk someone has already taken back.
	for _, b := range held {
		assert.Equal(t, byte(0xab), b[0])
		assert.Equal(t, byte(0xcd), b[sizeclass.ChunkSize-1])
		require.NoError(t, a.Unmap(b))
	}
}

func TestPoolDisabled(t *testing.T) {
	a := New(Config{PoolSize: -1})

	b, err := a.AllocChunk(t.Context(), false)
	require.NoError(t, err)

	a.RecycleChunk(b)
	stats := a.Stats()
	assert.Zero(t, stats.PooledChunks)
	assert.Equal(t, uint64(1), stats.ChunksUnmapped)
	assert.Zero(t, stats.MappedBytes)
}

func TestMemoryLimit(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: sizeclass.ChunkSize})
	a := New(Config{Controller: rc, PoolSize: -1})

	b, err := a.AllocChunk(t.Context(), false)
	require.NoError(t, err)
	assert.Equal(t, int64(sizeclass.ChunkSize), rc.MemoryUsage())

	_, err = a.AllocChunk(t.Context(), false)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)

	t.Run("stall waits for release", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		defer cancel()

		_, err := a.AllocChunk(ctx, true)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	require.NoError(t, a.Unmap(b))
	assert.Zero(t, rc.MemoryUsage())

	b, err = a.AllocChunk(t.Context(), true)
	require.NoError(t, err)
	require.NoError(t, a.Unmap(b))
}

func TestMapRetry(t *testing.T) {
	a := New(Config{Retries: 2, RetryInterval: time.Millisecond})

	calls := 0
	a.mapAligned = func(size, align int) ([]byte, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}

		return mmap.MapAligned(size, align)
	}

	_, err := a.MapAligned(t.Context(), sizeclass.ChunkSize, sizeclass.ChunkSize, false)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, calls)
	assert.Zero(t, a.Stats().MappedBytes)

	b, err := a.MapAligned(t.Context(), sizeclass.ChunkSize, sizeclass.ChunkSize, true)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, uint64(1), a.Stats().MapFailures)

	require.NoError(t, a.Unmap(b))
}

func TestUnmapTail(t *testing.T) {
	rc := resource.NewController(resource.Config{})
	a := New(Config{Controller: rc})

	b, err := a.MapAligned(t.Context(), 2*sizeclass.ChunkSize, sizeclass.ChunkSize, false)
	require.NoError(t, err)

	err = a.UnmapTail(b, sizeclass.ChunkSize)
	if !mmap.PartialUnmapSupported {
		assert.ErrorIs(t, err, mmap.ErrPartialUnmap)
		require.NoError(t, a.Unmap(b))
		return
	}

	require.NoError(t, err)
	assert.Equal(t, int64(sizeclass.ChunkSize), rc.MemoryUsage())
	require.NoError(t, a.Unmap(b[:sizeclass.ChunkSize]))
	assert.Zero(t, rc.MemoryUsage())
}
