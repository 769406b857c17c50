// Package pages is the default source of chunk-aligned memory.
//
// Chunks and large buffers are mapped with internal/mmap and accounted against
// a resource.Controller. Released chunks are decommitted and kept in a small
// pool so that a heap that oscillates around a chunk boundary does not map
// and unmap on every cycle.
//
// All methods are safe for concurrent use; chunks are recycled from
// background sweeps while the owner allocates.
package pages

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/bufalloc/internal/mmap"
	"github.com/hupe1980/bufalloc/internal/resource"
	"github.com/hupe1980/bufalloc/internal/sizeclass"
)

// ErrExhausted is returned when no memory could be obtained.
var ErrExhausted = errors.New("pages: memory exhausted")

const (
	// DefaultPoolSize is the number of recycled chunks kept mapped.
	DefaultPoolSize = 4
	// DefaultRetries bounds mmap retries of a stalling request.
	DefaultRetries = 3
	// DefaultRetryInterval paces mmap retries of a stalling request.
	DefaultRetryInterval = 10 * time.Millisecond
)

// Config configures an Allocator.
type Config struct {
	// Controller accounts mapped memory. Nil means unlimited.
	Controller *resource.Controller
	// PoolSize is the number of recycled chunks kept. Negative disables the
	// pool; zero selects DefaultPoolSize.
	PoolSize int
	// Retries bounds mmap retries when the caller stalls. Zero selects
	// DefaultRetries.
	Retries int
	// RetryInterval paces retries. Zero selects DefaultRetryInterval.
	RetryInterval time.Duration
}

// Stats is a snapshot of page allocator activity.
type Stats struct {
	MappedBytes    int64
	PooledChunks   int
	ChunksMapped   uint64
	ChunksReused   uint64
	ChunksUnmapped uint64
	MapFailures    uint64
}

// Allocator maps chunk-aligned memory.
type Allocator struct {
	rc       *resource.Controller
	poolSize int
	retries  int
	limiter  *rate.Limiter

	mu   sync.Mutex
	pool [][]byte

	mapAligned func(size, align int) ([]byte, error)

	mapped         atomic.Int64
	chunksMapped   atomic.Uint64
	chunksReused   atomic.Uint64
	chunksUnmapped atomic.Uint64
	mapFailures    atomic.Uint64
}

// New creates an Allocator.
func New(cfg Config) *Allocator {
	if cfg.PoolSize == 0 {
		cfg.PoolSize = DefaultPoolSize
	}

	if cfg.PoolSize < 0 {
		cfg.PoolSize = 0
	}

	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}

	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}

	return &Allocator{
		rc:         cfg.Controller,
		poolSize:   cfg.PoolSize,
		retries:    cfg.Retries,
		limiter:    rate.NewLimiter(rate.Every(cfg.RetryInterval), 1),
		mapAligned: mmap.MapAligned,
	}
}

// AllocChunk returns a ChunkSize mapping aligned to ChunkSize. With stall set
// the call may block until memory is available or ctx is done.
func (a *Allocator) AllocChunk(ctx context.Context, stall bool) ([]byte, error) {
	if b := a.popPool(); b != nil {
		if err := mmap.Commit(b); err != nil {
			a.RecycleChunk(b)
			return nil, fmt.Errorf("pages: commit chunk: %w", err)
		}

		a.chunksReused.Add(1)

		return b, nil
	}

	b, err := a.MapAligned(ctx, sizeclass.ChunkSize, sizeclass.ChunkSize, stall)
	if err != nil {
		return nil, err
	}

	a.chunksMapped.Add(1)

	return b, nil
}

func (a *Allocator) popPool() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.pool)
	if n == 0 {
		return nil
	}

	b := a.pool[n-1]
	a.pool[n-1] = nil
	a.pool = a.pool[:n-1]

	return b
}

// RecycleChunk returns a chunk obtained from AllocChunk.
// It may be called concurrently with AllocChunk; b is decommitted before it
// becomes visible in the pool.
func (a *Allocator) RecycleChunk(b []byte) {
	a.mu.Lock()
	full := len(a.pool) >= a.poolSize
	a.mu.Unlock()

	if !full {
		_ = mmap.Decommit(b)

		a.mu.Lock()
		if len(a.pool) < a.poolSize {
			a.pool = append(a.pool, b)
			a.mu.Unlock()

			return
		}
		a.mu.Unlock()
	}

	_ = a.Unmap(b)
}

// MapAligned maps size bytes aligned to align.
func (a *Allocator) MapAligned(ctx context.Context, size, align int, stall bool) ([]byte, error) {
	if err := a.reserve(ctx, int64(size), stall); err != nil {
		return nil, err
	}

	b, err := a.mapAligned(size, align)
	for attempt := 0; err != nil && stall && attempt < a.retries; attempt++ {
		if werr := a.limiter.Wait(ctx); werr != nil {
			break
		}

		b, err = a.mapAligned(size, align)
	}

	if err != nil {
		a.rc.ReleaseMemory(int64(size))
		a.mapFailures.Add(1)

		return nil, fmt.Errorf("%w: map %d bytes: %v", ErrExhausted, size, err)
	}

	a.mapped.Add(int64(size))

	return b, nil
}

func (a *Allocator) reserve(ctx context.Context, bytes int64, stall bool) error {
	var err error
	if stall {
		err = a.rc.WaitMemory(ctx, bytes)
	} else {
		err = a.rc.AcquireMemory(bytes)
	}

	if err != nil {
		a.mapFailures.Add(1)
		return fmt.Errorf("%w: %w", ErrExhausted, err)
	}

	return nil
}

// Unmap releases a mapping obtained from MapAligned or AllocChunk.
func (a *Allocator) Unmap(b []byte) error {
	if len(b) == 0 {
		return nil
	}

	if err := mmap.Unmap(b); err != nil {
		return fmt.Errorf("pages: unmap: %w", err)
	}

	a.release(len(b))

	if len(b) == sizeclass.ChunkSize {
		a.chunksUnmapped.Add(1)
	}

	return nil
}

// UnmapTail releases the pages of b after the first keep bytes.
func (a *Allocator) UnmapTail(b []byte, keep int) error {
	if err := mmap.UnmapTail(b, keep); err != nil {
		return err
	}

	a.release(len(b) - keep)

	return nil
}

func (a *Allocator) release(n int) {
	a.mapped.Add(-int64(n))
	a.rc.ReleaseMemory(int64(n))
}

// Decommit releases the physical pages backing b.
func (a *Allocator) Decommit(b []byte) error { return mmap.Decommit(b) }

// Commit makes decommitted pages usable again.
func (a *Allocator) Commit(b []byte) error { return mmap.Commit(b) }

// Stats returns a snapshot of allocator activity.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	pooled := len(a.pool)
	a.mu.Unlock()

	return Stats{
		MappedBytes:    a.mapped.Load(),
		PooledChunks:   pooled,
		ChunksMapped:   a.chunksMapped.Load(),
		ChunksReused:   a.chunksReused.Load(),
		ChunksUnmapped: a.chunksUnmapped.Load(),
		MapFailures:    a.mapFailures.Load(),
	}
}

// Close unmaps every pooled chunk.
func (a *Allocator) Close() error {
	a.mu.Lock()
	pool := a.pool
	a.pool = nil
	a.mu.Unlock()

	var errs []error
	for _, b := range pool {
		errs = append(errs, a.Unmap(b))
	}

	return errors.Join(errs...)
}
