package bufalloc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hupe1980/bufalloc/internal/pages"
	"github.com/hupe1980/bufalloc/internal/resource"
	"github.com/hupe1980/bufalloc/internal/sizeclass"
	"github.com/hupe1980/bufalloc/internal/space"
)

// Allocator is a per-zone buffer allocator.
//
// All methods except the Sweep* functions must be called from the goroutine
// that owns the allocator. SweepForMinorCollection and
// SweepForMajorCollection may run on any goroutine concurrently with the
// owner.
type Allocator struct {
	pa      PageAllocator
	ownedPA io.Closer
	heap    Heap
	rc      *resource.Controller
	logger  *Logger
	metrics MetricsCollector
	zone    int
	created time.Time

	decommit bool

	state gcState

	// chunks maps chunk base addresses to chunks owned by this allocator.
	chunks map[uintptr]*bufferChunk

	// freeLists holds the free regions of the current chunks.
	freeLists space.Lists

	mixedChunks      chunkList
	tenuredChunks    chunkList
	availableMixed   chunkLists
	availableTenured chunkLists
	tenuredToSweep   chunkList

	largeMu sync.Mutex
	large   map[Ptr]*largeBuffer

	largeNursery        largeList
	largeNurseryToSweep largeList
	largeTenured        largeList
	largeTenuredToSweep largeList

	minorJob     chan *sweepJob
	majorJob     chan *sweepJob
	minorResults chan sweepResult
	majorResults chan sweepResult

	counters atomicCounters
	closed   bool
}

// New creates an Allocator.
func New(optFns ...Option) (*Allocator, error) {
	opts := options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	rc := opts.rc
	if rc == nil && opts.memoryLimit > 0 {
		rc = resource.NewController(resource.Config{MemoryLimitBytes: opts.memoryLimit})
	}

	a := &Allocator{
		pa:       opts.pageAllocator,
		heap:     opts.heap,
		rc:       rc,
		logger:   opts.logger,
		metrics:  opts.metricsCollector,
		zone:     opts.zone,
		created:  time.Now(),
		decommit: opts.decommit,
		chunks:   make(map[uintptr]*bufferChunk),
		large:    make(map[Ptr]*largeBuffer),
		minorJob: make(chan *sweepJob, 1),
		majorJob: make(chan *sweepJob, 1),
	}

	if a.pa == nil {
		pa := pages.New(pages.Config{Controller: rc, PoolSize: opts.chunkPoolSize})
		a.pa = pa
		a.ownedPA = pa
	}

	if a.heap == nil {
		a.heap = NewHeapCounter(0, nil)
	}

	if a.logger == nil {
		a.logger = NoopLogger()
	}
	a.logger = a.logger.WithZone(a.zone)

	if a.metrics == nil {
		a.metrics = NoopMetricsCollector{}
	}

	return a, nil
}

// Close releases every chunk and large buffer. It fails with ErrBusy while a
// collection is in progress.
func (a *Allocator) Close() error {
	if a == nil || a.closed {
		return nil
	}

	a.mergeSweptData()
	if a.state != stateIdle {
		return ErrBusy
	}

	var errs []error

	for _, c := range a.chunks {
		a.pa.RecycleChunk(c.data)
	}
	clear(a.chunks)

	a.largeMu.Lock()
	for _, b := range a.large {
		errs = append(errs, a.pa.Unmap(b.data))
	}
	clear(a.large)
	a.largeMu.Unlock()

	a.freeLists = space.Lists{}
	a.mixedChunks, a.tenuredChunks, a.tenuredToSweep = chunkList{}, chunkList{}, chunkList{}
	a.availableMixed, a.availableTenured = chunkLists{}, chunkLists{}
	a.largeNursery, a.largeNurseryToSweep = largeList{}, largeList{}
	a.largeTenured, a.largeTenuredToSweep = largeList{}, largeList{}

	if a.ownedPA != nil {
		errs = append(errs, a.ownedPA.Close())
	}

	a.closed = true

	return errors.Join(errs...)
}

// Zone returns the zone id of the allocator.
func (a *Allocator) Zone() int { return a.zone }

// Alloc allocates a buffer of at least bytes bytes. Nursery-owned buffers
// belong to the minor generation until they are promoted by TraceEdge.
//
// It returns Null and an *AllocError wrapping ErrOutOfMemory when memory is
// exhausted, and ErrInvalidSize for sizes <= 0.
func (a *Allocator) Alloc(bytes int, nurseryOwned bool) (Ptr, error) {
	return a.alloc(context.Background(), bytes, nurseryOwned, false)
}

// AllocDuringCollection allocates while a minor collection is marking. The
// request may wait for memory, and a nursery-owned result is marked so that
// it survives the collection in progress.
func (a *Allocator) AllocDuringCollection(ctx context.Context, bytes int, nurseryOwned bool) (Ptr, error) {
	if !a.state.minorMarking() {
		return Null, fmt.Errorf("%w: %s", ErrInvalidState, a.state)
	}

	p, err := a.alloc(ctx, bytes, nurseryOwned, true)
	if err != nil {
		return Null, err
	}

	if nurseryOwned {
		a.markNurseryOwned(p)
	}

	return p, nil
}

func (a *Allocator) alloc(ctx context.Context, bytes int, nurseryOwned, stall bool) (Ptr, error) {
	if a.closed {
		return Null, ErrClosed
	}

	if bytes <= 0 {
		return Null, fmt.Errorf("%w: %d", ErrInvalidSize, bytes)
	}

	tier := sizeclass.Tier(bytes)

	var (
		p   Ptr
		err error
	)

	switch tier {
	case sizeclass.Small:
		p, err = a.allocSmall(ctx, bytes, nurseryOwned, stall)
	case sizeclass.Medium:
		p, err = a.allocMedium(ctx, bytes, nurseryOwned, stall)
	default:
		p, err = a.allocLarge(ctx, bytes, nurseryOwned, stall)
	}

	if err != nil {
		if errors.Is(err, ErrInvalidSize) {
			return Null, fmt.Errorf("%w: %d", ErrInvalidSize, bytes)
		}

		a.counters.allocFailures.Add(1)
		a.metrics.RecordAllocFailure(bytes)
		a.logger.LogAllocFailure(ctx, bytes, err)

		return Null, &AllocError{Tier: tier, Bytes: bytes, cause: err}
	}

	return p, nil
}

// Free frees the buffer at p. Freeing is best effort: it reports false when p
// is not a live buffer or when its chunk or generation is being swept, in
// which case the sweep reclaims the buffer if it is unreachable.
func (a *Allocator) Free(p Ptr) bool {
	if p == Null || a.closed {
		return false
	}

	return a.free(p)
}

func (a *Allocator) free(p Ptr) bool {
	if p.isLarge() {
		b := a.lookupLarge(p)
		if b == nil {
			return false
		}

		return a.freeLarge(b)
	}

	chunk := a.chunkFor(p)
	if chunk == nil || a.isSweeping(chunk) {
		return false
	}

	sp, region, off := chunk.spaceFor(p.chunkOffset())
	if !sp.Aligned(off) || !sp.IsAllocated(off) {
		return false
	}

	if region != nil {
		return a.freeSmall(chunk, region, off)
	}

	return a.freeMedium(chunk, off)
}

// Realloc resizes the buffer at p to bytes. A Null p allocates. Medium and
// large buffers are resized in place when possible; otherwise a new buffer is
// allocated, the contents are copied and p is freed. On failure p remains
// valid.
func (a *Allocator) Realloc(p Ptr, bytes int, nurseryOwned bool) (Ptr, error) {
	if p == Null {
		return a.Alloc(bytes, nurseryOwned)
	}

	if a.closed {
		return Null, ErrClosed
	}

	if bytes <= 0 {
		return Null, fmt.Errorf("%w: %d", ErrInvalidSize, bytes)
	}

	oldBytes := a.AllocSize(p)
	if oldBytes == 0 {
		return Null, fmt.Errorf("%w: %#x is not a buffer", ErrInvalidState, uintptr(p))
	}

	if bytes <= maxLargeAllocSize {
		newBytes := sizeclass.GoodAllocSize(bytes)

		if newBytes == oldBytes {
			return p, nil
		}

		if a.resizeInPlace(p, oldBytes, newBytes) {
			return p, nil
		}
	}

	q, err := a.Alloc(bytes, nurseryOwned)
	if err != nil {
		return Null, err
	}

	copy(a.Bytes(q), a.Bytes(p)[:min(oldBytes, a.AllocSize(q))])
	a.free(p)

	return q, nil
}

func (a *Allocator) resizeInPlace(p Ptr, oldBytes, newBytes int) bool {
	if p.isLarge() {
		b := a.lookupLarge(p)
		if b == nil || newBytes > oldBytes || !sizeclass.IsLarge(newBytes) {
			return false
		}

		return a.shrinkLarge(b, newBytes)
	}

	chunk := a.chunkFor(p)
	if chunk == nil || chunk.smallRegionAt(p.chunkOffset()) != nil {
		return false
	}

	off := p.chunkOffset()
	if newBytes < oldBytes {
		if sizeclass.IsSmall(newBytes) {
			return false
		}

		return a.shrinkMedium(chunk, off, oldBytes, newBytes)
	}

	if sizeclass.IsLarge(newBytes) {
		return false
	}

	return a.growMedium(chunk, off, oldBytes, newBytes)
}

// AllocSize returns the usable size of the buffer at p, or 0 if p is not a
// buffer.
func (a *Allocator) AllocSize(p Ptr) int {
	if p.isLarge() {
		if b := a.lookupLarge(p); b != nil {
			return b.allocBytes()
		}

		return 0
	}

	sp, off, ok := a.lookupSmallOrMedium(p)
	if !ok {
		return 0
	}

	return sp.AllocBytes(off)
}

// Bytes returns the memory of the buffer at p, or nil if p is not a buffer.
// The slice is valid until the buffer is freed or swept.
func (a *Allocator) Bytes(p Ptr) []byte {
	if p.isLarge() {
		if b := a.lookupLarge(p); b != nil {
			return b.data
		}

		return nil
	}

	chunk := a.chunkFor(p)
	if chunk == nil {
		return nil
	}

	sp, region, off := chunk.spaceFor(p.chunkOffset())
	if !sp.Aligned(off) || !sp.IsAllocated(off) {
		return nil
	}

	if region != nil {
		return region.slice(off, sp.AllocBytes(off))
	}

	return chunk.slice(off, sp.AllocBytes(off))
}

// IsBufferAlloc reports whether p is a live buffer of this allocator.
func (a *Allocator) IsBufferAlloc(p Ptr) bool {
	if p.isLarge() {
		return a.lookupLarge(p) != nil
	}

	_, _, ok := a.lookupSmallOrMedium(p)

	return ok
}

// IsNurseryOwned reports whether the buffer at p is nursery owned.
func (a *Allocator) IsNurseryOwned(p Ptr) bool {
	if p.isLarge() {
		b := a.lookupLarge(p)
		return b != nil && b.isNurseryOwned
	}

	sp, off, ok := a.lookupSmallOrMedium(p)

	return ok && sp.IsNurseryOwned(off)
}

// IsMarkedBlack reports whether the buffer at p is marked.
func (a *Allocator) IsMarkedBlack(p Ptr) bool {
	if p.isLarge() {
		b := a.lookupLarge(p)
		return b != nil && b.isMarked()
	}

	sp, off, ok := a.lookupSmallOrMedium(p)

	return ok && sp.IsMarked(off)
}

// IsPointerWithinBuffer reports whether addr points into a live buffer.
func (a *Allocator) IsPointerWithinBuffer(addr uintptr) bool {
	if chunk := a.chunks[addr&^uintptr(sizeclass.ChunkMask)]; chunk != nil {
		sp, _, off := chunk.spaceFor(int(addr & sizeclass.ChunkMask))

		start := sp.PrevAllocated(off + 1)
		if start < 0 {
			return false
		}

		return off < start+sp.AllocBytes(start)
	}

	a.largeMu.Lock()
	defer a.largeMu.Unlock()

	for p, b := range a.large {
		if addr >= uintptr(p) && addr < uintptr(p)+uintptr(b.allocBytes()) {
			return true
		}
	}

	return false
}

func (a *Allocator) chunkFor(p Ptr) *bufferChunk { return a.chunks[p.chunkBase()] }

func (a *Allocator) lookupSmallOrMedium(p Ptr) (*space.Space, int, bool) {
	chunk := a.chunkFor(p)
	if chunk == nil {
		return nil, 0, false
	}

	sp, _, off := chunk.spaceFor(p.chunkOffset())
	if !sp.Aligned(off) || !sp.IsAllocated(off) {
		return nil, 0, false
	}

	return sp, off, true
}
