package bufalloc

import (
	"github.com/hupe1980/bufalloc/internal/resource"
)

// ResourceConfig configures a ResourceController.
type ResourceConfig = resource.Config

// ResourceController bounds mapped memory, background sweep concurrency and
// the decommit rate. One controller may be shared by many allocators.
type ResourceController = resource.Controller

// ResourceUsage is a snapshot of a ResourceController.
type ResourceUsage = resource.Usage

// NewResourceController creates a ResourceController.
func NewResourceController(cfg ResourceConfig) *ResourceController {
	return resource.NewController(cfg)
}

type options struct {
	pageAllocator    PageAllocator
	heap             Heap
	rc               *resource.Controller
	memoryLimit      int64
	logger           *Logger
	metricsCollector MetricsCollector
	zone             int
	decommit         bool
	chunkPoolSize    int
}

// Option configures an Allocator.
type Option func(*options)

// WithPageAllocator configures the source of chunk memory.
//
// If nil is passed, a private page allocator is created and closed together
// with the Allocator. A page allocator passed here is not closed.
func WithPageAllocator(pa PageAllocator) Option {
	return func(o *options) {
		o.pageAllocator = pa
	}
}

// WithHeap configures the receiver of tenured heap-size accounting.
//
// If nil is passed, a HeapCounter without threshold is used.
func WithHeap(h Heap) Option {
	return func(o *options) {
		o.heap = h
	}
}

// WithResourceController shares a ResourceController between allocators.
// The controller accounts the memory of the private page allocator, limits
// concurrent sweep tasks and paces decommit.
func WithResourceController(rc *ResourceController) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithMemoryLimit creates a private ResourceController limiting mapped memory
// to limit bytes. It is ignored when WithResourceController is given.
func WithMemoryLimit(limit int64) Option {
	return func(o *options) {
		o.memoryLimit = limit
	}
}

// WithLogger configures structured logging.
// Pass nil to disable logging (default).
func WithLogger(l *Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &bufalloc.BasicMetricsCollector{}
//	a, _ := bufalloc.New(bufalloc.WithMetricsCollector(metrics))
//	// ... use allocator ...
//	stats := metrics.GetStats()
//	fmt.Printf("Chunks: %d\n", stats.ChunkAllocs)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithZone tags the allocator and its chunks with a zone id.
func WithZone(zone int) Option {
	return func(o *options) {
		o.zone = zone
	}
}

// WithDecommit makes sweep tasks decommit free pages during major sweeps.
func WithDecommit(enabled bool) Option {
	return func(o *options) {
		o.decommit = enabled
	}
}

// WithChunkPoolSize sets the number of recycled chunks the private page
// allocator keeps mapped. Negative disables pooling.
func WithChunkPoolSize(n int) Option {
	return func(o *options) {
		o.chunkPoolSize = n
	}
}
