package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hupe1980/bufalloc"
)

const namespace = "bufalloc"

// MetricsCollector implements bufalloc.MetricsCollector with Prometheus
// counters and histograms. It is safe for concurrent use.
type MetricsCollector struct {
	chunksAllocated prometheus.Counter
	chunksReleased  prometheus.Counter

	largeMapped        prometheus.Counter
	largeUnmapped      prometheus.Counter
	largeMappedBytes   prometheus.Counter
	largeUnmappedBytes prometheus.Counter

	sweepDuration *prometheus.HistogramVec
	sweptBytes    *prometheus.CounterVec

	allocFailures    prometheus.Counter
	allocFailedBytes prometheus.Counter
}

var _ bufalloc.MetricsCollector = (*MetricsCollector)(nil)

// NewMetricsCollector creates a MetricsCollector and registers its metrics
// with reg. A nil reg creates unregistered metrics.
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	f := promauto.With(reg)

	return &MetricsCollector{
		chunksAllocated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_allocated_total",
			Help:      "Total number of chunks obtained from the page allocator.",
		}),
		chunksReleased: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_released_total",
			Help:      "Total number of chunks returned to the page allocator.",
		}),
		largeMapped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "large_buffers_mapped_total",
			Help:      "Total number of large buffers mapped.",
		}),
		largeUnmapped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "large_buffers_unmapped_total",
			Help:      "Total number of large buffers unmapped.",
		}),
		largeMappedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "large_buffer_mapped_bytes_total",
			Help:      "Total bytes mapped for large buffers.",
		}),
		largeUnmappedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "large_buffer_unmapped_bytes_total",
			Help:      "Total bytes of large buffers unmapped.",
		}),
		sweepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of background sweeps.",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
		}, []string{"generation"}),
		sweptBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_bytes_total",
			Help:      "Total allocation bytes reclaimed by sweeps.",
		}, []string{"generation"}),
		allocFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alloc_failures_total",
			Help:      "Total number of failed allocations.",
		}),
		allocFailedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alloc_failed_bytes_total",
			Help:      "Total bytes requested by failed allocations.",
		}),
	}
}

// RecordChunkAlloc implements bufalloc.MetricsCollector.
func (m *MetricsCollector) RecordChunkAlloc() { m.chunksAllocated.Inc() }

// RecordChunkRelease implements bufalloc.MetricsCollector.
func (m *MetricsCollector) RecordChunkRelease() { m.chunksReleased.Inc() }

// RecordLargeAlloc implements bufalloc.MetricsCollector.
func (m *MetricsCollector) RecordLargeAlloc(bytes int) {
	m.largeMapped.Inc()
	m.largeMappedBytes.Add(float64(bytes))
}

// RecordLargeFree implements bufalloc.MetricsCollector.
func (m *MetricsCollector) RecordLargeFree(bytes int) {
	m.largeUnmapped.Inc()
	m.largeUnmappedBytes.Add(float64(bytes))
}

// RecordSweep implements bufalloc.MetricsCollector.
func (m *MetricsCollector) RecordSweep(gen bufalloc.Generation, duration time.Duration, bytesFreed int64) {
	m.sweepDuration.WithLabelValues(gen.String()).Observe(duration.Seconds())
	m.sweptBytes.WithLabelValues(gen.String()).Add(float64(bytesFreed))
}

// RecordAllocFailure implements bufalloc.MetricsCollector.
func (m *MetricsCollector) RecordAllocFailure(bytes int) {
	m.allocFailures.Inc()
	m.allocFailedBytes.Add(float64(bytes))
}
