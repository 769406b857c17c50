package prom

import (
	"slices"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/bufalloc"
)

var (
	usedBytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "used_bytes"),
		"Bytes in live allocations.", []string{"zone"}, nil)
	freeBytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "free_bytes"),
		"Bytes in tracked free regions.", []string{"zone"}, nil)
	adminBytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "admin_bytes"),
		"Bytes used for chunk headers and large buffer metadata.", []string{"zone"}, nil)
	decommittedBytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "decommitted_bytes"),
		"Free bytes returned to the operating system.", []string{"zone"}, nil)
	chunksDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "chunks"),
		"Chunks by list.", []string{"zone", "list"}, nil)
	smallRegionsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "small_regions"),
		"Small regions by kind.", []string{"zone", "kind"}, nil)
	freeRegionsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "free_regions"),
		"Tracked free regions.", []string{"zone"}, nil)
	largeBuffersDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "large_buffers"),
		"Large buffers by generation.", []string{"zone", "generation"}, nil)
	reservedBytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "reserved_bytes"),
		"Bytes reserved from the zone's resource controller.", []string{"zone"}, nil)
	peakReservedBytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "peak_reserved_bytes"),
		"Highest reservation of the zone's resource controller.", []string{"zone"}, nil)
)

type snapshot struct {
	stats bufalloc.Stats
	usage bufalloc.ResourceUsage
}

// StatsCollector is a prometheus.Collector publishing the latest
// bufalloc.Stats snapshot of each observed zone.
type StatsCollector struct {
	mu    sync.Mutex
	zones map[int]snapshot
}

var _ prometheus.Collector = (*StatsCollector)(nil)

// NewStatsCollector creates an empty StatsCollector.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{zones: make(map[int]snapshot)}
}

// Observe records a snapshot of a. It must be called on the goroutine that
// owns a.
func (c *StatsCollector) Observe(a *bufalloc.Allocator) {
	s := snapshot{stats: a.Stats(), usage: a.ResourceUsage()}

	c.mu.Lock()
	c.zones[a.Zone()] = s
	c.mu.Unlock()
}

// Forget drops the snapshot of zone.
func (c *StatsCollector) Forget(zone int) {
	c.mu.Lock()
	delete(c.zones, zone)
	c.mu.Unlock()
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		usedBytesDesc, freeBytesDesc, adminBytesDesc, decommittedBytesDesc,
		chunksDesc, smallRegionsDesc, freeRegionsDesc, largeBuffersDesc,
		reservedBytesDesc, peakReservedBytesDesc,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	zones := make(map[int]snapshot, len(c.zones))
	for z, s := range c.zones {
		zones[z] = s
	}
	c.mu.Unlock()

	ids := make([]int, 0, len(zones))
	for z := range zones {
		ids = append(ids, z)
	}
	slices.Sort(ids)

	for _, z := range ids {
		s, u := zones[z].stats, zones[z].usage
		zone := strconv.Itoa(z)

		gauge := func(d *prometheus.Desc, v int, labels ...string) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v), append([]string{zone}, labels...)...)
		}

		gauge(usedBytesDesc, s.UsedBytes)
		gauge(freeBytesDesc, s.FreeBytes)
		gauge(adminBytesDesc, s.AdminBytes)
		gauge(decommittedBytesDesc, s.DecommittedBytes)

		gauge(chunksDesc, s.MixedChunks, "mixed")
		gauge(chunksDesc, s.TenuredChunks, "tenured")
		gauge(chunksDesc, s.AvailableMixedChunks, "available_mixed")
		gauge(chunksDesc, s.AvailableTenuredChunks, "available_tenured")

		gauge(smallRegionsDesc, s.MixedSmallRegions, "mixed")
		gauge(smallRegionsDesc, s.TenuredSmallRegions, "tenured")

		gauge(freeRegionsDesc, s.FreeRegions)

		gauge(largeBuffersDesc, s.LargeNurseryAllocs, bufalloc.Minor.String())
		gauge(largeBuffersDesc, s.LargeTenuredAllocs, bufalloc.Major.String())

		gauge(reservedBytesDesc, int(u.MemoryBytes))
		gauge(peakReservedBytesDesc, int(u.PeakMemoryBytes))
	}
}
