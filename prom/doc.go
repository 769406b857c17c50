// Package prom exports allocator metrics to Prometheus.
//
// MetricsCollector receives allocator events through the
// bufalloc.MetricsCollector interface:
//
//	reg := prometheus.NewRegistry()
//	a, _ := bufalloc.New(bufalloc.WithMetricsCollector(prom.NewMetricsCollector(reg)))
//
// StatsCollector publishes heap snapshots. An Allocator belongs to one
// goroutine, so its owner pushes snapshots with Observe and scrapes read the
// latest one:
//
//	sc := prom.NewStatsCollector()
//	reg.MustRegister(sc)
//	// after each collection, on the owner goroutine:
//	sc.Observe(a)
package prom
