package webstash

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Hits   uint64
	Misses uint64
	Errors uint64
}

// HitRate returns hits over lookups, or 0 before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns the counters accumulated since the cache was created.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errs.Load(),
	}
}

var (
	descHits = prometheus.NewDesc(
		"webstash_hits_total",
		"Number of cache lookups answered from the backend.",
		nil, nil,
	)
	descMisses = prometheus.NewDesc(
		"webstash_misses_total",
		"Number of cache lookups that missed.",
		nil, nil,
	)
	descErrors = prometheus.NewDesc(
		"webstash_errors_total",
		"Number of backend operations that failed.",
		nil, nil,
	)
)

// StatsCollector exposes a cache's counters to Prometheus. Register
// it with any prometheus.Registerer.
type StatsCollector struct {
	cache *Cache
}

// NewStatsCollector builds a collector over c.
func NewStatsCollector(c *Cache) *StatsCollector {
	return &StatsCollector{cache: c}
}

func (sc *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descHits
	ch <- descMisses
	ch <- descErrors
}

func (sc *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := sc.cache.Stats()
	ch <- prometheus.MustNewConstMetric(descHits, prometheus.CounterValue, float64(stats.Hits))
	ch <- prometheus.MustNewConstMetric(descMisses, prometheus.CounterValue, float64(stats.Misses))
	ch <- prometheus.MustNewConstMetric(descErrors, prometheus.CounterValue, float64(stats.Errors))
}
