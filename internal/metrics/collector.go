package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/marketstream/internal/cache"
)

// Sources supplies point-in-time stats scraped on every collection.
// Nil funcs are skipped.
type Sources struct {
	Cache        func() []cache.Stats
	Orchestrator func() cache.OrchestratorStats
	BufferSize   func() int
	Symbols      func() int
}

// StatsCollector turns component stats into const metrics at scrape time.
type StatsCollector struct {
	src Sources

	hits        *prometheus.Desc
	misses      *prometheus.Desc
	evictions   *prometheus.Desc
	expirations *prometheus.Desc
	size        *prometheus.Desc
	maxSize     *prometheus.Desc

	inFlight  *prometheus.Desc
	computes  *prometheus.Desc
	joins     *prometheus.Desc
	failures  *prometheus.Desc
	abandoned *prometheus.Desc

	buffered *prometheus.Desc
	symbols  *prometheus.Desc
}

// NewStatsCollector creates a collector over src.
func NewStatsCollector(src Sources) *StatsCollector {
	ns := []string{"namespace"}
	desc := func(name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &StatsCollector{
		src:         src,
		hits:        desc("cache_hits_total", "Cache hits by namespace.", ns),
		misses:      desc("cache_misses_total", "Cache misses by namespace.", ns),
		evictions:   desc("cache_evictions_total", "LRU evictions by namespace.", ns),
		expirations: desc("cache_expirations_total", "TTL expirations by namespace.", ns),
		size:        desc("cache_entries", "Entries currently held by namespace.", ns),
		maxSize:     desc("cache_max_entries", "Configured capacity by namespace, 0 for unbounded.", ns),
		inFlight:    desc("compute_in_flight", "Computations currently running.", nil),
		computes:    desc("computes_total", "Computations started.", nil),
		joins:       desc("compute_joins_total", "Callers that joined an in-flight computation.", nil),
		failures:    desc("compute_failures_total", "Computations that returned an error.", nil),
		abandoned:   desc("compute_abandoned_total", "Computations cancelled after every caller left.", nil),
		buffered:    desc("stream_buffered_ticks", "Ticks waiting in stream buffers.", nil),
		symbols:     desc("subscribed_symbols", "Symbols currently subscribed.", nil),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.hits, c.misses, c.evictions, c.expirations, c.size, c.maxSize,
		c.inFlight, c.computes, c.joins, c.failures, c.abandoned,
		c.buffered, c.symbols,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	if c.src.Cache != nil {
		for _, s := range c.src.Cache() {
			ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits), s.Namespace)
			ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses), s.Namespace)
			ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.Evictions), s.Namespace)
			ch <- prometheus.MustNewConstMetric(c.expirations, prometheus.CounterValue, float64(s.Expirations), s.Namespace)
			ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(s.Size), s.Namespace)
			ch <- prometheus.MustNewConstMetric(c.maxSize, prometheus.GaugeValue, float64(s.MaxSize), s.Namespace)
		}
	}
	if c.src.Orchestrator != nil {
		o := c.src.Orchestrator()
		ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(o.InFlight))
		ch <- prometheus.MustNewConstMetric(c.computes, prometheus.CounterValue, float64(o.Computes))
		ch <- prometheus.MustNewConstMetric(c.joins, prometheus.CounterValue, float64(o.Joins))
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(o.Failures))
		ch <- prometheus.MustNewConstMetric(c.abandoned, prometheus.CounterValue, float64(o.Abandoned))
	}
	if c.src.BufferSize != nil {
		ch <- prometheus.MustNewConstMetric(c.buffered, prometheus.GaugeValue, float64(c.src.BufferSize()))
	}
	if c.src.Symbols != nil {
		ch <- prometheus.MustNewConstMetric(c.symbols, prometheus.GaugeValue, float64(c.src.Symbols()))
	}
}
