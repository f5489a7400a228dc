// Package metrics exposes Prometheus metrics for the stream.
//
// Event-driven series (ticks, flushes, connection state) are updated from
// the event bus. Cache, orchestrator and buffer figures are read from the
// components' own Stats at scrape time through StatsCollector.
package metrics
