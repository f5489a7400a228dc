package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/marketstream/internal/event"
	"github.com/rickgao/marketstream/internal/model"
)

const namespace = "marketstream"

var connectionStates = []model.ConnectionState{
	model.StateDisconnected,
	model.StateConnecting,
	model.StateConnected,
	model.StateDegraded,
	model.StateReconnecting,
}

// Metrics holds the service's Prometheus metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ticksTotal       prometheus.Counter
	flushesTotal     *prometheus.CounterVec
	flushedTicks     prometheus.Histogram
	connectionState  *prometheus.GaugeVec
	transitionsTotal *prometheus.CounterVec
	reconnectAttempt prometheus.Gauge

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates the metrics and registers them, plus any extra collectors.
func New(extra ...prometheus.Collector) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Ticks received for active topics.",
		}),
		flushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Stream buffer flushes by trigger.",
		}, []string{"reason"}),
		flushedTicks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_batch_ticks",
			Help:      "Ticks collapsed into each delivered update.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current upstream connection state, 0 otherwise.",
		}, []string{"state"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_transitions_total",
			Help:      "Connection state transitions by target state.",
		}, []string{"to"}),
		reconnectAttempt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_reconnect_attempt",
			Help:      "Current reconnect attempt, 0 when connected.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "endpoint", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}

	for _, s := range connectionStates {
		m.connectionState.WithLabelValues(string(s)).Set(0)
	}
	m.connectionState.WithLabelValues(string(model.StateDisconnected)).Set(1)

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ticksTotal,
		m.flushesTotal,
		m.flushedTicks,
		m.connectionState,
		m.transitionsTotal,
		m.reconnectAttempt,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)
	m.registry.MustRegister(extra...)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// OnEvent updates metrics from bus events.
func (m *Metrics) OnEvent(e event.Event) {
	switch ev := e.(type) {
	case event.TickArrived:
		m.ticksTotal.Inc()
	case event.FlushOccurred:
		m.flushesTotal.WithLabelValues(ev.Reason).Inc()
		m.flushedTicks.Observe(float64(ev.Count))
	case event.ConnectionStateChanged:
		m.connectionState.WithLabelValues(string(ev.From)).Set(0)
		m.connectionState.WithLabelValues(string(ev.To)).Set(1)
		m.transitionsTotal.WithLabelValues(string(ev.To)).Inc()
		m.reconnectAttempt.Set(float64(ev.Attempt))
	}
}

// Middleware records request counts and latency per route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
