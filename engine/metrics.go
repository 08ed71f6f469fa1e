package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports engine statistics to Prometheus. A nil *Metrics records
// nothing.
type Metrics struct {
	passDuration *prometheus.HistogramVec
	passes       *prometheus.CounterVec
	edges        prometheus.Gauge
	bufferUsage  prometheus.Gauge
	overruns     prometheus.Counter
	queueDepth   prometheus.Gauge
	staleHandles prometheus.Counter
}

// NewMetrics registers the engine metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		passDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signalgraph_pass_duration_seconds",
			Help:    "Duration of sampling passes and live drains",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14), // 50us to ~400ms
		}, []string{"mode"}),
		passes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalgraph_passes_total",
			Help: "Number of sampling passes and live drains",
		}, []string{"mode"}),
		edges: f.NewGauge(prometheus.GaugeOpts{
			Name: "signalgraph_edges",
			Help: "Number of edges in the edge table",
		}),
		bufferUsage: f.NewGauge(prometheus.GaugeOpts{
			Name: "signalgraph_buffer_usage_percent",
			Help: "Edge count relative to the configured buffer size",
		}),
		overruns: f.NewCounter(prometheus.CounterOpts{
			Name: "signalgraph_buffer_overruns_total",
			Help: "Passes that ended with more edges than the buffer size",
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "signalgraph_live_queue_depth",
			Help: "Pending live mode operations",
		}),
		staleHandles: f.NewCounter(prometheus.CounterOpts{
			Name: "signalgraph_stale_handles_total",
			Help: "Tracked objects found destroyed during a pass",
		}),
	}
}

func (m *Metrics) observePass(mode Mode, d time.Duration, edges, usage int, overrun bool) {
	if m == nil {
		return
	}
	m.passDuration.WithLabelValues(mode.String()).Observe(d.Seconds())
	m.passes.WithLabelValues(mode.String()).Inc()
	m.edges.Set(float64(edges))
	m.bufferUsage.Set(float64(usage))
	if overrun {
		m.overruns.Inc()
	}
}

func (m *Metrics) observeQueue(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) staleHandle() {
	if m == nil {
		return
	}
	m.staleHandles.Inc()
}
