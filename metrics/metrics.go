// Package metrics exposes the sampling loop and sink health to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"simlink/provider"
)

// Collector records provider loop measurements. It implements
// provider.Observer.
type Collector struct {
	registry *prometheus.Registry

	iterations prometheus.Counter
	samples    prometheus.Counter
	errors     prometheus.Counter
	reconnects prometheus.Counter
	connected  prometheus.Gauge
	running    prometheus.Gauge
	state      prometheus.Gauge
	dispatch   prometheus.Histogram
}

var _ provider.Observer = (*Collector)(nil)

// New creates a collector with its own registry, including the Go runtime
// and process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simlink_provider_iterations_total",
			Help: "Sampling loop iterations.",
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simlink_provider_samples_total",
			Help: "Fresh samples published to subscribers.",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simlink_provider_errors_total",
			Help: "Source errors and recovered panics.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simlink_provider_reconnects_total",
			Help: "Connect attempts against the raw source.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simlink_provider_connected",
			Help: "1 when the raw source is connected.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simlink_provider_running",
			Help: "1 when fresh samples are arriving.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simlink_provider_state",
			Help: "Loop state: 0 disconnected, 1 connecting, 2 idle, 3 running.",
		}),
		dispatch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simlink_provider_dispatch_seconds",
			Help:    "Time spent notifying subscribers and committing state per sample.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}

	c.registry.MustRegister(
		c.iterations, c.samples, c.errors, c.reconnects,
		c.connected, c.running, c.state, c.dispatch,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler returns the HTTP handler serving the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveIteration records one loop iteration ending in state s.
func (c *Collector) ObserveIteration(s provider.ConnectionState) {
	c.iterations.Inc()
	c.state.Set(float64(s))
	c.connected.Set(boolGauge(s.IsConnected()))
	c.running.Set(boolGauge(s == provider.StateConnectedRunning))
}

// ObserveSample records one published sample.
func (c *Collector) ObserveSample(d time.Duration) {
	c.samples.Inc()
	c.dispatch.Observe(d.Seconds())
}

// ObserveError records a source error.
func (c *Collector) ObserveError(error) {
	c.errors.Inc()
}

// ObserveReconnect records a connect attempt.
func (c *Collector) ObserveReconnect() {
	c.reconnects.Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
