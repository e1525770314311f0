// Package metrics exports pipeline counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmylchreest/framecast/internal/buffer"
	"github.com/jmylchreest/framecast/internal/frame"
	"github.com/jmylchreest/framecast/internal/sink"
)

const namespace = "framecast"

// Collector records router and sink events on a private registry.
type Collector struct {
	registry *prometheus.Registry

	framesQueued    *prometheus.CounterVec
	framesEvicted   *prometheus.CounterVec
	channelMismatch *prometheus.CounterVec

	sinkConsumed *prometheus.CounterVec
	sinkFailed   *prometheus.CounterVec
	sinkDropped  *prometheus.CounterVec
	sinkBytes    *prometheus.CounterVec
	sinkLatency  *prometheus.HistogramVec
	sinkPending  *prometheus.GaugeVec
}

var (
	_ sink.Observer   = (*Collector)(nil)
	_ buffer.Observer = (*Collector)(nil)
)

// NewCollector creates a Collector with Go runtime and process collectors
// registered alongside the pipeline metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		framesQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "frames_queued_total",
			Help:      "Frames accepted into a channel queue.",
		}, []string{"channel"}),
		framesEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "frames_evicted_total",
			Help:      "Frames dropped from a full channel queue.",
		}, []string{"channel"}),
		channelMismatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "channel_mismatch_total",
			Help:      "Frames delivered for a channel with no queue.",
		}, []string{"channel"}),
		sinkConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "frames_consumed_total",
			Help:      "Frames a sink consumed successfully.",
		}, []string{"sink"}),
		sinkFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "frames_failed_total",
			Help:      "Frames a sink failed to consume.",
		}, []string{"sink"}),
		sinkDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "frames_dropped_total",
			Help:      "Frames discarded by an asynchronous sink before consumption.",
		}, []string{"sink"}),
		sinkBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "bytes_consumed_total",
			Help:      "Payload bytes consumed by a sink.",
		}, []string{"sink"}),
		sinkLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "consume_duration_seconds",
			Help:      "Time spent consuming one frame.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{"sink"}),
		sinkPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "pending_frames",
			Help:      "Frames waiting in an asynchronous sink queue.",
		}, []string{"sink"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.framesQueued,
		c.framesEvicted,
		c.channelMismatch,
		c.sinkConsumed,
		c.sinkFailed,
		c.sinkDropped,
		c.sinkBytes,
		c.sinkLatency,
		c.sinkPending,
	)
	return c
}

// Registry returns the registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) FrameQueued(ch frame.Channel) {
	c.framesQueued.WithLabelValues(ch.String()).Inc()
}

func (c *Collector) FramesEvicted(ch frame.Channel, n int) {
	c.framesEvicted.WithLabelValues(ch.String()).Add(float64(n))
}

func (c *Collector) ChannelMismatch(ch frame.Channel) {
	c.channelMismatch.WithLabelValues(ch.String()).Inc()
}

func (c *Collector) FrameConsumed(name string, bytes int, elapsed time.Duration) {
	c.sinkConsumed.WithLabelValues(name).Inc()
	c.sinkBytes.WithLabelValues(name).Add(float64(bytes))
	c.sinkLatency.WithLabelValues(name).Observe(elapsed.Seconds())
}

func (c *Collector) FrameFailed(name string) {
	c.sinkFailed.WithLabelValues(name).Inc()
}

func (c *Collector) FramesDropped(name string, n int) {
	c.sinkDropped.WithLabelValues(name).Add(float64(n))
}

func (c *Collector) QueueDepth(name string, depth int) {
	c.sinkPending.WithLabelValues(name).Set(float64(depth))
}
