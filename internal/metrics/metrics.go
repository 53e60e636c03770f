// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is implemented by metric sinks used by the pipeline.
type Recorder interface {
	RecordDiscovered(count int)
	RecordDropped(reason string)
	RecordMatched()
	RecordMedia(source string)
	RecordDelivery(result string)
	RecordRefresh()
	RecordPoolStates(stages map[string]int)
}

// Collector records pipeline metrics in Prometheus.
type Collector struct {
	discovered prometheus.Counter
	dropped    *prometheus.CounterVec
	matched    prometheus.Counter
	media      *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	refreshes  prometheus.Counter
	poolStates *prometheus.GaugeVec
}

// NewCollector creates a Collector and registers it on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		discovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subwatch_discovered_total",
			Help: "Submission ids queued by the gatherer.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subwatch_dropped_total",
			Help: "Submissions dropped before delivery.",
		}, []string{"reason"}),
		matched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subwatch_matched_total",
			Help: "Submissions matching at least one subscription.",
		}),
		media: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subwatch_media_total",
			Help: "Prepared media by source.",
		}, []string{"source"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subwatch_deliveries_total",
			Help: "Per-destination deliveries by result.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subwatch_refresh_total",
			Help: "Submissions sent back for a refresh after their media vanished.",
		}),
		poolStates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "subwatch_pool_states",
			Help: "In-flight submissions by pipeline stage.",
		}, []string{"stage"}),
	}

	reg.MustRegister(
		c.discovered,
		c.dropped,
		c.matched,
		c.media,
		c.deliveries,
		c.refreshes,
		c.poolStates,
	)

	return c
}

func (c *Collector) RecordDiscovered(count int) {
	c.discovered.Add(float64(count))
}

func (c *Collector) RecordDropped(reason string) {
	c.dropped.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordMatched() {
	c.matched.Inc()
}

func (c *Collector) RecordMedia(source string) {
	c.media.WithLabelValues(source).Inc()
}

func (c *Collector) RecordDelivery(result string) {
	c.deliveries.WithLabelValues(result).Inc()
}

func (c *Collector) RecordRefresh() {
	c.refreshes.Inc()
}

// RecordPoolStates replaces the stage gauges with the given counts.
func (c *Collector) RecordPoolStates(stages map[string]int) {
	for stage, n := range stages {
		c.poolStates.WithLabelValues(stage).Set(float64(n))
	}
}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards every metric.
type Nop struct{}

func (Nop) RecordDiscovered(int)            {}
func (Nop) RecordDropped(string)            {}
func (Nop) RecordMatched()                  {}
func (Nop) RecordMedia(string)              {}
func (Nop) RecordDelivery(string)           {}
func (Nop) RecordRefresh()                  {}
func (Nop) RecordPoolStates(map[string]int) {}
