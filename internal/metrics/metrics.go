package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector struct {
	// Probe metrics
	probesTotal   *prometheus.CounterVec
	probeDuration prometheus.Histogram

	// Endpoint stats for the current run
	validEndpoints   prometheus.Gauge
	invalidEndpoints prometheus.Gauge

	// Group progress
	groupsProcessed prometheus.Counter
}

func NewCollector(namespace string) *Collector {
	return &Collector{
		probesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_total",
				Help:      "Total number of delay probes by result",
			},
			[]string{"result"},
		),
		probeDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_delay_seconds",
				Help:      "Measured endpoint round-trip delay in seconds",
				Buckets:   []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		validEndpoints: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "valid_endpoints",
				Help:      "Endpoints with a finite delay in the current run",
			},
		),
		invalidEndpoints: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "invalid_endpoints",
				Help:      "Endpoints that failed probing in the current run",
			},
		),
		groupsProcessed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "groups_processed_total",
				Help:      "Total number of proxy groups probed",
			},
		),
	}
}

func (c *Collector) RecordProbeSuccess(delaySeconds float64) {
	c.probesTotal.WithLabelValues("success").Inc()
	c.probeDuration.Observe(delaySeconds)
}

func (c *Collector) RecordProbeFailure() {
	c.probesTotal.WithLabelValues("failure").Inc()
}

func (c *Collector) SetValidEndpoints(count int) {
	c.validEndpoints.Set(float64(count))
}

func (c *Collector) SetInvalidEndpoints(count int) {
	c.invalidEndpoints.Set(float64(count))
}

func (c *Collector) RecordGroupProcessed() {
	c.groupsProcessed.Inc()
}
