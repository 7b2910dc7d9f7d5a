// Package telemetry exports probe and graph measurements to Prometheus.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"igmap/internal/model"
)

const namespace = "igmap"

// Collector implements ig.Observer and graph.EdgeObserver.
type Collector struct {
	registry      *prometheus.Registry
	probesTotal   *prometheus.CounterVec
	probeDuration prometheus.Histogram
	nodeLatency   *prometheus.GaugeVec
	edgeDistance  *prometheus.GaugeVec
	edgeFactor    *prometheus.GaugeVec
}

// NewCollector registers its metrics on a private registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		probesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_total",
				Help:      "Latency probes by outcome (ok or fallback)",
			},
			[]string{"result"},
		),
		probeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Wall-clock time spent probing one node",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		nodeLatency: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "node_latency_ms",
				Help:      "Latest recorded latency per node",
			},
			[]string{"node", "fallback"},
		),
		edgeDistance: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "edge_ig_distance_km",
				Help:      "IG distance of the latest graph edges",
			},
			[]string{"from", "to"},
		),
		edgeFactor: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "edge_ig_factor",
				Help:      "IG factor of the latest graph edges",
			},
			[]string{"from", "to"},
		),
	}

	c.registry.MustRegister(c.probesTotal, c.probeDuration, c.nodeLatency, c.edgeDistance, c.edgeFactor)
	return c
}

func (c *Collector) ObserveProbe(node string, latencyMs float64, took time.Duration, fallback bool) {
	result := "ok"
	if fallback {
		result = "fallback"
	}
	c.probesTotal.WithLabelValues(result).Inc()
	c.probeDuration.Observe(took.Seconds())
	c.nodeLatency.DeletePartialMatch(prometheus.Labels{"node": node})
	c.nodeLatency.WithLabelValues(node, boolLabel(fallback)).Set(latencyMs)
}

func (c *Collector) ObserveEdge(from, to string, r model.IGResult) {
	c.edgeDistance.WithLabelValues(from, to).Set(r.IGDistanceKm)
	c.edgeFactor.WithLabelValues(from, to).Set(r.IGFactor)
}

// Gatherer exposes the private registry, mainly for tests.
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.registry
}

// Handler serves the metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
