// Package telemetry exposes the supervisor's metrics to Prometheus.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/fieldops/fieldlink/internal/client"
)

const namespace = "fieldlink"

// Source is what the collector reads on every scrape.
// *client.Supervisor implements it.
type Source interface {
	State() client.State
	Metrics() client.Metrics
	QueueLen() int
}

// Collector snapshots a Source at scrape time, so the values always match
// what Metrics() reports.
type Collector struct {
	src Source

	state             *prometheus.Desc
	latency           *prometheus.Desc
	quality           *prometheus.Desc
	reconnectAttempts *prometheus.Desc
	messagesSent      *prometheus.Desc
	errors            *prometheus.Desc
	queueLength       *prometheus.Desc
}

// NewCollector creates a collector over src.
func NewCollector(src Source) *Collector {
	return &Collector{
		src: src,
		state: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "connection_state"),
			"Connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 closed).",
			nil, nil,
		),
		latency: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "latency_ms"),
			"Round-trip time of the most recent answered latency probe in milliseconds.",
			nil, nil,
		),
		quality: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "connection_quality"),
			"Connection quality (0 disconnected, 1 poor, 2 fair, 3 good, 4 excellent).",
			nil, nil,
		),
		reconnectAttempts: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "reconnect_attempts_total"),
			"Reconnect attempts scheduled since start.",
			nil, nil,
		),
		messagesSent: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "messages_sent_total"),
			"Outbound domain events handed to the transport.",
			nil, nil,
		),
		errors: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "errors_total"),
			"Transport, authentication and server errors observed.",
			nil, nil,
		),
		queueLength: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "outbound_queue_length"),
			"Events waiting in the outbound queue for a connection.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.latency
	ch <- c.quality
	ch <- c.reconnectAttempts
	ch <- c.messagesSent
	ch <- c.errors
	ch <- c.queueLength
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.src.Metrics()
	ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, float64(c.src.State()))
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, float64(m.LatencyMs))
	ch <- prometheus.MustNewConstMetric(c.quality, prometheus.GaugeValue, float64(m.Quality))
	ch <- prometheus.MustNewConstMetric(c.reconnectAttempts, prometheus.CounterValue, float64(m.ReconnectAttempts))
	ch <- prometheus.MustNewConstMetric(c.messagesSent, prometheus.CounterValue, float64(m.TotalMessagesSent))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(m.ErrorCount))
	ch <- prometheus.MustNewConstMetric(c.queueLength, prometheus.GaugeValue, float64(c.src.QueueLen()))
}

// NewRegistry returns a registry holding the supervisor collector plus the
// standard Go runtime and process collectors.
func NewRegistry(src Source) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
