// Package metrics exposes container activity to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lab-control/lcc/internal/adapter"
)

// Metrics owns a private registry so tests and multiple containers in one
// process never collide on the default registerer.
type Metrics struct {
	registry *prometheus.Registry

	cycles       *prometheus.CounterVec
	cycleLatency *prometheus.HistogramVec
	snapshotSeq  *prometheus.GaugeVec
	exchanges    *prometheus.CounterVec
	exchangeTime *prometheus.HistogramVec
	commands     *prometheus.CounterVec
	connected    *prometheus.GaugeVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lcc_poll_cycles_total",
			Help: "Telemetry poll cycles by instrument and outcome.",
		}, []string{"instrument", "outcome"}),
		cycleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lcc_poll_cycle_duration_seconds",
			Help:    "Duration of one telemetry read battery.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"instrument"}),
		snapshotSeq: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lcc_snapshot_sequence",
			Help: "Sequence number of the last published snapshot.",
		}, []string{"instrument"}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lcc_exchanges_total",
			Help: "Wire exchanges by endpoint and result code.",
		}, []string{"endpoint", "code"}),
		exchangeTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lcc_exchange_duration_seconds",
			Help:    "Round-trip time of one wire exchange.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"endpoint"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lcc_commands_total",
			Help: "Operator commands by instrument, action and result code.",
		}, []string{"instrument", "action", "code"}),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lcc_instrument_connected",
			Help: "1 while the instrument has a live connection.",
		}, []string{"instrument"}),
	}

	m.registry.MustRegister(
		m.cycles, m.cycleLatency, m.snapshotSeq,
		m.exchanges, m.exchangeTime,
		m.commands, m.connected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveCycle records one aggregator cycle.
func (m *Metrics) ObserveCycle(instrument string, d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.cycles.WithLabelValues(instrument, outcome).Inc()
	m.cycleLatency.WithLabelValues(instrument).Observe(d.Seconds())
}

// ObserveSnapshot records the sequence of a published snapshot.
func (m *Metrics) ObserveSnapshot(instrument string, seq uint64) {
	m.snapshotSeq.WithLabelValues(instrument).Set(float64(seq))
}

// ObserveExchange records one wire exchange.
func (m *Metrics) ObserveExchange(endpoint string, d time.Duration, err error) {
	m.exchanges.WithLabelValues(endpoint, resultCode(err)).Inc()
	m.exchangeTime.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveCommand records the outcome of an operator command.
func (m *Metrics) ObserveCommand(instrument, action string, err error) {
	m.commands.WithLabelValues(instrument, action, resultCode(err)).Inc()
}

// SetConnected marks an instrument as connected or not.
func (m *Metrics) SetConnected(instrument string, connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	m.connected.WithLabelValues(instrument).Set(v)
}

// RegisterGaugeFunc exposes a value computed at scrape time, such as the
// number of telemetry clients.
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) error {
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	}, fn))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func resultCode(err error) string {
	if err == nil {
		return "OK"
	}
	return adapter.CodeOf(err)
}
