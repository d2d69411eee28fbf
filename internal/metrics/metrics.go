// Package metrics holds the Prometheus collectors of the bot. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"voxbot/internal/broadcast"
)

type Metrics struct {
	BroadcastsTotal   *prometheus.CounterVec
	DeliveriesTotal   *prometheus.CounterVec
	BroadcastDuration prometheus.Histogram
	BroadcastsActive  prometheus.Gauge

	ConversionsTotal   *prometheus.CounterVec
	ConversionDuration prometheus.Histogram

	UpdatesTotal     *prometheus.CounterVec
	RateLimitedTotal prometheus.Counter

	registry *prometheus.Registry
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		BroadcastsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxbot_broadcasts_total",
				Help: "Finished broadcast runs by target and result",
			},
			[]string{"target", "result"},
		),
		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxbot_deliveries_total",
				Help: "Broadcast delivery attempts by outcome",
			},
			[]string{"outcome"},
		),
		BroadcastDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "voxbot_broadcast_duration_seconds",
				Help:    "Wall time of a broadcast run",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
		),
		BroadcastsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "voxbot_broadcasts_active",
				Help: "Broadcast runs in progress",
			},
		),
		ConversionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxbot_conversions_total",
				Help: "Audio to voice conversions by result",
			},
			[]string{"result"},
		),
		ConversionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "voxbot_conversion_duration_seconds",
				Help:    "Time spent converting one file, download included",
				Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		UpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxbot_updates_total",
				Help: "Incoming updates by kind",
			},
			[]string{"kind"},
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "voxbot_ratelimited_total",
				Help: "Updates dropped by the per-user rate limit",
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.BroadcastsTotal,
		m.DeliveriesTotal,
		m.BroadcastDuration,
		m.BroadcastsActive,
		m.ConversionsTotal,
		m.ConversionDuration,
		m.UpdatesTotal,
		m.RateLimitedTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// BroadcastStarted implements broadcast.Observer.
func (m *Metrics) BroadcastStarted(string) {
	if m == nil {
		return
	}
	m.BroadcastsActive.Inc()
}

// BroadcastFinished implements broadcast.Observer.
func (m *Metrics) BroadcastFinished(target string, c broadcast.Counts, canceled bool, d time.Duration) {
	if m == nil {
		return
	}
	m.BroadcastsActive.Dec()
	result := "completed"
	if canceled {
		result = "canceled"
	}
	m.BroadcastsTotal.WithLabelValues(target, result).Inc()
	m.BroadcastDuration.Observe(d.Seconds())
	if c.Success > 0 {
		m.DeliveriesTotal.WithLabelValues("delivered").Add(float64(c.Success))
	}
	for outcome, n := range c.Errors {
		m.DeliveriesTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

func (m *Metrics) ConversionDone(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	m.ConversionsTotal.WithLabelValues(result).Inc()
	m.ConversionDuration.Observe(d.Seconds())
}

func (m *Metrics) Update(kind string) {
	if m == nil {
		return
	}
	m.UpdatesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

var _ broadcast.Observer = (*Metrics)(nil)
