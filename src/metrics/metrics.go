// Package metrics holds the Prometheus collectors of the fan-out service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Sessions              *prometheus.GaugeVec
	UpstreamSubscriptions prometheus.Gauge
	PollLoopsStarted      prometheus.Counter
	FramesSent            *prometheus.CounterVec
	UpstreamErrors        *prometheus.CounterVec
	Reconnects            *prometheus.CounterVec
}

// New registers the collectors on reg. Tests pass prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fanout_sessions",
			Help: "Connected client sessions by category.",
		}, []string{"category"}),
		UpstreamSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fanout_upstream_subscriptions",
			Help: "Upstream subscriptions currently registered.",
		}),
		PollLoopsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fanout_poll_loops_started_total",
			Help: "Per-subscription upstream poll loops started.",
		}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fanout_frames_sent_total",
			Help: "Data frames queued to clients by kind.",
		}, []string{"kind"}),
		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fanout_upstream_errors_total",
			Help: "Upstream fetch failures by kind.",
		}, []string{"kind"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fanout_reconnects_total",
			Help: "Reconnect cycles by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.Sessions,
		m.UpstreamSubscriptions,
		m.PollLoopsStarted,
		m.FramesSent,
		m.UpstreamErrors,
		m.Reconnects,
	)
	return m
}
