// Package metrics provides Prometheus instrumentation for the messenger
// backend: gauges for presence and live subscriptions, counters for
// message throughput and mirror failures, and a histogram for send
// latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OnlineUsers tracks the number of principals currently marked online.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "neon_online_users",
		Help: "Current number of principals marked online",
	})

	// ActiveFeeds tracks the number of live message-feed subscriptions.
	ActiveFeeds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "neon_active_feeds",
		Help: "Current number of live message feed subscriptions",
	})

	// MessagesSent counts accepted messages, labeled by conversation kind:
	// "direct", "group", or "support".
	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "neon_messages_sent_total",
		Help: "Total number of messages accepted by the composer",
	}, []string{"kind"})

	// SendLatency records composer submit latency in seconds.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "neon_send_latency_seconds",
		Help:    "Message submit latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// MirrorFailures counts best-effort relational mirror writes that
	// failed. Mirror failures never surface to users, so this is the only
	// place they are visible.
	MirrorFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "neon_mirror_failures_total",
		Help: "Total number of failed relational mirror writes",
	})
)

func init() {
	prometheus.MustRegister(
		OnlineUsers,
		ActiveFeeds,
		MessagesSent,
		SendLatency,
		MirrorFailures,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
