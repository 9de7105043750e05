// Package telemetry exposes Prometheus collectors for the Hearth client.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the client's Prometheus collectors. A Metrics instance is
// bound to one registry so tests and multiple clients do not collide.
type Metrics struct {
	TokenRefreshes       prometheus.Counter
	TokenRefreshFailures prometheus.Counter
	QueuedReplays        prometheus.Counter
	ReconnectAttempts    prometheus.Counter
	RealtimeEvents       *prometheus.CounterVec
	CacheErrors          prometheus.Counter
	Requests             *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TokenRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hearth",
			Subsystem: "auth",
			Name:      "token_refreshes_total",
			Help:      "Total number of token refresh exchanges performed.",
		}),
		TokenRefreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hearth",
			Subsystem: "auth",
			Name:      "token_refresh_failures_total",
			Help:      "Total number of token refresh exchanges that failed.",
		}),
		QueuedReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hearth",
			Subsystem: "auth",
			Name:      "queued_replays_total",
			Help:      "Requests replayed after waiting for a token refresh.",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hearth",
			Subsystem: "realtime",
			Name:      "reconnect_attempts_total",
			Help:      "Automatic realtime reconnection attempts.",
		}),
		RealtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearth",
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Realtime events dispatched, by event name.",
		}, []string{"event"}),
		CacheErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hearth",
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Offline cache operations that reported an error.",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearth",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "REST requests issued, by method and status class.",
		}, []string{"method", "status"}),
	}

	reg.MustRegister(
		m.TokenRefreshes,
		m.TokenRefreshFailures,
		m.QueuedReplays,
		m.ReconnectAttempts,
		m.RealtimeEvents,
		m.CacheErrors,
		m.Requests,
	)
	return m
}

// Nop returns collectors backed by a throwaway registry, for callers that
// do not care about metrics.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
