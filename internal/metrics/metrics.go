// Package metrics exposes the server's Prometheus collectors. Everything is
// registered on the default registry so the /metrics endpoint needs no wiring
// beyond the standard handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive counts open authenticated WebSocket connections. A
	// user with three tabs counts three times.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parlor_connections_active",
		Help: "Open authenticated WebSocket connections.",
	})

	// UsersOnline counts distinct online users, matching the presence events
	// clients see.
	UsersOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parlor_users_online",
		Help: "Distinct users with at least one open connection.",
	})

	// EventsTotal counts dispatched client operations by op name.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parlor_events_total",
		Help: "Client operations dispatched, by op.",
	}, []string{"op"})

	// RateLimitDrops counts connections closed for exceeding the frame rate
	// limit.
	RateLimitDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parlor_rate_limit_drops_total",
		Help: "Connections closed for exceeding the rate limit.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
