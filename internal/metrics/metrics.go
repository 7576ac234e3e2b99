// Package metrics holds the Prometheus collectors of the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinytelemetry/dashwire/pkg/socketrpc"
)

// Surfaces a delivery can leave the relay through.
const (
	SurfaceSocket    = "socket"
	SurfaceSSE       = "sse"
	SurfaceWebsocket = "websocket"
)

// Relay is the set of relay collectors, registered on their own registry.
type Relay struct {
	Registry *prometheus.Registry

	// Peers is the number of connected clients by surface.
	Peers *prometheus.GaugeVec
	// Published counts messages put on the bus.
	Published prometheus.Counter
	// Delivered counts messages handed to a subscriber by surface.
	Delivered *prometheus.CounterVec
	// Dropped counts deliveries discarded because a stream subscriber fell
	// behind.
	Dropped *prometheus.CounterVec
	// RequestTotal counts HTTP requests by method, route and status.
	RequestTotal *prometheus.CounterVec
	// RateLimited counts rejected publish requests.
	RateLimited prometheus.Counter
}

// New creates and registers the relay collectors, plus the Go runtime and
// process collectors.
func New() *Relay {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Relay{
		Registry: reg,
		Peers: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dashwire_relay_peers",
			Help: "Connected relay clients",
		}, []string{"surface"}),
		Published: f.NewCounter(prometheus.CounterOpts{
			Name: "dashwire_relay_published_total",
			Help: "Messages published on the relay bus",
		}),
		Delivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dashwire_relay_delivered_total",
			Help: "Messages delivered to subscribers",
		}, []string{"surface"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dashwire_relay_dropped_total",
			Help: "Deliveries dropped for slow subscribers",
		}, []string{"surface"}),
		RequestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dashwire_relay_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "dashwire_relay_rate_limited_total",
			Help: "Publish requests rejected by the rate limiter",
		}),
	}
}

// SocketHooks returns socketrpc hooks feeding these collectors.
func (m *Relay) SocketHooks() socketrpc.Hooks {
	peers := m.Peers.WithLabelValues(SurfaceSocket)
	delivered := m.Delivered.WithLabelValues(SurfaceSocket)
	return socketrpc.Hooks{
		Connected:    peers.Inc,
		Disconnected: peers.Dec,
		Published:    func(string) { m.Published.Inc() },
		Delivered:    func(string) { delivered.Inc() },
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Relay) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
