// Package metrics exposes Prometheus counters for the stub server and
// proxy, registered on a per-Registry prometheus.Registry rather than the
// default one, so unit tests that construct many Services don't collide.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups the counters one stub Service or proxy Server reports.
// Callers construct one per process and pass it down to Actors/Pairs.
type Registry struct {
	reg *prometheus.Registry

	ConnectionsTotal       *prometheus.CounterVec
	ScriptMismatchesTotal  *prometheus.CounterVec
	MessagesForwardedTotal *prometheus.CounterVec
	BytesForwardedTotal    *prometheus.CounterVec
}

// NewRegistry builds a fresh, isolated registry — never the global default
// one — so multiple Services in the same test binary don't panic on
// duplicate registration.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Registry{
		reg: reg,
		ConnectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "boltkit_connections_total",
			Help: "Total number of accepted Bolt connections, labelled by port and outcome.",
		}, []string{"port", "outcome"}),
		ScriptMismatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "boltkit_script_mismatches_total",
			Help: "Total number of client messages that failed to match the expected script line.",
		}, []string{"port"}),
		MessagesForwardedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "boltkit_proxy_messages_forwarded_total",
			Help: "Total number of Bolt messages relayed by the proxy, labelled by direction.",
		}, []string{"direction"}),
		BytesForwardedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "boltkit_proxy_bytes_forwarded_total",
			Help: "Total number of raw bytes relayed by the proxy, labelled by direction.",
		}, []string{"direction"}),
	}
}

// Handler returns the promhttp handler serving this registry's metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
