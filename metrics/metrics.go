// Package metrics registers the prometheus counters/gauges of the
// mirror and proxy processes. The mirror serves them on /metrics; the
// proxy records its tunnel counter but serves no /metrics endpoint.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpResponsesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crateproxy_http_responses_total",
		Help: "HTTP responses served by the mirror front end, by status code.",
	}, []string{"status"})

	cacheResultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crateproxy_cache_results_total",
		Help: "Cache lookups on the mirror front end, by result (hit/miss).",
	}, []string{"result"})

	tunnelReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crateproxy_tunnel_reconnects_total",
		Help: "Number of times the proxy has (re)established its tunnel to the mirror.",
	})

	activeSessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crateproxy_active_sessions",
		Help: "Number of in-flight download sessions on the mirror's tunnel.",
	})

	controlPlaneRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crateproxy_control_plane_requests_total",
		Help: "Control-plane requests handled by the mirror, by request kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(
		httpResponsesTotal,
		cacheResultsTotal,
		tunnelReconnectsTotal,
		activeSessionsGauge,
		controlPlaneRequestsTotal,
	)
}

// HTTPResponse records one served HTTP response by status code.
func HTTPResponse(status int) {
	httpResponsesTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// CacheResult records one cache lookup outcome ("hit" or "miss").
func CacheResult(result string) {
	cacheResultsTotal.WithLabelValues(result).Inc()
}

// TunnelReconnect records one successful tunnel (re)connection.
func TunnelReconnect() {
	tunnelReconnectsTotal.Inc()
}

// SessionStarted/SessionEnded track the active-session gauge.
func SessionStarted() { activeSessionsGauge.Inc() }
func SessionEnded()   { activeSessionsGauge.Dec() }

// ControlPlaneRequest records one control-plane request by kind
// ("check_missing" or "upload_crate").
func ControlPlaneRequest(kind string) {
	controlPlaneRequestsTotal.WithLabelValues(kind).Inc()
}
