// Package metrics defines the narrow Recorder interface the request server
// reports to, adapted from the teacher's HTTP/S3/encryption metrics set
// onto cephsumd's connection and request-dispatch lifecycle. This package
// exposes the interface plus a Prometheus-backed implementation; it serves
// no HTTP itself. The /metrics endpoint is served by internal/admin when
// cephsumd is started with -admin-address.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is the metrics surface the request server (internal/server)
// reports to. Nothing in internal/server imports Prometheus directly.
type Recorder interface {
	ConnectionAccepted()
	ConnectionClosed()
	AuthFailure()
	RequestDispatched(worker string)
	RequestCompleted(worker string, status int, duration time.Duration)
	RequestTimedOut(worker string)
}

// NoopRecorder discards everything; the default when no Recorder is wired.
type NoopRecorder struct{}

func (NoopRecorder) ConnectionAccepted()                         {}
func (NoopRecorder) ConnectionClosed()                           {}
func (NoopRecorder) AuthFailure()                                {}
func (NoopRecorder) RequestDispatched(string)                    {}
func (NoopRecorder) RequestCompleted(string, int, time.Duration) {}
func (NoopRecorder) RequestTimedOut(string)                      {}

// PrometheusRecorder is the production Recorder. It registers against a
// caller-supplied Registerer so tests can use a fresh registry per case
// rather than fighting the global default.
type PrometheusRecorder struct {
	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge
	authFailures      prometheus.Counter
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	requestTimeouts   *prometheus.CounterVec
}

// NewPrometheusRecorder registers cephsumd's server metrics against reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "cephsumd_connections_total",
			Help: "Total number of accepted TCP connections.",
		}),
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cephsumd_connections_active",
			Help: "Number of connections currently being served.",
		}),
		authFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "cephsumd_auth_failures_total",
			Help: "Total number of handshake authentication failures.",
		}),
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cephsumd_requests_total",
			Help: "Total number of dispatched requests by worker and status.",
		}, []string{"worker", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cephsumd_request_duration_seconds",
			Help:    "Request handling duration by worker, from dispatch to reply.",
			Buckets: prometheus.DefBuckets,
		}, []string{"worker"}),
		requestTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cephsumd_request_timeouts_total",
			Help: "Total number of requests that exceeded the per-request deadline.",
		}, []string{"worker"}),
	}
}

func (r *PrometheusRecorder) ConnectionAccepted() {
	r.connectionsTotal.Inc()
	r.connectionsActive.Inc()
}

func (r *PrometheusRecorder) ConnectionClosed() {
	r.connectionsActive.Dec()
}

func (r *PrometheusRecorder) AuthFailure() {
	r.authFailures.Inc()
}

func (r *PrometheusRecorder) RequestDispatched(worker string) {
	r.requestsTotal.WithLabelValues(worker, "dispatched").Inc()
}

func (r *PrometheusRecorder) RequestCompleted(worker string, status int, duration time.Duration) {
	statusLabel := "ok"
	if status != 0 {
		statusLabel = "error"
	}
	r.requestsTotal.WithLabelValues(worker, statusLabel).Inc()
	r.requestDuration.WithLabelValues(worker).Observe(duration.Seconds())
}

func (r *PrometheusRecorder) RequestTimedOut(worker string) {
	r.requestTimeouts.WithLabelValues(worker).Inc()
}
