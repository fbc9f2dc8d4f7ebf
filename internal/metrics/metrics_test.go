package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/snafus/cephsum-server/internal/metrics"
)

func TestPrometheusRecorderConnectionLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := metrics.NewPrometheusRecorder(reg)

	r.ConnectionAccepted()
	r.ConnectionAccepted()
	r.ConnectionClosed()

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Equal(t, float64(2), counterValue(t, families, "cephsumd_connections_total"))
	require.Equal(t, float64(1), gaugeValue(t, families, "cephsumd_connections_active"))
}

func TestPrometheusRecorderRequestCompleted(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := metrics.NewPrometheusRecorder(reg)

	r.RequestDispatched("cksum")
	r.RequestCompleted("cksum", 0, 50*time.Millisecond)
	r.RequestCompleted("cksum", 1, 10*time.Millisecond)
	r.RequestTimedOut("cksum")

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotZero(t, counterValue(t, families, "cephsumd_requests_total"))
	require.Equal(t, float64(1), counterValue(t, families, "cephsumd_request_timeouts_total"))
}

func TestNoopRecorderNeverPanics(t *testing.T) {
	var r metrics.Recorder = metrics.NoopRecorder{}
	r.ConnectionAccepted()
	r.ConnectionClosed()
	r.AuthFailure()
	r.RequestDispatched("ping")
	r.RequestCompleted("ping", 0, time.Millisecond)
	r.RequestTimedOut("ping")
}

func counterValue(t *testing.T, families []*dto.MetricFamily, name string) float64 {
	t.Helper()
	var total float64
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func gaugeValue(t *testing.T, families []*dto.MetricFamily, name string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			return m.GetGauge().GetValue()
		}
	}
	return 0
}
