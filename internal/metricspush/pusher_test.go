package metricspush

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/leakradar/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
)

func testRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	reg := prometheus.NewRegistry()
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leakradar_scan_runs_total",
		Help: "Scan runs.",
	}, []string{"outcome"})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "leakradar_scan_in_flight",
		Help: "Scans in flight.",
	})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "leakradar_scan_duration_seconds",
		Help: "Scan duration.",
	})
	reg.MustRegister(runs, inFlight, duration)

	runs.WithLabelValues("success").Add(3)
	inFlight.Set(1)
	duration.Observe(2)
	return reg
}

func TestNewPusherDisabledWithoutConfig(t *testing.T) {
	log := zaptest.NewLogger(t)

	assert.Nil(t, NewPusher(config.Config{}, log))
	assert.Nil(t, NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{Exporter: ExporterPushgateway}}, log))
	assert.Nil(t, NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{Exporter: "statsd", Endpoint: "http://x"}}, log))
	assert.Nil(t, NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{Exporter: ExporterRemoteWrite, Endpoint: "not a url"}}, log))

	p := NewPusher(config.Config{MetricsPush: config.MetricsPushConfig{Exporter: ExporterRemoteWrite, Endpoint: "http://collector/api/v1/write"}}, log)
	assert.IsType(t, &RemoteWritePusher{}, p)
}

func TestRemoteWriteSendsCountersAndGauges(t *testing.T) {
	var got prompb.WriteRequest
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		raw, err := snappy.Decode(nil, body)
		require.NoError(t, err)
		require.NoError(t, proto.Unmarshal(raw, protoadapt.MessageV2Of(&got)))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewRemoteWritePusher(srv.URL, "token-1")
	p.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	require.NoError(t, p.Push(context.Background(), testRegistry(t)))

	assert.Equal(t, "snappy", headers.Get("Content-Encoding"))
	assert.Equal(t, "Bearer token-1", headers.Get("Authorization"))

	values := map[string]float64{}
	for _, ts := range got.Timeseries {
		require.NotEmpty(t, ts.Labels)
		assert.Equal(t, "__name__", ts.Labels[0].Name)
		require.Len(t, ts.Samples, 1)
		assert.Equal(t, int64(1_700_000_000_000), ts.Samples[0].Timestamp)
		values[ts.Labels[0].Value] = ts.Samples[0].Value
	}
	assert.Equal(t, map[string]float64{
		"leakradar_scan_runs_total": 3,
		"leakradar_scan_in_flight":  1,
	}, values)
}

func TestRemoteWriteReportsRejectedPush(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewRemoteWritePusher(srv.URL, "").Push(context.Background(), testRegistry(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestPushgatewayUsesJobAndGrouping(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewPushgatewayPusher(srv.URL, "leakradar-scan", map[string]string{"environment": "staging", "empty": " "})
	require.NoError(t, p.Push(context.Background(), testRegistry(t)))

	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/leakradar-scan/environment/staging", path)
}

func TestPushgatewayRequiresJob(t *testing.T) {
	err := NewPushgatewayPusher("http://localhost:9091", " ", nil).Push(context.Background(), testRegistry(t))
	assert.Error(t, err)
}
