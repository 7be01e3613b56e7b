package metric

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelyactive/barnowl/errors"
)

func gathered(t *testing.T, registry *MetricsRegistry, name string) bool {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return true
		}
	}
	return false
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.Same(t, registry.Metrics, registry.CoreMetrics())
}

func TestMetricsRegistry_Register(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "c"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "g"})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_histogram", Help: "h"})
	counterVec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_counter_vec", Help: "cv"}, []string{"l"})
	gaugeVec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "test_gauge_vec", Help: "gv"}, []string{"l"})
	histogramVec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_histogram_vec", Help: "hv"}, []string{"l"})

	require.NoError(t, registry.RegisterCounter("svc", "counter", counter))
	require.NoError(t, registry.RegisterGauge("svc", "gauge", gauge))
	require.NoError(t, registry.RegisterHistogram("svc", "histogram", histogram))
	require.NoError(t, registry.RegisterCounterVec("svc", "counter_vec", counterVec))
	require.NoError(t, registry.RegisterGaugeVec("svc", "gauge_vec", gaugeVec))
	require.NoError(t, registry.RegisterHistogramVec("svc", "histogram_vec", histogramVec))

	counter.Inc()
	gauge.Set(3)
	histogram.Observe(1)
	counterVec.WithLabelValues("a").Inc()
	gaugeVec.WithLabelValues("a").Set(1)
	histogramVec.WithLabelValues("a").Observe(1)

	for _, name := range []string{
		"test_counter", "test_gauge", "test_histogram",
		"test_counter_vec", "test_gauge_vec", "test_histogram_vec",
	} {
		assert.True(t, gathered(t, registry, name), name)
	}
}

func TestMetricsRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "c"})
	second := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "c"})

	require.NoError(t, registry.RegisterCounter("svc", "dup", first))

	err := registry.RegisterCounter("svc", "dup", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	err = registry.RegisterCounter("other", "dup", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err), "prometheus conflict should be invalid")
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "gone_gauge", Help: "g"})
	require.NoError(t, registry.RegisterGauge("svc", "gone", gauge))

	assert.True(t, registry.Unregister("svc", "gone"))
	assert.False(t, registry.Unregister("svc", "gone"))
	assert.False(t, gathered(t, registry, "gone_gauge"))

	require.NoError(t, registry.RegisterGauge("svc", "gone", gauge), "re-registration after unregister")
}

func TestCoreMetrics_Record(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.RecordBytes(10)
	m.RecordBytes(5)
	m.RecordPacket("RadioSignal")
	m.RecordDecodeError("unknown_packet")
	m.RecordEvent("visibility")
	m.RecordPayloadError()
	m.RecordHealthStatus("pipeline", true)
	m.RecordNATSStatus(true)

	assert.Equal(t, 15.0, testutil.ToFloat64(m.BytesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacketsDecoded.WithLabelValues("RadioSignal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecodeErrors.WithLabelValues("unknown_packet")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsEmitted.WithLabelValues("visibility")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PayloadErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HealthCheckStatus.WithLabelValues("pipeline")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSConnected))
}

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordBytes(42)

	healthCalled := false
	server := NewServer(0, "", registry, WithHealthHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		healthCalled = true
		w.WriteHeader(http.StatusServiceUnavailable)
	})))

	handler, err := server.Handler()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "barnowl_framer_bytes_total 42"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.True(t, healthCalled)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	assert.Equal(t, "http://localhost:9090/metrics", server.Address())
}

func TestServer_NilRegistry(t *testing.T) {
	server := NewServer(9999, "/m", nil)
	_, err := server.Handler()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	require.Error(t, server.Start())
}
