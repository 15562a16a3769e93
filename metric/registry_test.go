package metric

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/errors"
)

func gathered(t *testing.T, r *MetricsRegistry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}
	return byName
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.Same(t, registry.Metrics, registry.CoreMetrics())

	registry.CoreMetrics().RecordNATSConnected(true)
	families := gathered(t, registry)
	require.Contains(t, families, "sensinact_nats_connected")
	assert.Equal(t, dto.MetricType_GAUGE, families["sensinact_nats_connected"].GetType())
	assert.Equal(t, 1.0, families["sensinact_nats_connected"].GetMetric()[0].GetGauge().GetValue())
	assert.Contains(t, families, "go_goroutines")
}

func TestMetricsRegistry_Register(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "A test counter"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "A test gauge"})
	counterVec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_counter_vec", Help: "A test vec"}, []string{"l"})
	histVec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_hist_vec", Help: "A test hist"}, []string{"l"})

	require.NoError(t, registry.RegisterCounter("test", "test_counter", counter))
	require.NoError(t, registry.RegisterGauge("test", "test_gauge", gauge))
	require.NoError(t, registry.RegisterCounterVec("test", "test_counter_vec", counterVec))
	require.NoError(t, registry.RegisterHistogramVec("test", "test_hist_vec", histVec))

	counter.Inc()
	gauge.Set(42)
	counterVec.WithLabelValues("a").Inc()
	histVec.WithLabelValues("a").Observe(0.1)

	families := gathered(t, registry)
	for _, name := range []string{"test_counter", "test_gauge", "test_counter_vec", "test_hist_vec"} {
		assert.Contains(t, families, name, "%s should be registered", name)
	}
}

func TestMetricsRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "dup"})
	require.NoError(t, registry.RegisterCounter("test", "dup_counter", counter))

	err := registry.RegisterCounter("test", "dup_counter", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	other := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "dup"})
	err = registry.RegisterCounter("other", "dup_counter", other)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err), "prometheus conflict is invalid, got %v", err)
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "gone_gauge", Help: "gone"})
	require.NoError(t, registry.RegisterGauge("test", "gone_gauge", gauge))

	assert.True(t, registry.Unregister("test", "gone_gauge"))
	assert.False(t, registry.Unregister("test", "gone_gauge"))
	assert.NotContains(t, gathered(t, registry), "gone_gauge")

	require.NoError(t, registry.RegisterGauge("test", "gone_gauge", gauge))
}

func TestMetricsRegistry_ConcurrentRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("concurrent_counter_%d", i)
			c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: "concurrent"})
			errs <- registry.RegisterCounter("test", name, c)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}
