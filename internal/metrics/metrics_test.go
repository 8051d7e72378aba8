package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMetrics_Counters verifies the per-device counters accumulate under
// their device label.
func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.IncInserts("2g")
	m.IncInserts("2g")
	m.IncInserts("128m")
	m.IncDeletes("2g")
	m.AddRewrites("2g", 3)
	m.IncWriteErrors("128m")
	m.AddIdleSamples(1280)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.insertsTotal.WithLabelValues("2g")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.insertsTotal.WithLabelValues("128m")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deletesTotal.WithLabelValues("2g")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.rewritesTotal.WithLabelValues("2g")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writeErrorsTotal.WithLabelValues("128m")))
	assert.Equal(t, 1280.0, testutil.ToFloat64(m.idleSamplesTotal))
}

// TestMetrics_MemoryUsage verifies occupancy and capacity track per device.
func TestMetrics_MemoryUsage(t *testing.T) {
	m := New()

	m.SetMemoryUsage("2g", 3200, 2<<30)
	m.SetMemoryUsage("2g", 640, 2<<30)

	assert.Equal(t, 640.0, testutil.ToFloat64(m.memoryBytesInUse.WithLabelValues("2g")))
	assert.Equal(t, float64(2<<30), testutil.ToFloat64(m.memoryBytesTotal.WithLabelValues("2g")))
}

// TestMetrics_Handler verifies the scrape endpoint refreshes gauges through
// the callback before rendering.
func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.IncInserts("2g")

	refreshed := false
	h := m.Handler(func() {
		refreshed = true
		m.SetMemoryUsage("2g", 3200, 2<<30)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Contains(t, string(body), "awg_memory_inserts_total")
	assert.Contains(t, string(body), `awg_memory_bytes_in_use{device="2g"} 3200`)
}

// TestMetrics_HandlerWithoutRefresh verifies a nil callback is allowed.
func TestMetrics_HandlerWithoutRefresh(t *testing.T) {
	m := New()
	rec := httptest.NewRecorder()
	m.Handler(nil).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
}
