// Package metrics exposes the memory manager's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the onboard memory
// manager. All device-scoped series carry a "device" label.
type Metrics struct {
	registry         *prometheus.Registry
	insertsTotal     *prometheus.CounterVec
	deletesTotal     *prometheus.CounterVec
	rewritesTotal    *prometheus.CounterVec
	writeErrorsTotal *prometheus.CounterVec
	idleSamplesTotal prometheus.Counter
	memoryBytesInUse *prometheus.GaugeVec
	memoryBytesTotal *prometheus.GaugeVec
}

// New creates and registers the memory manager's metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	insertsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "awg_memory_inserts_total",
		Help: "Total sequence channels written into device memory",
	}, []string{"device"})
	deletesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "awg_memory_deletes_total",
		Help: "Total sequence channels freed from device memory",
	}, []string{"device"})
	rewritesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "awg_memory_rewrites_total",
		Help: "Total channel blocks rewritten while defragmenting",
	}, []string{"device"})
	writeErrorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "awg_memory_write_errors_total",
		Help: "Total device writes that failed",
	}, []string{"device"})
	idleSamplesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "awg_limiter_idle_samples_total",
		Help: "Total idle samples inserted by the duty-cycle limiter",
	})
	memoryBytesInUse := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "awg_memory_bytes_in_use",
		Help: "Bytes of device memory occupied by sequences",
	}, []string{"device"})
	memoryBytesTotal := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "awg_memory_capacity_bytes",
		Help: "Configured device memory capacity",
	}, []string{"device"})

	registry.MustRegister(
		insertsTotal,
		deletesTotal,
		rewritesTotal,
		writeErrorsTotal,
		idleSamplesTotal,
		memoryBytesInUse,
		memoryBytesTotal,
	)

	return &Metrics{
		registry:         registry,
		insertsTotal:     insertsTotal,
		deletesTotal:     deletesTotal,
		rewritesTotal:    rewritesTotal,
		writeErrorsTotal: writeErrorsTotal,
		idleSamplesTotal: idleSamplesTotal,
		memoryBytesInUse: memoryBytesInUse,
		memoryBytesTotal: memoryBytesTotal,
	}
}

// IncInserts counts one channel write on a device.
func (m *Metrics) IncInserts(device string) {
	m.insertsTotal.WithLabelValues(device).Inc()
}

// IncDeletes counts one channel free on a device.
func (m *Metrics) IncDeletes(device string) {
	m.deletesTotal.WithLabelValues(device).Inc()
}

// AddRewrites counts channel blocks rewritten during one defragmentation.
func (m *Metrics) AddRewrites(device string, n int) {
	m.rewritesTotal.WithLabelValues(device).Add(float64(n))
}

// IncWriteErrors counts one failed device write.
func (m *Metrics) IncWriteErrors(device string) {
	m.writeErrorsTotal.WithLabelValues(device).Inc()
}

// AddIdleSamples counts idle samples spliced in by the duty-cycle limiter.
func (m *Metrics) AddIdleSamples(n int64) {
	m.idleSamplesTotal.Add(float64(n))
}

// SetMemoryUsage refreshes a device's occupancy and capacity gauges.
func (m *Metrics) SetMemoryUsage(device string, usedBytes, capacityBytes int64) {
	m.memoryBytesInUse.WithLabelValues(device).Set(float64(usedBytes))
	m.memoryBytesTotal.WithLabelValues(device).Set(float64(capacityBytes))
}

// Handler returns an http.Handler that serves the registry. updateGauges is
// called before each scrape to refresh gauge values (e.g. memory occupancy).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
