// Package metrics exposes Prometheus metrics for the document service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service, backed by a private
// registry so tests can create instances freely.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	DocumentsOpen  prometheus.Gauge
	DocumentsTotal prometheus.Counter

	// Operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Transfer metrics
	UploadedBytesTotal prometheus.Counter
	MergedPagesTotal   prometheus.Counter
}

// New creates and registers all metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		DocumentsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pagedock_documents_open",
			Help: "Number of currently open document sessions",
		}),
		DocumentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagedock_documents_total",
			Help: "Total number of document sessions ever registered",
		}),

		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagedock_operations_total",
				Help: "Total number of dispatcher operations",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pagedock_operation_duration_seconds",
				Help:    "Duration of dispatcher operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		UploadedBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagedock_uploaded_bytes_total",
			Help: "Total bytes accepted through upload",
		}),
		MergedPagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagedock_merged_pages_total",
			Help: "Total pages written into merge results",
		}),
	}

	registry.MustRegister(
		m.DocumentsOpen,
		m.DocumentsTotal,
		m.OperationsTotal,
		m.OperationDuration,
		m.UploadedBytesTotal,
		m.MergedPagesTotal,
	)

	return m
}

// Handler returns an HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
