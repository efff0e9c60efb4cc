// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pdfsign.
//
// go-pdfsign is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for signing
// operations. A long-running host can expose the default registry; the
// CLI writes it to a node_exporter textfile after each run.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all pdfsign metrics
	Namespace = "pdfsign"

	// Label names
	LabelOperation = "operation"
	LabelBackend   = "backend"
	LabelStatus    = "status"
	LabelErrorType = "error_type"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Operation names
	OpSign             = "sign"
	OpListCertificates = "list_certificates"
	OpListTokens       = "list_tokens"
	OpTestConnection   = "test_connection"
)

var (
	// OperationsTotal tracks operations by type, backend and status.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of signing operations by type, backend, and status",
		},
		[]string{LabelOperation, LabelBackend, LabelStatus},
	)

	// OperationDuration tracks operation latency in seconds. Token
	// operations include card I/O and the helper process start, so the
	// buckets reach a minute.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of signing operations in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{LabelOperation, LabelBackend},
	)

	// ErrorsTotal tracks errors by operation, backend and error kind.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by operation, backend, and error type",
		},
		[]string{LabelOperation, LabelBackend, LabelErrorType},
	)

	// PINFailuresTotal counts rejected PINs.
	PINFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pin_failures_total",
			Help:      "Total number of PINs rejected by the token",
		},
		[]string{LabelBackend},
	)

	// CertificatesTotal is the number of signing certificates seen on the
	// last listing.
	CertificatesTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "certificates_total",
			Help:      "Number of signing certificates found on the token",
		},
		[]string{LabelBackend},
	)

	// BackendHealthy indicates whether the last connection test passed (1)
	// or failed (0).
	BackendHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "backend_healthy",
			Help:      "Indicates whether a backend is healthy (1) or unhealthy (0)",
		},
		[]string{LabelBackend},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	// Metrics are enabled by default
	enabled.Store(true)
}

// RecordOperation records an operation with its duration in seconds.
//
// Example:
//
//	start := time.Now()
//	_, err := backend.Sign(ctx, req)
//	status := StatusSuccess
//	if err != nil {
//	    status = StatusError
//	}
//	RecordOperation(OpSign, "native", status, time.Since(start).Seconds())
func RecordOperation(operation, backend, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	OperationsTotal.WithLabelValues(operation, backend, status).Inc()
	OperationDuration.WithLabelValues(operation, backend).Observe(duration)
}

// RecordError records an error of the given kind (e.g. "invalid_pin",
// "backend_timeout").
func RecordError(operation, backend, errorType string) {
	if !enabled.Load() {
		return
	}
	ErrorsTotal.WithLabelValues(operation, backend, errorType).Inc()
}

// RecordPINFailure counts one rejected PIN.
func RecordPINFailure(backend string) {
	if !enabled.Load() {
		return
	}
	PINFailuresTotal.WithLabelValues(backend).Inc()
}

// SetCertificatesTotal sets the number of signing certificates for a backend.
func SetCertificatesTotal(backend string, count float64) {
	if !enabled.Load() {
		return
	}
	CertificatesTotal.WithLabelValues(backend).Set(count)
}

// SetBackendHealth sets the health status of a backend.
// healthy=true sets the gauge to 1, healthy=false sets it to 0.
func SetBackendHealth(backend string, healthy bool) {
	if !enabled.Load() {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	BackendHealthy.WithLabelValues(backend).Set(value)
}

// WriteTextfile writes every registered metric to path in the Prometheus
// text format, for collection by node_exporter's textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
