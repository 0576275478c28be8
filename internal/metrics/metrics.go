// Package metrics exposes counters for lock protocol activity. A
// fleet-wide deploy can take a while, so the counters can optionally be
// served over HTTP for scraping while the run is in flight.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the tool.
type Metrics struct {
	namespace string

	// AppInfo carries build information as labels.
	AppInfo *prometheus.GaugeVec

	// LockOperationsTotal counts lock protocol operations by
	// operation (check, create, refresh, unlock, force_unlock) and
	// result (ok, blocked, expired, skipped, error).
	LockOperationsTotal *prometheus.CounterVec

	// DeploysTotal counts per-host deploy pipeline runs by result.
	DeploysTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a Metrics instance on a private registry.
func New(namespace string, buildInfo map[string]string) *Metrics {
	m := &Metrics{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
	}

	m.AppInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "app_info",
			Help:      "Application build information",
		},
		[]string{"version", "commit", "build_date"},
	)

	m.LockOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_operations_total",
			Help:      "Total number of lock protocol operations",
		},
		[]string{"operation", "result"},
	)

	m.DeploysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deploys_total",
			Help:      "Total number of per-host deploy runs",
		},
		[]string{"result"},
	)

	m.registry.MustRegister(m.AppInfo, m.LockOperationsTotal, m.DeploysTotal)

	m.AppInfo.WithLabelValues(
		buildInfo["version"],
		buildInfo["commit"],
		buildInfo["date"],
	).Set(1)

	return m
}

// RecordLockOperation increments the counter for one protocol step.
func (m *Metrics) RecordLockOperation(operation, result string) {
	m.LockOperationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordDeploy increments the per-host deploy counter.
func (m *Metrics) RecordDeploy(result string) {
	m.DeploysTotal.WithLabelValues(result).Inc()
}

// Handler returns the HTTP handler serving the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gather exposes the registry contents, used by tests.
func (m *Metrics) Gather() (int, error) {
	mf, err := m.registry.Gather()
	return len(mf), err
}
