// Package metrics defines the observability interfaces of the DittoKV master
// and owns the process-wide Prometheus registry.
//
// Components (catalog, journal, journal GC, storage backends) depend only on
// the interfaces declared here. Prometheus implementations live in
// pkg/metrics/prometheus; when the registry is not initialized every
// constructor there returns the no-op implementation from this package.
//
// Usage:
//
//	// Initialize global registry (typically in main.go)
//	metrics.InitRegistry()
//
//	// Create metrics instances for components
//	gcMetrics := prometheus.NewGCMetrics()
//
//	// Or pass nil for no-op behavior
//	collector := gc.NewCollector(journal, store, cfg, nil)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registry is the process-wide Prometheus registry. It is nil until
// InitRegistry runs, which turns every constructor in pkg/metrics/prometheus
// into a no-op factory.
var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global registry. Later calls do nothing.
//
// Call it before constructing component metrics; instances built earlier
// stay no-ops for the life of the process.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has run.
func IsEnabled() bool {
	return GetRegistry() != nil
}
