package config

import (
	"github.com/marmos91/dittokv/pkg/metrics"
	promMetrics "github.com/marmos91/dittokv/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the operational HTTP server (nil if disabled)
	Server *metrics.Server

	// Catalog, Journal, GC and Storage are never nil: they are no-ops when
	// metrics are disabled.
	Catalog metrics.CatalogMetrics
	Journal metrics.JournalMetrics
	GC      metrics.GCMetrics
	Storage metrics.StorageMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the operational HTTP server, gated on ready for /readyz
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
func InitializeMetrics(cfg *Config, ready metrics.ReadinessFunc) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			Catalog: metrics.NewNoopCatalogMetrics(),
			Journal: metrics.NewNoopJournalMetrics(),
			GC:      metrics.NewNoopGCMetrics(),
			Storage: metrics.NewNoopStorageMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Host:  cfg.Server.Metrics.Host,
		Port:  cfg.Server.Metrics.Port,
		Ready: ready,
	})

	return &MetricsResult{
		Server:  server,
		Catalog: promMetrics.NewCatalogMetrics(),
		Journal: promMetrics.NewJournalMetrics(),
		GC:      promMetrics.NewGCMetrics(),
		Storage: promMetrics.NewStorageMetrics(),
	}
}
