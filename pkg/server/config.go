package server

import (
	"context"
	"fmt"

	"github.com/marmos91/dittokv/pkg/catalog"
	"github.com/marmos91/dittokv/pkg/config"
	"github.com/marmos91/dittokv/pkg/gc"
	"github.com/marmos91/dittokv/pkg/journal"
)

// FromConfig builds the storage, the namespace and the metrics described by
// cfg and wires them into a Master.
func FromConfig(ctx context.Context, cfg *config.Config) (*Master, error) {
	var m *Master
	ready := func() error {
		if m == nil {
			return ErrNotReady
		}
		return m.Ready()
	}

	// ========================================================================
	// Step 1: Metrics
	// ========================================================================

	metricsResult := config.InitializeMetrics(cfg, ready)

	// ========================================================================
	// Step 2: Storage and namespace
	// ========================================================================

	store, err := config.CreateStorage(ctx, &cfg.Storage, metricsResult.Storage)
	if err != nil {
		return nil, err
	}

	ns, err := config.CreateNamespace(ctx, &cfg.Namespace)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	// ========================================================================
	// Step 3: Wire the master
	// ========================================================================

	m, err = New(Options{
		Storage:   store,
		Namespace: ns,
		Journal: journal.Config{
			Root:                cfg.Journal.Root,
			MaxLogEntries:       cfg.Journal.MaxLogEntries,
			CompressCheckpoints: cfg.Journal.CompressCheckpoints,
			FlushRetries:        cfg.Journal.FlushRetries,
			FlushRetryInterval:  cfg.Journal.FlushRetryInterval,
		},
		Catalog: []catalog.Option{catalog.WithStrictLookups(cfg.Catalog.StrictLookups)},
		GC: gc.Config{
			Enabled:            cfg.GC.Enabled,
			Interval:           cfg.GC.Interval,
			InitialDelay:       cfg.GC.InitialDelay,
			Threshold:          cfg.GC.Threshold,
			TemporaryThreshold: cfg.GC.TemporaryThreshold,
			DeleteRate:         cfg.GC.DeleteRate,
			DeleteBurst:        cfg.GC.DeleteBurst,
			DryRun:             cfg.GC.DryRun,
		},
		CheckpointInterval: cfg.Journal.CheckpointInterval,
		ShutdownTimeout:    cfg.Server.ShutdownTimeout,
		MetricsServer:      metricsResult.Server,
		CatalogMetrics:     metricsResult.Catalog,
		JournalMetrics:     metricsResult.Journal,
		GCMetrics:          metricsResult.GC,
	})
	if err != nil {
		_ = ns.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to create master: %w", err)
	}
	return m, nil
}
