package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/dittokv/internal/logger"
	"github.com/marmos91/dittokv/pkg/metrics"
	"github.com/marmos91/dittokv/pkg/namespace"
	"github.com/marmos91/dittokv/pkg/namespace/badger"
	nsmemory "github.com/marmos91/dittokv/pkg/namespace/memory"
	"github.com/marmos91/dittokv/pkg/storage"
	"github.com/marmos91/dittokv/pkg/storage/fs"
	"github.com/marmos91/dittokv/pkg/storage/memory"
	"github.com/marmos91/dittokv/pkg/storage/s3"
)

// decodeOptions decodes an untyped backend section into a typed config
// struct. Duration strings ("30s") and numeric strings from environment
// overrides are converted.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(options); err != nil {
		return fmt.Errorf("failed to decode options: %w", err)
	}
	return nil
}

// CreateStorage creates the object storage backend holding the journal.
//
// Supported types:
//   - "memory": Uses pkg/storage/memory (ephemeral, for tests and demos)
//   - "filesystem": Uses pkg/storage/fs (local directory)
//   - "s3": Uses pkg/storage/s3 (Amazon S3 or compatible storage)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Storage configuration
//   - m: Storage metrics (nil for no-op)
//
// Returns:
//   - storage.Store: Initialized backend
//   - error: Configuration or initialization error
func CreateStorage(ctx context.Context, cfg *StorageConfig, m metrics.StorageMetrics) (storage.Store, error) {
	switch cfg.Type {
	case "memory":
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logger.Warn("Using in-memory storage: the journal will not survive a restart")
		return memory.New(), nil
	case "filesystem":
		return createFilesystemStorage(ctx, cfg.Filesystem, m)
	case "s3":
		return createS3Storage(ctx, cfg.S3, m)
	default:
		return nil, fmt.Errorf("unknown storage type: %q (supported: memory, filesystem, s3)", cfg.Type)
	}
}

// createFilesystemStorage creates a filesystem-backed store.
func createFilesystemStorage(ctx context.Context, options map[string]any, m metrics.StorageMetrics) (storage.Store, error) {
	var storeCfg fs.Config
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("filesystem storage: %w", err)
	}

	store, err := fs.New(ctx, storeCfg, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem storage: %w", err)
	}

	logger.Info("Filesystem storage initialized: path=%s", store.BasePath())
	return store, nil
}

// createS3Storage creates an S3-backed store.
func createS3Storage(ctx context.Context, options map[string]any, m metrics.StorageMetrics) (storage.Store, error) {
	var storeCfg s3.Config
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("S3 storage: %w", err)
	}

	// ========================================================================
	// Step 1: Create S3 Client
	// ========================================================================

	client, err := s3.NewS3ClientFromConfig(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Store
	// ========================================================================

	store, err := s3.New(ctx, client, storeCfg, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 storage: %w", err)
	}

	logger.Info("S3 storage initialized: bucket=%s, region=%s, prefix=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)
	return store, nil
}

// CreateNamespace creates the directory service stores resolve into.
//
// Supported types:
//   - "memory": Uses pkg/namespace/memory (ephemeral)
//   - "badger": Uses pkg/namespace/badger (BadgerDB, persistent)
func CreateNamespace(ctx context.Context, cfg *NamespaceConfig) (namespace.Service, error) {
	switch cfg.Type {
	case "memory":
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nsmemory.New(), nil
	case "badger":
		var nsCfg badger.Config
		if err := decodeOptions(cfg.Badger, &nsCfg); err != nil {
			return nil, fmt.Errorf("badger namespace: %w", err)
		}
		ns, err := badger.New(ctx, nsCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create badger namespace: %w", err)
		}
		return ns, nil
	default:
		return nil, fmt.Errorf("unknown namespace type: %q (supported: memory, badger)", cfg.Type)
	}
}
