// Package s3 implements storage.Store on Amazon S3 or any S3-compatible
// service (MinIO, Localstack, Ceph RGW).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/marmos91/dittokv/pkg/metrics"
	"github.com/marmos91/dittokv/pkg/storage"
)

const backendName = "s3"

// Config holds the S3 backend options.
type Config struct {
	Bucket    string `mapstructure:"bucket" validate:"required"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	KeyPrefix string `mapstructure:"key_prefix"`

	// Static credentials. When empty the default AWS credential chain is used.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// ForcePathStyle is required by most S3-compatible services.
	ForcePathStyle bool `mapstructure:"force_path_style"`

	// SkipBucketCheck disables the HeadBucket probe done by New.
	SkipBucketCheck bool `mapstructure:"skip_bucket_check"`
}

// NewS3ClientFromConfig builds an S3 client from cfg.
func NewS3ClientFromConfig(ctx context.Context, cfg Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts = append(opts, awsconfig.WithRegion(region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	}), nil
}

// Store implements storage.Store on an S3 bucket.
//
// Objects are stored under KeyPrefix + key. S3 provides read-after-write
// consistency, so a successful Put is visible to the next Get and List.
type Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	metrics   metrics.StorageMetrics
}

// New creates the store and verifies bucket access.
func New(ctx context.Context, client *s3.Client, cfg Config, m metrics.StorageMetrics) (*Store, error) {
	// ========================================================================
	// Step 1: Validate configuration
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.New("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if m == nil {
		m = metrics.NewNoopStorageMetrics()
	}

	// ========================================================================
	// Step 2: Verify bucket access
	// ========================================================================

	if !cfg.SkipBucketCheck {
		if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
			return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &Store{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		metrics:   m,
	}, nil
}

func (s *Store) objectKey(key string) string {
	return s.keyPrefix + key
}

// Put implements storage.Store.
func (s *Store) Put(ctx context.Context, key string, data []byte) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(backendName, "put", time.Since(start), len(data), err) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return storage.NewObjectError("put", key, storage.ErrInvalidKey)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return storage.NewObjectError("put", key, err)
	}
	return nil
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key string) (data []byte, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(backendName, "get", time.Since(start), len(data), err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return nil, storage.NewObjectError("get", key, mapError(err))
	}
	defer result.Body.Close()

	data, err = io.ReadAll(result.Body)
	if err != nil {
		return nil, storage.NewObjectError("get", key, err)
	}
	return data, nil
}

// Stat implements storage.Store.
func (s *Store) Stat(ctx context.Context, key string) (info storage.ObjectInfo, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(backendName, "stat", time.Since(start), 0, err) }()

	if err := ctx.Err(); err != nil {
		return storage.ObjectInfo{}, err
	}

	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return storage.ObjectInfo{}, storage.NewObjectError("stat", key, mapError(err))
	}

	info = storage.ObjectInfo{Key: key}
	if result.ContentLength != nil {
		info.Size = *result.ContentLength
	}
	if result.LastModified != nil {
		info.LastModified = *result.LastModified
	}
	return info, nil
}

// Delete implements storage.Store. S3 DeleteObject already succeeds on
// missing keys.
func (s *Store) Delete(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(backendName, "delete", time.Since(start), 0, err) }()

	if err := ctx.Err(); err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if storage.IsNotFound(mapError(err)) {
			return nil
		}
		return storage.NewObjectError("delete", key, err)
	}
	return nil
}

// List implements storage.Store.
func (s *Store) List(ctx context.Context, prefix string) (infos []storage.ObjectInfo, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(backendName, "list", time.Since(start), 0, err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.objectKey(prefix)),
	})

	for paginator.HasMorePages() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, storage.NewObjectError("list", prefix, err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			info := storage.ObjectInfo{Key: strings.TrimPrefix(*obj.Key, s.keyPrefix)}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			infos = append(infos, info)
		}
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// Close implements storage.Store. The SDK client needs no explicit release.
func (s *Store) Close() error {
	return nil
}

// mapError converts S3 "missing object" errors into storage.ErrNotFound.
// GetObject reports NoSuchKey while HeadObject reports a bare NotFound.
func mapError(err error) error {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return fmt.Errorf("%w: %v", storage.ErrNotFound, err)
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", storage.ErrNotFound, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey") {
		return fmt.Errorf("%w: %v", storage.ErrNotFound, err)
	}
	return err
}
