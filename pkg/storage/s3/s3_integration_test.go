//go:build integration
// +build integration

package s3

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittokv/pkg/storage"
	storagetesting "github.com/marmos91/dittokv/pkg/storage/testing"
)

// TestS3Store_Integration runs the storage suite against Localstack.
//
// Prerequisites:
//   - Localstack running on localhost:4566 (or LOCALSTACK_ENDPOINT)
//   - Run with: go test -tags=integration ./pkg/storage/s3/...
func TestS3Store_Integration(t *testing.T) {
	ctx := context.Background()

	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4566"
	}

	cfg := Config{
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		ForcePathStyle:  true,
	}
	client, err := NewS3ClientFromConfig(ctx, cfg)
	require.NoError(t, err)

	suite := &storagetesting.StoreTestSuite{
		NewStore: func(t *testing.T) storage.Store {
			bucket := fmt.Sprintf("dittokv-test-%d", time.Now().UnixNano())
			_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
			require.NoError(t, err)
			t.Cleanup(func() { cleanupBucket(ctx, client, bucket) })

			bcfg := cfg
			bcfg.Bucket = bucket
			s, err := New(ctx, client, bcfg, nil)
			require.NoError(t, err)
			return s
		},
	}
	suite.Run(t)
}

func cleanupBucket(ctx context.Context, client *s3.Client, bucket string) {
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return
		}
		for _, obj := range page.Contents {
			_, _ = client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: obj.Key})
		}
	}
	_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)})
}
