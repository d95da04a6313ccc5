//go:build cloudintegration

package artifact_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/vidgrab/pkg/artifact"
	"github.com/3leaps/vidgrab/test/cloudtest"
)

func newMotoStore(t *testing.T, ctx context.Context, bucket string) *artifact.S3 {
	t.Helper()
	s, err := artifact.NewS3(ctx, artifact.S3Config{
		Bucket:          bucket,
		Prefix:          "downloads",
		Endpoint:        cloudtest.Endpoint,
		Region:          cloudtest.Region,
		AccessKeyID:     cloudtest.AccessKeyID,
		SecretAccessKey: cloudtest.SecretAccessKey,
		ForcePathStyle:  true,
	})
	require.NoError(t, err)
	return s
}

func TestS3_RoundTrip_CloudIntegration(t *testing.T) {
	ctx := context.Background()
	bucket := cloudtest.NewBucket(t, ctx)
	store := newMotoStore(t, ctx, bucket.Name)
	require.NoError(t, store.Check(ctx))

	src := filepath.Join(t.TempDir(), "output_123.mp4")
	require.NoError(t, os.WriteFile(src, []byte("moto video"), 0o644))

	loc, err := store.Publish(ctx, "123", src)
	require.NoError(t, err)
	assert.Equal(t, "s3://"+bucket.Name+"/downloads/output_123.mp4", loc)
	assert.Equal(t, []string{"downloads/output_123.mp4"}, bucket.Keys(ctx))

	obj, err := store.Open(ctx, "123")
	require.NoError(t, err)
	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	require.NoError(t, obj.Body.Close())
	assert.Equal(t, "moto video", string(data))

	require.NoError(t, store.Remove(ctx, "123"))
	assert.False(t, bucket.Has(ctx, "downloads/output_123.mp4"))
}

func TestS3_FindsUploadedByOthers_CloudIntegration(t *testing.T) {
	ctx := context.Background()
	bucket := cloudtest.NewBucket(t, ctx)
	bucket.Put(ctx, "downloads/output_9.webm", []byte("webm"))
	bucket.Put(ctx, "downloads/output_9.f251.webm", []byte("stream"))
	store := newMotoStore(t, ctx, bucket.Name)

	obj, err := store.Open(ctx, "9")
	require.NoError(t, err)
	defer obj.Body.Close()
	assert.Equal(t, "output_9.webm", obj.Name)
}

func TestS3_MissingBucket_CloudIntegration(t *testing.T) {
	ctx := context.Background()
	if !cloudtest.Available(ctx) {
		t.Skipf("moto server not available at %s", cloudtest.Endpoint)
	}

	store := newMotoStore(t, ctx, "nonexistent-bucket-12345")
	require.Error(t, store.Check(ctx))

	_, err := store.Open(ctx, "1")
	assert.ErrorIs(t, err, artifact.ErrBucketNotFound)
}
