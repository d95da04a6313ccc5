// Package cloudtest provides a moto-backed S3 bucket fixture for the
// artifact store's integration tests.
//
// Tests using this package are tagged //go:build cloudintegration and skip
// themselves when no moto server answers at MOTO_ENDPOINT.
//
//	func TestPublish(t *testing.T) {
//	    b := cloudtest.NewBucket(t, ctx)
//	    store, _ := artifact.NewS3(ctx, artifact.S3Config{Bucket: b.Name, Endpoint: cloudtest.Endpoint, ...})
//	    ...
//	    assert.True(t, b.Has(ctx, "downloads/output_1.mp4"))
//	}
package cloudtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Moto accepts any static credentials.
const (
	AccessKeyID     = "testing"
	SecretAccessKey = "testing"
)

var (
	// Endpoint is the moto server; port 5555 avoids macOS AirTunes on 5000.
	Endpoint = envOr("MOTO_ENDPOINT", "http://localhost:5555")
	Region   = envOr("MOTO_REGION", "us-east-1")

	clientOnce sync.Once
	client     *s3.Client
	clientErr  error
)

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// Available reports whether the moto server answers.
func Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, Endpoint+"/moto-api/", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Client returns a shared path-style S3 client pointed at moto.
func Client(ctx context.Context) (*s3.Client, error) {
	clientOnce.Do(func() {
		cfg, err := config.LoadDefaultConfig(ctx,
			config.WithRegion(Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(AccessKeyID, SecretAccessKey, "")),
		)
		if err != nil {
			clientErr = fmt.Errorf("load moto config: %w", err)
			return
		}
		client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(Endpoint)
			o.UsePathStyle = true
		})
	})
	return client, clientErr
}

// Bucket is a throwaway bucket emptied and deleted when the test ends.
type Bucket struct {
	Name string

	t      *testing.T
	client *s3.Client
}

// NewBucket skips t unless moto is reachable, then creates a uniquely named
// bucket.
func NewBucket(t *testing.T, ctx context.Context) *Bucket {
	t.Helper()
	if !Available(ctx) {
		t.Skipf("moto server not available at %s", Endpoint)
	}
	c, err := Client(ctx)
	if err != nil {
		t.Fatalf("moto client: %v", err)
	}

	b := &Bucket{Name: bucketName(t.Name()), t: t, client: c}
	if _, err := c.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(b.Name)}); err != nil {
		t.Fatalf("create bucket %s: %v", b.Name, err)
	}
	t.Cleanup(func() { b.destroy(context.Background()) })
	return b
}

// Put uploads content under key.
func (b *Bucket) Put(ctx context.Context, key string, content []byte) {
	b.t.Helper()
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.Name),
		Key:    aws.String(key),
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		b.t.Fatalf("put %s/%s: %v", b.Name, key, err)
	}
}

// Has reports whether key exists.
func (b *Bucket) Has(ctx context.Context, key string) bool {
	b.t.Helper()
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.Name),
		Key:    aws.String(key),
	})
	if err == nil {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return false
	}
	b.t.Fatalf("head %s/%s: %v", b.Name, key, err)
	return false
}

// Keys lists every key in the bucket, sorted.
func (b *Bucket) Keys(ctx context.Context) []string {
	b.t.Helper()
	var keys []string
	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{Bucket: aws.String(b.Name)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			b.t.Fatalf("list %s: %v", b.Name, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	sort.Strings(keys)
	return keys
}

func (b *Bucket) destroy(ctx context.Context) {
	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{Bucket: aws.String(b.Name)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			b.t.Logf("cleanup: list %s: %v", b.Name, err)
			return
		}
		for _, obj := range page.Contents {
			if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(b.Name), Key: obj.Key}); err != nil {
				b.t.Logf("cleanup: delete %s: %v", aws.ToString(obj.Key), err)
			}
		}
	}
	if _, err := b.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(b.Name)}); err != nil {
		b.t.Logf("cleanup: delete bucket %s: %v", b.Name, err)
	}
}

// bucketName derives a unique, valid (<= 63 lowercase chars) bucket name.
func bucketName(testName string) string {
	name := strings.ToLower(testName)
	name = strings.NewReplacer("/", "-", "_", "-", "=", "-").Replace(name)
	name = strings.Trim(name, "-")
	if len(name) > 50 {
		name = name[:50]
	}
	return fmt.Sprintf("vg-%s-%d", name, time.Now().UnixNano()%100000)
}
