package artifact

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/vidgrab/pkg/jobregistry"
)

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// S3Config configures the S3 artifact backend.
//
// Authentication priority (AWS SDK v2 default chain):
//  1. Explicit AccessKeyID/SecretAccessKey (if provided)
//  2. Environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
//  3. Shared credentials/config files with Profile
//  4. EC2 instance metadata / ECS task role / EKS IRSA
//
// For S3-compatible stores (MinIO, Wasabi, moto), set Endpoint and
// typically ForcePathStyle.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// Prefix is prepended to artifact names, e.g. "downloads/".
	Prefix string

	// Region is the AWS region. Defaults to us-east-1 for AWS S3 when not
	// resolvable from the environment. No default when Endpoint is set.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	Endpoint string

	// Profile is the AWS profile name to use from shared config.
	Profile string

	// AccessKeyID is an explicit access key. If set, SecretAccessKey must also be set.
	AccessKeyID string

	// SecretAccessKey is an explicit secret key. Required if AccessKeyID is set.
	SecretAccessKey string

	// ForcePathStyle forces path-style URLs (bucket in path, not subdomain).
	ForcePathStyle bool

	// KeepLocal leaves the downloaded file on disk after upload.
	KeepLocal bool
}

// Validate checks that required configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}

// s3API is the subset of the S3 client the backend uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3 stores artifacts in an S3 bucket.
type S3 struct {
	client    s3API
	bucket    string
	prefix    string
	keepLocal bool
}

var _ Store = (*S3)(nil)

// NewS3 creates an S3 artifact store.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &Error{Op: "New", Backend: BackendS3, Bucket: cfg.Bucket, Err: err}
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return newS3WithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

func newS3WithClient(client s3API, cfg S3Config) *S3 {
	return &S3{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    normalizePrefix(cfg.Prefix),
		keepLocal: cfg.KeepLocal,
	}
}

// loadAWSConfig builds the AWS configuration with appropriate credentials.
func loadAWSConfig(ctx context.Context, cfg S3Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		staticCreds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		opts = append(opts, config.WithCredentialsProvider(staticCreds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

func (s *S3) Backend() Backend { return BackendS3 }

// Publish uploads localPath as <prefix>output_{id}.<ext> and returns its
// s3:// URI. The local file is removed after a successful upload unless
// KeepLocal is set.
func (s *S3) Publish(ctx context.Context, jobID, localPath string) (string, error) {
	key := s.prefix + ArtifactName(jobID, localPath)

	f, err := os.Open(localPath)
	if err != nil {
		return "", &Error{Op: "Publish", Backend: BackendS3, Bucket: s.bucket, Key: key, Err: err}
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return "", &Error{Op: "Publish", Backend: BackendS3, Bucket: s.bucket, Key: key, Err: err}
	}
	size := st.Size()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: &size,
		ContentType:   aws.String(ContentType(key)),
	})
	if err != nil {
		return "", s.wrapError("Publish", key, err)
	}

	if !s.keepLocal {
		_ = f.Close()
		_ = os.Remove(localPath)
	}
	return "s3://" + s.bucket + "/" + key, nil
}

// Open streams the artifact for jobID from the bucket.
func (s *S3) Open(ctx context.Context, jobID string) (*Object, error) {
	key, err := s.find(ctx, jobID)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.wrapError("Open", key, err)
	}

	name := path.Base(key)
	ct := aws.ToString(out.ContentType)
	if ct == "" || ct == "binary/octet-stream" {
		ct = ContentType(name)
	}
	return &Object{
		Body:        out.Body,
		Name:        name,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: ct,
		ModTime:     aws.ToTime(out.LastModified),
	}, nil
}

// Remove deletes the artifact for jobID.
func (s *S3) Remove(ctx context.Context, jobID string) error {
	key, err := s.find(ctx, jobID)
	if IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return s.wrapError("Remove", key, err)
	}
	return nil
}

// Check verifies the bucket exists and is accessible.
func (s *S3) Check(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return s.wrapError("Check", "", err)
	}
	return nil
}

// find resolves the object key for jobID by listing the job's name prefix.
func (s *S3) find(ctx context.Context, jobID string) (string, error) {
	base := s.prefix + jobregistry.OutputBaseName(jobID)
	if strings.TrimSpace(jobID) == "" || strings.Contains(jobID, "/") {
		return "", &Error{Op: "Open", Backend: BackendS3, Bucket: s.bucket, Key: base, Err: ErrNotFound}
	}

	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(base + "."),
		MaxKeys: aws.Int32(16),
	})
	if err != nil {
		return "", s.wrapError("Open", base, err)
	}
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		ext := strings.TrimPrefix(key, base+".")
		if ext == "" || strings.Contains(ext, ".") || strings.Contains(ext, "/") {
			continue
		}
		return key, nil
	}
	return "", &Error{Op: "Open", Backend: BackendS3, Bucket: s.bucket, Key: base, Err: ErrNotFound}
}

// wrapError converts S3 errors to artifact errors with appropriate sentinel errors.
func (s *S3) wrapError(op, key string, err error) error {
	wrapped := &Error{Op: op, Backend: BackendS3, Bucket: s.bucket, Key: key, Err: err}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket

	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		wrapped.Err = ErrNotFound
		return wrapped
	case errors.As(err, &noSuchBucket):
		wrapped.Err = ErrBucketNotFound
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			wrapped.Err = ErrNotFound
		case "NoSuchBucket":
			wrapped.Err = ErrBucketNotFound
		case "AccessDenied", "Forbidden":
			wrapped.Err = ErrAccessDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			wrapped.Err = ErrInvalidCredentials
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			wrapped.Err = ErrThrottled
		case "ServiceUnavailable", "InternalError":
			wrapped.Err = ErrUnavailable
		}
		return wrapped
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "NoSuchBucket"):
		wrapped.Err = ErrBucketNotFound
	case strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "NotFound") || strings.Contains(msg, "404"):
		wrapped.Err = ErrNotFound
	case strings.Contains(msg, "AccessDenied") || strings.Contains(msg, "Forbidden") || strings.Contains(msg, "403"):
		wrapped.Err = ErrAccessDenied
	case strings.Contains(msg, "SlowDown") || strings.Contains(msg, "Throttling") || strings.Contains(msg, "429"):
		wrapped.Err = ErrThrottled
	case strings.Contains(msg, "ServiceUnavailable") || strings.Contains(msg, "503"):
		wrapped.Err = ErrUnavailable
	}
	return wrapped
}

// resolveRegion applies the us-east-1 fallback for AWS S3 only.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return ""
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(filepath.ToSlash(strings.TrimSpace(prefix)), "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}
