// Package artifact stores finished downloads and serves them back by job id.
//
// Every job owns at most one artifact, named output_{id}.<ext> after the
// extractor's chosen container. Backends keep that name so lookups only need
// the job id.
package artifact

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/3leaps/vidgrab/pkg/jobregistry"
)

// Backend identifies an artifact store implementation.
type Backend string

const (
	// BackendLocal keeps artifacts in a directory on local disk.
	BackendLocal Backend = "local"

	// BackendS3 uploads artifacts to an S3 or S3-compatible bucket.
	BackendS3 Backend = "s3"
)

// Store publishes, serves and removes job artifacts.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Publish takes ownership of a finished local file for jobID and returns
	// the location recorded on the job.
	Publish(ctx context.Context, jobID, localPath string) (string, error)

	// Open returns the artifact for jobID. Returns ErrNotFound if none exists.
	// The caller must close Object.Body.
	Open(ctx context.Context, jobID string) (*Object, error)

	// Remove deletes the artifact for jobID. Removing a missing artifact is
	// not an error.
	Remove(ctx context.Context, jobID string) error

	// Check verifies the backend is reachable and writable enough to accept
	// artifacts.
	Check(ctx context.Context) error

	// Backend reports which implementation this is.
	Backend() Backend
}

// Object is an opened artifact.
type Object struct {
	// Body streams the artifact content. For the local backend it also
	// implements io.ReadSeeker.
	Body io.ReadCloser

	// Name is the artifact file name, e.g. "output_1700000000.mp4".
	Name string

	Size        int64
	ContentType string
	ModTime     time.Time
}

// Config selects and configures a backend.
type Config struct {
	// Backend is "local" (default) or "s3".
	Backend Backend

	// LocalDir is where the local backend keeps artifacts. It should match
	// the fetcher's downloads directory so publishing is a no-op.
	LocalDir string

	// S3 configures the s3 backend.
	S3 S3Config
}

// New creates the configured artifact store.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(string(cfg.Backend)))) {
	case "", BackendLocal:
		return NewLocal(cfg.LocalDir)
	case BackendS3:
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage backend %q (expected local or s3)", cfg.Backend)
	}
}

// ArtifactName returns the artifact file name for a job given the local file
// the extractor produced.
func ArtifactName(jobID, localPath string) string {
	return jobregistry.OutputBaseName(jobID) + filepath.Ext(localPath)
}

// ContentType guesses a MIME type from the artifact name.
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".m4a":
		return "audio/mp4"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
