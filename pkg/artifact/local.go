package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3leaps/vidgrab/pkg/fetcher"
	"github.com/3leaps/vidgrab/pkg/jobregistry"
)

// Local keeps artifacts as files in a single directory.
type Local struct {
	baseDir string
}

var _ Store = (*Local)(nil)

// NewLocal creates a local store rooted at dir.
func NewLocal(dir string) (*Local, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("local artifact dir is required")
	}
	return &Local{baseDir: filepath.Clean(dir)}, nil
}

func (l *Local) Backend() Backend { return BackendLocal }

// Publish moves localPath into the artifact directory as output_{id}.<ext>.
// Files already in place are left untouched.
func (l *Local) Publish(ctx context.Context, jobID, localPath string) (string, error) {
	_ = ctx
	if strings.TrimSpace(jobID) == "" {
		return "", l.wrapError("Publish", localPath, fmt.Errorf("job id is required"))
	}
	dest := filepath.Join(l.baseDir, ArtifactName(jobID, localPath))
	if sameFile(localPath, dest) {
		return dest, nil
	}
	if err := os.MkdirAll(l.baseDir, 0o755); err != nil {
		return "", l.wrapError("Publish", dest, err)
	}
	if err := os.Rename(localPath, dest); err != nil {
		// Cross-device moves fall back to copy and delete.
		if err := copyFile(localPath, dest); err != nil {
			return "", l.wrapError("Publish", dest, err)
		}
		_ = os.Remove(localPath)
	}
	return dest, nil
}

// Open returns the finished artifact for jobID.
func (l *Local) Open(ctx context.Context, jobID string) (*Object, error) {
	_ = ctx
	path, err := l.find(jobID)
	if err != nil {
		return nil, l.wrapError("Open", jobID, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, l.wrapError("Open", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, l.wrapError("Open", path, err)
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, l.wrapError("Open", path, ErrNotFound)
	}
	name := filepath.Base(path)
	return &Object{
		Body:        f,
		Name:        name,
		Size:        st.Size(),
		ContentType: ContentType(name),
		ModTime:     st.ModTime(),
	}, nil
}

// Remove deletes every file belonging to jobID, including leftovers from an
// interrupted download.
func (l *Local) Remove(ctx context.Context, jobID string) error {
	_ = ctx
	base := jobregistry.OutputBaseName(jobID)
	matches, err := doublestar.Glob(os.DirFS(l.baseDir), doublestar.EscapeMeta(base)+".*")
	if err != nil {
		return l.wrapError("Remove", jobID, err)
	}
	for _, m := range matches {
		if err := os.Remove(filepath.Join(l.baseDir, filepath.FromSlash(m))); err != nil && !os.IsNotExist(err) {
			return l.wrapError("Remove", m, err)
		}
	}
	return nil
}

// Check creates the artifact directory if needed and verifies it is writable.
func (l *Local) Check(ctx context.Context) error {
	_ = ctx
	if err := os.MkdirAll(l.baseDir, 0o755); err != nil {
		return l.wrapError("Check", l.baseDir, err)
	}
	tmp, err := os.CreateTemp(l.baseDir, ".vidgrab-check-*")
	if err != nil {
		return l.wrapError("Check", l.baseDir, err)
	}
	name := tmp.Name()
	_ = tmp.Close()
	_ = os.Remove(name)
	return nil
}

func (l *Local) find(jobID string) (string, error) {
	if strings.TrimSpace(jobID) == "" || strings.ContainsAny(jobID, `/\`) {
		return "", ErrNotFound
	}
	path, err := fetcher.FindOutput(l.baseDir, jobregistry.OutputBaseName(jobID))
	if errors.Is(err, fetcher.ErrNoOutput) {
		return "", ErrNotFound
	}
	return path, err
}

func (l *Local) wrapError(op, key string, err error) error {
	wrapped := &Error{Op: op, Backend: BackendLocal, Key: key, Err: err}
	if err == nil {
		wrapped.Err = fmt.Errorf("unknown error")
	}
	if os.IsNotExist(err) {
		wrapped.Err = ErrNotFound
	}
	if os.IsPermission(err) {
		wrapped.Err = ErrAccessDenied
	}
	return wrapped
}

func sameFile(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	sa, err := os.Stat(a)
	if err != nil {
		return false
	}
	sb, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(sa, sb)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".vidgrab-put-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}
