package fetcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

// DefaultBinary is the extractor executable looked up on PATH.
const DefaultBinary = "yt-dlp"

// progressInterval throttles go-ytdlp progress callbacks.
const progressInterval = 250 * time.Millisecond

// maxStderrTail bounds how much extractor stderr is kept for error messages.
const maxStderrTail = 4096

// YtDlpConfig configures the yt-dlp adapter.
type YtDlpConfig struct {
	// Binary is the executable name or path. Default: "yt-dlp".
	Binary string

	// ExtraArgs are passed through ahead of the URL on every invocation.
	ExtraArgs []string
}

// YtDlp drives the yt-dlp binary through go-ytdlp as a Fetcher.
type YtDlp struct {
	binary    string
	extraArgs []string
}

var _ Fetcher = (*YtDlp)(nil)

// NewYtDlp creates a yt-dlp backed fetcher.
func NewYtDlp(cfg YtDlpConfig) *YtDlp {
	binary := strings.TrimSpace(cfg.Binary)
	if binary == "" {
		binary = DefaultBinary
	}
	return &YtDlp{
		binary:    binary,
		extraArgs: append([]string(nil), cfg.ExtraArgs...),
	}
}

// Binary returns the configured executable.
func (y *YtDlp) Binary() string {
	return y.binary
}

// LookPath resolves the executable on PATH.
func (y *YtDlp) LookPath() (string, error) {
	p, err := exec.LookPath(y.binary)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrBinaryNotFound, y.binary, err)
	}
	return p, nil
}

// Version runs the executable with --version and returns its first line.
func (y *YtDlp) Version(ctx context.Context) (string, error) {
	res, err := ytdlp.New().SetExecutable(y.binary).Version(ctx)
	if err != nil {
		return "", &Error{Op: "Version", Stderr: stderrOf(res), Err: err}
	}
	line, _, _ := strings.Cut(strings.TrimSpace(res.Stdout), "\n")
	return line, nil
}

// Command builds the go-ytdlp command for req. Progress callbacks are not
// attached.
func (y *YtDlp) Command(req Request) *ytdlp.Command {
	dl := ytdlp.New().
		SetExecutable(y.binary).
		NoPlaylist().
		Format(req.Format).
		MergeOutputFormat("mp4").
		Output(filepath.Join(req.OutputDir, req.BaseName+".%(ext)s"))

	keys := make([]string, 0, len(req.Auth.Headers))
	for k := range req.Auth.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		dl = dl.AddHeaders(k + ":" + req.Auth.Headers[k])
	}
	if req.Auth.CookieFile != "" {
		dl = dl.Cookies(req.Auth.CookieFile)
	}
	return dl
}

// Fetch runs yt-dlp for req and streams its progress to onEvent.
func (y *YtDlp) Fetch(ctx context.Context, req Request, onEvent EventFunc) (*Result, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, &Error{Op: "Fetch", Err: ErrInvalidURL}
	}
	if strings.TrimSpace(req.BaseName) == "" || strings.TrimSpace(req.OutputDir) == "" {
		return nil, &Error{Op: "Fetch", URL: req.URL, Err: errors.New("output dir and base name are required")}
	}
	if _, err := y.LookPath(); err != nil {
		return nil, &Error{Op: "Fetch", URL: req.URL, Err: err}
	}
	if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
		return nil, &Error{Op: "Fetch", URL: req.URL, Err: fmt.Errorf("create output dir: %w", err)}
	}

	// go-ytdlp calls back from its own reader goroutine; events that arrive
	// after Run returns are dropped.
	var mu sync.Mutex
	done := false
	dl := y.Command(req).ProgressFunc(progressInterval, func(u ytdlp.ProgressUpdate) {
		ev, ok := eventFromUpdate(u, time.Now())
		if !ok || onEvent == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if !done {
			onEvent(ev)
		}
	})

	args := append(append([]string(nil), y.extraArgs...), req.URL)
	res, err := dl.Run(ctx, args...)

	mu.Lock()
	done = true
	mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &Error{Op: "Fetch", URL: req.URL, Stderr: stderrOf(res), Err: err}
	}

	path, err := FindOutput(req.OutputDir, req.BaseName)
	if err != nil {
		return nil, &Error{Op: "Fetch", URL: req.URL, Stderr: stderrOf(res), Err: err}
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, &Error{Op: "Fetch", URL: req.URL, Err: err}
	}
	return &Result{Path: path, Size: info.Size()}, nil
}

// eventFromUpdate translates a go-ytdlp progress update. Updates that carry
// no download progress (starting, error) return ok=false.
func eventFromUpdate(u ytdlp.ProgressUpdate, now time.Time) (Event, bool) {
	var ev Event
	switch u.Status {
	case ytdlp.ProgressStatusDownloading:
		ev.Phase = PhaseDownloading
	case ytdlp.ProgressStatusFinished, ytdlp.ProgressStatusPostProcessing:
		ev.Phase = PhaseFinished
	default:
		return Event{}, false
	}

	if u.DownloadedBytes > 0 {
		ev.Downloaded = int64(u.DownloadedBytes)
	}
	if u.TotalBytes > 0 {
		ev.Total = int64(u.TotalBytes)
	}
	if ev.Phase != PhaseDownloading || u.Started.IsZero() {
		return ev, true
	}

	elapsed := now.Sub(u.Started).Seconds()
	if elapsed <= 0 || ev.Downloaded == 0 {
		return ev, true
	}
	ev.Speed = float64(ev.Downloaded) / elapsed
	if remaining := ev.Total - ev.Downloaded; remaining > 0 {
		ev.ETA = time.Duration(float64(remaining) / ev.Speed * float64(time.Second))
	}
	return ev, true
}

func stderrOf(res *ytdlp.Result) string {
	if res == nil {
		return ""
	}
	s := strings.TrimSpace(res.Stderr)
	if len(s) > maxStderrTail {
		s = s[len(s)-maxStderrTail:]
	}
	return s
}

// FindOutput locates the finished file <dir>/<base>.<ext>. Partial and
// per-stream intermediate files are ignored.
func FindOutput(dir, base string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, base+".*"))
	if err != nil {
		return "", err
	}
	sort.Strings(matches)
	for _, m := range matches {
		ext := strings.TrimPrefix(filepath.Base(m), base+".")
		if ext == "" || strings.Contains(ext, ".") {
			continue
		}
		switch ext {
		case "part", "ytdl", "temp":
			continue
		}
		return m, nil
	}
	return "", ErrNoOutput
}
