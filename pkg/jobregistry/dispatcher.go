package jobregistry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/vidgrab/pkg/fetcher"
)

// Config configures dispatcher behavior.
type Config struct {
	// Workers is the number of downloads run concurrently.
	// Default: 4
	Workers int

	// QueueSize is how many accepted jobs may wait for a free worker.
	// Submissions beyond this are rejected with ErrQueueFull.
	// Default: 64
	QueueSize int

	// DownloadsDir is where the fetcher writes output files.
	// Default: "static/downloads"
	DownloadsDir string
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		QueueSize:    64,
		DownloadsDir: "static/downloads",
	}
}

// CredentialSource supplies extractor credentials at download time.
type CredentialSource interface {
	FetchAuth(ctx context.Context) (fetcher.Auth, error)
}

// Publisher moves a finished download to its final location and returns the
// location recorded as the job's output path.
type Publisher interface {
	Publish(ctx context.Context, jobID, localPath string) (string, error)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithIDGenerator sets the job id strategy. Default: Numeric().
func WithIDGenerator(gen Generator) Option {
	return func(d *Dispatcher) { d.newID = gen }
}

// WithHostPolicy restricts which URLs are accepted.
func WithHostPolicy(p *fetcher.HostPolicy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithCredentials sets the credential source passed through to the fetcher.
func WithCredentials(c CredentialSource) Option {
	return func(d *Dispatcher) { d.creds = c }
}

// WithPublisher sets where finished files are published.
func WithPublisher(p Publisher) Option {
	return func(d *Dispatcher) { d.publisher = p }
}

// WithLogger sets the dispatcher logger. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

type task struct {
	jobID  string
	url    string
	format string
}

// Dispatcher accepts download submissions and runs them on a bounded pool of
// workers, recording progress and outcome in a Store.
//
// Submit never waits for a download. Failures inside a download are recorded
// on the job and go nowhere else.
type Dispatcher struct {
	store     Store
	fetcher   fetcher.Fetcher
	reporter  *Reporter
	cfg       Config
	newID     Generator
	policy    *fetcher.HostPolicy
	creds     CredentialSource
	publisher Publisher
	logger    *zap.Logger

	queue chan task

	mu      sync.RWMutex
	closed  bool
	started bool
	group   *errgroup.Group
	cancel  context.CancelFunc
}

// NewDispatcher creates a dispatcher. Call Start to launch workers.
func NewDispatcher(store Store, f fetcher.Fetcher, cfg Config, opts ...Option) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if strings.TrimSpace(cfg.DownloadsDir) == "" {
		cfg.DownloadsDir = DefaultConfig().DownloadsDir
	}

	d := &Dispatcher{
		store:    store,
		fetcher:  f,
		reporter: NewReporter(store),
		cfg:      cfg,
		newID:    Numeric(),
		logger:   zap.NewNop(),
		queue:    make(chan task, cfg.QueueSize),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) Store() Store {
	return d.store
}

func (d *Dispatcher) Config() Config {
	return d.cfg
}

// Start launches the worker pool. Workers stop when ctx is cancelled or after
// Shutdown drains the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	workerCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	g, gctx := errgroup.WithContext(workerCtx)
	d.group = g

	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case t, ok := <-d.queue:
					if !ok {
						return nil
					}
					d.run(gctx, t)
				}
			}
		})
	}
	d.logger.Info("Dispatcher started",
		zap.Int("workers", d.cfg.Workers),
		zap.Int("queue_size", d.cfg.QueueSize))
}

// Submit validates the request, records a new job in the starting state, and
// queues it. It returns the job id without waiting for the download.
func (d *Dispatcher) Submit(ctx context.Context, rawURL, resolution string) (string, error) {
	_ = ctx

	if strings.TrimSpace(rawURL) == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	u, err := d.policy.Check(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if strings.TrimSpace(resolution) == "" {
		resolution = fetcher.DefaultResolution
	}
	format, err := fetcher.FormatSpec(resolution)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	jobID := d.newID()
	if err := d.store.Put(Job{
		ID:       jobID,
		URL:      u.String(),
		Format:   resolution,
		State:    JobStateStarting,
		Progress: 0,
	}); err != nil {
		return "", err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.store.Delete(jobID)
		return "", ErrDispatcherClosed
	}
	select {
	case d.queue <- task{jobID: jobID, url: u.String(), format: format}:
	default:
		d.store.Delete(jobID)
		return "", ErrQueueFull
	}

	d.logger.Info("Download accepted",
		zap.String("job_id", jobID),
		zap.String("url", u.String()),
		zap.String("format", resolution))
	return jobID, nil
}

// Pending returns how many accepted jobs are waiting for a worker.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Shutdown stops accepting submissions and waits for queued and running jobs
// to finish. If ctx expires first, in-flight downloads are cancelled and
// ctx's error is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	group, cancel := d.group, d.cancel
	d.mu.Unlock()

	if group == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

// run executes one job to completion. It never returns an error: the outcome
// is recorded on the job.
func (d *Dispatcher) run(ctx context.Context, t task) {
	start := time.Now()
	log := d.logger.With(zap.String("job_id", t.jobID))

	defer func() {
		if r := recover(); r != nil {
			d.fail(t.jobID, fmt.Errorf("panic: %v", r))
			log.Error("Download panicked", zap.Any("panic", r))
		}
	}()

	var auth fetcher.Auth
	if d.creds != nil {
		a, err := d.creds.FetchAuth(ctx)
		if err != nil {
			d.fail(t.jobID, fmt.Errorf("credentials: %w", err))
			log.Warn("Download failed", zap.Error(err))
			return
		}
		auth = a
	}

	res, err := d.fetcher.Fetch(ctx, fetcher.Request{
		URL:       t.url,
		Format:    t.format,
		OutputDir: d.cfg.DownloadsDir,
		BaseName:  OutputBaseName(t.jobID),
		Auth:      auth,
	}, d.reporter.Func(t.jobID))
	if err == nil && res == nil {
		err = errors.New("fetcher returned no result")
	}
	if err != nil {
		d.fail(t.jobID, err)
		log.Warn("Download failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return
	}

	outputPath := res.Path
	if d.publisher != nil {
		p, err := d.publisher.Publish(ctx, t.jobID, res.Path)
		if err != nil {
			d.fail(t.jobID, fmt.Errorf("publish: %w", err))
			log.Warn("Publish failed", zap.Error(err))
			return
		}
		outputPath = p
	}

	d.store.Update(t.jobID, func(j *Job) {
		now := time.Now().UTC()
		j.State = JobStateDone
		j.Progress = 100
		j.Speed = 0
		j.ETA = 0
		j.OutputPath = outputPath
		j.FinishedAt = &now
	})
	log.Info("Download complete",
		zap.String("output", outputPath),
		zap.Int64("bytes", res.Size),
		zap.Duration("elapsed", time.Since(start)))
}

func (d *Dispatcher) fail(jobID string, err error) {
	d.store.Update(jobID, func(j *Job) {
		now := time.Now().UTC()
		j.State = JobStateError
		j.Progress = 0
		j.Speed = 0
		j.ETA = 0
		j.Error = err.Error()
		j.FinishedAt = &now
	})
}
