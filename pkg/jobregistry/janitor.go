package jobregistry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSweepSchedule runs the janitor once a minute.
const DefaultSweepSchedule = "@every 1m"

// ArtifactRemover deletes a job's published output.
type ArtifactRemover interface {
	Remove(ctx context.Context, jobID string) error
}

// Janitor evicts finished jobs, and their files, once they are older than a
// TTL. Failed jobs are cleaned too since they may leave partial downloads
// behind. Jobs still in flight are never evicted.
type Janitor struct {
	store   Store
	remover ArtifactRemover
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewJanitor creates a janitor. A nil remover leaves output files in place.
// A non-positive ttl disables eviction.
func NewJanitor(store Store, remover ArtifactRemover, ttl time.Duration, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		store:   store,
		remover: remover,
		ttl:     ttl,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Sweep evicts expired jobs and returns how many were removed.
func (j *Janitor) Sweep(ctx context.Context) int {
	if j.ttl <= 0 {
		return 0
	}
	cutoff := j.now().Add(-j.ttl)

	removed := 0
	for _, job := range j.store.List() {
		if job.State.IsActive() {
			continue
		}
		finished := job.UpdatedAt
		if job.FinishedAt != nil {
			finished = *job.FinishedAt
		}
		if finished.After(cutoff) {
			continue
		}

		if j.remover != nil {
			if err := j.remover.Remove(ctx, job.ID); err != nil {
				j.logger.Warn("Failed to remove expired output",
					zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
		}
		j.store.Delete(job.ID)
		removed++
	}

	if removed > 0 {
		j.logger.Info("Evicted expired jobs", zap.Int("count", removed), zap.Duration("ttl", j.ttl))
	}
	return removed
}

// Start schedules Sweep using a cron expression or descriptor
// (e.g. "@every 1m", "*/5 * * * *"). An empty schedule uses
// DefaultSweepSchedule.
func (j *Janitor) Start(schedule string) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron != nil {
		return fmt.Errorf("janitor already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { j.Sweep(context.Background()) }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	j.cron = c
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish or ctx to
// expire.
func (j *Janitor) Stop(ctx context.Context) {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}
