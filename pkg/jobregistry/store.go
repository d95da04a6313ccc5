package jobregistry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store holds job records for the life of the process.
//
// Implementations must be safe for concurrent use. Get on an unknown id
// returns ok=false rather than an error. Update applies a mutation atomically
// and refuses to touch jobs that already reached a terminal state.
type Store interface {
	Get(jobID string) (Job, bool)
	Put(job Job) error
	Update(jobID string, mutate func(*Job)) bool
	Delete(jobID string)
	List() []Job
}

// MemoryStore is an in-memory Store.
//
// Records are copied on the way in and out, so callers never share a Job
// value with the store.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
	now  func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Get(jobID string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[normalizeID(jobID)]
	return cloneJob(job), ok
}

func (s *MemoryStore) Put(job Job) error {
	jobID := normalizeID(job.ID)
	if jobID == "" {
		return fmt.Errorf("job_id is required")
	}
	job.ID = jobID

	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[jobID] = cloneJob(job)
	return nil
}

// Update applies mutate to the stored job. It returns false when the job is
// unknown or already terminal, in which case mutate is not called.
func (s *MemoryStore) Update(jobID string, mutate func(*Job)) bool {
	jobID = normalizeID(jobID)
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.State.IsTerminal() {
		return false
	}

	next := cloneJob(job)
	mutate(&next)
	next.ID = job.ID
	next.CreatedAt = job.CreatedAt
	next.UpdatedAt = s.now()
	s.jobs[jobID] = next
	return true
}

func (s *MemoryStore) Delete(jobID string) {
	jobID = normalizeID(jobID)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
}

// List returns all jobs, newest first.
func (s *MemoryStore) List() []Job {
	s.mu.RLock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, cloneJob(j))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of stored jobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// normalizeID is the single keying rule for every Store method.
func normalizeID(jobID string) string {
	return strings.TrimSpace(jobID)
}

func cloneJob(j Job) Job {
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		j.FinishedAt = &t
	}
	return j
}
