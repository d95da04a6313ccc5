package jobregistry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGetRoundTrip(t *testing.T) {
	s := NewMemoryStore()

	now := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	rec := Job{
		ID:        "job-1",
		URL:       "https://youtu.be/abc123",
		Format:    "720p",
		State:     JobStateStarting,
		CreatedAt: now,
	}
	require.NoError(t, s.Put(rec))

	got, ok := s.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.State, got.State)
	assert.Equal(t, now, got.CreatedAt)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestMemoryStore_GetUnknown(t *testing.T) {
	s := NewMemoryStore()
	got, ok := s.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, Job{}, got)
}

func TestMemoryStore_PutRequiresID(t *testing.T) {
	s := NewMemoryStore()
	assert.Error(t, s.Put(Job{ID: "  "}))
}

func TestMemoryStore_KeysIDsConsistently(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put(Job{ID: " 42 ", State: JobStateStarting}))

	tests := []struct {
		name string
		id   string
	}{
		{"exact", "42"},
		{"padded", " 42\t"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := s.Get(tt.id)
			require.True(t, ok)
			assert.Equal(t, "42", got.ID)
			assert.True(t, s.Update(tt.id, func(j *Job) { j.Progress = 10 }))
		})
	}

	s.Delete("\n42 ")
	_, ok := s.Get("42")
	assert.False(t, ok, "delete keys the same way as get")
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	finished := time.Now()
	require.NoError(t, s.Put(Job{ID: "job-1", State: JobStateStarting, FinishedAt: &finished}))

	got, _ := s.Get("job-1")
	got.State = JobStateDone
	*got.FinishedAt = time.Time{}

	again, _ := s.Get("job-1")
	assert.Equal(t, JobStateStarting, again.State)
	assert.False(t, again.FinishedAt.IsZero())
}

func TestMemoryStore_UpdateRefusesTerminal(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put(Job{ID: "job-1", State: JobStateStarting}))

	ok := s.Update("job-1", func(j *Job) {
		j.State = JobStateDone
		j.Progress = 100
		j.ID = "renamed"
	})
	require.True(t, ok)

	called := false
	ok = s.Update("job-1", func(j *Job) {
		called = true
		j.State = JobStateDownloading
	})
	assert.False(t, ok)
	assert.False(t, called)

	got, found := s.Get("job-1")
	require.True(t, found)
	assert.Equal(t, JobStateDone, got.State)
	assert.Equal(t, 100.0, got.Progress)

	_, renamed := s.Get("renamed")
	assert.False(t, renamed, "mutations cannot change the id")

	assert.False(t, s.Update("missing", func(*Job) {}))
}

func TestMemoryStore_ListSortsNewestFirst(t *testing.T) {
	s := NewMemoryStore()

	t1 := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 19, 13, 0, 0, 0, time.UTC)

	require.NoError(t, s.Put(Job{ID: "job-1", State: JobStateStarting, CreatedAt: t1}))
	require.NoError(t, s.Put(Job{ID: "job-2", State: JobStateStarting, CreatedAt: t2}))

	got := s.List()
	require.Len(t, got, 2)
	assert.Equal(t, "job-2", got[0].ID)

	s.Delete("job-2")
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_ConcurrentUpdates(t *testing.T) {
	s := NewMemoryStore()
	const jobs = 8
	const ticks = 200

	for i := 0; i < jobs; i++ {
		require.NoError(t, s.Put(Job{ID: fmt.Sprintf("job-%d", i), State: JobStateStarting}))
	}

	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		id := fmt.Sprintf("job-%d", i)
		for w := 0; w < 2; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for n := 0; n < ticks; n++ {
					s.Update(id, func(j *Job) {
						j.State = JobStateDownloading
						j.Progress++
					})
					_, _ = s.Get(id)
				}
			}()
		}
	}
	wg.Wait()

	for i := 0; i < jobs; i++ {
		got, ok := s.Get(fmt.Sprintf("job-%d", i))
		require.True(t, ok)
		assert.Equal(t, float64(2*ticks), got.Progress)
	}
}
