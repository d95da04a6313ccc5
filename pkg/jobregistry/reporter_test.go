package jobregistry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/vidgrab/pkg/fetcher"
)

func TestPercentage(t *testing.T) {
	tests := []struct {
		name        string
		downloaded  int64
		total       int64
		precomputed float64
		want        float64
	}{
		{"quarter", 50, 200, 0, 25.0},
		{"zero counters", 0, 0, 0, 0},
		{"missing total", 50, 0, 0, 0},
		{"missing downloaded", 0, 200, 0, 0},
		{"precomputed fallback", 0, 0, 42.5, 42.5},
		{"counters win over precomputed", 100, 200, 10, 50},
		{"clamped above 100", 300, 200, 0, 100},
		{"negative precomputed", 0, 0, -5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Percentage(tt.downloaded, tt.total, tt.precomputed), 1e-9)
		})
	}
}

func TestReporter_StateTransitions(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put(Job{ID: "1", State: JobStateStarting}))
	r := NewReporter(store)
	report := r.Func("1")

	report(fetcher.Event{Phase: fetcher.PhaseDownloading, Downloaded: 50, Total: 200, Speed: 1000, ETA: 4 * time.Second})
	got, _ := store.Get("1")
	assert.Equal(t, JobStateDownloading, got.State)
	assert.InDelta(t, 25.0, got.Progress, 1e-9)
	assert.Equal(t, 1000.0, got.Speed)
	assert.Equal(t, 4*time.Second, got.ETA)

	report(fetcher.Event{Phase: fetcher.PhaseDownloading})
	got, _ = store.Get("1")
	assert.InDelta(t, 25.0, got.Progress, 1e-9, "missing counters keep the last progress")

	report(fetcher.Event{Phase: fetcher.PhaseFinished, Downloaded: 200, Total: 200})
	got, _ = store.Get("1")
	assert.Equal(t, JobStateProcessing, got.State)
	assert.Equal(t, ProcessingProgress, got.Progress)
	assert.Zero(t, got.Speed)
}

func TestReporter_MonotonicWithIncreasingBytes(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put(Job{ID: "1", State: JobStateStarting}))
	r := NewReporter(store)

	last := -1.0
	for downloaded := int64(0); downloaded <= 1000; downloaded += 37 {
		r.OnEvent("1", fetcher.Event{Phase: fetcher.PhaseDownloading, Downloaded: downloaded, Total: 1000})
		got, _ := store.Get("1")
		require.GreaterOrEqual(t, got.Progress, last)
		last = got.Progress
	}
}

func TestReporter_RevisedEstimateDoesNotRegress(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put(Job{ID: "1", State: JobStateStarting}))
	r := NewReporter(store)

	ticks := []struct {
		ev   fetcher.Event
		want float64
	}{
		{fetcher.Event{Phase: fetcher.PhaseDownloading, Downloaded: 500, Total: 1000}, 50},
		{fetcher.Event{Phase: fetcher.PhaseDownloading, Downloaded: 600, Total: 3000}, 50},
		{fetcher.Event{Phase: fetcher.PhaseDownloading, Downloaded: 2400, Total: 3000}, 80},
		{fetcher.Event{Phase: fetcher.PhaseFinished, Downloaded: 3000, Total: 3000}, ProcessingProgress},
		{fetcher.Event{Phase: fetcher.PhaseDownloading, Downloaded: 10, Total: 100}, 10},
		{fetcher.Event{Phase: fetcher.PhaseDownloading, Downloaded: 20, Total: 400}, 10},
	}
	for i, tick := range ticks {
		r.OnEvent("1", tick.ev)
		got, _ := store.Get("1")
		assert.InDelta(t, tick.want, got.Progress, 1e-9, "tick %d", i)
	}
}

func TestReporter_IgnoresUnknownAndTerminal(t *testing.T) {
	store := NewMemoryStore()
	r := NewReporter(store)

	r.OnEvent("missing", fetcher.Event{Phase: fetcher.PhaseDownloading, Downloaded: 1, Total: 2})
	_, ok := store.Get("missing")
	assert.False(t, ok, "events must not create jobs")

	require.NoError(t, store.Put(Job{ID: "done", State: JobStateDone, Progress: 100}))
	r.OnEvent("done", fetcher.Event{Phase: fetcher.PhaseDownloading, Downloaded: 1, Total: 2})
	r.OnEvent("done", fetcher.Event{Phase: fetcher.PhaseFinished})
	got, _ := store.Get("done")
	assert.Equal(t, JobStateDone, got.State)
	assert.Equal(t, 100.0, got.Progress)

	require.NoError(t, store.Put(Job{ID: "x", State: JobStateStarting}))
	r.OnEvent("x", fetcher.Event{Phase: "error"})
	got, _ = store.Get("x")
	assert.Equal(t, JobStateStarting, got.State, "unknown phases are ignored")
}

func TestJob_Snapshot(t *testing.T) {
	downloading := Job{State: JobStateDownloading, Progress: 12.5, Speed: 2048, ETA: 90 * time.Second}.Snapshot()
	assert.Equal(t, "downloading", downloading.Status)
	require.NotNil(t, downloading.Speed)
	require.NotNil(t, downloading.ETA)
	assert.Equal(t, 2048.0, *downloading.Speed)
	assert.Equal(t, int64(90), *downloading.ETA)

	starting := Job{State: JobStateStarting}.Snapshot()
	assert.Equal(t, Snapshot{Status: "starting", Progress: 0}, starting)

	failed := Job{State: JobStateError, Error: "boom"}.Snapshot()
	assert.Equal(t, Snapshot{Status: "error", Progress: 0, Error: "boom"}, failed)

	assert.Equal(t, Snapshot{Status: "Not found", Progress: 0}, NotFoundSnapshot())
}
