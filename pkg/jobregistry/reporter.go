package jobregistry

import (
	"math"

	"github.com/3leaps/vidgrab/pkg/fetcher"
)

// Reporter translates fetcher progress events into registry updates.
//
// OnEvent does no I/O and never blocks beyond the store's lock, so it is safe
// to call many times per second from a download goroutine.
type Reporter struct {
	store Store
}

func NewReporter(store Store) *Reporter {
	return &Reporter{store: store}
}

// Func binds the reporter to one job for use as a fetcher callback.
func (r *Reporter) Func(jobID string) fetcher.EventFunc {
	return func(ev fetcher.Event) {
		r.OnEvent(jobID, ev)
	}
}

// OnEvent applies a single progress event. Events for unknown or terminal
// jobs are dropped.
//
// Progress never moves backwards while a job is downloading, even when the
// extractor revises its size estimate. It resets only after a finished event,
// when the next stream starts from zero.
func (r *Reporter) OnEvent(jobID string, ev fetcher.Event) {
	switch ev.Phase {
	case fetcher.PhaseDownloading:
		pct := Percentage(ev.Downloaded, ev.Total, ev.Percent)
		r.store.Update(jobID, func(j *Job) {
			if j.State != JobStateDownloading || pct >= j.Progress {
				j.Progress = pct
			}
			j.State = JobStateDownloading
			j.Speed = ev.Speed
			j.ETA = ev.ETA
		})
	case fetcher.PhaseFinished:
		r.store.Update(jobID, func(j *Job) {
			j.State = JobStateProcessing
			j.Progress = ProcessingProgress
			j.Speed = 0
			j.ETA = 0
		})
	}
}

// Percentage computes download progress in [0,100].
//
// Byte counters win when both are positive; otherwise a precomputed percent
// is used; otherwise the result is 0.
func Percentage(downloaded, total int64, precomputed float64) float64 {
	var pct float64
	switch {
	case downloaded > 0 && total > 0:
		pct = 100 * float64(downloaded) / float64(total)
	case precomputed > 0:
		pct = precomputed
	}
	if math.IsNaN(pct) || pct < 0 {
		return 0
	}
	return math.Min(pct, 100)
}
