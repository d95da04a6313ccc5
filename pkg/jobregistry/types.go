package jobregistry

import "time"

// JobState is the lifecycle state of a download job.
//
// NOTE: These values are returned verbatim by the progress endpoint and are
// part of the client contract.
type JobState string

const (
	JobStateStarting    JobState = "starting"
	JobStateDownloading JobState = "downloading"
	JobStateProcessing  JobState = "processing"
	JobStateDone        JobState = "done"
	JobStateError       JobState = "error"
)

// NotFoundStatus is the status reported for ids the registry does not hold.
// It is a query result, never a stored state.
const NotFoundStatus = "Not found"

// ProcessingProgress is the progress reported once the extractor has
// finished transferring and post-processing (merge/remux) is underway.
const ProcessingProgress = 95.0

// IsTerminal reports whether no further transition may occur.
func (s JobState) IsTerminal() bool {
	return s == JobStateDone || s == JobStateError
}

// IsActive reports whether the job is still in flight.
func (s JobState) IsActive() bool {
	return s == JobStateStarting || s == JobStateDownloading || s == JobStateProcessing
}

// Job is one tracked download request.
type Job struct {
	ID     string   `json:"download_id"`
	URL    string   `json:"url"`
	Format string   `json:"format"`
	State  JobState `json:"status"`

	// Progress is a percentage in [0,100].
	Progress float64 `json:"progress"`

	// Speed is bytes per second from the latest tick, zero if unknown.
	Speed float64 `json:"speed,omitempty"`

	// ETA is the remaining time from the latest tick, zero if unknown.
	ETA time.Duration `json:"eta,omitempty"`

	// Error is set only when State is JobStateError.
	Error string `json:"error,omitempty"`

	// OutputPath is set only when State is JobStateDone.
	OutputPath string `json:"output_path,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Snapshot is the client-facing view of a Job returned by the progress
// endpoint.
type Snapshot struct {
	Status   string   `json:"status"`
	Progress float64  `json:"progress"`
	Speed    *float64 `json:"speed,omitempty"`
	ETA      *int64   `json:"eta,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Snapshot returns the client-facing view of j.
//
// Speed and ETA (seconds) are included while the job is downloading.
func (j Job) Snapshot() Snapshot {
	s := Snapshot{
		Status:   string(j.State),
		Progress: j.Progress,
	}
	if j.State == JobStateDownloading {
		speed := j.Speed
		eta := int64(j.ETA / time.Second)
		s.Speed = &speed
		s.ETA = &eta
	}
	if j.State == JobStateError {
		s.Error = j.Error
	}
	return s
}

// NotFoundSnapshot is returned for unknown job ids.
func NotFoundSnapshot() Snapshot {
	return Snapshot{Status: NotFoundStatus, Progress: 0}
}

// OutputBaseName is the file name, without extension, that a job's output is
// written under.
func OutputBaseName(jobID string) string {
	return "output_" + jobID
}
