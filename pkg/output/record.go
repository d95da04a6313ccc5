// Package output provides JSONL output for download jobs.
//
// Output is structured as typed record envelopes containing progress
// updates, errors and a final summary. Each line is a self-contained JSON
// object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: vidgrab.<type>.v<version>
const (
	// TypeProgress identifies progress update records.
	TypeProgress = "vidgrab.progress.v1"

	// TypeError identifies error records.
	TypeError = "vidgrab.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "vidgrab.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "vidgrab.progress.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// DownloadID is the job the record belongs to.
	DownloadID string `json:"download_id"`

	// Backend identifies the artifact store (e.g., "local", "s3").
	Backend string `json:"backend"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// ProgressRecord is the data payload for progress updates. Field names match
// the progress endpoint.
type ProgressRecord struct {
	Status   string   `json:"status"`
	Progress float64  `json:"progress"`
	Speed    *float64 `json:"speed,omitempty"`
	ETA      *int64   `json:"eta,omitempty"`
}

// ErrorRecord is the data payload for a failed job.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is the human-readable failure description.
	Message string `json:"message"`

	// URL is the source that failed, if known.
	URL string `json:"url,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeDownloadFailed = "DOWNLOAD_FAILED"
	ErrCodeInterrupted    = "INTERRUPTED"
	ErrCodeInternal       = "INTERNAL"
)

// SummaryRecord is the data payload emitted when a job finishes.
type SummaryRecord struct {
	URL    string `json:"url"`
	Format string `json:"format"`

	// Output is where the artifact was published.
	Output string `json:"output"`

	// Duration is the wall time from submission to completion.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
