package fetcher

import (
	"errors"
	"fmt"
)

// Sentinel errors for fetch operations.
var (
	// ErrInvalidFormat indicates a resolution token that cannot be turned into
	// a format selector.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrInvalidURL indicates a URL that is empty, malformed, or not allowed.
	ErrInvalidURL = errors.New("invalid url")

	// ErrNoOutput indicates the extractor exited cleanly but left no file.
	ErrNoOutput = errors.New("extractor produced no output file")

	// ErrBinaryNotFound indicates the extractor executable is missing.
	ErrBinaryNotFound = errors.New("extractor binary not found")

	// ErrVideoNotFound indicates the video metadata lookup found nothing.
	ErrVideoNotFound = errors.New("video not found")
)

// Error wraps a failed extractor run with context.
type Error struct {
	// Op is the operation that failed (e.g., "Fetch", "VideoInfo").
	Op string

	// URL is the requested URL.
	URL string

	// Stderr is the tail of the extractor's diagnostic output, if any.
	Stderr string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s %s: %v: %s", e.Op, e.URL, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsInvalidInput reports whether err was caused by a bad URL or format token.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidFormat) || errors.Is(err, ErrInvalidURL)
}
