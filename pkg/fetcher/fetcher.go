// Package fetcher defines the Video Fetcher boundary and its yt-dlp adapter.
//
// A Fetcher performs the actual media retrieval for a URL and format
// selector, reports progress through a callback, and leaves a single output
// file in a caller-chosen directory. Format negotiation, network I/O and
// muxing are the extractor's business; this package only drives it and
// translates its progress updates into Events.
package fetcher

import (
	"context"
	"time"
)

// Phase marks what a progress Event describes.
type Phase string

const (
	// PhaseDownloading is emitted repeatedly while bytes are transferred.
	PhaseDownloading Phase = "downloading"

	// PhaseFinished is emitted when a stream has been fully transferred and
	// post-processing (merge/remux) may follow.
	PhaseFinished Phase = "finished"
)

// Event is a single progress tick from the extractor.
//
// Byte counters are zero when the extractor does not know them. Percent is an
// optional precomputed value in [0,100] used only when the byte counters are
// not usable.
type Event struct {
	Phase      Phase
	Downloaded int64
	Total      int64
	Percent    float64

	// Speed is the transfer rate in bytes per second, zero if unknown.
	Speed float64

	// ETA is the estimated remaining time, zero if unknown.
	ETA time.Duration
}

// EventFunc receives progress events. Calls are serialized, arrive in
// emission order, and stop before Fetch returns. It must not block.
type EventFunc func(Event)

// Auth carries opaque credentials passed through to the extractor.
type Auth struct {
	// Headers are added to every extractor HTTP request (e.g. Authorization).
	Headers map[string]string

	// CookieFile is a Netscape cookie jar path handed to the extractor.
	CookieFile string
}

// Request describes one download.
type Request struct {
	// URL is the page or media URL to fetch.
	URL string

	// Format is an extractor format selector (see FormatSpec).
	Format string

	// OutputDir is the directory the output file is written to.
	OutputDir string

	// BaseName is the file name without extension. The extractor picks the
	// extension.
	BaseName string

	Auth Auth
}

// Result describes a completed download.
type Result struct {
	// Path is the absolute path of the produced file.
	Path string

	// Size is the file size in bytes.
	Size int64
}

// Fetcher retrieves media.
//
// Implementations must not call onEvent concurrently or after Fetch returns,
// and must return once the output file is complete or the attempt failed.
type Fetcher interface {
	Fetch(ctx context.Context, req Request, onEvent EventFunc) (*Result, error)
}
