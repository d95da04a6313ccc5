package fetcher

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultResolution is used when a request names no resolution.
const DefaultResolution = "360p"

// ResolutionBest selects the best available MP4 streams with no height cap.
const ResolutionBest = "best"

// ParseResolution converts a resolution token like "720p" into a height
// ceiling in pixels. The trailing "p" is optional.
func ParseResolution(token string) (int, error) {
	t := strings.TrimSpace(token)
	t = strings.TrimSuffix(strings.TrimSuffix(t, "p"), "P")
	if t == "" {
		return 0, fmt.Errorf("%w: empty resolution", ErrInvalidFormat)
	}
	height, err := strconv.Atoi(t)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a resolution", ErrInvalidFormat, token)
	}
	if height <= 0 {
		return 0, fmt.Errorf("%w: resolution must be positive, got %d", ErrInvalidFormat, height)
	}
	return height, nil
}

// FormatSpec builds the extractor format selector for a resolution token.
//
// The selector prefers separate MP4 video and M4A audio streams under the
// height ceiling, then a progressive MP4 under the ceiling, then any MP4.
func FormatSpec(token string) (string, error) {
	if strings.EqualFold(strings.TrimSpace(token), ResolutionBest) {
		return "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best", nil
	}
	height, err := ParseResolution(token)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"bestvideo[height<=%d][ext=mp4]+bestaudio[ext=m4a]/best[height<=%d][ext=mp4]/best[ext=mp4]",
		height, height,
	), nil
}
