package fetcher

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// HostPolicy decides which URLs may be submitted for download.
//
// Patterns are doublestar globs matched against the lowercased host name
// without port, e.g. "youtube.com", "*.youtube.com", "youtu.be".
// An empty pattern list allows every host.
type HostPolicy struct {
	patterns []string
}

// NewHostPolicy validates and compiles allowlist patterns.
func NewHostPolicy(patterns []string) (*HostPolicy, error) {
	p := &HostPolicy{}
	for _, raw := range patterns {
		pat := strings.ToLower(strings.TrimSpace(raw))
		if pat == "" {
			continue
		}
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("invalid host pattern %q", raw)
		}
		p.patterns = append(p.patterns, pat)
	}
	return p, nil
}

// Patterns returns the active allowlist.
func (p *HostPolicy) Patterns() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.patterns))
	copy(out, p.patterns)
	return out
}

// Check parses raw and verifies it is an absolute http(s) URL on an allowed
// host. It returns the parsed URL.
func (p *HostPolicy) Check(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if p == nil || len(p.patterns) == 0 {
		return u, nil
	}
	for _, pat := range p.patterns {
		if ok, _ := doublestar.Match(pat, host); ok {
			return u, nil
		}
	}
	return nil, fmt.Errorf("%w: host %q is not allowed", ErrInvalidURL, host)
}

// VideoID extracts a YouTube video id from watch, short-link, shorts and
// embed URLs. It returns "" when the URL is not a recognizable YouTube URL.
func VideoID(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	switch host {
	case "youtu.be":
		return strings.Trim(u.Path, "/")
	case "youtube.com", "music.youtube.com":
		if v := u.Query().Get("v"); v != "" {
			return v
		}
		for _, prefix := range []string{"/shorts/", "/embed/", "/live/"} {
			if rest, ok := strings.CutPrefix(u.Path, prefix); ok {
				return strings.SplitN(rest, "/", 2)[0]
			}
		}
	}
	return ""
}
