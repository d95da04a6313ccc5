package fetcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostPolicy_Check(t *testing.T) {
	policy, err := NewHostPolicy([]string{"youtube.com", "*.youtube.com", "youtu.be", " "})
	require.NoError(t, err)
	assert.Equal(t, []string{"youtube.com", "*.youtube.com", "youtu.be"}, policy.Patterns())

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"short link", "https://youtu.be/abc123", false},
		{"watch url", "https://www.youtube.com/watch?v=abc123", false},
		{"bare domain with port", "http://youtube.com:8080/watch?v=x", false},
		{"mixed case host", "https://WWW.YouTube.com/watch?v=x", false},
		{"other host", "https://vimeo.com/123", true},
		{"suffix trick", "https://evilyoutube.com/watch?v=x", true},
		{"empty", "  ", true},
		{"ftp scheme", "ftp://youtu.be/abc", true},
		{"relative", "/watch?v=abc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := policy.Check(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidURL)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, u)
		})
	}
}

func TestHostPolicy_EmptyAllowsAll(t *testing.T) {
	policy, err := NewHostPolicy(nil)
	require.NoError(t, err)

	_, err = policy.Check("https://example.org/video.mp4")
	assert.NoError(t, err)

	var nilPolicy *HostPolicy
	_, err = nilPolicy.Check("https://example.org/video.mp4")
	assert.NoError(t, err)
}

func TestNewHostPolicy_InvalidPattern(t *testing.T) {
	_, err := NewHostPolicy([]string{"[youtube.com"})
	assert.Error(t, err)
}

func TestVideoID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://youtu.be/abc123", "abc123"},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=10", "dQw4w9WgXcQ"},
		{"https://m.youtube.com/watch?v=xyz", "xyz"},
		{"https://youtube.com/shorts/short1/", "short1"},
		{"https://www.youtube.com/embed/emb1?start=3", "emb1"},
		{"https://www.youtube.com/channel/UC123", ""},
		{"https://vimeo.com/123", ""},
		{"::not a url", ""},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, VideoID(tt.url))
		})
	}
}
