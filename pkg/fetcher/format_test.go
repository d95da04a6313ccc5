package fetcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResolution(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		want    int
		wantErr bool
	}{
		{"with p suffix", "720p", 720, false},
		{"upper case suffix", "1080P", 1080, false},
		{"bare number", "480", 480, false},
		{"surrounding space", " 360p ", 360, false},
		{"empty", "", 0, true},
		{"only suffix", "p", 0, true},
		{"not a number", "hdp", 0, true},
		{"zero", "0p", 0, true},
		{"negative", "-144p", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResolution(tt.token)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatSpec(t *testing.T) {
	got, err := FormatSpec("720p")
	require.NoError(t, err)
	assert.Equal(t,
		"bestvideo[height<=720][ext=mp4]+bestaudio[ext=m4a]/best[height<=720][ext=mp4]/best[ext=mp4]",
		got)

	best, err := FormatSpec("BEST")
	require.NoError(t, err)
	assert.Equal(t, "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best", best)

	_, err = FormatSpec("abc")
	assert.True(t, IsInvalidInput(err))
}
