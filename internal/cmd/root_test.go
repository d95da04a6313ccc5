package cmd

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetVersionInfo(t *testing.T) {
	// Save original values
	origVersion := versionInfo.Version
	origCommit := versionInfo.Commit
	origBuildDate := versionInfo.BuildDate
	defer func() {
		SetVersionInfo(origVersion, origCommit, origBuildDate)
	}()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "set all values",
			version:   "1.0.0",
			commit:    "abc123",
			buildDate: "2026-01-15",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
		{
			name:      "set empty values",
			version:   "",
			commit:    "",
			buildDate: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestGetAppIdentity(t *testing.T) {
	orig := appIdentity
	defer func() { appIdentity = orig }()

	t.Run("returns nil before init", func(t *testing.T) {
		appIdentity = nil
		assert.Nil(t, GetAppIdentity())
	})

	t.Run("returns default identity after init", func(t *testing.T) {
		appIdentity = nil
		initIdentity()

		id := GetAppIdentity()
		require.NotNil(t, id)
		assert.Equal(t, "vidgrab", id.BinaryName)
		assert.Equal(t, "VIDGRAB_", id.EnvPrefix)
		assert.Equal(t, "vidgrab", id.ConfigName)
	})
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, foundry.ExitSuccess},
		{"plain error", errors.New("boom"), foundry.ExitFailure},
		{"exit error", exitError(foundry.ExitConfigInvalid, "bad config", errors.New("port")), foundry.ExitConfigInvalid},
		{"wrapped exit error", fmt.Errorf("run: %w", exitError(foundry.ExitInvalidArgument, "bad flag", nil)), foundry.ExitInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestExitError_Message(t *testing.T) {
	cause := errors.New("port out of range")
	err := exitError(foundry.ExitConfigInvalid, "Invalid configuration", cause)

	assert.Equal(t, fmt.Sprintf("Invalid configuration: port out of range (exit code %d)", foundry.ExitConfigInvalid), err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestSetOverride(t *testing.T) {
	m := map[string]any{}
	setOverride(m, "server.port", 9000)
	setOverride(m, "server.host", "0.0.0.0")
	setOverride(m, "workers", 2)

	assert.Equal(t, map[string]any{
		"server":  map[string]any{"port": 9000, "host": "0.0.0.0"},
		"workers": 2,
	}, m)
}

func TestFlagOverrides(t *testing.T) {
	c := &cobra.Command{Use: "test"}
	c.Flags().Int("port", 0, "")
	c.Flags().String("host", "", "")
	c.Flags().Duration("job-ttl", 0, "")
	c.Flags().Float64("rate-limit", 0, "")
	c.Flags().Bool("unset", false, "")
	require.NoError(t, c.Flags().Parse([]string{"--port", "9000", "--host", "0.0.0.0", "--job-ttl", "2h", "--rate-limit", "1.5"}))

	got, err := flagOverrides(c, map[string]string{
		"port":       "server.port",
		"host":       "server.host",
		"job-ttl":    "jobs.ttl",
		"rate-limit": "server.rate_limit",
		"unset":      "health.enabled",
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"server": map[string]any{"port": 9000, "host": "0.0.0.0", "rate_limit": 1.5},
		"jobs":   map[string]any{"ttl": 2 * time.Hour},
	}, got)
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "fetch", "status", "doctor", "version"} {
		assert.True(t, names[want], "missing command %q", want)
	}
}
