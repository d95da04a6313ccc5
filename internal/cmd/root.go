// Package cmd implements the vidgrab command line.
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/vidgrab/internal/config"
	"github.com/3leaps/vidgrab/internal/observability"
	"github.com/3leaps/vidgrab/internal/server/handlers"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var (
	cfgFile     string
	verbose     bool
	logLevel    string
	appIdentity *config.Identity
)

var rootCmd = &cobra.Command{
	Use:   "vidgrab",
	Short: "Video download job service",
	Long: `vidgrab accepts video URLs, downloads them in the background with yt-dlp,
and reports progress until the file is ready to fetch.

Run 'vidgrab serve' for the HTTP service or 'vidgrab fetch <url>' for a
one-off download in the foreground.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initIdentity()
		observability.InitCLILogger(appIdentity.BinaryName, verbose)
		config.SetConfigFile(cfgFile)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./vidgrab.yaml, then ~/.config/vidgrab/vidgrab.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose CLI output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
}

// SetVersionInfo records build information for the version command and the
// /version endpoint.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the application identity, or nil before the root
// command has run.
func GetAppIdentity() *config.Identity {
	return appIdentity
}

func initIdentity() {
	if appIdentity != nil {
		return
	}
	id := config.DefaultIdentity
	appIdentity = &id
	config.SetIdentity(id)
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// loadConfig loads configuration with the global flags and any command
// overrides applied. Errors carry foundry.ExitConfigInvalid.
func loadConfig(ctx context.Context, overrides map[string]any) (*config.Config, error) {
	all := []map[string]any{}
	if lvl := strings.TrimSpace(logLevel); lvl != "" {
		all = append(all, map[string]any{"logging": map[string]any{"level": lvl}})
	}
	if len(overrides) > 0 {
		all = append(all, overrides)
	}
	cfg, err := config.Load(ctx, all...)
	if err != nil {
		return nil, exitError(foundry.ExitConfigInvalid, "Invalid configuration", err)
	}
	return cfg, nil
}

// setOverride stores value at the dotted key path inside m.
func setOverride(m map[string]any, key string, value any) {
	parts := strings.Split(key, ".")
	cur := m
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

// flagOverrides maps changed flags onto config keys.
func flagOverrides(cmd *cobra.Command, keys map[string]string) (map[string]any, error) {
	out := make(map[string]any)
	for flag, key := range keys {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		var (
			val any
			err error
		)
		switch f.Value.Type() {
		case "int":
			val, err = cmd.Flags().GetInt(flag)
		case "bool":
			val, err = cmd.Flags().GetBool(flag)
		case "float64":
			val, err = cmd.Flags().GetFloat64(flag)
		case "stringSlice":
			val, err = cmd.Flags().GetStringSlice(flag)
		case "duration":
			val, err = cmd.Flags().GetDuration(flag)
		default:
			val = f.Value.String()
		}
		if err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, fmt.Sprintf("Invalid --%s value", flag), err)
		}
		setOverride(out, key, val)
	}
	return out, nil
}
