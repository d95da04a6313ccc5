package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/vidgrab/internal/config"
	"github.com/3leaps/vidgrab/internal/observability"
	"github.com/3leaps/vidgrab/pkg/artifact"
	"github.com/3leaps/vidgrab/pkg/auth"
	"github.com/3leaps/vidgrab/pkg/fetcher"
)

var (
	doctorStorage string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Examples:
  vidgrab doctor                # Full environment check
  vidgrab doctor --storage s3   # Also check S3 credentials and bucket access`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorStorage, "storage", "", "Run storage-specific checks (s3)")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	allChecks := true
	checkNum := 1
	totalChecks := 7
	if doctorStorage == "s3" {
		totalChecks = 9
	}

	// Check 1: Go version
	goVersion := runtime.Version()
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Go runtime... ✅ %s", checkNum, totalChecks, goVersion),
		zap.String("go_version", goVersion))
	checkNum++

	// Check 2: Fulmen libraries
	libs := crucible.GetVersion()
	if libs.Gofulmen != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Fulmen libraries... ✅ gofulmen v%s, crucible v%s", checkNum, totalChecks, libs.Gofulmen, libs.Crucible),
			zap.String("gofulmen_version", libs.Gofulmen),
			zap.String("crucible_version", libs.Crucible))
	} else {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking Fulmen libraries... ⚠️  version unknown", checkNum, totalChecks))
	}
	checkNum++

	// Check 3: Configuration
	var overrides map[string]any
	if doctorStorage != "" {
		overrides = map[string]any{"storage": map[string]any{"backend": doctorStorage}}
	}
	cfg, err := loadConfig(ctx, overrides)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking configuration... ❌ Invalid", checkNum, totalChecks),
			zap.Error(err))
		observability.CLILogger.Info("")
		observability.CLILogger.Warn("⚠️  Fix the configuration before running further checks.")
		return err
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking configuration... ✅ Valid", checkNum, totalChecks),
		zap.String("config_file", configSource()))
	checkNum++

	// Check 4: Extractor
	if !checkExtractor(ctx, fetcher.NewYtDlp(cfg.FetcherConfig()), checkNum, totalChecks) {
		allChecks = false
	}
	checkNum++

	// Check 5: Downloads directory
	if err := checkWritableDir(cfg.Fetch.DownloadsDir); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking downloads directory... ❌ %s", checkNum, totalChecks, cfg.Fetch.DownloadsDir),
			zap.Error(err))
		allChecks = false
	} else {
		abs, _ := filepath.Abs(cfg.Fetch.DownloadsDir)
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking downloads directory... ✅ %s", checkNum, totalChecks, abs),
			zap.String("downloads_dir", abs))
	}
	checkNum++

	// Check 6: Credentials
	if !checkAuth(cfg, checkNum, totalChecks) {
		allChecks = false
	}
	checkNum++

	// Check 7: Environment
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	if doctorStorage == "s3" {
		allChecks = runS3Checks(ctx, cfg, checkNum, totalChecks, allChecks)
	}

	observability.CLILogger.Info("")
	if allChecks {
		observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")

	if !allChecks {
		return exitError(foundry.ExitFailure, "Diagnostics failed", fmt.Errorf("one or more checks failed"))
	}
	return nil
}

type versionedBinary interface {
	Binary() string
	LookPath() (string, error)
	Version(ctx context.Context) (string, error)
}

func checkExtractor(ctx context.Context, bin versionedBinary, checkNum, totalChecks int) bool {
	path, err := bin.LookPath()
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking extractor... ❌ %s not found on PATH", checkNum, totalChecks, bin.Binary()),
			zap.Error(err))
		observability.CLILogger.Info("  Install it with 'pipx install yt-dlp' or set fetch.binary")
		return false
	}

	vctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	version, err := bin.Version(vctx)
	if err != nil {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking extractor... ⚠️  %s found but --version failed", checkNum, totalChecks, path),
			zap.Error(err))
		return false
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking extractor... ✅ %s %s", checkNum, totalChecks, bin.Binary(), version),
		zap.String("path", path),
		zap.String("version", version))
	return true
}

// checkWritableDir creates dir if needed and verifies a file can be written.
func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func checkAuth(cfg *config.Config, checkNum, totalChecks int) bool {
	authCfg, err := cfg.AuthConfig()
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking credentials... ❌ Invalid auth mode", checkNum, totalChecks),
			zap.Error(err))
		return false
	}
	if authCfg.Mode == auth.ModeCookie {
		if _, err := os.Stat(authCfg.CookieFile); err != nil {
			observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking credentials... ❌ Cookie file unreadable", checkNum, totalChecks),
				zap.String("cookie_file", authCfg.CookieFile), zap.Error(err))
			return false
		}
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking credentials... ✅ mode %s", checkNum, totalChecks, authCfg.Mode),
		zap.String("auth_mode", string(authCfg.Mode)))
	return true
}

// runS3Checks runs S3-specific diagnostic checks.
func runS3Checks(ctx context.Context, cfg *config.Config, checkNum, totalChecks int, allChecks bool) bool {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("S3 Storage Checks:")

	// Check 8: AWS credentials
	var loadOpts []func(*awsconfig.LoadOptions) error
	if p := cfg.Storage.S3.Profile; p != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(p))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	accessKey, source := cfg.Storage.S3.AccessKeyID, "config"
	if accessKey == "" {
		creds, err := awsCfg.Credentials.Retrieve(ctx)
		if err != nil {
			observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks),
				zap.Error(err))
			printAWSCredentialsHelp()
			return false
		}
		accessKey, source = creds.AccessKeyID, creds.Source
	}
	if source == "" {
		source = "unknown"
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials", checkNum, totalChecks),
		zap.String("access_key", maskAccessKey(accessKey)),
		zap.String("source", source))
	checkNum++

	// Check 9: Bucket access
	store, err := artifact.New(ctx, cfg.ArtifactConfig())
	if err == nil {
		err = store.Check(ctx)
	}
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking bucket access... ❌ %s", checkNum, totalChecks, cfg.Storage.S3.Bucket),
			zap.Error(err))
		return false
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking bucket access... ✅ %s", checkNum, totalChecks, cfg.Storage.S3.Bucket),
		zap.String("bucket", cfg.Storage.S3.Bucket))

	return allChecks
}

func configSource() string {
	if cfgFile != "" {
		return cfgFile
	}
	return "(defaults and environment)"
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure AWS credentials:")
	observability.CLILogger.Info("  1. Set VIDGRAB_S3_ACCESS_KEY and VIDGRAB_S3_SECRET_KEY, or")
	observability.CLILogger.Info("  2. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	observability.CLILogger.Info("  3. Run 'aws configure' to set up a profile (storage.s3.profile)")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set:")
	observability.CLILogger.Info("  - storage.s3.endpoint and storage.s3.force_path_style")
	observability.CLILogger.Info("")
}
