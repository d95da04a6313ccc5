package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/vidgrab/internal/observability"
	"github.com/3leaps/vidgrab/pkg/auth"
	"github.com/3leaps/vidgrab/pkg/fetcher"
	"github.com/3leaps/vidgrab/pkg/jobregistry"
	"github.com/3leaps/vidgrab/pkg/output"
)

const fetchPollInterval = 500 * time.Millisecond

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Download one video in the foreground",
	Long: `Download one video with the same pipeline the service uses and report
progress until it finishes.

Examples:
  vidgrab fetch https://www.youtube.com/watch?v=dQw4w9WgXcQ
  vidgrab fetch --format 720p --downloads-dir ./out <url>
  vidgrab fetch --json <url>`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

var fetchFlagKeys = map[string]string{
	"downloads-dir": "fetch.downloads_dir",
	"auth-mode":     "auth.mode",
	"storage":       "storage.backend",
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().String("format", fetcher.DefaultResolution, "Target resolution, e.g. 360p, 720p, 1080")
	fetchCmd.Flags().String("downloads-dir", "", "Directory for downloaded files")
	fetchCmd.Flags().String("auth-mode", "", "Credential mode: none, cookie, token, device")
	fetchCmd.Flags().String("storage", "", "Artifact backend: local or s3")
	fetchCmd.Flags().Bool("json", false, "Emit progress as JSONL records on stdout")
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	format, _ := cmd.Flags().GetString("format")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	overrides, err := flagOverrides(cmd, fetchFlagKeys)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(ctx, overrides)
	if err != nil {
		return err
	}

	dc := cfg.DispatcherConfig()
	dc.Workers = 1
	dc.QueueSize = 1
	a, err := newApp(ctx, cfg, observability.CLILogger, &dc)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.fetcher.LookPath(); err != nil {
		return exitError(foundry.ExitFileNotFound, fmt.Sprintf("Extractor %q not found", a.fetcher.Binary()), err)
	}
	if err := authorizeInteractive(ctx, a.auth); err != nil {
		return err
	}

	a.dispatcher.Start(ctx)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = a.dispatcher.Shutdown(shutdownCtx)
	}()

	jobID, err := a.dispatcher.Submit(ctx, args[0], format)
	if err != nil {
		if errors.Is(err, jobregistry.ErrInvalidRequest) {
			return exitError(foundry.ExitInvalidArgument, "Invalid download request", err)
		}
		return exitError(foundry.ExitFailure, "Cannot submit download", err)
	}

	var events *output.JSONLWriter
	if jsonOutput {
		events = output.NewJSONLWriter(os.Stdout, jobID, string(a.artifacts.Backend()))
		defer func() { _ = events.Close() }()
	}

	started := time.Now()
	lastState := jobregistry.JobState("")
	job, err := waitForJob(ctx, a.store, jobID, fetchPollInterval, func(j jobregistry.Job) {
		snap := j.Snapshot()
		if events != nil {
			if !j.State.IsTerminal() {
				_ = events.WriteProgress(ctx, &output.ProgressRecord{
					Status: snap.Status, Progress: snap.Progress, Speed: snap.Speed, ETA: snap.ETA,
				})
			}
			return
		}
		if j.State != lastState || j.State == jobregistry.JobStateDownloading {
			observability.CLILogger.Info(formatSnapshot(snap), zap.String("download_id", j.ID))
		}
		lastState = j.State
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			if events != nil {
				_ = events.WriteError(context.Background(), &output.ErrorRecord{
					Code: output.ErrCodeInterrupted, Message: "download interrupted", URL: args[0],
				})
			}
			return exitError(foundry.ExitSignalInt, "Download interrupted", err)
		}
		return exitError(foundry.ExitFailure, "Download did not finish", err)
	}

	if job.State == jobregistry.JobStateError {
		if events != nil {
			_ = events.WriteError(ctx, &output.ErrorRecord{
				Code: output.ErrCodeDownloadFailed, Message: job.Error, URL: job.URL,
			})
		}
		return exitError(foundry.ExitFailure, "Download failed", errors.New(job.Error))
	}

	if events != nil {
		elapsed := time.Since(started)
		return events.WriteSummary(ctx, &output.SummaryRecord{
			URL:           job.URL,
			Format:        job.Format,
			Output:        job.OutputPath,
			Duration:      elapsed,
			DurationHuman: elapsed.Round(time.Millisecond).String(),
		})
	}
	observability.CLILogger.Info("✅ Download complete",
		zap.String("download_id", job.ID),
		zap.String("output", job.OutputPath))
	return nil
}

// waitForJob polls store until jobID reaches a terminal state, calling
// onChange whenever the job's update time moves.
func waitForJob(ctx context.Context, store jobregistry.Store, jobID string, interval time.Duration, onChange func(jobregistry.Job)) (jobregistry.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var seen time.Time
	for {
		job, ok := store.Get(jobID)
		if !ok {
			return jobregistry.Job{}, fmt.Errorf("job %s disappeared", jobID)
		}
		if onChange != nil && !job.UpdatedAt.Equal(seen) {
			seen = job.UpdatedAt
			onChange(job)
		}
		if job.State.IsTerminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// authorizeInteractive obtains a credential for modes that need a user in
// the loop. Device mode prints the code and waits for approval.
func authorizeInteractive(ctx context.Context, m *auth.Manager) error {
	if m.Authorized() {
		return nil
	}
	if m.Mode() != auth.ModeDevice {
		return exitError(foundry.ExitInvalidArgument,
			fmt.Sprintf("Auth mode %q needs a browser; use 'vidgrab serve' or device mode", m.Mode()), auth.ErrUnauthorized)
	}

	dc, err := m.StartDeviceFlow(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Cannot start device authorization", err)
	}
	observability.CLILogger.Info(fmt.Sprintf("Visit %s and enter code %s", dc.VerificationURL, dc.UserCode),
		zap.Int("expires_in", dc.ExpiresIn))

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for !m.Authorized() {
		if _, pending := m.PendingDevice(); !pending && !m.Authorized() {
			return exitError(foundry.ExitFailure, "Device authorization was not completed", auth.ErrUnauthorized)
		}
		select {
		case <-ctx.Done():
			return exitError(foundry.ExitSignalInt, "Authorization interrupted", ctx.Err())
		case <-ticker.C:
		}
	}
	observability.CLILogger.Info("✅ Authorized")
	return nil
}

// formatSnapshot renders a progress snapshot as one line.
func formatSnapshot(s jobregistry.Snapshot) string {
	line := fmt.Sprintf("[%s] %.1f%%", s.Status, s.Progress)
	if s.Speed != nil && *s.Speed > 0 {
		line += " " + humanBytes(*s.Speed) + "/s"
	}
	if s.ETA != nil && *s.ETA > 0 {
		line += " ETA " + (time.Duration(*s.ETA) * time.Second).String()
	}
	if s.Error != "" {
		line += ": " + s.Error
	}
	return line
}

func humanBytes(n float64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%.0fB", n)
	}
	div, exp := float64(unit), 0
	for v := n / unit; v >= unit && exp < 4; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", n/div, "KMGTP"[exp])
}
