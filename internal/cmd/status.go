package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/vidgrab/pkg/jobregistry"
)

var statusCmd = &cobra.Command{
	Use:   "status <download-id>",
	Short: "Show a job's progress from a running service",
	Long: `Query GET /progress/{id} on a running vidgrab service.

Examples:
  vidgrab status 1760000000
  vidgrab status --server http://media-box:8080 --format yaml 1760000000
  vidgrab status --watch 1760000000`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().String("server", "http://localhost:8080", "Base URL of the vidgrab service")
	statusCmd.Flags().String("format", "text", "Output format: text, json, yaml")
	statusCmd.Flags().Bool("watch", false, "Poll until the job finishes")
	statusCmd.Flags().Duration("interval", 2*time.Second, "Poll interval with --watch")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, _ := cmd.Flags().GetString("server")
	format, _ := cmd.Flags().GetString("format")
	watch, _ := cmd.Flags().GetBool("watch")
	interval, _ := cmd.Flags().GetDuration("interval")

	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case "text", "json", "yaml":
	default:
		return exitError(foundry.ExitInvalidArgument, "Invalid --format", fmt.Errorf("unknown format %q (expected text, json or yaml)", format))
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}

	client := &http.Client{Timeout: 15 * time.Second}
	for {
		snap, err := fetchStatus(ctx, client, server, args[0])
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Cannot query service", err)
		}
		if err := renderStatus(os.Stdout, snap, format); err != nil {
			return exitError(foundry.ExitFailure, "Cannot render status", err)
		}

		if snap.Status == jobregistry.NotFoundStatus {
			return exitError(foundry.ExitFileNotFound, "Download not found", fmt.Errorf("no job %q", args[0]))
		}
		if !watch || jobregistry.JobState(snap.Status).IsTerminal() {
			if snap.Status == string(jobregistry.JobStateError) {
				return exitError(foundry.ExitFailure, "Download failed", fmt.Errorf("%s", snap.Error))
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return exitError(foundry.ExitSignalInt, "Interrupted", ctx.Err())
		case <-time.After(interval):
		}
	}
}

// fetchStatus requests the progress snapshot for jobID from base.
func fetchStatus(ctx context.Context, client *http.Client, base, jobID string) (jobregistry.Snapshot, error) {
	var snap jobregistry.Snapshot

	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(base), "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return snap, fmt.Errorf("invalid server URL %q", base)
	}
	u = u.JoinPath("progress", jobID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return snap, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return snap, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return snap, err
	}
	if resp.StatusCode != http.StatusOK {
		return snap, fmt.Errorf("GET %s: %s: %s", u.Path, resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, &snap); err != nil {
		return snap, fmt.Errorf("decode progress: %w", err)
	}
	return snap, nil
}

func renderStatus(w io.Writer, snap jobregistry.Snapshot, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snapshotYAML(snap)); err != nil {
			return err
		}
		return enc.Close()
	default:
		_, err := fmt.Fprintln(w, formatSnapshot(snap))
		return err
	}
}

// snapshotYAML mirrors the JSON field names.
func snapshotYAML(s jobregistry.Snapshot) map[string]any {
	out := map[string]any{
		"status":   s.Status,
		"progress": s.Progress,
	}
	if s.Speed != nil {
		out["speed"] = *s.Speed
	}
	if s.ETA != nil {
		out["eta"] = *s.ETA
	}
	if s.Error != "" {
		out["error"] = s.Error
	}
	return out
}
