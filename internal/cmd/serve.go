package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/vidgrab/internal/observability"
	"github.com/3leaps/vidgrab/internal/server"
	"github.com/3leaps/vidgrab/internal/server/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the download service",
	Long: `Run the HTTP download service.

Endpoints:
  POST /download          Submit {"url": "...", "format": "720p"}
  GET  /progress/{id}     Poll job progress
  GET  /get_video/{id}    Fetch the finished file
  GET  /health[/live|/ready|/startup], /version

Examples:
  vidgrab serve
  vidgrab serve --port 9000 --workers 8
  vidgrab serve --auth-mode device`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// serveFlagKeys maps serve flags onto config keys.
var serveFlagKeys = map[string]string{
	"host":          "server.host",
	"port":          "server.port",
	"workers":       "jobs.workers",
	"queue-size":    "jobs.queue_size",
	"job-ttl":       "jobs.ttl",
	"downloads-dir": "fetch.downloads_dir",
	"auth-mode":     "auth.mode",
	"storage":       "storage.backend",
	"rate-limit":    "server.rate_limit",
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "Listen host (default from config: localhost)")
	serveCmd.Flags().Int("port", 0, "Listen port (default from config: 8080)")
	serveCmd.Flags().Int("workers", 0, "Concurrent downloads")
	serveCmd.Flags().Int("queue-size", 0, "Jobs that may wait for a worker")
	serveCmd.Flags().Duration("job-ttl", 0, "Evict finished jobs after this long (0 keeps them)")
	serveCmd.Flags().String("downloads-dir", "", "Directory for downloaded files")
	serveCmd.Flags().String("auth-mode", "", "Credential mode: none, cookie, token, device, authcode")
	serveCmd.Flags().String("storage", "", "Artifact backend: local or s3")
	serveCmd.Flags().Float64("rate-limit", 0, "POST /download requests per second per client (0 disables)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	overrides, err := flagOverrides(cmd, serveFlagKeys)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(ctx, overrides)
	if err != nil {
		return err
	}

	logger, err := observability.InitServerLogger(appIdentity.BinaryName, cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return exitError(foundry.ExitConfigInvalid, "Invalid logging configuration", err)
	}
	defer observability.Sync()

	a, err := newApp(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.fetcher.LookPath(); err != nil {
		logger.Warn("Extractor binary not found; downloads will fail until it is installed",
			zap.String("binary", a.fetcher.Binary()), zap.Error(err))
	}

	if cfg.Health.Enabled {
		hm := handlers.InitHealthManager(versionInfo.Version)
		a.registerHealthChecks(hm, appIdentity)
	}

	opts := []server.Option{
		server.WithJobs(a.jobHandlers()),
		server.WithRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst),
		server.WithCORS(cfg.Server.CORSOrigins),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
		server.WithLogger(logger.Named("http")),
		server.WithAuth(handlers.NewAuthHandlers(a.auth, logger.Named("auth"))),
	}
	srv := server.New(cfg.Server.Host, cfg.Server.Port, opts...)
	if err := srv.Listen(); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Cannot bind listen address", err)
	}

	// Workers outlive the signal so Shutdown can drain them within the timeout.
	a.dispatcher.Start(context.WithoutCancel(ctx))
	if err := a.janitor.Start(cfg.Jobs.Sweep); err != nil {
		return exitError(foundry.ExitConfigInvalid, "Invalid jobs.sweep schedule", err)
	}

	logger.Info("Starting vidgrab",
		zap.String("version", versionInfo.Version),
		zap.String("addr", srv.Addr()),
		zap.Int("workers", cfg.Jobs.Workers),
		zap.String("storage", string(a.artifacts.Backend())),
		zap.String("auth_mode", string(a.auth.Mode())))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Serve)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := a.dispatcher.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		a.janitor.Stop(shutdownCtx)
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return exitError(foundry.ExitFailure, "Server stopped with error", err)
	}
	logger.Info("Server stopped")
	return nil
}
