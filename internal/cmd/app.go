package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/3leaps/vidgrab/internal/config"
	"github.com/3leaps/vidgrab/internal/server/handlers"
	"github.com/3leaps/vidgrab/pkg/artifact"
	"github.com/3leaps/vidgrab/pkg/auth"
	"github.com/3leaps/vidgrab/pkg/fetcher"
	"github.com/3leaps/vidgrab/pkg/jobregistry"
)

// app holds the components shared by serve and fetch.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	auth       *auth.Manager
	artifacts  artifact.Store
	fetcher    *fetcher.YtDlp
	store      *jobregistry.MemoryStore
	dispatcher *jobregistry.Dispatcher
	janitor    *jobregistry.Janitor
}

// newApp builds the job pipeline from cfg. dispatcherCfg overrides the
// dispatcher settings derived from cfg when non-nil.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, dispatcherCfg *jobregistry.Config) (*app, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	authCfg, err := cfg.AuthConfig()
	if err != nil {
		return nil, exitError(foundry.ExitConfigInvalid, "Invalid auth configuration", err)
	}
	manager, err := auth.New(authCfg, logger.Named("auth"))
	if err != nil {
		return nil, exitError(foundry.ExitConfigInvalid, "Invalid auth configuration", err)
	}

	store, err := artifact.New(ctx, cfg.ArtifactConfig())
	if err != nil {
		manager.Close()
		var cfgErr *artifact.ConfigError
		if errors.As(err, &cfgErr) {
			return nil, exitError(foundry.ExitConfigInvalid, "Invalid storage configuration", err)
		}
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Cannot initialize artifact storage", err)
	}

	policy, err := fetcher.NewHostPolicy(cfg.Fetch.AllowedHosts)
	if err != nil {
		manager.Close()
		return nil, exitError(foundry.ExitConfigInvalid, "Invalid fetch.allowed_hosts", err)
	}
	gen, err := jobregistry.NewGenerator(cfg.Jobs.IDScheme)
	if err != nil {
		manager.Close()
		return nil, exitError(foundry.ExitConfigInvalid, "Invalid jobs.id_scheme", err)
	}

	dc := cfg.DispatcherConfig()
	if dispatcherCfg != nil {
		dc = *dispatcherCfg
	}

	yt := fetcher.NewYtDlp(cfg.FetcherConfig())
	jobs := jobregistry.NewMemoryStore()
	dispatcher := jobregistry.NewDispatcher(jobs, yt, dc,
		jobregistry.WithIDGenerator(gen),
		jobregistry.WithHostPolicy(policy),
		jobregistry.WithCredentials(manager),
		jobregistry.WithPublisher(store),
		jobregistry.WithLogger(logger.Named("dispatcher")),
	)

	return &app{
		cfg:        cfg,
		logger:     logger,
		auth:       manager,
		artifacts:  store,
		fetcher:    yt,
		store:      jobs,
		dispatcher: dispatcher,
		janitor:    jobregistry.NewJanitor(jobs, store, cfg.Jobs.TTL, logger.Named("janitor")),
	}, nil
}

// jobHandlers builds the HTTP handlers for the job endpoints.
func (a *app) jobHandlers() *handlers.JobHandlers {
	opts := []handlers.JobOption{
		handlers.WithCredentialGate(a.auth),
		handlers.WithJobLogger(a.logger.Named("http")),
	}
	if a.cfg.Fetch.VerifyVideo {
		opts = append(opts, handlers.WithVideoVerifier(fetcher.NewVideoInfoClient(nil)))
	}
	return handlers.NewJobHandlers(a.dispatcher, a.store, a.artifacts, opts...)
}

// registerHealthChecks adds the service checkers to m.
func (a *app) registerHealthChecks(m *handlers.HealthManager, identity *config.Identity) {
	if identity != nil {
		m.RegisterChecker("identity", identityHealthChecker{
			binaryName: identity.BinaryName,
			envPrefix:  identity.EnvPrefix,
			configName: identity.ConfigName,
		})
	}
	m.RegisterChecker("extractor", extractorHealthChecker{locator: a.fetcher})
	m.RegisterChecker("storage", handlers.CheckerFunc(a.artifacts.Check))
	m.RegisterChecker("queue", queueHealthChecker{queue: a.dispatcher, capacity: a.dispatcher.Config().QueueSize})
}

// close releases resources not owned by the dispatcher.
func (a *app) close() {
	a.auth.Close()
}

type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(ctx context.Context) error {
	if c.binaryName == "" {
		return fmt.Errorf("identity missing binary name")
	}
	if c.envPrefix == "" {
		return fmt.Errorf("identity missing env prefix")
	}
	if c.configName == "" {
		return fmt.Errorf("identity missing config name")
	}
	return nil
}

type binaryLocator interface {
	LookPath() (string, error)
}

// extractorHealthChecker fails when the extractor binary is not installed.
type extractorHealthChecker struct {
	locator binaryLocator
}

func (c extractorHealthChecker) CheckHealth(ctx context.Context) error {
	_, err := c.locator.LookPath()
	return err
}

type pendingCounter interface {
	Pending() int
}

// queueHealthChecker fails when the wait queue is full.
type queueHealthChecker struct {
	queue    pendingCounter
	capacity int
}

func (c queueHealthChecker) CheckHealth(ctx context.Context) error {
	if c.capacity > 0 && c.queue.Pending() >= c.capacity {
		return fmt.Errorf("job queue full (%d/%d)", c.queue.Pending(), c.capacity)
	}
	return nil
}
