package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/vidgrab/pkg/artifact"
	"github.com/3leaps/vidgrab/pkg/auth"
	"github.com/3leaps/vidgrab/pkg/fetcher"
	"github.com/3leaps/vidgrab/pkg/jobregistry"
)

// Config is the complete service configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Health  HealthConfig  `mapstructure:"health"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Storage StorageConfig `mapstructure:"storage"`
	Auth    AuthConfig    `mapstructure:"auth"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RateLimit is submissions per second per client IP. 0 disables limiting.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`

	CORSOrigins []string `mapstructure:"cors_origins"`
}

// LoggingConfig configures the server logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// HealthConfig toggles the health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// JobsConfig configures the dispatcher and janitor.
type JobsConfig struct {
	Workers   int           `mapstructure:"workers"`
	QueueSize int           `mapstructure:"queue_size"`
	TTL       time.Duration `mapstructure:"ttl"`
	Sweep     string        `mapstructure:"sweep"`
	IDScheme  string        `mapstructure:"id_scheme"`
}

// FetchConfig configures the extractor.
type FetchConfig struct {
	Binary       string   `mapstructure:"binary"`
	DownloadsDir string   `mapstructure:"downloads_dir"`
	AllowedHosts []string `mapstructure:"allowed_hosts"`
	ExtraArgs    []string `mapstructure:"extra_args"`
	VerifyVideo  bool     `mapstructure:"verify_video"`
}

// StorageConfig selects the artifact backend.
type StorageConfig struct {
	Backend string   `mapstructure:"backend"`
	S3      S3Config `mapstructure:"s3"`
}

// S3Config configures the s3 artifact backend.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	KeepLocal       bool   `mapstructure:"keep_local"`
}

// AuthConfig configures how download credentials are obtained.
type AuthConfig struct {
	Mode         string   `mapstructure:"mode"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`
	CookieFile   string   `mapstructure:"cookie_file"`
	Token        string   `mapstructure:"token"`
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("server.rate_limit and server.rate_burst must not be negative")
	}
	if c.Jobs.Workers < 1 {
		return fmt.Errorf("jobs.workers must be at least 1")
	}
	if c.Jobs.QueueSize < 0 {
		return fmt.Errorf("jobs.queue_size must not be negative")
	}
	if c.Jobs.TTL < 0 {
		return fmt.Errorf("jobs.ttl must not be negative")
	}
	if strings.TrimSpace(c.Fetch.DownloadsDir) == "" {
		return fmt.Errorf("fetch.downloads_dir is required")
	}
	if _, err := jobregistry.NewGenerator(c.Jobs.IDScheme); err != nil {
		return err
	}
	if _, err := fetcher.NewHostPolicy(c.Fetch.AllowedHosts); err != nil {
		return err
	}
	switch artifact.Backend(strings.ToLower(c.Storage.Backend)) {
	case "", artifact.BackendLocal:
	case artifact.BackendS3:
		s3cfg := c.ArtifactConfig().S3
		if err := s3cfg.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown storage.backend %q (expected local or s3)", c.Storage.Backend)
	}
	authCfg, err := c.AuthConfig()
	if err != nil {
		return err
	}
	return authCfg.Validate()
}

// DispatcherConfig maps the jobs section onto the dispatcher's config.
func (c *Config) DispatcherConfig() jobregistry.Config {
	return jobregistry.Config{
		Workers:      c.Jobs.Workers,
		QueueSize:    c.Jobs.QueueSize,
		DownloadsDir: c.Fetch.DownloadsDir,
	}
}

// FetcherConfig maps the fetch section onto the yt-dlp adapter's config.
func (c *Config) FetcherConfig() fetcher.YtDlpConfig {
	return fetcher.YtDlpConfig{
		Binary:    c.Fetch.Binary,
		ExtraArgs: c.Fetch.ExtraArgs,
	}
}

// ArtifactConfig maps the storage section onto the artifact store config.
func (c *Config) ArtifactConfig() artifact.Config {
	s := c.Storage.S3
	return artifact.Config{
		Backend:  artifact.Backend(strings.ToLower(c.Storage.Backend)),
		LocalDir: c.Fetch.DownloadsDir,
		S3: artifact.S3Config{
			Bucket:          s.Bucket,
			Prefix:          s.Prefix,
			Region:          s.Region,
			Endpoint:        s.Endpoint,
			Profile:         s.Profile,
			AccessKeyID:     s.AccessKeyID,
			SecretAccessKey: s.SecretAccessKey,
			ForcePathStyle:  s.ForcePathStyle,
			KeepLocal:       s.KeepLocal,
		},
	}
}

// AuthConfig maps the auth section onto the credential manager's config.
func (c *Config) AuthConfig() (auth.Config, error) {
	mode, err := auth.ParseMode(c.Auth.Mode)
	if err != nil {
		return auth.Config{}, err
	}
	return auth.Config{
		Mode:         mode,
		ClientID:     c.Auth.ClientID,
		ClientSecret: c.Auth.ClientSecret,
		RedirectURL:  c.Auth.RedirectURL,
		Scopes:       c.Auth.Scopes,
		CookieFile:   c.Auth.CookieFile,
		Token:        c.Auth.Token,
	}, nil
}
