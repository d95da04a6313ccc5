// Package config loads service configuration from defaults, an optional
// YAML file, a .env file, VIDGRAB_* environment variables and runtime
// overrides, in increasing order of precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Identity names the application for env prefixes and config discovery.
type Identity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is used when SetIdentity has not been called.
var DefaultIdentity = Identity{
	BinaryName: "vidgrab",
	EnvPrefix:  "VIDGRAB_",
	ConfigName: "vidgrab",
}

// EnvSpec binds one environment variable to a config key.
type EnvSpec struct {
	Name string
	Path string
}

var (
	configMu    sync.RWMutex
	appIdentity *Identity
	appConfig   *Config
	configFile  string
	envFile     = ".env"
)

// envKeys maps env suffixes (after the prefix) to config keys. Short names
// follow the server conventions (PORT, LOG_LEVEL); the rest mirror the key.
var envKeys = map[string]string{
	"HOST":             "server.host",
	"PORT":             "server.port",
	"READ_TIMEOUT":     "server.read_timeout",
	"WRITE_TIMEOUT":    "server.write_timeout",
	"IDLE_TIMEOUT":     "server.idle_timeout",
	"SHUTDOWN_TIMEOUT": "server.shutdown_timeout",
	"RATE_LIMIT":       "server.rate_limit",
	"RATE_BURST":       "server.rate_burst",
	"CORS_ORIGINS":     "server.cors_origins",

	"LOG_LEVEL":   "logging.level",
	"LOG_PROFILE": "logging.profile",

	"HEALTH_ENABLED": "health.enabled",

	"WORKERS":        "jobs.workers",
	"QUEUE_SIZE":     "jobs.queue_size",
	"JOB_TTL":        "jobs.ttl",
	"JOB_SWEEP":      "jobs.sweep",
	"JOB_ID_SCHEME":  "jobs.id_scheme",
	"YTDLP_BINARY":   "fetch.binary",
	"DOWNLOADS_DIR":  "fetch.downloads_dir",
	"ALLOWED_HOSTS":  "fetch.allowed_hosts",
	"YTDLP_ARGS":     "fetch.extra_args",
	"VERIFY_VIDEO":   "fetch.verify_video",
	"STORAGE":        "storage.backend",
	"S3_BUCKET":      "storage.s3.bucket",
	"S3_PREFIX":      "storage.s3.prefix",
	"S3_REGION":      "storage.s3.region",
	"S3_ENDPOINT":    "storage.s3.endpoint",
	"S3_PROFILE":     "storage.s3.profile",
	"S3_PATH_STYLE":  "storage.s3.force_path_style",
	"S3_KEEP_LOCAL":  "storage.s3.keep_local",
	"S3_ACCESS_KEY":  "storage.s3.access_key_id",
	"S3_SECRET_KEY":  "storage.s3.secret_access_key",
	"AUTH_MODE":      "auth.mode",
	"CLIENT_ID":      "auth.client_id",
	"CLIENT_SECRET":  "auth.client_secret",
	"REDIRECT_URL":   "auth.redirect_url",
	"AUTH_SCOPES":    "auth.scopes",
	"COOKIE_FILE":    "auth.cookie_file",
	"AUTH_TOKEN":     "auth.token",
}

// SetIdentity replaces the application identity used by Load.
func SetIdentity(id Identity) {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = &id
}

// SetConfigFile makes Load read path instead of searching for a config file.
// An empty path restores discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// Load builds the configuration. Each overrides map is nested the same way as
// the YAML file and wins over every other source; later maps win over earlier
// ones.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	_ = ctx

	configMu.Lock()
	defer configMu.Unlock()

	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}

	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	normalize(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	appConfig = cfg
	return cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_burst", 5)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("health.enabled", true)

	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.queue_size", 64)
	v.SetDefault("jobs.ttl", "1h")
	v.SetDefault("jobs.sweep", "@every 1m")
	v.SetDefault("jobs.id_scheme", "numeric")

	v.SetDefault("fetch.binary", "yt-dlp")
	v.SetDefault("fetch.downloads_dir", "static/downloads")
	v.SetDefault("fetch.allowed_hosts", []string{})
	v.SetDefault("fetch.extra_args", []string{})
	v.SetDefault("fetch.verify_video", false)

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.s3.force_path_style", false)
	v.SetDefault("storage.s3.keep_local", false)

	v.SetDefault("auth.mode", "none")
	v.SetDefault("auth.redirect_url", "http://localhost:8080/oauth2callback")
	v.SetDefault("auth.scopes", []string{})
}

// getEnvSpecs returns the env bindings for the current identity, sorted by
// name. It is empty when no identity is set.
func getEnvSpecs() []EnvSpec {
	if appIdentity == nil {
		return []EnvSpec{}
	}
	prefix := appIdentity.EnvPrefix
	if prefix != "" && !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	specs := make([]EnvSpec, 0, len(envKeys))
	for suffix, path := range envKeys {
		specs = append(specs, EnvSpec{Name: prefix + suffix, Path: path})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// getUserConfigPaths lists directories searched for <ConfigName>.yaml after
// the working directory. It is empty when no identity is set.
func getUserConfigPaths() []string {
	if appIdentity == nil {
		return []string{}
	}
	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, appIdentity.BinaryName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", appIdentity.BinaryName))
	}
	paths = append(paths, filepath.Join("/etc", appIdentity.BinaryName))
	return paths
}

func readConfigFile(v *viper.Viper) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
		return nil
	}

	v.SetConfigName(appIdentity.ConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	for _, p := range getUserConfigPaths() {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// loadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

func normalize(cfg *Config) {
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Profile = strings.ToLower(strings.TrimSpace(cfg.Logging.Profile))
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	cfg.Auth.Mode = strings.ToLower(strings.TrimSpace(cfg.Auth.Mode))
	cfg.Fetch.AllowedHosts = compact(cfg.Fetch.AllowedHosts)
	cfg.Fetch.ExtraArgs = compact(cfg.Fetch.ExtraArgs)
	cfg.Server.CORSOrigins = compact(cfg.Server.CORSOrigins)
	cfg.Auth.Scopes = compact(cfg.Auth.Scopes)
}

func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
