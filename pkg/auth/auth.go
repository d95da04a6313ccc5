// Package auth obtains the credential passed to the extractor.
//
// One Manager serves every deployment style: no credential, a cookie file,
// a static bearer token, or an OAuth token acquired through the device-code
// or authorization-code flow against Google.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/3leaps/vidgrab/pkg/fetcher"
)

// DefaultScope grants read access to YouTube metadata.
const DefaultScope = "https://www.googleapis.com/auth/youtube.readonly"

// Mode selects how credentials are obtained.
type Mode string

const (
	ModeNone     Mode = "none"
	ModeCookie   Mode = "cookie"
	ModeToken    Mode = "token"
	ModeDevice   Mode = "device"
	ModeAuthCode Mode = "authcode"
)

// ParseMode normalizes a configured mode. Empty means ModeNone.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeNone, nil
	case ModeNone, ModeCookie, ModeToken, ModeDevice, ModeAuthCode:
		return m, nil
	default:
		return "", fmt.Errorf("unknown auth mode %q (expected none, cookie, token, device, or authcode)", s)
	}
}

// IsOAuth reports whether the mode acquires tokens interactively.
func (m Mode) IsOAuth() bool {
	return m == ModeDevice || m == ModeAuthCode
}

// Sentinel errors for credential operations.
var (
	// ErrUnauthorized indicates no usable credential is held yet.
	ErrUnauthorized = errors.New("not authorized")

	// ErrUnsupported indicates the operation does not apply to the configured mode.
	ErrUnsupported = errors.New("operation not supported in this auth mode")

	// ErrInvalidState indicates an authorization callback with an unknown or
	// expired state parameter.
	ErrInvalidState = errors.New("invalid oauth state")
)

// Config configures a Manager.
type Config struct {
	Mode Mode

	// OAuth client settings (device and authcode modes).
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// Endpoint overrides the Google OAuth endpoints. Zero uses google.Endpoint.
	Endpoint oauth2.Endpoint

	// CookieFile is a Netscape-format cookie jar (cookie mode).
	CookieFile string

	// Token is a pre-issued bearer token (token mode).
	Token string
}

// Validate checks that the settings required by Mode are present.
func (c Config) Validate() error {
	switch c.Mode {
	case "", ModeNone:
	case ModeCookie:
		if strings.TrimSpace(c.CookieFile) == "" {
			return fmt.Errorf("auth.cookie_file is required in cookie mode")
		}
	case ModeToken:
		if strings.TrimSpace(c.Token) == "" {
			return fmt.Errorf("auth.token is required in token mode")
		}
	case ModeDevice:
		if strings.TrimSpace(c.ClientID) == "" {
			return fmt.Errorf("auth.client_id is required in device mode")
		}
	case ModeAuthCode:
		if strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.RedirectURL) == "" {
			return fmt.Errorf("auth.client_id and auth.redirect_url are required in authcode mode")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.Mode)
	}
	return nil
}

// Manager holds the active credential and runs the OAuth flows.
//
// It is safe for concurrent use. Tokens live only in memory.
type Manager struct {
	mode       Mode
	oauth      *oauth2.Config
	cookieFile string
	logger     *zap.Logger

	mu     sync.RWMutex
	source oauth2.TokenSource
	states map[string]time.Time
	device *DeviceCode

	// deviceMu serializes StartDeviceFlow so concurrent callers share one
	// pending code. It is held across the device authorization request, so
	// mu stays free for token readers.
	deviceMu sync.Mutex

	// ctx bounds background device polling; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Manager for cfg.
func New(cfg Config, logger *zap.Logger) (*Manager, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeNone
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		mode:       cfg.Mode,
		cookieFile: cfg.CookieFile,
		logger:     logger,
		states:     make(map[string]time.Time),
		ctx:        ctx,
		cancel:     cancel,
	}

	if cfg.Mode.IsOAuth() {
		endpoint := cfg.Endpoint
		if endpoint.TokenURL == "" {
			endpoint = google.Endpoint
		}
		scopes := cfg.Scopes
		if len(scopes) == 0 {
			scopes = []string{DefaultScope}
		}
		m.oauth = &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		}
	}
	if cfg.Mode == ModeToken {
		m.source = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
	}
	return m, nil
}

// Mode returns the configured mode.
func (m *Manager) Mode() Mode {
	return m.mode
}

// Required reports whether downloads need a credential before they are accepted.
func (m *Manager) Required() bool {
	return m.mode != ModeNone
}

// Authorized reports whether a credential is currently available.
func (m *Manager) Authorized() bool {
	switch m.mode {
	case ModeNone, ModeCookie:
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.source != nil
}

// SetToken installs an OAuth token, replacing any previous one. Refreshable
// tokens are refreshed automatically when they expire.
func (m *Manager) SetToken(tok *oauth2.Token) {
	if tok == nil {
		return
	}
	var src oauth2.TokenSource
	if m.oauth != nil {
		src = m.oauth.TokenSource(m.ctx, tok)
	} else {
		src = oauth2.StaticTokenSource(tok)
	}
	m.mu.Lock()
	m.source = src
	m.device = nil
	m.mu.Unlock()
}

// AccessToken returns a valid bearer token, refreshing if needed.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	_ = ctx
	m.mu.RLock()
	src := m.source
	m.mu.RUnlock()
	if src == nil {
		return "", ErrUnauthorized
	}
	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if tok.AccessToken == "" {
		return "", ErrUnauthorized
	}
	return tok.AccessToken, nil
}

// FetchAuth returns the extractor credential for the configured mode.
func (m *Manager) FetchAuth(ctx context.Context) (fetcher.Auth, error) {
	switch m.mode {
	case ModeNone:
		return fetcher.Auth{}, nil
	case ModeCookie:
		return fetcher.Auth{CookieFile: m.cookieFile}, nil
	}
	tok, err := m.AccessToken(ctx)
	if err != nil {
		return fetcher.Auth{}, err
	}
	return fetcher.Auth{Headers: map[string]string{"Authorization": "Bearer " + tok}}, nil
}

// Close stops any background device-flow polling.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}
