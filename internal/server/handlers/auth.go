package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/3leaps/vidgrab/internal/errors"
	"github.com/3leaps/vidgrab/pkg/auth"
)

// AuthFlows is the credential manager surface the auth endpoints drive.
type AuthFlows interface {
	Mode() auth.Mode
	Required() bool
	Authorized() bool
	StartDeviceFlow(ctx context.Context) (*auth.DeviceCode, error)
	PendingDevice() (*auth.DeviceCode, bool)
	AuthCodeURL() (string, error)
	Exchange(ctx context.Context, state, code string) error
}

// AuthHandlers serves the index and OAuth endpoints.
type AuthHandlers struct {
	flows  AuthFlows
	logger *zap.Logger
}

// NewAuthHandlers creates the auth handlers.
func NewAuthHandlers(flows AuthFlows, logger *zap.Logger) *AuthHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandlers{flows: flows, logger: logger}
}

// AuthStatus reports the credential state.
type AuthStatus struct {
	Service    string           `json:"service,omitempty"`
	Authorized bool             `json:"authorized"`
	AuthMode   string           `json:"auth_mode"`
	Pending    *auth.DeviceCode `json:"pending_device,omitempty"`
}

func (h *AuthHandlers) status() AuthStatus {
	s := AuthStatus{
		Authorized: h.flows.Authorized(),
		AuthMode:   string(h.flows.Mode()),
	}
	if dc, ok := h.flows.PendingDevice(); ok {
		s.Pending = dc
	}
	return s
}

// Index handles GET /. Unauthorized clients are sent to /authorize.
func (h *AuthHandlers) Index(w http.ResponseWriter, r *http.Request) {
	if h.flows.Required() && !h.flows.Authorized() {
		http.Redirect(w, r, "/authorize", http.StatusFound)
		return
	}
	s := h.status()
	s.Service = "vidgrab"
	writeJSON(w, http.StatusOK, s)
}

// Status handles GET /auth/status.
func (h *AuthHandlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

// Authorize handles GET /authorize. Device mode returns the code the user
// must enter; authcode mode redirects to the consent page.
func (h *AuthHandlers) Authorize(w http.ResponseWriter, r *http.Request) {
	switch h.flows.Mode() {
	case auth.ModeDevice:
		dc, err := h.flows.StartDeviceFlow(r.Context())
		if err != nil {
			h.logger.Warn("Device authorization failed to start", zap.Error(err))
			respondWithError(w, r, apperrors.NewServiceUnavailable("could not start device authorization").
				WithDetails(map[string]any{"cause": err.Error()}))
			return
		}
		writeJSON(w, http.StatusOK, dc)
	case auth.ModeAuthCode:
		consent, err := h.flows.AuthCodeURL()
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		http.Redirect(w, r, consent, http.StatusFound)
	default:
		respondWithError(w, r, auth.ErrUnsupported)
	}
}

// Callback handles GET /oauth2callback.
func (h *AuthHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	if h.flows.Mode() != auth.ModeAuthCode {
		respondWithError(w, r, auth.ErrUnsupported)
		return
	}

	q := r.URL.Query()
	if e := strings.TrimSpace(q.Get("error")); e != "" {
		respondWithError(w, r, apperrors.NewUnauthorized("authorization denied").
			WithDetails(map[string]any{"provider_error": e}))
		return
	}
	code := strings.TrimSpace(q.Get("code"))
	if code == "" {
		respondWithError(w, r, apperrors.NewInvalidRequest("code is required"))
		return
	}

	if err := h.flows.Exchange(r.Context(), q.Get("state"), code); err != nil {
		h.logger.Warn("Authorization code exchange failed", zap.Error(err))
		respondWithError(w, r, apperrors.NewUnauthorized("authorization failed"))
		return
	}
	h.logger.Info("Authorization code exchange successful")
	http.Redirect(w, r, "/", http.StatusFound)
}
