package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// stateTTL bounds how long a consent redirect stays valid.
const stateTTL = 10 * time.Minute

// AuthCodeURL returns the provider consent URL for a new login, with a
// single-use state value.
func (m *Manager) AuthCodeURL() (string, error) {
	if m.mode != ModeAuthCode {
		return "", ErrUnsupported
	}
	state := uuid.NewString()
	now := time.Now()

	m.mu.Lock()
	for s, exp := range m.states {
		if now.After(exp) {
			delete(m.states, s)
		}
	}
	m.states[state] = now.Add(stateTTL)
	m.mu.Unlock()

	return m.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// Exchange completes an authorization-code login from the provider callback.
func (m *Manager) Exchange(ctx context.Context, state, code string) error {
	if m.mode != ModeAuthCode {
		return ErrUnsupported
	}
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("%w: missing code", ErrInvalidState)
	}

	m.mu.Lock()
	exp, ok := m.states[state]
	delete(m.states, state)
	m.mu.Unlock()
	if !ok || time.Now().After(exp) {
		return ErrInvalidState
	}

	tok, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("oauth exchange: %w", err)
	}
	m.SetToken(tok)
	m.logger.Info("Authorization code exchanged", zap.Bool("refreshable", tok.RefreshToken != ""))
	return nil
}
