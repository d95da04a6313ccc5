package auth

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// DeviceCode is what the user needs to approve a device-flow login.
type DeviceCode struct {
	VerificationURL string    `json:"verification_url"`
	UserCode        string    `json:"user_code"`
	ExpiresIn       int       `json:"expires_in"`
	Expiry          time.Time `json:"-"`
}

// StartDeviceFlow requests a device code and polls for the token in the
// background until the user approves, the code expires, or the Manager is
// closed. A flow that is still pending is reused.
func (m *Manager) StartDeviceFlow(ctx context.Context) (*DeviceCode, error) {
	if m.mode != ModeDevice {
		return nil, ErrUnsupported
	}

	m.deviceMu.Lock()
	defer m.deviceMu.Unlock()

	m.mu.RLock()
	pending := m.device
	m.mu.RUnlock()
	if pending != nil && time.Now().Before(pending.Expiry) {
		dc := *pending
		dc.ExpiresIn = int(time.Until(dc.Expiry).Seconds())
		return &dc, nil
	}

	da, err := m.oauth.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("device authorization: %w", err)
	}
	if da.Expiry.IsZero() {
		da.Expiry = time.Now().Add(30 * time.Minute)
	}

	dc := &DeviceCode{
		VerificationURL: da.VerificationURI,
		UserCode:        da.UserCode,
		ExpiresIn:       int(time.Until(da.Expiry).Seconds()),
		Expiry:          da.Expiry,
	}
	m.mu.Lock()
	m.device = dc
	m.mu.Unlock()

	m.logger.Info("Device authorization started",
		zap.String("verification_url", dc.VerificationURL),
		zap.Time("expires", dc.Expiry))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.pollDevice(da)
	}()

	out := *dc
	return &out, nil
}

// pollDevice waits for the user to approve the device code. x/oauth2 honors
// authorization_pending and slow_down responses and stops at the code's expiry.
func (m *Manager) pollDevice(da *oauth2.DeviceAuthResponse) {
	ctx, cancel := context.WithDeadline(m.ctx, da.Expiry)
	defer cancel()

	tok, err := m.oauth.DeviceAccessToken(ctx, da)
	if err != nil {
		m.mu.Lock()
		if m.device != nil && m.device.UserCode == da.UserCode {
			m.device = nil
		}
		m.mu.Unlock()
		m.logger.Warn("Device authorization failed", zap.Error(err))
		return
	}
	// SetToken clears the pending code under the same lock.
	m.SetToken(tok)
	m.logger.Info("Device authorization successful")
}

// PendingDevice returns the in-progress device code, if any.
func (m *Manager) PendingDevice() (*DeviceCode, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.device == nil {
		return nil, false
	}
	dc := *m.device
	return &dc, true
}
