// Package auth tracks the authenticated session the engine acts under.
// Every cache read is gated on a present identity; the engine facade
// drives refresh when the backend reports the session invalid.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	apperrors "github.com/zapidan/newsletter-hub-sub004/pkg/errors"
)

// Identity is the currently-authenticated user, as much of it as the
// engine needs.
type Identity struct {
	UserID string
}

// Session is the full credential set handed over by the auth subsystem.
type Session struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Refresher exchanges a refresh token for a new session. The Supabase
// adapter implements it; tests stub it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Session, error)
}

// Manager holds the session and performs single-flight refresh.
type Manager struct {
	mu            sync.RWMutex
	session       *Session
	expired       bool
	refresher     Refresher
	refreshMargin time.Duration
	logger        *zap.Logger

	refreshMu sync.Mutex
}

// NewManager creates a session manager. refresher may be nil when the
// embedding application performs its own token handling.
func NewManager(refresher Refresher, refreshMargin time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if refreshMargin <= 0 {
		refreshMargin = time.Minute
	}
	return &Manager{
		refresher:     refresher,
		refreshMargin: refreshMargin,
		logger:        logger.Named("auth"),
	}
}

// SetRefresher installs the refresher after construction. The backend
// adapter needs the manager as its token source, so the two are created
// in sequence and tied together here.
func (m *Manager) SetRefresher(r Refresher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresher = r
}

// SetSession installs a session. A zero ExpiresAt and empty UserID are
// filled in from the access token's claims; the signature is not checked
// here, the backend verifies every request anyway.
func (m *Manager) SetSession(s Session) error {
	if s.ExpiresAt.IsZero() || s.UserID == "" {
		expiry, subject, err := inspectToken(s.AccessToken)
		if err != nil {
			return fmt.Errorf("inspecting access token: %w", err)
		}
		if s.ExpiresAt.IsZero() {
			s.ExpiresAt = expiry
		}
		if s.UserID == "" {
			s.UserID = subject
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = &s
	m.expired = false
	m.logger.Info("session installed",
		zap.String("user_id", s.UserID),
		zap.Time("expires_at", s.ExpiresAt),
	)
	return nil
}

// Current returns the identity when a live session is present. A session
// past its expiry or explicitly invalidated yields no identity, which
// disables every cache read above.
func (m *Manager) Current() (Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil || m.expired {
		return Identity{}, false
	}
	if !m.session.ExpiresAt.IsZero() && time.Now().After(m.session.ExpiresAt) {
		return Identity{}, false
	}
	return Identity{UserID: m.session.UserID}, true
}

// Token returns the access token for request signing.
func (m *Manager) Token() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil || m.expired {
		return "", false
	}
	return m.session.AccessToken, true
}

// ExpiresSoon reports whether the token is inside its refresh margin.
func (m *Manager) ExpiresSoon() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil || m.session.ExpiresAt.IsZero() {
		return false
	}
	return time.Until(m.session.ExpiresAt) < m.refreshMargin
}

// Invalidate marks the session expired. The engine calls it when any
// operation comes back unauthorized, so reads stop until refresh.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired = true
}

// Clear drops the session entirely (sign-out).
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	m.expired = false
}

// Refresh exchanges the refresh token for a new session. Concurrent
// callers collapse into one exchange; the losers return once the winner
// has installed the new session.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.RLock()
	refresher := m.refresher
	m.mu.RUnlock()
	if refresher == nil {
		return apperrors.NewUnauthorized("no refresh configured")
	}

	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	// Another caller may have refreshed while this one waited.
	if _, ok := m.Current(); ok && !m.ExpiresSoon() {
		return nil
	}

	m.mu.RLock()
	var refreshToken string
	if m.session != nil {
		refreshToken = m.session.RefreshToken
	}
	m.mu.RUnlock()

	if refreshToken == "" {
		return apperrors.NewUnauthorized("no session to refresh")
	}

	next, err := refresher.Refresh(ctx, refreshToken)
	if err != nil {
		m.logger.Warn("session refresh failed", zap.Error(err))
		return apperrors.Classify("auth.refresh", err)
	}
	return m.SetSession(next)
}

// inspectToken reads expiry and subject from the JWT without verifying
// the signature.
func inspectToken(token string) (time.Time, string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, "", err
	}
	subject, err := claims.GetSubject()
	if err != nil {
		return time.Time{}, "", err
	}
	expiry, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, "", err
	}
	if expiry == nil {
		return time.Time{}, subject, nil
	}
	return expiry.Time, subject, nil
}
