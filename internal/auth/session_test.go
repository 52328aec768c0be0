package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/zapidan/newsletter-hub-sub004/pkg/errors"
)

func signedToken(t *testing.T, subject string, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": expiresAt.Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

type stubRefresher struct {
	mu      sync.Mutex
	calls   int
	session Session
	err     error
}

func (s *stubRefresher) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.session, s.err
}

func TestManager_SetSessionReadsClaims(t *testing.T) {
	m := NewManager(nil, time.Minute, nil)
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)

	err := m.SetSession(Session{
		AccessToken:  signedToken(t, "user-1", expiry),
		RefreshToken: "refresh-1",
	})
	require.NoError(t, err)

	id, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, "user-1", id.UserID)
	assert.False(t, m.ExpiresSoon())
}

func TestManager_SetSessionRejectsGarbageToken(t *testing.T) {
	m := NewManager(nil, time.Minute, nil)
	err := m.SetSession(Session{AccessToken: "not-a-jwt"})
	assert.Error(t, err)
	_, ok := m.Current()
	assert.False(t, ok)
}

func TestManager_NoIdentityWithoutSession(t *testing.T) {
	m := NewManager(nil, time.Minute, nil)
	_, ok := m.Current()
	assert.False(t, ok)
	_, ok = m.Token()
	assert.False(t, ok)
}

func TestManager_ExpiredSessionYieldsNoIdentity(t *testing.T) {
	m := NewManager(nil, time.Minute, nil)
	require.NoError(t, m.SetSession(Session{
		UserID:      "user-1",
		AccessToken: "opaque",
		ExpiresAt:   time.Now().Add(-time.Minute),
	}))

	_, ok := m.Current()
	assert.False(t, ok)
}

func TestManager_InvalidateGatesReads(t *testing.T) {
	m := NewManager(nil, time.Minute, nil)
	require.NoError(t, m.SetSession(Session{
		UserID:      "user-1",
		AccessToken: "opaque",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	m.Invalidate()

	_, ok := m.Current()
	assert.False(t, ok)
	_, ok = m.Token()
	assert.False(t, ok)
}

func TestManager_RefreshInstallsNewSession(t *testing.T) {
	refresher := &stubRefresher{session: Session{
		UserID:       "user-1",
		AccessToken:  "fresh",
		RefreshToken: "refresh-2",
		ExpiresAt:    time.Now().Add(time.Hour),
	}}
	m := NewManager(refresher, time.Minute, nil)
	require.NoError(t, m.SetSession(Session{
		UserID:       "user-1",
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))
	m.Invalidate()

	require.NoError(t, m.Refresh(context.Background()))

	token, ok := m.Token()
	require.True(t, ok)
	assert.Equal(t, "fresh", token)
}

func TestManager_RefreshWithoutSessionIsUnauthorized(t *testing.T) {
	m := NewManager(&stubRefresher{}, time.Minute, nil)
	err := m.Refresh(context.Background())
	assert.True(t, apperrors.IsUnauthorized(err))
}

func TestManager_ConcurrentRefreshCollapses(t *testing.T) {
	refresher := &stubRefresher{session: Session{
		UserID:       "user-1",
		AccessToken:  "fresh",
		RefreshToken: "refresh-2",
		ExpiresAt:    time.Now().Add(time.Hour),
	}}
	m := NewManager(refresher, time.Minute, nil)
	require.NoError(t, m.SetSession(Session{
		UserID:       "user-1",
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))
	m.Invalidate()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Refresh(context.Background())
		}()
	}
	wg.Wait()

	refresher.mu.Lock()
	defer refresher.mu.Unlock()
	assert.Equal(t, 1, refresher.calls, "one exchange for the whole burst")
}
