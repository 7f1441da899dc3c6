// Package auth wraps venue.AuthApi with an in-process cached bearer
// token, implementing spec §5's token_lock: a mutex serializing
// token-refresh races, with a fast path for readers holding a token that
// still has at least a 60-second safety margin before expiry. Adapted
// from the teacher's internal/adapter/token.go (Token/Str64), generalized
// away from the fixed-width wire encoding — this cache never crosses the
// wire, so there is nothing to encode.
package auth

import (
	"context"
	"sync"
	"time"

	"marketmaker/internal/venue"
)

// SafetyMargin is the minimum remaining TTL spec §5 requires before a
// cached token is considered still valid.
const SafetyMargin = 60 * time.Second

// TokenManager caches one bearer token behind token_lock.
type TokenManager struct {
	authApi venue.AuthApi

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenManager returns an empty TokenManager; the first Token call
// authenticates.
func NewTokenManager(authApi venue.AuthApi) *TokenManager {
	return &TokenManager{authApi: authApi}
}

// Token returns a token with at least SafetyMargin of remaining TTL,
// authenticating if the cached one has none, is expired, or is unset.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && time.Until(m.expiresAt) > SafetyMargin {
		return m.token, nil
	}

	auth, err := m.authApi.Authenticate(ctx)
	if err != nil {
		return "", err
	}
	m.token = auth.Token
	m.expiresAt = time.Now().UTC().Add(time.Duration(auth.ExpiresInSeconds) * time.Second)
	return m.token, nil
}

// Refresh forces a fresh Authenticate call regardless of the cached
// token's remaining TTL, for the orchestrator's periodic background
// refresh (spec §4.5 step 4).
func (m *TokenManager) Refresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	auth, err := m.authApi.Authenticate(ctx)
	if err != nil {
		return "", err
	}
	m.token = auth.Token
	m.expiresAt = time.Now().UTC().Add(time.Duration(auth.ExpiresInSeconds) * time.Second)
	return m.token, nil
}
