package auth

import (
	"context"
	"sync/atomic"
	"testing"

	"marketmaker/internal/venue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuthApi struct {
	calls atomic.Int64
	token string
	ttl   int64
}

func (s *stubAuthApi) Authenticate(ctx context.Context) (venue.AuthToken, error) {
	s.calls.Add(1)
	return venue.AuthToken{Token: s.token, ExpiresInSeconds: s.ttl}, nil
}

func TestTokenAuthenticatesOnceWhenFresh(t *testing.T) {
	api := &stubAuthApi{token: "tok-1", ttl: 900}
	m := NewTokenManager(api)

	for i := 0; i < 5; i++ {
		tok, err := m.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-1", tok)
	}

	assert.Equal(t, int64(1), api.calls.Load(), "fast path avoids re-authenticating while within safety margin")
}

func TestTokenReauthenticatesWhenWithinSafetyMargin(t *testing.T) {
	api := &stubAuthApi{token: "tok-1", ttl: 30} // below the 60s safety margin
	m := NewTokenManager(api)

	_, err := m.Token(context.Background())
	require.NoError(t, err)

	api.token = "tok-2"
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, int64(2), api.calls.Load())
}

func TestRefreshAlwaysReauthenticates(t *testing.T) {
	api := &stubAuthApi{token: "tok-1", ttl: 900}
	m := NewTokenManager(api)

	_, err := m.Token(context.Background())
	require.NoError(t, err)

	api.token = "tok-2"
	tok, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, int64(2), api.calls.Load())
}
