package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbase/docbase.go/pkg/status"
)

func signedToken(t *testing.T, expiresIn time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(expiresIn).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestStaticTokenProvider(t *testing.T) {
	p := StaticTokenProvider{Token: Credentials{AuthToken: "a", AppCheckToken: "b"}}
	creds, err := p.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", creds.AuthToken)
	assert.Equal(t, "b", creds.AppCheckToken)
}

func TestJWTProviderMintsOnFirstUse(t *testing.T) {
	fresh := signedToken(t, time.Hour)
	var refreshes int
	p := &JWTTokenProvider{
		Refresh: func(context.Context) (string, error) {
			refreshes++
			return fresh, nil
		},
		AppCheckToken: "ac",
	}

	creds, err := p.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, creds.AuthToken)
	assert.Equal(t, "ac", creds.AppCheckToken)

	_, err = p.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, refreshes, "a fresh token is served from cache")
}

func TestJWTProviderRefreshesExpiredToken(t *testing.T) {
	fresh := signedToken(t, time.Hour)
	var refreshes int
	p := &JWTTokenProvider{
		Refresh: func(context.Context) (string, error) {
			refreshes++
			return fresh, nil
		},
	}
	p.token = signedToken(t, -time.Minute)

	creds, err := p.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, creds.AuthToken)
	assert.Equal(t, 1, refreshes)
}

func TestJWTProviderRefreshesTokenWithinSkew(t *testing.T) {
	p := &JWTTokenProvider{
		Refresh: func(context.Context) (string, error) {
			return signedToken(t, time.Hour), nil
		},
	}
	// Still valid, but inside the skew window; a call issued now could lapse
	// mid-flight.
	seed := signedToken(t, expirySkew/2)
	p.token = seed

	creds, err := p.Credentials(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, seed, creds.AuthToken, "a token inside the skew window is replaced")
	assert.False(t, jwtExpired(creds.AuthToken, time.Now()))
}

func TestOpaqueTokenNeverExpiresLocally(t *testing.T) {
	p := &JWTTokenProvider{
		Refresh: func(context.Context) (string, error) {
			t.Fatal("opaque tokens must not trigger refresh")
			return "", nil
		},
	}
	p.token = "opaque-session-blob"

	creds, err := p.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "opaque-session-blob", creds.AuthToken)
}

func TestJWTProviderFailuresAreUnauthenticated(t *testing.T) {
	noRefresh := &JWTTokenProvider{}
	_, err := noRefresh.Credentials(context.Background())
	assert.Equal(t, status.Unauthenticated, status.CodeOf(err))

	failing := &JWTTokenProvider{
		Refresh: func(context.Context) (string, error) {
			return "", status.Errorf(status.Unavailable, "identity backend down")
		},
	}
	_, err = failing.Credentials(context.Background())
	assert.Equal(t, status.Unauthenticated, status.CodeOf(err))
}
