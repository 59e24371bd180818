package auth

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/docbase/docbase.go/pkg/status"
)

// expirySkew is subtracted from a token's expiry so calls in flight when the
// token lapses do not race the server's clock.
const expirySkew = 30 * time.Second

// JWTTokenProvider serves a JWT auth token, re-minting through Refresh when
// the cached token is within expirySkew of expiring. The token is parsed
// unverified: the client holds no signing key, the server verifies.
type JWTTokenProvider struct {
	// Refresh mints a new token when the cached one has expired.
	Refresh func(ctx context.Context) (string, error)
	// AppCheckToken is passed through unchanged.
	AppCheckToken string

	mu    sync.Mutex
	token string
}

func (p *JWTTokenProvider) Credentials(ctx context.Context) (Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token == "" || jwtExpired(p.token, time.Now()) {
		if p.Refresh == nil {
			return Credentials{}, status.Errorf(status.Unauthenticated, "auth token expired and no refresh configured")
		}
		token, err := p.Refresh(ctx)
		if err != nil {
			return Credentials{}, status.Wrap(status.Unauthenticated, err, "refreshing auth token")
		}
		p.token = token
	}

	return Credentials{AuthToken: p.token, AppCheckToken: p.AppCheckToken}, nil
}

func jwtExpired(token string, now time.Time) bool {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		// Not a JWT; treat as opaque and never locally expired.
		return false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return now.Add(expirySkew).After(exp.Time)
}
