// Package auth supplies per-call credentials: an auth token identifying the
// user and an app-check token attesting the client build. Both are opaque to
// the connection layer and become metadata headers.
package auth

import "context"

// Credentials is the token pair attached to one RPC.
type Credentials struct {
	AuthToken     string
	AppCheckToken string
}

// EmptyCredentials carries no tokens; the backend treats the call as
// unauthenticated.
var EmptyCredentials = Credentials{}

// TokenProvider yields the credentials for the next call. Implementations
// may refresh or mint tokens; the connection layer calls this once per RPC.
type TokenProvider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// StaticTokenProvider returns fixed tokens, typically for tests and emulator
// use.
type StaticTokenProvider struct {
	Token Credentials
}

func (p StaticTokenProvider) Credentials(context.Context) (Credentials, error) {
	return p.Token, nil
}
