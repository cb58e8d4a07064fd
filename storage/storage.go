package storage

import (
	"context"
	"time"
)

// ClientRepository looks up and persists clients.
type ClientRepository interface {
	// Find returns the client or ErrClientNotFound.
	Find(ctx context.Context, clientID string) (*Client, error)

	// Save creates or replaces a client.
	Save(ctx context.Context, client *Client) error
}

// AuthorizationCodeRepository persists authorization codes.
type AuthorizationCodeRepository interface {
	// Find returns the code or ErrAuthorizationCodeNotFound.
	Find(ctx context.Context, code string) (*AuthorizationCode, error)

	// Save replaces a stored code.
	Save(ctx context.Context, code *AuthorizationCode) error

	// Create builds a code with a fresh ID and stores it.
	Create(ctx context.Context, params AuthorizationCodeParams) (*AuthorizationCode, error)

	// MarkUsed atomically flips the used flag, records issuedTokenIDs on the
	// code and returns the updated code. If the code was already used it
	// returns the stored code together with ErrAuthorizationCodeUsed, so the
	// caller can revoke what was issued from it.
	MarkUsed(ctx context.Context, code string, issuedTokenIDs ...string) (*AuthorizationCode, error)
}

// AccessTokenRepository persists access tokens.
type AccessTokenRepository interface {
	// Find returns the token or ErrTokenNotFound.
	Find(ctx context.Context, id string) (*AccessToken, error)

	// Save replaces a stored token.
	Save(ctx context.Context, token *AccessToken) error

	// Create builds a token with a fresh ID and stores it.
	Create(ctx context.Context, params TokenParams) (*AccessToken, error)
}

// RefreshTokenRepository persists refresh tokens.
type RefreshTokenRepository interface {
	// Find returns the token or ErrTokenNotFound.
	Find(ctx context.Context, id string) (*RefreshToken, error)

	// Save replaces a stored token. It never clears the revoked flag of the
	// stored token and never drops linked access tokens.
	Save(ctx context.Context, token *RefreshToken) error

	// Create builds a token with a fresh ID and stores it.
	Create(ctx context.Context, params TokenParams) (*RefreshToken, error)

	// Consume atomically revokes the token and returns it. If it was already
	// revoked the stored token is returned together with ErrTokenRevoked.
	Consume(ctx context.Context, id string) (*RefreshToken, error)

	// LinkAccessToken atomically records an access token issued from the
	// refresh token. No other field is written.
	LinkAccessToken(ctx context.Context, id, accessTokenID string) error
}

// SessionStore keeps pending authorization requests between the login,
// consent and process steps. Values are opaque to the store.
type SessionStore interface {
	// Get returns the stored value or ErrSessionNotFound.
	Get(ctx context.Context, id string) ([]byte, error)

	// Set stores value under id for at most ttl.
	Set(ctx context.Context, id string, value []byte, ttl time.Duration) error

	// Has reports whether a live value exists for id.
	Has(ctx context.Context, id string) (bool, error)

	// Remove deletes the value. Removing a missing id is not an error.
	Remove(ctx context.Context, id string) error
}
