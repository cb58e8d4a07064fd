package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-engine/storage"
)

// Token type hint values from RFC 7009 and RFC 7662.
const (
	HintAccessToken  = "access_token"
	HintRefreshToken = "refresh_token"
)

// TypeHint finds, revokes and describes one family of tokens.
type TypeHint interface {
	// Hint is the token_type_hint value this family answers to.
	Hint() string

	// Find looks up a token by its value. It returns storage.ErrTokenNotFound
	// when the value does not belong to this family.
	Find(ctx context.Context, value string) (storage.Token, error)

	// Revoke revokes t and whatever depends on it.
	Revoke(ctx context.Context, t storage.Token) error

	// Introspect returns the RFC 7662 response for t. The map always
	// includes "active".
	Introspect(t storage.Token) map[string]any
}

// inactive is the only response given for unusable tokens.
func inactive() map[string]any { return map[string]any{"active": false} }

type introspector struct {
	issuer string
	now    func() time.Time
}

// usable applies no clock skew grace: resource servers act on the answer
// immediately, so a token is inactive from its expiry on.
func (i introspector) usable(t storage.Token) bool {
	return t != nil && !t.IsRevoked() && !t.IsExpired(i.now(), 0)
}

func (i introspector) claims(t storage.Token) map[string]any {
	if !i.usable(t) {
		return inactive()
	}

	params := t.Parameters()
	out := map[string]any{
		"active":    true,
		"client_id": t.ClientID(),
		"exp":       t.ExpiresAt().Unix(),
		"iat":       t.CreatedAt().Unix(),
	}
	if s := params.String("scope"); s != "" {
		out["scope"] = s
	}
	if t.ResourceOwnerID() != "" {
		out["sub"] = t.ResourceOwnerID()
		out["username"] = t.ResourceOwnerID()
	}
	if tt := params.String(ParamTokenType); tt != "" {
		out["token_type"] = tt
	}
	if i.issuer != "" {
		out["iss"] = i.issuer
	}
	return out
}

// AccessTokenHint handles access tokens.
type AccessTokenHint struct {
	repo storage.AccessTokenRepository
	introspector
}

// NewAccessTokenHint creates the access_token type hint.
func NewAccessTokenHint(repo storage.AccessTokenRepository, issuer string, now func() time.Time) *AccessTokenHint {
	if now == nil {
		now = time.Now
	}
	return &AccessTokenHint{repo: repo, introspector: introspector{issuer: issuer, now: now}}
}

// Hint implements TypeHint.
func (h *AccessTokenHint) Hint() string { return HintAccessToken }

// Find implements TypeHint.
func (h *AccessTokenHint) Find(ctx context.Context, value string) (storage.Token, error) {
	at, err := h.repo.Find(ctx, value)
	if err != nil {
		return nil, err
	}
	return at, nil
}

// Revoke implements TypeHint.
func (h *AccessTokenHint) Revoke(ctx context.Context, t storage.Token) error {
	at, ok := t.(*storage.AccessToken)
	if !ok {
		return fmt.Errorf("expected access token, got %T", t)
	}
	at.Revoke()
	if err := h.repo.Save(ctx, at); err != nil {
		return fmt.Errorf("failed to save revoked access token: %w", err)
	}
	return nil
}

// Introspect implements TypeHint.
func (h *AccessTokenHint) Introspect(t storage.Token) map[string]any {
	return h.claims(t)
}

// RefreshTokenHint handles refresh tokens.
type RefreshTokenHint struct {
	repo         storage.RefreshTokenRepository
	accessTokens storage.AccessTokenRepository
	introspector
}

// NewRefreshTokenHint creates the refresh_token type hint. Revoking a
// refresh token also revokes the access tokens found in accessTokens.
func NewRefreshTokenHint(repo storage.RefreshTokenRepository, accessTokens storage.AccessTokenRepository, issuer string, now func() time.Time) *RefreshTokenHint {
	if now == nil {
		now = time.Now
	}
	return &RefreshTokenHint{repo: repo, accessTokens: accessTokens, introspector: introspector{issuer: issuer, now: now}}
}

// Hint implements TypeHint.
func (h *RefreshTokenHint) Hint() string { return HintRefreshToken }

// Find implements TypeHint.
func (h *RefreshTokenHint) Find(ctx context.Context, value string) (storage.Token, error) {
	rt, err := h.repo.Find(ctx, value)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// Revoke implements TypeHint.
func (h *RefreshTokenHint) Revoke(ctx context.Context, t storage.Token) error {
	rt, ok := t.(*storage.RefreshToken)
	if !ok {
		return fmt.Errorf("expected refresh token, got %T", t)
	}
	consumed, err := h.repo.Consume(ctx, rt.ID())
	switch {
	case errors.Is(err, storage.ErrTokenNotFound):
		return nil
	case err != nil && !errors.Is(err, storage.ErrTokenRevoked):
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	rt.Revoke()
	return RevokeAccessTokens(ctx, h.accessTokens, consumed.AccessTokenIDs())
}

// Introspect implements TypeHint.
func (h *RefreshTokenHint) Introspect(t storage.Token) map[string]any {
	return h.claims(t)
}

// RevokeAccessTokens revokes every listed access token. Tokens that no
// longer exist are skipped.
func RevokeAccessTokens(ctx context.Context, repo storage.AccessTokenRepository, ids []string) error {
	for _, id := range ids {
		at, err := repo.Find(ctx, id)
		if errors.Is(err, storage.ErrTokenNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load access token: %w", err)
		}
		if at.IsRevoked() {
			continue
		}
		at.Revoke()
		if err := repo.Save(ctx, at); err != nil {
			return fmt.Errorf("failed to revoke access token: %w", err)
		}
	}
	return nil
}
