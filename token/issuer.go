package token

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/storage"
)

// IssueParams holds what a new token is built from.
type IssueParams struct {
	// ID is the token value. A random one is generated when empty.
	ID string

	ClientID        string
	ResourceOwnerID string
	Scope           []string
	TokenType       string

	// Parameters and Metadata are copied onto the token.
	Parameters storage.DataBag
	Metadata   storage.DataBag
}

// Issuer creates access and refresh tokens with the configured lifetimes.
type Issuer struct {
	accessTokens  storage.AccessTokenRepository
	refreshTokens storage.RefreshTokenRepository
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// IssuerConfig configures an Issuer.
type IssuerConfig struct {
	AccessTokens    storage.AccessTokenRepository
	RefreshTokens   storage.RefreshTokenRepository
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Now             func() time.Time
}

// NewIssuer creates an issuer.
func NewIssuer(cfg IssuerConfig) *Issuer {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Issuer{
		accessTokens:  cfg.AccessTokens,
		refreshTokens: cfg.RefreshTokens,
		accessTTL:     cfg.AccessTokenTTL,
		refreshTTL:    cfg.RefreshTokenTTL,
		now:           cfg.Now,
	}
}

// AccessTokenTTL returns the configured access token lifetime.
func (i *Issuer) AccessTokenTTL() time.Duration { return i.accessTTL }

func (p IssueParams) parameters() storage.DataBag {
	params := p.Parameters.Clone()
	if params == nil {
		params = storage.DataBag{}
	}
	params["scope"] = scope.Format(p.Scope)
	if p.TokenType != "" {
		params[ParamTokenType] = p.TokenType
	}
	return params
}

// IssueRefreshToken creates a refresh token.
func (i *Issuer) IssueRefreshToken(ctx context.Context, p IssueParams) (*storage.RefreshToken, error) {
	rt, err := i.refreshTokens.Create(ctx, storage.TokenParams{
		ID:              p.ID,
		ClientID:        p.ClientID,
		ResourceOwnerID: p.ResourceOwnerID,
		ExpiresAt:       i.now().Add(i.refreshTTL),
		Parameters:      p.parameters(),
		Metadata:        p.Metadata.Clone(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh token: %w", err)
	}
	return rt, nil
}

// IssueAccessToken creates an access token. When rt is non-nil the access
// token is linked to it in the refresh token repository, and rt is updated
// to remember the new access token.
func (i *Issuer) IssueAccessToken(ctx context.Context, p IssueParams, rt *storage.RefreshToken) (*storage.AccessToken, error) {
	params := storage.TokenParams{
		ID:              p.ID,
		ClientID:        p.ClientID,
		ResourceOwnerID: p.ResourceOwnerID,
		ExpiresAt:       i.now().Add(i.accessTTL),
		Parameters:      p.parameters(),
		Metadata:        p.Metadata.Clone(),
	}
	if rt != nil {
		params.RefreshTokenID = rt.ID()
	}

	at, err := i.accessTokens.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}

	if rt != nil {
		if err := i.refreshTokens.LinkAccessToken(ctx, rt.ID(), at.ID()); err != nil {
			return nil, fmt.Errorf("failed to link access token to refresh token: %w", err)
		}
		rt.AddAccessToken(at.ID())
	}
	return at, nil
}

// ExpiresIn returns the remaining lifetime of t in whole seconds.
func (i *Issuer) ExpiresIn(t storage.Token) int64 {
	secs := int64(t.ExpiresAt().Sub(i.now()).Round(time.Second) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}
