package grant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/giantswarm/oauth-engine/instrumentation"
	"github.com/giantswarm/oauth-engine/internal/pkce"
	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/oautherr"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/token"
)

// Form parameters of the authorization_code grant.
const (
	ParamCode         = "code"
	ParamRedirectURI  = "redirect_uri"
	ParamCodeVerifier = "code_verifier"
)

const attrAuthorizationCode = "authorization_code"

// AuthorizationCodeConfig configures AuthorizationCode.
type AuthorizationCodeConfig struct {
	Codes         storage.AuthorizationCodeRepository
	AccessTokens  storage.AccessTokenRepository
	RefreshTokens storage.RefreshTokenRepository

	// ClockSkew is tolerated on the code expiry.
	ClockSkew time.Duration

	Auditor *security.Auditor
	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// AuthorizationCode exchanges an authorization code for tokens.
type AuthorizationCode struct {
	cfg AuthorizationCodeConfig
}

// NewAuthorizationCode creates the grant.
func NewAuthorizationCode(cfg AuthorizationCodeConfig) *AuthorizationCode {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &AuthorizationCode{cfg: cfg}
}

// Name implements GrantType.
func (*AuthorizationCode) Name() string { return TypeAuthorizationCode }

// CheckRequest implements GrantType.
func (*AuthorizationCode) CheckRequest(r *http.Request) error {
	if r.PostForm.Get(ParamCode) == "" {
		return oautherr.InvalidRequest("Missing code parameter").ForParameter(ParamCode)
	}
	return nil
}

// PrepareResponse implements GrantType.
func (*AuthorizationCode) PrepareResponse(context.Context, *http.Request, *Data) error { return nil }

// Grant implements GrantType. The code is marked used only once every other
// check passed, so a failed attempt by the rightful client can be retried.
func (g *AuthorizationCode) Grant(ctx context.Context, _ *http.Request, data *Data) error {
	client := data.Client()
	code, err := g.cfg.Codes.Find(ctx, data.Param(ParamCode))
	if errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
		g.reject(data, "unknown_authorization_code")
		return oautherr.InvalidGrant("The authorization code is invalid")
	}
	if err != nil {
		return fmt.Errorf("failed to load authorization code: %w", err)
	}

	// Checked first so a stranger cannot trigger the reuse revocation.
	if code.ClientID() != client.ID() {
		g.cfg.Logger.Debug("Authorization code validation failed",
			"reason", "client_id_mismatch",
			"client_id", client.ID(),
			"code", util.SafeTruncate(code.ID(), 8))
		g.reject(data, "client_id_mismatch")
		return oautherr.InvalidGrant("The authorization code was issued to another client")
	}

	if code.IsUsed() {
		return g.reused(ctx, data, code)
	}
	if code.IsRevoked() {
		g.reject(data, "authorization_code_revoked")
		return oautherr.InvalidGrant("The authorization code was revoked")
	}
	if code.IsExpired(g.cfg.Now(), g.cfg.ClockSkew) {
		g.reject(data, "authorization_code_expired")
		return oautherr.InvalidGrant("The authorization code has expired")
	}

	if data.Param(ParamRedirectURI) != code.RedirectURI() {
		g.cfg.Logger.Debug("Authorization code validation failed",
			"reason", "redirect_uri_mismatch",
			"client_id", client.ID(),
			"code", util.SafeTruncate(code.ID(), 8))
		g.reject(data, "redirect_uri_mismatch")
		return oautherr.InvalidGrant("The redirect_uri does not match the authorization request")
	}

	method := code.QueryParameter("code_challenge_method")
	if err := pkce.Verify(code.QueryParameter("code_challenge"), method, data.Param(ParamCodeVerifier)); err != nil {
		g.cfg.Auditor.LogEvent(security.Event{
			Type:      security.EventPKCEValidationFailed,
			UserID:    code.ResourceOwnerID(),
			ClientID:  client.ID(),
			IPAddress: data.ClientIP(),
			Details:   map[string]any{"reason": err.Error()},
		})
		g.cfg.Metrics.RecordPKCEValidationFailed(ctx, pkce.Method(method))
		return oautherr.InvalidGrant(fmt.Sprintf("PKCE verification failed: %v", err)).ForParameter(ParamCodeVerifier)
	}

	// The token IDs are recorded in the same step that consumes the code, so
	// a concurrent reuse always knows what to revoke.
	accessTokenID, refreshTokenID := storage.NewTokenID(), storage.NewTokenID()
	used, err := g.cfg.Codes.MarkUsed(ctx, code.ID(), accessTokenID, refreshTokenID)
	if errors.Is(err, storage.ErrAuthorizationCodeUsed) {
		// Lost a race against a concurrent exchange.
		return g.reused(ctx, data, used)
	}
	if err != nil {
		return fmt.Errorf("failed to mark authorization code used: %w", err)
	}

	data.SetResourceOwnerID(used.ResourceOwnerID())
	data.SetScope(used.Scope())
	for k, v := range used.Parameters() {
		data.Parameters()[k] = v
	}
	for k, v := range used.Metadata() {
		data.Metadata()[k] = v
	}
	data.SetRefreshEligible(true)
	data.ReserveTokenIDs(accessTokenID, refreshTokenID)
	data.SetAttribute(attrAuthorizationCode, used)
	return nil
}

// TokensIssued implements TokensIssuedObserver. A reuse of the code that
// raced with this exchange may have found the reserved IDs before the
// tokens existed; it leaves the code revoked, and the new tokens are
// revoked here.
func (g *AuthorizationCode) TokensIssued(ctx context.Context, data *Data, resp *Response) error {
	v, ok := data.Attribute(attrAuthorizationCode)
	if !ok {
		return nil
	}
	code := v.(*storage.AuthorizationCode)

	stored, err := g.cfg.Codes.Find(ctx, code.ID())
	if err != nil && !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
		return fmt.Errorf("failed to reload authorization code: %w", err)
	}
	if err == nil && !stored.IsRevoked() {
		return nil
	}

	ids := []string{resp.AccessToken.ID()}
	if resp.RefreshToken != nil {
		ids = append(ids, resp.RefreshToken.ID())
	}
	if _, err := revokeIssued(ctx, g.cfg.AccessTokens, g.cfg.RefreshTokens, ids); err != nil {
		return err
	}
	return oautherr.InvalidGrant("The authorization code has already been used")
}

// reused handles a second exchange of the same code: the code is revoked,
// everything issued from it is revoked and the request fails.
func (g *AuthorizationCode) reused(ctx context.Context, data *Data, code *storage.AuthorizationCode) error {
	if !code.IsRevoked() {
		code.Revoke()
		if err := g.cfg.Codes.Save(ctx, code); err != nil {
			g.cfg.Logger.Error("Failed to revoke reused authorization code", "error", err)
		}
	}
	revoked, err := revokeIssued(ctx, g.cfg.AccessTokens, g.cfg.RefreshTokens, code.IssuedTokenIDs())
	if err != nil {
		g.cfg.Logger.Error("Failed to revoke tokens after code reuse detection", "error", err)
	}

	g.cfg.Logger.Error("Authorization code reuse detected, revoking issued tokens",
		"client_id", code.ClientID(),
		"code", util.SafeTruncate(code.ID(), 8),
		"revoked", revoked)
	g.cfg.Auditor.LogCodeReuse(code.ResourceOwnerID(), code.ClientID(), data.ClientIP(), revoked)
	g.cfg.Metrics.RecordCodeReuseDetected(ctx)

	return oautherr.InvalidGrant("The authorization code has already been used")
}

func (g *AuthorizationCode) reject(data *Data, reason string) {
	g.cfg.Auditor.LogAuthFailure("", data.Client().ID(), data.ClientIP(), reason)
}

// revokeIssued revokes the access and refresh tokens listed in ids,
// including the access tokens spawned by those refresh tokens. It returns
// how many tokens it revoked.
func revokeIssued(ctx context.Context, accessTokens storage.AccessTokenRepository, refreshTokens storage.RefreshTokenRepository, ids []string) (int, error) {
	revoked := 0
	for _, id := range ids {
		at, err := accessTokens.Find(ctx, id)
		switch {
		case err == nil:
			if !at.IsRevoked() {
				at.Revoke()
				if err := accessTokens.Save(ctx, at); err != nil {
					return revoked, fmt.Errorf("failed to revoke access token: %w", err)
				}
				revoked++
			}
			continue
		case !errors.Is(err, storage.ErrTokenNotFound):
			return revoked, fmt.Errorf("failed to load access token: %w", err)
		}

		rt, err := refreshTokens.Consume(ctx, id)
		switch {
		case errors.Is(err, storage.ErrTokenNotFound):
			continue
		case err == nil:
			revoked++
		case !errors.Is(err, storage.ErrTokenRevoked):
			return revoked, fmt.Errorf("failed to revoke refresh token: %w", err)
		}
		if err := token.RevokeAccessTokens(ctx, accessTokens, rt.AccessTokenIDs()); err != nil {
			return revoked, err
		}
	}
	return revoked, nil
}
