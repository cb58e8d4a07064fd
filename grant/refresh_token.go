package grant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/oautherr"
	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/token"
)

// ParamRefreshToken is the refresh_token form parameter.
const ParamRefreshToken = "refresh_token"

// RefreshTokenConfig configures RefreshToken.
type RefreshTokenConfig struct {
	RefreshTokens storage.RefreshTokenRepository
	AccessTokens  storage.AccessTokenRepository

	// DisableRotation keeps the presented refresh token usable and links
	// new access tokens to it. By default every refresh revokes the
	// presented token and issues a new one (OAuth 2.1 section 4.3.1).
	DisableRotation bool

	ClockSkew time.Duration

	Auditor *security.Auditor
	Logger  *slog.Logger
	Now     func() time.Time
}

// RefreshToken exchanges a refresh token for a new access token.
type RefreshToken struct {
	cfg RefreshTokenConfig
}

// NewRefreshToken creates the grant.
func NewRefreshToken(cfg RefreshTokenConfig) *RefreshToken {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RefreshToken{cfg: cfg}
}

// Name implements GrantType.
func (*RefreshToken) Name() string { return TypeRefreshToken }

// CheckRequest implements GrantType.
func (*RefreshToken) CheckRequest(r *http.Request) error {
	if r.PostForm.Get(ParamRefreshToken) == "" {
		return oautherr.InvalidRequest("Missing refresh_token parameter").ForParameter(ParamRefreshToken)
	}
	return nil
}

// PrepareResponse implements GrantType.
func (*RefreshToken) PrepareResponse(context.Context, *http.Request, *Data) error { return nil }

// Grant implements GrantType.
func (g *RefreshToken) Grant(ctx context.Context, _ *http.Request, data *Data) error {
	client := data.Client()
	rt, err := g.cfg.RefreshTokens.Find(ctx, data.Param(ParamRefreshToken))
	if errors.Is(err, storage.ErrTokenNotFound) {
		g.cfg.Auditor.LogAuthFailure("", client.ID(), data.ClientIP(), "unknown_refresh_token")
		return oautherr.InvalidGrant("The refresh token is invalid")
	}
	if err != nil {
		return fmt.Errorf("failed to load refresh token: %w", err)
	}

	if rt.ClientID() != client.ID() {
		g.cfg.Logger.Debug("Refresh token validation failed",
			"reason", "client_id_mismatch",
			"client_id", client.ID(),
			"token", util.SafeTruncate(rt.ID(), 8))
		g.cfg.Auditor.LogAuthFailure(rt.ResourceOwnerID(), client.ID(), data.ClientIP(), "refresh_token_client_mismatch")
		return oautherr.InvalidGrant("The refresh token was issued to another client")
	}

	if rt.IsRevoked() {
		return g.replayed(ctx, data, rt)
	}
	if rt.IsExpired(g.cfg.Now(), g.cfg.ClockSkew) {
		return oautherr.InvalidGrant("The refresh token has expired")
	}

	original := rt.Scope()
	granted := original
	if raw := data.Param(ParamScope); raw != "" {
		if !scope.ValidSyntax(raw) {
			return oautherr.InvalidScope("The scope parameter contains invalid characters")
		}
		requested := scope.Parse(raw)
		if !scope.IsSubset(requested, original) {
			return oautherr.InvalidScope("The requested scope exceeds the scope originally granted")
		}
		granted = requested
	}

	data.SetResourceOwnerID(rt.ResourceOwnerID())
	data.SetScope(granted)
	data.SetRefreshScope(original)
	for k, v := range rt.Parameters() {
		data.Parameters()[k] = v
	}
	for k, v := range rt.Metadata() {
		data.Metadata()[k] = v
	}

	if g.cfg.DisableRotation {
		data.ReuseRefreshToken(rt)
	} else {
		consumed, err := g.cfg.RefreshTokens.Consume(ctx, rt.ID())
		switch {
		case errors.Is(err, storage.ErrTokenRevoked):
			// Lost a race against a concurrent refresh or a revocation.
			return g.replayed(ctx, data, consumed)
		case errors.Is(err, storage.ErrTokenNotFound):
			return oautherr.InvalidGrant("The refresh token is invalid")
		case err != nil:
			return fmt.Errorf("failed to revoke rotated refresh token: %w", err)
		}
		// The access tokens of the rotated token go with it.
		if err := token.RevokeAccessTokens(ctx, g.cfg.AccessTokens, consumed.AccessTokenIDs()); err != nil {
			g.cfg.Logger.Error("Failed to revoke access tokens of a rotated refresh token", "error", err)
		}
		data.ForceRefresh()
	}

	g.cfg.Auditor.LogEvent(security.Event{
		Type:      security.EventTokenRefreshed,
		UserID:    rt.ResourceOwnerID(),
		ClientID:  client.ID(),
		IPAddress: data.ClientIP(),
		Details: map[string]any{
			"scope":   scope.Format(granted),
			"rotated": !g.cfg.DisableRotation,
		},
	})
	return nil
}

// TokensIssued implements TokensIssuedObserver. Without rotation the new
// access token hangs off the presented refresh token; if that token was
// revoked while the request was in flight, the new access token is revoked
// as well and the request fails.
func (g *RefreshToken) TokensIssued(ctx context.Context, data *Data, resp *Response) error {
	if !g.cfg.DisableRotation {
		return nil
	}
	rt, err := g.cfg.RefreshTokens.Find(ctx, resp.AccessToken.RefreshTokenID())
	if err != nil && !errors.Is(err, storage.ErrTokenNotFound) {
		return fmt.Errorf("failed to reload refresh token: %w", err)
	}
	if err == nil && !rt.IsRevoked() {
		return nil
	}
	if err := token.RevokeAccessTokens(ctx, g.cfg.AccessTokens, []string{resp.AccessToken.ID()}); err != nil {
		return err
	}
	g.cfg.Auditor.LogAuthFailure(data.ResourceOwnerID(), data.Client().ID(), data.ClientIP(), "refresh_token_revoked")
	return oautherr.InvalidGrant("The refresh token was revoked")
}

// replayed handles a refresh token presented after it was revoked. Such a
// token may have been stolen, so whatever it still backs goes too.
func (g *RefreshToken) replayed(ctx context.Context, data *Data, rt *storage.RefreshToken) error {
	if err := token.RevokeAccessTokens(ctx, g.cfg.AccessTokens, rt.AccessTokenIDs()); err != nil {
		g.cfg.Logger.Error("Failed to revoke access tokens of a replayed refresh token", "error", err)
	}
	g.cfg.Logger.Warn("Revoked refresh token presented",
		"client_id", data.Client().ID(),
		"token", util.SafeTruncate(rt.ID(), 8))
	g.cfg.Auditor.LogAuthFailure(rt.ResourceOwnerID(), data.Client().ID(), data.ClientIP(), "refresh_token_revoked")
	return oautherr.InvalidGrant("The refresh token was revoked")
}
