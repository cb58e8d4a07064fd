package grant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/giantswarm/oauth-engine/oautherr"
	"github.com/giantswarm/oauth-engine/providers"
	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/security"
)

// Form parameters of the password grant.
const (
	ParamUsername = "username"
	ParamPassword = "password"
)

// PasswordConfig configures Password.
type PasswordConfig struct {
	Accounts providers.AccountProvider
	Scopes   *scope.Validator

	// AllowPublicClients lets clients without credentials use the grant.
	AllowPublicClients bool

	// IssueRefreshTokens makes the grant eligible for refresh tokens.
	IssueRefreshTokens bool

	Auditor *security.Auditor
	Logger  *slog.Logger
	Now     func() time.Time
}

// Password implements the resource owner password credentials grant.
type Password struct {
	cfg PasswordConfig
}

// NewPassword creates the grant.
func NewPassword(cfg PasswordConfig) *Password {
	if cfg.Scopes == nil {
		cfg.Scopes = scope.NewValidator(nil, nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Password{cfg: cfg}
}

// Name implements GrantType.
func (*Password) Name() string { return TypePassword }

// CheckRequest implements GrantType.
func (*Password) CheckRequest(r *http.Request) error {
	if r.PostForm.Get(ParamUsername) == "" {
		return oautherr.InvalidRequest("Missing username parameter").ForParameter(ParamUsername)
	}
	if r.PostForm.Get(ParamPassword) == "" {
		return oautherr.InvalidRequest("Missing password parameter").ForParameter(ParamPassword)
	}
	return nil
}

// PrepareResponse implements GrantType.
func (*Password) PrepareResponse(context.Context, *http.Request, *Data) error { return nil }

// Grant implements GrantType.
func (g *Password) Grant(ctx context.Context, _ *http.Request, data *Data) error {
	client := data.Client()
	if client.IsPublic() && !g.cfg.AllowPublicClients {
		return oautherr.UnauthorizedClient("Public clients may not use the password grant")
	}

	user, err := g.cfg.Accounts.Authenticate(ctx, data.Param(ParamUsername), data.Param(ParamPassword))
	if errors.Is(err, providers.ErrInvalidCredentials) {
		g.cfg.Auditor.LogAuthFailure("", client.ID(), data.ClientIP(), "invalid_resource_owner_credentials")
		return oautherr.InvalidGrant("The resource owner credentials are invalid")
	}
	if err != nil {
		return fmt.Errorf("failed to authenticate resource owner: %w", err)
	}

	granted, err := g.cfg.Scopes.Validate(client, data.Param(ParamScope))
	if err != nil {
		return err
	}

	data.SetResourceOwnerID(user.ID)
	data.SetScope(granted)
	data.Metadata()[MetadataAuthTime] = strconv.FormatInt(g.cfg.Now().Unix(), 10)
	data.SetRefreshEligible(g.cfg.IssueRefreshTokens)

	g.cfg.Logger.Debug("Resource owner authenticated with password grant", "client_id", client.ID())
	return nil
}
