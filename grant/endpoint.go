package grant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oauth-engine/clientauth"
	"github.com/giantswarm/oauth-engine/instrumentation"
	"github.com/giantswarm/oauth-engine/oautherr"
	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/token"
)

// ParamGrantType is the form parameter naming the grant.
const ParamGrantType = "grant_type"

// EndpointConfig configures an Endpoint.
type EndpointConfig struct {
	Grants     *Registry
	ClientAuth *clientauth.Manager
	TokenTypes *token.Registry
	Issuer     *token.Issuer

	Before *BeforeChain
	After  *AfterChain

	// RequireOfflineAccess only issues refresh tokens when the granted
	// scope includes offline_access.
	RequireOfflineAccess bool

	// IssuerURL enables HSTS on responses when it is an https URL.
	IssuerURL string

	// RateLimiter throttles token requests per client IP. Nil disables it.
	RateLimiter       *security.RateLimiter
	TrustProxy        bool
	TrustedProxyCount int

	Auditor *security.Auditor
	Metrics *instrumentation.Metrics
	Tracer  trace.Tracer
	Logger  *slog.Logger
	Now     func() time.Time
}

// Endpoint is the token endpoint.
type Endpoint struct {
	cfg EndpointConfig
}

// NewEndpoint creates the token endpoint.
func NewEndpoint(cfg EndpointConfig) *Endpoint {
	if cfg.Grants == nil {
		cfg.Grants = NewRegistry()
	}
	if cfg.TokenTypes == nil {
		cfg.TokenTypes = token.NewRegistry()
	}
	if cfg.Before == nil {
		cfg.Before = NewBeforeChain()
	}
	if cfg.After == nil {
		cfg.After = NewAfterChain()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Endpoint{cfg: cfg}
}

// ServeHTTP implements http.Handler.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.Token(w, r)
}

// Token handles a token request and writes the JSON response.
func (e *Endpoint) Token(w http.ResponseWriter, r *http.Request) {
	ctx, span := e.cfg.Tracer.Start(r.Context(), "token.request")
	defer span.End()

	security.SetSecurityHeaders(w, e.cfg.IssuerURL)

	clientIP := security.GetClientIP(r, e.cfg.TrustProxy, e.cfg.TrustedProxyCount)
	if !e.cfg.RateLimiter.Allow(clientIP) {
		e.cfg.Auditor.LogRateLimitExceeded(clientIP, "")
		e.cfg.Metrics.RecordRateLimitExceeded(ctx, "token_ip")
		e.fail(ctx, w, "", oautherr.SlowDown("Too many token requests"))
		return
	}

	if r.Method != http.MethodPost {
		e.fail(ctx, w, "", oautherr.InvalidRequest("The token endpoint only accepts POST"))
		return
	}
	if err := r.ParseForm(); err != nil {
		e.fail(ctx, w, "", oautherr.InvalidRequest("The request body could not be parsed").Wrap(err))
		return
	}

	name := r.PostForm.Get(ParamGrantType)
	span.SetAttributes(attribute.String("oauth.grant_type", name))

	data := newData(name, r.PostForm, clientIP)
	resp, err := e.process(ctx, r, data)
	if err != nil {
		e.fail(ctx, w, name, err)
		return
	}

	client := data.Client()
	instrumentation.AddOAuthFlowAttributes(span, client.ID(), data.ResourceOwnerID(), scope.Format(data.Scope()))
	instrumentation.SetSpanSuccess(span)
	e.cfg.Metrics.RecordTokenIssued(ctx, name, resp.RefreshToken != nil)
	e.cfg.Auditor.LogTokenIssued(data.ResourceOwnerID(), client.ID(), clientIP, name, scope.Format(data.Scope()))
	e.cfg.Logger.Info("Token issued",
		"grant_type", name,
		"client_id", client.ID(),
		"refresh_token", resp.RefreshToken != nil)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp.Payload()); err != nil {
		e.cfg.Logger.Error("Failed to write token response", "error", err)
	}
}

// process runs the request through the grant and the extension chains.
func (e *Endpoint) process(ctx context.Context, r *http.Request, data *Data) (*Response, error) {
	if data.GrantType() == "" {
		return nil, oautherr.InvalidRequest("Missing grant_type parameter").ForParameter(ParamGrantType)
	}
	g, ok := e.cfg.Grants.Get(data.GrantType())
	if !ok {
		return nil, oautherr.InvalidRequest(fmt.Sprintf("Unsupported grant type %q", data.GrantType())).ForParameter(ParamGrantType)
	}
	if only, ok := g.(authorizationEndpointOnly); ok && only.AuthorizationEndpointOnly() {
		return nil, oautherr.InvalidRequest(fmt.Sprintf("Grant type %q is not available at the token endpoint", g.Name())).ForParameter(ParamGrantType)
	}

	if err := g.CheckRequest(r); err != nil {
		return nil, err
	}
	if err := g.PrepareResponse(ctx, r, data); err != nil {
		return nil, err
	}

	if data.Client() == nil {
		if e.cfg.ClientAuth == nil {
			return nil, errors.New("no client authentication configured")
		}
		client, _, err := e.cfg.ClientAuth.AuthenticateRequest(ctx, r)
		if err != nil {
			e.cfg.Metrics.RecordClientAuthFailure(ctx, data.GrantType())
			return nil, err
		}
		data.SetClient(client)
	}

	client := data.Client()
	if client.IsDeleted() {
		return nil, oautherr.InvalidClient("Client authentication failed")
	}
	if !client.HasGrantType(g.Name()) {
		return nil, oautherr.UnauthorizedClient(fmt.Sprintf("The client may not use the %s grant", g.Name()))
	}

	tt, err := e.cfg.TokenTypes.ForClient(client, data.Param(token.ParamTokenType))
	if err != nil {
		return nil, err
	}
	data.tokenType = tt

	if err := e.cfg.Before.Run(ctx, data); err != nil {
		return nil, err
	}
	if err := g.Grant(ctx, r, data); err != nil {
		return nil, err
	}

	resp, err := e.issue(ctx, data)
	if err != nil {
		return nil, err
	}

	if obs, ok := g.(TokensIssuedObserver); ok {
		if err := obs.TokensIssued(ctx, data, resp); err != nil {
			return nil, err
		}
	}
	if err := e.cfg.After.Run(ctx, data, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// issue creates the access token and, when wanted, a refresh token.
func (e *Endpoint) issue(ctx context.Context, data *Data) (*Response, error) {
	params := token.IssueParams{
		ID:              data.accessTokenID,
		ClientID:        data.Client().ID(),
		ResourceOwnerID: data.ResourceOwnerID(),
		Scope:           data.Scope(),
		TokenType:       data.TokenType().Name(),
		Parameters:      data.Parameters(),
		Metadata:        data.Metadata(),
	}

	resp := newResponse()
	rt := data.refreshToken
	if rt == nil && e.wantsRefresh(data) {
		rtParams := params
		rtParams.ID = data.refreshTokenID
		if data.refreshScope != nil {
			rtParams.Scope = data.refreshScope
		}
		var err error
		if rt, err = e.cfg.Issuer.IssueRefreshToken(ctx, rtParams); err != nil {
			return nil, err
		}
		resp.RefreshToken = rt
	}

	at, err := e.cfg.Issuer.IssueAccessToken(ctx, params, rt)
	if err != nil {
		return nil, err
	}
	resp.AccessToken = at

	resp.Set("access_token", at.ID())
	resp.Set("token_type", data.TokenType().Name())
	resp.Set("expires_in", e.cfg.Issuer.ExpiresIn(at))
	if resp.RefreshToken != nil {
		resp.Set("refresh_token", resp.RefreshToken.ID())
	}
	if len(data.Scope()) > 0 {
		resp.Set("scope", scope.Format(data.Scope()))
	}
	for k, v := range data.TokenType().ResponseParameters(at) {
		resp.Set(k, v)
	}
	return resp, nil
}

func (e *Endpoint) wantsRefresh(data *Data) bool {
	if data.forceRefresh {
		return true
	}
	if !data.refreshEligible || !data.Client().HasGrantType(TypeRefreshToken) {
		return false
	}
	return !e.cfg.RequireOfflineAccess || scope.Contains(data.Scope(), scope.OfflineAccess)
}

func (e *Endpoint) fail(ctx context.Context, w http.ResponseWriter, grantType string, err error) {
	oe := oautherr.From(err)
	span := trace.SpanFromContext(ctx)
	instrumentation.RecordError(span, err)
	instrumentation.AddOAuthErrorAttributes(span, oe.Code, oe.Description)
	e.cfg.Metrics.RecordTokenError(ctx, grantType, oe.Code)

	if oe.Status >= http.StatusInternalServerError {
		e.cfg.Logger.Error("Token request failed", "grant_type", grantType, "error", err)
	} else {
		e.cfg.Logger.Debug("Token request rejected", "grant_type", grantType, "error", oe.Code, "description", oe.Description)
	}
	oautherr.WriteJSON(w, oe)
}
