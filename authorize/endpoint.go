package authorize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oauth-engine/instrumentation"
	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/oautherr"
	"github.com/giantswarm/oauth-engine/providers"
	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

// DefaultSessionTTL bounds how long a request waits for login and consent.
const DefaultSessionTTL = 10 * time.Minute

// UserDiscovery finds the resource owner behind an HTTP request, typically
// from a session cookie. It returns a nil user when nobody is logged in.
type UserDiscovery interface {
	CurrentUser(r *http.Request) (user *providers.UserInfo, authTime time.Time, err error)
}

// UserDiscoveryFunc adapts a function to UserDiscovery.
type UserDiscoveryFunc func(r *http.Request) (*providers.UserInfo, time.Time, error)

// CurrentUser implements UserDiscovery.
func (f UserDiscoveryFunc) CurrentUser(r *http.Request) (*providers.UserInfo, time.Time, error) {
	return f(r)
}

// LoginHandler takes over when the resource owner must authenticate. Once
// done, the login UI sends the user agent back to the authorization endpoint
// with the authorization_id parameter set to req.ID().
type LoginHandler interface {
	HandleLogin(w http.ResponseWriter, r *http.Request, req *Request)
}

// LoginHandlerFunc adapts a function to LoginHandler.
type LoginHandlerFunc func(w http.ResponseWriter, r *http.Request, req *Request)

// HandleLogin implements LoginHandler.
func (f LoginHandlerFunc) HandleLogin(w http.ResponseWriter, r *http.Request, req *Request) {
	f(w, r, req)
}

// ConsentHandler renders the consent UI. The decision is recorded with
// Endpoint.Decide before the user agent returns with authorization_id.
type ConsentHandler interface {
	HandleConsent(w http.ResponseWriter, r *http.Request, req *Request)
}

// ConsentHandlerFunc adapts a function to ConsentHandler.
type ConsentHandlerFunc func(w http.ResponseWriter, r *http.Request, req *Request)

// HandleConsent implements ConsentHandler.
func (f ConsentHandlerFunc) HandleConsent(w http.ResponseWriter, r *http.Request, req *Request) {
	f(w, r, req)
}

// ConsentPolicy may approve a request without asking the resource owner.
type ConsentPolicy interface {
	PreApproved(ctx context.Context, req *Request) (bool, error)
}

// FirstPartyConsent pre-approves clients registered as first party.
type FirstPartyConsent struct{}

// PreApproved implements ConsentPolicy.
func (FirstPartyConsent) PreApproved(_ context.Context, req *Request) (bool, error) {
	return req.Client().IsFirstParty(), nil
}

// EndpointConfig configures an Endpoint.
type EndpointConfig struct {
	Loader        *Loader
	Checkers      *Chain
	ResponseTypes *ResponseTypeRegistry
	ResponseModes *ResponseModeRegistry

	Clients    storage.ClientRepository
	Sessions   storage.SessionStore
	SessionTTL time.Duration

	Users         UserDiscovery
	Login         LoginHandler
	Consent       ConsentHandler
	ConsentPolicy ConsentPolicy

	// Issuer is added as the iss response parameter (RFC 9207) when
	// IssuerResponseParameter is set.
	Issuer                  string
	IssuerResponseParameter bool

	Auditor *security.Auditor
	Metrics *instrumentation.Metrics
	Tracer  trace.Tracer
	Logger  *slog.Logger
	Now     func() time.Time
}

// Endpoint is the authorization endpoint.
type Endpoint struct {
	cfg EndpointConfig
}

// NewEndpoint creates the authorization endpoint.
func NewEndpoint(cfg EndpointConfig) *Endpoint {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.Checkers == nil {
		cfg.Checkers = NewChain()
	}
	if cfg.ResponseModes == nil {
		cfg.ResponseModes = DefaultResponseModes(cfg.Issuer)
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
	e.Authorize(w, r)
}

// Authorize handles a fresh authorization request, or resumes a pending one
// when the authorization_id parameter is present.
func (e *Endpoint) Authorize(w http.ResponseWriter, r *http.Request) {
	ctx, span := e.cfg.Tracer.Start(r.Context(), "authorize.request")
	defer span.End()

	security.SetSecurityHeaders(w, e.cfg.Issuer)

	params, err := RequestParams(r)
	if err != nil {
		e.fail(ctx, w, nil, err)
		return
	}

	var req *Request
	if id := params.Get(ParamAuthorizationID); id != "" {
		if req, err = e.load(ctx, id); err != nil {
			e.fail(ctx, w, nil, err)
			return
		}
	} else {
		if req, err = e.cfg.Loader.LoadParams(ctx, params); err != nil {
			e.fail(ctx, w, nil, err)
			return
		}
		if err := e.cfg.Checkers.Run(ctx, req); err != nil {
			e.fail(ctx, w, req, err)
			return
		}
		req.id = uuid.NewString()
	}

	span.SetAttributes(
		attribute.String("oauth.client_id", req.Client().ID()),
		attribute.String("oauth.response_type", req.ResponseType().Name()),
	)
	e.proceed(ctx, w, r, req)
}

// proceed runs the login, consent and process steps.
func (e *Endpoint) proceed(ctx context.Context, w http.ResponseWriter, r *http.Request, req *Request) {
	var (
		user     *providers.UserInfo
		authTime time.Time
	)
	if e.cfg.Users != nil {
		var err error
		if user, authTime, err = e.cfg.Users.CurrentUser(r); err != nil {
			e.fail(ctx, w, req, fmt.Errorf("failed to discover user: %w", err))
			return
		}
	}

	if prev := req.User(); prev != nil && user != nil && prev.ID != user.ID && req.Consent() != ConsentNotGiven {
		e.fail(ctx, w, req, oautherr.AccessDenied("The consent decision was made by another user"))
		return
	}

	if e.needsLogin(req, user, authTime) {
		if req.HasPrompt(PromptNone) {
			e.fail(ctx, w, req, oautherr.LoginRequired("The user is not authenticated"))
			return
		}
		if e.cfg.Login == nil {
			e.fail(ctx, w, req, oautherr.InteractionRequired("Login is required but no login handler is configured"))
			return
		}
		if err := e.save(ctx, req); err != nil {
			e.fail(ctx, w, req, err)
			return
		}
		e.cfg.Metrics.RecordAuthorizationRequest(ctx, req.ResponseType().Name(), "login")
		e.cfg.Login.HandleLogin(w, r, req)
		return
	}
	req.SetUser(user, authTime)

	if req.Consent() == ConsentNotGiven {
		approved, err := e.preApproved(ctx, req)
		if err != nil {
			e.fail(ctx, w, req, err)
			return
		}
		switch {
		case approved:
			_ = req.Allow()
		case req.HasPrompt(PromptNone):
			e.fail(ctx, w, req, oautherr.ConsentRequired("The user has not consented to this client"))
			return
		case e.cfg.Consent == nil:
			e.fail(ctx, w, req, oautherr.ConsentRequired("Consent is required but no consent handler is configured"))
			return
		default:
			if err := e.save(ctx, req); err != nil {
				e.fail(ctx, w, req, err)
				return
			}
			e.cfg.Metrics.RecordAuthorizationRequest(ctx, req.ResponseType().Name(), "consent")
			e.cfg.Consent.HandleConsent(w, r, req)
			return
		}
	}

	e.process(ctx, w, req)
}

func (e *Endpoint) needsLogin(req *Request, user *providers.UserInfo, authTime time.Time) bool {
	if user == nil {
		return true
	}

	// A login that happened after the request arrived satisfies prompt and max_age.
	freshLogin := !authTime.IsZero() && !authTime.Before(req.CreatedAt().Truncate(time.Second))
	if freshLogin {
		return false
	}
	if req.HasPrompt(PromptLogin) || req.HasPrompt(PromptSelectAccount) {
		return true
	}
	if raw := req.Param(ParamMaxAge); raw != "" {
		maxAge, err := strconv.ParseInt(raw, 10, 64)
		if err == nil && (authTime.IsZero() || e.cfg.Now().Sub(authTime) > time.Duration(maxAge)*time.Second) {
			return true
		}
	}
	return false
}

func (e *Endpoint) preApproved(ctx context.Context, req *Request) (bool, error) {
	if e.cfg.ConsentPolicy == nil || req.HasPrompt(PromptConsent) {
		return false, nil
	}
	return e.cfg.ConsentPolicy.PreApproved(ctx, req)
}

func (e *Endpoint) process(ctx context.Context, w http.ResponseWriter, req *Request) {
	e.remove(ctx, req)

	if req.Consent() == ConsentDeny {
		e.fail(ctx, w, req, oautherr.AccessDenied("The resource owner denied the request"))
		return
	}

	if err := req.ResponseType().Process(ctx, req); err != nil {
		e.fail(ctx, w, req, err)
		return
	}

	e.cfg.Metrics.RecordAuthorizationRequest(ctx, req.ResponseType().Name(), "issued")
	e.cfg.Logger.Info("Authorization granted",
		"client_id", req.Client().ID(),
		"response_type", req.ResponseType().Name(),
		"scope", scope.Format(req.Scope()))

	if err := e.respond(w, req, req.ResponseMode(), req.ResponseParams()); err != nil {
		e.cfg.Logger.Error("Failed to write authorization response", "error", err)
	}
}

// respond adds state and iss and hands the parameters to mode.
func (e *Endpoint) respond(w http.ResponseWriter, req *Request, mode ResponseMode, params url.Values) error {
	if state := req.State(); state != "" {
		params.Set(ParamState, state)
	}
	if e.cfg.IssuerResponseParameter && e.cfg.Issuer != "" {
		params.Set("iss", e.cfg.Issuer)
	}
	return mode.Respond(w, req.RedirectURI(), params, req.Headers())
}

// fail renders err. Before the redirect URI is verified the error is written
// directly; afterwards it is delivered through the response mode.
func (e *Endpoint) fail(ctx context.Context, w http.ResponseWriter, req *Request, err error) {
	oe := oautherr.From(err)
	span := trace.SpanFromContext(ctx)
	instrumentation.RecordError(span, err)
	instrumentation.AddOAuthErrorAttributes(span, oe.Code, oe.Description)

	outcome := "error"
	if oe.Code == oautherr.CodeAccessDenied {
		outcome = "denied"
	}

	rtName := ""
	if req != nil && req.ResponseType() != nil {
		rtName = req.ResponseType().Name()
	}
	e.cfg.Metrics.RecordAuthorizationRequest(ctx, rtName, outcome)

	if oe.Status >= http.StatusInternalServerError {
		e.cfg.Logger.Error("Authorization request failed", "error", err)
	} else {
		e.cfg.Logger.Debug("Authorization request rejected", "error", oe.Code, "description", oe.Description)
	}

	if req == nil || !req.IsRedirectURIVerified() {
		oautherr.WriteJSON(w, oe)
		return
	}

	if req.ID() != "" {
		e.remove(ctx, req)
	}

	mode := req.ResponseMode()
	if mode == nil {
		mode = e.cfg.ResponseModes.defaultMode(returnsTokens(req.Param(ParamResponseType)))
	}

	params := url.Values{}
	for k, v := range oe.Params() {
		params.Set(k, v)
	}
	req.resetResponse()
	if err := e.respond(w, req, mode, params); err != nil {
		e.cfg.Logger.Error("Failed to write authorization error", "error", err)
	}
}

// returnsTokens guesses from a raw response_type whether the response
// carries tokens, for requests that failed before the type was resolved.
func returnsTokens(raw string) bool {
	for _, p := range strings.Fields(raw) {
		if p == ResponseTypeToken || p == ResponseTypeIDToken {
			return true
		}
	}
	return false
}

// Decide records the resource owner's consent decision on a pending request.
func (e *Endpoint) Decide(ctx context.Context, id string, allow bool) error {
	req, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	if req.User() == nil {
		return oautherr.InvalidRequest("The authorization request has no authenticated user")
	}
	return e.decide(ctx, req, allow)
}

// DecideFor records the decision posted by the user agent behind r. The
// user is discovered again and must be the one the request was bound to.
func (e *Endpoint) DecideFor(r *http.Request, id string, allow bool) error {
	ctx := r.Context()
	req, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	bound := req.User()
	if bound == nil {
		return oautherr.InvalidRequest("The authorization request has no authenticated user")
	}
	if e.cfg.Users == nil {
		return oautherr.AccessDenied("The consent decision cannot be attributed to a user")
	}

	user, _, err := e.cfg.Users.CurrentUser(r)
	if err != nil {
		return fmt.Errorf("failed to discover user: %w", err)
	}
	if user == nil || user.ID != bound.ID {
		e.cfg.Logger.Warn("Consent decision from a different user rejected",
			"authorization_id", util.SafeTruncate(id, 8),
			"client_id", req.Client().ID())
		return oautherr.AccessDenied("The consent decision was made by another user")
	}
	return e.decide(ctx, req, allow)
}

func (e *Endpoint) decide(ctx context.Context, req *Request, allow bool) error {
	var err error
	if allow {
		err = req.Allow()
	} else {
		err = req.Deny()
	}
	if errors.Is(err, ErrConsentAlreadyGiven) {
		return oautherr.InvalidRequest("A decision was already recorded for this authorization request")
	}

	e.cfg.Auditor.LogConsentDecision(req.User().ID, req.Client().ID(), scope.Format(req.Scope()), allow)
	return e.save(ctx, req)
}

// Pending returns the stored request for id.
func (e *Endpoint) Pending(ctx context.Context, id string) (*Request, error) {
	return e.load(ctx, id)
}

func (e *Endpoint) save(ctx context.Context, req *Request) error {
	raw, err := json.Marshal(req.toJSON())
	if err != nil {
		return fmt.Errorf("failed to encode authorization request: %w", err)
	}
	if err := e.cfg.Sessions.Set(ctx, req.ID(), raw, e.cfg.SessionTTL); err != nil {
		return fmt.Errorf("failed to store authorization request: %w", err)
	}
	return nil
}

func (e *Endpoint) remove(ctx context.Context, req *Request) {
	if err := e.cfg.Sessions.Remove(ctx, req.ID()); err != nil && !errors.Is(err, storage.ErrSessionNotFound) {
		e.cfg.Logger.Warn("Failed to remove authorization request",
			"authorization_id", util.SafeTruncate(req.ID(), 8),
			"error", err)
	}
}

// load restores a pending request.
func (e *Endpoint) load(ctx context.Context, id string) (*Request, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, oautherr.InvalidRequest("Malformed authorization_id").ForParameter(ParamAuthorizationID)
	}

	raw, err := e.cfg.Sessions.Get(ctx, id)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return nil, oautherr.InvalidRequest("Unknown or expired authorization request").ForParameter(ParamAuthorizationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load authorization request: %w", err)
	}

	var dto requestJSON
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil, fmt.Errorf("failed to decode authorization request: %w", err)
	}

	client, err := e.cfg.Clients.Find(ctx, dto.ClientID)
	if errors.Is(err, storage.ErrClientNotFound) || (err == nil && client.IsDeleted()) {
		return nil, oautherr.InvalidRequest("The client of this authorization request no longer exists")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	rt, ok := e.cfg.ResponseTypes.Lookup(dto.ResponseType)
	if !ok {
		return nil, fmt.Errorf("response type %q is no longer registered", dto.ResponseType)
	}
	mode, ok := e.cfg.ResponseModes.Get(dto.ResponseMode)
	if !ok {
		return nil, fmt.Errorf("response mode %q is no longer registered", dto.ResponseMode)
	}

	req := NewRequest(dto.Params, client, dto.CreatedAt)
	req.id = dto.ID
	req.responseType = rt
	req.responseMode = mode
	req.tokenType = dto.TokenType
	req.scope = dto.Scope
	req.redirectURI = dto.RedirectURI
	req.redirectVerified = dto.RedirectVerified && client.HasRedirectURI(dto.RedirectURI)
	req.fromRequestObj = dto.FromRequestObj
	req.consent = dto.Consent
	req.user = dto.User
	req.authTime = dto.AuthTime
	if dto.Attributes != nil {
		req.attributes = dto.Attributes
	}
	if req.consent == "" {
		req.consent = ConsentNotGiven
	}
	return req, nil
}
