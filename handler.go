package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-engine/authorize"
	"github.com/giantswarm/oauth-engine/instrumentation"
	"github.com/giantswarm/oauth-engine/oautherr"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/server"
	"github.com/giantswarm/oauth-engine/storage"
)

const defaultCORSMaxAge = 3600 // 1 hour default for preflight cache

// Consent decision form fields, posted by the consent UI to PathConsent.
const (
	FormAuthorizationID = authorize.ParamAuthorizationID
	FormDecision        = "decision"

	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Form fields of the introspection and revocation endpoints.
const (
	formToken         = "token"
	formTokenTypeHint = "token_type_hint"
)

// Handler is a thin HTTP adapter for the authorization server.
// It handles HTTP concerns and delegates protocol work to the Server's
// endpoints.
type Handler struct {
	server *Server
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandler creates a new HTTP handler
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: server,
		logger: logger,
	}
	if server.Instrumentation != nil {
		h.tracer = server.Instrumentation.Tracer("http")
	}
	return h
}

// RegisterRoutes mounts every endpoint on r at the paths advertised in the
// discovery document. When the issuer has a path, mount r under it.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get(server.PathAuthorization, h.ServeAuthorization)
	r.Post(server.PathAuthorization, h.ServeAuthorization)
	r.Post(server.PathConsent, h.ServeConsentDecision)
	r.Post(server.PathToken, h.ServeToken)
	r.Post(server.PathIntrospection, h.ServeTokenIntrospection)
	r.Post(server.PathRevocation, h.ServeTokenRevocation)
	r.Get(server.PathDiscovery, h.ServeMetadata)
	r.Get(server.PathASMetadata, h.ServeMetadata)
	r.Get(server.PathJWKS, h.ServeJWKS)

	for _, path := range []string{
		server.PathToken,
		server.PathIntrospection,
		server.PathRevocation,
		server.PathDiscovery,
		server.PathASMetadata,
		server.PathJWKS,
	} {
		r.Options(path, h.ServePreflightRequest)
	}
}

// ServeAuthorization handles OAuth authorization requests (GET and POST).
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.server.Authorization.Authorize(w, r)
}

// ServeConsentDecision records the resource owner's decision on a pending
// authorization request and resumes it. The consent UI posts
// authorization_id and decision=allow|deny.
func (h *Handler) ServeConsentDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, span := h.startSpan(r, "oauth.http.consent_decision")
	defer span.End()

	if err := r.ParseForm(); err != nil {
		h.writeError(w, r, span, oautherr.InvalidRequest("Failed to parse request"))
		return
	}

	id := r.PostForm.Get(FormAuthorizationID)
	if id == "" {
		h.writeError(w, r, span, oautherr.InvalidRequest("authorization_id is required").ForParameter(FormAuthorizationID))
		return
	}

	var allow bool
	switch r.PostForm.Get(FormDecision) {
	case DecisionAllow:
		allow = true
	case DecisionDeny:
	default:
		h.writeError(w, r, span, oautherr.InvalidRequest("decision must be allow or deny").ForParameter(FormDecision))
		return
	}

	if err := h.server.Authorization.DecideFor(r.WithContext(ctx), id, allow); err != nil {
		h.writeError(w, r, span, err)
		return
	}
	instrumentation.SetSpanSuccess(span)

	h.server.Authorization.Authorize(w, resumeRequest(r.WithContext(ctx), id))
}

// resumeRequest turns the consent form post into a GET of the
// authorization endpoint carrying only the authorization ID. Headers and
// cookies are kept so the user can be discovered again.
func resumeRequest(r *http.Request, id string) *http.Request {
	resumed := r.Clone(r.Context())
	resumed.Method = http.MethodGet
	resumed.URL = &url.URL{
		Path:     server.PathAuthorization,
		RawQuery: url.Values{authorize.ParamAuthorizationID: {id}}.Encode(),
	}
	resumed.RequestURI = resumed.URL.RequestURI()
	resumed.Body = http.NoBody
	resumed.ContentLength = 0
	resumed.Form = nil
	resumed.PostForm = nil
	resumed.Header.Del("Content-Type")
	return resumed
}

// ServeToken handles the token endpoint.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.setCORSHeaders(w, r)
	h.server.Token.Token(w, r)
}

// ServeTokenIntrospection handles the RFC 7662 token introspection endpoint.
// Security: requires client authentication to prevent token scanning attacks;
// public clients cannot introspect.
func (h *Handler) ServeTokenIntrospection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, span := h.startSpan(r, "oauth.http.token_introspection")
	defer span.End()

	h.setCORSHeaders(w, r)
	clientIP := h.server.ClientIP(r)
	if h.checkRateLimit(w, r, clientIP, "introspection") {
		return
	}

	client, res, err := h.server.ClientAuth.AuthenticateRequest(ctx, r)
	if err != nil {
		h.writeError(w, r, span, err)
		return
	}
	if res.Method == storage.AuthMethodNone {
		h.server.Auditor.LogAuthFailure("", client.ID(), clientIP, "introspection_missing_credentials")
		h.writeError(w, r, span, oautherr.InvalidClient("Client authentication is required for token introspection"))
		return
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, client.ID()))

	info, err := h.server.Tokens.Introspect(ctx, client, r.PostFormValue(formToken), r.PostFormValue(formTokenTypeHint))
	if err != nil {
		h.writeError(w, r, span, err)
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.writeJSON(w, http.StatusOK, info)
}

// ServeTokenRevocation handles the RFC 7009 token revocation endpoint.
// Unknown tokens are not an error; public clients may revoke their own
// tokens.
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, span := h.startSpan(r, "oauth.http.token_revocation")
	defer span.End()

	h.setCORSHeaders(w, r)
	clientIP := h.server.ClientIP(r)
	if h.checkRateLimit(w, r, clientIP, "revocation") {
		return
	}

	client, _, err := h.server.ClientAuth.AuthenticateRequest(ctx, r)
	if err != nil {
		h.writeError(w, r, span, err)
		return
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, client.ID()))

	if err := h.server.Tokens.Revoke(ctx, client, r.PostFormValue(formToken), r.PostFormValue(formTokenTypeHint)); err != nil {
		h.writeError(w, r, span, err)
		return
	}

	instrumentation.SetSpanSuccess(span)
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
}

// ServeMetadata serves the discovery document at both
// /.well-known/openid-configuration and
// /.well-known/oauth-authorization-server.
func (h *Handler) ServeMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.server.ClientIP(r)
	if h.checkRateLimit(w, r, clientIP, "discovery") {
		return
	}

	h.setCORSHeaders(w, r)
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.server.Metadata())
}

// ServeJWKS serves the public keys clients use to verify ID tokens and to
// encrypt request objects.
func (h *Handler) ServeJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.setCORSHeaders(w, r)
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_ = json.NewEncoder(w).Encode(h.server.PublicKeys())
}

// ServePreflightRequest handles CORS preflight (OPTIONS) requests.
// Required for non-simple requests (POST with JSON, custom headers, etc.).
func (h *Handler) ServePreflightRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodOptions {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.setCORSHeaders(w, r)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusNoContent)
}

// checkRateLimit applies the per-IP limiter to the auxiliary endpoints.
// Returns true if rate limit exceeded and response was written.
func (h *Handler) checkRateLimit(w http.ResponseWriter, r *http.Request, clientIP, endpoint string) bool {
	if h.server.RateLimiter == nil || h.server.RateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded",
		"ip", clientIP,
		"endpoint", endpoint,
		"request_id", security.GetRequestID(r.Context()))

	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
	}
	h.server.Auditor.LogEvent(security.Event{
		Type:      security.EventRateLimitExceeded,
		IPAddress: clientIP,
		Details:   map[string]any{"endpoint": endpoint},
	})

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Retry-After", "60")
	oautherr.WriteJSON(w, oautherr.SlowDown("Rate limit exceeded. Please try again later."))
	return true
}

// setCORSHeaders sets CORS headers if configured and the origin is allowed.
// Only applies if AllowedOrigins is configured, Origin header is present, and origin is allowed.
func (h *Handler) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	cors := h.server.Config.CORS
	if len(cors.AllowedOrigins) == 0 {
		return
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	if !h.isAllowedOrigin(origin) {
		h.logger.Debug("CORS request from disallowed origin", "origin", origin)
		return
	}

	// Echo back the specific origin rather than using "*"
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Add("Vary", "Origin")

	if cors.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}

	maxAge := cors.MaxAge
	if maxAge == 0 {
		maxAge = defaultCORSMaxAge
	}

	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	// Authorization: for client_secret_basic
	// Content-Type: for form bodies
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", maxAge))
}

// isAllowedOrigin checks if the given origin is in the allowed origins list.
// Supports exact matching and wildcard "*" when explicitly enabled.
func (h *Handler) isAllowedOrigin(origin string) bool {
	cors := h.server.Config.CORS
	for _, allowed := range cors.AllowedOrigins {
		if allowed == "*" && cors.AllowWildcardOrigin {
			return true
		}
		// Exact match (case-sensitive per CORS spec)
		if allowed == origin {
			return true
		}
	}
	return false
}

func (h *Handler) startSpan(r *http.Request, name string) (context.Context, trace.Span) {
	if h.tracer == nil {
		return r.Context(), trace.SpanFromContext(r.Context())
	}
	return h.tracer.Start(r.Context(), name)
}

// writeError writes a direct JSON error with security headers. Internal
// errors are logged and reported as internal_server_error.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, span trace.Span, err error) {
	oe := oautherr.From(err)
	if oe.Code == oautherr.CodeInternalServerError {
		h.logger.Error("Request failed",
			"path", r.URL.Path,
			"request_id", security.GetRequestID(r.Context()),
			"error", err)
		instrumentation.RecordError(span, err)
	}
	instrumentation.AddOAuthErrorAttributes(span, oe.Code, oe.Description)

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Cache-Control", "no-store")
	oautherr.WriteJSON(w, oe)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
