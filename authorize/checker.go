package authorize

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/giantswarm/oauth-engine/internal/pkce"
	"github.com/giantswarm/oauth-engine/oautherr"
	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/token"
)

// Checker validates one aspect of an authorization request. It calls
// next.Check to continue down the chain, and may act on the result.
type Checker interface {
	Name() string
	Check(ctx context.Context, req *Request, next Next) error
}

// Chain is an ordered list of checkers.
type Chain struct {
	checkers []Checker
}

// NewChain creates a chain running checkers in order.
func NewChain(checkers ...Checker) *Chain {
	return &Chain{checkers: checkers}
}

// Names returns the checker names in order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.checkers))
	for i, ch := range c.checkers {
		names[i] = ch.Name()
	}
	return names
}

// Run validates req with every checker.
func (c *Chain) Run(ctx context.Context, req *Request) error {
	return Next{chain: c}.Check(ctx, req)
}

// Next is the continuation handed to a checker: the position of the next
// checker in the chain.
type Next struct {
	chain *Chain
	index int
}

// Check runs the remainder of the chain. Past the last checker it succeeds.
func (n Next) Check(ctx context.Context, req *Request) error {
	if n.chain == nil || n.index >= len(n.chain.checkers) {
		return nil
	}
	return n.chain.checkers[n.index].Check(ctx, req, Next{chain: n.chain, index: n.index + 1})
}

// ============================================================
// redirect_uri
// ============================================================

// RedirectURIChecker requires redirect_uri to literally match one of the
// client's registered URIs. Its errors are always rendered directly.
type RedirectURIChecker struct {
	Auditor *security.Auditor
}

// Name implements Checker.
func (RedirectURIChecker) Name() string { return ParamRedirectURI }

// Check implements Checker.
func (c RedirectURIChecker) Check(ctx context.Context, req *Request, next Next) error {
	uri := req.Param(ParamRedirectURI)
	if uri == "" {
		return oautherr.InvalidRequest("Missing redirect_uri parameter").ForParameter(ParamRedirectURI)
	}
	if !req.Client().HasRedirectURI(uri) {
		c.Auditor.LogEvent(security.Event{
			Type:     security.EventRedirectURIMismatch,
			ClientID: req.Client().ID(),
			Details:  map[string]any{"redirect_uri": uri},
		})
		return oautherr.InvalidRequest("The redirect_uri is not registered for this client").ForParameter(ParamRedirectURI)
	}
	req.verifyRedirectURI(uri)
	return next.Check(ctx, req)
}

// ============================================================
// response_type and response_mode
// ============================================================

// ResponseTypeChecker resolves the response type and the response mode.
type ResponseTypeChecker struct {
	Types *ResponseTypeRegistry
	Modes *ResponseModeRegistry

	// AllowResponseMode honours an explicit response_mode parameter.
	// Otherwise the mode is derived from the response type.
	AllowResponseMode bool
}

// Name implements Checker.
func (ResponseTypeChecker) Name() string { return ParamResponseType }

// Check implements Checker.
func (c ResponseTypeChecker) Check(ctx context.Context, req *Request, next Next) error {
	raw := req.Param(ParamResponseType)
	if raw == "" {
		return oautherr.InvalidRequest("Missing response_type parameter").ForParameter(ParamResponseType)
	}

	rt, ok := c.Types.Lookup(raw)
	if !ok {
		return oautherr.InvalidRequest(fmt.Sprintf("Unsupported response_type %q", raw)).ForParameter(ParamResponseType)
	}

	client := req.Client()
	allowed := slices.ContainsFunc(client.ResponseTypes(), func(t string) bool {
		return NormalizeResponseType(t) == rt.Name()
	})
	if !allowed {
		return oautherr.UnauthorizedClient(fmt.Sprintf("The client may not use response_type %q", rt.Name())).ForParameter(ParamResponseType)
	}
	for _, g := range rt.GrantTypes() {
		if !client.HasGrantType(g) {
			return oautherr.UnauthorizedClient(fmt.Sprintf("The client may not use the %s grant", g)).ForParameter(ParamResponseType)
		}
	}
	req.SetResponseType(rt)

	mode := c.Modes.defaultMode(rt.ReturnsTokens())
	if explicit := req.Param(ParamResponseMode); explicit != "" && c.AllowResponseMode {
		m, ok := c.Modes.Get(explicit)
		if !ok {
			return oautherr.InvalidRequest(fmt.Sprintf("Unsupported response_mode %q", explicit)).ForParameter(ParamResponseMode)
		}
		if m.Name() == ResponseModeQuery && rt.ReturnsTokens() {
			return oautherr.InvalidRequest("The query response_mode cannot be used with this response_type").ForParameter(ParamResponseMode)
		}
		mode = m
	}
	req.SetResponseMode(mode)

	return next.Check(ctx, req)
}

// ============================================================
// scope
// ============================================================

// ScopeChecker validates the scope against the client and server sets and
// applies the scope policy.
type ScopeChecker struct {
	Validator *scope.Validator
}

// Name implements Checker.
func (ScopeChecker) Name() string { return ParamScope }

// Check implements Checker.
func (c ScopeChecker) Check(ctx context.Context, req *Request, next Next) error {
	scopes, err := c.Validator.Validate(req.Client(), req.Param(ParamScope))
	if err != nil {
		if oe := oautherr.From(err); oe.Parameter == "" {
			return oe.ForParameter(ParamScope)
		}
		return err
	}

	if rt := req.ResponseType(); rt != nil && strings.Contains(rt.Name(), ResponseTypeIDToken) && !slices.Contains(scopes, scope.OpenID) {
		return oautherr.InvalidScope("The openid scope is required to receive an ID Token").ForParameter(ParamScope)
	}

	req.SetScope(scopes)
	return next.Check(ctx, req)
}

// ============================================================
// state
// ============================================================

// StateChecker requires state when Required is set.
type StateChecker struct {
	Required  bool
	MinLength int
}

// Name implements Checker.
func (StateChecker) Name() string { return ParamState }

// Check implements Checker.
func (c StateChecker) Check(ctx context.Context, req *Request, next Next) error {
	state := req.State()
	if state == "" && c.Required {
		return oautherr.InvalidRequest("Missing state parameter").ForParameter(ParamState)
	}
	if state != "" && len(state) < c.MinLength {
		return oautherr.InvalidRequest(fmt.Sprintf("The state parameter must be at least %d characters", c.MinLength)).ForParameter(ParamState)
	}
	return next.Check(ctx, req)
}

// ============================================================
// nonce
// ============================================================

// NonceChecker requires nonce for response types returning an ID Token.
type NonceChecker struct{}

// Name implements Checker.
func (NonceChecker) Name() string { return ParamNonce }

// Check implements Checker.
func (NonceChecker) Check(ctx context.Context, req *Request, next Next) error {
	if rt := req.ResponseType(); rt != nil && strings.Contains(rt.Name(), ResponseTypeIDToken) && req.Nonce() == "" {
		return oautherr.InvalidRequest("The nonce parameter is required for this response_type").ForParameter(ParamNonce)
	}
	return next.Check(ctx, req)
}

// ============================================================
// prompt
// ============================================================

var promptValues = []string{PromptNone, PromptLogin, PromptConsent, PromptSelectAccount}

// PromptChecker validates prompt. "none" cannot be combined with another value.
type PromptChecker struct{}

// Name implements Checker.
func (PromptChecker) Name() string { return ParamPrompt }

// Check implements Checker.
func (PromptChecker) Check(ctx context.Context, req *Request, next Next) error {
	prompts := req.Prompts()
	for _, p := range prompts {
		if !slices.Contains(promptValues, p) {
			return oautherr.InvalidRequest(fmt.Sprintf("Unsupported prompt value %q", p)).ForParameter(ParamPrompt)
		}
	}
	if slices.Contains(prompts, PromptNone) && slices.ContainsFunc(prompts, func(p string) bool { return p != PromptNone }) {
		return oautherr.InvalidRequest("The prompt value none cannot be combined with other values").ForParameter(ParamPrompt)
	}
	return next.Check(ctx, req)
}

// ============================================================
// display
// ============================================================

// DisplayValues are the OpenID Connect display values.
var DisplayValues = []string{"page", "popup", "touch", "wap"}

// DisplayChecker validates display.
type DisplayChecker struct{}

// Name implements Checker.
func (DisplayChecker) Name() string { return ParamDisplay }

// Check implements Checker.
func (DisplayChecker) Check(ctx context.Context, req *Request, next Next) error {
	if d := req.Param(ParamDisplay); d != "" && !slices.Contains(DisplayValues, d) {
		return oautherr.InvalidRequest(fmt.Sprintf("Unsupported display value %q", d)).ForParameter(ParamDisplay)
	}
	return next.Check(ctx, req)
}

// ============================================================
// max_age
// ============================================================

// MaxAgeChecker validates max_age as a non-negative number of seconds.
type MaxAgeChecker struct{}

// Name implements Checker.
func (MaxAgeChecker) Name() string { return ParamMaxAge }

// Check implements Checker.
func (MaxAgeChecker) Check(ctx context.Context, req *Request, next Next) error {
	if raw := req.Param(ParamMaxAge); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err != nil || n < 0 {
			return oautherr.InvalidRequest("The max_age parameter must be a non-negative integer").ForParameter(ParamMaxAge)
		}
	}
	return next.Check(ctx, req)
}

// ============================================================
// token_type
// ============================================================

// TokenTypeChecker resolves the optional token_type parameter.
type TokenTypeChecker struct {
	Types *token.Registry
}

// Name implements Checker.
func (TokenTypeChecker) Name() string { return ParamTokenType }

// Check implements Checker.
func (c TokenTypeChecker) Check(ctx context.Context, req *Request, next Next) error {
	t, err := c.Types.ForClient(req.Client(), req.Param(ParamTokenType))
	if err != nil {
		return err
	}
	req.SetTokenType(t.Name())
	return next.Check(ctx, req)
}

// ============================================================
// PKCE
// ============================================================

// PKCEChecker validates code_challenge for response types issuing a code.
type PKCEChecker struct {
	// RequireForPublicClients refuses public clients without a challenge.
	RequireForPublicClients bool

	// RequireAlways refuses every client without a challenge.
	RequireAlways bool

	AllowPlain bool
}

// Name implements Checker.
func (PKCEChecker) Name() string { return ParamCodeChallenge }

// Check implements Checker.
func (c PKCEChecker) Check(ctx context.Context, req *Request, next Next) error {
	rt := req.ResponseType()
	if rt == nil || !slices.Contains(strings.Fields(rt.Name()), ResponseTypeCode) {
		return next.Check(ctx, req)
	}

	challenge := req.Param(ParamCodeChallenge)
	method := req.Param(ParamCodeChallengeMethod)

	if challenge == "" {
		if method != "" {
			return oautherr.InvalidRequest("code_challenge_method sent without code_challenge").ForParameter(ParamCodeChallenge)
		}
		if c.RequireAlways || (c.RequireForPublicClients && req.Client().IsPublic()) {
			return oautherr.InvalidRequest("PKCE is required: missing code_challenge").ForParameter(ParamCodeChallenge)
		}
		return next.Check(ctx, req)
	}

	if err := pkce.ValidateChallenge(challenge, method, c.AllowPlain); err != nil {
		param := ParamCodeChallenge
		if pkce.Method(method) != pkce.MethodS256 {
			param = ParamCodeChallengeMethod
		}
		return oautherr.InvalidRequest(err.Error()).ForParameter(param)
	}
	return next.Check(ctx, req)
}

// DefaultCheckers returns the standard chain in its required order.
func DefaultCheckers(cfg CheckerConfig) *Chain {
	return NewChain(
		RedirectURIChecker{Auditor: cfg.Auditor},
		ResponseTypeChecker{Types: cfg.ResponseTypes, Modes: cfg.ResponseModes, AllowResponseMode: cfg.AllowResponseMode},
		ScopeChecker{Validator: cfg.Scopes},
		StateChecker{Required: cfg.RequireState, MinLength: cfg.MinStateLength},
		NonceChecker{},
		PromptChecker{},
		DisplayChecker{},
		MaxAgeChecker{},
		TokenTypeChecker{Types: cfg.TokenTypes},
		PKCEChecker{RequireForPublicClients: cfg.RequirePKCEForPublicClients, RequireAlways: cfg.RequirePKCE, AllowPlain: cfg.AllowPKCEPlain},
	)
}

// CheckerConfig configures DefaultCheckers.
type CheckerConfig struct {
	ResponseTypes     *ResponseTypeRegistry
	ResponseModes     *ResponseModeRegistry
	AllowResponseMode bool
	Scopes            *scope.Validator
	TokenTypes        *token.Registry

	RequireState   bool
	MinStateLength int

	RequirePKCE                 bool
	RequirePKCEForPublicClients bool
	AllowPKCEPlain              bool

	Auditor *security.Auditor
}
