package authorize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/giantswarm/oauth-engine/idtoken"
	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/token"
)

// Elementary response types.
const (
	ResponseTypeCode    = "code"
	ResponseTypeToken   = "token"
	ResponseTypeIDToken = "id_token"
)

// Grant types a response type requires the client to hold.
const (
	grantAuthorizationCode = "authorization_code"
	grantImplicit          = "implicit"
)

// Metadata keys stored on authorization codes.
const (
	MetadataNonce    = "nonce"
	MetadataAuthTime = "auth_time"
)

// ResponseType issues the credentials of an authorization response.
type ResponseType interface {
	// Name is the normalized response_type value.
	Name() string

	// GrantTypes lists the grant types the client must be allowed to use.
	GrantTypes() []string

	// ReturnsTokens reports whether credentials other than a code are
	// returned, which rules out the query response mode.
	ReturnsTokens() bool

	// Process attaches the response parameters. It is only called once
	// consent is ConsentAllow.
	Process(ctx context.Context, req *Request) error
}

// rank orders elementary types for naming: code, id_token, token.
func rank(name string) int {
	switch name {
	case ResponseTypeCode:
		return 0
	case ResponseTypeIDToken:
		return 1
	case ResponseTypeToken:
		return 2
	}
	return 3
}

// processRank orders constituents for processing: code, token, id_token, so
// id_token can bind to the code and access token issued before it.
func processRank(name string) int {
	switch name {
	case ResponseTypeCode:
		return 0
	case ResponseTypeToken:
		return 1
	case ResponseTypeIDToken:
		return 2
	}
	return 3
}

// NormalizeResponseType returns the canonical spelling of a response_type
// value: deduplicated and ordered, so "token code" equals "code token".
func NormalizeResponseType(raw string) string {
	parts := strings.Fields(raw)
	slices.SortStableFunc(parts, func(a, b string) int {
		if d := rank(a) - rank(b); d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
	return strings.Join(slices.Compact(parts), " ")
}

// Composite delegates to its constituents in processing order.
type Composite struct {
	name  string
	parts []ResponseType
}

// NewComposite combines elementary response types.
func NewComposite(parts ...ResponseType) *Composite {
	ordered := slices.Clone(parts)
	slices.SortStableFunc(ordered, func(a, b ResponseType) int {
		return processRank(a.Name()) - processRank(b.Name())
	})

	names := make([]string, len(ordered))
	for i, p := range ordered {
		names[i] = p.Name()
	}
	return &Composite{name: NormalizeResponseType(strings.Join(names, " ")), parts: ordered}
}

// Name implements ResponseType.
func (c *Composite) Name() string { return c.name }

// Parts returns the constituents in processing order.
func (c *Composite) Parts() []ResponseType { return slices.Clone(c.parts) }

// GrantTypes implements ResponseType.
func (c *Composite) GrantTypes() []string {
	var out []string
	for _, p := range c.parts {
		for _, g := range p.GrantTypes() {
			if !slices.Contains(out, g) {
				out = append(out, g)
			}
		}
	}
	return out
}

// ReturnsTokens implements ResponseType.
func (c *Composite) ReturnsTokens() bool {
	return slices.ContainsFunc(c.parts, ResponseType.ReturnsTokens)
}

// Process implements ResponseType.
func (c *Composite) Process(ctx context.Context, req *Request) error {
	for _, p := range c.parts {
		if err := p.Process(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// ResponseTypeRegistry maps normalized names to response types.
type ResponseTypeRegistry struct {
	types map[string]ResponseType
	names []string
}

// NewResponseTypeRegistry creates a registry holding types.
func NewResponseTypeRegistry(types ...ResponseType) *ResponseTypeRegistry {
	r := &ResponseTypeRegistry{types: map[string]ResponseType{}}
	for _, t := range types {
		r.Register(t)
	}
	return r
}

// DefaultResponseTypes registers the elementary types that are non-nil and
// every composite that can be formed from them.
func DefaultResponseTypes(code, tok, idTok ResponseType) *ResponseTypeRegistry {
	var elementary []ResponseType
	for _, t := range []ResponseType{code, tok, idTok} {
		if t != nil {
			elementary = append(elementary, t)
		}
	}

	r := NewResponseTypeRegistry(elementary...)
	n := len(elementary)
	for mask := 1; mask < 1<<n; mask++ {
		var parts []ResponseType
		for i := range n {
			if mask&(1<<i) != 0 {
				parts = append(parts, elementary[i])
			}
		}
		if len(parts) > 1 {
			r.Register(NewComposite(parts...))
		}
	}
	return r
}

// Register adds or replaces a response type.
func (r *ResponseTypeRegistry) Register(t ResponseType) {
	name := NormalizeResponseType(t.Name())
	if _, exists := r.types[name]; !exists {
		r.names = append(r.names, name)
	}
	r.types[name] = t
}

// Lookup resolves a raw response_type value.
func (r *ResponseTypeRegistry) Lookup(raw string) (ResponseType, bool) {
	t, ok := r.types[NormalizeResponseType(raw)]
	return t, ok
}

// Names returns the registered names in registration order.
func (r *ResponseTypeRegistry) Names() []string { return slices.Clone(r.names) }

// ============================================================
// code
// ============================================================

// CodeConfig configures the code response type.
type CodeConfig struct {
	Codes   storage.AuthorizationCodeRepository
	TTL     time.Duration
	Now     func() time.Time
	Auditor *security.Auditor
	Logger  *slog.Logger
}

// CodeResponseType issues authorization codes.
type CodeResponseType struct {
	codes   storage.AuthorizationCodeRepository
	ttl     time.Duration
	now     func() time.Time
	auditor *security.Auditor
	logger  *slog.Logger
}

// NewCodeResponseType creates the code response type.
func NewCodeResponseType(cfg CodeConfig) *CodeResponseType {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CodeResponseType{codes: cfg.Codes, ttl: cfg.TTL, now: cfg.Now, auditor: cfg.Auditor, logger: cfg.Logger}
}

// Name implements ResponseType.
func (*CodeResponseType) Name() string { return ResponseTypeCode }

// GrantTypes implements ResponseType.
func (*CodeResponseType) GrantTypes() []string { return []string{grantAuthorizationCode} }

// ReturnsTokens implements ResponseType.
func (*CodeResponseType) ReturnsTokens() bool { return false }

// Process implements ResponseType.
func (c *CodeResponseType) Process(ctx context.Context, req *Request) error {
	user := req.User()
	if user == nil {
		return errors.New("no authenticated user")
	}

	query := req.FlatParams()
	delete(query, ParamRequest)
	delete(query, ParamRequestURI)
	delete(query, ParamAuthorizationID)

	metadata := storage.DataBag{}
	if nonce := req.Nonce(); nonce != "" {
		metadata[MetadataNonce] = nonce
	}
	if !req.AuthTime().IsZero() {
		metadata[MetadataAuthTime] = strconv.FormatInt(req.AuthTime().Unix(), 10)
	}

	params := storage.DataBag{"scope": scope.Format(req.Scope())}
	if tt := req.TokenType(); tt != "" {
		params[token.ParamTokenType] = tt
	}

	code, err := c.codes.Create(ctx, storage.AuthorizationCodeParams{
		TokenParams: storage.TokenParams{
			ClientID:        req.Client().ID(),
			ResourceOwnerID: user.ID,
			ExpiresAt:       c.now().Add(c.ttl),
			Parameters:      params,
			Metadata:        metadata,
		},
		RedirectURI:     req.RedirectURI(),
		QueryParameters: query,
	})
	if err != nil {
		return fmt.Errorf("failed to create authorization code: %w", err)
	}

	if err := req.SetResponseParam("code", code.ID()); err != nil {
		return err
	}

	c.auditor.LogEvent(security.Event{
		Type:     security.EventAuthorizationCodeIssued,
		UserID:   user.ID,
		ClientID: req.Client().ID(),
		Details:  map[string]any{"scope": scope.Format(req.Scope())},
	})
	c.logger.Debug("Authorization code issued",
		"client_id", req.Client().ID(),
		"code", util.SafeTruncate(code.ID(), 8))
	return nil
}

// ============================================================
// token
// ============================================================

// TokenResponseType issues access tokens directly from the authorization
// endpoint (implicit flow). It never issues refresh tokens.
type TokenResponseType struct {
	issuer  *token.Issuer
	types   *token.Registry
	auditor *security.Auditor
}

// NewTokenResponseType creates the token response type.
func NewTokenResponseType(issuer *token.Issuer, types *token.Registry, auditor *security.Auditor) *TokenResponseType {
	return &TokenResponseType{issuer: issuer, types: types, auditor: auditor}
}

// Name implements ResponseType.
func (*TokenResponseType) Name() string { return ResponseTypeToken }

// GrantTypes implements ResponseType.
func (*TokenResponseType) GrantTypes() []string { return []string{grantImplicit} }

// ReturnsTokens implements ResponseType.
func (*TokenResponseType) ReturnsTokens() bool { return true }

// Process implements ResponseType.
func (t *TokenResponseType) Process(ctx context.Context, req *Request) error {
	user := req.User()
	if user == nil {
		return errors.New("no authenticated user")
	}

	tokenType := req.TokenType()
	if tokenType == "" {
		tokenType = t.types.Default().Name()
	}

	at, err := t.issuer.IssueAccessToken(ctx, token.IssueParams{
		ClientID:        req.Client().ID(),
		ResourceOwnerID: user.ID,
		Scope:           req.Scope(),
		TokenType:       tokenType,
	}, nil)
	if err != nil {
		return err
	}

	for name, value := range map[string]string{
		"access_token": at.ID(),
		"token_type":   tokenType,
		"expires_in":   strconv.FormatInt(t.issuer.ExpiresIn(at), 10),
		"scope":        scope.Format(req.Scope()),
	} {
		if err := req.SetResponseParam(name, value); err != nil {
			return err
		}
	}

	t.auditor.LogEvent(security.Event{
		Type:     security.EventImplicitTokenIssued,
		UserID:   user.ID,
		ClientID: req.Client().ID(),
	})
	return nil
}

// ============================================================
// id_token
// ============================================================

// IDTokenResponseType issues ID Tokens from the authorization endpoint.
type IDTokenResponseType struct {
	issuer *idtoken.Issuer
}

// NewIDTokenResponseType creates the id_token response type.
func NewIDTokenResponseType(issuer *idtoken.Issuer) *IDTokenResponseType {
	return &IDTokenResponseType{issuer: issuer}
}

// Name implements ResponseType.
func (*IDTokenResponseType) Name() string { return ResponseTypeIDToken }

// GrantTypes implements ResponseType.
func (*IDTokenResponseType) GrantTypes() []string { return []string{grantImplicit} }

// ReturnsTokens implements ResponseType.
func (*IDTokenResponseType) ReturnsTokens() bool { return true }

// Process implements ResponseType.
func (t *IDTokenResponseType) Process(ctx context.Context, req *Request) error {
	user := req.User()
	if user == nil {
		return errors.New("no authenticated user")
	}

	raw, err := t.issuer.Issue(ctx, idtoken.Params{
		Client:      req.Client(),
		Subject:     user.ID,
		Nonce:       req.Nonce(),
		AuthTime:    req.AuthTime(),
		Scope:       req.Scope(),
		AccessToken: req.ResponseParam("access_token"),
		Code:        req.ResponseParam("code"),
	})
	if err != nil {
		return fmt.Errorf("failed to issue ID Token: %w", err)
	}
	return req.SetResponseParam("id_token", raw)
}
