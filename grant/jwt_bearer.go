package grant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gojose "github.com/go-jose/go-jose/v4"

	"github.com/giantswarm/oauth-engine/jose"
	"github.com/giantswarm/oauth-engine/oautherr"
	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

// ParamAssertion is the assertion form parameter.
const ParamAssertion = "assertion"

// DefaultJWTBearerLeeway is the clock skew tolerated on assertion claims.
const DefaultJWTBearerLeeway = 30 * time.Second

const attrAssertionClaims = "jwt_bearer_claims"

// JWTBearerConfig configures JWTBearer.
type JWTBearerConfig struct {
	// Clients resolves the issuer of client-issued assertions.
	Clients storage.ClientRepository

	// Verifier checks assertions signed by a client with its registered
	// keys or secret.
	Verifier *jose.Verifier

	// TrustedIssuers maps an issuer to the keys its assertions are signed
	// with. The client presenting such an assertion authenticates as usual.
	TrustedIssuers map[string]*gojose.JSONWebKeySet

	// Audiences accepted in the "aud" claim, typically the issuer and the
	// token endpoint URL (required).
	Audiences []string

	Scopes *scope.Validator
	Leeway time.Duration

	Auditor *security.Auditor
	Logger  *slog.Logger
	Now     func() time.Time
}

// JWTBearer implements the JWT bearer authorization grant (RFC 7523
// section 2.1). An assertion either comes from a trusted issuer, or from the
// client itself, in which case it doubles as client authentication.
type JWTBearer struct {
	cfg     JWTBearerConfig
	trusted map[string]*jose.Verifier
	seen    *jose.ReplayCache
}

// NewJWTBearer creates the grant.
func NewJWTBearer(cfg JWTBearerConfig) *JWTBearer {
	if cfg.Scopes == nil {
		cfg.Scopes = scope.NewValidator(nil, nil)
	}
	if cfg.Leeway <= 0 {
		cfg.Leeway = DefaultJWTBearerLeeway
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	trusted := make(map[string]*jose.Verifier, len(cfg.TrustedIssuers))
	for iss, set := range cfg.TrustedIssuers {
		trusted[iss] = jose.NewVerifier(jose.StaticKeys{Set: set})
	}
	return &JWTBearer{
		cfg:     cfg,
		trusted: trusted,
		seen:    jose.NewReplayCache(cfg.Leeway, cfg.Now),
	}
}

// Name implements GrantType.
func (*JWTBearer) Name() string { return TypeJWTBearer }

// CheckRequest implements GrantType.
func (*JWTBearer) CheckRequest(r *http.Request) error {
	if r.PostForm.Get(ParamAssertion) == "" {
		return oautherr.InvalidRequest("Missing assertion parameter").ForParameter(ParamAssertion)
	}
	return nil
}

// PrepareResponse implements GrantType. It verifies the assertion and, for
// client-issued assertions, sets the client.
func (g *JWTBearer) PrepareResponse(ctx context.Context, _ *http.Request, data *Data) error {
	tok, err := jose.Parse(data.Param(ParamAssertion))
	if err != nil {
		return oautherr.InvalidGrant("The assertion is not a signed JWT").Wrap(err)
	}
	claims, err := tok.Claims()
	if err != nil {
		return oautherr.InvalidGrant("The assertion payload is malformed").Wrap(err)
	}
	iss, _ := jose.StringClaim(claims, "iss")
	if iss == "" {
		return oautherr.InvalidGrant("The assertion has no iss claim")
	}

	if verifier, ok := g.trusted[iss]; ok {
		err := verifier.Verify(ctx, tok, storage.NewClient(iss, "", nil), jose.VerifyOptions{Family: jose.FamilyAsymmetric})
		if err != nil {
			g.reject(data, iss, err)
			return oautherr.InvalidGrant("The assertion signature is invalid")
		}
	} else {
		client, err := g.issuingClient(ctx, iss)
		if err != nil {
			return err
		}
		err = g.cfg.Verifier.Verify(ctx, tok, client, jose.VerifyOptions{Algorithm: client.TokenEndpointAuthSigningAlg()})
		if err != nil {
			g.reject(data, iss, err)
			return oautherr.InvalidGrant("The assertion signature is invalid")
		}
		data.SetClient(client)
	}

	if err := g.validate(iss, claims); err != nil {
		g.reject(data, iss, err)
		return err
	}
	data.SetAttribute(attrAssertionClaims, claims)
	return nil
}

func (g *JWTBearer) issuingClient(ctx context.Context, iss string) (*storage.Client, error) {
	if g.cfg.Clients == nil || g.cfg.Verifier == nil {
		return nil, oautherr.InvalidGrant("The assertion issuer is not trusted")
	}
	client, err := g.cfg.Clients.Find(ctx, iss)
	if errors.Is(err, storage.ErrClientNotFound) {
		return nil, oautherr.InvalidGrant("The assertion issuer is not trusted")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load assertion issuer: %w", err)
	}
	if client.IsDeleted() {
		return nil, oautherr.InvalidGrant("The assertion issuer is not trusted")
	}
	return client, nil
}

// validate checks the registered claims and records the jti.
func (g *JWTBearer) validate(iss string, claims map[string]any) error {
	err := jose.ValidateClaims(claims, jose.ClaimsOptions{
		RequireExpiration: true,
		Leeway:            g.cfg.Leeway,
		Now:               g.cfg.Now,
	})
	if err != nil {
		return oautherr.InvalidGrant("The assertion is expired or not yet valid").Wrap(err)
	}
	if !jose.AudienceAccepted(claims["aud"], g.cfg.Audiences) {
		return oautherr.InvalidGrant("The assertion audience does not include this server")
	}
	if sub, _ := jose.StringClaim(claims, "sub"); sub == "" {
		return oautherr.InvalidGrant("The assertion has no sub claim")
	}

	if jti, _ := jose.StringClaim(claims, "jti"); jti != "" && !g.seen.MarkSeen(iss, jti, claims["exp"]) {
		return oautherr.InvalidGrant("The assertion was already used")
	}
	return nil
}

func (g *JWTBearer) reject(data *Data, iss string, err error) {
	g.cfg.Logger.Debug("JWT bearer assertion rejected", "iss", iss, "error", err)
	g.cfg.Auditor.LogAuthFailure("", iss, data.ClientIP(), "invalid_jwt_bearer_assertion")
}

// Grant implements GrantType. The resource owner is the assertion subject.
// No refresh token is issued: the client can present a new assertion.
func (g *JWTBearer) Grant(_ context.Context, _ *http.Request, data *Data) error {
	v, ok := data.Attribute(attrAssertionClaims)
	if !ok {
		return errors.New("assertion claims missing")
	}
	claims := v.(map[string]any)
	sub, _ := jose.StringClaim(claims, "sub")

	granted, err := g.cfg.Scopes.Validate(data.Client(), data.Param(ParamScope))
	if err != nil {
		return err
	}
	data.SetResourceOwnerID(sub)
	data.SetScope(granted)
	if iss, ok := jose.StringClaim(claims, "iss"); ok {
		data.Metadata()["assertion_issuer"] = iss
	}
	return nil
}
