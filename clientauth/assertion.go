package clientauth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/giantswarm/oauth-engine/jose"
	"github.com/giantswarm/oauth-engine/oautherr"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

// AssertionMethodName is the registry name of the client assertion method.
// Resolutions carry the concrete client_secret_jwt or private_key_jwt name.
const AssertionMethodName = "client_assertion_jwt"

// DefaultAssertionLeeway is the clock skew tolerated on assertion claims.
const DefaultAssertionLeeway = 30 * time.Second

type assertion struct {
	token  *jose.Token
	claims map[string]any
}

// AssertionConfig configures AssertionJWT.
type AssertionConfig struct {
	// Verifier checks assertion signatures (required).
	Verifier *jose.Verifier

	// Decrypter opens JWE-wrapped assertions. Nil refuses them.
	Decrypter *jose.Decrypter

	// Audiences accepted in the "aud" claim, typically the issuer and the
	// token endpoint URL (required).
	Audiences []string

	// Leeway tolerated on exp/nbf/iat. Default: 30s
	Leeway time.Duration

	Auditor *security.Auditor
	Logger  *slog.Logger
	Now     func() time.Time
}

// AssertionJWT implements client_secret_jwt and private_key_jwt.
type AssertionJWT struct {
	cfg    AssertionConfig
	replay *jose.ReplayCache
}

// NewAssertionJWT creates the method. Seen jti values are kept until the
// assertion that carried them expires.
func NewAssertionJWT(cfg AssertionConfig) *AssertionJWT {
	if cfg.Leeway <= 0 {
		cfg.Leeway = DefaultAssertionLeeway
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &AssertionJWT{
		cfg:    cfg,
		replay: jose.NewReplayCache(cfg.Leeway, cfg.Now),
	}
}

// Name implements Method.
func (m *AssertionJWT) Name() string { return AssertionMethodName }

// Names returns the token_endpoint_auth_method values this method serves.
func (m *AssertionJWT) Names() []string {
	return []string{storage.AuthMethodClientSecretJWT, storage.AuthMethodPrivateKeyJWT}
}

// Match implements Method.
func (m *AssertionJWT) Match(r *http.Request) (*Resolution, error) {
	raw := r.PostForm.Get(ParamClientAssertion)
	if raw == "" {
		return nil, nil
	}
	if r.PostForm.Get(ParamClientAssertionType) != AssertionTypeJWTBearer {
		return nil, oautherr.InvalidRequest("Unsupported client_assertion_type").ForParameter(ParamClientAssertionType)
	}

	if jose.IsJWE(raw) {
		if m.cfg.Decrypter == nil {
			return nil, oautherr.InvalidRequest("Encrypted client assertions are not supported")
		}
		plain, err := m.cfg.Decrypter.Decrypt(raw)
		if err != nil {
			return nil, oautherr.InvalidRequest("The client assertion could not be decrypted").Wrap(err)
		}
		raw = string(plain)
	}

	tok, err := jose.Parse(raw)
	if err != nil {
		return nil, oautherr.InvalidRequest("The client assertion is malformed").Wrap(err)
	}
	if tok.Algorithm() == jose.AlgNone {
		return nil, oautherr.InvalidRequest("Unsecured client assertions are not accepted")
	}

	claims, err := tok.Claims()
	if err != nil {
		return nil, oautherr.InvalidRequest("The client assertion payload is malformed").Wrap(err)
	}
	for _, name := range []string{"iss", "sub", "aud", "jti", "exp"} {
		if _, ok := claims[name]; !ok {
			return nil, oautherr.InvalidRequest("The client assertion is missing the " + name + " claim")
		}
	}

	iss, _ := jose.StringClaim(claims, "iss")
	sub, _ := jose.StringClaim(claims, "sub")
	if iss == "" || iss != sub {
		return nil, oautherr.InvalidRequest("The client assertion iss and sub claims must both equal the client_id")
	}
	if formID := r.PostForm.Get(ParamClientID); formID != "" && formID != iss {
		return nil, oautherr.InvalidRequest("The client_id parameter does not match the client assertion")
	}

	method := storage.AuthMethodPrivateKeyJWT
	if jose.IsSymmetric(tok.Algorithm()) {
		method = storage.AuthMethodClientSecretJWT
	}

	return &Resolution{
		ClientID:  iss,
		Method:    method,
		assertion: &assertion{token: tok, claims: claims},
	}, nil
}

// Authenticate implements Method.
func (m *AssertionJWT) Authenticate(ctx context.Context, client *storage.Client, res *Resolution) bool {
	if res.assertion == nil {
		return false
	}
	a := res.assertion

	family := jose.FamilyAsymmetric
	if res.Method == storage.AuthMethodClientSecretJWT {
		family = jose.FamilySymmetric
	}
	err := m.cfg.Verifier.Verify(ctx, a.token, client, jose.VerifyOptions{
		Algorithm: client.TokenEndpointAuthSigningAlg(),
		Family:    family,
	})
	if err != nil {
		m.cfg.Logger.Debug("Client assertion signature rejected", "client_id", client.ID(), "error", err)
		return false
	}

	err = jose.ValidateClaims(a.claims, jose.ClaimsOptions{
		Issuer:            client.ID(),
		Subject:           client.ID(),
		RequireExpiration: true,
		Leeway:            m.cfg.Leeway,
		Now:               m.cfg.Now,
	})
	if err != nil {
		m.cfg.Logger.Debug("Client assertion claims rejected", "client_id", client.ID(), "error", err)
		return false
	}
	if !jose.AudienceAccepted(a.claims["aud"], m.cfg.Audiences) {
		m.cfg.Logger.Debug("Client assertion audience rejected", "client_id", client.ID())
		return false
	}

	jti, _ := jose.StringClaim(a.claims, "jti")
	if jti == "" {
		return false
	}
	return m.markSeen(client.ID(), jti, a.claims["exp"])
}

// markSeen records jti and reports false when it was already used.
func (m *AssertionJWT) markSeen(clientID, jti string, exp any) bool {
	if m.replay.MarkSeen(clientID, jti, exp) {
		return true
	}
	m.cfg.Auditor.LogEvent(security.Event{
		Type:     security.EventClientAssertionReplay,
		ClientID: clientID,
		Details:  map[string]any{"jti_prefix": jti[:min(len(jti), 8)]},
	})
	return false
}
