package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-engine/authorize"
	"github.com/giantswarm/oauth-engine/clientauth"
	"github.com/giantswarm/oauth-engine/grant"
	"github.com/giantswarm/oauth-engine/idtoken"
	"github.com/giantswarm/oauth-engine/instrumentation"
	"github.com/giantswarm/oauth-engine/jose"
	"github.com/giantswarm/oauth-engine/providers"
	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/token"
)

// Options carries the collaborators a Server does not build itself.
type Options struct {
	// Users identifies the logged-in user of an authorization request.
	Users authorize.UserDiscovery

	// Login and Consent render the interactive steps.
	Login   authorize.LoginHandler
	Consent authorize.ConsentHandler

	// ConsentPolicy may pre-approve requests. Default: authorize.FirstPartyConsent
	ConsentPolicy authorize.ConsentPolicy

	// Decrypter opens encrypted request objects and client assertions.
	// Without it encrypted ones are refused.
	Decrypter *jose.Decrypter

	// Instrumentation overrides the one built from Config.Instrumentation.
	Instrumentation *instrumentation.Instrumentation

	// Now replaces the clock of every component. Default: time.Now
	Now func() time.Time
}

// Server wires the protocol components into an authorization server.
type Server struct {
	Config *Config
	Logger *slog.Logger

	Auditor         *security.Auditor
	RateLimiter     *security.RateLimiter
	Instrumentation *instrumentation.Instrumentation
	Repositories    Repositories

	Signer    *jose.Signer
	Decrypter *jose.Decrypter
	IDTokens  *idtoken.Issuer
	Scopes    *scope.Validator

	TokenTypes    *token.Registry
	TokenIssuer   *token.Issuer
	Tokens        *token.Manager
	ClientAuth    *clientauth.Manager
	ResponseTypes *authorize.ResponseTypeRegistry
	ResponseModes *authorize.ResponseModeRegistry
	Checkers      *authorize.Chain
	Grants        *grant.Registry

	// Authorization and Token are the two protocol endpoints.
	Authorization *authorize.Endpoint
	Token         *grant.Endpoint

	tracer trace.Tracer
	now    func() time.Time
}

// New creates a new authorization server. The signer is required; it signs
// ID tokens and its public key is published as the JWK Set.
func New(
	repos Repositories,
	accounts providers.AccountProvider,
	signer *jose.Signer,
	opts Options,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if err := repos.validate(); err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ConsentPolicy == nil {
		opts.ConsentPolicy = authorize.FirstPartyConsent{}
	}

	config = applySecureDefaults(config, logger)
	if err := validateConfig(config, logger); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	inst := opts.Instrumentation
	if inst == nil {
		var err error
		inst, err = instrumentation.New(instrumentation.Config{
			Enabled:        config.Instrumentation.Enabled,
			ServiceName:    config.Instrumentation.ServiceName,
			ServiceVersion: config.Instrumentation.ServiceVersion,
			LogClientIPs:   config.Instrumentation.LogClientIPs,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
		}
	}

	s := &Server{
		Config:          config,
		Logger:          logger,
		Auditor:         security.NewAuditor(logger, !config.DisableAuditLogging),
		Instrumentation: inst,
		Repositories:    repos,
		Signer:          signer,
		Decrypter:       opts.Decrypter,
		tracer:          inst.Tracer("server"),
		now:             opts.Now,
	}
	if !config.RateLimit.Disabled {
		s.RateLimiter = security.NewRateLimiterWithConfig(
			config.RateLimit.RequestsPerSecond,
			config.RateLimit.Burst,
			config.RateLimit.MaxEntries,
			logger)
	}

	if err := s.build(accounts, opts); err != nil {
		return nil, err
	}

	logger.Info("Authorization server initialized",
		"issuer", config.Issuer,
		"response_types", s.ResponseTypes.Names(),
		"grant_types", s.Grants.Names(),
		"auth_methods", s.ClientAuth.SupportedMethods(),
		"signing_alg", signer.Algorithm())
	return s, nil
}

func seconds(n int64) time.Duration { return time.Duration(n) * time.Second }

// build creates the protocol components bottom-up.
func (s *Server) build(accounts providers.AccountProvider, opts Options) error {
	cfg := s.Config
	now := opts.Now
	metrics := s.Instrumentation.Metrics()
	skew := seconds(cfg.ClockSkewGracePeriod)

	fetcher := security.NewFetcher(security.FetcherConfig{
		Timeout:              seconds(cfg.RequestObject.FetchTimeout),
		AllowPrivateNetworks: cfg.RequestObject.AllowPrivateNetworks,
		AllowHTTP:            cfg.RequestObject.AllowHTTP,
	})
	keys := jose.NewClientKeyResolver(jose.NewJKUFetcher(fetcher, 0, s.Logger))
	verifier := jose.NewVerifier(keys)

	idTokens, err := idtoken.New(idtoken.Config{
		Issuer:    cfg.Issuer,
		Signer:    s.Signer,
		Encrypter: jose.NewEncrypter(keys),
		Accounts:  accounts,
		TTL:       seconds(cfg.IDTokenTTL),
		Now:       now,
		Logger:    s.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create ID token issuer: %w", err)
	}
	s.IDTokens = idTokens

	policy, _ := scope.PolicyByName(cfg.ScopePolicy, cfg.DefaultScopes)
	s.Scopes = scope.NewValidator(cfg.SupportedScopes, policy)

	s.TokenTypes = token.NewRegistry()
	s.TokenIssuer = token.NewIssuer(token.IssuerConfig{
		AccessTokens:    s.Repositories.AccessTokens,
		RefreshTokens:   s.Repositories.RefreshTokens,
		AccessTokenTTL:  seconds(cfg.AccessTokenTTL),
		RefreshTokenTTL: seconds(cfg.RefreshTokenTTL),
		Now:             now,
	})
	s.Tokens = token.NewManager(token.ManagerConfig{
		Hints: []token.TypeHint{
			token.NewAccessTokenHint(s.Repositories.AccessTokens, cfg.Issuer, now),
			token.NewRefreshTokenHint(s.Repositories.RefreshTokens, s.Repositories.AccessTokens, cfg.Issuer, now),
		},
		Auditor: s.Auditor,
		Metrics: metrics,
		Logger:  s.Logger,
	})

	audiences := []string{cfg.Issuer, cfg.TokenEndpoint()}
	s.ClientAuth = clientauth.NewManager(clientauth.Config{
		Clients: s.Repositories.Clients,
		Methods: append(clientauth.DefaultMethods(now), clientauth.NewAssertionJWT(clientauth.AssertionConfig{
			Verifier:  verifier,
			Decrypter: s.Decrypter,
			Audiences: audiences,
			Auditor:   s.Auditor,
			Logger:    s.Logger,
			Now:       now,
		})),
		Auditor: s.Auditor,
		Logger:  s.Logger,
		Now:     now,
	})

	s.buildAuthorization(opts, fetcher, verifier)
	return s.buildToken(accounts, verifier, audiences, skew)
}

func (s *Server) buildAuthorization(opts Options, fetcher *security.Fetcher, verifier *jose.Verifier) {
	cfg := s.Config
	now := opts.Now

	s.ResponseTypes = authorize.DefaultResponseTypes(
		authorize.NewCodeResponseType(authorize.CodeConfig{
			Codes:   s.Repositories.AuthorizationCodes,
			TTL:     seconds(cfg.AuthorizationCodeTTL),
			Now:     now,
			Auditor: s.Auditor,
			Logger:  s.Logger,
		}),
		authorize.NewTokenResponseType(s.TokenIssuer, s.TokenTypes, s.Auditor),
		authorize.NewIDTokenResponseType(s.IDTokens),
	)
	s.ResponseModes = authorize.DefaultResponseModes(cfg.Issuer)

	s.Checkers = authorize.DefaultCheckers(authorize.CheckerConfig{
		ResponseTypes:               s.ResponseTypes,
		ResponseModes:               s.ResponseModes,
		AllowResponseMode:           !cfg.DisableResponseModeParameter,
		Scopes:                      s.Scopes,
		TokenTypes:                  s.TokenTypes,
		RequireState:                !cfg.AllowNoStateParameter,
		MinStateLength:              cfg.MinStateLength,
		RequirePKCE:                 cfg.RequirePKCE,
		RequirePKCEForPublicClients: cfg.RequirePKCEForPublicClients,
		AllowPKCEPlain:              cfg.AllowPKCEPlain,
		Auditor:                     s.Auditor,
	})

	loader := authorize.NewLoader(authorize.LoaderConfig{
		Clients:                       s.Repositories.Clients,
		Issuer:                        cfg.Issuer,
		RequestObjectSupported:        !cfg.RequestObject.Disabled,
		RequestURISupported:           cfg.RequestObject.RequestURIEnabled,
		Fetcher:                       fetcher,
		RequireRequestURIRegistration: cfg.RequestObject.RequireRequestURIRegistration,
		Verifier:                      verifier,
		Decrypter:                     s.Decrypter,
		RequireEncryption:             cfg.RequestObject.RequireEncryption,
		AllowUnsigned:                 cfg.RequestObject.AllowUnsigned,
		Leeway:                        seconds(cfg.ClockSkewGracePeriod),
		Auditor:                       s.Auditor,
		Metrics:                       s.Instrumentation.Metrics(),
		Logger:                        s.Logger,
		Now:                           now,
	})

	s.Authorization = authorize.NewEndpoint(authorize.EndpointConfig{
		Loader:                  loader,
		Checkers:                s.Checkers,
		ResponseTypes:           s.ResponseTypes,
		ResponseModes:           s.ResponseModes,
		Clients:                 s.Repositories.Clients,
		Sessions:                s.Repositories.Sessions,
		SessionTTL:              seconds(cfg.AuthorizationSessionTTL),
		Users:                   opts.Users,
		Login:                   opts.Login,
		Consent:                 opts.Consent,
		ConsentPolicy:           opts.ConsentPolicy,
		Issuer:                  cfg.Issuer,
		IssuerResponseParameter: !cfg.DisableIssuerResponseParameter,
		Auditor:                 s.Auditor,
		Metrics:                 s.Instrumentation.Metrics(),
		Tracer:                  s.Instrumentation.Tracer("authorize"),
		Logger:                  s.Logger,
		Now:                     now,
	})
}

func (s *Server) buildToken(accounts providers.AccountProvider, verifier *jose.Verifier, audiences []string, skew time.Duration) error {
	cfg := s.Config
	now := s.now
	metrics := s.Instrumentation.Metrics()

	grants := []grant.GrantType{
		grant.NewAuthorizationCode(grant.AuthorizationCodeConfig{
			Codes:         s.Repositories.AuthorizationCodes,
			AccessTokens:  s.Repositories.AccessTokens,
			RefreshTokens: s.Repositories.RefreshTokens,
			ClockSkew:     skew,
			Auditor:       s.Auditor,
			Metrics:       metrics,
			Logger:        s.Logger,
			Now:           now,
		}),
		grant.NewClientCredentials(s.Scopes),
		grant.NewRefreshToken(grant.RefreshTokenConfig{
			RefreshTokens:   s.Repositories.RefreshTokens,
			AccessTokens:    s.Repositories.AccessTokens,
			DisableRotation: !cfg.AllowRefreshTokenRotation,
			ClockSkew:       skew,
			Auditor:         s.Auditor,
			Logger:          s.Logger,
			Now:             now,
		}),
		grant.Implicit{},
	}

	if cfg.Password.Enabled {
		if accounts == nil {
			return fmt.Errorf("the password grant requires an account provider")
		}
		grants = append(grants, grant.NewPassword(grant.PasswordConfig{
			Accounts:           accounts,
			Scopes:             s.Scopes,
			AllowPublicClients: cfg.Password.AllowPublicClients,
			IssueRefreshTokens: cfg.Password.IssueRefreshTokens,
			Auditor:            s.Auditor,
			Logger:             s.Logger,
			Now:                now,
		}))
	}

	if cfg.JWTBearer.Enabled {
		trusted := make(map[string]*gojose.JSONWebKeySet, len(cfg.JWTBearer.TrustedIssuers))
		for _, ti := range cfg.JWTBearer.TrustedIssuers {
			set, err := parseKeySet(ti.JWKS)
			if err != nil {
				return fmt.Errorf("trusted issuer %s: %w", ti.Issuer, err)
			}
			trusted[ti.Issuer] = set
		}
		grants = append(grants, grant.NewJWTBearer(grant.JWTBearerConfig{
			Clients:        s.Repositories.Clients,
			Verifier:       verifier,
			TrustedIssuers: trusted,
			Audiences:      audiences,
			Scopes:         s.Scopes,
			Auditor:        s.Auditor,
			Logger:         s.Logger,
			Now:            now,
		}))
	}
	s.Grants = grant.NewRegistry(grants...)

	s.Token = grant.NewEndpoint(grant.EndpointConfig{
		Grants:               s.Grants,
		ClientAuth:           s.ClientAuth,
		TokenTypes:           s.TokenTypes,
		Issuer:               s.TokenIssuer,
		After:                grant.NewAfterChain(grant.IDTokenExtension{Issuer: s.IDTokens}),
		RequireOfflineAccess: cfg.RequireOfflineAccess,
		IssuerURL:            cfg.Issuer,
		RateLimiter:          s.RateLimiter,
		TrustProxy:           cfg.TrustProxy,
		TrustedProxyCount:    cfg.TrustedProxyCount,
		Auditor:              s.Auditor,
		Metrics:              metrics,
		Tracer:               s.Instrumentation.Tracer("token"),
		Logger:               s.Logger,
		Now:                  now,
	})
	return nil
}

// ClientIP returns the caller's address honouring the proxy settings.
func (s *Server) ClientIP(r *http.Request) string {
	return security.GetClientIP(r, s.Config.TrustProxy, s.Config.TrustedProxyCount)
}

// Now returns the server's current time.
func (s *Server) Now() time.Time { return s.now() }

// PublicKeys returns the JWK Set published at the JWKS endpoint: the signing
// key and, when configured, the request object encryption keys.
func (s *Server) PublicKeys() gojose.JSONWebKeySet {
	set := s.Signer.PublicJWKS()
	if s.Decrypter != nil {
		set.Keys = append(set.Keys, s.Decrypter.PublicJWKS()...)
	}
	return set
}

// Tracer returns the server's tracer.
func (s *Server) Tracer() trace.Tracer { return s.tracer }

// Shutdown flushes telemetry and closes the storage backend.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.Repositories.Close != nil {
		s.Repositories.Close()
	}
	if s.Instrumentation != nil {
		return s.Instrumentation.Shutdown(ctx)
	}
	return nil
}
