package server

import (
	"log/slog"
	"strings"

	"github.com/giantswarm/oauth-engine/scope"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageValkey = "valkey"
)

// Config holds the authorization server configuration.
//
// Durations are expressed in seconds so they read naturally from YAML and
// environment variables.
type Config struct {
	// Issuer is the server's issuer identifier (base URL). Endpoint URLs are
	// derived from it.
	Issuer string `koanf:"issuer"`

	// AllowInsecureHTTP permits an http issuer on a non-loopback host.
	// WARNING: exposes every credential to interception
	// Default: false
	AllowInsecureHTTP bool `koanf:"allow_insecure_http"`

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 `koanf:"authorization_code_ttl"` // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 `koanf:"access_token_ttl"` // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 `koanf:"refresh_token_ttl"` // seconds, default: 7776000 (90 days)

	// IDTokenTTL is how long ID tokens are valid
	IDTokenTTL int64 `koanf:"id_token_ttl"` // seconds, default: 3600 (1 hour)

	// AuthorizationSessionTTL bounds how long a pending authorization request
	// waits for login and consent
	AuthorizationSessionTTL int64 `koanf:"authorization_session_ttl"` // seconds, default: 600 (10 minutes)

	// ClockSkewGracePeriod is tolerated on expiry checks and JWT time claims
	ClockSkewGracePeriod int64 `koanf:"clock_skew_grace_period"` // seconds, default: 5

	// DisableRefreshTokenRotation keeps refresh tokens valid across refreshes.
	// WARNING: a stolen refresh token stays usable until it expires
	// Default: false (rotation enabled)
	DisableRefreshTokenRotation bool `koanf:"disable_refresh_token_rotation"`

	// AllowRefreshTokenRotation is derived from DisableRefreshTokenRotation.
	AllowRefreshTokenRotation bool `koanf:"-"`

	// RequireOfflineAccess issues refresh tokens only when the offline_access
	// scope was granted.
	RequireOfflineAccess bool `koanf:"require_offline_access"`

	// RequirePKCE enforces PKCE for every client, confidential ones included.
	// Default: false (public clients only)
	RequirePKCE bool `koanf:"require_pkce"`

	// DisablePKCEForPublicClients lets public clients skip PKCE.
	// WARNING: authorization code interception becomes possible
	// Default: false
	DisablePKCEForPublicClients bool `koanf:"disable_pkce_for_public_clients"`

	// RequirePKCEForPublicClients is derived from DisablePKCEForPublicClients.
	RequirePKCEForPublicClients bool `koanf:"-"`

	// AllowPKCEPlain allows the 'plain' code_challenge_method (NOT RECOMMENDED)
	// Default: false
	AllowPKCEPlain bool `koanf:"allow_pkce_plain"`

	// AllowNoStateParameter accepts authorization requests without state.
	// Default: false (state required)
	AllowNoStateParameter bool `koanf:"allow_no_state_parameter"`

	// MinStateLength is the minimum accepted state length
	MinStateLength int `koanf:"min_state_length"` // default: 8

	// DisableResponseModeParameter ignores response_mode and always uses the
	// response type's default mode.
	// Default: false
	DisableResponseModeParameter bool `koanf:"disable_response_mode_parameter"`

	// DisableIssuerResponseParameter omits the RFC 9207 iss parameter from
	// authorization responses.
	// Default: false
	DisableIssuerResponseParameter bool `koanf:"disable_issuer_response_parameter"`

	// SupportedScopes lists the scopes the server accepts.
	// If empty, all syntactically valid scopes are accepted.
	SupportedScopes []string `koanf:"supported_scopes"`

	// ScopePolicy decides what happens when a request carries no scope:
	// "none" (empty grant), "default" (DefaultScopes) or "error".
	ScopePolicy string `koanf:"scope_policy"` // default: "none"

	// DefaultScopes are granted under the "default" policy when the client
	// has no default of its own.
	DefaultScopes []string `koanf:"default_scopes"`

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers
	// WARNING: Only enable if behind a trusted reverse proxy (nginx, HAProxy, etc.)
	// Default: false
	TrustProxy bool `koanf:"trust_proxy"`

	// TrustedProxyCount is the number of trusted proxies in front of this server
	// The client IP will be extracted as: ips[len(ips) - TrustedProxyCount - 1]
	// Default: 1
	TrustedProxyCount int `koanf:"trusted_proxy_count"`

	// DisableAuditLogging turns off security audit events.
	DisableAuditLogging bool `koanf:"disable_audit_logging"`

	RateLimit       RateLimitConfig       `koanf:"rate_limit"`
	RequestObject   RequestObjectConfig   `koanf:"request_object"`
	Password        PasswordGrantConfig   `koanf:"password"`
	JWTBearer       JWTBearerGrantConfig  `koanf:"jwt_bearer"`
	Storage         StorageConfig         `koanf:"storage"`
	Instrumentation InstrumentationConfig `koanf:"instrumentation"`
	CORS            CORSConfig            `koanf:"cors"`
}

// CORSConfig holds Cross-Origin Resource Sharing settings for the token,
// introspection, revocation and discovery endpoints. Browser-based public
// clients need it to redeem codes. Disabled when AllowedOrigins is empty.
type CORSConfig struct {
	// AllowedOrigins lists the exact origins allowed, e.g. https://app.example.com.
	AllowedOrigins []string `koanf:"allowed_origins"`

	// AllowWildcardOrigin must be set for "*" to be accepted in AllowedOrigins.
	AllowWildcardOrigin bool `koanf:"allow_wildcard_origin"`

	// AllowCredentials sets Access-Control-Allow-Credentials. Cannot be
	// combined with the wildcard origin.
	AllowCredentials bool `koanf:"allow_credentials"`

	// MaxAge is the preflight cache duration in seconds. Default: 3600
	MaxAge int `koanf:"max_age"`
}

// RateLimitConfig holds per-IP rate limiting of the token endpoint.
type RateLimitConfig struct {
	// Disabled turns rate limiting off.
	Disabled bool `koanf:"disabled"`

	// RequestsPerSecond allowed per client IP. Default: 10
	RequestsPerSecond int `koanf:"requests_per_second"`

	// Burst is the maximum burst size allowed per client IP. Default: 20
	Burst int `koanf:"burst"`

	// MaxEntries bounds the number of tracked IPs. Default: 10000
	MaxEntries int `koanf:"max_entries"`
}

// RequestObjectConfig holds the request and request_uri parameter settings.
type RequestObjectConfig struct {
	// Disabled refuses the request parameter.
	Disabled bool `koanf:"disabled"`

	// RequestURIEnabled accepts request_uri. The server then fetches
	// client-supplied URLs.
	RequestURIEnabled bool `koanf:"request_uri_enabled"`

	// RequireRequestURIRegistration requires request_uri values to be
	// pre-registered by the client.
	RequireRequestURIRegistration bool `koanf:"require_request_uri_registration"`

	// RequireEncryption refuses request objects that are not encrypted.
	RequireEncryption bool `koanf:"require_encryption"`

	// AllowUnsigned accepts request objects with "alg": "none".
	// WARNING: request parameters are then not integrity protected
	AllowUnsigned bool `koanf:"allow_unsigned"`

	// FetchTimeout bounds request_uri and jwks_uri fetches
	FetchTimeout int64 `koanf:"fetch_timeout"` // seconds, default: 5

	// AllowPrivateNetworks lets fetches reach private addresses.
	// WARNING: SSRF protection is disabled
	AllowPrivateNetworks bool `koanf:"allow_private_networks"`

	// AllowHTTP lets fetches use plain http URLs.
	AllowHTTP bool `koanf:"allow_http"`
}

// PasswordGrantConfig holds the resource owner password credentials grant.
type PasswordGrantConfig struct {
	Enabled bool `koanf:"enabled"`

	// AllowPublicClients lets clients without credentials use the grant.
	AllowPublicClients bool `koanf:"allow_public_clients"`

	// IssueRefreshTokens adds a refresh token to password grant responses.
	IssueRefreshTokens bool `koanf:"issue_refresh_tokens"`
}

// JWTBearerGrantConfig holds the RFC 7523 JWT bearer grant.
type JWTBearerGrantConfig struct {
	Enabled bool `koanf:"enabled"`

	// TrustedIssuers lists assertion issuers outside the client registry.
	// Assertions from other issuers must be signed by a registered client.
	TrustedIssuers []TrustedIssuerConfig `koanf:"trusted_issuers"`
}

// TrustedIssuerConfig pairs an assertion issuer with its JWK Set document.
// It is a list entry rather than a map key because issuers contain dots.
type TrustedIssuerConfig struct {
	Issuer string `koanf:"issuer"`
	JWKS   string `koanf:"jwks"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Backend is "memory" or "valkey". Default: "memory"
	Backend string `koanf:"backend"`

	Valkey ValkeyConfig `koanf:"valkey"`

	// EncryptionKey is a base64 encoded 32 byte key used to encrypt records
	// at rest. Only the valkey backend uses it.
	EncryptionKey string `koanf:"encryption_key"`
}

// ValkeyConfig holds the valkey connection.
type ValkeyConfig struct {
	Address   string `koanf:"address"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// InstrumentationConfig holds OpenTelemetry settings.
type InstrumentationConfig struct {
	Enabled        bool   `koanf:"enabled"`
	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`

	// LogClientIPs attaches client IPs to spans. IPs may be personal data.
	LogClientIPs bool `koanf:"log_client_ips"`
}

// Endpoint paths relative to the issuer.
const (
	PathAuthorization = "/authorize"
	PathConsent       = "/authorize/decision"
	PathToken         = "/token"
	PathIntrospection = "/introspect"
	PathRevocation    = "/revoke"
	PathJWKS          = "/jwks.json"
	PathDiscovery     = "/.well-known/openid-configuration"
	PathASMetadata    = "/.well-known/oauth-authorization-server"
)

func (c *Config) endpoint(path string) string {
	return strings.TrimSuffix(c.Issuer, "/") + path
}

// AuthorizationEndpoint returns the authorization endpoint URL.
func (c *Config) AuthorizationEndpoint() string { return c.endpoint(PathAuthorization) }

// TokenEndpoint returns the token endpoint URL.
func (c *Config) TokenEndpoint() string { return c.endpoint(PathToken) }

// IntrospectionEndpoint returns the introspection endpoint URL.
func (c *Config) IntrospectionEndpoint() string { return c.endpoint(PathIntrospection) }

// RevocationEndpoint returns the revocation endpoint URL.
func (c *Config) RevocationEndpoint() string { return c.endpoint(PathRevocation) }

// JWKSEndpoint returns the JWK Set URL.
func (c *Config) JWKSEndpoint() string { return c.endpoint(PathJWKS) }

// applySecureDefaults applies secure-by-default configuration values
// This follows the principle: secure by default, opt-in for less secure options
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	// Apply time-based defaults
	applyTimeDefaults(config)

	applyRateLimitDefaults(config)
	applyStorageDefaults(config)

	// Apply security defaults and log warnings for insecure settings
	applySecurityDefaults(config, logger)

	return config
}

// applyTimeDefaults sets default values for time-based configuration
func applyTimeDefaults(config *Config) {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 7776000 // 90 days
	}
	if config.IDTokenTTL == 0 {
		config.IDTokenTTL = 3600
	}
	if config.AuthorizationSessionTTL == 0 {
		config.AuthorizationSessionTTL = 600
	}
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = 5
	}
	if config.RequestObject.FetchTimeout == 0 {
		config.RequestObject.FetchTimeout = 5
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
}

// applyRateLimitDefaults sets default rate limiting values.
func applyRateLimitDefaults(config *Config) {
	if config.RateLimit.RequestsPerSecond == 0 {
		config.RateLimit.RequestsPerSecond = 10
	}
	if config.RateLimit.Burst == 0 {
		config.RateLimit.Burst = 20
	}
	if config.RateLimit.MaxEntries == 0 {
		config.RateLimit.MaxEntries = 10000
	}
}

func applyStorageDefaults(config *Config) {
	if config.Storage.Backend == "" {
		config.Storage.Backend = StorageMemory
	}
	if config.ScopePolicy == "" {
		config.ScopePolicy = scope.PolicyNameNone
	}
	if config.Instrumentation.ServiceName == "" {
		config.Instrumentation.ServiceName = "oauth-engine"
	}
	if config.CORS.MaxAge == 0 {
		config.CORS.MaxAge = 3600
	}
}
