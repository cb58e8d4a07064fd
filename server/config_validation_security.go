package server

import (
	"log/slog"
)

// absoluteMinStateLength is the floor applied to MinStateLength when state
// is required.
const absoluteMinStateLength = 8

// applySecurityDefaults sets secure defaults for security-related configuration.
// This follows the principle: secure by default, explicit opt-out for less security.
//
// Security features enabled unless explicitly disabled:
//   - AllowRefreshTokenRotation (DisableRefreshTokenRotation)
//   - RequirePKCEForPublicClients (DisablePKCEForPublicClients)
//   - state parameter required (AllowNoStateParameter)
func applySecurityDefaults(config *Config, logger *slog.Logger) {
	// Go's zero value for bools is false, so the secure setting is derived
	// from an explicit Disable* field.
	config.AllowRefreshTokenRotation = !config.DisableRefreshTokenRotation
	config.RequirePKCEForPublicClients = !config.DisablePKCEForPublicClients || config.RequirePKCE

	if !config.AllowNoStateParameter && config.MinStateLength < absoluteMinStateLength {
		if config.MinStateLength != 0 {
			logger.Warn("SECURITY WARNING: MinStateLength below recommended minimum, enforcing floor",
				"configured", config.MinStateLength,
				"enforced_minimum", absoluteMinStateLength,
				"risk", "reduced CSRF protection entropy")
		}
		config.MinStateLength = absoluteMinStateLength
	}

	// Log warnings for insecure settings (whether explicitly set or not)
	logSecurityWarnings(config, logger)
}

// logSecurityWarnings logs warnings for insecure configuration settings.
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	logCoreSecurityWarnings(config, logger)
	logRequestObjectSecurityStatus(config, logger)
}

// logCoreSecurityWarnings logs warnings for core OAuth security settings.
func logCoreSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.DisablePKCEForPublicClients && !config.RequirePKCE {
		logger.Warn("SECURITY WARNING: PKCE is NOT REQUIRED for public clients",
			"risk", "Authorization code interception attacks",
			"recommendation", "Unset DisablePKCEForPublicClients for OAuth 2.1 compliance",
			"learn_more", "https://datatracker.ietf.org/doc/html/draft-ietf-oauth-v2-1-10#section-7.6")
	}
	if config.AllowPKCEPlain {
		logger.Warn("SECURITY WARNING: Plain PKCE method is ALLOWED",
			"risk", "Weak code challenge protection",
			"recommendation", "Set AllowPKCEPlain=false to require S256",
			"learn_more", "https://datatracker.ietf.org/doc/html/rfc7636#section-4.2")
	}
	if config.DisableRefreshTokenRotation {
		logger.Warn("SECURITY WARNING: Refresh token rotation is DISABLED",
			"risk", "A leaked refresh token stays usable until it expires",
			"recommendation", "Unset DisableRefreshTokenRotation",
			"learn_more", "https://datatracker.ietf.org/doc/html/draft-ietf-oauth-security-topics#section-4.14")
	}
	if config.TrustProxy {
		logger.Warn("SECURITY NOTICE: Trusting proxy headers",
			"risk", "IP spoofing if proxy is not properly configured",
			"recommendation", "Only enable behind trusted reverse proxies",
			"config", "TrustedProxyCount should match your proxy chain length")
	}
	if config.AllowNoStateParameter {
		logger.Warn("SECURITY WARNING: State parameter is NOT REQUIRED",
			"risk", "CSRF attacks possible without state parameter",
			"recommendation", "Set AllowNoStateParameter=false unless required for client compatibility")
	}
	if config.Password.Enabled {
		logger.Warn("SECURITY NOTICE: Resource owner password grant is ENABLED",
			"risk", "Clients handle user passwords directly",
			"recommendation", "Prefer the authorization code grant",
			"public_clients", config.Password.AllowPublicClients)
	}
	if config.RateLimit.Disabled {
		logger.Warn("SECURITY WARNING: Token endpoint rate limiting is DISABLED",
			"risk", "Brute force of client secrets and codes",
			"recommendation", "Keep rate limiting enabled or enforce it at the proxy")
	}
	if config.DisableAuditLogging {
		logger.Warn("SECURITY NOTICE: Audit logging is DISABLED",
			"risk", "Code reuse and authentication failures go unrecorded")
	}
}

// logRequestObjectSecurityStatus logs the request object configuration status.
func logRequestObjectSecurityStatus(config *Config, logger *slog.Logger) {
	ro := config.RequestObject
	logger.Info("Request object security status",
		"request_supported", !ro.Disabled,
		"request_uri_supported", ro.RequestURIEnabled,
		"require_request_uri_registration", ro.RequireRequestURIRegistration,
		"require_encryption", ro.RequireEncryption)

	if ro.AllowUnsigned {
		logger.Warn("SECURITY WARNING: Unsigned request objects are ALLOWED",
			"risk", "Request parameters can be tampered with in transit",
			"recommendation", "Set AllowUnsigned=false and require signed request objects")
	}
	if ro.RequestURIEnabled && !ro.RequireRequestURIRegistration {
		logger.Warn("SECURITY NOTICE: request_uri values are fetched without registration",
			"risk", "The server fetches arbitrary client-supplied URLs",
			"recommendation", "Set RequireRequestURIRegistration=true")
	}
	if ro.AllowPrivateNetworks {
		logger.Warn("SECURITY WARNING: Outbound fetches may reach private networks",
			"risk", "SSRF attacks to internal networks and cloud metadata services",
			"recommendation", "Only enable for closed deployments",
			"learn_more", "https://owasp.org/www-community/attacks/Server_Side_Request_Forgery")
	}
	if ro.AllowHTTP {
		logger.Warn("SECURITY WARNING: Outbound fetches may use plain HTTP",
			"risk", "Request objects and key sets can be intercepted or replaced")
	}
}
