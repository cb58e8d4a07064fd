package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"slices"

	gojose "github.com/go-jose/go-jose/v4"

	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/security"
)

const oauth21SecurityBestPracticesURL = "https://datatracker.ietf.org/doc/html/draft-ietf-oauth-v2-1-10#section-4.1.1"

// validateConfig checks a configuration that already went through
// applySecureDefaults. All problems are reported together.
func validateConfig(config *Config, logger *slog.Logger) error {
	var errs []error

	if err := validateIssuer(config, logger); err != nil {
		errs = append(errs, err)
	}

	for name, v := range map[string]int64{
		"authorization_code_ttl":       config.AuthorizationCodeTTL,
		"access_token_ttl":             config.AccessTokenTTL,
		"refresh_token_ttl":            config.RefreshTokenTTL,
		"id_token_ttl":                 config.IDTokenTTL,
		"authorization_session_ttl":    config.AuthorizationSessionTTL,
		"clock_skew_grace_period":      config.ClockSkewGracePeriod,
		"request_object.fetch_timeout": config.RequestObject.FetchTimeout,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative (got %d)", name, v))
		}
	}
	if config.TrustedProxyCount < 0 {
		errs = append(errs, fmt.Errorf("trusted_proxy_count must not be negative"))
	}
	if config.RateLimit.RequestsPerSecond < 0 || config.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Errorf("rate limit values must not be negative"))
	}

	errs = append(errs, validateScopeConfig(config)...)
	errs = append(errs, validateStorageConfig(config)...)
	errs = append(errs, validateJWTBearerConfig(config)...)
	errs = append(errs, validateCORSConfig(config, logger)...)

	return errors.Join(errs...)
}

// validateIssuer ensures that the server is running over HTTPS in production
// environments. OAuth over HTTP exposes all tokens, authorization codes, and
// client credentials to network interception.
//
// - HTTPS URLs: Always allowed
// - HTTP on localhost: Allowed with warning (development)
// - HTTP on non-localhost: Blocked unless AllowInsecureHTTP=true
func validateIssuer(config *Config, logger *slog.Logger) error {
	if config.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}

	issuerURL, err := url.Parse(config.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}
	if issuerURL.Host == "" {
		return fmt.Errorf("issuer must be an absolute URL (got %q)", config.Issuer)
	}
	if issuerURL.RawQuery != "" || issuerURL.Fragment != "" {
		return fmt.Errorf("issuer must not contain a query or fragment")
	}

	switch issuerURL.Scheme {
	case "https":
		return nil
	case "http":
	default:
		return fmt.Errorf("invalid issuer URL scheme: %s (must be http or https)", issuerURL.Scheme)
	}

	hostname := issuerURL.Hostname()
	if isLocalhostHostname(hostname) {
		if !config.AllowInsecureHTTP {
			logger.Warn("DEVELOPMENT WARNING: Running OAuth over HTTP on localhost",
				"issuer", config.Issuer,
				"risk", "Credentials exposed on local network",
				"recommendation", "Use HTTPS even in development for production-like testing",
				"to_suppress", "Set AllowInsecureHTTP=true in Config",
				"learn_more", oauth21SecurityBestPracticesURL)
		}
		return nil
	}

	if !config.AllowInsecureHTTP {
		return fmt.Errorf(
			"SECURITY ERROR: Issuer must use HTTPS in production (got %s://%s). "+
				"OAuth over HTTP exposes tokens and credentials to interception. "+
				"To run on localhost for development, set AllowInsecureHTTP=true",
			issuerURL.Scheme,
			hostname,
		)
	}

	logger.Error("CRITICAL SECURITY WARNING: Running OAuth server over HTTP",
		"issuer", config.Issuer,
		"hostname", hostname,
		"risk", "All tokens and credentials exposed to network sniffing and MITM attacks",
		"action_required", "Switch to HTTPS immediately",
		"learn_more", oauth21SecurityBestPracticesURL)
	return nil
}

// isLocalhostHostname checks if a hostname refers to the local machine.
// This includes the whole IPv4 loopback range, IPv6 loopback, localhost
// and 0.0.0.0 (bind-all in dev).
func isLocalhostHostname(hostname string) bool {
	if hostname == "localhost" || hostname == "0.0.0.0" {
		return true
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

func validateScopeConfig(config *Config) []error {
	var errs []error
	for _, s := range append(slices.Clone(config.SupportedScopes), config.DefaultScopes...) {
		if !scope.ValidSyntax(s) || len(scope.Parse(s)) != 1 {
			errs = append(errs, fmt.Errorf("invalid scope %q: scopes are single tokens of printable ASCII without quotes or backslashes", s))
		}
	}
	if _, ok := scope.PolicyByName(config.ScopePolicy, config.DefaultScopes); !ok {
		errs = append(errs, fmt.Errorf("unknown scope_policy %q", config.ScopePolicy))
	}
	if len(config.SupportedScopes) > 0 && !scope.IsSubset(config.DefaultScopes, config.SupportedScopes) {
		errs = append(errs, fmt.Errorf("default_scopes must be a subset of supported_scopes"))
	}
	return errs
}

func validateStorageConfig(config *Config) []error {
	var errs []error
	switch config.Storage.Backend {
	case StorageMemory:
	case StorageValkey:
		if config.Storage.Valkey.Address == "" {
			errs = append(errs, fmt.Errorf("storage.valkey.address is required for the valkey backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q (must be %s or %s)", config.Storage.Backend, StorageMemory, StorageValkey))
	}

	if config.Storage.EncryptionKey != "" {
		if _, err := security.KeyFromBase64(config.Storage.EncryptionKey); err != nil {
			errs = append(errs, fmt.Errorf("invalid storage.encryption_key: %w", err))
		}
	}
	return errs
}

func validateJWTBearerConfig(config *Config) []error {
	var errs []error
	seen := map[string]bool{}
	for i, ti := range config.JWTBearer.TrustedIssuers {
		if ti.Issuer == "" {
			errs = append(errs, fmt.Errorf("jwt_bearer.trusted_issuers[%d]: issuer is required", i))
			continue
		}
		if seen[ti.Issuer] {
			errs = append(errs, fmt.Errorf("jwt_bearer.trusted_issuers[%d]: duplicate issuer %s", i, ti.Issuer))
		}
		seen[ti.Issuer] = true
		if _, err := parseKeySet(ti.JWKS); err != nil {
			errs = append(errs, fmt.Errorf("jwt_bearer.trusted_issuers[%d] (%s): %w", i, ti.Issuer, err))
		}
	}
	return errs
}

// parseKeySet decodes a JWK Set document with at least one key.
func parseKeySet(doc string) (*gojose.JSONWebKeySet, error) {
	var set gojose.JSONWebKeySet
	if err := json.Unmarshal([]byte(doc), &set); err != nil {
		return nil, fmt.Errorf("invalid JWK Set: %w", err)
	}
	if len(set.Keys) == 0 {
		return nil, fmt.Errorf("JWK Set has no keys")
	}
	return &set, nil
}
