package server

import (
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
)

// validateCORSConfig validates CORS configuration for security and correctness.
//
// Validates:
//   - Wildcard origin requires explicit opt-in (security)
//   - Wildcard cannot be used with credentials (CORS spec)
//   - Origins must be valid URLs with scheme and host
//   - HTTPS required in production (unless AllowInsecureHTTP)
func validateCORSConfig(config *Config, logger *slog.Logger) []error {
	cors := config.CORS
	if len(cors.AllowedOrigins) == 0 {
		return nil
	}

	var errs []error
	if cors.MaxAge < 0 {
		errs = append(errs, fmt.Errorf("cors.max_age must not be negative"))
	}

	// Browsers reject this combination, so fail at startup.
	if cors.AllowCredentials && slices.Contains(cors.AllowedOrigins, "*") {
		errs = append(errs, fmt.Errorf("CORS: cannot use wildcard '*' with allow_credentials (violates CORS specification)"))
	}

	for _, origin := range cors.AllowedOrigins {
		if err := validateCORSOrigin(origin, config, logger); err != nil {
			errs = append(errs, err)
		}
	}

	logger.Debug("CORS configuration validated",
		"allowed_origins_count", len(cors.AllowedOrigins),
		"allow_credentials", cors.AllowCredentials,
		"max_age", cors.MaxAge)
	return errs
}

// validateCORSOrigin validates a single CORS origin for security and correctness.
func validateCORSOrigin(origin string, config *Config, logger *slog.Logger) error {
	if origin == "*" {
		if !config.CORS.AllowWildcardOrigin {
			return fmt.Errorf("CORS: wildcard origin '*' requires allow_wildcard_origin=true. " +
				"This allows ANY website to make cross-origin requests to your authorization server")
		}
		logger.Warn("CORS: Wildcard origin (*) enabled via AllowWildcardOrigin=true",
			"risk", "Allows ANY website to make requests to this server",
			"security_impact", "Increased CSRF attack surface",
			"recommendation", "Use specific origins (e.g., https://app.example.com) in production")
		return nil
	}

	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("CORS: invalid origin format '%s' (must be scheme://host, e.g., https://app.example.com)", origin)
	}
	if strings.HasSuffix(origin, "/") || (u.Path != "" && u.Path != "/") {
		return fmt.Errorf("CORS: origin '%s' must not have a path (use %s://%s)", origin, u.Scheme, u.Host)
	}

	if u.Scheme == "http" && !config.AllowInsecureHTTP {
		if !isLocalhostHostname(u.Hostname()) {
			return fmt.Errorf("CORS: HTTP origin '%s' not allowed (use HTTPS or set allow_insecure_http for development)", origin)
		}
		logger.Warn("CORS: HTTP origin allowed for localhost/development",
			"origin", origin,
			"recommendation", "Use HTTPS origins in production")
	}
	return nil
}
