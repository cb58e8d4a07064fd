package jose

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ClaimsOptions describes the registered claims a token must carry.
type ClaimsOptions struct {
	// Issuer, Subject and Audience are checked when non-empty.
	Issuer   string
	Subject  string
	Audience string

	// RequireExpiration rejects tokens without "exp".
	RequireExpiration bool

	// Leeway is the tolerated clock skew.
	Leeway time.Duration

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// ValidateClaims checks the registered claims (exp, nbf, iat, iss, sub, aud)
// of an already verified token.
func ValidateClaims(claims map[string]any, opts ClaimsOptions) error {
	parserOpts := []jwt.ParserOption{jwt.WithLeeway(opts.Leeway)}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Subject != "" {
		parserOpts = append(parserOpts, jwt.WithSubject(opts.Subject))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}
	if opts.RequireExpiration {
		parserOpts = append(parserOpts, jwt.WithExpirationRequired())
	}
	if opts.Now != nil {
		parserOpts = append(parserOpts, jwt.WithTimeFunc(opts.Now))
	}

	if err := jwt.NewValidator(parserOpts...).Validate(jwt.MapClaims(claims)); err != nil {
		return fmt.Errorf("invalid claims: %w", err)
	}
	return nil
}

// StringClaim returns claims[name] when it is a string.
func StringClaim(claims map[string]any, name string) (string, bool) {
	s, ok := claims[name].(string)
	return s, ok
}
