// Package pkce validates Proof Key for Code Exchange parameters (RFC 7636).
package pkce

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// PKCE validation constants (RFC 7636)
const (
	MinVerifierLength = 43
	MaxVerifierLength = 128
	MethodS256        = "S256"
	MethodPlain       = "plain"
)

var (
	// ErrMissingVerifier is returned when a challenge was registered but no verifier was sent.
	ErrMissingVerifier = errors.New("code_verifier is required when code_challenge is present")

	// ErrUnexpectedVerifier is returned when a verifier is sent for a code issued without a challenge.
	ErrUnexpectedVerifier = errors.New("code_verifier sent but no code_challenge was registered")

	// ErrMismatch is returned when the verifier does not match the challenge.
	ErrMismatch = errors.New("code_verifier does not match code_challenge")
)

// unreserved reports whether s only uses [A-Za-z0-9-._~], the alphabet of
// both verifiers and challenges.
func unreserved(s string) bool {
	for _, ch := range s {
		isValid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !isValid {
			return false
		}
	}
	return true
}

// Method returns the effective challenge method. RFC 7636 defaults a missing
// method to plain.
func Method(method string) string {
	if method == "" {
		return MethodPlain
	}
	return method
}

// ValidateChallenge checks a code_challenge and its method at the
// authorization endpoint.
func ValidateChallenge(challenge, method string, allowPlain bool) error {
	switch Method(method) {
	case MethodS256:
	case MethodPlain:
		if !allowPlain {
			return fmt.Errorf("'%s' code_challenge_method is not allowed", MethodPlain)
		}
	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}

	if len(challenge) < MinVerifierLength || len(challenge) > MaxVerifierLength {
		return fmt.Errorf("code_challenge must be %d to %d characters", MinVerifierLength, MaxVerifierLength)
	}
	if !unreserved(challenge) {
		return fmt.Errorf("code_challenge contains invalid characters (must be [A-Za-z0-9-._~])")
	}
	return nil
}

// Verify checks a code_verifier against the challenge stored with an
// authorization code. An empty challenge requires an empty verifier.
func Verify(challenge, method, verifier string) error {
	if challenge == "" {
		if verifier != "" {
			return ErrUnexpectedVerifier
		}
		return nil
	}
	if verifier == "" {
		return ErrMissingVerifier
	}

	if len(verifier) < MinVerifierLength || len(verifier) > MaxVerifierLength {
		return fmt.Errorf("code_verifier must be %d to %d characters (RFC 7636)", MinVerifierLength, MaxVerifierLength)
	}
	if !unreserved(verifier) {
		return fmt.Errorf("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
	}

	var computed string
	switch Method(method) {
	case MethodS256:
		computed = oauth2.S256ChallengeFromVerifier(verifier)
	case MethodPlain:
		computed = verifier
	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return ErrMismatch
	}
	return nil
}
