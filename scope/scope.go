// Package scope parses and validates OAuth2 scope values and applies the
// policy used when a request carries no scope.
package scope

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/giantswarm/oauth-engine/oautherr"
	"github.com/giantswarm/oauth-engine/storage"
)

// Well-known scope values.
const (
	OpenID        = "openid"
	OfflineAccess = "offline_access"
	Profile       = "profile"
	Email         = "email"
	Address       = "address"
	Phone         = "phone"
)

// RFC 6749 section 3.3: scope-token = 1*( %x21 / %x23-5B / %x5D-7E )
var syntax = regexp.MustCompile(`^[\x20\x23-\x5B\x5D-\x7E]+$`)

// Parse splits a space-delimited scope string. Duplicates are dropped and
// the first-seen order is kept.
func Parse(raw string) []string {
	fields := strings.Fields(raw)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

// Format joins scopes with single spaces.
func Format(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ValidSyntax reports whether raw only contains characters allowed in a
// scope parameter.
func ValidSyntax(raw string) bool {
	return syntax.MatchString(raw)
}

// Contains reports whether scopes includes s.
func Contains(scopes []string, s string) bool {
	return slices.Contains(scopes, s)
}

// IsSubset reports whether every element of requested is in granted.
func IsSubset(requested, granted []string) bool {
	for _, s := range requested {
		if !slices.Contains(granted, s) {
			return false
		}
	}
	return true
}

// Validator checks requested scopes against the server-wide and
// per-client sets.
type Validator struct {
	supported []string
	policy    Policy
}

// NewValidator creates a validator. An empty supported list accepts any
// syntactically valid scope the client allows. A nil policy is PolicyNone.
func NewValidator(supported []string, policy Policy) *Validator {
	if policy == nil {
		policy = PolicyNone{}
	}
	return &Validator{supported: supported, policy: policy}
}

// Supported returns the server-wide scope list.
func (v *Validator) Supported() []string { return slices.Clone(v.supported) }

// Validate parses raw, checks syntax and membership, then applies the policy.
// It returns invalid_scope naming the first offending value.
func (v *Validator) Validate(client *storage.Client, raw string) ([]string, error) {
	if raw != "" && !ValidSyntax(raw) {
		return nil, oautherr.InvalidScope("The scope parameter contains invalid characters")
	}

	requested := Parse(raw)
	clientScopes := client.Scopes()
	for _, s := range requested {
		if len(v.supported) > 0 && !slices.Contains(v.supported, s) {
			return nil, oautherr.InvalidScope(fmt.Sprintf("Scope %q is not supported", s))
		}
		if len(clientScopes) > 0 && !slices.Contains(clientScopes, s) {
			return nil, oautherr.InvalidScope(fmt.Sprintf("Scope %q is not allowed for this client", s))
		}
	}

	return v.policy.Apply(client, requested)
}
