package scope

import (
	"github.com/giantswarm/oauth-engine/oautherr"
	"github.com/giantswarm/oauth-engine/storage"
)

// Policy decides what happens to the requested scope set once it passed
// validation. Policies only act on an empty request.
type Policy interface {
	Name() string
	Apply(client *storage.Client, requested []string) ([]string, error)
}

// Policy names accepted by PolicyByName.
const (
	PolicyNameNone    = "none"
	PolicyNameDefault = "default"
	PolicyNameError   = "error"
)

// PolicyNone accepts the requested set unchanged, including an empty one.
type PolicyNone struct{}

// Name implements Policy.
func (PolicyNone) Name() string { return PolicyNameNone }

// Apply implements Policy.
func (PolicyNone) Apply(_ *storage.Client, requested []string) ([]string, error) {
	return requested, nil
}

// PolicyDefault replaces an empty request with the client's default_scope,
// falling back to the server default.
type PolicyDefault struct {
	Default []string
}

// Name implements Policy.
func (PolicyDefault) Name() string { return PolicyNameDefault }

// Apply implements Policy.
func (p PolicyDefault) Apply(client *storage.Client, requested []string) ([]string, error) {
	if len(requested) > 0 {
		return requested, nil
	}
	if d := client.DefaultScopes(); len(d) > 0 {
		return d, nil
	}
	return append([]string(nil), p.Default...), nil
}

// PolicyError refuses an empty request.
type PolicyError struct{}

// Name implements Policy.
func (PolicyError) Name() string { return PolicyNameError }

// Apply implements Policy.
func (PolicyError) Apply(_ *storage.Client, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return nil, oautherr.InvalidScope("The scope parameter is required")
	}
	return requested, nil
}

// PolicyByName returns the policy registered under name. An unknown name
// returns false.
func PolicyByName(name string, defaults []string) (Policy, bool) {
	switch name {
	case "", PolicyNameNone:
		return PolicyNone{}, true
	case PolicyNameDefault:
		return PolicyDefault{Default: defaults}, true
	case PolicyNameError:
		return PolicyError{}, true
	}
	return nil, false
}
