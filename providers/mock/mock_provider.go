// Package mock provides a mock implementation of the AccountProvider interface for testing.
package mock

import (
	"context"
	"sync"

	"github.com/giantswarm/oauth-engine/providers"
)

// MockProvider is a mock implementation of the AccountProvider interface for testing
type MockProvider struct {
	// AuthenticateFunc is called when Authenticate() is invoked
	AuthenticateFunc func(ctx context.Context, username, password string) (*providers.UserInfo, error)

	// LookupFunc is called when Lookup() is invoked
	LookupFunc func(ctx context.Context, id string) (*providers.UserInfo, error)

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	// mu protects CallCounts from concurrent access
	mu sync.RWMutex
}

var _ providers.AccountProvider = (*MockProvider)(nil)

// DefaultUser is returned by the default implementations.
func DefaultUser() *providers.UserInfo {
	return &providers.UserInfo{
		ID:            "mock-user-123",
		Username:      "mock",
		Email:         "mock@example.com",
		EmailVerified: true,
		Name:          "Mock User",
		GivenName:     "Mock",
		FamilyName:    "User",
	}
}

// NewMockProvider creates a new mock provider with default implementations.
// The default Authenticate accepts the password "mock-password" for any username.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		CallCounts: make(map[string]int),
		AuthenticateFunc: func(_ context.Context, _, password string) (*providers.UserInfo, error) {
			if password != "mock-password" {
				return nil, providers.ErrInvalidCredentials
			}
			return DefaultUser(), nil
		},
		LookupFunc: func(_ context.Context, id string) (*providers.UserInfo, error) {
			u := DefaultUser()
			if id != u.ID {
				return nil, providers.ErrUserNotFound
			}
			return u, nil
		},
	}
}

// Authenticate checks a username and password
func (m *MockProvider) Authenticate(ctx context.Context, username, password string) (*providers.UserInfo, error) {
	// Release lock BEFORE calling user function, it may call other mock methods
	m.mu.Lock()
	m.CallCounts["Authenticate"]++
	fn := m.AuthenticateFunc
	m.mu.Unlock()

	if fn == nil {
		return nil, providers.ErrInvalidCredentials
	}
	return fn(ctx, username, password)
}

// Lookup returns an account by ID
func (m *MockProvider) Lookup(ctx context.Context, id string) (*providers.UserInfo, error) {
	m.mu.Lock()
	m.CallCounts["Lookup"]++
	fn := m.LookupFunc
	m.mu.Unlock()
	if fn == nil {
		return nil, providers.ErrUserNotFound
	}
	return fn(ctx, id)
}

// ResetCallCounts resets all call counters
func (m *MockProvider) ResetCallCounts() {
	m.mu.Lock()
	m.CallCounts = make(map[string]int)
	m.mu.Unlock()
}

// GetCallCount returns the number of times a method was called
func (m *MockProvider) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}
