package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when the user does not exist so that
// unknown and known usernames take similar time.
var dummyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("unused-password"), bcrypt.DefaultCost)
	return h
})

type account struct {
	info UserInfo
	hash []byte
}

// Static is an in-memory AccountProvider with bcrypt password hashes.
type Static struct {
	mu         sync.RWMutex
	byID       map[string]*account
	byUsername map[string]*account
	cost       int
	logger     *slog.Logger
}

var _ AccountProvider = (*Static)(nil)

// NewStatic creates an empty provider.
func NewStatic(logger *slog.Logger) *Static {
	if logger == nil {
		logger = slog.Default()
	}
	return &Static{
		byID:       make(map[string]*account),
		byUsername: make(map[string]*account),
		cost:       bcrypt.DefaultCost,
		logger:     logger,
	}
}

// SetCost changes the bcrypt cost used by AddUser.
func (s *Static) SetCost(cost int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cost = cost
}

// AddUser stores an account, hashing password. An empty password creates an
// account that cannot log in through Authenticate.
func (s *Static) AddUser(info UserInfo, password string) error {
	if info.ID == "" {
		return fmt.Errorf("user ID is required")
	}
	if info.Username == "" {
		info.Username = info.ID
	}

	s.mu.RLock()
	cost := s.cost
	s.mu.RUnlock()

	var hash []byte
	if password != "" {
		var err error
		if hash, err = bcrypt.GenerateFromPassword([]byte(password), cost); err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
	}
	return s.AddUserWithHash(info, hash)
}

// AddUserWithHash stores an account with a precomputed bcrypt hash.
func (s *Static) AddUserWithHash(info UserInfo, hash []byte) error {
	if info.ID == "" {
		return fmt.Errorf("user ID is required")
	}
	if info.Username == "" {
		info.Username = info.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byUsername[info.Username]; ok && existing.info.ID != info.ID {
		return fmt.Errorf("username %q is already taken", info.Username)
	}
	if old, ok := s.byID[info.ID]; ok {
		delete(s.byUsername, old.info.Username)
	}

	a := &account{info: info, hash: hash}
	s.byID[info.ID] = a
	s.byUsername[info.Username] = a
	return nil
}

// Authenticate implements AccountProvider.
func (s *Static) Authenticate(_ context.Context, username, password string) (*UserInfo, error) {
	s.mu.RLock()
	a, ok := s.byUsername[username]
	s.mu.RUnlock()

	hash := dummyHash()
	if ok && len(a.hash) > 0 {
		hash = a.hash
	}

	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	if !ok || len(a.hash) == 0 || err != nil {
		s.logger.Debug("Password authentication failed", "known_user", ok)
		return nil, ErrInvalidCredentials
	}

	info := a.info
	return &info, nil
}

// Lookup implements AccountProvider.
func (s *Static) Lookup(_ context.Context, id string) (*UserInfo, error) {
	s.mu.RLock()
	a, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrUserNotFound
	}
	info := a.info
	return &info, nil
}
