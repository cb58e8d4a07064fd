package server

import (
	"fmt"
	"log/slog"

	"github.com/giantswarm/oauth-engine/instrumentation"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/storage/memory"
	"github.com/giantswarm/oauth-engine/storage/valkey"
)

// Repositories bundles the storage a Server needs.
type Repositories struct {
	Clients            storage.ClientRepository
	AuthorizationCodes storage.AuthorizationCodeRepository
	AccessTokens       storage.AccessTokenRepository
	RefreshTokens      storage.RefreshTokenRepository
	Sessions           storage.SessionStore

	// Close releases the backend. May be nil.
	Close func()
}

// MemoryRepositories exposes an in-memory store.
func MemoryRepositories(s *memory.Store) Repositories {
	return Repositories{
		Clients:            s.Clients(),
		AuthorizationCodes: s.AuthorizationCodes(),
		AccessTokens:       s.AccessTokens(),
		RefreshTokens:      s.RefreshTokens(),
		Sessions:           s.Sessions(),
	}
}

// ValkeyRepositories exposes a valkey store.
func ValkeyRepositories(s *valkey.Store) Repositories {
	return Repositories{
		Clients:            s.Clients(),
		AuthorizationCodes: s.AuthorizationCodes(),
		AccessTokens:       s.AccessTokens(),
		RefreshTokens:      s.RefreshTokens(),
		Sessions:           s.Sessions(),
		Close:              s.Close,
	}
}

func (r Repositories) validate() error {
	switch {
	case r.Clients == nil:
		return fmt.Errorf("client repository is required")
	case r.AuthorizationCodes == nil:
		return fmt.Errorf("authorization code repository is required")
	case r.AccessTokens == nil:
		return fmt.Errorf("access token repository is required")
	case r.RefreshTokens == nil:
		return fmt.Errorf("refresh token repository is required")
	case r.Sessions == nil:
		return fmt.Errorf("session store is required")
	}
	return nil
}

// OpenRepositories opens the backend selected by cfg. The in-memory store
// reports its sizes through inst when given.
func OpenRepositories(cfg StorageConfig, inst *instrumentation.Instrumentation, logger *slog.Logger) (Repositories, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case "", StorageMemory:
		if cfg.EncryptionKey != "" {
			logger.Warn("storage.encryption_key is ignored by the memory backend")
		}
		s := memory.New()
		s.SetLogger(logger)
		s.SetInstrumentation(inst)
		return MemoryRepositories(s), nil

	case StorageValkey:
		s, err := valkey.New(valkey.Config{
			Address:   cfg.Valkey.Address,
			Password:  cfg.Valkey.Password,
			DB:        cfg.Valkey.DB,
			KeyPrefix: cfg.Valkey.KeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			return Repositories{}, err
		}
		if cfg.EncryptionKey != "" {
			key, err := security.KeyFromBase64(cfg.EncryptionKey)
			if err != nil {
				s.Close()
				return Repositories{}, fmt.Errorf("invalid storage encryption key: %w", err)
			}
			enc, err := security.NewEncryptor(key)
			if err != nil {
				s.Close()
				return Repositories{}, err
			}
			s.SetEncryptor(enc)
		}
		return ValkeyRepositories(s), nil
	}
	return Repositories{}, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}
