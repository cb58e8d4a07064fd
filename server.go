// Package oauth is the HTTP face of the authorization server: a Handler
// serving the authorization, token, introspection, revocation, consent
// decision, discovery and JWKS endpoints of a server.Server.
package oauth

import (
	"fmt"
	"log/slog"

	"github.com/giantswarm/oauth-engine/jose"
	"github.com/giantswarm/oauth-engine/providers"
	"github.com/giantswarm/oauth-engine/server"
)

// Server is the composed authorization server.
type Server = server.Server

// ServerOptions carries the collaborators a Server does not build itself.
type ServerOptions = server.Options

// NewServer opens the storage backend selected by config and creates a
// Server on top of it. The backend is closed again if New fails.
func NewServer(
	accounts providers.AccountProvider,
	signer *jose.Signer,
	opts ServerOptions,
	config *ServerConfig,
	logger *slog.Logger,
) (*Server, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	repos, err := server.OpenRepositories(config.Storage, opts.Instrumentation, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	srv, err := server.New(repos, accounts, signer, opts, config, logger)
	if err != nil {
		if repos.Close != nil {
			repos.Close()
		}
		return nil, err
	}
	return srv, nil
}
