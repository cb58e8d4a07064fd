package main

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gojose "github.com/go-jose/go-jose/v4"
	"github.com/spf13/cobra"

	oauth "github.com/giantswarm/oauth-engine"
	"github.com/giantswarm/oauth-engine/jose"
	"github.com/giantswarm/oauth-engine/providers"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/server"
)

type serveOptions struct {
	configPath      string
	seedPath        string
	signingKeyPath  string
	signingKeyID    string
	listen          string
	shutdownTimeout time.Duration
}

func newServeCommand(newLogger func() (*slog.Logger, error)) *cobra.Command {
	opts := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "path to the YAML configuration file")
	f.StringVar(&opts.seedPath, "seed", "", "path to the YAML file listing clients and users")
	f.StringVar(&opts.signingKeyPath, "signing-key", "", "PEM encoded RSA or ECDSA private key; a temporary key is generated when empty")
	f.StringVar(&opts.signingKeyID, "signing-key-id", "", "key ID published in the JWKS (default: derived from the key)")
	f.StringVar(&opts.listen, "listen", ":8080", "listen address")
	f.DurationVar(&opts.shutdownTimeout, "shutdown-timeout", 15*time.Second, "grace period for in-flight requests on shutdown")
	return cmd
}

func runServe(ctx context.Context, opts serveOptions, logger *slog.Logger) error {
	config, err := oauth.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}

	signer, err := loadSigner(opts.signingKeyPath, opts.signingKeyID, logger)
	if err != nil {
		return err
	}

	basePath, err := issuerPath(config.Issuer)
	if err != nil {
		return err
	}

	accounts := providers.NewStatic(logger)
	basicAuth := oauth.NewBasicAuth(accounts, nil)
	srv, err := oauth.NewServer(accounts, signer, oauth.ServerOptions{
		Users:   basicAuth,
		Login:   basicAuth,
		Consent: oauth.ConsentPage(basePath+server.PathConsent, logger),
	}, config, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shut down server", "error", err)
		}
	}()

	if opts.seedPath != "" {
		s, err := loadSeed(opts.seedPath)
		if err != nil {
			return err
		}
		if err := s.apply(ctx, srv.Repositories.Clients, accounts); err != nil {
			return err
		}
		logger.Info("Seed loaded", "clients", len(s.Clients), "users", len(s.Users))
	}

	router := chi.NewRouter()
	router.Use(security.RequestIDMiddleware, middleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := oauth.NewHandler(srv, logger)
	if basePath == "" {
		handler.RegisterRoutes(router)
	} else {
		router.Route(basePath, handler.RegisterRoutes)
	}

	httpServer := &http.Server{
		Addr:              opts.listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Authorization server listening",
			"addr", opts.listen,
			"issuer", config.Issuer,
			"grants", srv.Grants.Names())
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", "error", err)
		return httpServer.Close()
	}
	return nil
}

// issuerPath returns the path component of the issuer without a trailing
// slash. The routes are mounted under it.
func issuerPath(issuer string) (string, error) {
	u, err := url.Parse(issuer)
	if err != nil {
		return "", fmt.Errorf("invalid issuer: %w", err)
	}
	return strings.TrimSuffix(u.Path, "/"), nil
}

// loadSigner reads the signing key from path, or generates a temporary
// RSA key when path is empty. Tokens signed with a temporary key do not
// survive a restart.
func loadSigner(path, kid string, logger *slog.Logger) (*jose.Signer, error) {
	var key crypto.Signer
	if path == "" {
		logger.Warn("No signing key configured, generating a temporary RSA key")
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		key = k
	} else {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read signing key: %w", err)
		}
		if key, err = parsePrivateKey(raw); err != nil {
			return nil, fmt.Errorf("failed to parse signing key %q: %w", path, err)
		}
	}
	if kid == "" {
		thumbprint, err := (&gojose.JSONWebKey{Key: key.Public()}).Thumbprint(crypto.SHA256)
		if err != nil {
			return nil, fmt.Errorf("failed to derive key ID: %w", err)
		}
		kid = base64.RawURLEncoding.EncodeToString(thumbprint)
	}
	return jose.NewSigner(key, kid)
}

func parsePrivateKey(raw []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		return k, nil
	case "EC PRIVATE KEY":
		k, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		return k, nil
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := k.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("unsupported private key type %T", k)
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
}
