package idtoken

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/jose"
	"github.com/giantswarm/oauth-engine/providers"
	"github.com/giantswarm/oauth-engine/storage"
)

// DefaultTTL is the lifetime of an ID Token when none is configured.
const DefaultTTL = time.Hour

// reservedClaims cannot be overridden by extra claims.
var reservedClaims = map[string]bool{
	"iss": true, "sub": true, "aud": true, "exp": true, "iat": true,
	"nonce": true, "at_hash": true, "c_hash": true, "auth_time": true, "azp": true,
}

// Config configures an Issuer.
type Config struct {
	// Issuer is the iss claim.
	Issuer string

	Signer *jose.Signer

	// Encrypter is used for clients that registered ID Token encryption.
	// Without it such clients cannot receive ID Tokens.
	Encrypter *jose.Encrypter

	// Accounts supplies profile claims. Optional.
	Accounts providers.AccountProvider

	TTL    time.Duration
	Now    func() time.Time
	Logger *slog.Logger
}

// Params describes one ID Token.
type Params struct {
	Client   *storage.Client
	Subject  string
	Nonce    string
	AuthTime time.Time
	Scope    []string

	// AccessToken and Code, when set, are bound through at_hash and c_hash.
	AccessToken string
	Code        string

	// Claims are added as-is, except for the registered claims above.
	Claims map[string]any
}

// Issuer builds ID Tokens.
type Issuer struct {
	issuer    string
	signer    *jose.Signer
	encrypter *jose.Encrypter
	accounts  providers.AccountProvider
	ttl       time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// New creates an ID Token issuer.
func New(cfg Config) (*Issuer, error) {
	if cfg.Signer == nil {
		return nil, errors.New("an ID Token signer is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Issuer{
		issuer:    cfg.Issuer,
		signer:    cfg.Signer,
		encrypter: cfg.Encrypter,
		accounts:  cfg.Accounts,
		ttl:       cfg.TTL,
		now:       cfg.Now,
		logger:    cfg.Logger,
	}, nil
}

// SigningAlgorithm returns the alg of issued ID Tokens.
func (i *Issuer) SigningAlgorithm() string { return i.signer.Algorithm() }

// Claims assembles the claim set without signing it.
func (i *Issuer) Claims(ctx context.Context, p Params) (jwt.MapClaims, error) {
	if p.Client == nil {
		return nil, errors.New("client is required")
	}
	if p.Subject == "" {
		return nil, errors.New("subject is required")
	}

	now := i.now()
	claims := jwt.MapClaims{}

	if i.accounts != nil {
		user, err := i.accounts.Lookup(ctx, p.Subject)
		switch {
		case err == nil:
			for k, v := range user.Claims(p.Scope) {
				claims[k] = v
			}
		case errors.Is(err, providers.ErrUserNotFound):
			i.logger.Debug("No profile for ID Token subject", "sub", util.SafeTruncate(p.Subject, 8))
		default:
			return nil, fmt.Errorf("failed to look up subject: %w", err)
		}
	}

	for k, v := range p.Claims {
		if !reservedClaims[k] {
			claims[k] = v
		}
	}

	claims["iss"] = i.issuer
	claims["sub"] = p.Subject
	claims["aud"] = []string{p.Client.ID()}
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(i.ttl).Unix()
	if p.Nonce != "" {
		claims["nonce"] = p.Nonce
	}
	if !p.AuthTime.IsZero() {
		claims["auth_time"] = p.AuthTime.Unix()
	}

	alg := i.signer.Algorithm()
	if p.AccessToken != "" {
		h, err := LeftHalfHash(alg, p.AccessToken)
		if err != nil {
			return nil, err
		}
		claims["at_hash"] = h
	}
	if p.Code != "" {
		h, err := LeftHalfHash(alg, p.Code)
		if err != nil {
			return nil, err
		}
		claims["c_hash"] = h
	}
	return claims, nil
}

// Issue builds, signs and, for clients that require it, encrypts an ID Token.
func (i *Issuer) Issue(ctx context.Context, p Params) (string, error) {
	if want := p.Client.IDTokenSignedResponseAlg(); want != "" && want != i.signer.Algorithm() {
		return "", fmt.Errorf("client requires ID Tokens signed with %s, server signs with %s", want, i.signer.Algorithm())
	}

	claims, err := i.Claims(ctx, p)
	if err != nil {
		return "", err
	}

	signed, err := i.signer.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign ID Token: %w", err)
	}

	alg, enc := p.Client.IDTokenEncryption()
	if alg == "" {
		return signed, nil
	}
	if i.encrypter == nil {
		return "", errors.New("client requires encrypted ID Tokens but no encrypter is configured")
	}

	encrypted, err := i.encrypter.Encrypt(ctx, p.Client, alg, enc, "JWT", []byte(signed))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt ID Token: %w", err)
	}
	return encrypted, nil
}
