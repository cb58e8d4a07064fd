package jose

import (
	"context"
	"errors"
	"fmt"
	"slices"

	gojose "github.com/go-jose/go-jose/v4"

	"github.com/giantswarm/oauth-engine/storage"
)

// Algorithm families a caller may restrict verification to.
const (
	FamilyAny Family = iota
	FamilySymmetric
	FamilyAsymmetric
)

// Family restricts which kind of signature algorithm is acceptable.
type Family int

// Verification errors. Callers map them onto their own OAuth error codes.
var (
	ErrAlgorithmNotAllowed = errors.New("signature algorithm not allowed")
	ErrUnsecuredNotAllowed = errors.New("unsecured tokens are not allowed")
	ErrSignatureInvalid    = errors.New("signature verification failed")
)

// VerifyOptions tunes a single verification.
type VerifyOptions struct {
	// Algorithm pins the required "alg". Empty accepts any supported
	// algorithm of the allowed family.
	Algorithm string

	// AllowNone accepts unsecured tokens. A pinned Algorithm of "none"
	// also requires AllowNone.
	AllowNone bool

	// Family restricts the algorithm family.
	Family Family
}

// Verifier checks JWS signatures against client key material.
type Verifier struct {
	keys KeyResolver
}

// NewVerifier creates a verifier resolving asymmetric keys through keys.
func NewVerifier(keys KeyResolver) *Verifier {
	return &Verifier{keys: keys}
}

// Verify checks the signature of t using the key material of client.
func (v *Verifier) Verify(ctx context.Context, t *Token, client *storage.Client, opts VerifyOptions) error {
	if opts.Algorithm != "" && t.alg != opts.Algorithm {
		return fmt.Errorf("%w: token uses %q, client requires %q", ErrAlgorithmNotAllowed, t.alg, opts.Algorithm)
	}

	if t.alg == AlgNone {
		if !opts.AllowNone {
			return ErrUnsecuredNotAllowed
		}
		return nil
	}

	if !AllowedFor(t.alg, opts.Family) {
		return fmt.Errorf("%w: %q", ErrAlgorithmNotAllowed, t.alg)
	}

	if IsSymmetric(t.alg) {
		secret := client.ClientSecret()
		if secret == "" {
			return fmt.Errorf("%w: client has no plaintext secret for %s", ErrSignatureInvalid, t.alg)
		}
		if _, err := t.jws.Verify([]byte(secret)); err != nil {
			return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
		return nil
	}

	if v.keys == nil {
		return ErrNoKeyMaterial
	}

	err := v.verifyWithKeySet(ctx, t, client, false)
	if errors.Is(err, errKeyNotFound) && client.JWKSURI() != "" {
		// the client may have rotated its keys since the set was cached
		err = v.verifyWithKeySet(ctx, t, client, true)
	}
	return err
}

var errKeyNotFound = errors.New("no matching key")

func (v *Verifier) verifyWithKeySet(ctx context.Context, t *Token, client *storage.Client, refresh bool) error {
	set, err := v.keys.Keys(ctx, client, refresh)
	if err != nil {
		return err
	}

	candidates := selectKeys(set, t.kid, t.alg, "sig")
	if len(candidates) == 0 {
		return fmt.Errorf("%w: %w for kid %q", ErrSignatureInvalid, errKeyNotFound, t.kid)
	}

	for _, key := range candidates {
		if _, err := t.jws.Verify(key.Public()); err == nil {
			return nil
		}
	}
	return ErrSignatureInvalid
}

// AllowedFor returns whether alg is one of the supported algorithms of family.
func AllowedFor(alg string, family Family) bool {
	var algs []gojose.SignatureAlgorithm
	switch family {
	case FamilySymmetric:
		algs = SymmetricAlgorithms
	case FamilyAsymmetric:
		algs = AsymmetricAlgorithms
	default:
		algs = SupportedAlgorithms()
	}
	return slices.Contains(algs, gojose.SignatureAlgorithm(alg))
}
