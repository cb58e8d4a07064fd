package jose

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"

	gojose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// Signer signs JWTs issued by the server, such as ID Tokens.
type Signer struct {
	key    crypto.Signer
	kid    string
	method jwt.SigningMethod
}

// NewSigner creates a signer for an RSA key (RS256) or an ECDSA key
// (ES256, ES384 or ES512 depending on the curve).
func NewSigner(key crypto.Signer, kid string) (*Signer, error) {
	var method jwt.SigningMethod
	switch k := key.(type) {
	case *rsa.PrivateKey:
		if k.N.BitLen() < 2048 {
			return nil, fmt.Errorf("RSA signing key must be at least 2048 bits")
		}
		method = jwt.SigningMethodRS256
	case *ecdsa.PrivateKey:
		switch k.Curve {
		case elliptic.P256():
			method = jwt.SigningMethodES256
		case elliptic.P384():
			method = jwt.SigningMethodES384
		case elliptic.P521():
			method = jwt.SigningMethodES512
		default:
			return nil, fmt.Errorf("unsupported ECDSA curve")
		}
	default:
		return nil, fmt.Errorf("unsupported signing key type %T", key)
	}
	return &Signer{key: key, kid: kid, method: method}, nil
}

// Algorithm returns the JWS "alg" this signer produces.
func (s *Signer) Algorithm() string { return s.method.Alg() }

// KeyID returns the "kid" header value.
func (s *Signer) KeyID() string { return s.kid }

// Sign serializes claims as a compact JWS.
func (s *Signer) Sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(s.method, claims)
	if s.kid != "" {
		token.Header["kid"] = s.kid
	}
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// PublicJWKS returns the key set to publish at the JWKS endpoint.
func (s *Signer) PublicJWKS() gojose.JSONWebKeySet {
	return gojose.JSONWebKeySet{
		Keys: []gojose.JSONWebKey{{
			Key:       s.key.Public(),
			KeyID:     s.kid,
			Algorithm: s.method.Alg(),
			Use:       "sig",
		}},
	}
}
