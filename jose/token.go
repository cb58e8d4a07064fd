package jose

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	gojose "github.com/go-jose/go-jose/v4"
)

// AlgNone is the "alg" header value of an unsecured JWT.
const AlgNone = "none"

// SymmetricAlgorithms are verified with the client secret.
var SymmetricAlgorithms = []gojose.SignatureAlgorithm{gojose.HS256, gojose.HS384, gojose.HS512}

// AsymmetricAlgorithms are verified with the client's public keys.
var AsymmetricAlgorithms = []gojose.SignatureAlgorithm{
	gojose.RS256, gojose.RS384, gojose.RS512,
	gojose.PS256, gojose.PS384, gojose.PS512,
	gojose.ES256, gojose.ES384, gojose.ES512,
	gojose.EdDSA,
}

// SupportedAlgorithms lists every signature algorithm the verifier accepts.
func SupportedAlgorithms() []gojose.SignatureAlgorithm {
	algs := make([]gojose.SignatureAlgorithm, 0, len(SymmetricAlgorithms)+len(AsymmetricAlgorithms))
	algs = append(algs, AsymmetricAlgorithms...)
	return append(algs, SymmetricAlgorithms...)
}

// SupportedAlgorithmNames returns SupportedAlgorithms as strings, for the
// discovery document.
func SupportedAlgorithmNames() []string {
	algs := SupportedAlgorithms()
	names := make([]string, len(algs))
	for i, a := range algs {
		names[i] = string(a)
	}
	return names
}

// IsSymmetric reports whether alg is an HMAC algorithm.
func IsSymmetric(alg string) bool {
	for _, a := range SymmetricAlgorithms {
		if string(a) == alg {
			return true
		}
	}
	return false
}

// Token is a parsed, not yet verified, compact JWS or unsecured JWT.
type Token struct {
	raw     string
	alg     string
	kid     string
	payload []byte
	jws     *gojose.JSONWebSignature
}

// Parse decodes a compact JWS without verifying its signature. Unsecured
// tokens ("alg": "none" with an empty signature) are parsed too; whether they
// are acceptable is decided by Verifier.Verify.
func Parse(compact string) (*Token, error) {
	parts := strings.Split(compact, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("compact JWS must have 3 segments, got %d", len(parts))
	}

	rawHeader, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid header encoding: %w", err)
	}
	var header struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(rawHeader, &header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	if header.Alg == AlgNone {
		if parts[2] != "" {
			return nil, fmt.Errorf("unsecured token must have an empty signature")
		}
		payload, err := base64.RawURLEncoding.DecodeString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid payload encoding: %w", err)
		}
		return &Token{raw: compact, alg: AlgNone, payload: payload}, nil
	}

	jws, err := gojose.ParseSigned(compact, SupportedAlgorithms())
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWS: %w", err)
	}
	if len(jws.Signatures) != 1 {
		return nil, fmt.Errorf("expected exactly one signature")
	}

	return &Token{
		raw:     compact,
		alg:     jws.Signatures[0].Header.Algorithm,
		kid:     jws.Signatures[0].Header.KeyID,
		payload: jws.UnsafePayloadWithoutVerification(),
		jws:     jws,
	}, nil
}

// Algorithm returns the "alg" header.
func (t *Token) Algorithm() string { return t.alg }

// KeyID returns the "kid" header, if any.
func (t *Token) KeyID() string { return t.kid }

// Raw returns the compact serialization.
func (t *Token) Raw() string { return t.raw }

// Claims decodes the payload as a JSON object. The payload is not trusted
// until Verify succeeded.
func (t *Token) Claims() (map[string]any, error) {
	claims := map[string]any{}
	if err := json.Unmarshal(t.payload, &claims); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	return claims, nil
}

// IsJWE reports whether value has the shape of a compact JWE (five segments).
func IsJWE(value string) bool {
	return strings.Count(value, ".") == 4
}
