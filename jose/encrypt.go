package jose

import (
	"context"
	"crypto"
	"fmt"

	gojose "github.com/go-jose/go-jose/v4"

	"github.com/giantswarm/oauth-engine/storage"
)

// KeyAlgorithms lists the JWE key management algorithms accepted when
// decrypting and offered when encrypting.
var KeyAlgorithms = []gojose.KeyAlgorithm{
	gojose.RSA_OAEP, gojose.RSA_OAEP_256,
	gojose.ECDH_ES, gojose.ECDH_ES_A128KW, gojose.ECDH_ES_A192KW, gojose.ECDH_ES_A256KW,
}

// ContentEncryptions lists the supported JWE content encryption algorithms.
var ContentEncryptions = []gojose.ContentEncryption{
	gojose.A128CBC_HS256, gojose.A192CBC_HS384, gojose.A256CBC_HS512,
	gojose.A128GCM, gojose.A192GCM, gojose.A256GCM,
}

// Decrypter opens JWEs addressed to the server.
type Decrypter struct {
	keys []gojose.JSONWebKey
}

// NewDecrypter creates a decrypter holding the server's private
// encryption keys.
func NewDecrypter(keys ...gojose.JSONWebKey) (*Decrypter, error) {
	for _, k := range keys {
		if k.IsPublic() {
			return nil, fmt.Errorf("decryption key %q is not a private key", k.KeyID)
		}
	}
	return &Decrypter{keys: keys}, nil
}

// NewDecrypterFromKey wraps a single private key.
func NewDecrypterFromKey(key crypto.PrivateKey, kid string) (*Decrypter, error) {
	return NewDecrypter(gojose.JSONWebKey{Key: key, KeyID: kid, Use: "enc"})
}

// Decrypt opens a compact JWE.
func (d *Decrypter) Decrypt(compact string) ([]byte, error) {
	jwe, err := gojose.ParseEncrypted(compact, KeyAlgorithms, ContentEncryptions)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWE: %w", err)
	}

	kid := jwe.Header.KeyID
	for _, k := range d.keys {
		if kid != "" && k.KeyID != "" && k.KeyID != kid {
			continue
		}
		plaintext, err := jwe.Decrypt(k.Key)
		if err == nil {
			return plaintext, nil
		}
	}
	return nil, fmt.Errorf("no key could decrypt the JWE")
}

// PublicJWKS returns the public halves of the decryption keys, so clients
// can encrypt request objects to the server.
func (d *Decrypter) PublicJWKS() []gojose.JSONWebKey {
	out := make([]gojose.JSONWebKey, 0, len(d.keys))
	for _, k := range d.keys {
		pub := k.Public()
		pub.Use = "enc"
		out = append(out, pub)
	}
	return out
}

// Encrypter encrypts tokens for a client with the client's public key.
type Encrypter struct {
	keys KeyResolver
}

// NewEncrypter creates an encrypter resolving client keys through keys.
func NewEncrypter(keys KeyResolver) *Encrypter {
	return &Encrypter{keys: keys}
}

// Encrypt wraps payload in a compact JWE for client using the given key
// management algorithm and content encryption. contentType is set as "cty"
// when non-empty ("JWT" for nested tokens).
func (e *Encrypter) Encrypt(ctx context.Context, client *storage.Client, alg, enc, contentType string, payload []byte) (string, error) {
	if e.keys == nil {
		return "", ErrNoKeyMaterial
	}
	set, err := e.keys.Keys(ctx, client, false)
	if err != nil {
		return "", err
	}

	candidates := selectKeys(set, "", alg, "enc")
	var recipientKey *gojose.JSONWebKey
	for i := range candidates {
		if candidates[i].Use == "enc" {
			recipientKey = &candidates[i]
			break
		}
	}
	if recipientKey == nil && len(candidates) > 0 {
		recipientKey = &candidates[0]
	}
	if recipientKey == nil {
		return "", fmt.Errorf("client has no key for %s", alg)
	}

	opts := &gojose.EncrypterOptions{}
	if contentType != "" {
		opts = opts.WithContentType(gojose.ContentType(contentType))
	}

	encrypter, err := gojose.NewEncrypter(
		gojose.ContentEncryption(enc),
		gojose.Recipient{
			Algorithm: gojose.KeyAlgorithm(alg),
			Key:       recipientKey.Public().Key,
			KeyID:     recipientKey.KeyID,
		},
		opts,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create encrypter: %w", err)
	}

	obj, err := encrypter.Encrypt(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt: %w", err)
	}
	return obj.CompactSerialize()
}
