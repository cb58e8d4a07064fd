package jose

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-engine/internal/testutil"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

func clientWithJWKS(t *testing.T, jwks string) *storage.Client {
	t.Helper()
	c := testutil.ConfidentialClient()
	md := c.Metadata()
	md[storage.MetadataJWKS] = jwks
	c.SetMetadata(md)
	return c
}

func TestParse(t *testing.T) {
	key := testutil.RSAKey(t)

	t.Run("signed", func(t *testing.T) {
		compact := testutil.SignJWT(t, gojose.RS256, key, "k1", map[string]any{"iss": "a"})
		tok, err := Parse(compact)
		require.NoError(t, err)
		assert.Equal(t, "RS256", tok.Algorithm())
		assert.Equal(t, "k1", tok.KeyID())
		claims, err := tok.Claims()
		require.NoError(t, err)
		assert.Equal(t, "a", claims["iss"])
	})

	t.Run("unsecured", func(t *testing.T) {
		tok, err := Parse(testutil.UnsecuredJWT(t, map[string]any{"iss": "b"}))
		require.NoError(t, err)
		assert.Equal(t, AlgNone, tok.Algorithm())
	})

	t.Run("malformed", func(t *testing.T) {
		for _, in := range []string{"", "a.b", "a.b.c.d", "!!!.e30.", "e30.e30.sig"} {
			_, err := Parse(in)
			assert.Error(t, err, in)
		}
	})
}

func TestIsJWE(t *testing.T) {
	assert.True(t, IsJWE("a.b.c.d.e"))
	assert.False(t, IsJWE("a.b.c"))
}

func TestVerifier_InlineJWKS(t *testing.T) {
	key := testutil.RSAKey(t)
	client := clientWithJWKS(t, testutil.PublicKeySetJSON(t, key, "k1", "sig"))
	v := NewVerifier(NewClientKeyResolver(nil))
	ctx := context.Background()

	tok, err := Parse(testutil.SignJWT(t, gojose.RS256, key, "k1", map[string]any{"iss": testutil.ClientID}))
	require.NoError(t, err)
	assert.NoError(t, v.Verify(ctx, tok, client, VerifyOptions{}))
	assert.NoError(t, v.Verify(ctx, tok, client, VerifyOptions{Algorithm: "RS256"}))
	assert.ErrorIs(t, v.Verify(ctx, tok, client, VerifyOptions{Algorithm: "ES256"}), ErrAlgorithmNotAllowed)
	assert.ErrorIs(t, v.Verify(ctx, tok, client, VerifyOptions{Family: FamilySymmetric}), ErrAlgorithmNotAllowed)

	other := testutil.NewRSAKey(t)
	forged, err := Parse(testutil.SignJWT(t, gojose.RS256, other, "k1", map[string]any{"iss": testutil.ClientID}))
	require.NoError(t, err)
	assert.ErrorIs(t, v.Verify(ctx, forged, client, VerifyOptions{}), ErrSignatureInvalid)

	unknownKid, err := Parse(testutil.SignJWT(t, gojose.RS256, key, "nope", map[string]any{}))
	require.NoError(t, err)
	assert.ErrorIs(t, v.Verify(ctx, unknownKid, client, VerifyOptions{}), ErrSignatureInvalid)
}

func TestVerifier_ClientSecret(t *testing.T) {
	client := testutil.ConfidentialClient()
	v := NewVerifier(nil)
	ctx := context.Background()

	tok, err := Parse(testutil.SignJWT(t, gojose.HS256, []byte(testutil.ClientSecret), "", map[string]any{"iss": testutil.ClientID}))
	require.NoError(t, err)
	assert.NoError(t, v.Verify(ctx, tok, client, VerifyOptions{Family: FamilySymmetric}))
	assert.ErrorIs(t, v.Verify(ctx, tok, client, VerifyOptions{Family: FamilyAsymmetric}), ErrAlgorithmNotAllowed)

	wrong, err := Parse(testutil.SignJWT(t, gojose.HS256, []byte("another-secret-that-is-long-enough-for-hmac!!"), "", map[string]any{}))
	require.NoError(t, err)
	assert.ErrorIs(t, v.Verify(ctx, wrong, client, VerifyOptions{}), ErrSignatureInvalid)
}

func TestAllowedFor(t *testing.T) {
	tests := []struct {
		alg    string
		family Family
		want   bool
	}{
		{alg: "RS256", family: FamilyAny, want: true},
		{alg: "HS256", family: FamilyAny, want: true},
		{alg: "HS256", family: FamilySymmetric, want: true},
		{alg: "HS256", family: FamilyAsymmetric, want: false},
		{alg: "ES256", family: FamilySymmetric, want: false},
		{alg: "ES256", family: FamilyAsymmetric, want: true},
		{alg: AlgNone, family: FamilyAny, want: false},
		{alg: "XS999", family: FamilyAny, want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AllowedFor(tt.alg, tt.family), "%s in family %d", tt.alg, tt.family)
	}
}

func TestVerifier_StaticKeys(t *testing.T) {
	key := testutil.RSAKey(t)
	set := &gojose.JSONWebKeySet{Keys: []gojose.JSONWebKey{{Key: &key.PublicKey, KeyID: "idp", Use: "sig"}}}
	v := NewVerifier(StaticKeys{Set: set})
	ctx := context.Background()
	issuer := storage.NewClient("https://idp.example.com", "", nil)

	tok, err := Parse(testutil.SignJWT(t, gojose.RS256, key, "idp", map[string]any{"iss": "https://idp.example.com"}))
	require.NoError(t, err)
	assert.NoError(t, v.Verify(ctx, tok, issuer, VerifyOptions{Family: FamilyAsymmetric}))

	forged, err := Parse(testutil.SignJWT(t, gojose.RS256, testutil.NewRSAKey(t), "idp", map[string]any{}))
	require.NoError(t, err)
	assert.ErrorIs(t, v.Verify(ctx, forged, issuer, VerifyOptions{}), ErrSignatureInvalid)

	_, err = StaticKeys{}.Keys(ctx, issuer, false)
	assert.ErrorIs(t, err, ErrNoKeyMaterial)
}

func TestVerifier_None(t *testing.T) {
	v := NewVerifier(nil)
	tok, err := Parse(testutil.UnsecuredJWT(t, map[string]any{}))
	require.NoError(t, err)

	client := testutil.ConfidentialClient()
	assert.ErrorIs(t, v.Verify(context.Background(), tok, client, VerifyOptions{}), ErrUnsecuredNotAllowed)
	assert.NoError(t, v.Verify(context.Background(), tok, client, VerifyOptions{AllowNone: true}))
}

func TestVerifier_JWKSURI(t *testing.T) {
	key := testutil.RSAKey(t)
	jwks := testutil.PublicKeySetJSON(t, key, "k1", "sig")

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(jwks))
	}))
	defer srv.Close()

	fetcher := security.NewFetcher(security.FetcherConfig{AllowPrivateNetworks: true, AllowHTTP: true})
	v := NewVerifier(NewClientKeyResolver(NewJKUFetcher(fetcher, time.Minute, nil)))

	client := testutil.ConfidentialClient()
	md := client.Metadata()
	md[storage.MetadataJWKSURI] = srv.URL
	client.SetMetadata(md)

	tok, err := Parse(testutil.SignJWT(t, gojose.RS256, key, "k1", map[string]any{}))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, v.Verify(ctx, tok, client, VerifyOptions{}))
	require.NoError(t, v.Verify(ctx, tok, client, VerifyOptions{}))
	assert.Equal(t, int32(1), hits.Load(), "key set should be served from cache")

	rotated, err := Parse(testutil.SignJWT(t, gojose.RS256, key, "k2", map[string]any{}))
	require.NoError(t, err)
	assert.Error(t, v.Verify(ctx, rotated, client, VerifyOptions{}))
	assert.Equal(t, int32(2), hits.Load(), "unknown kid triggers one refetch")
}

func TestVerifier_NoKeyMaterial(t *testing.T) {
	v := NewVerifier(NewClientKeyResolver(nil))
	tok, err := Parse(testutil.SignJWT(t, gojose.RS256, testutil.RSAKey(t), "", map[string]any{}))
	require.NoError(t, err)
	assert.ErrorIs(t, v.Verify(context.Background(), tok, testutil.ConfidentialClient(), VerifyOptions{}), ErrNoKeyMaterial)
}

func TestSigner(t *testing.T) {
	key := testutil.RSAKey(t)
	s, err := NewSigner(key, testutil.KeyID)
	require.NoError(t, err)
	assert.Equal(t, "RS256", s.Algorithm())

	signed, err := s.Sign(jwt.MapClaims{"sub": "alice"})
	require.NoError(t, err)

	parsed, err := jwt.Parse(signed, func(tok *jwt.Token) (any, error) {
		assert.Equal(t, testutil.KeyID, tok.Header["kid"])
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)
	assert.True(t, parsed.Valid)

	set := s.PublicJWKS()
	require.Len(t, set.Keys, 1)
	assert.True(t, set.Keys[0].IsPublic())
	assert.Equal(t, "sig", set.Keys[0].Use)
}

func TestValidateClaims(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	valid := map[string]any{
		"iss": "c1",
		"sub": "c1",
		"aud": testutil.Issuer,
		"exp": float64(now.Add(time.Minute).Unix()),
	}
	opts := ClaimsOptions{Issuer: "c1", Subject: "c1", Audience: testutil.Issuer, RequireExpiration: true, Now: clock}
	assert.NoError(t, ValidateClaims(valid, opts))

	expired := map[string]any{"iss": "c1", "sub": "c1", "aud": testutil.Issuer, "exp": float64(now.Add(-time.Minute).Unix())}
	assert.Error(t, ValidateClaims(expired, opts))

	noExp := map[string]any{"iss": "c1", "sub": "c1", "aud": testutil.Issuer}
	assert.Error(t, ValidateClaims(noExp, opts))

	wrongAud := map[string]any{"iss": "c1", "sub": "c1", "aud": "https://other", "exp": float64(now.Add(time.Minute).Unix())}
	assert.Error(t, ValidateClaims(wrongAud, opts))
}

func TestDecrypterEncrypter(t *testing.T) {
	serverKey := testutil.NewRSAKey(t)
	d, err := NewDecrypterFromKey(serverKey, "enc-1")
	require.NoError(t, err)

	compact := testutil.EncryptJWE(t, &serverKey.PublicKey, "enc-1", []byte("hello"))
	plain, err := d.Decrypt(compact)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(plain))

	other := testutil.NewRSAKey(t)
	_, err = d.Decrypt(testutil.EncryptJWE(t, &other.PublicKey, "", []byte("x")))
	assert.Error(t, err)

	_, err = NewDecrypter(gojose.JSONWebKey{Key: &serverKey.PublicKey})
	assert.Error(t, err)

	// client side: encrypt to the client's registered key and open it again
	clientKey := testutil.RSAKey(t)
	client := clientWithJWKS(t, testutil.PublicKeySetJSON(t, clientKey, "c-enc", "enc"))
	e := NewEncrypter(NewClientKeyResolver(nil))
	jwe, err := e.Encrypt(context.Background(), client, "RSA-OAEP-256", "A128CBC-HS256", "JWT", []byte("token"))
	require.NoError(t, err)
	assert.True(t, IsJWE(jwe))

	cd, err := NewDecrypterFromKey(clientKey, "c-enc")
	require.NoError(t, err)
	out, err := cd.Decrypt(jwe)
	require.NoError(t, err)
	assert.Equal(t, "token", string(out))
}
