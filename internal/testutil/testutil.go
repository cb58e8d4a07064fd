package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-engine/storage"
)

// Fixture identifiers used across package tests.
const (
	ClientID       = "test-client"
	PublicClientID = "test-public-client"
	ClientSecret   = "test-client-secret-with-enough-entropy-for-hs256"
	RedirectURI    = "https://app.example.com/callback"
	Issuer         = "https://auth.example.com"
	UserID         = "alice"
	KeyID          = "test-key"
)

// MockTime provides a controllable time source for deterministic testing
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

var (
	rsaKeyOnce sync.Once
	rsaKey     *rsa.PrivateKey
)

// RSAKey returns a 2048-bit RSA key shared by all tests in the process.
func RSAKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	rsaKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(fmt.Sprintf("failed to generate RSA key: %v", err))
		}
		rsaKey = key
	})
	return rsaKey
}

// NewRSAKey generates a fresh 2048-bit RSA key.
func NewRSAKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return key
}

// PublicKeySetJSON returns a JWKS document holding the public half of key.
func PublicKeySetJSON(t testing.TB, key *rsa.PrivateKey, kid, use string) string {
	t.Helper()
	set := gojose.JSONWebKeySet{Keys: []gojose.JSONWebKey{{
		Key:   &key.PublicKey,
		KeyID: kid,
		Use:   use,
	}}}
	raw, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("failed to marshal key set: %v", err)
	}
	return string(raw)
}

// SignJWT signs claims as a compact JWS with the given algorithm. key is an
// *rsa.PrivateKey for RS/PS algorithms or a []byte secret for HS algorithms.
func SignJWT(t testing.TB, alg gojose.SignatureAlgorithm, key any, kid string, claims map[string]any) string {
	t.Helper()
	opts := (&gojose.SignerOptions{}).WithType("JWT")
	if kid != "" {
		opts = opts.WithHeader(gojose.HeaderKey("kid"), kid)
	}
	signer, err := gojose.NewSigner(gojose.SigningKey{Algorithm: alg, Key: key}, opts)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("failed to marshal claims: %v", err)
	}
	obj, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	compact, err := obj.CompactSerialize()
	if err != nil {
		t.Fatalf("failed to serialize: %v", err)
	}
	return compact
}

// UnsecuredJWT builds an "alg": "none" token.
func UnsecuredJWT(t testing.TB, claims map[string]any) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("failed to marshal claims: %v", err)
	}
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + "."
}

// EncryptJWE wraps payload in a compact JWE for the RSA public key.
func EncryptJWE(t testing.TB, pub *rsa.PublicKey, kid string, payload []byte) string {
	t.Helper()
	enc, err := gojose.NewEncrypter(gojose.A128CBC_HS256,
		gojose.Recipient{Algorithm: gojose.RSA_OAEP_256, Key: pub, KeyID: kid},
		(&gojose.EncrypterOptions{}).WithContentType("JWT"))
	if err != nil {
		t.Fatalf("failed to create encrypter: %v", err)
	}
	obj, err := enc.Encrypt(payload)
	if err != nil {
		t.Fatalf("failed to encrypt: %v", err)
	}
	compact, err := obj.CompactSerialize()
	if err != nil {
		t.Fatalf("failed to serialize: %v", err)
	}
	return compact
}

// AllGrantTypes lists every grant type the engine knows.
var AllGrantTypes = []string{
	"authorization_code", "refresh_token", "client_credentials", "password",
	"implicit", "urn:ietf:params:oauth:grant-type:jwt-bearer",
}

// AllResponseTypes lists every response type the engine knows.
var AllResponseTypes = []string{
	"code", "token", "id_token", "code token", "code id_token", "id_token token", "code id_token token",
}

// ConfidentialClient returns a client_secret_basic client allowed to use
// every grant and response type.
func ConfidentialClient() *storage.Client {
	return storage.NewClient(ClientID, "owner", storage.DataBag{
		storage.MetadataClientName:              "Test Client",
		storage.MetadataRedirectURIs:            []string{RedirectURI},
		storage.MetadataClientSecret:            ClientSecret,
		storage.MetadataTokenEndpointAuthMethod: storage.AuthMethodClientSecretBasic,
		storage.MetadataGrantTypes:              AllGrantTypes,
		storage.MetadataResponseTypes:           AllResponseTypes,
		storage.MetadataScope:                   []string{"openid", "profile", "email", "offline_access", "read", "write"},
	})
}

// PublicClient returns a public (token_endpoint_auth_method none) client.
func PublicClient() *storage.Client {
	return storage.NewClient(PublicClientID, "owner", storage.DataBag{
		storage.MetadataClientName:              "Public Client",
		storage.MetadataRedirectURIs:            []string{RedirectURI},
		storage.MetadataTokenEndpointAuthMethod: storage.AuthMethodNone,
		storage.MetadataGrantTypes:              []string{"authorization_code", "refresh_token"},
		storage.MetadataResponseTypes:           []string{"code"},
		storage.MetadataScope:                   []string{"openid", "profile", "offline_access"},
	})
}

// HashSecret returns a bcrypt hash with the minimum cost, for fast tests.
func HashSecret(t testing.TB, secret string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash secret: %v", err)
	}
	return string(hash)
}

// GenerateRandomString generates a random base64url string of length characters
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair generates a valid S256 challenge and verifier pair.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = oauth2.GenerateVerifier()
	return oauth2.S256ChallengeFromVerifier(verifier), verifier
}

// HTTPRequest is a helper for building test HTTP requests
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Form    url.Values
}

// NewHTTPRequest creates a new HTTP request helper
func NewHTTPRequest(method, target string) *HTTPRequest {
	return &HTTPRequest{
		Method:  method,
		URL:     target,
		Headers: make(map[string]string),
		Form:    url.Values{},
	}
}

// WithHeader adds a header to the request
func (r *HTTPRequest) WithHeader(key, value string) *HTTPRequest {
	r.Headers[key] = value
	return r
}

// WithBasicAuth sets HTTP Basic credentials, form-encoding them first as
// RFC 6749 section 2.3.1 requires.
func (r *HTTPRequest) WithBasicAuth(user, password string) *HTTPRequest {
	raw := url.QueryEscape(user) + ":" + url.QueryEscape(password)
	r.Headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
	return r
}

// WithForm sets a form field. For GET requests fields become query parameters.
func (r *HTTPRequest) WithForm(key, value string) *HTTPRequest {
	r.Form.Set(key, value)
	return r
}

// Build returns the *http.Request.
func (r *HTTPRequest) Build() *http.Request {
	var req *http.Request
	if r.Method == http.MethodGet {
		target := r.URL
		if len(r.Form) > 0 {
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + r.Form.Encode()
		}
		req = httptest.NewRequest(r.Method, target, nil)
	} else {
		req = httptest.NewRequest(r.Method, r.URL, strings.NewReader(r.Form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	return req
}

// Do executes the HTTP request against handler
func (r *HTTPRequest) Do(handler http.Handler) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, r.Build())
	return rr
}
