package clientauth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth-engine/oautherr"
	"github.com/giantswarm/oauth-engine/storage"
)

// Form parameters used by client authentication.
const (
	ParamClientID            = "client_id"
	ParamClientSecret        = "client_secret"
	ParamClientAssertion     = "client_assertion"
	ParamClientAssertionType = "client_assertion_type"

	// AssertionTypeJWTBearer is the only supported client_assertion_type.
	AssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
)

// Resolution is the outcome of matching a request against a method.
type Resolution struct {
	// ClientID is the client the request claims to be.
	ClientID string

	// Method is the token_endpoint_auth_method name the request used.
	Method string

	secret    string
	assertion *assertion
}

// Method is a client authentication method.
type Method interface {
	// Name returns the token_endpoint_auth_method this method implements.
	Name() string

	// Match extracts credentials from r. It returns nil when the request
	// does not use this method and an invalid_request error when it uses
	// the method but the credentials are malformed.
	Match(r *http.Request) (*Resolution, error)

	// Authenticate checks the credentials of res against client.
	Authenticate(ctx context.Context, client *storage.Client, res *Resolution) bool
}

// hasSecretBearingParams reports whether r carries any credential.
func hasSecretBearingParams(r *http.Request) bool {
	if _, _, ok := r.BasicAuth(); ok {
		return true
	}
	return r.PostForm.Get(ParamClientSecret) != "" || r.PostForm.Get(ParamClientAssertion) != ""
}

// None authenticates public clients, which present only their client_id.
type None struct{}

// Name implements Method.
func (None) Name() string { return storage.AuthMethodNone }

// Match implements Method.
func (None) Match(r *http.Request) (*Resolution, error) {
	clientID := r.PostForm.Get(ParamClientID)
	if clientID == "" || hasSecretBearingParams(r) {
		return nil, nil
	}
	return &Resolution{ClientID: clientID, Method: storage.AuthMethodNone}, nil
}

// Authenticate implements Method.
func (None) Authenticate(_ context.Context, client *storage.Client, _ *Resolution) bool {
	return client.IsPublic()
}

// SecretBasic reads credentials from the Authorization header.
type SecretBasic struct {
	now func() time.Time
}

// Name implements Method.
func (SecretBasic) Name() string { return storage.AuthMethodClientSecretBasic }

// Match implements Method.
func (SecretBasic) Match(r *http.Request) (*Resolution, error) {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return nil, nil
	}

	// RFC 6749 section 2.3.1: both values are form-encoded before Basic encoding
	clientID, err := url.QueryUnescape(user)
	if err != nil {
		return nil, oautherr.InvalidRequest("The client_id in the Authorization header is not properly encoded")
	}
	secret, err := url.QueryUnescape(pass)
	if err != nil {
		return nil, oautherr.InvalidRequest("The client_secret in the Authorization header is not properly encoded")
	}
	if clientID == "" {
		return nil, oautherr.InvalidRequest("The Authorization header carries an empty client_id")
	}
	if formID := r.PostForm.Get(ParamClientID); formID != "" && formID != clientID {
		return nil, oautherr.InvalidRequest("The client_id parameter does not match the Authorization header")
	}
	return &Resolution{ClientID: clientID, Method: storage.AuthMethodClientSecretBasic, secret: secret}, nil
}

// Authenticate implements Method.
func (m SecretBasic) Authenticate(_ context.Context, client *storage.Client, res *Resolution) bool {
	return checkSecret(client, res.secret, m.now)
}

// SecretPost reads credentials from the request body.
type SecretPost struct {
	now func() time.Time
}

// Name implements Method.
func (SecretPost) Name() string { return storage.AuthMethodClientSecretPost }

// Match implements Method.
func (SecretPost) Match(r *http.Request) (*Resolution, error) {
	secret := r.PostForm.Get(ParamClientSecret)
	if secret == "" {
		return nil, nil
	}
	clientID := r.PostForm.Get(ParamClientID)
	if clientID == "" {
		return nil, oautherr.InvalidRequest("The client_secret parameter requires client_id")
	}
	return &Resolution{ClientID: clientID, Method: storage.AuthMethodClientSecretPost, secret: secret}, nil
}

// Authenticate implements Method.
func (m SecretPost) Authenticate(_ context.Context, client *storage.Client, res *Resolution) bool {
	return checkSecret(client, res.secret, m.now)
}

// checkSecret compares secret with the stored hash or plaintext in constant
// time. Expired secrets never match.
func checkSecret(client *storage.Client, secret string, now func() time.Time) bool {
	if now == nil {
		now = time.Now
	}
	if exp := client.ClientSecretExpiresAt(); !exp.IsZero() && now().After(exp) {
		return false
	}

	if hash := client.ClientSecretHash(); hash != "" {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
	}
	if stored := client.ClientSecret(); stored != "" {
		return subtle.ConstantTimeCompare([]byte(stored), []byte(secret)) == 1
	}
	return false
}
