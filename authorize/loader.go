package authorize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/giantswarm/oauth-engine/instrumentation"
	"github.com/giantswarm/oauth-engine/jose"
	"github.com/giantswarm/oauth-engine/oautherr"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

// requestObjectAccept is sent when fetching a request_uri.
const requestObjectAccept = "application/oauth-authz-req+jwt, application/jwt"

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	Clients storage.ClientRepository

	// Issuer is the expected "aud" of request objects.
	Issuer string

	// RequestObjectSupported enables the request parameter.
	RequestObjectSupported bool

	// RequestURISupported enables the request_uri parameter. Fetcher is
	// required when set.
	RequestURISupported bool
	Fetcher             *security.Fetcher

	// RequireRequestURIRegistration requires request_uri to start with one of
	// the client's registered request_uris.
	RequireRequestURIRegistration bool

	// Verifier checks request object signatures.
	Verifier *jose.Verifier

	// Decrypter opens encrypted request objects. Without it encrypted
	// request objects are refused.
	Decrypter *jose.Decrypter

	// RequireEncryption refuses request objects that are not JWE.
	RequireEncryption bool

	// AllowUnsigned accepts request objects with "alg": "none".
	AllowUnsigned bool

	Leeway  time.Duration
	Auditor *security.Auditor
	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Loader turns an HTTP request into an authorization Request.
type Loader struct {
	cfg LoaderConfig
}

// NewLoader creates a Loader.
func NewLoader(cfg LoaderConfig) *Loader {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = security.DefaultClockSkewGracePeriod
	}
	if cfg.Verifier == nil {
		cfg.Verifier = jose.NewVerifier(nil)
	}
	return &Loader{cfg: cfg}
}

// RequestParams returns the authorization parameters of r: the query for
// GET, the query plus the form body for POST.
func RequestParams(r *http.Request) (url.Values, error) {
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			return nil, oautherr.InvalidRequest("Malformed form body")
		}
		return r.Form, nil
	}
	return r.URL.Query(), nil
}

// Load resolves the client and request object of r. Errors are never
// delivered through the redirect URI.
func (l *Loader) Load(ctx context.Context, r *http.Request) (*Request, error) {
	params, err := RequestParams(r)
	if err != nil {
		return nil, err
	}
	return l.LoadParams(ctx, params)
}

// LoadParams is Load for already parsed parameters.
func (l *Loader) LoadParams(ctx context.Context, params url.Values) (*Request, error) {
	value := params.Get(ParamRequest)
	uri := params.Get(ParamRequestURI)

	switch {
	case value != "" && uri != "":
		return nil, oautherr.InvalidRequest("The request and request_uri parameters are mutually exclusive")

	case value != "":
		if !l.cfg.RequestObjectSupported {
			return nil, oautherr.RequestNotSupported("The request parameter is not supported")
		}
		req, err := l.fromRequestObject(ctx, params, value)
		if err != nil {
			return nil, l.reject(err, params)
		}
		l.cfg.Metrics.RecordRequestObjectLoaded(ctx, "value")
		return req, nil

	case uri != "":
		if !l.cfg.RequestURISupported || l.cfg.Fetcher == nil {
			return nil, oautherr.RequestURINotSupported("The request_uri parameter is not supported")
		}
		req, err := l.fromRequestURI(ctx, params, uri)
		if err != nil {
			return nil, l.reject(err, params)
		}
		l.cfg.Metrics.RecordRequestObjectLoaded(ctx, "reference")
		return req, nil
	}

	client, err := l.client(ctx, params.Get(ParamClientID))
	if err != nil {
		return nil, err
	}
	return NewRequest(params, client, l.cfg.Now()), nil
}

func (l *Loader) reject(err error, params url.Values) error {
	oe := oautherr.From(err)
	l.cfg.Auditor.LogEvent(security.Event{
		Type:     security.EventRequestObjectRejected,
		ClientID: params.Get(ParamClientID),
		Details:  map[string]any{"error": oe.Code, "reason": oe.Description},
	})
	l.cfg.Logger.Debug("Request object rejected", "error", err)
	return oe
}

func (l *Loader) client(ctx context.Context, clientID string) (*storage.Client, error) {
	if clientID == "" {
		return nil, oautherr.InvalidRequest("Missing client_id parameter").ForParameter(ParamClientID)
	}
	client, err := l.cfg.Clients.Find(ctx, clientID)
	if errors.Is(err, storage.ErrClientNotFound) || (err == nil && client.IsDeleted()) {
		return nil, oautherr.InvalidRequest("Unknown client").ForParameter(ParamClientID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	return client, nil
}

func (l *Loader) fromRequestURI(ctx context.Context, params url.Values, raw string) (*Request, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, oautherr.InvalidRequestURI("The request_uri is not an absolute URL")
	}
	for _, segment := range strings.Split(u.Path, "/") {
		if segment == ".." {
			return nil, oautherr.InvalidRequestURI("The request_uri must not contain '..' segments")
		}
	}

	// With a client_id in the query the registration is checked before
	// anything is fetched.
	if id := params.Get(ParamClientID); id != "" && l.cfg.RequireRequestURIRegistration {
		client, err := l.client(ctx, id)
		if err != nil {
			return nil, err
		}
		if !requestURIRegistered(client, raw) {
			return nil, oautherr.InvalidRequestURI("The request_uri is not registered for this client")
		}
	}

	body, err := l.cfg.Fetcher.Fetch(ctx, raw, requestObjectAccept)
	if err != nil {
		return nil, oautherr.InvalidRequestURI("The request_uri could not be retrieved").Wrap(err)
	}

	req, err := l.fromRequestObject(ctx, params, strings.TrimSpace(string(body)))
	if err != nil {
		return nil, err
	}
	if l.cfg.RequireRequestURIRegistration && !requestURIRegistered(req.Client(), raw) {
		return nil, oautherr.InvalidRequestURI("The request_uri is not registered for this client")
	}
	return req, nil
}

func requestURIRegistered(client *storage.Client, uri string) bool {
	for _, prefix := range client.RequestURIs() {
		if prefix != "" && strings.HasPrefix(uri, prefix) {
			return true
		}
	}
	return false
}

func (l *Loader) fromRequestObject(ctx context.Context, params url.Values, value string) (*Request, error) {
	compact := value
	switch {
	case jose.IsJWE(value):
		if l.cfg.Decrypter == nil {
			return nil, oautherr.InvalidRequestObject("Encrypted request objects are not supported")
		}
		plain, err := l.cfg.Decrypter.Decrypt(value)
		if err != nil {
			return nil, oautherr.InvalidRequestObject("The request object could not be decrypted").Wrap(err)
		}
		compact = strings.TrimSpace(string(plain))
	case l.cfg.RequireEncryption:
		return nil, oautherr.InvalidRequestObject("Request objects must be encrypted")
	}

	tok, err := jose.Parse(compact)
	if err != nil {
		return nil, oautherr.InvalidRequestObject("The request object is not a valid JWT").Wrap(err)
	}
	claims, err := tok.Claims()
	if err != nil {
		return nil, oautherr.InvalidRequestObject("The request object payload is not a JSON object").Wrap(err)
	}

	for _, forbidden := range []string{ParamRequest, ParamRequestURI} {
		if _, ok := claims[forbidden]; ok {
			return nil, oautherr.InvalidRequestObject(fmt.Sprintf("The request object must not contain %q", forbidden))
		}
	}

	for _, name := range []string{ParamClientID, ParamResponseType} {
		claim, ok := jose.StringClaim(claims, name)
		if ok && params.Get(name) != "" && claim != params.Get(name) {
			return nil, oautherr.InvalidRequestObject(fmt.Sprintf("The %s claim does not match the %s parameter", name, name))
		}
	}

	iss, _ := jose.StringClaim(claims, "iss")
	clientID, _ := jose.StringClaim(claims, ParamClientID)
	if clientID == "" {
		clientID = params.Get(ParamClientID)
	}
	if clientID == "" {
		clientID = iss
	}
	if iss != "" && clientID != "" && iss != clientID {
		return nil, oautherr.InvalidRequestObject("The iss claim must equal client_id")
	}

	client, err := l.client(ctx, clientID)
	if err != nil {
		return nil, err
	}

	pinned := client.RequestObjectSigningAlg()
	if pinned != "" && !(pinned == jose.AlgNone && l.cfg.AllowUnsigned) && !jose.AllowedFor(pinned, jose.FamilyAny) {
		return nil, oautherr.InvalidRequestObject(fmt.Sprintf("The client is registered with the unsupported request object algorithm %q", pinned))
	}

	err = l.cfg.Verifier.Verify(ctx, tok, client, jose.VerifyOptions{
		Algorithm: pinned,
		AllowNone: l.cfg.AllowUnsigned,
		Family:    jose.FamilyAny,
	})
	if err != nil {
		return nil, oautherr.InvalidRequestObject("The request object signature is invalid").Wrap(err)
	}

	opts := jose.ClaimsOptions{Leeway: l.cfg.Leeway, Now: l.cfg.Now}
	if _, ok := claims["aud"]; ok {
		opts.Audience = l.cfg.Issuer
	}
	if err := jose.ValidateClaims(claims, opts); err != nil {
		return nil, oautherr.InvalidRequestObject("The request object claims are invalid").Wrap(err)
	}

	merged := cloneValues(params)
	for name, v := range claims {
		switch name {
		case "iss", "aud", "exp", "iat", "nbf", "jti":
			continue
		}
		s, err := claimToParam(v)
		if err != nil {
			return nil, oautherr.InvalidRequestObject(fmt.Sprintf("The %s claim has an unsupported type", name))
		}
		merged.Set(name, s)
	}
	merged.Set(ParamClientID, client.ID())
	merged.Del(ParamRequest)
	merged.Del(ParamRequestURI)

	req := NewRequest(merged, client, l.cfg.Now())
	req.fromRequestObj = true
	return req, nil
}

// claimToParam renders a claim as a request parameter value. Objects such as
// "claims" keep their JSON form.
func claimToParam(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case nil:
		return "", nil
	case []any:
		parts := make([]string, 0, len(val))
		for _, e := range val {
			s, ok := e.(string)
			if !ok {
				raw, err := json.Marshal(val)
				return string(raw), err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, " "), nil
	default:
		raw, err := json.Marshal(val)
		return string(raw), err
	}
}
