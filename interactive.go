package oauth

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/giantswarm/oauth-engine/authorize"
	"github.com/giantswarm/oauth-engine/providers"
	"github.com/giantswarm/oauth-engine/server"
)

// BasicAuthRealm is the realm announced by BasicAuth.
const BasicAuthRealm = "oauth-engine"

// DefaultBasicAuthSessionTTL is how long a login time is remembered for a
// username.
const DefaultBasicAuthSessionTTL = 12 * time.Hour

// BasicAuth discovers the resource owner from HTTP Basic credentials checked
// against accounts and challenges the browser when a login is required.
// Browsers resend the credentials on every request, including the consent
// form post, so the user is found again when the flow resumes.
//
// The auth time reported for a user is the first time their credentials
// were seen, not the current request. A login challenge forgets it, so
// prompt=login and max_age are only satisfied once the browser has asked
// for credentials again.
type BasicAuth struct {
	accounts providers.AccountProvider
	now      func() time.Time
	logins   *cache.Cache
}

// NewBasicAuth returns a BasicAuth remembering login times for
// DefaultBasicAuthSessionTTL.
func NewBasicAuth(accounts providers.AccountProvider, now func() time.Time) *BasicAuth {
	if now == nil {
		now = time.Now
	}
	return &BasicAuth{
		accounts: accounts,
		now:      now,
		logins:   cache.New(DefaultBasicAuthSessionTTL, time.Hour),
	}
}

// CurrentUser implements authorize.UserDiscovery. Requests without valid
// credentials have no user.
func (b *BasicAuth) CurrentUser(r *http.Request) (*providers.UserInfo, time.Time, error) {
	user, username, err := b.authenticate(r)
	if user == nil || err != nil {
		return nil, time.Time{}, err
	}

	if v, ok := b.logins.Get(username); ok {
		return user, v.(time.Time), nil
	}
	loggedIn := b.now()
	b.logins.SetDefault(username, loggedIn)
	return user, loggedIn, nil
}

// HandleLogin implements authorize.LoginHandler. The browser repeats the
// authorization request with credentials, which starts a fresh flow.
func (b *BasicAuth) HandleLogin(w http.ResponseWriter, r *http.Request, _ *authorize.Request) {
	if user, username, err := b.authenticate(r); user != nil && err == nil {
		b.logins.Delete(username)
	}

	w.Header().Set("WWW-Authenticate", `Basic realm="`+BasicAuthRealm+`", charset="UTF-8"`)
	w.Header().Set("Cache-Control", "no-store")
	http.Error(w, "Authentication required", http.StatusUnauthorized)
}

func (b *BasicAuth) authenticate(r *http.Request) (*providers.UserInfo, string, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, "", nil
	}
	user, err := b.accounts.Authenticate(r.Context(), username, password)
	if errors.Is(err, providers.ErrInvalidCredentials) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	return user, username, nil
}

const consentPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Authorize {{.ClientName}}</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; max-width: 28rem; margin: 4rem auto; padding: 0 1rem; color: #1a202c; }
ul { padding-left: 1.25rem; }
button { padding: 0.5rem 1.25rem; margin-right: 0.5rem; border-radius: 0.375rem; border: 1px solid #cbd5e0; cursor: pointer; }
button[value=allow] { background: #2b6cb0; color: #fff; border-color: #2b6cb0; }
</style>
</head>
<body>
<h1>{{.ClientName}}</h1>
<p>{{if .UserName}}Signed in as <strong>{{.UserName}}</strong>. {{end}}{{.ClientName}} is requesting access to your account.</p>
{{if .Scopes}}<ul>{{range .Scopes}}<li>{{.}}</li>{{end}}</ul>{{end}}
<form method="post" action="{{.Action}}">
<input type="hidden" name="{{.IDField}}" value="{{.ID}}">
<button type="submit" name="{{.DecisionField}}" value="{{.Allow}}">Allow</button>
<button type="submit" name="{{.DecisionField}}" value="{{.Deny}}">Deny</button>
</form>
</body>
</html>
`

var consentPageTmpl = template.Must(template.New("consent").Parse(consentPageTemplate))

type consentPageData struct {
	ClientName    string
	UserName      string
	Scopes        []string
	Action        string
	ID            string
	IDField       string
	DecisionField string
	Allow         string
	Deny          string
}

// ConsentPage renders a minimal consent form posting the decision to the
// consent endpoint. action is the absolute or relative URL of that endpoint;
// it defaults to server.PathConsent.
func ConsentPage(action string, logger *slog.Logger) authorize.ConsentHandler {
	if action == "" {
		action = server.PathConsent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return authorize.ConsentHandlerFunc(func(w http.ResponseWriter, _ *http.Request, req *authorize.Request) {
		data := consentPageData{
			ClientName:    req.Client().Name(),
			Scopes:        req.Scope(),
			Action:        action,
			ID:            req.ID(),
			IDField:       FormAuthorizationID,
			DecisionField: FormDecision,
			Allow:         DecisionAllow,
			Deny:          DecisionDeny,
		}
		if u := req.User(); u != nil {
			data.UserName = u.Name
			if data.UserName == "" {
				data.UserName = u.ID
			}
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; form-action 'self'")
		w.WriteHeader(http.StatusOK)
		if err := consentPageTmpl.Execute(w, data); err != nil {
			logger.Error("Failed to render consent page", "error", err)
		}
	})
}
