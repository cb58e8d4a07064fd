package authorize

import (
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"slices"
	"sort"

	"github.com/giantswarm/oauth-engine/security"
)

// Response modes.
const (
	ResponseModeQuery    = "query"
	ResponseModeFragment = "fragment"
	ResponseModeFormPost = "form_post"
)

// ResponseMode delivers response parameters to the redirect URI.
type ResponseMode interface {
	Name() string
	Respond(w http.ResponseWriter, redirectURI string, params url.Values, headers http.Header) error
}

func copyHeaders(w http.ResponseWriter, headers http.Header) {
	for k, vs := range headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
}

// QueryMode appends parameters to the redirect URI query.
type QueryMode struct{}

// Name implements ResponseMode.
func (QueryMode) Name() string { return ResponseModeQuery }

// Respond implements ResponseMode.
func (QueryMode) Respond(w http.ResponseWriter, redirectURI string, params url.Values, headers http.Header) error {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("invalid redirect URI: %w", err)
	}
	q := u.Query()
	for k, vs := range params {
		q[k] = vs
	}
	u.RawQuery = q.Encode()

	copyHeaders(w, headers)
	w.Header().Set("Location", u.String())
	w.WriteHeader(http.StatusFound)
	return nil
}

// FragmentMode encodes parameters in the redirect URI fragment.
type FragmentMode struct{}

// Name implements ResponseMode.
func (FragmentMode) Name() string { return ResponseModeFragment }

// Respond implements ResponseMode.
func (FragmentMode) Respond(w http.ResponseWriter, redirectURI string, params url.Values, headers http.Header) error {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("invalid redirect URI: %w", err)
	}
	u.Fragment = ""
	u.RawFragment = ""

	copyHeaders(w, headers)
	w.Header().Set("Location", u.String()+"#"+params.Encode())
	w.WriteHeader(http.StatusFound)
	return nil
}

var formPostTemplate = template.Must(template.New("form_post").Parse(`<!DOCTYPE html>
<html>
<head><title>Submit This Form</title></head>
<body>
<form method="post" action="{{.Action}}">
{{- range .Fields}}
<input type="hidden" name="{{.Name}}" value="{{.Value}}"/>
{{- end}}
<noscript><button type="submit">Continue</button></noscript>
</form>
<script nonce="{{.Nonce}}">document.forms[0].submit();</script>
</body>
</html>
`))

type formField struct {
	Name  string
	Value string
}

// FormPostMode renders an auto-submitting HTML form posting the parameters
// to the redirect URI (OAuth 2.0 Form Post Response Mode).
type FormPostMode struct {
	// Issuer decides whether HSTS is sent.
	Issuer string
}

// Name implements ResponseMode.
func (FormPostMode) Name() string { return ResponseModeFormPost }

// Respond implements ResponseMode.
func (m FormPostMode) Respond(w http.ResponseWriter, redirectURI string, params url.Values, headers http.Header) error {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]formField, 0, len(keys))
	for _, k := range keys {
		for _, v := range params[k] {
			fields = append(fields, formField{Name: k, Value: v})
		}
	}

	nonce := security.GenerateRequestID()
	copyHeaders(w, headers)
	security.SetFormPostHeaders(w, m.Issuer, nonce, redirectURI)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	return formPostTemplate.Execute(w, struct {
		Action template.URL
		Fields []formField
		Nonce  string
	}{
		Action: template.URL(redirectURI), //nolint:gosec // G203: redirect URI was matched against the client registration
		Fields: fields,
		Nonce:  nonce,
	})
}

// ResponseModeRegistry maps names to response modes.
type ResponseModeRegistry struct {
	modes map[string]ResponseMode
	names []string
}

// NewResponseModeRegistry creates a registry holding modes.
func NewResponseModeRegistry(modes ...ResponseMode) *ResponseModeRegistry {
	r := &ResponseModeRegistry{modes: map[string]ResponseMode{}}
	for _, m := range modes {
		if _, exists := r.modes[m.Name()]; !exists {
			r.names = append(r.names, m.Name())
		}
		r.modes[m.Name()] = m
	}
	return r
}

// DefaultResponseModes registers query, fragment and form_post.
func DefaultResponseModes(issuer string) *ResponseModeRegistry {
	return NewResponseModeRegistry(QueryMode{}, FragmentMode{}, FormPostMode{Issuer: issuer})
}

// Get returns the mode registered under name.
func (r *ResponseModeRegistry) Get(name string) (ResponseMode, bool) {
	m, ok := r.modes[name]
	return m, ok
}

// Names returns the registered mode names.
func (r *ResponseModeRegistry) Names() []string { return slices.Clone(r.names) }

// defaultMode derives the mode for a response type name: query for code,
// fragment for anything returning tokens.
func (r *ResponseModeRegistry) defaultMode(returnsTokens bool) ResponseMode {
	name := ResponseModeQuery
	if returnsTokens {
		name = ResponseModeFragment
	}
	if m, ok := r.modes[name]; ok {
		return m
	}
	if returnsTokens {
		return FragmentMode{}
	}
	return QueryMode{}
}
