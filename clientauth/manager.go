package clientauth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/giantswarm/oauth-engine/oautherr"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

// Config configures a Manager.
type Config struct {
	// Clients looks up the client named by a resolution (required).
	Clients storage.ClientRepository

	// Methods lists the enabled methods. Defaults to none,
	// client_secret_basic and client_secret_post.
	Methods []Method

	Auditor *security.Auditor
	Logger  *slog.Logger
	Now     func() time.Time
}

// Manager negotiates and runs client authentication.
type Manager struct {
	clients storage.ClientRepository
	methods []Method
	auditor *security.Auditor
	logger  *slog.Logger
}

// NewManager creates a manager.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if len(cfg.Methods) == 0 {
		cfg.Methods = DefaultMethods(cfg.Now)
	}
	return &Manager{
		clients: cfg.Clients,
		methods: cfg.Methods,
		auditor: cfg.Auditor,
		logger:  cfg.Logger,
	}
}

// DefaultMethods returns the secret based methods plus none, using now as
// the clock for secret expiry.
func DefaultMethods(now func() time.Time) []Method {
	return []Method{None{}, SecretBasic{now: now}, SecretPost{now: now}}
}

// SupportedMethods returns the token_endpoint_auth_method values served,
// for the discovery document.
func (m *Manager) SupportedMethods() []string {
	var names []string
	for _, method := range m.methods {
		if multi, ok := method.(interface{ Names() []string }); ok {
			names = append(names, multi.Names()...)
			continue
		}
		names = append(names, method.Name())
	}
	return names
}

// Resolve determines which method r uses. It returns nil when no method
// matched, and invalid_request when more than one credential-bearing method
// matched or the credentials are malformed. r.ParseForm must have been
// called.
func (m *Manager) Resolve(r *http.Request) (*Resolution, error) {
	var (
		matched []*Resolution
		none    *Resolution
	)

	for _, method := range m.methods {
		res, err := method.Match(r)
		if err != nil {
			return nil, err
		}
		if res == nil {
			continue
		}
		if res.Method == storage.AuthMethodNone {
			none = res
			continue
		}
		matched = append(matched, res)
	}

	switch len(matched) {
	case 0:
		return none, nil
	case 1:
		return matched[0], nil
	}

	names := make([]string, len(matched))
	for i, res := range matched {
		names[i] = res.Method
	}
	m.auditor.LogEvent(security.Event{
		Type:     security.EventAmbiguousClientAuthentication,
		ClientID: matched[0].ClientID,
		Details:  map[string]any{"methods": names},
	})
	return nil, oautherr.InvalidRequest("Client authentication is ambiguous: the request uses " + strings.Join(names, " and "))
}

// Authenticate checks res against client. The client must not be deleted and
// must be registered for the method the request used. It fails closed.
func (m *Manager) Authenticate(ctx context.Context, client *storage.Client, res *Resolution) bool {
	if client == nil || res == nil || client.IsDeleted() {
		return false
	}
	if client.ID() != res.ClientID {
		return false
	}
	if client.TokenEndpointAuthMethod() != res.Method {
		m.logger.Debug("Client used an authentication method it is not registered for",
			"client_id", client.ID(),
			"method", res.Method,
			"registered", client.TokenEndpointAuthMethod())
		return false
	}

	method := m.methodFor(res.Method)
	if method == nil {
		return false
	}
	return method.Authenticate(ctx, client, res)
}

func (m *Manager) methodFor(name string) Method {
	for _, method := range m.methods {
		if method.Name() == name {
			return method
		}
		if multi, ok := method.(interface{ Names() []string }); ok {
			for _, n := range multi.Names() {
				if n == name {
					return method
				}
			}
		}
	}
	return nil
}

// AuthenticateRequest resolves, loads and authenticates the client of r in
// one step. Any failure other than a malformed request is invalid_client,
// so callers cannot tell an unknown client from a wrong secret.
func (m *Manager) AuthenticateRequest(ctx context.Context, r *http.Request) (*storage.Client, *Resolution, error) {
	res, err := m.Resolve(r)
	if err != nil {
		return nil, nil, err
	}
	if res == nil {
		return nil, nil, oautherr.InvalidClient("Client authentication failed: no credentials")
	}

	client, err := m.clients.Find(ctx, res.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			m.fail(r, res, "unknown client")
			return nil, res, oautherr.InvalidClient("Client authentication failed")
		}
		return nil, res, err
	}

	if !m.Authenticate(ctx, client, res) {
		m.fail(r, res, "invalid credentials for "+res.Method)
		return nil, res, oautherr.InvalidClient("Client authentication failed")
	}
	return client, res, nil
}

func (m *Manager) fail(r *http.Request, res *Resolution, reason string) {
	m.auditor.LogAuthFailure("", res.ClientID, security.GetClientIP(r, false, 0), reason)
}
