package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/giantswarm/oauth-engine/instrumentation"
	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/oautherr"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Hints in lookup order when the request carries no token_type_hint.
	Hints []TypeHint

	Auditor *security.Auditor
	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
}

// Manager implements token introspection and revocation.
type Manager struct {
	hints   []TypeHint
	auditor *security.Auditor
	metrics *instrumentation.Metrics
	logger  *slog.Logger
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		hints:   cfg.Hints,
		auditor: cfg.Auditor,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

// Hints returns the supported token_type_hint values.
func (m *Manager) Hints() []string {
	names := make([]string, len(m.hints))
	for i, h := range m.hints {
		names[i] = h.Hint()
	}
	return names
}

// order returns the hints to try: the named one first, then the rest.
func (m *Manager) order(hint string) ([]TypeHint, error) {
	if hint == "" {
		return m.hints, nil
	}
	idx := slices.IndexFunc(m.hints, func(h TypeHint) bool { return h.Hint() == hint })
	if idx < 0 {
		return nil, oautherr.UnsupportedTokenType(fmt.Sprintf("Token type hint %q is not supported", hint))
	}
	ordered := make([]TypeHint, 0, len(m.hints))
	ordered = append(ordered, m.hints[idx])
	ordered = append(ordered, m.hints[:idx]...)
	ordered = append(ordered, m.hints[idx+1:]...)
	return ordered, nil
}

// find locates value across the hinted families. It returns a nil token when
// no family knows it.
func (m *Manager) find(ctx context.Context, value, hint string) (storage.Token, TypeHint, error) {
	ordered, err := m.order(hint)
	if err != nil {
		return nil, nil, err
	}
	for _, h := range ordered {
		t, err := h.Find(ctx, value)
		if errors.Is(err, storage.ErrTokenNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to look up %s: %w", h.Hint(), err)
		}
		return t, h, nil
	}
	return nil, nil, nil
}

// Introspect answers an RFC 7662 request made by an authenticated client.
// Unknown, revoked and expired tokens all give {"active": false}.
func (m *Manager) Introspect(ctx context.Context, client *storage.Client, value, hint string) (map[string]any, error) {
	if value == "" {
		return nil, oautherr.InvalidRequest("Missing token parameter").ForParameter("token")
	}

	t, h, err := m.find(ctx, value, hint)
	if err != nil {
		return nil, err
	}

	resp := inactive()
	if t != nil {
		resp = h.Introspect(t)
	}

	active, _ := resp["active"].(bool)
	m.metrics.RecordIntrospection(ctx, active)
	m.logger.Debug("Token introspected",
		"client_id", client.ID(),
		"token", util.SafeTruncate(value, 8),
		"active", active)
	return resp, nil
}

// Revoke answers an RFC 7009 request. Unknown tokens succeed silently. A
// client may only revoke its own tokens.
func (m *Manager) Revoke(ctx context.Context, client *storage.Client, value, hint string) error {
	if value == "" {
		return oautherr.InvalidRequest("Missing token parameter").ForParameter("token")
	}

	t, h, err := m.find(ctx, value, hint)
	if err != nil {
		return err
	}
	if t == nil {
		m.logger.Debug("Revocation of unknown token ignored", "client_id", client.ID())
		return nil
	}

	if t.ClientID() != client.ID() {
		m.auditor.LogEvent(security.Event{
			Type:     security.EventAuthFailure,
			UserID:   t.ResourceOwnerID(),
			ClientID: client.ID(),
			Details:  map[string]any{"reason": "revocation of a token issued to another client"},
		})
		return oautherr.UnauthorizedClient("The token was not issued to this client")
	}

	if t.IsRevoked() {
		return nil
	}
	if err := h.Revoke(ctx, t); err != nil {
		return fmt.Errorf("failed to revoke %s: %w", h.Hint(), err)
	}

	m.metrics.RecordTokenRevocation(ctx, h.Hint())
	m.auditor.LogTokenRevoked(t.ResourceOwnerID(), client.ID(), "", h.Hint())
	return nil
}
