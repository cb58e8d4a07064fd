package token

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-engine/internal/testutil"
	"github.com/giantswarm/oauth-engine/oautherr"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/storage/memory"
)

type fixture struct {
	store   *memory.Store
	clock   *testutil.MockTime
	issuer  *Issuer
	manager *Manager
	audit   *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.New()
	clock := testutil.NewMockTime(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	var audit bytes.Buffer

	issuer := NewIssuer(IssuerConfig{
		AccessTokens:    store.AccessTokens(),
		RefreshTokens:   store.RefreshTokens(),
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
		Now:             clock.Now,
	})
	manager := NewManager(ManagerConfig{
		Hints: []TypeHint{
			NewAccessTokenHint(store.AccessTokens(), testutil.Issuer, clock.Now),
			NewRefreshTokenHint(store.RefreshTokens(), store.AccessTokens(), testutil.Issuer, clock.Now),
		},
		Auditor: security.NewAuditor(slog.New(slog.NewTextHandler(&audit, nil)), true),
	})

	return &fixture{store: store, clock: clock, issuer: issuer, manager: manager, audit: &audit}
}

func (f *fixture) issuePair(t *testing.T, clientID string) (*storage.AccessToken, *storage.RefreshToken) {
	t.Helper()
	ctx := context.Background()

	p := IssueParams{
		ClientID:        clientID,
		ResourceOwnerID: testutil.UserID,
		Scope:           []string{"openid", "offline_access"},
		TokenType:       Bearer{}.Name(),
	}
	rt, err := f.issuer.IssueRefreshToken(ctx, p)
	require.NoError(t, err)
	at, err := f.issuer.IssueAccessToken(ctx, p, rt)
	require.NoError(t, err)
	return at, rt
}

func TestRegistry_ForClient(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, []string{"Bearer"}, reg.Names())
	assert.Equal(t, "Bearer", reg.Default().Name())

	client := testutil.ConfidentialClient()

	tt, err := reg.ForClient(client, "")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tt.Name())

	_, err = reg.ForClient(client, "mac")
	require.Error(t, err)
	assert.True(t, oautherr.Is(err, oautherr.CodeInvalidRequest))

	md := client.Metadata()
	md[storage.MetadataTokenTypes] = []string{"DPoP"}
	client.SetMetadata(md)

	_, err = reg.ForClient(client, "")
	require.Error(t, err)
	assert.True(t, oautherr.Is(err, oautherr.CodeUnauthorizedClient))
}

func TestIssuer_LinksAccessTokenToRefreshToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	at, rt := f.issuePair(t, testutil.ClientID)

	assert.Equal(t, rt.ID(), at.RefreshTokenID())
	assert.Equal(t, f.clock.Now().Add(time.Hour), at.ExpiresAt())
	assert.Equal(t, []string{"openid", "offline_access"}, at.Scope())
	assert.Equal(t, "Bearer", at.Parameters().String(ParamTokenType))
	assert.Equal(t, int64(3600), f.issuer.ExpiresIn(at))

	stored, err := f.store.RefreshTokens().Find(ctx, rt.ID())
	require.NoError(t, err)
	assert.Equal(t, []string{at.ID()}, stored.AccessTokenIDs())
}

func TestIssuer_LinkKeepsConcurrentRevocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, rt := f.issuePair(t, testutil.ClientID)

	// rt is now a stale snapshot of a token revoked elsewhere
	_, err := f.store.RefreshTokens().Consume(ctx, rt.ID())
	require.NoError(t, err)

	p := IssueParams{ClientID: testutil.ClientID, ResourceOwnerID: testutil.UserID, TokenType: Bearer{}.Name()}
	second, err := f.issuer.IssueAccessToken(ctx, p, rt)
	require.NoError(t, err)

	stored, err := f.store.RefreshTokens().Find(ctx, rt.ID())
	require.NoError(t, err)
	assert.True(t, stored.IsRevoked())
	assert.ElementsMatch(t, []string{first.ID(), second.ID()}, stored.AccessTokenIDs())

	_, err = f.store.RefreshTokens().Find(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrTokenNotFound)
	_, err = f.issuer.IssueAccessToken(ctx, p, storage.NewRefreshToken("missing", storage.TokenParams{}))
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestManager_Introspect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := testutil.ConfidentialClient()

	at, rt := f.issuePair(t, testutil.ClientID)

	resp, err := f.manager.Introspect(ctx, client, at.ID(), "")
	require.NoError(t, err)
	assert.Equal(t, true, resp["active"])
	assert.Equal(t, "openid offline_access", resp["scope"])
	assert.Equal(t, testutil.ClientID, resp["client_id"])
	assert.Equal(t, testutil.UserID, resp["sub"])
	assert.Equal(t, "Bearer", resp["token_type"])
	assert.Equal(t, testutil.Issuer, resp["iss"])
	assert.Equal(t, at.ExpiresAt().Unix(), resp["exp"])

	// The hint only orders the lookup; a wrong hint still finds the token.
	resp, err = f.manager.Introspect(ctx, client, rt.ID(), HintAccessToken)
	require.NoError(t, err)
	assert.Equal(t, true, resp["active"])

	resp, err = f.manager.Introspect(ctx, client, "does-not-exist", "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"active": false}, resp)
}

func TestManager_IntrospectExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	at, _ := f.issuePair(t, testutil.ClientID)

	// Still within the grace token grants allow, but past the expiry.
	f.clock.Advance(time.Hour + time.Second)
	require.Less(t, time.Second, security.DefaultClockSkewGracePeriod)

	resp, err := f.manager.Introspect(ctx, testutil.ConfidentialClient(), at.ID(), HintAccessToken)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"active": false}, resp)
}

func TestManager_RevokeThenIntrospect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := testutil.ConfidentialClient()

	at, _ := f.issuePair(t, testutil.ClientID)

	require.NoError(t, f.manager.Revoke(ctx, client, at.ID(), HintAccessToken))

	resp, err := f.manager.Introspect(ctx, client, at.ID(), HintAccessToken)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"active": false}, resp)

	// Revoking again is a no-op.
	require.NoError(t, f.manager.Revoke(ctx, client, at.ID(), ""))
	assert.Contains(t, f.audit.String(), security.EventTokenRevoked)
}

func TestManager_RevokeRefreshTokenCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := testutil.ConfidentialClient()

	at, rt := f.issuePair(t, testutil.ClientID)

	require.NoError(t, f.manager.Revoke(ctx, client, rt.ID(), HintRefreshToken))

	storedAT, err := f.store.AccessTokens().Find(ctx, at.ID())
	require.NoError(t, err)
	assert.True(t, storedAT.IsRevoked())

	storedRT, err := f.store.RefreshTokens().Find(ctx, rt.ID())
	require.NoError(t, err)
	assert.True(t, storedRT.IsRevoked())
}

func TestManager_RevokeErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := testutil.ConfidentialClient()

	at, _ := f.issuePair(t, "other-client")

	err := f.manager.Revoke(ctx, client, at.ID(), "")
	require.Error(t, err)
	assert.True(t, oautherr.Is(err, oautherr.CodeUnauthorizedClient))

	stored, err := f.store.AccessTokens().Find(ctx, at.ID())
	require.NoError(t, err)
	assert.False(t, stored.IsRevoked())

	// Unknown tokens are not an error.
	require.NoError(t, f.manager.Revoke(ctx, client, "unknown", ""))

	err = f.manager.Revoke(ctx, client, at.ID(), "id_token")
	require.Error(t, err)
	assert.True(t, oautherr.Is(err, oautherr.CodeUnsupportedTokenType))

	_, err = f.manager.Introspect(ctx, client, at.ID(), "mac_key")
	require.Error(t, err)
	assert.True(t, oautherr.Is(err, oautherr.CodeUnsupportedTokenType))

	err = f.manager.Revoke(ctx, client, "", "")
	require.Error(t, err)
	assert.True(t, oautherr.Is(err, oautherr.CodeInvalidRequest))
}

func TestManager_Hints(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "access_token refresh_token", strings.Join(f.manager.Hints(), " "))
}
