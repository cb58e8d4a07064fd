package grant

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/giantswarm/oauth-engine/idtoken"
	"github.com/giantswarm/oauth-engine/scope"
)

// Metadata keys read from authorization codes.
const (
	MetadataNonce    = "nonce"
	MetadataAuthTime = "auth_time"
)

// BeforeExtension runs before the grant is processed. It calls next.Run to
// continue, or returns an error to abort the request.
type BeforeExtension interface {
	Name() string
	BeforeIssue(ctx context.Context, data *Data, next BeforeNext) error
}

// AfterExtension runs once tokens are issued and may add fields to the
// response.
type AfterExtension interface {
	Name() string
	AfterIssue(ctx context.Context, data *Data, resp *Response, next AfterNext) error
}

// BeforeChain is an ordered list of before-issuance extensions.
type BeforeChain struct {
	extensions []BeforeExtension
}

// NewBeforeChain creates a chain running extensions in order.
func NewBeforeChain(extensions ...BeforeExtension) *BeforeChain {
	return &BeforeChain{extensions: extensions}
}

// Run runs every extension.
func (c *BeforeChain) Run(ctx context.Context, data *Data) error {
	return BeforeNext{chain: c}.Run(ctx, data)
}

// BeforeNext continues a BeforeChain at the next extension.
type BeforeNext struct {
	chain *BeforeChain
	index int
}

// Run runs the remainder of the chain.
func (n BeforeNext) Run(ctx context.Context, data *Data) error {
	if n.chain == nil || n.index >= len(n.chain.extensions) {
		return nil
	}
	return n.chain.extensions[n.index].BeforeIssue(ctx, data, BeforeNext{chain: n.chain, index: n.index + 1})
}

// AfterChain is an ordered list of after-issuance extensions.
type AfterChain struct {
	extensions []AfterExtension
}

// NewAfterChain creates a chain running extensions in order.
func NewAfterChain(extensions ...AfterExtension) *AfterChain {
	return &AfterChain{extensions: extensions}
}

// Run runs every extension.
func (c *AfterChain) Run(ctx context.Context, data *Data, resp *Response) error {
	return AfterNext{chain: c}.Run(ctx, data, resp)
}

// AfterNext continues an AfterChain at the next extension.
type AfterNext struct {
	chain *AfterChain
	index int
}

// Run runs the remainder of the chain.
func (n AfterNext) Run(ctx context.Context, data *Data, resp *Response) error {
	if n.chain == nil || n.index >= len(n.chain.extensions) {
		return nil
	}
	return n.chain.extensions[n.index].AfterIssue(ctx, data, resp, AfterNext{chain: n.chain, index: n.index + 1})
}

// BeforeFunc adapts a function to a BeforeExtension that always continues.
type BeforeFunc struct {
	ExtensionName string
	Func          func(ctx context.Context, data *Data) error
}

// Name implements BeforeExtension.
func (f BeforeFunc) Name() string { return f.ExtensionName }

// BeforeIssue implements BeforeExtension.
func (f BeforeFunc) BeforeIssue(ctx context.Context, data *Data, next BeforeNext) error {
	if err := f.Func(ctx, data); err != nil {
		return err
	}
	return next.Run(ctx, data)
}

// AfterFunc adapts a function to an AfterExtension that always continues.
type AfterFunc struct {
	ExtensionName string
	Func          func(ctx context.Context, data *Data, resp *Response) error
}

// Name implements AfterExtension.
func (f AfterFunc) Name() string { return f.ExtensionName }

// AfterIssue implements AfterExtension.
func (f AfterFunc) AfterIssue(ctx context.Context, data *Data, resp *Response, next AfterNext) error {
	if err := f.Func(ctx, data, resp); err != nil {
		return err
	}
	return next.Run(ctx, data, resp)
}

// IDTokenExtension adds an OpenID Connect ID Token to responses whose scope
// includes openid and that were issued for a resource owner.
type IDTokenExtension struct {
	Issuer *idtoken.Issuer

	// GrantTypes limits the grants that receive an ID Token. Defaults to
	// authorization_code, refresh_token and password.
	GrantTypes []string
}

// Name implements AfterExtension.
func (IDTokenExtension) Name() string { return "id_token" }

// AfterIssue implements AfterExtension.
func (e IDTokenExtension) AfterIssue(ctx context.Context, data *Data, resp *Response, next AfterNext) error {
	if !e.applies(data) {
		return next.Run(ctx, data, resp)
	}

	params := idtoken.Params{
		Client:      data.Client(),
		Subject:     data.ResourceOwnerID(),
		Scope:       data.Scope(),
		AccessToken: resp.AccessToken.ID(),
	}
	md := data.Metadata()
	// A refreshed ID Token carries no nonce (OIDC Core 12.2).
	if data.GrantType() != TypeRefreshToken {
		params.Nonce = md.String(MetadataNonce)
	}
	if raw := md.String(MetadataAuthTime); raw != "" {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
			params.AuthTime = time.Unix(secs, 0)
		}
	}

	idt, err := e.Issuer.Issue(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to issue ID token: %w", err)
	}
	resp.Set("id_token", idt)
	return next.Run(ctx, data, resp)
}

func (e IDTokenExtension) applies(data *Data) bool {
	if e.Issuer == nil || data.ResourceOwnerID() == "" || !scope.Contains(data.Scope(), scope.OpenID) {
		return false
	}
	grants := e.GrantTypes
	if len(grants) == 0 {
		grants = []string{TypeAuthorizationCode, TypeRefreshToken, TypePassword}
	}
	return slices.Contains(grants, data.GrantType())
}
