package main

import (
	"context"
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/giantswarm/oauth-engine/providers"
	"github.com/giantswarm/oauth-engine/storage"
)

// seed lists the clients and users registered at startup.
type seed struct {
	Clients []seedClient `koanf:"clients"`
	Users   []seedUser   `koanf:"users"`
}

type seedClient struct {
	ID                      string   `koanf:"id"`
	Name                    string   `koanf:"name"`
	Owner                   string   `koanf:"owner"`
	Secret                  string   `koanf:"secret"`
	SecretHash              string   `koanf:"secret_hash"`
	TokenEndpointAuthMethod string   `koanf:"token_endpoint_auth_method"`
	RedirectURIs            []string `koanf:"redirect_uris"`
	GrantTypes              []string `koanf:"grant_types"`
	ResponseTypes           []string `koanf:"response_types"`
	Scope                   []string `koanf:"scope"`
	DefaultScope            []string `koanf:"default_scope"`
	RequestURIs             []string `koanf:"request_uris"`
	JWKSURI                 string   `koanf:"jwks_uri"`
	JWKS                    string   `koanf:"jwks"`
	FirstParty              bool     `koanf:"first_party"`
}

type seedUser struct {
	ID            string `koanf:"id"`
	Username      string `koanf:"username"`
	Name          string `koanf:"name"`
	Email         string `koanf:"email"`
	EmailVerified bool   `koanf:"email_verified"`
	PasswordHash  string `koanf:"password_hash"`
}

func loadSeed(path string) (*seed, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load seed file %q: %w", path, err)
	}

	var s seed
	if err := k.UnmarshalWithConf("", &s, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode seed file %q: %w", path, err)
	}
	return &s, nil
}

func (c seedClient) client() (*storage.Client, error) {
	if c.ID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if c.Secret != "" && c.SecretHash != "" {
		return nil, fmt.Errorf("client %q: secret and secret_hash are mutually exclusive", c.ID)
	}

	md := storage.DataBag{}
	setString := func(key, value string) {
		if value != "" {
			md[key] = value
		}
	}
	setStrings := func(key string, values []string) {
		if len(values) > 0 {
			md[key] = values
		}
	}

	setString(storage.MetadataClientName, c.Name)
	setString(storage.MetadataClientSecret, c.Secret)
	setString(storage.MetadataClientSecretHash, c.SecretHash)
	setString(storage.MetadataTokenEndpointAuthMethod, c.TokenEndpointAuthMethod)
	setString(storage.MetadataJWKSURI, c.JWKSURI)
	setString(storage.MetadataJWKS, c.JWKS)
	setStrings(storage.MetadataRedirectURIs, c.RedirectURIs)
	setStrings(storage.MetadataGrantTypes, c.GrantTypes)
	setStrings(storage.MetadataResponseTypes, c.ResponseTypes)
	setStrings(storage.MetadataScope, c.Scope)
	setStrings(storage.MetadataDefaultScope, c.DefaultScope)
	setStrings(storage.MetadataRequestURIs, c.RequestURIs)
	if c.FirstParty {
		md[storage.MetadataFirstParty] = true
	}

	return storage.NewClient(c.ID, c.Owner, md), nil
}

func (u seedUser) info() providers.UserInfo {
	return providers.UserInfo{
		ID:            u.ID,
		Username:      u.Username,
		Name:          u.Name,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
	}
}

// apply registers the seeded clients and users.
func (s *seed) apply(ctx context.Context, clients storage.ClientRepository, accounts *providers.Static) error {
	for i, c := range s.Clients {
		client, err := c.client()
		if err != nil {
			return fmt.Errorf("clients[%d]: %w", i, err)
		}
		if err := clients.Save(ctx, client); err != nil {
			return fmt.Errorf("failed to save client %q: %w", client.ID(), err)
		}
	}

	for i, u := range s.Users {
		if u.PasswordHash == "" {
			return fmt.Errorf("users[%d]: password_hash is required", i)
		}
		if err := accounts.AddUserWithHash(u.info(), []byte(u.PasswordHash)); err != nil {
			return fmt.Errorf("users[%d]: %w", i, err)
		}
	}
	return nil
}
