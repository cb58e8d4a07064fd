package oauth

import "github.com/giantswarm/oauth-engine/server"

// ServerConfig holds the authorization server configuration.
type ServerConfig = server.Config

// LoadConfig reads a ServerConfig from the optional YAML file at path and
// OAUTH_ENGINE_ environment variables. See server.LoadConfig.
func LoadConfig(path string) (*ServerConfig, error) {
	return server.LoadConfig(path)
}
