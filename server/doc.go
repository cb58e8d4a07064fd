// Package server composes the protocol components into an authorization
// server.
//
// A Server owns the configuration, the repositories and every registry the
// endpoints consult: response types and modes, the authorization checker
// chain, client authentication methods, grant types, token types and token
// type hints. The discovery document is derived from those registries, so a
// grant that is not registered is never advertised.
//
// Configuration is read with LoadConfig from an optional YAML file and
// OAUTH_ENGINE_ environment variables. New applies secure defaults, logs a
// warning for every weakened setting and rejects invalid values.
//
// Example usage:
//
//	config, err := server.LoadConfig("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	repos, err := server.OpenRepositories(config.Storage, nil, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	signer, err := jose.NewSigner(key, "key-1")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	srv, err := server.New(repos, accounts, signer, server.Options{}, config, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
package server
