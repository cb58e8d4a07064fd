package server

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
//
// Nested keys are separated by a double underscore:
//
//	OAUTH_ENGINE_ISSUER                    → issuer
//	OAUTH_ENGINE_STORAGE__VALKEY__ADDRESS  → storage.valkey.address
const EnvPrefix = "OAUTH_ENGINE_"

// configDefaults are loaded first so files and the environment override them.
var configDefaults = map[string]any{
	"storage.backend": StorageMemory,
	"scope_policy":    "none",
}

// LoadConfig reads the configuration from the YAML file at path (optional)
// and then from OAUTH_ENGINE_ environment variables. Secure defaults are
// applied later by New.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(configDefaults, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %q: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", transformEnv), nil); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// transformEnv maps OAUTH_ENGINE_RATE_LIMIT__BURST to rate_limit.burst.
func transformEnv(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}
