package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ParseEnvPrefixed loads configuration using the given env var prefix.
func ParseEnvPrefixed(prefix string, target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: prefix}); err != nil {
		return fmt.Errorf("parse env with prefix %q: %w", prefix, err)
	}
	return nil
}
