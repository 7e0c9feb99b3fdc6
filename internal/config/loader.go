package config

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, expands environment
// variables, merges it on top of Default(), and validates the result.
// A missing file is not an error: the built-in defaults are returned as-is,
// matching a zero-config deployment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return finish(cfg)
			}
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}

		raw = ExpandEnv(raw)

		var overlay Config
		if err := yaml.Unmarshal(raw, &overlay); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidYAML, path, err)
		}

		if err := mergo.Merge(cfg, overlay, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging %s into defaults: %w", path, err)
		}
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	return cfg, nil
}
