package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix  = "FANPULSE_"
	envFileKey = "FANPULSE_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if FANPULSE_CONFIG is set
//  3. env (prefix FANPULSE_); a double underscore nests keys, so
//     FANPULSE_CHAINS__BASE__RPS sets chains.base.rps
func Load(_ context.Context) (*Config, error) {
	base := New()
	k := koanf.New(".")

	if path := os.Getenv(envFileKey); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}
	k.Delete("config")

	cfg := *base
	cfg.Chains = nil
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	cfg.Chains = mergeChains(base.Chains, cfg.Chains)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeChains overlays loaded chain settings field by field onto defaults,
// so setting one field of a known chain keeps the others.
func mergeChains(defaults, loaded map[string]ChainConfig) map[string]ChainConfig {
	out := make(map[string]ChainConfig, len(defaults)+len(loaded))
	for id, ch := range defaults {
		out[id] = ch
	}
	for id, ch := range loaded {
		merged := out[id]
		if ch.BaseFee != "" {
			merged.BaseFee = ch.BaseFee
		}
		if ch.BridgeURL != "" {
			merged.BridgeURL = ch.BridgeURL
		}
		if ch.RPS > 0 {
			merged.RPS = ch.RPS
		}
		if ch.Burst > 0 {
			merged.Burst = ch.Burst
		}
		out[id] = merged
	}
	return out
}
