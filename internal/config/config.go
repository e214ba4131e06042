// Package config loads guardrail configuration from an optional YAML
// file overlaid with GUARDRAIL_-prefixed environment variables.
package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Admission AdmissionConfig `koanf:"admission"`
	Budget    BudgetConfig    `koanf:"budget"`
	Audit     AuditConfig     `koanf:"audit"`
}

type ServerConfig struct {
	Port int `koanf:"port"`

	// Timeout is the per-request timeout in seconds.
	Timeout int `koanf:"timeout"`
}

// AdmissionConfig configures the inbound rate limiter. Key names carry
// no underscores so they survive the env-variable mapping.
type AdmissionConfig struct {
	// Limit is requests allowed per Window per client.
	Limit int `koanf:"limit"`

	// Window is the sliding window in seconds.
	Window int `koanf:"window"`

	// Prefixes lists protected path prefixes; empty protects nothing.
	Prefixes []string `koanf:"prefixes"`

	// TrustProxy enables X-Forwarded-For resolution. Off by default:
	// only enable behind an operator-controlled proxy that appends the
	// real client hop.
	TrustProxy bool `koanf:"trustproxy"`

	// MaxEntries caps the number of tracked client keys.
	MaxEntries int `koanf:"maxentries"`

	// Cleanup throttles the full-table sweep, in seconds.
	Cleanup int `koanf:"cleanup"`
}

type BudgetConfig struct {
	// Timezone is the IANA zone for the daily quota boundary.
	Timezone string `koanf:"timezone"`

	// Models maps model name to its provider limits. Set via the YAML
	// file; the env overlay cannot express nested maps.
	Models map[string]ModelConfig `koanf:"models"`
}

type ModelConfig struct {
	RPM       int `koanf:"rpm"`
	TPM       int `koanf:"tpm"`
	RPD       int `koanf:"rpd"`
	MaxTokens int `koanf:"maxtokens"`
	MaxOutput int `koanf:"maxoutput"`
}

type AuditConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// Load reads path (if it exists) and the environment. An empty path
// skips the file layer entirely.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, err
			}
		}
	}

	// Environment overlay: GUARDRAIL_ADMISSION_LIMIT -> admission.limit
	if err := k.Load(env.Provider("GUARDRAIL_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "GUARDRAIL_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	defaults := map[string]interface{}{
		"server.port":          8080,
		"server.timeout":       30,
		"admission.limit":      60,
		"admission.window":     60,
		"admission.prefixes":   []string{"/v1/"},
		"admission.trustproxy": false,
		"admission.maxentries": 10000,
		"admission.cleanup":    60,
		"budget.timezone":      "UTC",
		"audit.enabled":        false,
		"audit.path":           "./data/guardrail.db",
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
