// Package config reads the initcheck.yaml project file: the language
// version to analyze against plus optional policy overrides. The file is
// optional; without one the current-version policy applies unchanged.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/calyx-lang/initcheck/internal/diagnostics"
	"github.com/calyx-lang/initcheck/internal/policy"
)

// FileName is the project configuration file name.
const FileName = "initcheck.yaml"

// Config is the top-level initcheck.yaml structure.
type Config struct {
	// Version is the language-version target (semver, e.g. "1.4" or "2.0").
	Version string `yaml:"version"`

	// Suspicious selects the severity of the suspicious-default-construction
	// advisory: "warning" (default) or "silent".
	Suspicious string `yaml:"suspicious"`

	// SynthesizeDefaultCtor, when set, overrides the version policy's
	// default-constructor synthesis toggle.
	SynthesizeDefaultCtor *bool `yaml:"synthesizeDefaultCtor"`

	// CheckAllFieldKinds, when set, overrides the opacity field-kind toggle.
	// Mainly for exercising the legacy narrow check explicitly.
	CheckAllFieldKinds *bool `yaml:"checkAllFieldKinds"`

	// Cache is the path of the sqlite result cache. Empty disables caching.
	Cache string `yaml:"cache"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{Version: policy.CurrentVersion}
}

// Load reads the config file from dir. A missing file yields Default.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.Version == "" {
		cfg.Version = policy.CurrentVersion
	}
	return &cfg, nil
}

// Policy resolves the configured version and applies the overrides.
func (c *Config) Policy() (policy.Policy, error) {
	pol, err := policy.ForVersion(c.Version)
	if err != nil {
		return policy.Policy{}, err
	}
	switch c.Suspicious {
	case "", "warning":
		// keep the version default
	case "silent":
		pol.SuspiciousSeverity = diagnostics.Silent
	default:
		return policy.Policy{}, fmt.Errorf("config: unknown suspicious level %q", c.Suspicious)
	}
	if c.SynthesizeDefaultCtor != nil {
		pol.SynthesizeDefaultCtor = *c.SynthesizeDefaultCtor
	}
	if c.CheckAllFieldKinds != nil {
		pol.CheckAllFieldKinds = *c.CheckAllFieldKinds
	}
	return pol, nil
}
