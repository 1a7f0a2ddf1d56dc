// Package config implements the ambient configuration layer: hygiene
// overrides, allowlist additions, and default timeouts, loaded with the
// user-config-then-project-config precedence odvcencio-buckley's
// pkg/config.Load follows (~/.rfsn/config.yaml, then ./.rfsn/config.yaml,
// each overlaid with gopkg.in/yaml.v3 and merged with dario.cat/mergo
// rather than buckley's hand-rolled per-field mergeConfigs, since this
// config surface is far smaller and mergo's struct-merge covers it
// directly).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/riftlabs/rfsn-controller/pkg/rerr"
)

// Config is the layered, overridable portion of a run's settings — the
// parts a user or project reasonably wants to default outside of CLI flags
// (spec §3's RunConfig carries the rest, assembled by cmd/rfsn from flags
// plus this Config).
type Config struct {
	Sandbox struct {
		BaseDir    string `yaml:"base_dir"`
		DefaultTTL int    `yaml:"default_ttl_seconds"`
	} `yaml:"sandbox"`

	Verify struct {
		DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`
	} `yaml:"verify"`

	Hygiene struct {
		AllowLockfileChanges bool     `yaml:"allow_lockfile_changes"`
		ExtraForbiddenPaths  []string `yaml:"extra_forbidden_paths"`
	} `yaml:"hygiene"`

	Allowlist struct {
		ExtraCommands map[string][]string `yaml:"extra_commands"`
	} `yaml:"allowlist"`

	Model struct {
		DefaultID      string    `yaml:"default_id"`
		Temperatures   []float64 `yaml:"temperatures"`
		ProviderEnvVar string    `yaml:"provider_env_var"`
	} `yaml:"model"`
}

// Default returns the built-in baseline before any file overlay.
func Default() *Config {
	cfg := &Config{}
	cfg.Sandbox.BaseDir = filepath.Join(os.TempDir(), "rfsn-sandboxes")
	cfg.Sandbox.DefaultTTL = 3600
	cfg.Verify.DefaultTimeoutSeconds = 300
	cfg.Model.Temperatures = []float64{0.0, 0.2, 0.4}
	cfg.Model.ProviderEnvVar = "OPENAI_API_KEY"
	cfg.Model.DefaultID = "gpt-4.1"
	return cfg
}

// Load layers ~/.rfsn/config.yaml and ./.rfsn/config.yaml onto Default().
// A file's non-empty scalar fields override what came before (mergo's
// WithOverride); its list fields (temperatures, extra_forbidden_paths) are
// appended to the earlier lists rather than replacing them (mergo's
// WithAppendSlice). RFSN_SANDBOX_BASE and RFSN_MODEL env vars (spec §6)
// are applied last, as the highest-precedence layer.
func Load() (*Config, error) {
	cfg := Default()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		if err := mergeFile(cfg, filepath.Join(home, ".rfsn", "config.yaml")); err != nil {
			return nil, err
		}
	}
	if err := mergeFile(cfg, filepath.Join(".", ".rfsn", "config.yaml")); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return rerr.Wrap(err, rerr.CodeConfigInvalid, "read config file "+path)
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return rerr.Wrap(err, rerr.CodeConfigInvalid, "parse config file "+path)
	}

	if err := mergo.Merge(cfg, override, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
		return rerr.Wrap(err, rerr.CodeConfigInvalid, fmt.Sprintf("merge config file %s", path))
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RFSN_SANDBOX_BASE"); v != "" {
		cfg.Sandbox.BaseDir = v
	}
	if v := os.Getenv("RFSN_MODEL"); v != "" {
		cfg.Model.DefaultID = v
	}
}
