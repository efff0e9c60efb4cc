// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pdfsign.
//
// go-pdfsign is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads the pdfsign YAML configuration and applies
// environment variable overrides.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

// Config represents the complete application configuration
type Config struct {
	Backend   string          `yaml:"backend"`
	PKCS11    PKCS11Config    `yaml:"pkcs11"`
	Delegated DelegatedConfig `yaml:"delegated"`
	Signing   SigningConfig   `yaml:"signing"`
	PIN       PINConfig       `yaml:"pin"`
	Logging   LoggingConfig   `yaml:"logging"`
	Settings  SettingsConfig  `yaml:"settings"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// PKCS11Config selects the token library and slot
type PKCS11Config struct {
	Library string `yaml:"library"`
	Slot    uint   `yaml:"slot"`
}

// DelegatedConfig locates the signing helper
type DelegatedConfig struct {
	Runtime  string        `yaml:"runtime"`
	Artifact string        `yaml:"artifact"`
	Timeout  time.Duration `yaml:"timeout"`
	TempDir  string        `yaml:"temp_dir"`
}

// SigningConfig holds signature defaults
type SigningConfig struct {
	Conformance string `yaml:"conformance"`
	TSAURL      string `yaml:"tsa_url"`
}

// PINConfig controls the PIN attempt budget
type PINConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	MinInterval time.Duration `yaml:"min_interval"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SettingsConfig controls the persisted appearance settings
type SettingsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MetricsConfig controls metrics collection
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Textfile receives the metrics after each run when set.
	Textfile string `yaml:"textfile"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Backend: string(types.BackendNative),
		Delegated: DelegatedConfig{
			Timeout: 60 * time.Second,
		},
		Signing: SigningConfig{
			Conformance: string(types.ConformanceBasic),
		},
		PIN: PINConfig{
			MaxAttempts: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Settings: SettingsConfig{
			Enabled: true,
		},
	}
}

// Load reads configuration from a YAML file over the defaults and applies
// environment variable overrides. An empty path loads the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - Config file path is provided by the user
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if backend := os.Getenv("PDFSIGN_BACKEND"); backend != "" {
		cfg.Backend = backend
	}

	// PKCS#11 settings
	if lib := os.Getenv("PKCS11_LIBRARY"); lib != "" {
		cfg.PKCS11.Library = lib
	}
	if slot := os.Getenv("PDFSIGN_SLOT"); slot != "" {
		n, err := strconv.ParseUint(slot, 10, 32)
		if err != nil {
			log.Printf("Warning: invalid PDFSIGN_SLOT value %q, using %d: %v", slot, cfg.PKCS11.Slot, err)
		} else {
			cfg.PKCS11.Slot = uint(n)
		}
	}

	// Delegated helper
	if java := os.Getenv("PDFSIGN_JAVA"); java != "" {
		cfg.Delegated.Runtime = java
	}
	if jar := os.Getenv("PDFSIGN_JAR"); jar != "" {
		cfg.Delegated.Artifact = jar
	}

	// Signing
	if tsa := os.Getenv("PDFSIGN_TSA_URL"); tsa != "" {
		cfg.Signing.TSAURL = tsa
	}

	// Logging
	if level := os.Getenv("PDFSIGN_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("PDFSIGN_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	// Settings and metrics
	if dir := os.Getenv("PDFSIGN_SETTINGS_DIR"); dir != "" {
		cfg.Settings.Path = dir
	}
	if textfile := os.Getenv("PDFSIGN_METRICS_TEXTFILE"); textfile != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Textfile = textfile
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := types.ParseBackendType(c.Backend); err != nil {
		return fmt.Errorf("invalid backend: %s (must be native or delegated)", c.Backend)
	}

	if c.Signing.Conformance != "" && !types.ConformanceLevel(c.Signing.Conformance).IsValid() {
		return fmt.Errorf("invalid conformance level: %s (must be basic, timestamp, or ltv)", c.Signing.Conformance)
	}
	if types.ConformanceLevel(c.Signing.Conformance).RequiresTimestamp() && c.Signing.TSAURL == "" {
		return fmt.Errorf("signing tsa_url is required for conformance level %s", c.Signing.Conformance)
	}

	if c.Delegated.Timeout < 0 {
		return fmt.Errorf("invalid delegated timeout: %s", c.Delegated.Timeout)
	}
	if c.PIN.MaxAttempts < 0 {
		return fmt.Errorf("invalid pin max_attempts: %d", c.PIN.MaxAttempts)
	}
	if c.PIN.MinInterval < 0 {
		return fmt.Errorf("invalid pin min_interval: %s", c.PIN.MinInterval)
	}

	// Validate logging level
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	// Validate logging format
	validFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Metrics.Textfile != "" && !c.Metrics.Enabled {
		return fmt.Errorf("metrics textfile requires metrics to be enabled")
	}
	return nil
}

// BackendType returns the configured backend.
func (c *Config) BackendType() types.BackendType {
	b, err := types.ParseBackendType(c.Backend)
	if err != nil {
		return types.BackendNative
	}
	return b
}
