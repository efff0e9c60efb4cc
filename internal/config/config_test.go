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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

var envKeys = []string{
	"PDFSIGN_BACKEND", "PKCS11_LIBRARY", "PDFSIGN_SLOT", "PDFSIGN_JAVA", "PDFSIGN_JAR",
	"PDFSIGN_TSA_URL", "PDFSIGN_LOG_LEVEL", "PDFSIGN_LOG_FORMAT", "PDFSIGN_SETTINGS_DIR",
	"PDFSIGN_METRICS_TEXTFILE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pdfsign.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}
	return path
}

// TestLoad_Success tests successful loading of a valid config file
func TestLoad_Success(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
backend: delegated
pkcs11:
  library: /usr/lib/libgclib.so
  slot: 1
delegated:
  runtime: /usr/bin/java
  artifact: /opt/luxtrust-signer/luxtrust-pdf-signer-1.0.0.jar
  timeout: 90s
signing:
  conformance: timestamp
  tsa_url: http://timestamp.example
pin:
  max_attempts: 5
  min_interval: 500ms
logging:
  level: debug
  format: json
metrics:
  enabled: true
  textfile: /var/lib/node_exporter/pdfsign.prom
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.BackendType() != types.BackendDelegated {
		t.Errorf("Expected delegated backend, got %s", cfg.Backend)
	}
	if cfg.PKCS11.Library != "/usr/lib/libgclib.so" || cfg.PKCS11.Slot != 1 {
		t.Errorf("Unexpected pkcs11 section: %+v", cfg.PKCS11)
	}
	if cfg.Delegated.Timeout != 90*time.Second {
		t.Errorf("Expected 90s timeout, got %s", cfg.Delegated.Timeout)
	}
	if cfg.PIN.MaxAttempts != 5 || cfg.PIN.MinInterval != 500*time.Millisecond {
		t.Errorf("Unexpected pin section: %+v", cfg.PIN)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Unexpected logging section: %+v", cfg.Logging)
	}
	// Unset sections keep their defaults
	if !cfg.Settings.Enabled {
		t.Error("Expected settings to stay enabled")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BackendType() != types.BackendNative {
		t.Errorf("Expected native backend, got %s", cfg.Backend)
	}
	if cfg.Delegated.Timeout != 60*time.Second {
		t.Errorf("Expected 60s timeout, got %s", cfg.Delegated.Timeout)
	}
	if cfg.PIN.MaxAttempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", cfg.PIN.MaxAttempts)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "backend: [native")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Fatalf("Expected parse error, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "backend: native\n")

	t.Setenv("PDFSIGN_BACKEND", "delegated")
	t.Setenv("PKCS11_LIBRARY", "/usr/lib/opensc-pkcs11.so")
	t.Setenv("PDFSIGN_SLOT", "2")
	t.Setenv("PDFSIGN_JAVA", "/opt/jdk/bin/java")
	t.Setenv("PDFSIGN_JAR", "/opt/signer.jar")
	t.Setenv("PDFSIGN_TSA_URL", "http://tsa.example")
	t.Setenv("PDFSIGN_LOG_LEVEL", "warn")
	t.Setenv("PDFSIGN_LOG_FORMAT", "json")
	t.Setenv("PDFSIGN_SETTINGS_DIR", "/tmp/pdfsign")
	t.Setenv("PDFSIGN_METRICS_TEXTFILE", "/tmp/pdfsign.prom")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	checks := map[string][2]string{
		"backend":  {cfg.Backend, "delegated"},
		"library":  {cfg.PKCS11.Library, "/usr/lib/opensc-pkcs11.so"},
		"runtime":  {cfg.Delegated.Runtime, "/opt/jdk/bin/java"},
		"artifact": {cfg.Delegated.Artifact, "/opt/signer.jar"},
		"tsa":      {cfg.Signing.TSAURL, "http://tsa.example"},
		"level":    {cfg.Logging.Level, "warn"},
		"format":   {cfg.Logging.Format, "json"},
		"settings": {cfg.Settings.Path, "/tmp/pdfsign"},
		"textfile": {cfg.Metrics.Textfile, "/tmp/pdfsign.prom"},
	}
	for name, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s: expected %q, got %q", name, c[1], c[0])
		}
	}
	if cfg.PKCS11.Slot != 2 {
		t.Errorf("Expected slot 2, got %d", cfg.PKCS11.Slot)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Expected metrics enabled by textfile override")
	}
}

func TestEnvOverrides_InvalidSlot(t *testing.T) {
	clearEnv(t)
	t.Setenv("PDFSIGN_SLOT", "first")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PKCS11.Slot != 0 {
		t.Errorf("Expected slot to stay 0, got %d", cfg.PKCS11.Slot)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown backend", func(c *Config) { c.Backend = "cloud" }, "invalid backend"},
		{"unknown conformance", func(c *Config) { c.Signing.Conformance = "qualified" }, "invalid conformance"},
		{"timestamp without tsa", func(c *Config) { c.Signing.Conformance = "ltv" }, "tsa_url is required"},
		{"timestamp with tsa", func(c *Config) {
			c.Signing.Conformance = "timestamp"
			c.Signing.TSAURL = "http://tsa.example"
		}, ""},
		{"negative timeout", func(c *Config) { c.Delegated.Timeout = -time.Second }, "invalid delegated timeout"},
		{"negative attempts", func(c *Config) { c.PIN.MaxAttempts = -1 }, "invalid pin max_attempts"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "invalid log level"},
		{"bad format", func(c *Config) { c.Logging.Format = "console" }, "invalid log format"},
		{"textfile disabled", func(c *Config) { c.Metrics.Textfile = "/tmp/x.prom" }, "requires metrics"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Expected valid config, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
