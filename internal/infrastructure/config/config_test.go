package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hald.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "{}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FDI.CachePath != "/var/cache/hald/fdi-cache" {
		t.Errorf("fdi.cache_path = %q", cfg.FDI.CachePath)
	}
	if cfg.Bus.Name != "org.freedesktop.Hal" || !cfg.Bus.System {
		t.Errorf("bus defaults wrong: %+v", cfg.Bus)
	}
	if cfg.Journal.Enabled {
		t.Error("journal should default to disabled")
	}
	if cfg.Mounts.MtabPath != "/media/.hal-mtab" {
		t.Errorf("mounts.mtab_path = %q", cfg.Mounts.MtabPath)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
fdi:
  cache_path: /tmp/test-cache
  watch: false
journal:
  enabled: true
  path: /tmp/journal.db
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FDI.CachePath != "/tmp/test-cache" || cfg.FDI.Watch {
		t.Errorf("fdi = %+v", cfg.FDI)
	}
	if !cfg.Journal.Enabled || cfg.Journal.Path != "/tmp/journal.db" {
		t.Errorf("journal = %+v", cfg.Journal)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	// Untouched sections keep defaults.
	if cfg.FDI.PreprobeDir != "/usr/share/hal/fdi/preprobe" {
		t.Errorf("fdi.preprobe_dir = %q", cfg.FDI.PreprobeDir)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
fdi:
  cache_path: /from/file
`)
	t.Setenv(EnvCacheName, "/from/env")
	t.Setenv(EnvSourcePolicy, "/env/policy")
	t.Setenv(EnvVerbose, "1")
	t.Setenv(EnvUseSyslog, "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FDI.CachePath != "/from/env" {
		t.Errorf("cache_path = %q, want env to win", cfg.FDI.CachePath)
	}
	if cfg.FDI.PolicyDir != "/env/policy" {
		t.Errorf("policy_dir = %q", cfg.FDI.PolicyDir)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("HALD_VERBOSE should force debug, got %q", cfg.Logging.Level)
	}
	if !cfg.Logging.Syslog {
		t.Error("HALD_USE_SYSLOG should enable syslog")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file should be an error")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			"missing source dir",
			func(c *Config) { c.FDI.PolicyDir = "" },
			"source directories",
		},
		{
			"missing cache path",
			func(c *Config) { c.FDI.CachePath = "" },
			"cache_path",
		},
		{
			"missing bus name",
			func(c *Config) { c.Bus.Name = "" },
			"bus.name",
		},
		{
			"journal enabled without path",
			func(c *Config) { c.Journal.Enabled = true; c.Journal.Path = "" },
			"journal.path",
		},
		{
			"bad log level",
			func(c *Config) { c.Logging.Level = "loud" },
			"logging.level",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
