package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the HAL daemon.
// All configuration is loaded from YAML and can be overridden by the
// daemon's environment variables.
type Config struct {
	FDI     FDIConfig     `yaml:"fdi"`
	Bus     BusConfig     `yaml:"bus"`
	Journal JournalConfig `yaml:"journal"`
	Mounts  MountsConfig  `yaml:"mounts"`
	Logging LoggingConfig `yaml:"logging"`
}

// FDIConfig locates the rule source tree and the compiled cache.
type FDIConfig struct {
	// PreprobeDir, InformationDir and PolicyDir are the three rule source
	// directories, scanned recursively.
	PreprobeDir    string `yaml:"preprobe_dir"`
	InformationDir string `yaml:"information_dir"`
	PolicyDir      string `yaml:"policy_dir"`

	// CachePath is the compiled cache file.
	CachePath string `yaml:"cache_path"`

	// CompilerBinary is the cache compiler tool the daemon execs when the
	// cache is stale.
	CompilerBinary string `yaml:"compiler_binary"`

	// Watch installs a file watcher over the source tree so edits
	// invalidate the cache without a restart.
	Watch bool `yaml:"watch"`
}

// BusConfig contains the IPC bus settings.
type BusConfig struct {
	// Name is the well-known bus name the daemon claims.
	Name string `yaml:"name"`

	// System selects the system bus; false uses the session bus, which
	// only makes sense for development.
	System bool `yaml:"system"`
}

// JournalConfig contains the device event journal settings.
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MountsConfig locates the mount-state file maintained by the storage
// helper tools.
type MountsConfig struct {
	// MtabPath is the tab-separated state file.
	MtabPath string `yaml:"mtab_path"`

	// LockPath is the advisory lock file guarding MtabPath.
	LockPath string `yaml:"lock_path"`

	// Watch keeps block devices' mount properties in sync with the file.
	Watch bool `yaml:"watch"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`

	// Syslog routes log output to the system logger instead of a stream.
	Syslog bool `yaml:"syslog"`
}

// Environment variables consumed by the daemon. The HAL_FDI_* variables
// are shared with the compiler tool so both resolve the same tree.
const (
	EnvSourcePreprobe    = "HAL_FDI_SOURCE_PREPROBE"
	EnvSourceInformation = "HAL_FDI_SOURCE_INFORMATION"
	EnvSourcePolicy      = "HAL_FDI_SOURCE_POLICY"
	EnvCacheName         = "HAL_FDI_CACHE_NAME"
	EnvVerbose           = "HALD_VERBOSE"
	EnvUseSyslog         = "HALD_USE_SYSLOG"
)

// Load reads configuration from a YAML file and applies environment
// variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with the installed defaults. The daemon runs
// from defaults alone when no config file is given; ApplyEnvOverrides
// still applies.
func Default() *Config {
	return &Config{
		FDI: FDIConfig{
			PreprobeDir:    "/usr/share/hal/fdi/preprobe",
			InformationDir: "/usr/share/hal/fdi/information",
			PolicyDir:      "/usr/share/hal/fdi/policy",
			CachePath:      "/var/cache/hald/fdi-cache",
			CompilerBinary: "hald-generate-fdi-cache",
			Watch:          true,
		},
		Bus: BusConfig{
			Name:   "org.freedesktop.Hal",
			System: true,
		},
		Journal: JournalConfig{
			Enabled:     false,
			Path:        "/var/lib/hald/journal.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Mounts: MountsConfig{
			MtabPath: "/media/.hal-mtab",
			LockPath: "/media/.hal-mtab-lock",
			Watch:    true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// ApplyEnvOverrides applies the daemon's environment variables to the
// configuration. Exported so the daemon can reuse it on a Default()
// config when it runs without a file.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvSourcePreprobe); v != "" {
		cfg.FDI.PreprobeDir = v
	}
	if v := os.Getenv(EnvSourceInformation); v != "" {
		cfg.FDI.InformationDir = v
	}
	if v := os.Getenv(EnvSourcePolicy); v != "" {
		cfg.FDI.PolicyDir = v
	}
	if v := os.Getenv(EnvCacheName); v != "" {
		cfg.FDI.CachePath = v
	}
	if envBool(EnvVerbose) {
		cfg.Logging.Level = "debug"
	}
	if envBool(EnvUseSyslog) {
		cfg.Logging.Syslog = true
	}
}

// envBool treats "1", "true" and "yes" (any case) as set.
func envBool(name string) bool {
	switch strings.ToLower(os.Getenv(name)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.FDI.PreprobeDir == "" || c.FDI.InformationDir == "" || c.FDI.PolicyDir == "" {
		errs = append(errs, "fdi: all three source directories are required")
	}
	if c.FDI.CachePath == "" {
		errs = append(errs, "fdi.cache_path is required")
	}
	if c.Bus.Name == "" {
		errs = append(errs, "bus.name is required")
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when the journal is enabled")
	}
	if c.Mounts.Watch && c.Mounts.MtabPath == "" {
		errs = append(errs, "mounts.mtab_path is required when mount watching is enabled")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not recognised", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
