// Package config defines HostConfig, the validated runtime configuration
// the core consumes. Manifest/project-file parsing (mikrozen.toml, the CLI's
// "new"/"build" scaffolding) lives outside the core per spec.md §1; this
// package only loads the flatter HostConfig shape the running daemon needs,
// mirroring the teacher's own three-function config shape
// (DefaultConfig/Validate/ApplyDefaults in pkg/serverless/config.go).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// HostConfig is every option recognized by the running daemon (spec.md §6).
type HostConfig struct {
	Port                  int           `yaml:"port"`
	ModulesDir            string        `yaml:"modules"`
	UserModulesDir        string        `yaml:"user_modules_dir"`
	CacheSize             int           `yaml:"cache_size"`
	MaxCacheBytes         int64         `yaml:"max_cache_bytes"`
	ExecutionTimeoutSecs  int           `yaml:"execution_timeout_secs"`
	MemoryLimitBytes      int64         `yaml:"memory_limit_bytes"`
	MaxBodySizeBytes      int64         `yaml:"max_body_size_bytes"`
	MaxConcurrentRequests int64         `yaml:"max_concurrent_requests"`
	MaxPerModuleRequests  int64         `yaml:"max_per_module_requests"`
	FuelBudget            uint64        `yaml:"fuel_budget"`
	HTTPAllowed           []string      `yaml:"http_allowed"`
	HotReload             bool          `yaml:"hot_reload"`
	AotCacheMaxMB         int64         `yaml:"aot_cache_max_mb"`
	AotCacheDir           string        `yaml:"aot_cache_dir"`
	StaticDir             string        `yaml:"static_dir"`
	ScriptsDir            string        `yaml:"scripts_dir"`
	ModuleIdleTTL         time.Duration `yaml:"module_idle_ttl"`
	LocalOnly             bool          `yaml:"local_only"`
}

// DefaultHostConfig returns the configuration a fresh `mik run` gets with no
// manifest overrides.
func DefaultHostConfig() *HostConfig {
	return &HostConfig{
		Port:                  3000,
		ModulesDir:            "modules",
		CacheSize:             100,
		MaxCacheBytes:         512 * 1024 * 1024,
		ExecutionTimeoutSecs:  30,
		MemoryLimitBytes:      64 * 1024 * 1024,
		MaxBodySizeBytes:      10 * 1024 * 1024,
		MaxConcurrentRequests: 256,
		MaxPerModuleRequests:  64,
		FuelBudget:            10_000_000,
		HTTPAllowed:           nil,
		HotReload:             false,
		AotCacheMaxMB:         1024,
		AotCacheDir:           defaultAotCacheDir(),
		StaticDir:             "",
		ScriptsDir:            "",
		ModuleIdleTTL:         10 * time.Minute,
		LocalOnly:             false,
	}
}

func defaultAotCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mik/cache/aot"
	}
	return home + "/.mik/cache/aot"
}

// ConfigError reports one invalid field, mirroring the teacher's
// field+message shape (pkg/serverless/errors.go's ConfigError).
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors, returning every violation
// found rather than stopping at the first.
func (c *HostConfig) Validate() []error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, &ConfigError{Field: "Port", Message: "must be between 1 and 65535"})
	}
	if c.ModulesDir == "" {
		errs = append(errs, &ConfigError{Field: "ModulesDir", Message: "must not be empty"})
	}
	if c.MaxCacheBytes < 0 {
		errs = append(errs, &ConfigError{Field: "MaxCacheBytes", Message: "must not be negative"})
	}
	if c.ExecutionTimeoutSecs <= 0 {
		errs = append(errs, &ConfigError{Field: "ExecutionTimeoutSecs", Message: "must be positive"})
	}
	if c.MemoryLimitBytes <= 0 {
		errs = append(errs, &ConfigError{Field: "MemoryLimitBytes", Message: "must be positive"})
	}
	if c.MaxConcurrentRequests <= 0 {
		errs = append(errs, &ConfigError{Field: "MaxConcurrentRequests", Message: "must be positive"})
	}
	if c.MaxPerModuleRequests <= 0 {
		errs = append(errs, &ConfigError{Field: "MaxPerModuleRequests", Message: "must be positive"})
	}
	if c.MaxPerModuleRequests > c.MaxConcurrentRequests {
		errs = append(errs, &ConfigError{Field: "MaxPerModuleRequests", Message: "must not exceed MaxConcurrentRequests"})
	}
	if c.AotCacheMaxMB < 0 {
		errs = append(errs, &ConfigError{Field: "AotCacheMaxMB", Message: "must not be negative"})
	}
	for _, host := range c.HTTPAllowed {
		if host == "" {
			errs = append(errs, &ConfigError{Field: "HTTPAllowed", Message: "entries must not be empty"})
			break
		}
	}

	return errs
}

// ApplyDefaults fills in zero-valued fields with DefaultHostConfig's values,
// the same merge-with-defaults shape as the teacher's ApplyDefaults.
func (c *HostConfig) ApplyDefaults() {
	d := DefaultHostConfig()

	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.ModulesDir == "" {
		c.ModulesDir = d.ModulesDir
	}
	if c.CacheSize == 0 {
		c.CacheSize = d.CacheSize
	}
	if c.MaxCacheBytes == 0 {
		c.MaxCacheBytes = d.MaxCacheBytes
	}
	if c.ExecutionTimeoutSecs == 0 {
		c.ExecutionTimeoutSecs = d.ExecutionTimeoutSecs
	}
	if c.MemoryLimitBytes == 0 {
		c.MemoryLimitBytes = d.MemoryLimitBytes
	}
	if c.MaxBodySizeBytes == 0 {
		c.MaxBodySizeBytes = d.MaxBodySizeBytes
	}
	if c.MaxConcurrentRequests == 0 {
		c.MaxConcurrentRequests = d.MaxConcurrentRequests
	}
	if c.MaxPerModuleRequests == 0 {
		c.MaxPerModuleRequests = d.MaxPerModuleRequests
	}
	if c.FuelBudget == 0 {
		c.FuelBudget = d.FuelBudget
	}
	if c.AotCacheMaxMB == 0 {
		c.AotCacheMaxMB = d.AotCacheMaxMB
	}
	if c.AotCacheDir == "" {
		c.AotCacheDir = d.AotCacheDir
	}
	if c.ModuleIdleTTL == 0 {
		c.ModuleIdleTTL = d.ModuleIdleTTL
	}
}

// ExecutionTimeout is ExecutionTimeoutSecs as a time.Duration.
func (c *HostConfig) ExecutionTimeout() time.Duration {
	return time.Duration(c.ExecutionTimeoutSecs) * time.Second
}

// AotCacheMaxBytes is AotCacheMaxMB converted to bytes.
func (c *HostConfig) AotCacheMaxBytes() int64 {
	return c.AotCacheMaxMB * 1024 * 1024
}

// Load reads a HostConfig from a YAML file at path, applies defaults, and
// validates it.
func Load(path string) (*HostConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg := &HostConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	ApplyEnvOverrides(cfg)
	cfg.ApplyDefaults()
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %v", errs)
	}
	return cfg, nil
}

// ApplyEnvOverrides layers MIK_* environment variables on top of a config
// already loaded from YAML, for container-friendly deploys that don't want
// to bake a file into the image.
func ApplyEnvOverrides(c *HostConfig) {
	if v := os.Getenv("MIK_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := os.Getenv("MIK_MODULES"); v != "" {
		c.ModulesDir = v
	}
	if v := os.Getenv("MIK_MAX_CACHE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxCacheBytes = n
		}
	}
	if v := os.Getenv("MIK_EXECUTION_TIMEOUT_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ExecutionTimeoutSecs = n
		}
	}
	if v := os.Getenv("MIK_HOT_RELOAD"); v != "" {
		c.HotReload = v == "1" || v == "true"
	}
	if v := os.Getenv("MIK_STATIC_DIR"); v != "" {
		c.StaticDir = v
	}
	if v := os.Getenv("MIK_SCRIPTS_DIR"); v != "" {
		c.ScriptsDir = v
	}
}
