// Package config loads scigoex settings from YAML and SCIGOEX_* environment
// variables. Settings are read once at startup; nothing reloads them while
// estimators are running.
//
// Precedence, lowest to highest: Default(), the YAML file, the environment.
//
// Example YAML:
//
//	dispatch:
//	  order: [device, host]
//	  target_offload: auto
//	  allow_fallback_to_host: true
//	  verbose: false
//	device:
//	  enabled: true
//	  library: /opt/sgx/lib/libsgx.so
//	  device_id: 0
//	  fallback_on_error: true
//	parallel:
//	  n_jobs: -1
//	log:
//	  level: info
//	  format: json
package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

// Config is the complete scigoex configuration.
type Config struct {
	Dispatch DispatchConfig `yaml:"dispatch"`
	Device   DeviceConfig   `yaml:"device"`
	Parallel ParallelConfig `yaml:"parallel"`
	Log      LogConfig      `yaml:"log"`
}

// DispatchConfig controls backend selection.
type DispatchConfig struct {
	// Order lists accelerated backends by priority ("device", "host").
	// The reference backend is always tried last and need not be listed.
	Order []string `yaml:"order"`

	// TargetOffload selects where accelerated work runs: "auto", "host",
	// "cpu", "device", "gpu", or "device:N"/"gpu:N" for a specific device.
	TargetOffload string `yaml:"target_offload"`

	// AllowFallbackToHost lets an explicit device target fall back to host
	// kernels when the device predicate fails.
	AllowFallbackToHost bool `yaml:"allow_fallback_to_host"`

	// Verbose logs every dispatch decision at info level instead of debug.
	Verbose bool `yaml:"verbose"`
}

// DeviceConfig controls the native accelerator driver.
type DeviceConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Library  string `yaml:"library"`
	DeviceID int    `yaml:"device_id"`

	// FallbackOnError keeps running host-only when the driver cannot be
	// loaded. When false, a load failure is returned from startup.
	FallbackOnError bool `yaml:"fallback_on_error"`

	// MinVersion is the oldest driver version accepted, "2023.2.0".
	MinVersion string `yaml:"min_version"`
}

// ParallelConfig controls host worker pools.
type ParallelConfig struct {
	// NJobs is the default worker count for estimators that leave n_jobs
	// unset. 0 uses every CPU; negative values count back from the CPU count.
	NJobs int `yaml:"n_jobs"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Dispatch: DispatchConfig{
			Order:               []string{"device", "host"},
			TargetOffload:       "auto",
			AllowFallbackToHost: true,
		},
		Device: DeviceConfig{
			Enabled:         false,
			FallbackOnError: true,
			MinVersion:      "2021.1.0",
		},
		Parallel: ParallelConfig{NJobs: 0},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

// LoadFromFile overlays the YAML file at path onto Default().
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, scigoerrors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, scigoerrors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Load builds the effective configuration: defaults, then the YAML file at
// path when path is non-empty, then the environment. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from SCIGOEX_* environment variables.
func (c *Config) ApplyEnv() {
	c.Dispatch.Order = getEnvStringSlice("SCIGOEX_DISPATCH_ORDER", c.Dispatch.Order)
	c.Dispatch.TargetOffload = getEnv("SCIGOEX_TARGET_OFFLOAD", c.Dispatch.TargetOffload)
	c.Dispatch.AllowFallbackToHost = getEnvBool("SCIGOEX_ALLOW_FALLBACK_TO_HOST", c.Dispatch.AllowFallbackToHost)
	c.Dispatch.Verbose = getEnvBool("SCIGOEX_VERBOSE", c.Dispatch.Verbose)

	c.Device.Enabled = getEnvBool("SCIGOEX_DEVICE_ENABLED", c.Device.Enabled)
	c.Device.Library = getEnv("SCIGOEX_DEVICE_LIBRARY", c.Device.Library)
	c.Device.DeviceID = getEnvInt("SCIGOEX_DEVICE_ID", c.Device.DeviceID)
	c.Device.FallbackOnError = getEnvBool("SCIGOEX_DEVICE_FALLBACK_ON_ERROR", c.Device.FallbackOnError)
	c.Device.MinVersion = getEnv("SCIGOEX_DEVICE_MIN_VERSION", c.Device.MinVersion)

	c.Parallel.NJobs = getEnvInt("SCIGOEX_N_JOBS", c.Parallel.NJobs)

	c.Log.Level = getEnv("SCIGOEX_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("SCIGOEX_LOG_FORMAT", c.Log.Format)
}

// Validate checks the configuration for values no component can act on.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Dispatch.Order))
	for _, name := range c.Dispatch.Order {
		name = strings.ToLower(name)
		switch name {
		case "device", "host", "reference":
		default:
			return scigoerrors.NewConfigurationErrorf("config", "dispatch.order: unknown backend %q", name)
		}
		if seen[name] {
			return scigoerrors.NewConfigurationErrorf("config", "dispatch.order: backend %q listed twice", name)
		}
		seen[name] = true
	}

	target := strings.ToLower(c.Dispatch.TargetOffload)
	kind, id, hasID := strings.Cut(target, ":")
	switch kind {
	case "", "auto", "host", "cpu":
		if hasID {
			return scigoerrors.NewConfigurationErrorf("config", "dispatch.target_offload: %q does not take a device index", kind)
		}
	case "device", "gpu":
		if hasID {
			if n, err := strconv.Atoi(id); err != nil || n < 0 {
				return scigoerrors.NewConfigurationErrorf("config", "dispatch.target_offload: invalid device index %q", id)
			}
		}
	default:
		return scigoerrors.NewConfigurationErrorf("config", "dispatch.target_offload: unknown target %q", c.Dispatch.TargetOffload)
	}

	if c.Device.DeviceID < 0 {
		return scigoerrors.NewConfigurationErrorf("config", "device.device_id must be >= 0, got %d", c.Device.DeviceID)
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return scigoerrors.NewConfigurationErrorf("config", "log.level: unknown level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text", "console":
	default:
		return scigoerrors.NewConfigurationErrorf("config", "log.format: unknown format %q", c.Log.Format)
	}
	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultVal
}
