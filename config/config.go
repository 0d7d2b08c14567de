// Package config holds the settings of the simulated machine.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"gopherjos/abi"
)

// Config is the configuration for the simulator. Zero values are never
// valid; start from Default and overlay a file with Load.
type Config struct {
	// PhysPages is the number of 4K frames of simulated physical memory.
	PhysPages int `toml:"phys_pages"`

	// MaxEnvs bounds the number of environments that may exist at once.
	MaxEnvs int `toml:"max_envs"`

	// MaxFaultRetries is the number of page faults delivered for a single
	// access before the environment is destroyed.
	MaxFaultRetries int `toml:"max_fault_retries"`

	// LogLevel is any level name understood by logrus.
	LogLevel string `toml:"log_level"`

	// LogFormat selects the log formatter: "text" or "json".
	LogFormat string `toml:"log_format"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		PhysPages:       4096,
		MaxEnvs:         64,
		MaxFaultRetries: 4,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Load reads the TOML file at path over the defaults and validates the
// result. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	c := Default()
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("loading config %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("loading config %q: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("loading config %q: %w", path, err)
	}
	return c, nil
}

// Validate checks that every setting is within range.
func (c *Config) Validate() error {
	switch {
	case c.PhysPages < 16:
		return fmt.Errorf("phys_pages must be at least 16, got %d", c.PhysPages)
	case c.MaxEnvs < 1 || c.MaxEnvs > abi.NENV:
		return fmt.Errorf("max_envs must be between 1 and %d, got %d", abi.NENV, c.MaxEnvs)
	case c.MaxFaultRetries < 1:
		return fmt.Errorf("max_fault_retries must be positive, got %d", c.MaxFaultRetries)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}
	return nil
}
