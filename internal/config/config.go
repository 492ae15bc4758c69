// Package config loads the peer-timeout and bind-address settings spec.md
// §6 calls "configurable per peer" but leaves without a concrete surface.
// The teacher's core/main.go hardcodes an equivalent Config struct; this
// generalizes it to an optional YAML file, falling back to the §6
// defaults field by field.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Timeouts holds the four peer timing knobs from spec.md §6.
type Timeouts struct {
	MinRTO         time.Duration `yaml:"min_rto"`
	MaxRTO         time.Duration `yaml:"max_rto"`
	ActionInterval time.Duration `yaml:"action_interval"`
	DropTimeout    time.Duration `yaml:"drop_timeout"`
}

// DefaultTimeouts returns the §6 defaults: min_rto=100ms, max_rto=1000ms,
// action=500ms, drop=5000ms.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		MinRTO:         100 * time.Millisecond,
		MaxRTO:         1000 * time.Millisecond,
		ActionInterval: 500 * time.Millisecond,
		DropTimeout:    5000 * time.Millisecond,
	}
}

// Config is the top-level configuration for a server or client binary.
type Config struct {
	BindAddr string   `yaml:"bind_addr"`
	Timeouts Timeouts `yaml:"timeouts"`
}

// Load reads a YAML config file at path, applying DefaultTimeouts() for
// any zero-valued timeout field. A missing path is not an error: Load
// returns pure defaults plus the given bind address.
func Load(path, defaultBindAddr string) (Config, error) {
	cfg := Config{BindAddr: defaultBindAddr, Timeouts: DefaultTimeouts()}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %q: %w", path, err)
	}
	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if loaded.BindAddr != "" {
		cfg.BindAddr = loaded.BindAddr
	}
	fillTimeout(&cfg.Timeouts.MinRTO, loaded.Timeouts.MinRTO)
	fillTimeout(&cfg.Timeouts.MaxRTO, loaded.Timeouts.MaxRTO)
	fillTimeout(&cfg.Timeouts.ActionInterval, loaded.Timeouts.ActionInterval)
	fillTimeout(&cfg.Timeouts.DropTimeout, loaded.Timeouts.DropTimeout)
	return cfg, nil
}

func fillTimeout(dst *time.Duration, loaded time.Duration) {
	if loaded > 0 {
		*dst = loaded
	}
}
