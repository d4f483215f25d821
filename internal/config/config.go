// Package config resolves the swarmfuse home directory and loads the engine
// configuration file (home/config.yaml). Every knob is optional; zero values
// fall back to the defaults documented on each field.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the engine configuration surface. Intervals are expressed in
// seconds in the YAML file, matching the CLI flags.
type Config struct {
	// Supervisor intervals.
	PollIntervalSec float64 `yaml:"poll_interval_sec"` // default 30
	StaleWarnSec    float64 `yaml:"stale_warn_sec"`    // default 240
	HardTimeoutSec  float64 `yaml:"hard_timeout_sec"`  // default 600
	AutoReleaseSec  float64 `yaml:"auto_release_sec"`  // default 0 (disabled)

	// Session lifecycle.
	StaleSessionMin  float64 `yaml:"stale_session_min"`  // default 30 minutes
	TeardownGraceSec float64 `yaml:"teardown_grace_sec"` // default 30

	// Deduplication.
	LocalityWindow int               `yaml:"locality_window"` // default 5 lines
	Precedence     []string          `yaml:"precedence"`      // category order, highest first
	Producers      []string          `yaml:"producers"`       // declaration order for tie-breaks
	Categories     map[string]string `yaml:"categories"`      // producer -> category

	// Risk scoring.
	RiskWeights     map[string]float64 `yaml:"risk_weights"`
	MinSharedEvents int                `yaml:"min_shared_events"` // default 3
	MinCoupling     float64            `yaml:"min_coupling"`      // default 0.25

	// Evidence fusion.
	PriorityWeights map[string]float64 `yaml:"priority_weights"`

	// Verifier.
	VerifyTopN int `yaml:"verify_top_n"` // default 10; 0 disables verification
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		PollIntervalSec:  30,
		StaleWarnSec:     240,
		HardTimeoutSec:   600,
		AutoReleaseSec:   0,
		StaleSessionMin:  30,
		TeardownGraceSec: 30,
		LocalityWindow:   5,
		Precedence:       []string{"correctness", "safety", "performance", "style"},
		MinSharedEvents:  3,
		MinCoupling:      0.25,
		VerifyTopN:       10,
	}
}

// Load reads home/config.yaml, overlaying it onto the defaults. A missing
// file is not an error; a malformed file is.
func Load(home string) (*Config, error) {
	cfg := Default()
	path := filepath.Join(home, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func secs(v float64) time.Duration { return time.Duration(v * float64(time.Second)) }

// PollInterval returns the supervisor poll interval.
func (c *Config) PollInterval() time.Duration { return secs(c.PollIntervalSec) }

// StaleWarn returns the in-progress age after which a task draws a warning.
func (c *Config) StaleWarn() time.Duration { return secs(c.StaleWarnSec) }

// HardTimeout returns the per-batch hard timeout.
func (c *Config) HardTimeout() time.Duration { return secs(c.HardTimeoutSec) }

// AutoRelease returns the in-progress age after which a task is forcibly
// released, or 0 when auto-release is disabled.
func (c *Config) AutoRelease() time.Duration { return secs(c.AutoReleaseSec) }

// StaleSessionThreshold returns the heartbeat age beyond which an active
// session is eligible for forced teardown.
func (c *Config) StaleSessionThreshold() time.Duration {
	return time.Duration(c.StaleSessionMin * float64(time.Minute))
}

// TeardownGrace returns how long teardown waits for workers to acknowledge
// shutdown before removing the session namespace anyway.
func (c *Config) TeardownGrace() time.Duration { return secs(c.TeardownGraceSec) }
