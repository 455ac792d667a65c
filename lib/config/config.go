// Copyright 2026 The Amelia Foundation Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for looperd.
//
// Configuration is loaded from a single file specified by:
//   - LOOPERD_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures deterministic,
// auditable configuration with no hidden overrides.
//
// The config file may contain environment-specific sections (development,
// staging, production) that override base values when the environment matches.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for looperd.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Looper configures the default behavior applied to every Looper
	// looperd constructs, absent a per-Looper override.
	Looper LooperConfig `yaml:"looper"`

	// Dashboard configures the TUI fleet dashboard.
	Dashboard DashboardConfig `yaml:"dashboard"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Looper    *LooperConfig    `yaml:"looper,omitempty"`
	Dashboard *DashboardConfig `yaml:"dashboard,omitempty"`
}

// LooperConfig is the external Config collaborator spec.md §6 names:
// the overload-detection knobs a Looper reads at construction time. The
// executor worker cap is intentionally absent — the default executor is
// unbounded, per spec §6.
type LooperConfig struct {
	// WarnOnOverload enables the periodic "can't keep up" warning log
	// once a Looper's EWMA iteration time exceeds OverloadThresholdMillis.
	WarnOnOverload bool `yaml:"warn_on_overload"`

	// OverloadThresholdMillis is the EWMA iteration-time threshold, in
	// milliseconds, above which a Looper reports itself overloaded.
	OverloadThresholdMillis int64 `yaml:"overload_threshold_millis"`

	// HistoryDepth bounds how many recent iteration samples
	// lib/diag.History retains per Looper for the dashboard and reports.
	HistoryDepth int `yaml:"history_depth"`
}

// DashboardConfig configures the TUI fleet dashboard.
type DashboardConfig struct {
	// RefreshMillis is the interval between dashboard repaints.
	RefreshMillis int64 `yaml:"refresh_millis"`

	// RegistrySocket is a Unix socket path for a running registry's
	// diagnostics. Nothing in looperd reads it: the dashboard and
	// report commands observe the fleet they start in-process.
	// Default: /run/looperd/registry.sock
	RegistrySocket string `yaml:"registry_socket"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file,
// and looperd's commands use them as they are when neither --config
// nor LOOPERD_CONFIG is given.
func Default() *Config {
	return &Config{
		Environment: Development,
		Looper: LooperConfig{
			WarnOnOverload:          true,
			OverloadThresholdMillis: 100,
			HistoryDepth:            64,
		},
		Dashboard: DashboardConfig{
			RefreshMillis:  250,
			RegistrySocket: "/run/looperd/registry.sock",
		},
	}
}

// Load loads configuration from the LOOPERD_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if LOOPERD_CONFIG is not set, this fails.
// This ensures deterministic, auditable configuration with no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("LOOPERD_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("LOOPERD_CONFIG environment variable not set; " +
			"set it to the path of your looperd.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do not
// override config values - this ensures deterministic, auditable configuration.
// The only expansion performed is ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: overload warnings are load-bearing in prod.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Looper: &LooperConfig{
					WarnOnOverload: true,
				},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Looper != nil {
		if overrides.Looper.OverloadThresholdMillis != 0 {
			c.Looper.OverloadThresholdMillis = overrides.Looper.OverloadThresholdMillis
		}
		if overrides.Looper.HistoryDepth != 0 {
			c.Looper.HistoryDepth = overrides.Looper.HistoryDepth
		}
		// WarnOnOverload is a bool, so it is always applied from overrides.
		c.Looper.WarnOnOverload = overrides.Looper.WarnOnOverload
	}

	if overrides.Dashboard != nil {
		if overrides.Dashboard.RefreshMillis != 0 {
			c.Dashboard.RefreshMillis = overrides.Dashboard.RefreshMillis
		}
		if overrides.Dashboard.RegistrySocket != "" {
			c.Dashboard.RegistrySocket = overrides.Dashboard.RegistrySocket
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Dashboard.RegistrySocket = expandVars(c.Dashboard.RegistrySocket, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Looper.OverloadThresholdMillis <= 0 {
		errs = append(errs, fmt.Errorf("looper.overload_threshold_millis must be positive"))
	}

	if c.Looper.HistoryDepth <= 0 {
		errs = append(errs, fmt.Errorf("looper.history_depth must be positive"))
	}

	if c.Dashboard.RefreshMillis <= 0 {
		errs = append(errs, fmt.Errorf("dashboard.refresh_millis must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
