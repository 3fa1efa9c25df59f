/*
Copyright 2025 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Backends for core control.
const (
	BackendSysfs     = "sysfs"
	BackendSimulated = "simulated"
)

// EnvPrefix is prepended to every environment override, e.g. STATE_HELPER_LISTEN_ADDRESS.
const EnvPrefix = "STATE_HELPER"

// DaemonConfig holds the process settings of the state-helper daemon.
type DaemonConfig struct {
	// ListenAddress serves the attribute surface, status, metrics and probes.
	ListenAddress string `mapstructure:"listen-address" yaml:"listen-address"`
	// Backend selects how cores are switched: "sysfs" or "simulated".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// SysfsRoot is the cpu hotplug directory used by the sysfs backend.
	SysfsRoot string `mapstructure:"sysfs-root" yaml:"sysfs-root"`
	// SimulatedCores is the core count of the simulated backend.
	SimulatedCores int `mapstructure:"simulated-cores" yaml:"simulated-cores"`
	// StateFile holds the current power state ("active" or "suspended").
	StateFile string `mapstructure:"state-file" yaml:"state-file"`
	// SuspendFloor is the number of cores kept online while suspended.
	SuspendFloor int `mapstructure:"suspend-floor" yaml:"suspend-floor"`

	// Initial policy tunables. MaxActiveCores 0 means every core.
	Enabled        bool `mapstructure:"enabled" yaml:"enabled"`
	MaxActiveCores int  `mapstructure:"max-active-cores" yaml:"max-active-cores"`
	Diagnostics    bool `mapstructure:"diagnostics" yaml:"diagnostics"`

	LogDevelopment bool `mapstructure:"log-development" yaml:"log-development"`
	LogVerbosity   int  `mapstructure:"log-verbosity" yaml:"log-verbosity"`
}

// DefaultDaemonConfig returns the settings used when nothing is configured.
func DefaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		ListenAddress:  ":8089",
		Backend:        BackendSysfs,
		SysfsRoot:      "/sys/devices/system/cpu",
		SimulatedCores: 4,
		StateFile:      "/run/state-helper/power-state",
		SuspendFloor:   DefaultSuspendFloor,
		Enabled:        false,
		MaxActiveCores: 0,
		Diagnostics:    true,
	}
}

// Validate checks settings that do not depend on the discovered core count.
func (c *DaemonConfig) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listen-address must not be empty")
	}
	switch c.Backend {
	case BackendSysfs:
		if c.SysfsRoot == "" {
			return fmt.Errorf("sysfs-root must not be empty for the %s backend", BackendSysfs)
		}
	case BackendSimulated:
		if c.SimulatedCores < 1 {
			return fmt.Errorf("simulated-cores must be >= 1, got %d", c.SimulatedCores)
		}
	default:
		return fmt.Errorf("unsupported backend %q, expected %q or %q", c.Backend, BackendSysfs, BackendSimulated)
	}
	if c.StateFile == "" {
		return fmt.Errorf("state-file must not be empty")
	}
	if c.SuspendFloor < 1 {
		return fmt.Errorf("suspend-floor must be >= 1, got %d", c.SuspendFloor)
	}
	if c.MaxActiveCores < 0 {
		return fmt.Errorf("max-active-cores must be >= 0, got %d", c.MaxActiveCores)
	}
	if c.LogVerbosity < 0 {
		return fmt.Errorf("log-verbosity must be >= 0, got %d", c.LogVerbosity)
	}
	return nil
}

// InitialPolicy returns the policy tunables the controller is constructed with.
func (c *DaemonConfig) InitialPolicy() Policy {
	return Policy{
		Enabled:        c.Enabled,
		MaxActiveCores: c.MaxActiveCores,
		Diagnostics:    c.Diagnostics,
	}
}

// BindFlags registers the daemon flags on fs and binds them, together with
// STATE_HELPER_* environment variables, into v.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	d := DefaultDaemonConfig()
	fs.String("listen-address", d.ListenAddress, "Address serving attributes, status, metrics and health probes.")
	fs.String("backend", d.Backend, "Core control backend: sysfs or simulated.")
	fs.String("sysfs-root", d.SysfsRoot, "CPU hotplug directory used by the sysfs backend.")
	fs.Int("simulated-cores", d.SimulatedCores, "Number of cores of the simulated backend.")
	fs.String("state-file", d.StateFile, "File holding the current power state (active or suspended).")
	fs.Int("suspend-floor", d.SuspendFloor, "Cores kept online while suspended.")
	fs.Bool("enabled", d.Enabled, "Start with the policy enabled.")
	fs.Int("max-active-cores", d.MaxActiveCores, "Initial ceiling of online cores while active (0 means every core).")
	fs.Bool("diagnostics", d.Diagnostics, "Start with diagnostic summaries enabled.")
	fs.Bool("log-development", d.LogDevelopment, "Use the development (console) log encoder.")
	fs.Int("log-verbosity", d.LogVerbosity, "Highest log verbosity level emitted.")

	if err := v.BindPFlags(fs); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return nil
}

// LoadDaemonConfig reads the optional config file and decodes the merged
// settings from v.
func LoadDaemonConfig(v *viper.Viper, configFile string) (*DaemonConfig, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg := DefaultDaemonConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
