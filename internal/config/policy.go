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
	"strconv"
	"strings"
	"sync"
)

// Attribute names of the policy tunables.
const (
	AttrEnabled        = "enabled"
	AttrMaxActiveCores = "max_active_cores"
	AttrDiagnostics    = "diagnostics"
)

// DefaultSuspendFloor is the number of cores kept online while suspended.
const DefaultSuspendFloor = 1

// ValidationError reports a rejected tunable write. The config is left unchanged.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value %q for %s: %s", e.Value, e.Field, e.Reason)
}

// Policy is a point-in-time copy of the policy tunables.
type Policy struct {
	Enabled        bool `json:"enabled" yaml:"enabled"`
	MaxActiveCores int  `json:"maxActiveCores" yaml:"maxActiveCores"`
	Diagnostics    bool `json:"diagnostics" yaml:"diagnostics"`
}

// DefaultPolicy returns the tunables a fresh controller starts from:
// disabled, every core allowed, diagnostics on.
func DefaultPolicy(totalCores int) Policy {
	return Policy{
		Enabled:        false,
		MaxActiveCores: totalCores,
		Diagnostics:    true,
	}
}

// Validate checks the policy against the machine's core count.
func (p Policy) Validate(totalCores int) error {
	if p.MaxActiveCores < 1 || p.MaxActiveCores > totalCores {
		return &ValidationError{
			Field:  AttrMaxActiveCores,
			Value:  strconv.Itoa(p.MaxActiveCores),
			Reason: fmt.Sprintf("must be between 1 and %d", totalCores),
		}
	}
	return nil
}

// PolicyConfig holds the live policy tunables. Reads return whole snapshots;
// writes go through validating setters that report whether anything changed.
type PolicyConfig struct {
	mu         sync.RWMutex
	totalCores int
	defaults   Policy
	current    Policy
}

// NewPolicyConfig creates a config for totalCores initialised to defaults.
// A zero MaxActiveCores in defaults means every core.
func NewPolicyConfig(totalCores int, defaults Policy) (*PolicyConfig, error) {
	if totalCores < 1 {
		return nil, fmt.Errorf("total cores must be >= 1, got %d", totalCores)
	}
	if defaults.MaxActiveCores == 0 {
		defaults.MaxActiveCores = totalCores
	}
	if err := defaults.Validate(totalCores); err != nil {
		return nil, err
	}
	return &PolicyConfig{
		totalCores: totalCores,
		defaults:   defaults,
		current:    defaults,
	}, nil
}

// TotalCores returns the upper bound for MaxActiveCores.
func (c *PolicyConfig) TotalCores() int {
	return c.totalCores
}

// Snapshot returns a consistent copy of all tunables.
func (c *PolicyConfig) Snapshot() Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *PolicyConfig) Enabled() bool {
	return c.Snapshot().Enabled
}

func (c *PolicyConfig) MaxActiveCores() int {
	return c.Snapshot().MaxActiveCores
}

func (c *PolicyConfig) Diagnostics() bool {
	return c.Snapshot().Diagnostics
}

// Reset restores the defaults the config was created with.
func (c *PolicyConfig) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.defaults
}

// SetEnabled accepts 0 or 1.
func (c *PolicyConfig) SetEnabled(v int) (bool, error) {
	enabled, err := parseBool(AttrEnabled, v)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current.Enabled == enabled {
		return false, nil
	}
	c.current.Enabled = enabled
	return true, nil
}

// SetMaxActiveCores accepts values in [1, TotalCores()].
func (c *PolicyConfig) SetMaxActiveCores(v int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.current
	next.MaxActiveCores = v
	if err := next.Validate(c.totalCores); err != nil {
		return false, err
	}
	if c.current.MaxActiveCores == v {
		return false, nil
	}
	c.current = next
	return true, nil
}

// SetDiagnostics accepts 0 or 1.
func (c *PolicyConfig) SetDiagnostics(v int) (bool, error) {
	diagnostics, err := parseBool(AttrDiagnostics, v)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current.Diagnostics == diagnostics {
		return false, nil
	}
	c.current.Diagnostics = diagnostics
	return true, nil
}

func parseBool(field string, v int) (bool, error) {
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, &ValidationError{Field: field, Value: strconv.Itoa(v), Reason: "must be 0 or 1"}
	}
}

// ParseValue parses an attribute write as an unsigned decimal, ignoring
// surrounding whitespace.
func ParseValue(field, raw string) (int, error) {
	value := strings.TrimSpace(raw)
	n, err := strconv.ParseUint(value, 10, 31)
	if err != nil {
		return 0, &ValidationError{Field: field, Value: value, Reason: "not an unsigned integer"}
	}
	return int(n), nil
}

// FormatBool renders a boolean tunable the way the attribute surface shows it.
func FormatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
