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

package cores

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultSysfsRoot is where Linux exposes CPU hotplug controls.
	DefaultSysfsRoot = "/sys/devices/system/cpu"

	presentFile = "present"
	onlineFile  = "online"
)

// ErrNotHotpluggable is returned when a core exposes no online control.
var ErrNotHotpluggable = errors.New("core is not hotpluggable")

// SysfsManager drives CPU hotplug through /sys/devices/system/cpu/cpuN/online.
//
// A core without an online file (cpu0 on most kernels) is reported online and
// cannot be deactivated.
type SysfsManager struct {
	root  string
	total int
}

var _ Manager = &SysfsManager{}

// NewSysfsManager discovers the present cores under root.
func NewSysfsManager(root string) (*SysfsManager, error) {
	if root == "" {
		root = DefaultSysfsRoot
	}
	data, err := os.ReadFile(filepath.Join(root, presentFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read present cpus: %w", err)
	}
	ids, err := ParseCPUList(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse present cpus: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no present cpus under %s", root)
	}
	for i, id := range ids {
		if i != id {
			return nil, fmt.Errorf("present cpus %q are not contiguous from cpu0", strings.TrimSpace(string(data)))
		}
	}
	return &SysfsManager{root: root, total: len(ids)}, nil
}

func (m *SysfsManager) onlinePath(id int) string {
	return filepath.Join(m.root, fmt.Sprintf("cpu%d", id), onlineFile)
}

func (m *SysfsManager) TotalCores() int {
	return m.total
}

func (m *SysfsManager) IsActive(id int) (bool, error) {
	if err := checkIndex(id, m.total); err != nil {
		return false, err
	}
	data, err := os.ReadFile(m.onlinePath(id))
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read online state for cpu%d: %w", id, err)
	}
	switch strings.TrimSpace(string(data)) {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected online state %q for cpu%d", strings.TrimSpace(string(data)), id)
	}
}

func (m *SysfsManager) ActiveCount() (int, error) {
	count := 0
	for id := 0; id < m.total; id++ {
		online, err := m.IsActive(id)
		if err != nil {
			return 0, err
		}
		if online {
			count++
		}
	}
	return count, nil
}

func (m *SysfsManager) Activate(id int) error {
	if err := checkIndex(id, m.total); err != nil {
		return err
	}
	if _, err := os.Stat(m.onlinePath(id)); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return m.write(id, OpActivate, "1")
}

func (m *SysfsManager) Deactivate(id int) error {
	if id == PrimaryCore {
		return ErrPrimaryCore
	}
	if err := checkIndex(id, m.total); err != nil {
		return err
	}
	if _, err := os.Stat(m.onlinePath(id)); errors.Is(err, os.ErrNotExist) {
		return &TransitionError{Core: id, Op: OpDeactivate, Err: ErrNotHotpluggable}
	}
	return m.write(id, OpDeactivate, "0")
}

func (m *SysfsManager) write(id int, op Operation, value string) error {
	if err := os.WriteFile(m.onlinePath(id), []byte(value), 0644); err != nil {
		return &TransitionError{Core: id, Op: op, Err: err}
	}
	return nil
}
