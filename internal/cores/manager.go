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

// Package cores controls which CPU cores are online.
//
// A Manager wraps the platform primitive used to bring a single core online or
// offline and reports live core state. Implementations never cache state
// optimistically: IsActive and ActiveCount always re-read the platform, so a
// failed transition leaves the reported state exactly as the platform sees it.
//
// Core 0 is the primary core. Deactivate(0) is forbidden and returns
// ErrPrimaryCore; callers must never ask for it.
package cores

import (
	"errors"
	"fmt"
)

// PrimaryCore is the boot core index. It is never taken offline.
const PrimaryCore = 0

var (
	// ErrPrimaryCore is returned by Deactivate when asked to take core 0 offline.
	ErrPrimaryCore = errors.New("primary core cannot be deactivated")
	// ErrNoSuchCore is returned for an index outside [0, TotalCores()).
	ErrNoSuchCore = errors.New("no such core")
)

// Manager activates and deactivates single cores and reports their live state.
type Manager interface {
	// TotalCores returns the number of cores that can be managed.
	TotalCores() int
	// IsActive reports whether the core is online right now.
	IsActive(id int) (bool, error)
	// ActiveCount returns the number of cores online right now.
	ActiveCount() (int, error)
	// Activate brings the core online.
	Activate(id int) error
	// Deactivate takes the core offline. Deactivate(PrimaryCore) returns ErrPrimaryCore.
	Deactivate(id int) error
}

// Operation names a core transition.
type Operation string

const (
	// OpActivate brings a core online.
	OpActivate Operation = "activate"
	// OpDeactivate takes a core offline.
	OpDeactivate Operation = "deactivate"
)

// TransitionError reports a core transition the platform refused.
type TransitionError struct {
	Core int
	Op   Operation
	Err  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("failed to %s cpu%d: %v", e.Op, e.Core, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// Status is the observed state of one core.
type Status struct {
	ID     int
	Online bool
}

// Snapshot reads the state of every core in ascending index order.
func Snapshot(m Manager) ([]Status, error) {
	statuses := make([]Status, 0, m.TotalCores())
	for id := 0; id < m.TotalCores(); id++ {
		online, err := m.IsActive(id)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, Status{ID: id, Online: online})
	}
	return statuses, nil
}

func checkIndex(id, total int) error {
	if id < 0 || id >= total {
		return fmt.Errorf("cpu%d: %w (total %d)", id, ErrNoSuchCore, total)
	}
	return nil
}
