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
	"fmt"
	"sync"
)

// SimulatedManager keeps core state in memory. It backs the daemon's
// simulated mode and the tests, and can be told to refuse transitions.
type SimulatedManager struct {
	mu       sync.Mutex
	online   []bool
	failures map[int]error
	history  []Transition
}

// Transition records one successful state change made by a SimulatedManager.
type Transition struct {
	Core int
	Op   Operation
}

var _ Manager = &SimulatedManager{}

// NewSimulatedManager returns a manager for total cores, all online.
func NewSimulatedManager(total int) (*SimulatedManager, error) {
	if total < 1 {
		return nil, fmt.Errorf("total cores must be >= 1, got %d", total)
	}
	online := make([]bool, total)
	for i := range online {
		online[i] = true
	}
	return &SimulatedManager{
		online:   online,
		failures: make(map[int]error),
	}, nil
}

// SetOnline forces a core's state without recording a transition.
func (m *SimulatedManager) SetOnline(id int, online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online[id] = online
}

// FailCore makes every transition of the core fail with err. A nil err clears it.
func (m *SimulatedManager) FailCore(id int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, id)
		return
	}
	m.failures[id] = err
}

// History returns the transitions made so far.
func (m *SimulatedManager) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transition(nil), m.history...)
}

// ResetHistory forgets recorded transitions.
func (m *SimulatedManager) ResetHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
}

// OnlineCores returns the indices of online cores in ascending order.
func (m *SimulatedManager) OnlineCores() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []int{}
	for id, online := range m.online {
		if online {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *SimulatedManager) TotalCores() int {
	return len(m.online)
}

func (m *SimulatedManager) IsActive(id int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkIndex(id, len(m.online)); err != nil {
		return false, err
	}
	return m.online[id], nil
}

func (m *SimulatedManager) ActiveCount() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, online := range m.online {
		if online {
			count++
		}
	}
	return count, nil
}

func (m *SimulatedManager) Activate(id int) error {
	return m.transition(id, OpActivate, true)
}

func (m *SimulatedManager) Deactivate(id int) error {
	if id == PrimaryCore {
		return ErrPrimaryCore
	}
	return m.transition(id, OpDeactivate, false)
}

func (m *SimulatedManager) transition(id int, op Operation, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkIndex(id, len(m.online)); err != nil {
		return err
	}
	if err, ok := m.failures[id]; ok {
		return &TransitionError{Core: id, Op: op, Err: err}
	}
	m.online[id] = online
	m.history = append(m.history, Transition{Core: id, Op: op})
	return nil
}
