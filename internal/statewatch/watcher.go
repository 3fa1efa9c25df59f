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

// Package statewatch delivers power-state change notifications.
//
// Notifications carry no payload: a listener is only told that something
// changed and re-reads State() when it gets to run.
package statewatch

import (
	"fmt"
	"strings"
	"sync"
)

// PowerState is the coarse activity state of the device.
type PowerState string

const (
	// Active means the device is in use; cores are restored up to the ceiling.
	Active PowerState = "active"
	// Suspended means the device is idle or in low-power mode.
	Suspended PowerState = "suspended"
)

// ParsePowerState accepts "active"/"suspended" and the numeric forms "0"/"1"
// (1 meaning suspended), case-insensitively and ignoring whitespace.
func ParsePowerState(raw string) (PowerState, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(Active), "0", "resume", "awake":
		return Active, nil
	case string(Suspended), "1", "suspend", "sleep":
		return Suspended, nil
	default:
		return "", fmt.Errorf("unknown power state %q", strings.TrimSpace(raw))
	}
}

// Listener is called whenever the power state may have changed. Listeners
// must not block.
type Listener func()

// CancelFunc removes a subscription. It is safe to call more than once.
type CancelFunc func()

// Watcher is a source of power-state notifications.
type Watcher interface {
	// State returns the current power state.
	State() PowerState
	// Subscribe registers l until the returned CancelFunc is called.
	Subscribe(l Listener) (CancelFunc, error)
}

// listeners is a registry of subscribed listeners shared by the Watcher
// implementations.
type listeners struct {
	mu     sync.Mutex
	nextID int
	byID   map[int]Listener
}

func (ls *listeners) add(l Listener) (int, CancelFunc) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.byID == nil {
		ls.byID = make(map[int]Listener)
	}
	id := ls.nextID
	ls.nextID++
	ls.byID[id] = l

	var once sync.Once
	return id, func() {
		once.Do(func() {
			ls.mu.Lock()
			defer ls.mu.Unlock()
			delete(ls.byID, id)
		})
	}
}

func (ls *listeners) len() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.byID)
}

// notify calls every listener outside the lock so listeners may unsubscribe.
func (ls *listeners) notify() {
	ls.mu.Lock()
	snapshot := make([]Listener, 0, len(ls.byID))
	for _, l := range ls.byID {
		snapshot = append(snapshot, l)
	}
	ls.mu.Unlock()

	for _, l := range snapshot {
		l()
	}
}

// Broadcaster is an in-process Watcher whose state is set by its owner.
type Broadcaster struct {
	mu        sync.RWMutex
	state     PowerState
	listeners listeners
}

var _ Watcher = &Broadcaster{}

// NewBroadcaster returns a Broadcaster starting in initial.
func NewBroadcaster(initial PowerState) *Broadcaster {
	return &Broadcaster{state: initial}
}

func (b *Broadcaster) State() PowerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Broadcaster) Subscribe(l Listener) (CancelFunc, error) {
	if l == nil {
		return nil, fmt.Errorf("listener cannot be nil")
	}
	_, cancel := b.listeners.add(l)
	return cancel, nil
}

// Set records a new state and notifies every listener, even if the state is
// unchanged.
func (b *Broadcaster) Set(state PowerState) {
	b.mu.Lock()
	b.state = state
	b.mu.Unlock()
	b.listeners.notify()
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	return b.listeners.len()
}
