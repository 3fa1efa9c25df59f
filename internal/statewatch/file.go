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

package statewatch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/llm-d/llm-d-state-helper/internal/logging"
)

// FileWatcher reads the power state from a file and notifies listeners when
// the file changes. Whatever reports suspend/resume on the host (a sleep
// hook, a display-state daemon) writes "active" or "suspended" into it.
//
// The parent directory is watched rather than the file, so writers may
// replace the file atomically. The fsnotify watch exists only while there are
// subscribers.
type FileWatcher struct {
	path   string
	logger logr.Logger

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	listeners listeners
}

var _ Watcher = &FileWatcher{}

// NewFileWatcher returns a watcher for the state file at path.
func NewFileWatcher(path string) *FileWatcher {
	return &FileWatcher{
		path:   filepath.Clean(path),
		logger: ctrl.Log.WithName("statewatch").WithValues("path", path),
	}
}

// State reads the file. A missing or unreadable file counts as Active.
func (f *FileWatcher) State() PowerState {
	data, err := os.ReadFile(f.path)
	if err != nil {
		f.logger.V(logging.DEBUG).Info("Cannot read power state, assuming active", "error", err.Error())
		return Active
	}
	state, err := ParsePowerState(string(data))
	if err != nil {
		f.logger.Info("Invalid power state, assuming active", "error", err.Error())
		return Active
	}
	return state
}

func (f *FileWatcher) Subscribe(l Listener) (CancelFunc, error) {
	if l == nil {
		return nil, fmt.Errorf("listener cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watcher == nil {
		if err := f.startLocked(); err != nil {
			return nil, err
		}
	}

	_, cancel := f.listeners.add(l)
	return func() {
		cancel()
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.listeners.len() == 0 {
			f.stopLocked()
		}
	}, nil
}

// Close drops the fsnotify watch. Subscriptions stay registered but receive
// nothing until a new Subscribe restarts the watch.
func (f *FileWatcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopLocked()
	return nil
}

func (f *FileWatcher) startLocked() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	f.watcher = watcher
	go f.run(watcher)
	f.logger.V(logging.DEBUG).Info("Started watching power state")
	return nil
}

func (f *FileWatcher) stopLocked() {
	if f.watcher == nil {
		return
	}
	if err := f.watcher.Close(); err != nil {
		f.logger.Error(err, "Failed to close fsnotify watcher")
	}
	f.watcher = nil
	f.logger.V(logging.DEBUG).Info("Stopped watching power state")
}

func (f *FileWatcher) run(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				f.logger.V(logging.TRACE).Info("Power state file changed", "op", event.Op.String())
				f.listeners.notify()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.logger.Error(err, "Power state watch error")
		}
	}
}
