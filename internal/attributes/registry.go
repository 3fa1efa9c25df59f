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

// Package attributes holds named groups of text attributes that can be read
// and written by name, and serves them over HTTP.
//
// Values are plain text. Reads return the rendered value; writes hand the raw
// text to the attribute's store function, which owns parsing and validation.
package attributes

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNotFound is returned for an unknown group or attribute.
	ErrNotFound = errors.New("attribute not found")
	// ErrReadOnly is returned when writing an attribute without a store function.
	ErrReadOnly = errors.New("attribute is read-only")
)

// Attribute is one named value.
type Attribute struct {
	Name string
	// Show renders the current value.
	Show func() string
	// Store applies a write. Nil makes the attribute read-only.
	Store func(raw string) error
}

// Group is a named set of attributes.
type Group struct {
	Name       string
	Attributes []Attribute
}

// Registry holds the registered groups.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]map[string]Attribute
}

func NewRegistry() *Registry {
	return &Registry{groups: make(map[string]map[string]Attribute)}
}

// Register adds a group. Group names must be unique.
func (r *Registry) Register(g Group) error {
	if g.Name == "" {
		return fmt.Errorf("group name cannot be empty")
	}
	attrs := make(map[string]Attribute, len(g.Attributes))
	for _, a := range g.Attributes {
		if a.Name == "" || a.Show == nil {
			return fmt.Errorf("group %s: attribute needs a name and a show function", g.Name)
		}
		if _, dup := attrs[a.Name]; dup {
			return fmt.Errorf("group %s: duplicate attribute %s", g.Name, a.Name)
		}
		attrs[a.Name] = a
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.groups[g.Name]; exists {
		return fmt.Errorf("group %s already registered", g.Name)
	}
	r.groups[g.Name] = attrs
	return nil
}

// Unregister removes a group and reports whether it was present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.groups[name]
	delete(r.groups, name)
	return ok
}

func (r *Registry) lookup(group, name string) (Attribute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attr, ok := r.groups[group][name]
	if !ok {
		return Attribute{}, fmt.Errorf("%s/%s: %w", group, name, ErrNotFound)
	}
	return attr, nil
}

// Show returns the rendered value of an attribute.
func (r *Registry) Show(group, name string) (string, error) {
	attr, err := r.lookup(group, name)
	if err != nil {
		return "", err
	}
	return attr.Show(), nil
}

// Store writes raw to an attribute. The registry lock is not held while the
// store function runs, so a store may take as long as it needs.
func (r *Registry) Store(group, name, raw string) error {
	attr, err := r.lookup(group, name)
	if err != nil {
		return err
	}
	if attr.Store == nil {
		return fmt.Errorf("%s/%s: %w", group, name, ErrReadOnly)
	}
	return attr.Store(raw)
}

// Groups returns the registered group names in sorted order.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.groups))
	for name := range r.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Values renders every attribute, keyed by group then attribute name.
func (r *Registry) Values() map[string]map[string]string {
	r.mu.RLock()
	snapshot := make(map[string][]Attribute, len(r.groups))
	for group, attrs := range r.groups {
		for _, a := range attrs {
			snapshot[group] = append(snapshot[group], a)
		}
	}
	r.mu.RUnlock()

	values := make(map[string]map[string]string, len(snapshot))
	for group, attrs := range snapshot {
		values[group] = make(map[string]string, len(attrs))
		for _, a := range attrs {
			values[group][a.Name] = a.Show()
		}
	}
	return values
}
