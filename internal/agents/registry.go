/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package agents

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MaxNameLength bounds agent names so they fit a file name on every
// supported filesystem
const MaxNameLength = 255

// Registry is the set of known agent names. It is safe for concurrent use;
// persisting it is the caller's job.
type Registry struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

// NewRegistry creates a registry seeded with names
func NewRegistry(names ...string) *Registry {
	r := &Registry{names: make(map[string]struct{}, len(names))}
	for _, name := range names {
		r.names[name] = struct{}{}
	}
	return r
}

// Contains reports whether name is registered
func (r *Registry) Contains(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[name]
	return ok
}

// Register adds name and reports whether it was newly added
func (r *Registry) Register(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.names[name]; ok {
		return false
	}
	r.names[name] = struct{}{}
	return true
}

// Remove deletes name and reports whether it was present. It exists only
// to undo a Register whose durable write failed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.names[name]; !ok {
		return false
	}
	delete(r.names, name)
	return true
}

// List returns a sorted snapshot of the registered names
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered names
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// ValidateName checks that name can safely be used as a mailbox file name
// and storage key
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("agent name cannot be empty")
	}

	if len(name) > MaxNameLength {
		return fmt.Errorf("agent name exceeds %d bytes", MaxNameLength)
	}

	if name == "." || name == ".." {
		return fmt.Errorf("agent name '%s' is reserved", name)
	}

	// Hidden names would collide with temporary and lock files
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("agent name cannot start with '.'")
	}

	if strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("agent name cannot contain path separators or NUL")
	}

	return nil
}
