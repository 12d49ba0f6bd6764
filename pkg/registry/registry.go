/*
 * Copyright 2025 Carver Automation Corporation.
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

// Package registry keeps the robot endpoints known to the current session.
package registry

import (
	"errors"
	"sync"
)

// ErrInvalidEndpoint is returned when an endpoint lacks a name or topics.
var ErrInvalidEndpoint = errors.New("invalid robot endpoint")

// Registry is an insertion-ordered, append-only set of robot endpoints keyed by name.
// Writes happen on the session's event loop; reads may come from observers on
// other goroutines.
type Registry struct {
	mu        sync.RWMutex
	endpoints []RobotEndpoint
	byName    map[string]int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byName: make(map[string]int),
	}
}

// Register appends ep unless an endpoint with the same name already exists.
// It reports whether ep was added.
func (r *Registry) Register(ep RobotEndpoint) (bool, error) {
	if err := ep.Validate(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[ep.Name]; exists {
		return false, nil
	}

	r.byName[ep.Name] = len(r.endpoints)
	r.endpoints = append(r.endpoints, ep)

	return true, nil
}

// Get returns the endpoint registered under name.
func (r *Registry) Get(name string) (RobotEndpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.byName[name]
	if !ok {
		return RobotEndpoint{}, false
	}

	return r.endpoints[idx], true
}

// All returns a copy of every endpoint in registration order.
func (r *Registry) All() []RobotEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RobotEndpoint, len(r.endpoints))
	copy(out, r.endpoints)

	return out
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.endpoints)
}

// Reset drops every endpoint. Used when the session is torn down.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.endpoints = nil
	r.byName = make(map[string]int)
}
