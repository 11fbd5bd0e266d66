// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package template

import (
	"context"
	"os"
	"sync"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// StaticState is an in-memory StateProvider. It serves offline checks and
// tests, and hosts that push state snapshots instead of answering queries.
type StaticState struct {
	mu        sync.RWMutex
	entities  map[string]EntityState
	variables map[string]any
}

// NewStaticState creates an empty StaticState.
func NewStaticState() *StaticState {
	return &StaticState{
		entities:  make(map[string]EntityState),
		variables: make(map[string]any),
	}
}

// stateFile is the YAML layout read by LoadStaticState:
//
//	entities:
//	  person.alice:
//	    state: home
//	    attributes: {battery: 80}
//	variables:
//	  person_home: true
type stateFile struct {
	Entities map[string]struct {
		State      string         `yaml:"state"`
		Attributes map[string]any `yaml:"attributes"`
	} `yaml:"entities"`
	Variables map[string]any `yaml:"variables"`
}

// LoadStaticState reads a state snapshot from a YAML file.
func LoadStaticState(path string) (*StaticState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.In("template").With("path", path).Wrapf(err, "read state file")
	}
	var f stateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, oops.In("template").With("path", path).Wrapf(err, "parse state file")
	}

	s := NewStaticState()
	for id, e := range f.Entities {
		s.SetEntity(id, e.State, e.Attributes)
	}
	for name, v := range f.Variables {
		s.SetVariable(name, v)
	}
	return s, nil
}

// SetEntity sets the state and attributes of an entity.
func (s *StaticState) SetEntity(id, state string, attributes map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[id] = EntityState{State: state, Attributes: attributes}
}

// SetVariable sets a named variable.
func (s *StaticState) SetVariable(name string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variables[name] = v
}

// Entity implements StateProvider.
func (s *StaticState) Entity(_ context.Context, id string) (EntityState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	return e, ok
}

// Variable implements StateProvider.
func (s *StaticState) Variable(_ context.Context, name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variables[name]
	return v, ok
}

var _ StateProvider = (*StaticState)(nil)
