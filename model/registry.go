// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package model

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ErrModelNotFound is returned when a model name is not registered.
var ErrModelNotFound = errors.New("model not found")

// Registry is a concurrency safe set of models indexed by name.
//
// The mutex must be held when accessing models. Registered models are never
// modified in place.
type Registry struct {
	mutex  sync.RWMutex
	models map[string]*Model
}

// NewRegistry returns a registry containing the given models.
func NewRegistry(models ...*Model) *Registry {
	r := &Registry{models: map[string]*Model{}}
	for _, m := range models {
		r.models[m.Name] = m
	}
	return r
}

// Define registers m, replacing any model with the same name.
func (r *Registry) Define(m *Model) {
	r.mutex.Lock()
	r.models[m.Name] = m
	r.mutex.Unlock()
}

// Model returns the named model.
func (r *Registry) Model(name string) (*Model, error) {
	r.mutex.RLock()
	m, ok := r.models[name]
	r.mutex.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrModelNotFound, "cannot get model %q", name)
	}
	return m, nil
}

// Names returns the sorted names of the registered models.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefineProperty adds p to the named model. The registered model is replaced
// by a copy carrying the new property.
func (r *Registry) DefineProperty(modelName string, p Property) error {
	if p.Name == "" {
		return errors.Errorf("cannot define property on %q: empty property name", modelName)
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	m, ok := r.models[modelName]
	if !ok {
		return errors.Wrapf(ErrModelNotFound, "cannot define property %q", p.Name)
	}
	c := m.clone()
	c.addProperty(p)
	r.models[modelName] = c
	return nil
}
