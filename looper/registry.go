// Copyright 2026 The Amelia Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package looper

import (
	"fmt"
	"sync"
)

// Registry is a process-scoped, name-keyed set of known Loopers — the
// explicit, introspectable replacement for the source's global
// thread-id-keyed lookup table. Go goroutines have no stable,
// inspectable identity, so "the Looper that owns the calling thread"
// cannot be answered by examining the caller; callers instead name the
// Looper they want, or carry it on a context (see [WithLooper]).
//
// A Registry's zero value is not usable; construct with NewRegistry.
type Registry struct {
	mu      sync.Mutex
	loopers map[string]*Looper
}

// NewRegistry constructs an empty Registry. Tests should construct a
// fresh Registry per case rather than sharing process-global state.
func NewRegistry() *Registry {
	return &Registry{loopers: make(map[string]*Looper)}
}

// Add registers l under its Name. Returns an error if a different
// Looper is already registered under that name.
func (r *Registry) Add(l *Looper) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.loopers[l.Name()]; ok && existing != l {
		return fmt.Errorf("looper: a Looper named %q is already registered", l.Name())
	}
	r.loopers[l.Name()] = l
	return nil
}

// Remove unregisters the Looper named name, if present.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.loopers, name)
}

// Get returns the Looper registered under name.
func (r *Registry) Get(name string) (*Looper, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.loopers[name]
	return l, ok
}

// Obtain returns the Looper registered under name, creating and
// registering one from opts if none exists yet — the Registry
// equivalent of the source's Looper.Factory.obtain(). opts.Name is
// overwritten with name if left empty.
func (r *Registry) Obtain(name string, opts Options) *Looper {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.loopers[name]; ok {
		return l
	}
	if opts.Name == "" {
		opts.Name = name
	}
	l := New(opts)
	r.loopers[name] = l
	return l
}

// ObtainMatching is Obtain's predicate overload: if a Looper is
// already registered under name but fails predicate, it is replaced
// with a freshly constructed one from opts (the existing Looper is
// left running; callers are responsible for quitting it if needed).
// This mirrors the source's obtain(predicate), used to re-request a
// Looper with different flags.
func (r *Registry) ObtainMatching(name string, predicate func(*Looper) bool, opts Options) *Looper {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.loopers[name]; ok && predicate(l) {
		return l
	}
	if opts.Name == "" {
		opts.Name = name
	}
	l := New(opts)
	r.loopers[name] = l
	return l
}

// Names returns the names of every currently registered Looper.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.loopers))
	for name := range r.loopers {
		names = append(names, name)
	}
	return names
}
