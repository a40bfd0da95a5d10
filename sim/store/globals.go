// Package store holds the process-wide variable store shared by every
// attribute-function resolver.
//
// Any resolver may read or overwrite any key; the last writer wins. Callers
// that need isolation namespace their keys. The mutex only keeps the map
// memory-safe under concurrent resolvers, it does not order their writes.
package store

import (
	"sort"
	"sync"
)

// Globals is a name → JSON value map.
type Globals struct {
	mu   sync.RWMutex
	vars map[string]any
}

// New returns an empty store.
func New() *Globals {
	return &Globals{vars: make(map[string]any)}
}

// Get returns the value stored under name.
func (g *Globals) Get(name string) (any, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.vars[name]
	return v, ok
}

// Set stores v under name, replacing any previous value.
func (g *Globals) Set(name string, v any) {
	g.mu.Lock()
	g.vars[name] = v
	g.mu.Unlock()
}

// Delete removes name.
func (g *Globals) Delete(name string) {
	g.mu.Lock()
	delete(g.vars, name)
	g.mu.Unlock()
}

// Merge overwrites the store's entries with those of vars in one step.
func (g *Globals) Merge(vars map[string]any) {
	if len(vars) == 0 {
		return
	}
	g.mu.Lock()
	for k, v := range vars {
		g.vars[k] = v
	}
	g.mu.Unlock()
}

// Snapshot returns a shallow copy of the current entries.
func (g *Globals) Snapshot() map[string]any {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]any, len(g.vars))
	for k, v := range g.vars {
		out[k] = v
	}
	return out
}

// Names returns the stored names, sorted.
func (g *Globals) Names() []string {
	g.mu.RLock()
	names := make([]string, 0, len(g.vars))
	for k := range g.vars {
		names = append(names, k)
	}
	g.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len returns the number of entries.
func (g *Globals) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.vars)
}
