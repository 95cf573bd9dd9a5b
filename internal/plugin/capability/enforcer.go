// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

// Package capability decides which host operations a script plugin may
// perform.
//
// Grants are glob patterns over dot-separated capability names, compiled
// with '.' as the separator:
//   - '*' matches a single segment
//   - '**' matches any number of segments
//
// Examples:
//   - "store.read.*" matches "store.read.cache" but NOT "store.read.cache.hot"
//   - "events.emit.**" matches "events.emit.chat" AND "events.emit.chat.room"
//   - "**" matches any capability
package capability

import (
	"errors"
	"slices"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Capability name prefixes checked by the Lua host functions.
const (
	EventsEmit   = "events.emit."
	StoreRead    = "store.read."
	StoreWrite   = "store.write."
	QueueEnqueue = "queue.enqueue."
)

// CodeDenied is the oops code of a denied capability check.
const CodeDenied = "CAPABILITY_DENIED"

// ErrDenied is wrapped by every error returned from Require.
var ErrDenied = errors.New("capability denied")

type grant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer holds per-plugin grants. It is safe for concurrent use and
// the zero value is ready to use.
type Enforcer struct {
	mu     sync.RWMutex
	grants map[string][]grant
}

// NewEnforcer creates an empty enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{grants: make(map[string][]grant)}
}

// Grant replaces the grants of plugin. Nothing changes when any pattern
// is empty or fails to compile.
func (e *Enforcer) Grant(plugin string, patterns []string) error {
	errb := oops.In("capability").With("plugin", plugin)
	if plugin == "" {
		return errb.Errorf("plugin name cannot be empty")
	}

	compiled := make([]grant, len(patterns))
	for i, p := range patterns {
		if p == "" {
			return errb.Errorf("capability %d: empty pattern", i)
		}
		g, err := glob.Compile(p, '.')
		if err != nil {
			return errb.With("pattern", p).Wrapf(err, "capability %d", i)
		}
		compiled[i] = grant{pattern: p, glob: g}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grants == nil {
		e.grants = make(map[string][]grant)
	}
	e.grants[plugin] = compiled
	return nil
}

// Revoke removes every grant of plugin. Unknown plugins are ignored.
func (e *Enforcer) Revoke(plugin string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.grants, plugin)
}

// Grants returns a copy of the patterns granted to plugin, or nil.
func (e *Enforcer) Grants(plugin string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	gs, ok := e.grants[plugin]
	if !ok {
		return nil
	}
	out := make([]string, len(gs))
	for i, g := range gs {
		out[i] = g.pattern
	}
	return out
}

// Plugins returns the sorted names of plugins holding grants.
func (e *Enforcer) Plugins() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, 0, len(e.grants))
	for name := range e.grants {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Check reports whether plugin holds capability. Unknown plugins and
// empty capabilities are denied.
func (e *Enforcer) Check(plugin, capability string) bool {
	if capability == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, g := range e.grants[plugin] {
		if g.glob.Match(capability) {
			return true
		}
	}
	return false
}

// Require is Check returning an ErrDenied error instead of false.
func (e *Enforcer) Require(plugin, capability string) error {
	if e.Check(plugin, capability) {
		return nil
	}
	return oops.In("capability").
		Code(CodeDenied).
		With("plugin", plugin).
		With("capability", capability).
		Wrapf(ErrDenied, "%s requires %s", plugin, capability)
}
