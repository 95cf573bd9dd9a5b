// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

// Package resolver tracks plugin descriptors and orders them by their
// declared dependencies.
package resolver

import (
	"slices"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"

	"github.com/zhangyu-521/my-doc-sub002/pkg/plugin"
)

// CycleError reports a dependency cycle. Members lists the plugins on the
// cycle in path order, starting and ending at the node that closed it.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return "circular dependency: " + strings.Join(e.Members, " -> ")
}

// Is reports whether target is plugin.ErrCircularDependency.
func (e *CycleError) Is(target error) bool {
	return target == plugin.ErrCircularDependency
}

// Incompatible describes a dependency whose version fails a constraint.
type Incompatible struct {
	Name       string
	Version    string
	Constraint string
}

// CheckResult partitions the declared dependencies of a plugin.
type CheckResult struct {
	Resolved        []string
	Missing         []string
	Incompatible    []Incompatible
	OptionalMissing []string
}

// OK reports whether every required dependency is present and compatible.
func (r CheckResult) OK() bool {
	return len(r.Missing) == 0 && len(r.Incompatible) == 0
}

// Resolver is the tracked dependency graph. Edges are stored by name;
// a dependency that is not tracked is simply absent from the graph.
type Resolver struct {
	mu    sync.Mutex
	descs map[string]plugin.Descriptor
	order []string // registration order
}

// New creates an empty resolver.
func New() *Resolver {
	return &Resolver{descs: make(map[string]plugin.Descriptor)}
}

// Add tracks a descriptor. Adding a name twice replaces the descriptor
// but keeps its original registration position.
func (r *Resolver) Add(d plugin.Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.descs[d.Name]; !ok {
		r.order = append(r.order, d.Name)
	}
	r.descs[d.Name] = d.Clone()
}

// Remove stops tracking name. It reports whether name was tracked.
func (r *Resolver) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.descs[name]; !ok {
		return false
	}
	delete(r.descs, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
	return true
}

// Has reports whether name is tracked.
func (r *Resolver) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.descs[name]
	return ok
}

// Names returns tracked names in registration order.
func (r *Resolver) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

// Descriptor returns a copy of the tracked descriptor for name.
func (r *Resolver) Descriptor(name string) (plugin.Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.descs[name]
	if !ok {
		return plugin.Descriptor{}, false
	}
	return d.Clone(), true
}

// Dependencies returns the tracked direct dependencies of name.
func (r *Resolver) Dependencies(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.depsLocked(name)
}

// Dependents returns the tracked plugins that directly depend on name,
// in registration order.
func (r *Resolver) Dependents(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dependentsLocked(name)
}

// LoadOrder returns every tracked plugin with dependencies before
// dependents. Independent plugins keep registration order.
func (r *Resolver) LoadOrder() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.newWalk()
	for _, name := range r.order {
		if err := w.visit(name); err != nil {
			return nil, err
		}
	}
	return w.out, nil
}

// CycleFrom reports a cycle reachable from name, or nil.
func (r *Resolver) CycleFrom(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.descs[name]; !ok {
		return nil
	}
	return r.newWalk().visit(name)
}

// UnloadOrder returns name and every plugin that transitively depends on
// it, ordered so that dependents come before their dependencies.
func (r *Resolver) UnloadOrder(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.descs[name]; !ok {
		return nil
	}

	closure := map[string]bool{name: true}
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range r.dependentsLocked(cur) {
			if !closure[dep] {
				closure[dep] = true
				queue = append(queue, dep)
			}
		}
	}

	// Post-order over the closure puts dependencies first; reversing it
	// yields dependents first.
	w := r.newWalk()
	w.within = closure
	for _, n := range r.order {
		if closure[n] {
			// The tracked graph is kept acyclic, so visit cannot fail here.
			_ = w.visit(n)
		}
	}
	slices.Reverse(w.out)
	return w.out
}

// Check partitions the declared dependencies of name against the tracked set.
// It returns ErrPluginNotFound when name is not tracked.
func (r *Resolver) Check(name string) (CheckResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.descs[name]
	if !ok {
		return CheckResult{}, oops.Code(plugin.CodeNotFound).
			With("plugin", name).
			Wrapf(plugin.ErrPluginNotFound, "plugin %q is not tracked", name)
	}
	return r.checkLocked(d), nil
}

// CheckDescriptor partitions the dependencies of d, which need not be tracked.
func (r *Resolver) CheckDescriptor(d plugin.Descriptor) CheckResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkLocked(d)
}

func (r *Resolver) checkLocked(d plugin.Descriptor) CheckResult {
	var res CheckResult
	for _, dep := range d.Dependencies {
		target, ok := r.descs[dep]
		if !ok {
			res.Missing = append(res.Missing, dep)
			continue
		}
		if raw, ok := d.Constraints[dep]; ok && !satisfies(target.Version, raw) {
			res.Incompatible = append(res.Incompatible, Incompatible{
				Name:       dep,
				Version:    target.Version,
				Constraint: raw,
			})
			continue
		}
		res.Resolved = append(res.Resolved, dep)
	}
	for _, dep := range d.OptionalDependencies {
		if _, ok := r.descs[dep]; !ok {
			res.OptionalMissing = append(res.OptionalMissing, dep)
		}
	}
	return res
}

func satisfies(version, constraint string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false
	}
	return c.Check(v)
}

func (r *Resolver) depsLocked(name string) []string {
	d, ok := r.descs[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(d.Dependencies))
	for _, dep := range d.Dependencies {
		if _, ok := r.descs[dep]; ok {
			out = append(out, dep)
		}
	}
	return out
}

func (r *Resolver) dependentsLocked(name string) []string {
	var out []string
	for _, n := range r.order {
		if slices.Contains(r.descs[n].Dependencies, name) {
			out = append(out, n)
		}
	}
	return out
}

type mark uint8

const (
	unvisited mark = iota
	visiting
	visited
)

// walk is one depth-first traversal with visiting/visited marks.
type walk struct {
	r      *Resolver
	marks  map[string]mark
	stack  []string
	out    []string
	within map[string]bool // when set, edges leaving this set are ignored
}

func (r *Resolver) newWalk() *walk {
	return &walk{r: r, marks: make(map[string]mark, len(r.descs))}
}

func (w *walk) visit(name string) error {
	switch w.marks[name] {
	case visited:
		return nil
	case visiting:
		start := slices.Index(w.stack, name)
		members := append(slices.Clone(w.stack[start:]), name)
		return oops.Code(plugin.CodeCircularDependency).
			With("plugin", name).
			With("cycle", members).
			Wrap(&CycleError{Members: members})
	}

	w.marks[name] = visiting
	w.stack = append(w.stack, name)
	for _, dep := range w.r.depsLocked(name) {
		if w.within != nil && !w.within[dep] {
			continue
		}
		if err := w.visit(dep); err != nil {
			return err
		}
	}
	w.stack = w.stack[:len(w.stack)-1]
	w.marks[name] = visited
	w.out = append(w.out, name)
	return nil
}
