// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

// Package lifecycle drives plugin instances through their state machine.
package lifecycle

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zhangyu-521/my-doc-sub002/internal/hook"
	"github.com/zhangyu-521/my-doc-sub002/internal/resolver"
	"github.com/zhangyu-521/my-doc-sub002/pkg/errutil"
	"github.com/zhangyu-521/my-doc-sub002/pkg/plugin"
)

var tracer = otel.Tracer("plugrt/lifecycle")

// Lifecycle operations. Each has a before_ and after_ hook.
const (
	OpRegister   = "register"
	OpInitialize = "initialize"
	OpEnable     = "enable"
	OpDisable    = "disable"
	OpUnload     = "unload"
	OpRecover    = "recover"
)

// HookOwner owns the lifecycle hooks.
const HookOwner = "lifecycle"

// BeforeHook returns the name of the async hook run before op.
func BeforeHook(op string) string { return "lifecycle.before_" + op }

// AfterHook returns the name of the async hook run after op.
func AfterHook(op string) string { return "lifecycle.after_" + op }

// Default retry settings for plugin initialization.
const (
	DefaultRetryAttempts  = 3
	DefaultRetryBaseDelay = 100 * time.Millisecond
)

type instance struct {
	desc    plugin.Descriptor
	impl    plugin.Plugin
	state   State
	err     error
	seq     uint64
	tracked bool // descriptor is in the resolver
}

// Status is a point-in-time view of one plugin.
type Status struct {
	Name    string
	Version string
	State   State
	Err     error
}

// Manager owns plugin instances and their state.
type Manager struct {
	mu        sync.Mutex
	instances map[string]*instance
	seq       uint64

	resolver   *resolver.Resolver
	hooks      *hook.Engine
	logger     *slog.Logger
	contextFor func(name string) plugin.Context
	cleanup    []func(name string)
	observers  []func(Transition)

	retryAttempts int
	retryBase     time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithContextFactory sets the function that builds the plugin.Context
// passed to a plugin's Initialize.
func WithContextFactory(fn func(name string) plugin.Context) Option {
	return func(m *Manager) {
		m.contextFor = fn
	}
}

// WithCleanup registers fn to release anything a plugin owned outside the
// hook engine. It runs after the plugin is unloaded and after each failed
// Initialize attempt.
func WithCleanup(fn func(name string)) Option {
	return func(m *Manager) {
		m.cleanup = append(m.cleanup, fn)
	}
}

// WithTransitionObserver registers fn to be notified after each state change.
func WithTransitionObserver(fn func(Transition)) Option {
	return func(m *Manager) {
		m.observers = append(m.observers, fn)
	}
}

// WithRetry sets the total number of Initialize attempts and the base
// delay of the exponential backoff between them.
func WithRetry(attempts int, base time.Duration) Option {
	return func(m *Manager) {
		if attempts > 0 {
			m.retryAttempts = attempts
		}
		if base > 0 {
			m.retryBase = base
		}
	}
}

// New creates a manager that tracks dependencies in res and runs lifecycle
// hooks on hooks. The lifecycle hooks are created on hooks.
func New(res *resolver.Resolver, hooks *hook.Engine, opts ...Option) (*Manager, error) {
	if res == nil || hooks == nil {
		return nil, oops.Errorf("lifecycle manager requires a resolver and a hook engine")
	}
	m := &Manager{
		instances:     make(map[string]*instance),
		resolver:      res,
		hooks:         hooks,
		logger:        slog.Default(),
		contextFor:    func(string) plugin.Context { return nil },
		retryAttempts: DefaultRetryAttempts,
		retryBase:     DefaultRetryBaseDelay,
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, op := range []string{OpRegister, OpInitialize, OpEnable, OpDisable, OpUnload, OpRecover} {
		for _, name := range []string{BeforeHook(op), AfterHook(op)} {
			if err := hooks.CreateHook(name, plugin.HookAsync, HookOwner); err != nil {
				return nil, oops.Wrapf(err, "create lifecycle hook")
			}
		}
	}
	return m, nil
}

// Register validates p's descriptor, tracks it for dependency resolution
// and moves it to Resolved. On a missing or incompatible dependency, or a
// dependency cycle, the plugin is left in Error and the error returned.
func (m *Manager) Register(ctx context.Context, p plugin.Plugin) error {
	if p == nil {
		return oops.Code(plugin.CodeInvalidDescriptor).Wrapf(plugin.ErrInvalidDescriptor, "nil plugin")
	}
	desc := p.Descriptor().Clone()
	if err := desc.Validate(); err != nil {
		return err
	}
	name := desc.Name

	if err := m.checkVacant(name); err != nil {
		return err
	}

	return m.run(ctx, OpRegister, name, func(ctx context.Context) error {
		if err := m.insert(desc, p); err != nil {
			return err
		}
		if err := m.transition(name, Registered); err != nil {
			return err
		}
		m.resolver.Add(desc)
		m.setTracked(name, true)

		if err := m.transition(name, Resolving); err != nil {
			return err
		}
		if err := m.resolve(name); err != nil {
			m.fail(name, err)
			return err
		}
		return m.transition(name, Resolved)
	})
}

// resolve checks a tracked plugin against the dependency graph. A plugin
// that closes a cycle is dropped from the resolver.
func (m *Manager) resolve(name string) error {
	if err := m.resolver.CycleFrom(name); err != nil {
		m.resolver.Remove(name)
		m.setTracked(name, false)
		return oops.With("plugin", name).Wrap(err)
	}
	check, err := m.resolver.Check(name)
	if err != nil {
		return err
	}
	if len(check.Missing) > 0 {
		return errMissing(name, check.Missing)
	}
	if len(check.Incompatible) > 0 {
		inc := check.Incompatible[0]
		return errIncompatible(name, inc.Name, inc.Version, inc.Constraint)
	}
	if len(check.OptionalMissing) > 0 {
		m.logger.Debug("optional dependencies absent", "plugin", name, "optional", check.OptionalMissing)
	}
	return nil
}

// Initialize moves a Resolved plugin to Initialized, initializing any
// Resolved dependencies first. A failing Initialize is retried with
// exponential backoff; the plugin is left in Error once attempts run out.
func (m *Manager) Initialize(ctx context.Context, name string) error {
	impl, err := m.lookup(name)
	if err != nil {
		return err
	}

	return m.run(ctx, OpInitialize, name, func(ctx context.Context) error {
		if err := m.transition(name, Initializing); err != nil {
			return err
		}
		if err := m.initializeDependencies(ctx, name); err != nil {
			m.fail(name, err)
			return err
		}

		attempt := 0
		backoff := retry.WithMaxRetries(uint64(m.retryAttempts-1), retry.NewExponential(m.retryBase))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			attempt++
			if attempt > 1 {
				if err := m.rearm(name); err != nil {
					return err
				}
				m.logger.Info("retrying plugin initialization", "plugin", name, "attempt", attempt)
			}
			rt := m.contextFor(name)
			cause := errutil.Safely(oops.Code(plugin.CodePanic).With("plugin", name), func() error {
				return impl.Initialize(ctx, rt)
			})
			if cause != nil {
				m.release(name)
				ierr := errInit(name, attempt, cause)
				m.fail(name, ierr)
				return retry.RetryableError(ierr)
			}
			return nil
		})
		if err != nil {
			if st, _ := m.State(name); st != Error {
				m.fail(name, err)
			}
			return oops.With("plugin", name).Wrap(err)
		}
		return m.transition(name, Initialized)
	})
}

// release drops the taps, hooks and cleanup-tracked resources name
// registered through its plugin.Context.
func (m *Manager) release(name string) {
	m.hooks.RemoveOwner(name)
	for _, fn := range m.cleanup {
		fn(name)
	}
}

// rearm moves a plugin that failed Initialize back to Initializing.
func (m *Manager) rearm(name string) error {
	if err := m.transition(name, Resolved); err != nil {
		return err
	}
	return m.transition(name, Initializing)
}

func (m *Manager) initializeDependencies(ctx context.Context, name string) error {
	desc, ok := m.descriptor(name)
	if !ok {
		return errNotFound(name)
	}
	for _, dep := range desc.Dependencies {
		st, ok := m.State(dep)
		switch {
		case !ok:
			return errMissing(name, []string{dep})
		case st == Resolved:
			if err := m.Initialize(ctx, dep); err != nil {
				return errDependencyFailed(name, dep, err)
			}
		case st.Initialized():
		default:
			return errNotReady(name, dep, st)
		}
	}
	return nil
}

// Enable moves an Initialized or Disabled plugin to Enabled, enabling its
// dependencies first.
func (m *Manager) Enable(ctx context.Context, name string) error {
	impl, err := m.lookup(name)
	if err != nil {
		return err
	}

	return m.run(ctx, OpEnable, name, func(ctx context.Context) error {
		if err := m.transition(name, Enabling); err != nil {
			return err
		}
		if err := m.enableDependencies(ctx, name); err != nil {
			m.fail(name, err)
			return err
		}
		if e, ok := impl.(plugin.Enabler); ok {
			if err := m.call(name, OpEnable, func() error { return e.Enable(ctx) }); err != nil {
				m.fail(name, err)
				return err
			}
		}
		return m.transition(name, Enabled)
	})
}

func (m *Manager) enableDependencies(ctx context.Context, name string) error {
	desc, ok := m.descriptor(name)
	if !ok {
		return errNotFound(name)
	}
	for _, dep := range desc.Dependencies {
		st, ok := m.State(dep)
		switch {
		case !ok:
			return errMissing(name, []string{dep})
		case st == Initialized || st == Disabled:
			if err := m.Enable(ctx, dep); err != nil {
				return errDependencyFailed(name, dep, err)
			}
		case st == Enabled:
		default:
			return errNotReady(name, dep, st)
		}
	}
	return nil
}

// Disable moves an Enabled plugin to Disabled. Every Enabled plugin that
// depends on it is disabled first.
func (m *Manager) Disable(ctx context.Context, name string) error {
	impl, err := m.lookup(name)
	if err != nil {
		return err
	}

	return m.run(ctx, OpDisable, name, func(ctx context.Context) error {
		if err := m.transition(name, Disabling); err != nil {
			return err
		}
		for _, dep := range m.resolver.Dependents(name) {
			if st, _ := m.State(dep); st != Enabled {
				continue
			}
			if err := m.Disable(ctx, dep); err != nil {
				werr := errRuntime(name, OpDisable, err)
				m.fail(name, werr)
				return werr
			}
		}
		if d, ok := impl.(plugin.Disabler); ok {
			if err := m.call(name, OpDisable, func() error { return d.Disable(ctx) }); err != nil {
				m.fail(name, err)
				return err
			}
		}
		return m.transition(name, Disabled)
	})
}

// Unload unloads name and every plugin that depends on it, dependents
// first. Enabled plugins are disabled before they are unloaded. A failing
// teardown is returned, but the plugin still reaches Unloaded.
func (m *Manager) Unload(ctx context.Context, name string) error {
	if _, err := m.lookup(name); err != nil {
		return err
	}

	order := m.resolver.UnloadOrder(name)
	if len(order) == 0 {
		order = []string{name}
	}

	var teardown []error
	for _, n := range order {
		if _, ok := m.State(n); !ok {
			continue
		}
		err := m.unloadOne(ctx, n)
		if err == nil {
			continue
		}
		if st, ok := m.State(n); ok && st != Unloaded {
			// Still loaded; unloading its dependencies would strand it.
			return err
		}
		teardown = append(teardown, err)
	}
	if len(teardown) > 0 {
		return teardown[len(teardown)-1]
	}
	return nil
}

func (m *Manager) unloadOne(ctx context.Context, name string) error {
	impl, err := m.lookup(name)
	if err != nil {
		return err
	}

	var teardownErr error
	err = m.run(ctx, OpUnload, name, func(ctx context.Context) error {
		st, _ := m.State(name)
		if st == Enabled {
			if err := m.Disable(ctx, name); err != nil {
				m.logger.Warn("disable before unload failed", "plugin", name, "error", err)
			}
			st, _ = m.State(name)
		}

		if st == Registered {
			if err := m.transition(name, Unloaded); err != nil {
				return err
			}
		} else {
			if err := m.transition(name, Unloading); err != nil {
				return err
			}
			if u, ok := impl.(plugin.Unloader); ok {
				teardownErr = m.call(name, OpUnload, func() error { return u.Unload(ctx) })
				if teardownErr != nil {
					m.setErr(name, teardownErr)
					errutil.LogError(m.logger, "plugin teardown failed", teardownErr)
				}
			}
			if err := m.transition(name, Unloaded); err != nil {
				return err
			}
		}

		m.resolver.Remove(name)
		m.release(name)
		m.remove(name)
		return nil
	})
	if err != nil {
		return err
	}
	return teardownErr
}

// Recover moves a plugin from Error back to Resolved and clears its error.
// A plugin dropped from the resolver is tracked again; if that would close
// a dependency cycle the plugin stays in Error.
func (m *Manager) Recover(ctx context.Context, name string) error {
	if _, err := m.lookup(name); err != nil {
		return err
	}

	return m.run(ctx, OpRecover, name, func(context.Context) error {
		if st, _ := m.State(name); st != Error {
			return errInvalidTransition(name, st, Resolved)
		}

		m.mu.Lock()
		inst := m.instances[name]
		desc, tracked := inst.desc, inst.tracked
		m.mu.Unlock()

		if !tracked {
			m.resolver.Add(desc)
			if err := m.resolver.CycleFrom(name); err != nil {
				m.resolver.Remove(name)
				err = oops.With("plugin", name).Wrap(err)
				m.setErr(name, err)
				return err
			}
			m.setTracked(name, true)
		}
		return m.transition(name, Resolved)
	})
}

// State returns the current state of name.
func (m *Manager) State(name string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[name]
	if !ok {
		return Unregistered, false
	}
	return inst.state, true
}

// Err returns the last recorded error of name.
func (m *Manager) Err(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[name]; ok {
		return inst.err
	}
	return nil
}

// Plugin returns the implementation registered under name.
func (m *Manager) Plugin(name string) (plugin.Plugin, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[name]
	if !ok {
		return nil, false
	}
	return inst.impl, true
}

// Plugins returns registered plugin names in registration order.
func (m *Manager) Plugins() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.namesLocked()
}

// Snapshot returns the status of every plugin in registration order.
func (m *Manager) Snapshot() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.instances))
	for _, name := range m.namesLocked() {
		inst := m.instances[name]
		out = append(out, Status{
			Name:    name,
			Version: inst.desc.Version,
			State:   inst.state,
			Err:     inst.err,
		})
	}
	return out
}

// Descriptor returns the descriptor registered under name.
func (m *Manager) Descriptor(name string) (plugin.Descriptor, bool) {
	d, ok := m.descriptor(name)
	if !ok {
		return plugin.Descriptor{}, false
	}
	return d.Clone(), true
}

func (m *Manager) namesLocked() []string {
	names := make([]string, 0, len(m.instances))
	for name := range m.instances {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		return cmp.Compare(m.instances[a].seq, m.instances[b].seq)
	})
	return names
}

// run wraps fn with the before and after hooks of op. A before-hook error
// aborts the operation with the state untouched.
func (m *Manager) run(ctx context.Context, op, name string, fn func(context.Context) error) (err error) {
	ctx, span := tracer.Start(ctx, "lifecycle."+op, trace.WithAttributes(
		attribute.String("plugin.name", name),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := m.hooks.CallAsync(ctx, BeforeHook(op), name); err != nil {
		return oops.With("plugin", name).With("operation", op).Wrapf(err, "before %s", op)
	}
	if err := fn(ctx); err != nil {
		return err
	}
	if err := m.hooks.CallAsync(ctx, AfterHook(op), name); err != nil {
		return oops.With("plugin", name).With("operation", op).Wrapf(err, "after %s", op)
	}
	return nil
}

// call runs a plugin routine for op, recovering panics and wrapping
// failures as runtime errors.
func (m *Manager) call(name, op string, fn func() error) error {
	err := errutil.Safely(oops.Code(plugin.CodePanic).With("plugin", name).With("operation", op), fn)
	if err != nil {
		return errRuntime(name, op, err)
	}
	return nil
}

func (m *Manager) checkVacant(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[name]; ok {
		return errDuplicate(name, inst.state)
	}
	return nil
}

func (m *Manager) insert(desc plugin.Descriptor, impl plugin.Plugin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[desc.Name]; ok {
		return errDuplicate(desc.Name, inst.state)
	}
	m.seq++
	m.instances[desc.Name] = &instance{desc: desc, impl: impl, state: Unregistered, seq: m.seq}
	return nil
}

func (m *Manager) remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, name)
}

func (m *Manager) lookup(name string) (plugin.Plugin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[name]
	if !ok {
		return nil, errNotFound(name)
	}
	return inst.impl, nil
}

func (m *Manager) descriptor(name string) (plugin.Descriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[name]
	if !ok {
		return plugin.Descriptor{}, false
	}
	return inst.desc, true
}

func (m *Manager) setTracked(name string, tracked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[name]; ok {
		inst.tracked = tracked
	}
}

func (m *Manager) setErr(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[name]; ok {
		inst.err = err
	}
}

// transition moves name to the given state if the transition table allows
// it. Leaving Error clears the recorded error.
func (m *Manager) transition(name string, to State) error {
	return m.transitionErr(name, to, nil)
}

func (m *Manager) transitionErr(name string, to State, cause error) error {
	m.mu.Lock()
	inst, ok := m.instances[name]
	if !ok {
		m.mu.Unlock()
		return errNotFound(name)
	}
	from := inst.state
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return errInvalidTransition(name, from, to)
	}
	inst.state = to
	switch {
	case to == Error:
		inst.err = cause
	case from == Error:
		inst.err = nil
	}
	observers := m.observers
	m.mu.Unlock()

	t := Transition{Plugin: name, From: from, To: to, Err: cause, At: time.Now()}
	m.logger.Debug("plugin transition", "plugin", name, "from", from.String(), "to", to.String())
	for _, fn := range observers {
		fn(t)
	}
	return nil
}

// fail moves name to Error and records err.
func (m *Manager) fail(name string, err error) {
	if terr := m.transitionErr(name, Error, err); terr != nil {
		m.logger.Warn("could not record plugin failure", "plugin", name, "error", err, "transition_error", terr)
		return
	}
	errutil.LogError(m.logger.With("plugin", name), "plugin failed", err)
}
