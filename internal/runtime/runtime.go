// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

// Package runtime composes the hook engine, dependency resolver, lifecycle
// manager and communication bus into one plugin runtime.
package runtime

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/zhangyu-521/my-doc-sub002/internal/bus"
	"github.com/zhangyu-521/my-doc-sub002/internal/config"
	"github.com/zhangyu-521/my-doc-sub002/internal/hook"
	"github.com/zhangyu-521/my-doc-sub002/internal/lifecycle"
	"github.com/zhangyu-521/my-doc-sub002/internal/observability"
	"github.com/zhangyu-521/my-doc-sub002/internal/resolver"
	"github.com/zhangyu-521/my-doc-sub002/pkg/errutil"
	"github.com/zhangyu-521/my-doc-sub002/pkg/plugin"
)

// Hooks created by every runtime.
const (
	// HookStartup is an async hook called by Start before any plugin is
	// initialized.
	HookStartup = "startup"
	// HookShutdown is an async hook called by Shutdown after plugins are
	// disabled and before they are unloaded.
	HookShutdown = "shutdown"
	// HookError is a sync hook called with (plugin name, error) whenever a
	// plugin enters the Error state.
	HookError = "error"
)

// Owner owns hooks, taps and subscriptions made by the embedding
// application through the Runtime itself.
const Owner = "runtime"

// LifecycleTopicPrefix prefixes the bus topic of republished transitions;
// the suffix is the new state, e.g. "lifecycle.enabled".
const LifecycleTopicPrefix = "lifecycle."

// Runtime is a self-contained plugin runtime. It holds no global state;
// several runtimes may coexist in one process.
type Runtime struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	reg     prometheus.Registerer

	hooks     *hook.Engine
	resolver  *resolver.Resolver
	lifecycle *lifecycle.Manager
	bus       *bus.Bus
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithConfig sets the runtime configuration. Only the runtime section is
// consulted.
func WithConfig(cfg config.Config) Option {
	return func(r *Runtime) {
		r.cfg = cfg
	}
}

// WithLogger sets the runtime logger, shared with every component.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics records runtime activity on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runtime) {
		r.metrics = m
	}
}

// WithRegisterer creates runtime metrics registered with reg. It is
// ignored when WithMetrics is also given.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Runtime) {
		r.reg = reg
	}
}

// New builds a runtime.
func New(opts ...Option) (*Runtime, error) {
	r := &Runtime{
		cfg:    config.Default(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil && r.reg != nil {
		r.metrics = observability.NewMetrics(r.reg)
	}

	hookOpts := []hook.Option{hook.WithLogger(r.logger.With("component", "hook"))}
	if r.metrics != nil {
		hookOpts = append(hookOpts, hook.WithCallObserver(r.metrics.ObserveHookCall))
	}
	r.hooks = hook.New(hookOpts...)
	r.resolver = resolver.New()

	busOpts := []bus.Option{
		bus.WithLogger(r.logger.With("component", "bus")),
		bus.WithHooks(r.hooks),
		bus.WithHistoryLimit(r.cfg.Runtime.QueueHistory),
	}
	if r.metrics != nil {
		busOpts = append(busOpts, bus.WithObserver(r.metrics))
	}
	b, err := bus.New(busOpts...)
	if err != nil {
		return nil, oops.In("runtime").Wrapf(err, "create bus")
	}
	r.bus = b

	mgr, err := lifecycle.New(r.resolver, r.hooks,
		lifecycle.WithLogger(r.logger.With("component", "lifecycle")),
		lifecycle.WithContextFactory(r.Context),
		lifecycle.WithCleanup(r.release),
		lifecycle.WithTransitionObserver(r.onTransition),
		lifecycle.WithRetry(r.cfg.Runtime.RetryAttempts, r.cfg.Runtime.RetryBaseDelay),
	)
	if err != nil {
		return nil, oops.In("runtime").Wrapf(err, "create lifecycle manager")
	}
	r.lifecycle = mgr

	for _, h := range []struct {
		name string
		kind plugin.HookKind
	}{
		{HookStartup, plugin.HookAsync},
		{HookShutdown, plugin.HookAsync},
		{HookError, plugin.HookSync},
	} {
		if err := r.hooks.CreateHook(h.name, h.kind, Owner); err != nil {
			return nil, oops.In("runtime").Wrapf(err, "create %s hook", h.name)
		}
	}
	return r, nil
}

// Register adds p to the runtime and resolves its dependencies.
func (r *Runtime) Register(ctx context.Context, p plugin.Plugin) error {
	return r.lifecycle.Register(ctx, p)
}

// Initialize initializes name, and its dependencies first.
func (r *Runtime) Initialize(ctx context.Context, name string) error {
	return r.lifecycle.Initialize(ctx, name)
}

// Enable enables name, and its dependencies first.
func (r *Runtime) Enable(ctx context.Context, name string) error {
	return r.lifecycle.Enable(ctx, name)
}

// Disable disables name after every enabled plugin depending on it.
func (r *Runtime) Disable(ctx context.Context, name string) error {
	return r.lifecycle.Disable(ctx, name)
}

// Unload unloads name and everything depending on it.
func (r *Runtime) Unload(ctx context.Context, name string) error {
	return r.lifecycle.Unload(ctx, name)
}

// Recover moves a failed plugin back to Resolved.
func (r *Runtime) Recover(ctx context.Context, name string) error {
	return r.lifecycle.Recover(ctx, name)
}

// InitializeAll initializes every eligible plugin in load order.
func (r *Runtime) InitializeAll(ctx context.Context) (lifecycle.Report, error) {
	return r.lifecycle.InitializeAll(ctx)
}

// EnableAll enables every eligible plugin in load order.
func (r *Runtime) EnableAll(ctx context.Context) (lifecycle.Report, error) {
	return r.lifecycle.EnableAll(ctx)
}

// DisableAll disables every enabled plugin in reverse load order.
func (r *Runtime) DisableAll(ctx context.Context) (lifecycle.Report, error) {
	return r.lifecycle.DisableAll(ctx)
}

// Retry recovers a failed plugin and brings it back to Enabled.
func (r *Runtime) Retry(ctx context.Context, name string) error {
	if err := r.lifecycle.Recover(ctx, name); err != nil {
		return err
	}
	if err := r.lifecycle.Initialize(ctx, name); err != nil {
		return err
	}
	return r.lifecycle.Enable(ctx, name)
}

// LoadOrder returns the tracked plugins, dependencies first.
func (r *Runtime) LoadOrder() ([]string, error) {
	return r.resolver.LoadOrder()
}

// Start calls the startup hook, then initializes and enables every plugin.
// A startup hook failure aborts Start; plugin failures are reported per
// plugin and leave the rest running.
func (r *Runtime) Start(ctx context.Context) (lifecycle.Report, error) {
	if every := r.cfg.Runtime.StoreSweepInterval; every > 0 {
		if err := r.bus.StartSweeper(every); err != nil {
			r.logger.Warn("store sweeper not started", "error", err)
		}
	}

	if err := r.callTimed(ctx, HookStartup); err != nil {
		return lifecycle.Report{}, oops.In("runtime").With("hook", HookStartup).Wrapf(err, "startup hook")
	}

	report, err := r.lifecycle.InitializeAll(ctx)
	if err != nil {
		return report, err
	}
	enabled, err := r.lifecycle.EnableAll(ctx)
	report = report.Merge(enabled)
	if err != nil {
		return report, err
	}

	r.logger.Info("runtime started",
		"plugins", len(r.lifecycle.Plugins()),
		"failed", len(report.Failed()))
	return report, nil
}

// Shutdown disables every plugin, calls the shutdown hook, then unloads
// every plugin in reverse load order and stops background work. It always
// runs to completion; the returned error joins the hook error, if any.
func (r *Runtime) Shutdown(ctx context.Context) (lifecycle.Report, error) {
	var errs []error

	report, err := r.lifecycle.DisableAll(ctx)
	if err != nil {
		errs = append(errs, err)
	}

	if err := r.callTimed(ctx, HookShutdown); err != nil {
		errutil.LogError(r.logger, "shutdown hook failed", err)
		errs = append(errs, oops.In("runtime").With("hook", HookShutdown).Wrapf(err, "shutdown hook"))
	}

	for _, name := range r.unloadOrder() {
		if _, ok := r.lifecycle.State(name); !ok {
			continue
		}
		err := r.lifecycle.Unload(ctx, name)
		st, still := r.lifecycle.State(name)
		if !still {
			st = lifecycle.Unloaded
		}
		report.Outcomes = append(report.Outcomes, lifecycle.Outcome{
			Plugin: name,
			Action: lifecycle.OpUnload,
			State:  st,
			Err:    err,
		})
	}

	r.bus.Close()
	r.logger.Info("runtime stopped", "failed", len(report.Failed()))
	return report, errors.Join(errs...)
}

// Close stops background work without touching plugins.
func (r *Runtime) Close() {
	r.bus.Close()
}

// unloadOrder is the reverse load order of tracked plugins followed by
// untracked ones in reverse registration order.
func (r *Runtime) unloadOrder() []string {
	order, err := r.resolver.LoadOrder()
	if err != nil {
		r.logger.Warn("load order unavailable, unloading in registration order", "error", err)
		order = nil
	}
	slices.Reverse(order)

	all := r.lifecycle.Plugins()
	slices.Reverse(all)
	for _, name := range all {
		if !slices.Contains(order, name) {
			order = append(order, name)
		}
	}
	return order
}

func (r *Runtime) callTimed(ctx context.Context, name string) error {
	if d := r.cfg.Runtime.AsyncHookTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return r.hooks.CallAsync(ctx, name)
}

// release drops everything an unloaded plugin owned on the bus.
func (r *Runtime) release(name string) {
	r.bus.RemoveOwner(context.Background(), name)
}

// onTransition republishes a state change on the bus, records it and
// routes failures to the error hook.
func (r *Runtime) onTransition(t lifecycle.Transition) {
	ctx := context.Background()
	if r.metrics != nil {
		r.metrics.RecordTransition(t.From.String(), t.To.String())
		r.refreshStateGauge()
	}

	r.bus.Emit(ctx, bus.RuntimeSource, LifecycleTopicPrefix+t.To.String(), t)

	if t.To == lifecycle.Error {
		if err := r.hooks.Call(ctx, HookError, t.Plugin, t.Err); err != nil {
			errutil.LogError(r.logger.With("plugin", t.Plugin), "error hook failed", err)
		}
	}
}

func (r *Runtime) refreshStateGauge() {
	states := lifecycle.States()
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = s.String()
	}
	counts := make(map[string]int)
	for _, s := range r.lifecycle.Snapshot() {
		counts[s.State.String()]++
	}
	r.metrics.SetPluginStates(names, counts)
}

// Hooks exposes the hook engine, mainly for tooling and tests.
func (r *Runtime) Hooks() []hook.Info {
	return r.hooks.Hooks()
}

// CreateHook creates a hook owned by the embedding application.
func (r *Runtime) CreateHook(name string, kind plugin.HookKind) error {
	return r.hooks.CreateHook(name, kind, Owner)
}

// Tap attaches a callback owned by the embedding application.
func (r *Runtime) Tap(name string, cb plugin.Callback, opts ...plugin.TapOption) (func(), error) {
	return r.hooks.Tap(name, Owner, cb, opts...)
}

// Call runs a sync hook.
func (r *Runtime) Call(ctx context.Context, name string, args ...any) error {
	return r.hooks.Call(ctx, name, args...)
}

// CallAsync runs an async hook.
func (r *Runtime) CallAsync(ctx context.Context, name string, args ...any) error {
	return r.hooks.CallAsync(ctx, name, args...)
}

// CallWaterfall runs a waterfall hook.
func (r *Runtime) CallWaterfall(ctx context.Context, name string, initial any, args ...any) (any, error) {
	return r.hooks.CallWaterfall(ctx, name, initial, args...)
}

// CallBail runs a bail hook.
func (r *Runtime) CallBail(ctx context.Context, name string, args ...any) (any, error) {
	return r.hooks.CallBail(ctx, name, args...)
}

// Emit publishes an event from the embedding application.
func (r *Runtime) Emit(ctx context.Context, topic string, payload any) int {
	return r.bus.Emit(ctx, Owner, topic, payload)
}

// Subscribe registers an event handler owned by the embedding application.
func (r *Runtime) Subscribe(pattern string, handler plugin.EventHandler) (func(), error) {
	return r.bus.Subscribe(Owner, pattern, handler)
}

// Consume looks up a provided service.
func (r *Runtime) Consume(name string) (any, bool) {
	return r.bus.Consume(name)
}

// Services lists provided services.
func (r *Runtime) Services() []bus.ServiceInfo {
	return r.bus.Services()
}

// Bus returns the communication bus, for host integrations such as script
// engines that need owner-scoped access beyond plugin.Context.
func (r *Runtime) Bus() *bus.Bus {
	return r.bus
}
