// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package runtime_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zhangyu-521/my-doc-sub002/internal/config"
	"github.com/zhangyu-521/my-doc-sub002/internal/lifecycle"
	"github.com/zhangyu-521/my-doc-sub002/internal/observability"
	"github.com/zhangyu-521/my-doc-sub002/internal/runtime"
	"github.com/zhangyu-521/my-doc-sub002/pkg/errutil"
	"github.com/zhangyu-521/my-doc-sub002/pkg/plugin"
)

// testPlugin is a configurable plugin double.
type testPlugin struct {
	desc     plugin.Descriptor
	init     func(ctx context.Context, pc plugin.Context) error
	mu       sync.Mutex
	journal  *[]string
	pc       plugin.Context
	failInit int
}

func newPlugin(name string, deps ...string) *testPlugin {
	return &testPlugin{desc: plugin.Descriptor{Name: name, Version: "1.0.0", Dependencies: deps}}
}

func (p *testPlugin) Descriptor() plugin.Descriptor { return p.desc }

func (p *testPlugin) Initialize(ctx context.Context, pc plugin.Context) error {
	p.mu.Lock()
	p.pc = pc
	fail := p.failInit > 0
	if fail {
		p.failInit--
	}
	p.mu.Unlock()
	p.record("init")
	if fail {
		return errors.New("not yet")
	}
	if p.init != nil {
		return p.init(ctx, pc)
	}
	return nil
}

func (p *testPlugin) Enable(context.Context) error {
	p.record("enable")
	return nil
}

func (p *testPlugin) Disable(context.Context) error {
	p.record("disable")
	return nil
}

func (p *testPlugin) Unload(context.Context) error {
	p.record("unload")
	return nil
}

func (p *testPlugin) record(what string) {
	if p.journal != nil {
		*p.journal = append(*p.journal, p.desc.Name+":"+what)
	}
}

// greeterPlugin exposes an API beyond the plugin contract.
type greeterPlugin struct {
	*testPlugin
}

func (g *greeterPlugin) Greet(name string) string { return "hello, " + name }

func newRuntime(t *testing.T, opts ...runtime.Option) *runtime.Runtime {
	t.Helper()
	cfg := config.Default()
	cfg.Runtime.RetryBaseDelay = time.Millisecond
	cfg.Runtime.StoreSweepInterval = 0
	rt, err := runtime.New(append([]runtime.Option{runtime.WithConfig(cfg)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt
}

func TestNew_CreatesRuntimeHooks(t *testing.T) {
	rt := newRuntime(t)

	kinds := map[string]plugin.HookKind{}
	for _, h := range rt.Hooks() {
		kinds[h.Name] = h.Kind
	}
	assert.Equal(t, plugin.HookAsync, kinds[runtime.HookStartup])
	assert.Equal(t, plugin.HookAsync, kinds[runtime.HookShutdown])
	assert.Equal(t, plugin.HookSync, kinds[runtime.HookError])
	assert.Equal(t, plugin.HookAsync, kinds[lifecycle.BeforeHook(lifecycle.OpEnable)])
	assert.Equal(t, plugin.HookWaterfall, kinds["bus.emit"])
}

func TestNew_RuntimesAreIndependent(t *testing.T) {
	a := newRuntime(t)
	b := newRuntime(t)

	require.NoError(t, a.Register(context.Background(), newPlugin("solo")))
	_, ok := b.GetPlugin("solo")
	assert.False(t, ok)
}

func TestStartAndShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	var journal []string
	rt := newRuntime(t)
	ctx := context.Background()

	var hooks []string
	_, err := rt.Tap(runtime.HookStartup, plugin.AsyncFunc(func(context.Context, ...any) error {
		hooks = append(hooks, "startup")
		return nil
	}))
	require.NoError(t, err)
	_, err = rt.Tap(runtime.HookShutdown, plugin.AsyncFunc(func(context.Context, ...any) error {
		hooks = append(hooks, "shutdown")
		return nil
	}))
	require.NoError(t, err)

	for _, p := range []*testPlugin{newPlugin("app", "cache"), newPlugin("db"), newPlugin("cache", "db")} {
		p.journal = &journal
		require.NoError(t, rt.Register(ctx, p))
	}

	report, err := rt.Start(ctx)
	require.NoError(t, err)
	assert.NoError(t, report.Err())
	assert.Equal(t, []string{
		"db:init", "cache:init", "app:init",
		"db:enable", "cache:enable", "app:enable",
	}, journal)

	st := rt.Status()
	assert.True(t, st.Healthy)
	assert.Equal(t, 3, st.Counts["enabled"])

	journal = nil
	report, err = rt.Shutdown(ctx)
	require.NoError(t, err)
	assert.NoError(t, report.Err())
	assert.Equal(t, []string{
		"app:disable", "cache:disable", "db:disable",
		"app:unload", "cache:unload", "db:unload",
	}, journal)
	assert.Equal(t, []string{"startup", "shutdown"}, hooks)
	assert.Empty(t, rt.GetAllPlugins())

	var unloaded []string
	for _, o := range report.Outcomes {
		if o.Action == lifecycle.OpUnload {
			unloaded = append(unloaded, o.Plugin)
			assert.Equal(t, lifecycle.Unloaded, o.State)
		}
	}
	assert.Equal(t, []string{"app", "cache", "db"}, unloaded)
}

func TestStart_StartupHookFailureAborts(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()
	p := newPlugin("p")
	var journal []string
	p.journal = &journal
	require.NoError(t, rt.Register(ctx, p))

	_, _ = rt.Tap(runtime.HookStartup, plugin.AsyncFunc(func(context.Context, ...any) error {
		return errors.New("not today")
	}))

	_, err := rt.Start(ctx)
	require.Error(t, err)
	assert.Empty(t, journal)
}

func TestStart_PluginFailureIsIsolated(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	broken := newPlugin("broken")
	broken.init = func(context.Context, plugin.Context) error { return errors.New("bad config") }
	require.NoError(t, rt.Register(ctx, broken))
	require.NoError(t, rt.Register(ctx, newPlugin("fine")))

	var errorHook []string
	_, _ = rt.Tap(runtime.HookError, plugin.SyncFunc(func(_ context.Context, args ...any) error {
		errorHook = append(errorHook, args[0].(string))
		assert.ErrorIs(t, args[1].(error), plugin.ErrPluginInit)
		return nil
	}))

	report, err := rt.Start(ctx)
	require.NoError(t, err)
	require.Len(t, report.Failed(), 2, "initialize and enable both fail for broken")

	st := rt.Status()
	assert.False(t, st.Healthy)
	assert.Equal(t, 1, st.Counts["error"])
	assert.Equal(t, 1, st.Counts["enabled"])
	for _, ps := range st.Plugins {
		if ps.Name == "broken" {
			assert.Contains(t, ps.Error, "bad config")
		}
	}
	// One Error transition per initialize attempt.
	assert.Equal(t, []string{"broken", "broken", "broken"}, errorHook)

	_, err = rt.Shutdown(ctx)
	require.NoError(t, err)
}

func TestRetry(t *testing.T) {
	rt := newRuntime(t, runtime.WithConfig(func() config.Config {
		cfg := config.Default()
		cfg.Runtime.RetryAttempts = 1
		cfg.Runtime.StoreSweepInterval = 0
		return cfg
	}()))
	ctx := context.Background()

	p := newPlugin("flaky")
	p.failInit = 1
	require.NoError(t, rt.Register(ctx, p))
	require.Error(t, rt.Initialize(ctx, "flaky"))

	require.NoError(t, rt.Retry(ctx, "flaky"))
	info, ok := rt.GetPlugin("flaky")
	require.True(t, ok)
	assert.Equal(t, "enabled", info.State)
	assert.NoError(t, info.Err)

	err := rt.Retry(ctx, "flaky")
	errutil.AssertSentinel(t, err, plugin.ErrInvalidTransition, plugin.CodeInvalidTransition)
}

func TestLifecycleEventsOnBus(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	var topics []string
	_, err := rt.Subscribe("lifecycle.*", func(_ context.Context, ev plugin.Event) error {
		tr := ev.Payload.(lifecycle.Transition)
		assert.Equal(t, "p", tr.Plugin)
		assert.Equal(t, runtime.LifecycleTopicPrefix+tr.To.String(), ev.Topic)
		topics = append(topics, ev.Topic)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, rt.Register(ctx, newPlugin("p")))
	// Enable requires Initialized.
	require.ErrorIs(t, rt.Enable(ctx, "p"), plugin.ErrInvalidTransition)
	assert.Equal(t, []string{"lifecycle.registered", "lifecycle.resolving", "lifecycle.resolved"}, topics)

	require.NoError(t, rt.Initialize(ctx, "p"))
	require.NoError(t, rt.Enable(ctx, "p"))
	assert.Equal(t, []string{
		"lifecycle.registered", "lifecycle.resolving", "lifecycle.resolved",
		"lifecycle.initializing", "lifecycle.initialized",
		"lifecycle.enabling", "lifecycle.enabled",
	}, topics)
}

func TestPluginContext_OwnershipReleasedOnUnload(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	eventCalls := 0
	provider := newPlugin("provider")
	provider.init = func(_ context.Context, pc plugin.Context) error {
		assert.Equal(t, "provider", pc.PluginName())
		pc.Provide("greeter", "hello")
		if err := pc.CreateHook("provider.render", plugin.HookWaterfall); err != nil {
			return err
		}
		_, err := pc.Subscribe("ping", func(context.Context, plugin.Event) error {
			eventCalls++
			return nil
		})
		return err
	}
	consumer := newPlugin("consumer", "provider")
	consumer.init = func(_ context.Context, pc plugin.Context) error {
		v, ok := pc.Consume("greeter")
		if !ok || v != "hello" {
			return errors.New("greeter missing")
		}
		_, err := pc.Tap("provider.render", plugin.WaterfallFunc(func(_ context.Context, v any, _ ...any) (any, error) {
			return v.(string) + "!", nil
		}))
		return err
	}
	require.NoError(t, rt.Register(ctx, provider))
	require.NoError(t, rt.Register(ctx, consumer))
	_, err := rt.Start(ctx)
	require.NoError(t, err)

	out, err := rt.CallWaterfall(ctx, "provider.render", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi!", out)
	assert.Equal(t, 1, rt.Emit(ctx, "ping", nil))

	require.NoError(t, rt.Unload(ctx, "provider"))
	_, ok := rt.GetPlugin("consumer")
	assert.False(t, ok, "dependents are unloaded too")

	_, ok = rt.Consume("greeter")
	assert.False(t, ok)
	assert.Zero(t, rt.Emit(ctx, "ping", nil))
	_, err = rt.CallWaterfall(ctx, "provider.render", "hi")
	assert.ErrorIs(t, err, plugin.ErrHookNotFound)
	assert.Equal(t, 1, eventCalls)
}

func TestInitializeRetry_DropsFailedAttemptRegistrations(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	attempts, pings, jobs := 0, 0, 0
	p := newPlugin("flaky")
	p.init = func(_ context.Context, pc plugin.Context) error {
		attempts++
		if _, err := pc.Subscribe("ping", func(context.Context, plugin.Event) error {
			pings++
			return nil
		}); err != nil {
			return err
		}
		pc.SubscribeQueue("jobs", func(context.Context, plugin.Message) error {
			jobs++
			return nil
		})
		pc.Provide("flaky.version", attempts)
		if err := pc.CreateHook("flaky.ready", plugin.HookSync); err != nil {
			return err
		}
		if attempts == 1 {
			return errors.New("warming up")
		}
		return nil
	}
	require.NoError(t, rt.Register(ctx, p))

	report, err := rt.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	require.Equal(t, 2, attempts)

	assert.Equal(t, 1, rt.Emit(ctx, "ping", nil))
	assert.Equal(t, 1, pings, "one delivery per emit after a retried initialize")

	rt.Context("producer").Enqueue(ctx, "jobs", "work")
	assert.Equal(t, 1, jobs)

	v, ok := rt.Consume("flaky.version")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestGetPlugin_ReachesPeerAPI(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	provider := &greeterPlugin{testPlugin: newPlugin("greeter")}
	app := newPlugin("app", "greeter")
	require.NoError(t, rt.Register(ctx, provider))
	require.NoError(t, rt.Register(ctx, app))
	_, err := rt.Start(ctx)
	require.NoError(t, err)

	info, ok := app.pc.GetPlugin("greeter")
	require.True(t, ok)
	assert.Equal(t, "enabled", info.State)
	g, ok := info.Plugin.(interface{ Greet(string) string })
	require.True(t, ok, "peer implementation is reachable through GetPlugin")
	assert.Equal(t, "hello, app", g.Greet("app"))

	var found bool
	for _, pi := range app.pc.GetAllPlugins() {
		if pi.Descriptor.Name == "greeter" {
			found = pi.Plugin == plugin.Plugin(provider)
		}
	}
	assert.True(t, found)
}

func TestPluginContext_StoreAndQueue(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()
	p := newPlugin("p")
	require.NoError(t, rt.Register(ctx, p))
	require.NoError(t, rt.Initialize(ctx, "p"))

	pc := p.pc
	require.NotNil(t, pc)
	require.NotNil(t, pc.Logger())

	var changes []plugin.Change
	pc.Watch("settings", "mode", func(c plugin.Change) { changes = append(changes, c) })
	assert.True(t, pc.Set("settings", "mode", "fast", 0))
	v, ok := pc.Get("settings", "mode")
	assert.True(t, ok)
	assert.Equal(t, "fast", v)
	assert.True(t, pc.Delete("settings", "mode"))
	assert.Len(t, changes, 2)

	var got []plugin.Message
	pc.SubscribeQueue("jobs", func(_ context.Context, m plugin.Message) error {
		got = append(got, m)
		return nil
	})
	msg := pc.Enqueue(ctx, "jobs", 1)
	assert.Equal(t, "p", msg.Source)
	require.Len(t, got, 1)
	assert.Equal(t, []plugin.Message{msg}, pc.History("jobs", 0))

	info, ok := pc.GetPlugin("p")
	require.True(t, ok)
	assert.Equal(t, "initialized", info.State)
	assert.Equal(t, "1.0.0", info.Descriptor.Version)
	assert.Len(t, pc.GetAllPlugins(), 1)

	pc.Provide("svc", 1)
	assert.True(t, pc.Revoke("svc"))
}

func TestMetricsWiring(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	rt := newRuntime(t, runtime.WithMetrics(m))
	ctx := context.Background()

	require.NoError(t, rt.Register(ctx, newPlugin("p")))
	_, err := rt.Start(ctx)
	require.NoError(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Transitions.WithLabelValues("initialized", "enabling")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PluginStates.WithLabelValues("enabled")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.PluginStates.WithLabelValues("resolved")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.HookCalls.WithLabelValues(runtime.HookStartup, "async", observability.StatusSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.EventsEmitted.WithLabelValues("lifecycle.enabled")), 0)
}

func TestWithRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	rt := newRuntime(t, runtime.WithRegisterer(reg))
	require.NoError(t, rt.Register(context.Background(), newPlugin("p")))

	n, err := testutil.GatherAndCount(reg, "plugrt_lifecycle_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestShutdown_UnloadsUntrackedPlugins(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	require.NoError(t, rt.Register(ctx, newPlugin("a", "b")))
	require.NoError(t, rt.Register(ctx, newPlugin("b", "c")))
	err := rt.Register(ctx, newPlugin("c", "a"))
	require.ErrorIs(t, err, plugin.ErrCircularDependency)
	assert.False(t, rt.Status().Healthy)

	_, err = rt.Shutdown(ctx)
	require.NoError(t, err)
	assert.Empty(t, rt.GetAllPlugins())
}

func TestStart_SweeperStoppedByShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := config.Default()
	cfg.Runtime.StoreSweepInterval = time.Millisecond
	rt, err := runtime.New(runtime.WithConfig(cfg))
	require.NoError(t, err)

	_, err = rt.Start(context.Background())
	require.NoError(t, err)
	_, err = rt.Shutdown(context.Background())
	require.NoError(t, err)
}
