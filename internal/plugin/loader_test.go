// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package plugin_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zhangyu-521/my-doc-sub002/internal/config"
	"github.com/zhangyu-521/my-doc-sub002/internal/plugin"
	"github.com/zhangyu-521/my-doc-sub002/internal/plugin/capability"
	pluginlua "github.com/zhangyu-521/my-doc-sub002/internal/plugin/lua"
	"github.com/zhangyu-521/my-doc-sub002/internal/runtime"
	api "github.com/zhangyu-521/my-doc-sub002/pkg/plugin"
)

func mkdirAll(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(path, 0o750))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// writePlugin creates <root>/<dir>/plugin.yaml and main.lua.
func writePlugin(t *testing.T, root, dir, manifest, script string) {
	t.Helper()
	pdir := filepath.Join(root, dir)
	mkdirAll(t, pdir)
	writeFile(t, filepath.Join(pdir, plugin.ManifestFile), manifest)
	if script != "" {
		writeFile(t, filepath.Join(pdir, "main.lua"), script)
	}
}

func luaManifest(name string, extra string) string {
	return "name: " + name + "\nversion: 1.0.0\ntype: lua\n" + extra + "lua-plugin:\n  entry: main.lua\n"
}

// stubPlugin is what fakeHost builds.
type stubPlugin struct{ desc api.Descriptor }

func (p *stubPlugin) Descriptor() api.Descriptor { return p.desc }
func (p *stubPlugin) Initialize(context.Context, api.Context) error { return nil }

// fakeHost builds stub plugins and fails for names listed in failures.
type fakeHost struct {
	failures map[string]error
}

func (h *fakeHost) Type() plugin.Type { return plugin.TypeLua }

func (h *fakeHost) Build(_ context.Context, m *plugin.Manifest, _ string) (api.Plugin, error) {
	if err := h.failures[m.Name]; err != nil {
		return nil, err
	}
	return &stubPlugin{desc: m.Descriptor()}, nil
}

// mockRegistrar records registrations.
type mockRegistrar struct {
	mock.Mock
}

func (m *mockRegistrar) Register(ctx context.Context, p api.Plugin) error {
	args := m.Called(ctx, p.Descriptor().Name)
	return args.Error(0)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestLoader_Discover(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "b-echo", luaManifest("echo", ""), "")
	writePlugin(t, root, "a-tally", luaManifest("tally", "dependencies: [echo]\n"), "")
	writePlugin(t, root, "broken", "name: Broken\n", "")
	writePlugin(t, root, "dup", luaManifest("echo", ""), "")
	mkdirAll(t, filepath.Join(root, "no-manifest"))
	writeFile(t, filepath.Join(root, "README.md"), "not a plugin")

	var logs bytes.Buffer
	loader := plugin.NewLoader(root, plugin.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	found, err := loader.Discover(context.Background())
	require.NoError(t, err)

	require.Len(t, found, 2)
	assert.Equal(t, "tally", found[0].Manifest.Name)
	assert.Equal(t, filepath.Join(root, "a-tally"), found[0].Dir)
	assert.Equal(t, "echo", found[1].Manifest.Name)
	assert.Contains(t, logs.String(), "skipping plugin")

	_, problems, err := loader.Check(context.Background())
	require.NoError(t, err)
	assert.Len(t, problems, 3)
	assert.Contains(t, problems, "broken")
	assert.Contains(t, problems, "no-manifest")
	require.Contains(t, problems, "dup")
	assert.Contains(t, problems["dup"].Error(), "already declared in b-echo")
}

func TestLoader_Discover_MissingDirectory(t *testing.T) {
	found, err := plugin.NewLoader(filepath.Join(t.TempDir(), "absent")).Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestLoader_Discover_UnreadableDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	writeFile(t, file, "x")

	_, err := plugin.NewLoader(file).Discover(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read plugins directory")
}

func TestLoader_Discover_Cancelled(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "echo", luaManifest("echo", ""), "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := plugin.NewLoader(root).Discover(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOrder(t *testing.T) {
	mk := func(name string, deps ...string) *plugin.DiscoveredPlugin {
		return &plugin.DiscoveredPlugin{Manifest: &plugin.Manifest{Name: name, Version: "1.0.0", Dependencies: deps}}
	}
	names := func(dps []*plugin.DiscoveredPlugin) []string {
		out := make([]string, len(dps))
		for i, dp := range dps {
			out[i] = dp.Manifest.Name
		}
		return out
	}

	ordered, err := plugin.Order([]*plugin.DiscoveredPlugin{mk("api", "cache"), mk("cache", "db"), mk("db"), mk("solo")})
	require.NoError(t, err)
	assert.Equal(t, []string{"db", "cache", "api", "solo"}, names(ordered))

	cyclic := []*plugin.DiscoveredPlugin{mk("a", "b"), mk("b", "a")}
	ordered, err = plugin.Order(cyclic)
	assert.ErrorIs(t, err, api.ErrCircularDependency)
	assert.Equal(t, []string{"a", "b"}, names(ordered))
}

func TestLoader_LoadAll(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "api", luaManifest("api", "dependencies: [db]\n"), "")
	writePlugin(t, root, "db", luaManifest("db", ""), "")
	writePlugin(t, root, "flaky", luaManifest("flaky", ""), "")
	writePlugin(t, root, "rejected", luaManifest("rejected", ""), "")

	reg := &mockRegistrar{}
	reg.On("Register", mock.Anything, "db").Return(nil).Once()
	reg.On("Register", mock.Anything, "api").Return(nil).Once()
	reg.On("Register", mock.Anything, "rejected").Return(api.ErrMissingDependency).Once()

	host := &fakeHost{failures: map[string]error{"flaky": errors.New("compile failed")}}
	loader := plugin.NewLoader(root, plugin.WithHost(host), plugin.WithLogger(discardLogger()))

	result, err := loader.LoadAll(context.Background(), reg)
	require.NoError(t, err)

	assert.Equal(t, []string{"db", "api"}, result.Loaded)
	require.Len(t, result.Failed, 2)
	assert.Contains(t, result.Failed["flaky"].Error(), "compile failed")
	assert.ErrorIs(t, result.Failed["rejected"], api.ErrMissingDependency)
	reg.AssertExpectations(t)
}

func TestLoader_LoadAll_NoHostForType(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "echo", luaManifest("echo", ""), "")

	reg := &mockRegistrar{}
	result, err := plugin.NewLoader(root, plugin.WithLogger(discardLogger())).LoadAll(context.Background(), reg)
	require.NoError(t, err)

	assert.Empty(t, result.Loaded)
	require.Contains(t, result.Failed, "echo")
	assert.Contains(t, result.Failed["echo"].Error(), `no host for plugin type "lua"`)
	reg.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
}

func TestLoader_LoadAll_IntoRuntime(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writePlugin(t, root, "echo", luaManifest("echo", "capabilities: [events.emit.chat.echo]\n"), `
function on_initialize()
  runtime.subscribe("chat.say", function(ev)
    runtime.emit("chat.echo", ev.payload)
  end)
end
`)
	writePlugin(t, root, "tally", luaManifest("tally", "dependencies: [echo]\ncapabilities: [store.read.tally, store.write.tally]\n"), `
function on_initialize()
  runtime.subscribe("chat.echo", function(ev)
    runtime.set("tally", "count", (runtime.get("tally", "count") or 0) + 1)
  end)
end
`)

	cfg := config.Default()
	cfg.Runtime.StoreSweepInterval = 0
	rt, err := runtime.New(runtime.WithConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	loader := plugin.NewLoader(root,
		plugin.WithHost(pluginlua.NewHost(capability.NewEnforcer())),
		plugin.WithLogger(discardLogger()))
	result, err := loader.LoadAll(ctx, rt)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "tally"}, result.Loaded)
	assert.Empty(t, result.Failed)

	report, err := rt.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	rt.Emit(ctx, "chat.say", "hello")
	rt.Emit(ctx, "chat.say", "again")

	count, ok := rt.Context("observer").Get("tally", "count")
	require.True(t, ok)
	assert.Equal(t, int64(2), count)
}
