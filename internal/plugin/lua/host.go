// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package lua

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	plugins "github.com/zhangyu-521/my-doc-sub002/internal/plugin"
	"github.com/zhangyu-521/my-doc-sub002/internal/plugin/capability"
	"github.com/zhangyu-521/my-doc-sub002/internal/plugin/hostfunc"
	api "github.com/zhangyu-521/my-doc-sub002/pkg/plugin"
)

var _ plugins.Host = (*Host)(nil)

// Host builds Lua plugins from manifests.
type Host struct {
	enforcer *capability.Enforcer
	funcs    *hostfunc.Functions
}

// NewHost creates a Lua host whose plugins are checked against enforcer.
// Panics if enforcer is nil.
func NewHost(enforcer *capability.Enforcer) *Host {
	return &Host{
		enforcer: enforcer,
		funcs:    hostfunc.New(enforcer),
	}
}

// Type returns plugins.TypeLua.
func (h *Host) Type() plugins.Type { return plugins.TypeLua }

// Build reads the manifest's entry script from dir and compiles it.
// The entry path must stay inside dir.
func (h *Host) Build(_ context.Context, manifest *plugins.Manifest, dir string) (api.Plugin, error) {
	errb := oops.In("lua").With("plugin", manifest.Name).With("operation", "build")
	if manifest.LuaPlugin == nil {
		return nil, errb.Errorf("manifest has no lua-plugin section")
	}

	entry := manifest.LuaPlugin.Entry
	if !filepath.IsLocal(entry) {
		return nil, errb.With("entry", entry).Errorf("entry %q escapes the plugin directory", entry)
	}
	path := filepath.Join(dir, entry)
	code, err := os.ReadFile(path) //nolint:gosec // path is confined to the plugin directory
	if err != nil {
		return nil, errb.With("path", path).Hint("failed to read entry file").Wrap(err)
	}
	p, err := h.Compile(manifest, string(code))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Compile builds a plugin from source. Syntax errors are reported here;
// the script does not run until the plugin is initialized.
func (h *Host) Compile(manifest *plugins.Manifest, source string) (*Plugin, error) {
	errb := oops.In("lua").With("plugin", manifest.Name).With("operation", "compile")

	name := manifest.Name
	if manifest.LuaPlugin != nil {
		name = manifest.LuaPlugin.Entry
	}
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, errb.Hint("syntax error").Wrap(err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, errb.Wrap(err)
	}

	return &Plugin{
		manifest: manifest,
		proto:    proto,
		funcs:    h.funcs,
		enforcer: h.enforcer,
	}, nil
}
