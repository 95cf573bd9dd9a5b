// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package lua

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	plugins "github.com/zhangyu-521/my-doc-sub002/internal/plugin"
	"github.com/zhangyu-521/my-doc-sub002/internal/plugin/capability"
	"github.com/zhangyu-521/my-doc-sub002/internal/plugin/hostfunc"
	api "github.com/zhangyu-521/my-doc-sub002/pkg/plugin"
)

// Lifecycle functions a script may define as globals.
const (
	FuncInitialize = "on_initialize"
	FuncEnable     = "on_enable"
	FuncDisable    = "on_disable"
	FuncUnload     = "on_unload"
)

var (
	_ api.Plugin       = (*Plugin)(nil)
	_ api.Enabler      = (*Plugin)(nil)
	_ api.Disabler     = (*Plugin)(nil)
	_ api.Unloader     = (*Plugin)(nil)
	_ hostfunc.Invoker = (*Plugin)(nil)
)

// Plugin is a runtime plugin backed by one Lua state. The state is
// created by Initialize and closed by Unload; every entry into it is
// serialized.
type Plugin struct {
	manifest *plugins.Manifest
	proto    *lua.FunctionProto
	funcs    *hostfunc.Functions
	enforcer *capability.Enforcer

	mu sync.Mutex
	L  *lua.LState
}

// session marks a context as already holding a plugin's state lock, so
// that events a script emits can be delivered back to the same script.
type session struct {
	active atomic.Bool
}

type sessionKey struct{ p *Plugin }

// Descriptor returns the descriptor declared by the manifest.
func (p *Plugin) Descriptor() api.Descriptor {
	return p.manifest.Descriptor()
}

// Manifest returns the plugin's manifest.
func (p *Plugin) Manifest() *plugins.Manifest { return p.manifest }

// Initialize creates a fresh sandbox, grants the manifest capabilities,
// runs the script's top level and then on_initialize. A previous state
// left by a failed attempt is discarded first.
func (p *Plugin) Initialize(ctx context.Context, pc api.Context) error {
	errb := oops.In("lua").With("plugin", p.manifest.Name).With("operation", "initialize")

	if err := p.enforcer.Grant(p.manifest.Name, p.manifest.Capabilities); err != nil {
		return errb.Wrapf(err, "grant capabilities")
	}

	p.mu.Lock()
	if p.L != nil {
		p.L.Close()
		p.L = nil
	}
	L, err := NewSandbox(ctx, SafeLibraries()) //nolint:gocritic // L is the idiomatic name for lua.LState
	if err != nil {
		p.mu.Unlock()
		return errb.Wrap(err)
	}
	p.funcs.Register(L, pc, p)
	p.L = L
	p.mu.Unlock()

	err = p.Invoke(ctx, func(L *lua.LState) error {
		L.Push(L.NewFunctionFromProto(p.proto))
		return L.PCall(0, 0, nil)
	})
	if err != nil {
		return errb.Hint("script top level failed").Wrap(err)
	}
	return p.call(ctx, FuncInitialize)
}

// Enable runs on_enable.
func (p *Plugin) Enable(ctx context.Context) error {
	return p.call(ctx, FuncEnable)
}

// Disable runs on_disable.
func (p *Plugin) Disable(ctx context.Context) error {
	return p.call(ctx, FuncDisable)
}

// Unload runs on_unload, then closes the state and revokes the plugin's
// capabilities. The state is closed even when on_unload fails.
func (p *Plugin) Unload(ctx context.Context) error {
	var err error
	if p.initialized() {
		err = p.call(ctx, FuncUnload)
	}

	p.mu.Lock()
	if p.L != nil {
		p.L.Close()
		p.L = nil
	}
	p.mu.Unlock()
	p.enforcer.Revoke(p.manifest.Name)
	return err
}

func (p *Plugin) initialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.L != nil
}

// call runs the named global function if the script defines one.
func (p *Plugin) call(ctx context.Context, name string) error {
	err := p.Invoke(ctx, func(L *lua.LState) error {
		fn, ok := L.GetGlobal(name).(*lua.LFunction)
		if !ok {
			return nil
		}
		return L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true})
	})
	if err != nil {
		return oops.In("lua").
			With("plugin", p.manifest.Name).
			With("function", name).
			Wrapf(err, "%s failed", name)
	}
	return nil
}

// Invoke runs fn with exclusive access to the plugin's state and ctx
// installed as the state's context. Calls made while the lock is held,
// carrying the context Invoke passed down, re-enter without locking.
func (p *Plugin) Invoke(ctx context.Context, fn func(L *lua.LState) error) error {
	key := sessionKey{p}
	if s, ok := ctx.Value(key).(*session); ok && s.active.Load() {
		return p.run(ctx, fn)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	s := &session{}
	s.active.Store(true)
	defer s.active.Store(false)
	return p.run(context.WithValue(ctx, key, s), fn)
}

// run requires the state lock to be held by the caller's session.
func (p *Plugin) run(ctx context.Context, fn func(L *lua.LState) error) error {
	L := p.L //nolint:gocritic // L is the idiomatic name for lua.LState
	if L == nil {
		return oops.In("lua").With("plugin", p.manifest.Name).Errorf("plugin state is not initialized")
	}

	prev := L.Context()
	L.SetContext(ctx)
	defer func() {
		if prev != nil {
			L.SetContext(prev)
		} else {
			L.RemoveContext()
		}
	}()
	return fn(L)
}
