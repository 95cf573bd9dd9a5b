// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

// Package hostfunc exposes the runtime to Lua plugins as the global
// table "runtime".
//
// Store, event and queue functions are gated by capability grants:
//
//	runtime.emit(topic, payload)          events.emit.<topic>
//	runtime.get(ns, key)                  store.read.<ns>
//	runtime.set(ns, key, value[, ttl])    store.write.<ns>
//	runtime.enqueue(topic, payload)       queue.enqueue.<topic>
//
// runtime.log, runtime.new_id, runtime.subscribe and
// runtime.consume_string need no grant.
//
//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package hostfunc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/zhangyu-521/my-doc-sub002/internal/plugin/capability"
	api "github.com/zhangyu-521/my-doc-sub002/pkg/plugin"
)

// GlobalName is the name of the host table inside Lua states.
const GlobalName = "runtime"

// Invoker serializes access to a plugin's Lua state. Event handlers
// registered through runtime.subscribe run inside Invoke.
type Invoker interface {
	Invoke(ctx context.Context, fn func(L *lua.LState) error) error
}

// Functions provides host functions to Lua plugins.
type Functions struct {
	enforcer *capability.Enforcer
}

// New creates host functions checked against enforcer.
// Panics if enforcer is nil.
func New(enforcer *capability.Enforcer) *Functions {
	if enforcer == nil {
		panic("hostfunc.New: enforcer cannot be nil")
	}
	return &Functions{enforcer: enforcer}
}

// Register installs the runtime table into L for the plugin behind pc.
func (f *Functions) Register(L *lua.LState, pc api.Context, inv Invoker) {
	name := pc.PluginName()
	mod := L.NewTable()

	L.SetField(mod, "log", L.NewFunction(f.logFn(pc)))
	L.SetField(mod, "new_id", L.NewFunction(newIDFn))
	L.SetField(mod, "subscribe", L.NewFunction(f.subscribeFn(pc, inv)))
	L.SetField(mod, "consume_string", L.NewFunction(f.consumeStringFn(pc)))

	L.SetField(mod, "emit", L.NewFunction(f.gate(name, capability.EventsEmit, f.emitFn(pc))))
	L.SetField(mod, "get", L.NewFunction(f.gate(name, capability.StoreRead, f.getFn(pc))))
	L.SetField(mod, "set", L.NewFunction(f.gate(name, capability.StoreWrite, f.setFn(pc))))
	L.SetField(mod, "enqueue", L.NewFunction(f.gate(name, capability.QueueEnqueue, f.enqueueFn(pc))))

	L.SetGlobal(GlobalName, mod)
}

// gate checks prefix plus the function's first argument before running fn.
// A denied call raises a Lua error.
func (f *Functions) gate(plugin, prefix string, fn lua.LGFunction) lua.LGFunction {
	return func(L *lua.LState) int {
		target := L.CheckString(1)
		if err := f.enforcer.Require(plugin, prefix+target); err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		return fn(L)
	}
}

func (f *Functions) logFn(pc api.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		level := L.CheckString(1)
		message := L.CheckString(2)

		var attrs []any
		if fields, ok := L.Get(3).(*lua.LTable); ok {
			m, _ := FromLua(fields).(map[string]any)
			for _, k := range sortedKeys(m) {
				attrs = append(attrs, k, m[k])
			}
		}

		var lvl slog.Level
		switch level {
		case "debug":
			lvl = slog.LevelDebug
		case "info":
			lvl = slog.LevelInfo
		case "warn":
			lvl = slog.LevelWarn
		case "error":
			lvl = slog.LevelError
		default:
			L.ArgError(1, fmt.Sprintf("invalid log level %q: use debug, info, warn or error", level))
			return 0
		}
		pc.Logger().Log(contextOf(L), lvl, message, attrs...)
		return 0
	}
}

func newIDFn(L *lua.LState) int {
	L.Push(lua.LString(ulid.Make().String()))
	return 1
}

func (f *Functions) emitFn(pc api.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		topic := L.CheckString(1)
		n := pc.Emit(contextOf(L), topic, FromLua(L.Get(2)))
		L.Push(lua.LNumber(n))
		return 1
	}
}

func (f *Functions) subscribeFn(pc api.Context, inv Invoker) lua.LGFunction {
	return func(L *lua.LState) int {
		pattern := L.CheckString(1)
		fn := L.CheckFunction(2)

		_, err := pc.Subscribe(pattern, func(ctx context.Context, ev api.Event) error {
			return inv.Invoke(ctx, func(L *lua.LState) error {
				return L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, eventTable(L, ev))
			})
		})
		if err != nil {
			return pushError(L, err.Error())
		}
		return pushSuccess(L, lua.LTrue)
	}
}

func (f *Functions) getFn(pc api.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		ns := L.CheckString(1)
		key := L.CheckString(2)
		v, ok := pc.Get(ns, key)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(ToLua(L, v))
		return 1
	}
}

func (f *Functions) setFn(pc api.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		ns := L.CheckString(1)
		key := L.CheckString(2)
		value := FromLua(L.CheckAny(3))
		ttl := time.Duration(float64(L.OptNumber(4, 0)) * float64(time.Second))
		if ttl < 0 {
			L.ArgError(4, "ttl must not be negative")
			return 0
		}
		L.Push(lua.LBool(pc.Set(ns, key, value, ttl)))
		return 1
	}
}

func (f *Functions) enqueueFn(pc api.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		topic := L.CheckString(1)
		msg := pc.Enqueue(contextOf(L), topic, FromLua(L.Get(2)))
		L.Push(lua.LString(msg.ID))
		return 1
	}
}

// consumeStringFn returns a provided service as a string. Services that
// are strings, func() string or fmt.Stringer qualify; anything else is nil.
func (f *Functions) consumeStringFn(pc api.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		v, ok := pc.Consume(L.CheckString(1))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		switch s := v.(type) {
		case string:
			L.Push(lua.LString(s))
		case func() string:
			L.Push(lua.LString(s()))
		case fmt.Stringer:
			L.Push(lua.LString(s.String()))
		default:
			L.Push(lua.LNil)
		}
		return 1
	}
}

func eventTable(L *lua.LState, ev api.Event) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "id", lua.LString(ev.ID))
	L.SetField(t, "topic", lua.LString(ev.Topic))
	L.SetField(t, "source", lua.LString(ev.Source))
	L.SetField(t, "timestamp", lua.LNumber(ev.Timestamp.UnixMilli()))
	L.SetField(t, "payload", ToLua(L, ev.Payload))
	return t
}
