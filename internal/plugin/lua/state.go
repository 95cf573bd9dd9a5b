// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

// Package lua runs plugins written in Lua inside sandboxed states.
package lua

import (
	"context"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

// Library is a Lua library opened in a sandbox.
type Library struct {
	Name string
	Open lua.LGFunction
}

// SafeLibraries returns the libraries opened by default: base, table,
// string and math. os, io, debug, package and channel stay closed.
func SafeLibraries() []Library {
	return []Library{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// blockedGlobals are base library functions that load code from files
// or strings.
var blockedGlobals = []string{"dofile", "loadfile", "loadstring", "load"}

// NewSandbox creates a Lua state with only libs opened and the blocked
// base functions removed. ctx bounds execution in the state until it is
// replaced with SetContext.
func NewSandbox(ctx context.Context, libs []Library) (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true}) //nolint:gocritic // L is the idiomatic name for lua.LState

	for _, lib := range libs {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.Open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.Name)); err != nil {
			L.Close()
			return nil, oops.In("lua").With("library", lib.Name).Wrapf(err, "open library")
		}
	}

	for _, fn := range blockedGlobals {
		L.SetGlobal(fn, lua.LNil)
	}

	L.SetContext(ctx)
	return L, nil
}
