// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package plugin

import "context"

// HookKind selects how a hook dispatches to its callbacks.
type HookKind uint8

// Hook kinds.
const (
	// HookSync runs every callback in order on the calling goroutine.
	HookSync HookKind = iota + 1
	// HookAsync runs callbacks one after another, awaiting each.
	HookAsync
	// HookWaterfall threads each callback's result into the next.
	HookWaterfall
	// HookBail stops at the first callback that returns a value.
	HookBail
)

// String returns the string representation of a HookKind.
// Unrecognized kinds return "unknown".
func (k HookKind) String() string {
	switch k {
	case HookSync:
		return "sync"
	case HookAsync:
		return "async"
	case HookWaterfall:
		return "waterfall"
	case HookBail:
		return "bail"
	default:
		return "unknown"
	}
}

// Valid reports whether k is one of the defined kinds.
func (k HookKind) Valid() bool {
	return k >= HookSync && k <= HookBail
}

// Callback is a hook callback. Only the four function types below
// implement it; the hook engine rejects a callback whose kind differs
// from the hook's kind when it is tapped.
type Callback interface {
	HookKind() HookKind
	callback()
}

// SyncFunc is a callback for HookSync hooks.
type SyncFunc func(ctx context.Context, args ...any) error

// AsyncFunc is a callback for HookAsync hooks. It may block; the caller
// awaits it before the next callback starts.
type AsyncFunc func(ctx context.Context, args ...any) error

// WaterfallFunc is a callback for HookWaterfall hooks. It receives the
// accumulated value; returning nil passes that value through unchanged.
type WaterfallFunc func(ctx context.Context, value any, args ...any) (any, error)

// BailFunc is a callback for HookBail hooks. A non-nil result ends the call.
type BailFunc func(ctx context.Context, args ...any) (any, error)

// HookKind implements Callback.
func (SyncFunc) HookKind() HookKind { return HookSync }

// HookKind implements Callback.
func (AsyncFunc) HookKind() HookKind { return HookAsync }

// HookKind implements Callback.
func (WaterfallFunc) HookKind() HookKind { return HookWaterfall }

// HookKind implements Callback.
func (BailFunc) HookKind() HookKind { return HookBail }

func (SyncFunc) callback()      {}
func (AsyncFunc) callback()     {}
func (WaterfallFunc) callback() {}
func (BailFunc) callback()      {}

// TapOptions holds the resolved options of a tap.
type TapOptions struct {
	Priority int
	Once     bool
}

// TapOption configures a tap.
type TapOption func(*TapOptions)

// WithPriority sets the tap priority. Higher priorities run first;
// equal priorities run in registration order.
func WithPriority(priority int) TapOption {
	return func(o *TapOptions) {
		o.Priority = priority
	}
}

// Once detaches the callback after its first invocation.
func Once() TapOption {
	return func(o *TapOptions) {
		o.Once = true
	}
}

// ApplyTapOptions resolves opts into TapOptions.
func ApplyTapOptions(opts ...TapOption) TapOptions {
	var o TapOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
