// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

// Package hook implements named, typed extension points that plugins tap
// callbacks into.
package hook

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zhangyu-521/my-doc-sub002/pkg/errutil"
	"github.com/zhangyu-521/my-doc-sub002/pkg/plugin"
)

var tracer = otel.Tracer("plugrt/hook")

// Info describes a hook.
type Info struct {
	Name  string
	Kind  plugin.HookKind
	Owner string
	Taps  int
}

// CallObserver is notified after every hook call.
type CallObserver func(name string, kind plugin.HookKind, elapsed time.Duration, err error)

type tap struct {
	id       uint64
	owner    string
	cb       plugin.Callback
	priority int
	once     bool
}

type hook struct {
	name  string
	kind  plugin.HookKind
	owner string
	taps  []*tap // kept sorted: priority desc, then id asc
}

// Engine owns the set of hooks. The zero value is not usable; call New.
type Engine struct {
	mu       sync.Mutex
	hooks    map[string]*hook
	nextID   uint64
	logger   *slog.Logger
	observer CallObserver
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithCallObserver registers fn to be told about every hook call.
func WithCallObserver(fn CallObserver) Option {
	return func(e *Engine) {
		e.observer = fn
	}
}

// New creates an empty engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		hooks:  make(map[string]*hook),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateHook registers a new hook owned by owner.
func (e *Engine) CreateHook(name string, kind plugin.HookKind, owner string) error {
	if name == "" {
		return oops.Code(plugin.CodeHookNotFound).Wrapf(plugin.ErrHookNotFound, "hook name cannot be empty")
	}
	if !kind.Valid() {
		return oops.Code(plugin.CodeKindMismatch).With("hook", name).
			Wrapf(plugin.ErrKindMismatch, "unknown hook kind %d", kind)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.hooks[name]; ok {
		return oops.Code(plugin.CodeDuplicateHook).
			With("hook", name).
			With("owner", existing.owner).
			Wrapf(plugin.ErrDuplicateHook, "hook %q", name)
	}
	e.hooks[name] = &hook{name: name, kind: kind, owner: owner}
	e.logger.Debug("hook created", "hook", name, "kind", kind.String(), "owner", owner)
	return nil
}

// Tap attaches cb to the named hook. The callback's kind must match the
// hook's kind. The returned untap function is idempotent.
func (e *Engine) Tap(name, owner string, cb plugin.Callback, opts ...plugin.TapOption) (func(), error) {
	if cb == nil {
		return nil, oops.Code(plugin.CodeKindMismatch).With("hook", name).
			Wrapf(plugin.ErrKindMismatch, "nil callback")
	}
	o := plugin.ApplyTapOptions(opts...)

	e.mu.Lock()
	defer e.mu.Unlock()

	h, err := e.lookupLocked(name, cb.HookKind())
	if err != nil {
		return nil, err
	}

	e.nextID++
	t := &tap{id: e.nextID, owner: owner, cb: cb, priority: o.Priority, once: o.Once}
	idx := sort.Search(len(h.taps), func(i int) bool {
		return h.taps[i].priority < t.priority
	})
	h.taps = append(h.taps, nil)
	copy(h.taps[idx+1:], h.taps[idx:])
	h.taps[idx] = t

	var once sync.Once
	return func() {
		once.Do(func() { e.detach(name, t.id) })
	}, nil
}

// Has reports whether a hook with the given name exists.
func (e *Engine) Has(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.hooks[name]
	return ok
}

// Hooks returns every hook sorted by name.
func (e *Engine) Hooks() []Info {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Info, 0, len(e.hooks))
	for _, h := range e.hooks {
		out = append(out, Info{Name: h.name, Kind: h.kind, Owner: h.owner, Taps: len(h.taps)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RemoveOwner drops every tap registered by owner and every hook it created.
// It returns the number of taps removed.
func (e *Engine) RemoveOwner(owner string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for name, h := range e.hooks {
		if h.owner == owner {
			removed += len(h.taps)
			delete(e.hooks, name)
			continue
		}
		kept := h.taps[:0]
		for _, t := range h.taps {
			if t.owner == owner {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		clear(h.taps[len(kept):])
		h.taps = kept
	}
	return removed
}

// Call dispatches a sync hook.
func (e *Engine) Call(ctx context.Context, name string, args ...any) (err error) {
	ctx, finish := e.begin(ctx, name, plugin.HookSync)
	defer func() { finish(err) }()

	taps, err := e.snapshot(name, plugin.HookSync)
	if err != nil {
		return err
	}
	for _, t := range taps {
		if !e.claim(name, t) {
			continue
		}
		fn := t.cb.(plugin.SyncFunc)
		if err := e.invoke(name, t, func() error { return fn(ctx, args...) }); err != nil {
			return err
		}
	}
	return nil
}

// CallAsync dispatches an async hook. Callbacks run one after another,
// each awaited before the next starts. When ctx is done the caller stops
// waiting and gets ctx.Err(); a callback already running is left to finish.
func (e *Engine) CallAsync(ctx context.Context, name string, args ...any) (err error) {
	ctx, finish := e.begin(ctx, name, plugin.HookAsync)
	defer func() { finish(err) }()

	taps, err := e.snapshot(name, plugin.HookAsync)
	if err != nil {
		return err
	}
	for _, t := range taps {
		if err := ctx.Err(); err != nil {
			return e.abandoned(name, err)
		}
		if !e.claim(name, t) {
			continue
		}
		fn := t.cb.(plugin.AsyncFunc)
		done := make(chan error, 1)
		go func() {
			done <- e.invoke(name, t, func() error { return fn(ctx, args...) })
		}()
		select {
		case err := <-done:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return e.abandoned(name, ctx.Err())
		}
	}
	return nil
}

// CallWaterfall dispatches a waterfall hook. Each non-nil callback result
// replaces the accumulated value; the final value is returned.
func (e *Engine) CallWaterfall(ctx context.Context, name string, initial any, args ...any) (result any, err error) {
	ctx, finish := e.begin(ctx, name, plugin.HookWaterfall)
	defer func() { finish(err) }()

	taps, err := e.snapshot(name, plugin.HookWaterfall)
	if err != nil {
		return nil, err
	}
	value := initial
	for _, t := range taps {
		if !e.claim(name, t) {
			continue
		}
		fn := t.cb.(plugin.WaterfallFunc)
		var out any
		if err := e.invoke(name, t, func() (err error) {
			out, err = fn(ctx, value, args...)
			return err
		}); err != nil {
			return nil, err
		}
		if out != nil {
			value = out
		}
	}
	return value, nil
}

// CallBail dispatches a bail hook. The first non-nil result ends the call;
// nil is returned when no callback produced one.
func (e *Engine) CallBail(ctx context.Context, name string, args ...any) (result any, err error) {
	ctx, finish := e.begin(ctx, name, plugin.HookBail)
	defer func() { finish(err) }()

	taps, err := e.snapshot(name, plugin.HookBail)
	if err != nil {
		return nil, err
	}
	for _, t := range taps {
		if !e.claim(name, t) {
			continue
		}
		fn := t.cb.(plugin.BailFunc)
		var out any
		if err := e.invoke(name, t, func() (err error) {
			out, err = fn(ctx, args...)
			return err
		}); err != nil {
			return nil, err
		}
		if out != nil {
			return out, nil
		}
	}
	return nil, nil
}

func (e *Engine) lookupLocked(name string, kind plugin.HookKind) (*hook, error) {
	h, ok := e.hooks[name]
	if !ok {
		return nil, oops.Code(plugin.CodeHookNotFound).
			With("hook", name).
			Wrapf(plugin.ErrHookNotFound, "hook %q", name)
	}
	if h.kind != kind {
		return nil, oops.Code(plugin.CodeKindMismatch).
			With("hook", name).
			With("hook_kind", h.kind.String()).
			With("requested_kind", kind.String()).
			Wrapf(plugin.ErrKindMismatch, "hook %q is %s, not %s", name, h.kind, kind)
	}
	return h, nil
}

// snapshot copies the current taps so callbacks run without the lock held.
func (e *Engine) snapshot(name string, kind plugin.HookKind) ([]*tap, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, err := e.lookupLocked(name, kind)
	if err != nil {
		return nil, err
	}
	return append([]*tap(nil), h.taps...), nil
}

// claim reports whether t may run. Once taps are detached here so that
// they fire a single time even when calls overlap.
func (e *Engine) claim(name string, t *tap) bool {
	if !t.once {
		return true
	}
	return e.detach(name, t.id)
}

func (e *Engine) detach(name string, id uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.hooks[name]
	if !ok {
		return false
	}
	for i, t := range h.taps {
		if t.id == id {
			h.taps = append(h.taps[:i], h.taps[i+1:]...)
			return true
		}
	}
	return false
}

func (e *Engine) invoke(name string, t *tap, fn func() error) error {
	errb := oops.Code(plugin.CodeHookFailed).With("hook", name).With("owner", t.owner)
	err := errutil.Safely(oops.Code(plugin.CodePanic).With("hook", name).With("owner", t.owner), fn)
	if err != nil {
		return errb.Wrapf(err, "hook %q callback from %q", name, t.owner)
	}
	return nil
}

func (e *Engine) abandoned(name string, err error) error {
	return oops.Code(plugin.CodeHookFailed).With("hook", name).Wrapf(err, "async hook %q abandoned", name)
}

func (e *Engine) begin(ctx context.Context, name string, kind plugin.HookKind) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "hook.call", trace.WithAttributes(
		attribute.String("hook.name", name),
		attribute.String("hook.kind", kind.String()),
	))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if e.observer != nil {
			e.observer(name, kind, time.Since(start), err)
		}
	}
}
