// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

// Package bus carries communication between plugins: topic events, a
// service registry, a shared key/value store and an ordered message queue.
//
// One mutex guards all bus state. Plugin callbacks never run while it is
// held, so handlers may call back into the bus.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/zhangyu-521/my-doc-sub002/internal/hook"
	"github.com/zhangyu-521/my-doc-sub002/pkg/errutil"
	"github.com/zhangyu-521/my-doc-sub002/pkg/plugin"
)

// HookEmit is the waterfall hook every emitted event passes through when
// the bus is built with WithHooks. A callback may return a modified
// plugin.Event; an error drops the event.
const HookEmit = "bus.emit"

// HookOwner owns the hooks the bus creates.
const HookOwner = "bus"

// DefaultHistoryLimit is the per-topic number of queued messages retained.
const DefaultHistoryLimit = 100

// Observer receives bus activity counts, typically for metrics.
type Observer interface {
	EventEmitted(topic string, delivered int)
	HandlerFailed(kind string)
	MessageEnqueued(topic string, delivered int)
}

// Bus is the communication layer shared by all plugins of a runtime.
type Bus struct {
	mu     sync.Mutex
	nextID uint64

	subs      []*subscription
	services  map[string]service
	store     map[string]map[string]entry
	watchers  map[watchKey][]*watcher
	queueSubs map[string][]*queueSub
	history   map[string][]plugin.Message
	pending   []delivery
	draining  bool

	historyLimit int
	hooks        *hook.Engine
	logger       *slog.Logger
	onError      func(error)
	observer     Observer
	now          func() time.Time

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithErrorHandler registers fn to receive every isolated handler failure.
func WithErrorHandler(fn func(error)) Option {
	return func(b *Bus) {
		b.onError = fn
	}
}

// WithObserver registers an activity observer.
func WithObserver(o Observer) Option {
	return func(b *Bus) {
		b.observer = o
	}
}

// WithHistoryLimit sets how many messages are retained per queue topic.
func WithHistoryLimit(n int) Option {
	return func(b *Bus) {
		if n >= 0 {
			b.historyLimit = n
		}
	}
}

// WithHooks makes emitted events pass through the HookEmit waterfall hook,
// which is created on engine.
func WithHooks(engine *hook.Engine) Option {
	return func(b *Bus) {
		b.hooks = engine
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a bus.
func New(opts ...Option) (*Bus, error) {
	b := &Bus{
		services:     make(map[string]service),
		store:        make(map[string]map[string]entry),
		watchers:     make(map[watchKey][]*watcher),
		queueSubs:    make(map[string][]*queueSub),
		history:      make(map[string][]plugin.Message),
		historyLimit: DefaultHistoryLimit,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.hooks != nil {
		if err := b.hooks.CreateHook(HookEmit, plugin.HookWaterfall, HookOwner); err != nil {
			return nil, oops.In("bus").Wrapf(err, "create emit hook")
		}
	}
	return b, nil
}

// RemoveOwner drops every subscription, service, watcher and queue handler
// registered by owner. Services it provided are revoked with an event.
func (b *Bus) RemoveOwner(ctx context.Context, owner string) {
	b.mu.Lock()
	b.subs = without(b.subs, func(s *subscription) bool { return s.owner == owner })
	for key, ws := range b.watchers {
		ws = without(ws, func(w *watcher) bool { return w.owner == owner })
		if len(ws) == 0 {
			delete(b.watchers, key)
		} else {
			b.watchers[key] = ws
		}
	}
	for topic, qs := range b.queueSubs {
		qs = without(qs, func(q *queueSub) bool { return q.owner == owner })
		if len(qs) == 0 {
			delete(b.queueSubs, topic)
		} else {
			b.queueSubs[topic] = qs
		}
	}
	var revoked []string
	for name, svc := range b.services {
		if svc.provider == owner {
			revoked = append(revoked, name)
		}
	}
	b.mu.Unlock()

	for _, name := range revoked {
		b.revoke(ctx, name, owner)
	}
}

// Close stops the sweeper, if running. The bus remains usable.
func (b *Bus) Close() {
	b.mu.Lock()
	stop, done := b.sweepStop, b.sweepDone
	b.sweepStop, b.sweepDone = nil, nil
	b.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// report logs an isolated handler failure and forwards it.
func (b *Bus) report(kind string, err error) {
	errutil.LogError(b.logger, "bus handler failed", err)
	if b.observer != nil {
		b.observer.HandlerFailed(kind)
	}
	if b.onError != nil {
		b.onError(err)
	}
}

// safely runs a plugin handler, turning errors and panics into a
// ErrHandlerFailed error carrying kind and owner.
func (b *Bus) safely(kind, owner, topic string, fn func() error) error {
	err := errutil.Safely(oops.Code(plugin.CodePanic).With("owner", owner), fn)
	if err == nil {
		return nil
	}
	return oops.In("bus").
		Code(plugin.CodeHandlerFailed).
		With("kind", kind).
		With("owner", owner).
		With("topic", topic).
		Wrapf(fmt.Errorf("%w: %w", plugin.ErrHandlerFailed, err), "%s handler of %q", kind, owner)
}

func (b *Bus) id() uint64 {
	b.nextID++
	return b.nextID
}

func without[T any](s []T, drop func(T) bool) []T {
	out := s[:0:0]
	for _, v := range s {
		if !drop(v) {
			out = append(out, v)
		}
	}
	return out
}
