// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package plugin

import (
	"context"
	"log/slog"
	"time"
)

// Info is a view of a registered plugin. Plugin is the live
// implementation; peers type-assert it to the API they expect, typically
// once it is enabled.
type Info struct {
	Descriptor Descriptor
	State      string
	Err        error
	Plugin     Plugin
}

// Context is the runtime surface handed to a plugin's Initialize.
//
// Everything a plugin creates through its Context (hooks, taps,
// subscriptions, services, watchers, queue handlers) is owned by that
// plugin and released when it is unloaded.
type Context interface {
	// PluginName returns the name of the plugin this context belongs to.
	PluginName() string
	// Logger returns a logger scoped to the plugin.
	Logger() *slog.Logger

	CreateHook(name string, kind HookKind) error
	Tap(name string, cb Callback, opts ...TapOption) (untap func(), err error)
	Call(ctx context.Context, name string, args ...any) error
	CallAsync(ctx context.Context, name string, args ...any) error
	CallWaterfall(ctx context.Context, name string, initial any, args ...any) (any, error)
	CallBail(ctx context.Context, name string, args ...any) (any, error)

	// Emit publishes an event and returns the number of handlers reached.
	Emit(ctx context.Context, topic string, payload any) int
	Subscribe(pattern string, handler EventHandler) (unsubscribe func(), err error)

	Provide(name string, capability any)
	Revoke(name string) bool
	Consume(name string) (any, bool)

	// Set stores a shared value. A zero ttl never expires.
	Set(namespace, key string, value any, ttl time.Duration) bool
	Get(namespace, key string) (any, bool)
	Delete(namespace, key string) bool
	Watch(namespace, key string, fn WatchFunc) (unwatch func())

	Enqueue(ctx context.Context, topic string, payload any) Message
	SubscribeQueue(topic string, handler MessageHandler) (unsubscribe func())
	History(topic string, limit int) []Message

	GetPlugin(name string) (Info, bool)
	GetAllPlugins() []Info
}
