// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/zhangyu-521/my-doc-sub002/pkg/plugin"
)

// pluginContext is the plugin.Context of one plugin. Everything it
// registers is owned by that plugin.
type pluginContext struct {
	name   string
	rt     *Runtime
	logger *slog.Logger
}

var _ plugin.Context = (*pluginContext)(nil)

// Context returns the plugin.Context for name. It is handed to the
// plugin's Initialize; plugins may keep it for their whole life.
func (r *Runtime) Context(name string) plugin.Context {
	return &pluginContext{
		name:   name,
		rt:     r,
		logger: r.logger.With("plugin", name),
	}
}

func (c *pluginContext) PluginName() string   { return c.name }
func (c *pluginContext) Logger() *slog.Logger { return c.logger }

func (c *pluginContext) CreateHook(name string, kind plugin.HookKind) error {
	return c.rt.hooks.CreateHook(name, kind, c.name)
}

func (c *pluginContext) Tap(name string, cb plugin.Callback, opts ...plugin.TapOption) (func(), error) {
	return c.rt.hooks.Tap(name, c.name, cb, opts...)
}

func (c *pluginContext) Call(ctx context.Context, name string, args ...any) error {
	return c.rt.hooks.Call(ctx, name, args...)
}

func (c *pluginContext) CallAsync(ctx context.Context, name string, args ...any) error {
	return c.rt.hooks.CallAsync(ctx, name, args...)
}

func (c *pluginContext) CallWaterfall(ctx context.Context, name string, initial any, args ...any) (any, error) {
	return c.rt.hooks.CallWaterfall(ctx, name, initial, args...)
}

func (c *pluginContext) CallBail(ctx context.Context, name string, args ...any) (any, error) {
	return c.rt.hooks.CallBail(ctx, name, args...)
}

func (c *pluginContext) Emit(ctx context.Context, topic string, payload any) int {
	return c.rt.bus.Emit(ctx, c.name, topic, payload)
}

func (c *pluginContext) Subscribe(pattern string, handler plugin.EventHandler) (func(), error) {
	return c.rt.bus.Subscribe(c.name, pattern, handler)
}

func (c *pluginContext) Provide(name string, capability any) {
	c.rt.bus.Provide(context.Background(), c.name, name, capability)
}

// Revoke removes a service regardless of which plugin provided it.
func (c *pluginContext) Revoke(name string) bool {
	return c.rt.bus.Revoke(context.Background(), name)
}

func (c *pluginContext) Consume(name string) (any, bool) {
	return c.rt.bus.Consume(name)
}

func (c *pluginContext) Set(namespace, key string, value any, ttl time.Duration) bool {
	return c.rt.bus.Set(namespace, key, value, ttl)
}

func (c *pluginContext) Get(namespace, key string) (any, bool) {
	return c.rt.bus.Get(namespace, key)
}

func (c *pluginContext) Delete(namespace, key string) bool {
	return c.rt.bus.Delete(namespace, key)
}

func (c *pluginContext) Watch(namespace, key string, fn plugin.WatchFunc) func() {
	return c.rt.bus.Watch(c.name, namespace, key, fn)
}

func (c *pluginContext) Enqueue(ctx context.Context, topic string, payload any) plugin.Message {
	return c.rt.bus.Enqueue(ctx, c.name, topic, payload)
}

func (c *pluginContext) SubscribeQueue(topic string, handler plugin.MessageHandler) func() {
	return c.rt.bus.SubscribeQueue(c.name, topic, handler)
}

func (c *pluginContext) History(topic string, limit int) []plugin.Message {
	return c.rt.bus.History(topic, limit)
}

func (c *pluginContext) GetPlugin(name string) (plugin.Info, bool) {
	return c.rt.GetPlugin(name)
}

func (c *pluginContext) GetAllPlugins() []plugin.Info {
	return c.rt.GetAllPlugins()
}
