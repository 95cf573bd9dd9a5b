// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package bus

import (
	"context"
	"sort"

	"github.com/zhangyu-521/my-doc-sub002/pkg/plugin"
)

// RuntimeSource is the event source used for events the bus publishes itself.
const RuntimeSource = "runtime"

type service struct {
	provider   string
	capability any
}

// ServiceInfo describes a provided service.
type ServiceInfo struct {
	Name     string
	Provider string
}

// Provide registers capability under name. An existing provider is
// replaced and a service.replaced event published; otherwise
// service.provided is published.
func (b *Bus) Provide(ctx context.Context, provider, name string, capability any) {
	b.mu.Lock()
	old, replaced := b.services[name]
	b.services[name] = service{provider: provider, capability: capability}
	b.mu.Unlock()

	change := plugin.ServiceChange{Name: name, Provider: provider}
	topic := plugin.TopicServiceProvided
	if replaced {
		change.OldProvider = old.provider
		topic = plugin.TopicServiceReplaced
		b.logger.Info("service replaced", "service", name, "provider", provider, "old_provider", old.provider)
	}
	b.Emit(ctx, RuntimeSource, topic, change)
}

// Revoke removes a service and publishes service.revoked. It reports
// whether the service existed.
func (b *Bus) Revoke(ctx context.Context, name string) bool {
	return b.revoke(ctx, name, "")
}

// revoke removes name; when provider is set it only removes the service
// if that provider still owns it.
func (b *Bus) revoke(ctx context.Context, name, provider string) bool {
	b.mu.Lock()
	svc, ok := b.services[name]
	if !ok || (provider != "" && svc.provider != provider) {
		b.mu.Unlock()
		return false
	}
	delete(b.services, name)
	b.mu.Unlock()

	b.Emit(ctx, RuntimeSource, plugin.TopicServiceRevoked, plugin.ServiceChange{Name: name, Provider: svc.provider})
	return true
}

// Consume returns the capability registered under name. A missing service
// is not an error.
func (b *Bus) Consume(name string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	svc, ok := b.services[name]
	if !ok {
		return nil, false
	}
	return svc.capability, true
}

// Services lists provided services sorted by name.
func (b *Bus) Services() []ServiceInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]ServiceInfo, 0, len(b.services))
	for name, svc := range b.services {
		out = append(out, ServiceInfo{Name: name, Provider: svc.provider})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
