// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package bus

import (
	"context"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/zhangyu-521/my-doc-sub002/pkg/plugin"
)

type subscription struct {
	id      uint64
	owner   string
	pattern string
	match   glob.Glob
	handler plugin.EventHandler
}

// CompilePattern compiles a topic pattern. Segments are separated by '.';
// '*' matches one segment, '**' any number. A trailing '*' segment matches
// any suffix, and '*' on its own matches every topic.
func CompilePattern(pattern string) (glob.Glob, error) {
	switch {
	case pattern == "":
		return nil, oops.In("bus").Errorf("topic pattern cannot be empty")
	case pattern == "*":
		pattern = "**"
	case strings.HasSuffix(pattern, ".*"):
		pattern += "*"
	}
	g, err := glob.Compile(pattern, '.')
	if err != nil {
		return nil, oops.In("bus").With("pattern", pattern).Wrapf(err, "invalid topic pattern")
	}
	return g, nil
}

// Subscribe registers handler for every topic matching pattern.
func (b *Bus) Subscribe(owner, pattern string, handler plugin.EventHandler) (func(), error) {
	if handler == nil {
		return nil, oops.In("bus").With("pattern", pattern).Errorf("nil event handler")
	}
	g, err := CompilePattern(pattern)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	id := b.id()
	b.subs = append(b.subs, &subscription{id: id, owner: owner, pattern: pattern, match: g, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs = without(b.subs, func(s *subscription) bool { return s.id == id })
	}, nil
}

// Emit delivers an event to every matching subscriber in subscription
// order and returns how many handlers it reached. Handler failures are
// reported and never stop delivery.
func (b *Bus) Emit(ctx context.Context, source, topic string, payload any) int {
	now := b.now()
	ev := plugin.Event{
		ID:        NewID(now),
		Topic:     topic,
		Source:    source,
		Timestamp: now,
		Payload:   payload,
	}

	if b.hooks != nil {
		out, err := b.hooks.CallWaterfall(ctx, HookEmit, ev)
		if err != nil {
			b.report("emit-hook", err)
			return 0
		}
		if modified, ok := out.(plugin.Event); ok {
			ev = modified
		}
	}

	b.mu.Lock()
	var targets []*subscription
	for _, s := range b.subs {
		if s.match.Match(ev.Topic) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		if err := b.safely("event", s.owner, ev.Topic, func() error {
			return s.handler(ctx, ev)
		}); err != nil {
			b.report("event", err)
		}
	}

	if b.observer != nil {
		b.observer.EventEmitted(ev.Topic, len(targets))
	}
	return len(targets)
}
