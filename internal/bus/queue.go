// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package bus

import (
	"context"
	"slices"

	"github.com/zhangyu-521/my-doc-sub002/pkg/plugin"
)

type queueSub struct {
	id      uint64
	owner   string
	handler plugin.MessageHandler
}

type delivery struct {
	ctx     context.Context
	msg     plugin.Message
	targets []*queueSub
}

// SubscribeQueue registers handler for messages enqueued on topic from now on.
func (b *Bus) SubscribeQueue(owner, topic string, handler plugin.MessageHandler) func() {
	b.mu.Lock()
	id := b.id()
	b.queueSubs[topic] = append(b.queueSubs[topic], &queueSub{id: id, owner: owner, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		qs := without(b.queueSubs[topic], func(q *queueSub) bool { return q.id == id })
		if len(qs) == 0 {
			delete(b.queueSubs, topic)
			return
		}
		b.queueSubs[topic] = qs
	}
}

// Enqueue records a message in the topic history and delivers it to the
// handlers subscribed to topic at this moment. Messages are delivered in
// enqueue order: a message enqueued from inside a handler is delivered
// after the current one has reached all of its handlers.
func (b *Bus) Enqueue(ctx context.Context, source, topic string, payload any) plugin.Message {
	now := b.now()
	msg := plugin.Message{
		ID:         NewID(now),
		Topic:      topic,
		Source:     source,
		EnqueuedAt: now,
		Payload:    payload,
	}

	b.mu.Lock()
	if b.historyLimit > 0 {
		h := append(b.history[topic], msg)
		if len(h) > b.historyLimit {
			h = slices.Clone(h[len(h)-b.historyLimit:])
		}
		b.history[topic] = h
	}
	targets := slices.Clone(b.queueSubs[topic])
	b.pending = append(b.pending, delivery{ctx: ctx, msg: msg, targets: targets})
	if b.draining {
		b.mu.Unlock()
		return msg
	}
	b.draining = true
	b.mu.Unlock()

	b.drain()
	return msg
}

// drain delivers pending messages until none are left.
func (b *Bus) drain() {
	for {
		b.mu.Lock()
		if len(b.pending) == 0 {
			b.draining = false
			b.mu.Unlock()
			return
		}
		d := b.pending[0]
		b.pending[0] = delivery{}
		b.pending = b.pending[1:]
		b.mu.Unlock()

		delivered := 0
		for _, q := range d.targets {
			if !b.queueSubscribed(d.msg.Topic, q.id) {
				continue
			}
			delivered++
			if err := b.safely("queue", q.owner, d.msg.Topic, func() error {
				return q.handler(d.ctx, d.msg)
			}); err != nil {
				b.report("queue", err)
			}
		}
		if b.observer != nil {
			b.observer.MessageEnqueued(d.msg.Topic, delivered)
		}
	}
}

func (b *Bus) queueSubscribed(topic string, id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.ContainsFunc(b.queueSubs[topic], func(q *queueSub) bool { return q.id == id })
}

// History returns up to limit of the most recent messages of topic, oldest
// first. A limit of zero or less returns everything retained.
func (b *Bus) History(topic string, limit int) []plugin.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.history[topic]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return slices.Clone(h)
}
