// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package plugin

import (
	"context"
	"time"
)

// Event is a topic-addressed notification delivered to subscribers.
type Event struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Source    string    `json:"source"` // emitting plugin, or "runtime"
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// EventHandler receives events. A returned error is logged; it does not
// stop delivery to other subscribers.
type EventHandler func(ctx context.Context, event Event) error

// Message is an entry of the ordered message queue.
type Message struct {
	ID         string    `json:"id"`
	Topic      string    `json:"topic"`
	Source     string    `json:"source"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Payload    any       `json:"payload,omitempty"`
}

// MessageHandler receives queued messages.
type MessageHandler func(ctx context.Context, msg Message) error

// Change describes a mutation of a shared-store entry.
type Change struct {
	Namespace string
	Key       string
	Old       any
	New       any
	// Deleted is set when the entry was removed.
	Deleted bool
}

// WatchFunc observes changes of one shared-store key.
type WatchFunc func(change Change)

// ServiceChange is the payload of the service.* events.
type ServiceChange struct {
	Name        string `json:"name"`
	Provider    string `json:"provider"`
	OldProvider string `json:"old_provider,omitempty"`
}

// Well-known topics published by the runtime.
const (
	TopicServiceProvided = "service.provided"
	TopicServiceReplaced = "service.replaced"
	TopicServiceRevoked  = "service.revoked"
)
