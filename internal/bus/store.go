// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package bus

import (
	"reflect"
	"sort"
	"time"

	"github.com/samber/oops"

	"github.com/zhangyu-521/my-doc-sub002/pkg/plugin"
)

type entry struct {
	value   any
	expires time.Time // zero: never
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

type watchKey struct {
	namespace string
	key       string
}

type watcher struct {
	id    uint64
	owner string
	fn    plugin.WatchFunc
}

// Set stores value under namespace/key. A positive ttl makes the entry
// expire. Watchers are notified only when the stored value changes, as
// decided by reflect.DeepEqual. Set reports whether the value changed.
func (b *Bus) Set(namespace, key string, value any, ttl time.Duration) bool {
	now := b.now()

	b.mu.Lock()
	ns := b.store[namespace]
	if ns == nil {
		ns = make(map[string]entry)
		b.store[namespace] = ns
	}
	old, existed := ns[key]
	if existed && old.expired(now) {
		existed = false
	}
	next := entry{value: value}
	if ttl > 0 {
		next.expires = now.Add(ttl)
	}
	ns[key] = next

	if existed && reflect.DeepEqual(old.value, value) {
		b.mu.Unlock()
		return false
	}
	var oldValue any
	if existed {
		oldValue = old.value
	}
	targets := b.watchersLocked(namespace, key)
	b.mu.Unlock()

	b.notify(targets, plugin.Change{Namespace: namespace, Key: key, Old: oldValue, New: value})
	return true
}

// Get returns the value stored under namespace/key. Expired entries are
// removed on access and reported as absent.
func (b *Bus) Get(namespace, key string) (any, bool) {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.store[namespace][key]
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		delete(b.store[namespace], key)
		return nil, false
	}
	return e.value, true
}

// Delete removes namespace/key and notifies its watchers. It reports
// whether a live entry was removed.
func (b *Bus) Delete(namespace, key string) bool {
	now := b.now()

	b.mu.Lock()
	e, ok := b.store[namespace][key]
	if !ok {
		b.mu.Unlock()
		return false
	}
	delete(b.store[namespace], key)
	if e.expired(now) {
		b.mu.Unlock()
		return false
	}
	targets := b.watchersLocked(namespace, key)
	b.mu.Unlock()

	b.notify(targets, plugin.Change{Namespace: namespace, Key: key, Old: e.value, Deleted: true})
	return true
}

// Keys returns the live keys of namespace, sorted.
func (b *Bus) Keys(namespace string) []string {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	var keys []string
	for k, e := range b.store[namespace] {
		if !e.expired(now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Watch registers fn for changes to namespace/key.
func (b *Bus) Watch(owner, namespace, key string, fn plugin.WatchFunc) func() {
	wk := watchKey{namespace: namespace, key: key}

	b.mu.Lock()
	id := b.id()
	b.watchers[wk] = append(b.watchers[wk], &watcher{id: id, owner: owner, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		ws := without(b.watchers[wk], func(w *watcher) bool { return w.id == id })
		if len(ws) == 0 {
			delete(b.watchers, wk)
			return
		}
		b.watchers[wk] = ws
	}
}

// Sweep removes every expired entry and returns how many were removed.
// Expiry does not notify watchers.
func (b *Bus) Sweep() int {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for nsName, ns := range b.store {
		for k, e := range ns {
			if e.expired(now) {
				delete(ns, k)
				removed++
			}
		}
		if len(ns) == 0 {
			delete(b.store, nsName)
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until Close is called.
func (b *Bus) StartSweeper(interval time.Duration) error {
	if interval <= 0 {
		return oops.In("bus").With("interval", interval).Errorf("sweep interval must be positive")
	}

	b.mu.Lock()
	if b.sweepStop != nil {
		b.mu.Unlock()
		return oops.In("bus").Errorf("sweeper already running")
	}
	stop, done := make(chan struct{}), make(chan struct{})
	b.sweepStop, b.sweepDone = stop, done
	b.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if n := b.Sweep(); n > 0 {
					b.logger.Debug("swept expired store entries", "count", n)
				}
			}
		}
	}()
	return nil
}

func (b *Bus) watchersLocked(namespace, key string) []*watcher {
	return append([]*watcher(nil), b.watchers[watchKey{namespace: namespace, key: key}]...)
}

func (b *Bus) notify(targets []*watcher, change plugin.Change) {
	for _, w := range targets {
		if err := b.safely("watch", w.owner, change.Namespace+"."+change.Key, func() error {
			w.fn(change)
			return nil
		}); err != nil {
			b.report("watch", err)
		}
	}
}
