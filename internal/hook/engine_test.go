// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package hook_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zhangyu-521/my-doc-sub002/internal/hook"
	"github.com/zhangyu-521/my-doc-sub002/pkg/errutil"
	"github.com/zhangyu-521/my-doc-sub002/pkg/plugin"
)

func newEngine(t *testing.T, name string, kind plugin.HookKind) *hook.Engine {
	t.Helper()
	e := hook.New()
	require.NoError(t, e.CreateHook(name, kind, "runtime"))
	return e
}

func TestCreateHook_Duplicate(t *testing.T) {
	e := newEngine(t, "build", plugin.HookSync)

	err := e.CreateHook("build", plugin.HookAsync, "other")
	errutil.AssertSentinel(t, err, plugin.ErrDuplicateHook, plugin.CodeDuplicateHook)
	errutil.AssertErrorContext(t, err, "hook", "build")
}

func TestCreateHook_InvalidKind(t *testing.T) {
	e := hook.New()
	err := e.CreateHook("x", plugin.HookKind(42), "runtime")
	assert.ErrorIs(t, err, plugin.ErrKindMismatch)
	assert.False(t, e.Has("x"))
}

func TestCreateHook_EmptyName(t *testing.T) {
	e := hook.New()
	err := e.CreateHook("", plugin.HookSync, "runtime")
	errutil.AssertSentinel(t, err, plugin.ErrHookNotFound, plugin.CodeHookNotFound)
	assert.Empty(t, e.Hooks())
}

func TestTap_UnknownHook(t *testing.T) {
	e := hook.New()
	_, err := e.Tap("missing", "p", plugin.SyncFunc(func(context.Context, ...any) error { return nil }))
	errutil.AssertSentinel(t, err, plugin.ErrHookNotFound, plugin.CodeHookNotFound)
}

func TestTap_KindCheckedAtTapTime(t *testing.T) {
	e := newEngine(t, "transform", plugin.HookWaterfall)

	_, err := e.Tap("transform", "p", plugin.SyncFunc(func(context.Context, ...any) error { return nil }))
	errutil.AssertSentinel(t, err, plugin.ErrKindMismatch, plugin.CodeKindMismatch)
	errutil.AssertErrorContext(t, err, "hook_kind", "waterfall")
}

func TestTap_NilCallback(t *testing.T) {
	e := newEngine(t, "h", plugin.HookSync)
	_, err := e.Tap("h", "p", nil)
	assert.ErrorIs(t, err, plugin.ErrKindMismatch)
}

func TestCall_WrongKindAPI(t *testing.T) {
	e := newEngine(t, "async", plugin.HookAsync)

	err := e.Call(context.Background(), "async")
	errutil.AssertSentinel(t, err, plugin.ErrKindMismatch, plugin.CodeKindMismatch)

	_, err = e.CallBail(context.Background(), "async")
	assert.ErrorIs(t, err, plugin.ErrKindMismatch)

	_, err = e.CallWaterfall(context.Background(), "async", 1)
	assert.ErrorIs(t, err, plugin.ErrKindMismatch)
}

func TestCall_UnknownHook(t *testing.T) {
	e := hook.New()
	err := e.Call(context.Background(), "nope")
	errutil.AssertSentinel(t, err, plugin.ErrHookNotFound, plugin.CodeHookNotFound)
}

func TestCall_PriorityOrderAndAbort(t *testing.T) {
	e := newEngine(t, "build", plugin.HookSync)

	var order []int
	record := func(n int, fail bool) plugin.SyncFunc {
		return func(context.Context, ...any) error {
			order = append(order, n)
			if fail {
				return errors.New("boom")
			}
			return nil
		}
	}

	_, err := e.Tap("build", "a", record(1, false), plugin.WithPriority(1))
	require.NoError(t, err)
	_, err = e.Tap("build", "b", record(5, false), plugin.WithPriority(5))
	require.NoError(t, err)
	_, err = e.Tap("build", "c", record(3, false), plugin.WithPriority(3))
	require.NoError(t, err)

	require.NoError(t, e.Call(context.Background(), "build"))
	assert.Equal(t, []int{5, 3, 1}, order)

	// A failing top-priority callback stops the chain.
	e2 := newEngine(t, "build", plugin.HookSync)
	order = nil
	_, _ = e2.Tap("build", "a", record(1, false), plugin.WithPriority(1))
	_, _ = e2.Tap("build", "b", record(5, true), plugin.WithPriority(5))
	_, _ = e2.Tap("build", "c", record(3, false), plugin.WithPriority(3))

	err = e2.Call(context.Background(), "build")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []int{5}, order)
	errutil.AssertErrorCode(t, err, plugin.CodeHookFailed)
	errutil.AssertErrorContext(t, err, "owner", "b")
}

func TestCall_EqualPriorityKeepsRegistrationOrder(t *testing.T) {
	e := newEngine(t, "h", plugin.HookSync)

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		_, err := e.Tap("h", name, plugin.SyncFunc(func(context.Context, ...any) error {
			order = append(order, name)
			return nil
		}))
		require.NoError(t, err)
	}

	for range 3 {
		order = nil
		require.NoError(t, e.Call(context.Background(), "h"))
		assert.Equal(t, []string{"first", "second", "third"}, order)
	}
}

func TestCall_PassesArgs(t *testing.T) {
	e := newEngine(t, "h", plugin.HookSync)
	var got []any
	_, err := e.Tap("h", "p", plugin.SyncFunc(func(_ context.Context, args ...any) error {
		got = args
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, e.Call(context.Background(), "h", "a", 2))
	assert.Equal(t, []any{"a", 2}, got)
}

func TestCall_PanicBecomesError(t *testing.T) {
	e := newEngine(t, "h", plugin.HookSync)
	_, err := e.Tap("h", "p", plugin.SyncFunc(func(context.Context, ...any) error {
		panic("bad plugin")
	}))
	require.NoError(t, err)

	err = e.Call(context.Background(), "h")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad plugin")
	errutil.AssertErrorCode(t, err, plugin.CodePanic)
}

func TestOnce_FiresOnlyOnce(t *testing.T) {
	e := newEngine(t, "h", plugin.HookSync)
	calls := 0
	_, err := e.Tap("h", "p", plugin.SyncFunc(func(context.Context, ...any) error {
		calls++
		return nil
	}), plugin.Once())
	require.NoError(t, err)

	require.NoError(t, e.Call(context.Background(), "h"))
	require.NoError(t, e.Call(context.Background(), "h"))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, e.Hooks()[0].Taps)
}

func TestUntap_IsIdempotent(t *testing.T) {
	e := newEngine(t, "h", plugin.HookSync)
	calls := 0
	untap, err := e.Tap("h", "p", plugin.SyncFunc(func(context.Context, ...any) error {
		calls++
		return nil
	}))
	require.NoError(t, err)

	untap()
	untap()
	require.NoError(t, e.Call(context.Background(), "h"))
	assert.Zero(t, calls)
}

func TestCallWaterfall_ThreadsValue(t *testing.T) {
	e := newEngine(t, "calc", plugin.HookWaterfall)

	_, _ = e.Tap("calc", "a", plugin.WaterfallFunc(func(_ context.Context, v any, _ ...any) (any, error) {
		return v.(int) + 1, nil
	}))
	_, _ = e.Tap("calc", "b", plugin.WaterfallFunc(func(context.Context, any, ...any) (any, error) {
		return nil, nil
	}))
	_, _ = e.Tap("calc", "c", plugin.WaterfallFunc(func(_ context.Context, v any, _ ...any) (any, error) {
		return v.(int) * 2, nil
	}))

	got, err := e.CallWaterfall(context.Background(), "calc", 3)
	require.NoError(t, err)
	assert.Equal(t, 8, got)
}

func TestCallWaterfall_NoTapsReturnsInitial(t *testing.T) {
	e := newEngine(t, "calc", plugin.HookWaterfall)
	got, err := e.CallWaterfall(context.Background(), "calc", "seed")
	require.NoError(t, err)
	assert.Equal(t, "seed", got)
}

func TestCallWaterfall_ErrorAborts(t *testing.T) {
	e := newEngine(t, "calc", plugin.HookWaterfall)
	reached := false
	_, _ = e.Tap("calc", "a", plugin.WaterfallFunc(func(context.Context, any, ...any) (any, error) {
		return nil, errors.New("nope")
	}))
	_, _ = e.Tap("calc", "b", plugin.WaterfallFunc(func(context.Context, any, ...any) (any, error) {
		reached = true
		return 1, nil
	}))

	got, err := e.CallWaterfall(context.Background(), "calc", 3)
	require.Error(t, err)
	assert.Nil(t, got)
	assert.False(t, reached)
}

func TestCallBail_FirstResultWins(t *testing.T) {
	e := newEngine(t, "find", plugin.HookBail)

	thirdCalled := false
	_, _ = e.Tap("find", "a", plugin.BailFunc(func(context.Context, ...any) (any, error) { return nil, nil }))
	_, _ = e.Tap("find", "b", plugin.BailFunc(func(context.Context, ...any) (any, error) { return "found", nil }))
	_, _ = e.Tap("find", "c", plugin.BailFunc(func(context.Context, ...any) (any, error) {
		thirdCalled = true
		return "late", nil
	}))

	got, err := e.CallBail(context.Background(), "find")
	require.NoError(t, err)
	assert.Equal(t, "found", got)
	assert.False(t, thirdCalled)
}

func TestCallBail_NoResult(t *testing.T) {
	e := newEngine(t, "find", plugin.HookBail)
	_, _ = e.Tap("find", "a", plugin.BailFunc(func(context.Context, ...any) (any, error) { return nil, nil }))

	got, err := e.CallBail(context.Background(), "find")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCallAsync_SequentialAwait(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := newEngine(t, "startup", plugin.HookAsync)
	var (
		mu    sync.Mutex
		order []string
	)
	add := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}

	_, _ = e.Tap("startup", "slow", plugin.AsyncFunc(func(context.Context, ...any) error {
		add("slow-start")
		time.Sleep(10 * time.Millisecond)
		add("slow-end")
		return nil
	}))
	_, _ = e.Tap("startup", "fast", plugin.AsyncFunc(func(context.Context, ...any) error {
		add("fast")
		return nil
	}))

	require.NoError(t, e.CallAsync(context.Background(), "startup"))
	assert.Equal(t, []string{"slow-start", "slow-end", "fast"}, order)
}

func TestCallAsync_ErrorAborts(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := newEngine(t, "startup", plugin.HookAsync)
	reached := false
	_, _ = e.Tap("startup", "a", plugin.AsyncFunc(func(context.Context, ...any) error { return errors.New("fail") }))
	_, _ = e.Tap("startup", "b", plugin.AsyncFunc(func(context.Context, ...any) error {
		reached = true
		return nil
	}))

	err := e.CallAsync(context.Background(), "startup")
	require.Error(t, err)
	assert.False(t, reached)
}

func TestCallAsync_CallerCanAbandon(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := newEngine(t, "startup", plugin.HookAsync)
	release := make(chan struct{})
	finished := make(chan struct{})
	secondRan := false

	_, _ = e.Tap("startup", "blocker", plugin.AsyncFunc(func(context.Context, ...any) error {
		<-release
		close(finished)
		return nil
	}))
	_, _ = e.Tap("startup", "next", plugin.AsyncFunc(func(context.Context, ...any) error {
		secondRan = true
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := e.CallAsync(ctx, "startup")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The running callback is not interrupted; it completes on its own.
	close(release)
	<-finished
	assert.False(t, secondRan)
}

func TestRemoveOwner(t *testing.T) {
	e := hook.New()
	require.NoError(t, e.CreateHook("shared", plugin.HookSync, "runtime"))
	require.NoError(t, e.CreateHook("custom", plugin.HookSync, "alpha"))

	var calls []string
	for _, owner := range []string{"alpha", "beta"} {
		_, err := e.Tap("shared", owner, plugin.SyncFunc(func(context.Context, ...any) error {
			calls = append(calls, owner)
			return nil
		}))
		require.NoError(t, err)
	}

	assert.Equal(t, 1, e.RemoveOwner("alpha"))
	assert.False(t, e.Has("custom"))
	assert.True(t, e.Has("shared"))

	require.NoError(t, e.Call(context.Background(), "shared"))
	assert.Equal(t, []string{"beta"}, calls)
}

func TestHooks_SortedInfo(t *testing.T) {
	e := hook.New()
	require.NoError(t, e.CreateHook("b", plugin.HookBail, "p"))
	require.NoError(t, e.CreateHook("a", plugin.HookAsync, "runtime"))

	infos := e.Hooks()
	require.Len(t, infos, 2)
	assert.Equal(t, hook.Info{Name: "a", Kind: plugin.HookAsync, Owner: "runtime"}, infos[0])
	assert.Equal(t, "b", infos[1].Name)
}

func TestCallObserver(t *testing.T) {
	var (
		seen []string
		errs []error
	)
	e := hook.New(hook.WithCallObserver(func(name string, kind plugin.HookKind, _ time.Duration, err error) {
		seen = append(seen, name+":"+kind.String())
		errs = append(errs, err)
	}))
	require.NoError(t, e.CreateHook("h", plugin.HookSync, "runtime"))

	require.NoError(t, e.Call(context.Background(), "h"))
	require.Error(t, e.Call(context.Background(), "missing"))

	assert.Equal(t, []string{"h:sync", "missing:sync"}, seen)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], plugin.ErrHookNotFound)
}

func TestTap_ReentrantCallDoesNotDeadlock(t *testing.T) {
	e := newEngine(t, "outer", plugin.HookSync)
	require.NoError(t, e.CreateHook("inner", plugin.HookSync, "runtime"))

	innerCalled := false
	_, _ = e.Tap("inner", "p", plugin.SyncFunc(func(context.Context, ...any) error {
		innerCalled = true
		return nil
	}))
	_, _ = e.Tap("outer", "p", plugin.SyncFunc(func(ctx context.Context, _ ...any) error {
		_, err := e.Tap("inner", "q", plugin.SyncFunc(func(context.Context, ...any) error { return nil }))
		if err != nil {
			return err
		}
		return e.Call(ctx, "inner")
	}))

	require.NoError(t, e.Call(context.Background(), "outer"))
	assert.True(t, innerCalled)
}
