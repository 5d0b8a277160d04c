package hooks_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forumkit/pluginhost/internal/hooks"
)

func appendFilter(suffix string) hooks.FilterFunc {
	return func(_ context.Context, payload any) (any, error) {
		return payload.(string) + suffix, nil
	}
}

// =========================================================================
// FILTER DISPATCH
// =========================================================================

func TestFilter_IdentityWithNoRegistrations(t *testing.T) {
	d := hooks.NewDispatcher(hooks.NewRegistry())
	defer d.Close()

	out, err := d.Filter(context.Background(), "filter:post.save", "unchanged")
	require.NoError(t, err)
	assert.Equal(t, "unchanged", out)
}

func TestFilter_PriorityOrderDeterminesResult(t *testing.T) {
	reg := hooks.NewRegistry()
	require.NoError(t, reg.Register("filter:post.save", "p1", appendFilter("a"), 5))
	require.NoError(t, reg.Register("filter:post.save", "p2", appendFilter("b"), 10))
	d := hooks.NewDispatcher(reg)
	defer d.Close()

	out, err := d.Filter(context.Background(), "filter:post.save", "x")
	require.NoError(t, err)
	assert.Equal(t, "xab", out)

	// Reversed priorities reverse the composition.
	reg2 := hooks.NewRegistry()
	require.NoError(t, reg2.Register("filter:post.save", "p1", appendFilter("a"), 10))
	require.NoError(t, reg2.Register("filter:post.save", "p2", appendFilter("b"), 5))
	d2 := hooks.NewDispatcher(reg2)
	defer d2.Close()

	out, err = d2.Filter(context.Background(), "filter:post.save", "x")
	require.NoError(t, err)
	assert.Equal(t, "xba", out)
}

func TestFilter_FailureAbortsChain(t *testing.T) {
	reg := hooks.NewRegistry()
	boom := errors.New("boom")
	var thirdRan bool

	require.NoError(t, reg.Register("filter:post.save", "p1", appendFilter("a"), 1))
	require.NoError(t, reg.Register("filter:post.save", "p2", hooks.FilterFunc(
		func(_ context.Context, payload any) (any, error) { return nil, boom },
	), 2))
	require.NoError(t, reg.Register("filter:post.save", "p3", hooks.FilterFunc(
		func(_ context.Context, payload any) (any, error) { thirdRan = true; return payload, nil },
	), 3))

	d := hooks.NewDispatcher(reg)
	defer d.Close()

	_, err := d.Filter(context.Background(), "filter:post.save", "x")
	require.Error(t, err)
	assert.False(t, thirdRan)

	var herr *hooks.HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "p2", herr.Plugin)
	assert.Equal(t, "filter:post.save", herr.Hook)
	assert.ErrorIs(t, err, boom)
}

func TestFilter_PanicBecomesHandlerError(t *testing.T) {
	reg := hooks.NewRegistry()
	require.NoError(t, reg.Register("filter:post.save", "p1", hooks.FilterFunc(
		func(_ context.Context, payload any) (any, error) { panic("oh no") },
	), 10))
	d := hooks.NewDispatcher(reg)
	defer d.Close()

	_, err := d.Filter(context.Background(), "filter:post.save", "x")
	var herr *hooks.HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Contains(t, herr.Err.Error(), "panicked")
}

func TestFilter_InactivePluginSkipped(t *testing.T) {
	reg := hooks.NewRegistry()
	require.NoError(t, reg.Register("filter:post.save", "stale", appendFilter("s"), 5))
	require.NoError(t, reg.Register("filter:post.save", "live", appendFilter("l"), 10))
	reg.SetActive("stale", false)

	d := hooks.NewDispatcher(reg)
	defer d.Close()

	out, err := d.Filter(context.Background(), "filter:post.save", "x")
	require.NoError(t, err)
	assert.Equal(t, "xl", out)
}

func TestFilter_KindMismatch(t *testing.T) {
	d := hooks.NewDispatcher(hooks.NewRegistry())
	defer d.Close()

	_, err := d.Filter(context.Background(), "action:post.save", "x")
	assert.ErrorIs(t, err, hooks.ErrKindMismatch)
}

// =========================================================================
// ACTION DISPATCH
// =========================================================================

func TestFire_AllHandlersSameArgsCallerDoesNotWait(t *testing.T) {
	reg := hooks.NewRegistry()
	const handlers = 5

	var wg sync.WaitGroup
	wg.Add(handlers)
	var calls int64
	var mu sync.Mutex
	seen := make([][]any, 0, handlers)

	for i := 0; i < handlers; i++ {
		require.NoError(t, reg.Register("action:post.save", "p1", hooks.ActionFunc(
			func(_ context.Context, args ...any) error {
				defer wg.Done()
				time.Sleep(100 * time.Millisecond)
				atomic.AddInt64(&calls, 1)
				mu.Lock()
				seen = append(seen, args)
				mu.Unlock()
				return nil
			},
		), 10))
	}

	d := hooks.NewDispatcher(reg, hooks.WithActionWorkers(handlers))
	defer d.Close()

	start := time.Now()
	require.NoError(t, d.Fire(context.Background(), "action:post.save", "tuple", 42))
	assert.Less(t, time.Since(start), 50*time.Millisecond, "fire must not wait for handlers")

	wg.Wait()
	assert.EqualValues(t, handlers, atomic.LoadInt64(&calls))
	for _, args := range seen {
		assert.Equal(t, []any{"tuple", 42}, args)
	}
}

func TestFire_HandlerFailureIsolated(t *testing.T) {
	reg := hooks.NewRegistry()
	var wg sync.WaitGroup
	wg.Add(2)
	var siblingRan atomic.Bool

	require.NoError(t, reg.Register("action:notify", "bad", hooks.ActionFunc(
		func(_ context.Context, _ ...any) error { defer wg.Done(); return errors.New("notify failed") },
	), 1))
	require.NoError(t, reg.Register("action:notify", "good", hooks.ActionFunc(
		func(_ context.Context, _ ...any) error { defer wg.Done(); siblingRan.Store(true); return nil },
	), 2))

	d := hooks.NewDispatcher(reg)
	defer d.Close()

	require.NoError(t, d.Fire(context.Background(), "action:notify", "hi"))
	wg.Wait()
	assert.True(t, siblingRan.Load())

	assert.EqualValues(t, 1, d.Metrics().HandlerErrors)
}

func TestFire_PanicContained(t *testing.T) {
	reg := hooks.NewRegistry()
	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, reg.Register("action:notify", "p1", hooks.ActionFunc(
		func(_ context.Context, _ ...any) error { defer wg.Done(); panic("kaboom") },
	), 10))

	d := hooks.NewDispatcher(reg)
	defer d.Close()

	require.NoError(t, d.Fire(context.Background(), "action:notify"))
	wg.Wait()
}

func TestFire_QueueFull(t *testing.T) {
	reg := hooks.NewRegistry()
	block := make(chan struct{})
	require.NoError(t, reg.Register("action:slow", "p1", hooks.ActionFunc(
		func(_ context.Context, _ ...any) error { <-block; return nil },
	), 10))

	d := hooks.NewDispatcher(reg, hooks.WithActionWorkers(1), hooks.WithActionQueueSize(1))
	defer func() {
		close(block)
		d.Close()
	}()

	// Saturate the single worker and the single queue slot, then expect
	// rejection.
	var err error
	for i := 0; i < 10; i++ {
		if err = d.Fire(context.Background(), "action:slow"); err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, hooks.ErrQueueFull)
	assert.Positive(t, d.Metrics().ActionRejected)
}

func TestFire_UnregisteredHookIsNoOp(t *testing.T) {
	d := hooks.NewDispatcher(hooks.NewRegistry())
	defer d.Close()
	assert.NoError(t, d.Fire(context.Background(), "action:nobody.listens"))
}

func TestFire_AfterClose(t *testing.T) {
	reg := hooks.NewRegistry()
	require.NoError(t, reg.Register("action:notify", "p1", hooks.ActionFunc(noopAction), 10))
	d := hooks.NewDispatcher(reg)
	require.NoError(t, d.Close())

	assert.ErrorIs(t, d.Fire(context.Background(), "action:notify"), hooks.ErrDispatcherClosed)
}

// =========================================================================
// STATIC DISPATCH
// =========================================================================

func TestFireStatic_SequentialUntilSignaled(t *testing.T) {
	reg := hooks.NewRegistry()

	var mu sync.Mutex
	var order []string
	var firstSignaled time.Time
	var secondStarted time.Time

	require.NoError(t, reg.Register("app.ready", "p1", hooks.StaticFunc(
		func(_ context.Context, done func(error), _ ...any) {
			mu.Lock()
			order = append(order, "h1")
			mu.Unlock()
			// Delay the signal; h2 must not start before it fires.
			go func() {
				time.Sleep(60 * time.Millisecond)
				mu.Lock()
				firstSignaled = time.Now()
				mu.Unlock()
				done(nil)
			}()
		},
	), 1))
	require.NoError(t, reg.Register("app.ready", "p2", hooks.StaticFunc(
		func(_ context.Context, done func(error), _ ...any) {
			mu.Lock()
			order = append(order, "h2")
			secondStarted = time.Now()
			mu.Unlock()
			done(nil)
		},
	), 2))

	d := hooks.NewDispatcher(reg)
	defer d.Close()

	require.NoError(t, d.FireStatic(context.Background(), "app.ready"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"h1", "h2"}, order)
	assert.False(t, secondStarted.Before(firstSignaled),
		"second handler must not start before the first signals")
}

func TestFireStatic_ErrorStopsChain(t *testing.T) {
	reg := hooks.NewRegistry()
	boom := errors.New("init failed")
	var secondRan atomic.Bool

	require.NoError(t, reg.Register("app.ready", "p1", hooks.StaticFunc(
		func(_ context.Context, done func(error), _ ...any) { done(boom) },
	), 1))
	require.NoError(t, reg.Register("app.ready", "p2", hooks.StaticFunc(
		func(_ context.Context, done func(error), _ ...any) { secondRan.Store(true); done(nil) },
	), 2))

	d := hooks.NewDispatcher(reg)
	defer d.Close()

	err := d.FireStatic(context.Background(), "app.ready")
	var herr *hooks.HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "p1", herr.Plugin)
	assert.ErrorIs(t, err, boom)
	assert.False(t, secondRan.Load())
}

func TestFireStatic_DoubleSignalIgnored(t *testing.T) {
	reg := hooks.NewRegistry()
	require.NoError(t, reg.Register("app.ready", "p1", hooks.StaticFunc(
		func(_ context.Context, done func(error), _ ...any) {
			done(nil)
			done(errors.New("late and ignored"))
		},
	), 10))

	d := hooks.NewDispatcher(reg)
	defer d.Close()
	assert.NoError(t, d.FireStatic(context.Background(), "app.ready"))
}

func TestFireStatic_Timeout(t *testing.T) {
	reg := hooks.NewRegistry()
	require.NoError(t, reg.Register("app.ready", "hung", hooks.StaticFunc(
		func(_ context.Context, done func(error), _ ...any) {
			// Never signals.
		},
	), 10))

	d := hooks.NewDispatcher(reg, hooks.WithStaticTimeout(30*time.Millisecond))
	defer d.Close()

	err := d.FireStatic(context.Background(), "app.ready")
	assert.ErrorIs(t, err, hooks.ErrStaticTimeout)
}

func TestFireStatic_ContextCancellation(t *testing.T) {
	reg := hooks.NewRegistry()
	require.NoError(t, reg.Register("app.ready", "hung", hooks.StaticFunc(
		func(_ context.Context, done func(error), _ ...any) {},
	), 10))

	d := hooks.NewDispatcher(reg)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := d.FireStatic(ctx, "app.ready")
	require.ErrorIs(t, err, context.Canceled)
	var herr *hooks.HandlerError
	assert.False(t, errors.As(err, &herr), "cancellation is not a handler failure")
}

func TestFireStatic_UnregisteredCompletesImmediately(t *testing.T) {
	d := hooks.NewDispatcher(hooks.NewRegistry())
	defer d.Close()
	assert.NoError(t, d.FireStatic(context.Background(), "nobody.home"))
}
