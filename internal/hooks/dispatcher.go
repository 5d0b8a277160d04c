package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultActionWorkers is the worker count used when the configuration
// does not set one.
const DefaultActionWorkers = 10

// Option configures a Dispatcher during creation.
type Option func(*dispatcherConfig)

type dispatcherConfig struct {
	workers       int
	queueSize     int
	staticTimeout time.Duration
}

// WithActionWorkers sets the number of goroutines executing action
// handlers. Default is DefaultActionWorkers.
func WithActionWorkers(n int) Option {
	return func(c *dispatcherConfig) { c.workers = n }
}

// WithActionQueueSize sets the action queue capacity.
// Default is workers * 2.
func WithActionQueueSize(n int) Option {
	return func(c *dispatcherConfig) { c.queueSize = n }
}

// WithStaticTimeout bounds how long a static firing waits for one handler
// to signal completion. Zero means no deadline: a handler that never
// signals hangs its firing, and only the caller's ctx can end the wait.
func WithStaticTimeout(d time.Duration) Option {
	return func(c *dispatcherConfig) { c.staticTimeout = d }
}

// Dispatcher fires hooks against the registry's current state.
//
// Ordering guarantees hold within one firing of one hook name; there is no
// cross-firing ordering. The registration list is snapshotted when a
// firing starts, and each handler's owning plugin is re-checked against
// the registry immediately before invocation, so deactivation takes effect
// for every invocation that has not yet started.
type Dispatcher struct {
	registry      *Registry
	pool          *workerPool
	staticTimeout time.Duration
	metrics       Metrics
}

// NewDispatcher creates a dispatcher over reg and starts its action
// worker pool. Close must be called to drain the pool.
func NewDispatcher(reg *Registry, opts ...Option) *Dispatcher {
	cfg := dispatcherConfig{workers: DefaultActionWorkers}
	for _, opt := range opts {
		opt(&cfg)
	}
	d := &Dispatcher{
		registry:      reg,
		staticTimeout: cfg.staticTimeout,
	}
	d.pool = newWorkerPool(cfg.workers, cfg.queueSize, &d.metrics, reg.Active)
	return d
}

// Filter threads payload through every registered filter handler in
// priority order and returns the final value. With no registrations the
// input is returned unchanged.
//
// The first handler failure aborts the chain: the error is returned as a
// *HandlerError and no further handlers run, since each handler's input is
// the previous handler's output.
func (d *Dispatcher) Filter(ctx context.Context, hook string, payload any) (any, error) {
	if err := d.checkKind(hook, KindFilter); err != nil {
		return payload, err
	}
	atomic.AddInt64(&d.metrics.FilterFirings, 1)

	current := payload
	for _, reg := range d.registry.List(hook) {
		if !d.registry.Active(reg.Plugin) {
			log.Debug().Str("plugin", reg.Plugin).Str("hook", hook).
				Msg("skipping filter handler of inactive plugin")
			continue
		}
		next, err := invokeFilter(ctx, reg, current)
		if err != nil {
			atomic.AddInt64(&d.metrics.HandlerErrors, 1)
			return current, &HandlerError{Plugin: reg.Plugin, Hook: hook, Err: err}
		}
		current = next
	}
	return current, nil
}

// Fire invokes every action handler registered for hook with the same
// argument tuple and returns without waiting for any of them.
//
// Handler failures are logged and isolated. The only errors Fire reports
// are submission problems: a full worker queue or a closed dispatcher, in
// which case handlers not yet submitted do not run.
func (d *Dispatcher) Fire(ctx context.Context, hook string, args ...any) error {
	if err := d.checkKind(hook, KindAction); err != nil {
		return err
	}
	atomic.AddInt64(&d.metrics.ActionFirings, 1)

	// Handlers outlive the firing's unit of work; detach its cancellation
	// while keeping context values (ambient frame included) visible.
	taskCtx := context.WithoutCancel(ctx)

	for _, reg := range d.registry.List(hook) {
		if err := d.pool.submit(actionTask{ctx: taskCtx, reg: reg, args: args}); err != nil {
			return fmt.Errorf("hook %s: %w", hook, err)
		}
	}
	return nil
}

// FireStatic invokes the static handlers for hook strictly in order,
// suspending the firing until each handler signals its continuation. The
// caller resumes once every handler has signaled, or on the first failure.
//
// A handler that never signals blocks until the dispatcher's static
// timeout (if configured) or ctx cancellation; the handler goroutine
// itself is never forcibly aborted.
func (d *Dispatcher) FireStatic(ctx context.Context, hook string, args ...any) error {
	if err := d.checkKind(hook, KindStatic); err != nil {
		return err
	}
	atomic.AddInt64(&d.metrics.StaticFirings, 1)

	for _, reg := range d.registry.List(hook) {
		if !d.registry.Active(reg.Plugin) {
			log.Debug().Str("plugin", reg.Plugin).Str("hook", hook).
				Msg("skipping static handler of inactive plugin")
			continue
		}
		if err := d.invokeStatic(ctx, reg, args); err != nil {
			// Cancellation of the firing's unit of work is not a
			// handler failure.
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return err
			}
			atomic.AddInt64(&d.metrics.HandlerErrors, 1)
			return &HandlerError{Plugin: reg.Plugin, Hook: hook, Err: err}
		}
	}
	return nil
}

// invokeStatic runs one static handler and waits for its signal.
func (d *Dispatcher) invokeStatic(ctx context.Context, reg *Registration, args []any) error {
	done := make(chan error, 1)
	var once sync.Once
	signal := func(err error) {
		// The contract is exactly one signal; extras are dropped.
		once.Do(func() { done <- err })
	}

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				signal(fmt.Errorf("handler panicked: %v", rec))
			}
		}()
		reg.static(ctx, signal, args...)
	}()

	var timeout <-chan time.Time
	if d.staticTimeout > 0 {
		timer := time.NewTimer(d.staticTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return ErrStaticTimeout
	}
}

// Metrics returns a consistent snapshot of the dispatcher counters.
func (d *Dispatcher) Metrics() Metrics {
	return d.metrics.snapshot()
}

// Close shuts down the action worker pool, waiting for queued handlers to
// complete. Subsequent action firings return ErrDispatcherClosed.
func (d *Dispatcher) Close() error {
	d.pool.close()
	return nil
}

func (d *Dispatcher) checkKind(hook string, want Kind) error {
	kind, err := ParseName(hook)
	if err != nil {
		return err
	}
	if kind != want {
		return fmt.Errorf("hook %s is %s, not %s: %w", hook, kind, want, ErrKindMismatch)
	}
	return nil
}

// invokeFilter runs one filter handler with panic containment.
func invokeFilter(ctx context.Context, reg *Registration, payload any) (out any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	return reg.filter(ctx, payload)
}
