package hooks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// workerPool executes action handlers off the caller's goroutine.
//
// Action firings are fire-and-forget: the dispatcher submits one task per
// registration and returns without joining on any of them. Panics and
// handler errors are contained inside the worker and logged; they never
// reach the firing's caller or affect sibling handlers.
type workerPool struct {
	tasks   chan actionTask
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	metrics *Metrics

	// activeCheck is consulted immediately before running a task so a
	// plugin deactivated after submission is still skipped.
	activeCheck func(plugin string) bool
}

type actionTask struct {
	ctx  context.Context
	reg  *Registration
	args []any
}

func newWorkerPool(workers, queueSize int, metrics *Metrics, activeCheck func(string) bool) *workerPool {
	if workers <= 0 {
		workers = DefaultActionWorkers
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}
	p := &workerPool{
		tasks:       make(chan actionTask, queueSize),
		metrics:     metrics,
		activeCheck: activeCheck,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// submit queues one handler invocation. Returns ErrQueueFull when the
// queue cannot absorb the task and ErrDispatcherClosed after close().
func (p *workerPool) submit(task actionTask) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrDispatcherClosed
	}
	select {
	case p.tasks <- task:
		atomic.AddInt64(&p.metrics.QueueDepth, 1)
		return nil
	default:
		atomic.AddInt64(&p.metrics.ActionRejected, 1)
		return ErrQueueFull
	}
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		atomic.AddInt64(&p.metrics.QueueDepth, -1)
		p.run(task)
	}
}

// run executes one action handler with panic containment.
func (p *workerPool) run(task actionTask) {
	reg := task.reg

	// Deactivation takes effect for any invocation that has not started.
	if p.activeCheck != nil && !p.activeCheck(reg.Plugin) {
		log.Debug().Str("plugin", reg.Plugin).Str("hook", reg.Hook).
			Msg("skipping action handler of inactive plugin")
		return
	}

	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("handler panicked: %v", rec)
			}
		}()
		return reg.action(task.ctx, task.args...)
	}()
	if err != nil {
		atomic.AddInt64(&p.metrics.HandlerErrors, 1)
		log.Error().Err(err).
			Str("plugin", reg.Plugin).
			Str("hook", reg.Hook).
			Msg("action handler failed")
	}
}

// close shuts the pool down and waits for queued tasks to finish.
func (p *workerPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}
