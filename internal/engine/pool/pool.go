// Package pool provides fixed-size worker pools with a two-phase shutdown:
// an orderly drain bounded by a timeout, followed by force-cancellation.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.trai.ch/xnail/internal/core/domain"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

// Stats is a point-in-time view of a pool.
type Stats struct {
	Name    string
	Workers int
	Queued  int
	Busy    int
}

// Pool runs submitted work on a fixed number of workers fed by a bounded queue.
type Pool struct {
	name  string
	size  int
	tasks chan func(context.Context)

	// ctx is cancelled when the pool is force-cancelled.
	ctx    context.Context
	cancel context.CancelFunc

	group errgroup.Group
	busy  atomic.Int64

	mu        sync.RWMutex
	closed    bool
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

type result[T any] struct {
	value T
	err   error
}

// New starts a pool of size workers with room for queue pending tasks.
func New(name string, size, queue int) *Pool {
	if size < 1 {
		size = 1
	}
	if queue < 0 {
		queue = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:    name,
		size:    size,
		tasks:   make(chan func(context.Context), queue),
		ctx:     ctx,
		cancel:  cancel,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}

	for range size {
		p.group.Go(func() error {
			p.work()
			return nil
		})
	}
	go func() {
		_ = p.group.Wait()
		close(p.done)
	}()

	return p
}

func (p *Pool) work() {
	for task := range p.tasks {
		p.busy.Add(1)
		task(p.ctx)
		p.busy.Add(-1)
	}
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Stats returns the current queue depth and number of busy workers.
func (p *Pool) Stats() Stats {
	return Stats{
		Name:    p.name,
		Workers: p.size,
		Queued:  len(p.tasks),
		Busy:    int(p.busy.Load()),
	}
}

// Done is closed once every worker has exited.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// Do runs fn on a worker and waits for its result.
//
// fn receives a context that carries the values of ctx but is cancelled only when
// the pool is force-cancelled. Cancelling ctx stops the wait, not the work.
func Do[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	resCh := make(chan result[T], 1)

	err := p.submit(ctx, func(poolCtx context.Context) {
		if poolCtx.Err() != nil {
			resCh <- result[T]{err: p.cancelledErr()}
			return
		}

		taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		stop := context.AfterFunc(poolCtx, cancel)
		defer func() {
			stop()
			cancel()
		}()

		defer zerr.Defer(func(err error) {
			resCh <- result[T]{err: zerr.With(zerr.Wrap(err, "worker task panicked"), "pool", p.name)}
		})

		v, err := fn(taskCtx)
		resCh <- result[T]{value: v, err: err}
	})
	if err != nil {
		return zero, err
	}

	select {
	case r := <-resCh:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-p.ctx.Done():
		select {
		case r := <-resCh:
			return r.value, r.err
		default:
			return zero, p.cancelledErr()
		}
	}
}

func (p *Pool) submit(ctx context.Context, task func(context.Context)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return p.closedErr()
	}

	select {
	case p.tasks <- task:
		return nil
	case <-p.closing:
		return p.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting work and waits up to timeout for queued and running
// work to finish. Work still pending after the timeout is force-cancelled.
// It reports whether the pool drained without force-cancellation.
func (p *Pool) Shutdown(timeout time.Duration) bool {
	return ShutdownAll(timeout, p)
}

// ShutdownAll shuts down pools concurrently against a single shared deadline.
// It reports whether every pool drained without force-cancellation.
func ShutdownAll(timeout time.Duration, pools ...*Pool) bool {
	for _, p := range pools {
		p.beginShutdown()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	drained := true
wait:
	for _, p := range pools {
		select {
		case <-p.done:
			continue
		default:
		}
		select {
		case <-p.done:
		case <-timer.C:
			drained = false
			break wait
		}
	}

	for _, p := range pools {
		// Cancelling a drained pool only releases its context.
		p.cancel()
	}
	return drained
}

// ForceCancel stops accepting work and cancels everything queued or running
// without waiting.
func (p *Pool) ForceCancel() {
	p.beginShutdown()
	p.cancel()
}

// Closed reports whether shutdown has started.
func (p *Pool) Closed() bool {
	select {
	case <-p.closing:
		return true
	default:
		return false
	}
}

func (p *Pool) beginShutdown() {
	p.closeOnce.Do(func() {
		close(p.closing)

		p.mu.Lock()
		defer p.mu.Unlock()
		p.closed = true
		close(p.tasks)
	})
}

func (p *Pool) closedErr() error {
	return zerr.With(zerr.Wrap(domain.ErrPoolClosed, "rejected work"), "pool", p.name)
}

func (p *Pool) cancelledErr() error {
	return zerr.With(zerr.Wrap(domain.ErrPoolCancelled, "task abandoned"), "pool", p.name)
}
