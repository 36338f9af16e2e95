package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed is returned for work submitted to, or stranded in, a closed pool
var ErrPoolClosed = errors.New("worker pool closed")

type job struct {
	run   func()
	abort func(error)
}

// Pool runs CPU-bound decode and render work off the message loop. It is
// shared by all sessions; each session keeps at most one job in flight, so a
// pool with one worker per active session cannot be monopolised.
type Pool struct {
	workers int
	jobs    chan job
	done    chan struct{}
	once    sync.Once
	group   errgroup.Group
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPool starts a pool with the given number of workers (minimum 1)
func NewPool(workers int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		workers: workers,
		jobs:    make(chan job, workers),
		done:    make(chan struct{}),
		logger:  logger,
	}
	for i := 0; i < workers; i++ {
		p.group.Go(p.work)
	}
	logger.Debug("worker pool started", zap.Int("workers", workers))
	return p
}

// Workers returns the pool size
func (p *Pool) Workers() int {
	return p.workers
}

// Pending returns the number of queued jobs not yet picked by a worker
func (p *Pool) Pending() int {
	return len(p.jobs)
}

func (p *Pool) work() error {
	for {
		select {
		case <-p.done:
			return nil
		case j := <-p.jobs:
			j.run()
		}
	}
}

// Shutdown stops the workers. Jobs still queued fail with ErrPoolClosed;
// jobs already running finish first. Safe to call more than once.
func (p *Pool) Shutdown() error {
	p.once.Do(func() { close(p.done) })
	err := p.group.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for {
		select {
		case j := <-p.jobs:
			j.abort(ErrPoolClosed)
		default:
			return err
		}
	}
}

func (p *Pool) enqueue(ctx context.Context, j job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case <-p.done:
		return ErrPoolClosed
	default:
	}
	select {
	case p.jobs <- j:
		return nil
	case <-p.done:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Future is the pending result of a submitted job
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Done is closed once the result is available
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the job finishes or ctx is cancelled
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit queues fn on the pool and returns its future. A panic inside fn is
// recovered and reported as the job's error.
func Submit[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (*Future[T], error) {
	f := &Future[T]{done: make(chan struct{})}
	var once sync.Once
	finish := func(v T, err error) {
		once.Do(func() {
			f.value, f.err = v, err
			close(f.done)
		})
	}

	j := job{
		run: func() {
			var zero T
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("worker job panicked", zap.Any("panic", r))
					finish(zero, fmt.Errorf("worker job panicked: %v", r))
				}
			}()
			if err := ctx.Err(); err != nil {
				finish(zero, err)
				return
			}
			finish(fn(ctx))
		},
		abort: func(err error) {
			var zero T
			finish(zero, err)
		},
	}

	if err := p.enqueue(ctx, j); err != nil {
		return nil, err
	}
	return f, nil
}

// Run submits fn and waits for its result
func Run[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	f, err := Submit(ctx, p, fn)
	if err != nil {
		var zero T
		return zero, err
	}
	return f.Wait(ctx)
}
