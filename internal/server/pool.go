package server

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// WorkerPool runs at most size functions at once. Go blocks while the
// pool is full, which pushes back on the caller's accept loop.
type WorkerPool struct {
	sem    *semaphore.Weighted
	size   int64
	active atomic.Int64
	wg     sync.WaitGroup
}

// NewWorkerPool creates a pool with the given number of workers.
func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
	}
}

// Go waits for a free worker and runs fn on it. It returns ctx.Err() if
// ctx ends before a worker frees up; fn is not run in that case.
func (p *WorkerPool) Go(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.active.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer p.active.Add(-1)
		fn()
	}()
	return nil
}

// Wait blocks until every started function has returned.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Active returns the number of busy workers.
func (p *WorkerPool) Active() int64 {
	return p.active.Load()
}

// Size returns the pool capacity.
func (p *WorkerPool) Size() int64 {
	return p.size
}
