package pool

import (
	"context"
	"sync"
)

// WorkerPool bounds how many task handlers run at once.
type WorkerPool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func NewWorkerPool(maxWorkers int) *WorkerPool {
	return &WorkerPool{
		sem: make(chan struct{}, maxWorkers),
	}
}

// Submit runs fn on its own goroutine once a worker slot frees up. If the
// context ends first, fn never runs.
func (p *WorkerPool) Submit(ctx context.Context, fn func(context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
			fn(ctx)
		case <-ctx.Done():
		}
	}()
}

// Wait blocks until every submitted function has returned.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
