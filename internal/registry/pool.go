package registry

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// workerPool runs compile jobs on a bounded set of concurrent workers.
// There is no event loop: jobs are plain functions queued to workers, and
// ordering between independently keyed jobs is never guaranteed.
type workerPool struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func newWorkerPool(parent context.Context, concurrency int64) *workerPool {
	ctx, cancel := context.WithCancel(parent)
	return &workerPool{sem: semaphore.NewWeighted(concurrency), ctx: ctx, cancel: cancel}
}

// submit queues job to run as soon as a worker slot is free. job receives
// the pool's context, which is cancelled when StallOnPendingOperations is
// called with cancelAll=true; jobs are expected to check it between
// sub-steps, not to be preempted mid-job.
func (p *workerPool) submit(job func(ctx context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		job(p.ctx)
	}()
}

// stallOnPendingOperations waits for every queued job to finish.
// cancelAll additionally cancels the pool's context so workers that check
// it between steps abort early; jobs already mid-step still run to their
// next checkpoint.
func (p *workerPool) stallOnPendingOperations(cancelAll bool) {
	if cancelAll {
		p.cancel()
	}
	p.wg.Wait()
}
