package ingest

import (
	"context"
	"sync"
)

// workerPool runs fn over jobs on n goroutines fed by a bounded queue.
type workerPool[T any] struct {
	mu     sync.RWMutex
	closed bool
	queue  chan T
	fn     func(context.Context, T)
	wg     sync.WaitGroup
}

// newWorkerPool starts n workers. Jobs run with ctx; cancelling it does not
// stop the workers, close does.
func newWorkerPool[T any](ctx context.Context, n, depth int, fn func(context.Context, T)) *workerPool[T] {
	p := &workerPool[T]{
		queue: make(chan T, depth),
		fn:    fn,
	}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer p.wg.Done()
			for job := range p.queue {
				p.fn(ctx, job)
			}
		}()
	}
	return p
}

// Submit enqueues without blocking. It returns false when the queue is full
// or the pool is closed.
func (p *workerPool[T]) Submit(job T) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- job:
		return true
	default:
		return false
	}
}

// close stops intake and waits for queued jobs to finish.
func (p *workerPool[T]) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *workerPool[T]) Len() int { return len(p.queue) }
func (p *workerPool[T]) Cap() int { return cap(p.queue) }
