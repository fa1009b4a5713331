package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrPoolClosed is returned by Shutdown when called twice.
var ErrPoolClosed = errors.New("worker pool closed")

// WorkerPool runs submitted tasks on a fixed number of goroutines fed by a
// bounded queue. Submit never blocks.
type WorkerPool struct {
	tasks  chan func()
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	logger *slog.Logger
}

// NewWorkerPool starts workers goroutines sharing a queue of queueSize tasks.
func NewWorkerPool(workers, queueSize int, logger *slog.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &WorkerPool{
		tasks:  make(chan func(), queueSize),
		logger: logger.With("component", "WorkerPool"),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	p.logger.Debug("Worker pool started", "workers", workers, "queue_size", queueSize)
	return p
}

func (p *WorkerPool) work() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

// run keeps a panicking task from taking its worker down.
func (p *WorkerPool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Background task panicked", "panic", r)
		}
	}()
	task()
}

// Submit queues task and reports whether it was accepted. It returns false
// when the queue is full or the pool is shutting down.
func (p *WorkerPool) Submit(task func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish or for
// ctx to expire.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
