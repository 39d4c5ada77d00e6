// Package pool provides a bounded worker pool for sandboxed execution.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool queue is full")
)

// Task represents a unit of work.
type Task func(ctx context.Context) error

// WorkerPoolConfig configures the pool.
type WorkerPoolConfig struct {
	Workers   int `json:"workers" yaml:"workers"`
	QueueSize int `json:"queue_size" yaml:"queue_size"`
}

// DefaultWorkerPoolConfig returns defaults sized for de-identification programs.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{Workers: 4, QueueSize: 64}
}

// WorkerPool runs tasks on a fixed set of worker goroutines.
// Unlike an unbounded go statement, a full pool applies backpressure
// so runaway de-identification programs cannot exhaust the process.
type WorkerPool struct {
	taskQueue chan taskWrapper
	closed    atomic.Bool
	wg        sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

type taskWrapper struct {
	task   Task
	ctx    context.Context
	result chan error
}

// NewWorkerPool creates and starts a fixed-size worker pool.
func NewWorkerPool(config WorkerPoolConfig) *WorkerPool {
	def := DefaultWorkerPoolConfig()
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	p := &WorkerPool{
		taskQueue: make(chan taskWrapper, config.QueueSize),
	}
	for i := 0; i < config.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// SubmitWait submits a task and blocks until it completes or ctx is done.
// The task itself observes ctx cancellation through its argument.
func (p *WorkerPool) SubmitWait(ctx context.Context, task Task) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.submitted.Add(1)

	wrapper := taskWrapper{task: task, ctx: ctx, result: make(chan error, 1)}
	select {
	case p.taskQueue <- wrapper:
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	}

	select {
	case err := <-wrapper.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit submits a task without waiting for completion.
// Returns ErrPoolFull when the queue is saturated.
func (p *WorkerPool) TrySubmit(ctx context.Context, task Task) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.submitted.Add(1)

	wrapper := taskWrapper{task: task, ctx: ctx, result: make(chan error, 1)}
	select {
	case p.taskQueue <- wrapper:
		return nil
	default:
		p.rejected.Add(1)
		return ErrPoolFull
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for wrapper := range p.taskQueue {
		err := p.runTask(wrapper)
		if wrapper.result != nil {
			wrapper.result <- err
			close(wrapper.result)
		}
		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
	}
}

func (p *WorkerPool) runTask(wrapper taskWrapper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("task panicked")
		}
	}()
	if wrapper.ctx.Err() != nil {
		return wrapper.ctx.Err()
	}
	return wrapper.task(wrapper.ctx)
}

// Close stops accepting tasks and waits for in-flight work to finish.
func (p *WorkerPool) Close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.taskQueue)
	p.wg.Wait()
}

// Stats returns pool counters.
func (p *WorkerPool) Stats() WorkerPoolStats {
	return WorkerPoolStats{
		Queued:    len(p.taskQueue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// WorkerPoolStats contains pool counters.
type WorkerPoolStats struct {
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}
