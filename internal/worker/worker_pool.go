// ============================================================================
// lapboard Worker Pool - background cycle executor
// ============================================================================
//
// Package: internal/worker
// File: worker_pool.go
// Function: Owns the worker goroutines that run refresh cycles and the
//           channels that carry tasks in and results out.
//
// Architecture:
//   ┌─────────────┐
//   │ Scheduler   │ --Submit()--> taskCh
//   └─────────────┘
//         ↑
//   ReceiveResult()
//         ↑
//   ┌─────────────┐
//   │   Pool      │
//   │  ┌────────┐ │
//   │  │Worker 1│←── taskCh   ──→ resultCh
//   │  └────────┘ │
//   └─────────────┘
//
//   The scheduler runs a single worker, which makes cycles strictly FIFO.
//
// Lifecycle:
//   1. NewPool(bufferSize, runner)
//   2. Start(n)        - launch n workers
//   3. Submit(task)    - non-blocking enqueue
//   4. ReceiveResult() - read results until the pool is drained
//   5. Stop()          - refuse new tasks, wait for running ones, close resultCh
//
// Concurrency:
//   Submit sends while holding mu and never blocks (ErrPoolBusy when the
//   buffer is full). Stop closes taskCh under the same mutex, so a send can
//   never hit a closed channel.
//
// ============================================================================

package worker

import (
	"errors"
	"sync"
)

var (
	// ErrPoolClosed is returned once Stop has been called
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolNotStarted is returned before Start
	ErrPoolNotStarted = errors.New("worker pool not started")
	// ErrPoolBusy is returned when the task buffer is full
	ErrPoolBusy = errors.New("worker pool is busy")
)

// Pool manages the worker goroutines
type Pool struct {
	run      Runner
	workers  []*Worker
	taskCh   chan Task
	resultCh chan Result
	wg       sync.WaitGroup
	started  bool
	stopped  bool
	mu       sync.Mutex
}

// NewPool creates a pool whose workers execute run.
// bufferSize bounds both queued tasks and undelivered results.
func NewPool(bufferSize int, run Runner) *Pool {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Pool{
		run:      run,
		workers:  make([]*Worker, 0),
		taskCh:   make(chan Task, bufferSize),
		resultCh: make(chan Result, bufferSize),
	}
}

// Start launches workerCount workers.
func (p *Pool) Start(workerCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New("pool already started")
	}
	if p.stopped {
		return ErrPoolClosed
	}

	for i := 0; i < workerCount; i++ {
		w := newWorker(i, p.run, p.taskCh, p.resultCh)
		p.workers = append(p.workers, w)

		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run()
		}(w)
	}

	p.started = true
	return nil
}

// Submit queues a task without blocking.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolClosed
	}
	if !p.started {
		return ErrPoolNotStarted
	}

	select {
	case p.taskCh <- task:
		return nil
	default:
		return ErrPoolBusy
	}
}

// ReceiveResult blocks for the next result. It returns ErrPoolClosed once the
// pool is stopped and every result has been read.
func (p *Pool) ReceiveResult() (Result, error) {
	result, ok := <-p.resultCh
	if !ok {
		return Result{}, ErrPoolClosed
	}
	return result, nil
}

// Stop refuses new tasks, lets queued and running tasks finish, then closes
// the result channel. Results must keep being received while Stop waits.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.taskCh)
	wasStarted := p.started
	p.mu.Unlock()

	if wasStarted {
		p.wg.Wait()
	}
	close(p.resultCh)
}

// GetWorkerCount returns the number of workers started
func (p *Pool) GetWorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

