// ============================================================================
// lapboard Worker - cycle execution unit
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: Runs refresh cycles off the foreground. Each Worker is one goroutine.
//
// How it works:
//   1. Receive a Task from taskCh (blocking wait)
//   2. Run the cycle with a per-task deadline
//   3. Send the Result to resultCh
//   4. Repeat until taskCh is closed
//
// Timeout Control:
//   Every task gets its own context.WithTimeout, so a hung timing service
//   cannot keep a cycle in flight forever. The HTTP client adds a tighter
//   per-request timeout on top of this.
//
// Result delivery:
//   Sends on resultCh block. The pool closes resultCh only after every worker
//   has returned, and the consumer drains it until then, so no result of a
//   started cycle is ever dropped.
//
// ============================================================================

package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ChuLiYu/lapboard/pkg/types"
)

// Worker represents a work execution unit
type Worker struct {
	id       int
	run      Runner
	taskCh   <-chan Task
	resultCh chan<- Result
}

func newWorker(id int, run Runner, taskCh <-chan Task, resultCh chan<- Result) *Worker {
	return &Worker{
		id:       id,
		run:      run,
		taskCh:   taskCh,
		resultCh: resultCh,
	}
}

// Run is the main loop of Worker
func (w *Worker) Run() {
	for task := range w.taskCh {
		start := time.Now()

		ctx, cancel := taskContext(task)
		board, err := w.execute(ctx, task)
		cancel()

		w.resultCh <- Result{
			TaskID:     task.ID,
			Generation: task.Generation,
			Board:      board,
			Err:        err,
			Duration:   time.Since(start),
		}
	}
}

func taskContext(task Task) (context.Context, context.CancelFunc) {
	if task.Timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), task.Timeout)
}

// execute runs the cycle. A panicking Runner becomes an error instead of
// taking the worker down.
func (w *Worker) execute(ctx context.Context, task Task) (board types.Leaderboard, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %d: cycle %s panicked: %v", w.id, task.ID, r)
		}
	}()
	return w.run(ctx, task.Query)
}
