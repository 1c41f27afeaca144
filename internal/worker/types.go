package worker

import (
	"context"
	"time"

	"github.com/ChuLiYu/lapboard/pkg/types"
)

// Task is one refresh cycle handed to the pool.
type Task struct {
	ID         string        // cycle id, used for log correlation
	Generation uint64        // scheduler generation the cycle was started under
	Query      types.Query   // validated refresh parameters
	Timeout    time.Duration // upper bound for the whole cycle
}

// Result is the outcome of a Task.
type Result struct {
	TaskID     string
	Generation uint64
	Board      types.Leaderboard // valid when Err is nil
	Err        error
	Duration   time.Duration
}

// Runner performs the fetch and aggregation for one cycle.
type Runner func(ctx context.Context, q types.Query) (types.Leaderboard, error)
