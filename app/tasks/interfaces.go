package tasks

import "context"

// TaskRunnerInterface runs a batch of tasks to completion.
// Example usage:
//
//	pool := NewPool(cfg.WorkerCount)
//	pool.Run(ctx, []TaskInterface{task1, task2})
type TaskRunnerInterface interface {
	Run(ctx context.Context, tasks []TaskInterface) int
}
