package tasks

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

var _ TaskRunnerInterface = (*Pool)(nil)

// Pool executes tasks with a fixed number of concurrent workers. A failing
// task does not stop its siblings; cancelling the context stops new tasks
// from starting.
type Pool struct {
	workerCount int
}

func NewPool(workerCount int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{workerCount: workerCount}
}

// Run blocks until every started task has returned and reports how many
// tasks were started.
func (p *Pool) Run(ctx context.Context, tasks []TaskInterface) int {
	var g errgroup.Group
	g.SetLimit(p.workerCount)

	started := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			slog.Debug("Pool stopped, skipping task", "type", string(task.GetType()), "target", task.GetTargetName())
			continue
		}

		started++
		g.Go(func() error {
			p.executeTask(ctx, task)
			return nil
		})
	}

	g.Wait()

	return started
}

func (p *Pool) executeTask(ctx context.Context, task TaskInterface) {
	task.Start()

	if err := task.Execute(ctx); err != nil {
		slog.Error("Worker task execution failed", "type", string(task.GetType()), "id", task.GetID(), "target", task.GetTargetName(), "duration", task.GetDuration(), "error", err)
		return
	}

	slog.Debug("Worker task completed", "type", string(task.GetType()), "id", task.GetID(), "target", task.GetTargetName(), "duration", task.GetDuration())
}
