// Package background runs batches of independent side effects (notifications,
// realtime pushes) off the request path. Failures are logged per task and
// never propagated to the caller.
package background

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type Task func(ctx context.Context) error

// Executor tracks in-flight batches so shutdown and tests can drain them.
type Executor struct {
	log *zap.Logger
	wg  sync.WaitGroup
}

func NewExecutor(log *zap.Logger) *Executor {
	return &Executor{log: log}
}

// Run fires all tasks concurrently and returns immediately. Each task logs
// its own outcome with its index and the batch label; one failure never
// affects the others and nothing is retried.
func (e *Executor) Run(label string, tasks ...Task) {
	e.wg.Add(len(tasks))
	for i, task := range tasks {
		go func(i int, task Task) {
			defer e.wg.Done()
			if err := task(context.Background()); err != nil {
				e.log.Error("background task failed",
					zap.String("context", label),
					zap.Int("task", i+1),
					zap.Int("of", len(tasks)),
					zap.Error(err))
				return
			}
			e.log.Debug("background task done",
				zap.String("context", label),
				zap.Int("task", i+1),
				zap.Int("of", len(tasks)))
		}(i, task)
	}
}

// Wait blocks until every batch started so far has finished.
func (e *Executor) Wait() { e.wg.Wait() }

// Result pairs one parallel task's value with its error.
type Result[T any] struct {
	Value T
	Err   error
}

func (r Result[T]) OK() bool { return r.Err == nil }

// RunParallel runs tasks concurrently and waits, returning per-task outcomes
// in input order. Used where the caller needs the results rather than
// fire-and-forget, e.g. bulk imports.
func RunParallel[T any](ctx context.Context, log *zap.Logger, label string, tasks []func(context.Context) (T, error)) []Result[T] {
	results := make([]Result[T], len(tasks))
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for i, task := range tasks {
		go func(i int, task func(context.Context) (T, error)) {
			defer wg.Done()
			v, err := task(ctx)
			results[i] = Result[T]{Value: v, Err: err}
			if err != nil {
				log.Warn("parallel task failed",
					zap.String("context", label),
					zap.Int("task", i+1),
					zap.Int("of", len(tasks)),
					zap.Error(err))
			}
		}(i, task)
	}
	wg.Wait()
	return results
}
