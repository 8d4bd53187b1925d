// Package parallel provides the worker pool used to run independent
// pipeline stages concurrently. A stage may not start before its
// upstream stages have materialized; the pool only ever receives stages
// whose inputs are complete, and a failure cancels the remaining work
// rather than retrying it.
package parallel

import (
	"context"
	"runtime"
	"sync"
)

// WorkerPool manages a bounded set of goroutines.
type WorkerPool struct {
	numWorkers int
}

// NewWorkerPool creates a worker pool. Non-positive sizes fall back to
// the CPU count.
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	return &WorkerPool{numWorkers: numWorkers}
}

// Run executes the tasks concurrently and returns the first error.
// On error (or context cancellation) unstarted tasks are skipped;
// already running tasks finish. Results of completed tasks are kept in
// input order via the worker's index argument.
func Run[T any](ctx context.Context, wp *WorkerPool, tasks []func(context.Context) (T, error)) ([]T, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type indexedTask struct {
		index int
		task  func(context.Context) (T, error)
	}

	taskCh := make(chan indexedTask, len(tasks))
	results := make([]T, len(tasks))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i := 0; i < wp.numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range taskCh {
				select {
				case <-ctx.Done():
					return
				default:
				}
				result, err := it.task(ctx)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					cancel()
					return
				}
				mu.Lock()
				results[it.index] = result
				mu.Unlock()
			}
		}()
	}

	for i, task := range tasks {
		taskCh <- indexedTask{index: i, task: task}
	}
	close(taskCh)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
