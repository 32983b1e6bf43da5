package llm

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// WorkerPoolConfig configures the LLM worker pool.
type WorkerPoolConfig struct {
	MaxConcurrent int // concurrent provider calls, default 8
}

// WorkerPool runs batches of provider calls, such as table embeddings, with
// a fixed number of workers.
type WorkerPool struct {
	workers int
	logger  *zap.Logger
}

// NewWorkerPool creates a worker pool.
func NewWorkerPool(config WorkerPoolConfig, logger *zap.Logger) *WorkerPool {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 8
	}
	return &WorkerPool{
		workers: config.MaxConcurrent,
		logger:  logger.Named("llm-worker-pool"),
	}
}

// WorkItem is one call to run in the pool.
type WorkItem[T any] struct {
	ID      string
	Execute func(ctx context.Context) (T, error)
}

// WorkResult is the outcome of a WorkItem.
type WorkResult[T any] struct {
	ID     string
	Result T
	Err    error
}

// Process runs every item and returns the results in item order. A failed
// item does not stop the batch. Items not yet started when ctx is done are
// skipped and report ctx.Err(). onProgress, when set, is called from a single
// goroutine after each item finishes.
func Process[T any](
	ctx context.Context,
	pool *WorkerPool,
	items []WorkItem[T],
	onProgress func(completed, total int),
) []WorkResult[T] {
	if len(items) == 0 {
		return nil
	}

	results := make([]WorkResult[T], len(items))
	next := make(chan int)
	done := make(chan int, len(items))

	var wg sync.WaitGroup
	for range min(pool.workers, len(items)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				res := WorkResult[T]{ID: items[i].ID}
				if err := ctx.Err(); err != nil {
					res.Err = err
				} else {
					res.Result, res.Err = items[i].Execute(ctx)
				}
				results[i] = res
				done <- i
			}
		}()
	}

	go func() {
		for i := range items {
			next <- i
		}
		close(next)
		wg.Wait()
		close(done)
	}()

	completed := 0
	for i := range done {
		completed++
		if err := results[i].Err; err != nil {
			pool.logger.Debug("Work item failed", zap.String("id", results[i].ID), zap.Error(err))
		}
		if onProgress != nil {
			onProgress(completed, len(items))
		}
	}

	return results
}
