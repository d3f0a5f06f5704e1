package downloader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coursedl/pkg/logger"
)

// Job is one catalog video to process
type Job struct {
	Index   int
	Section string
	Name    string
	PageURL string
	Dest    string
}

// Tally counts the files a job produced
type Tally struct {
	Downloaded int
	Skipped    int
	Bytes      int64
}

// Result represents the outcome of a job
type Result struct {
	Job      Job
	Tally    Tally
	Error    error
	Duration time.Duration
}

// Handler performs a single job
type Handler func(ctx context.Context, job Job) (Tally, error)

// WorkerPool runs jobs on a fixed number of workers. The job queue holds
// twice as many jobs as there are workers, so Submit blocks once the workers
// fall behind.
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan Job
	resultQueue chan Result
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	handler     Handler
	logger      logger.Logger
}

// NewWorkerPool creates a pool whose workers stop picking up jobs once ctx
// is cancelled
func NewWorkerPool(ctx context.Context, numWorkers int, handler Handler, log logger.Logger) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}

	ctx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan Job, numWorkers*2),
		resultQueue: make(chan Result, numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		handler:     handler,
		logger:      log.WithField("component", "worker_pool"),
	}
}

// Start launches the workers
func (wp *WorkerPool) Start() {
	wp.logger.InfoWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the queue, waits for the workers to drain it and closes the
// result channel. It must be called exactly once, after the last Submit.
func (wp *WorkerPool) Stop() {
	wp.logger.Debug("Stopping worker pool...")

	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()

	wp.logger.Debug("Worker pool stopped")
}

// Submit queues a job, blocking while the queue is full. It fails once the
// pool context is cancelled.
func (wp *WorkerPool) Submit(job Job) error {
	if err := wp.ctx.Err(); err != nil {
		return fmt.Errorf("worker pool is shutting down: %w", err)
	}

	select {
	case wp.jobQueue <- job:
		wp.logger.DebugWithFields("Job submitted to queue", map[string]interface{}{
			"name":    job.Name,
			"section": job.Section,
		})
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down: %w", wp.ctx.Err())
	}
}

// Results returns the channel results are delivered on. It must be drained
// until closed, otherwise the workers block.
func (wp *WorkerPool) Results() <-chan Result {
	return wp.resultQueue
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		// queued jobs are dropped after cancellation
		if wp.ctx.Err() != nil {
			continue
		}

		start := time.Now()
		tally, err := wp.handler(wp.ctx, job)
		result := Result{
			Job:      job,
			Tally:    tally,
			Error:    err,
			Duration: time.Since(start),
		}

		if err != nil {
			wp.logger.DebugWithFields("Worker finished job with error", map[string]interface{}{
				"worker_id": id,
				"name":      job.Name,
				"error":     err.Error(),
			})
		}

		wp.resultQueue <- result
	}
}
