package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/prismon/photo-library/pkg/logger"
	"github.com/sirupsen/logrus"
)

var log *logrus.Entry

func init() {
	log = logger.WithName("queue")
}

var (
	ErrPoolClosed   = errors.New("worker pool is closed")
	ErrPoolStopping = errors.New("worker pool is shutting down")
)

// Job represents a unit of work to be processed
type Job interface {
	Execute(ctx context.Context) error
	ID() string
}

// JobFunc adapts a function into a Job
type JobFunc struct {
	JobID string
	Fn    func(ctx context.Context) error
}

func (j JobFunc) Execute(ctx context.Context) error { return j.Fn(ctx) }
func (j JobFunc) ID() string                        { return j.JobID }

// JobResult contains the result of a job execution
type JobResult struct {
	JobID string
	Error error
}

// WorkerPool runs submitted jobs on a fixed number of goroutines
type WorkerPool struct {
	workerCount int
	jobs        chan Job
	results     chan JobResult
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	resultsWg   sync.WaitGroup

	pauseMu sync.Mutex
	paused  bool
	resume  chan struct{} // closed on Resume

	jobsProcessed atomic.Int64
	jobsFailed    atomic.Int64
	jobsQueued    atomic.Int64

	mu       sync.Mutex
	started  bool
	closed   atomic.Bool
	stopOnce sync.Once
}

// NewWorkerPool creates a pool with workerCount goroutines and a queue of queueSize jobs
func NewWorkerPool(workerCount int, queueSize int) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	if workerCount < 1 {
		workerCount = 1
	}

	return &WorkerPool{
		workerCount: workerCount,
		jobs:        make(chan Job, queueSize),
		results:     make(chan JobResult, max(queueSize, workerCount)),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins processing jobs
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	if wp.started {
		wp.mu.Unlock()
		return
	}
	wp.started = true
	wp.mu.Unlock()

	log.WithField("workerCount", wp.workerCount).Debug("Starting worker pool")

	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	wp.resultsWg.Add(1)
	go wp.collectResults()
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	workerLog := log.WithField("workerID", id)

	for {
		select {
		case job, ok := <-wp.jobs:
			if !ok {
				return
			}

			// A job received while paused is held until the pool resumes
			if !wp.waitWhilePaused() {
				workerLog.WithField("jobID", job.ID()).Trace("Dropped job on cancel")
				return
			}

			err := job.Execute(wp.ctx)

			select {
			case wp.results <- JobResult{JobID: job.ID(), Error: err}:
			case <-wp.ctx.Done():
				return
			}

		case <-wp.ctx.Done():
			return
		}
	}
}

// waitWhilePaused blocks until the pool is resumed; false means the pool was stopped
func (wp *WorkerPool) waitWhilePaused() bool {
	wp.pauseMu.Lock()
	if !wp.paused {
		wp.pauseMu.Unlock()
		return true
	}
	resume := wp.resume
	wp.pauseMu.Unlock()

	select {
	case <-resume:
		return true
	case <-wp.ctx.Done():
		return false
	}
}

func (wp *WorkerPool) collectResults() {
	defer wp.resultsWg.Done()
	for result := range wp.results {
		wp.jobsProcessed.Add(1)

		if result.Error != nil {
			wp.jobsFailed.Add(1)
			log.WithFields(logrus.Fields{
				"jobID": result.JobID,
				"error": result.Error,
			}).Debug("Job failed")
		}
	}
}

// SubmitWait queues a job, blocking until there is room or ctx is done
func (wp *WorkerPool) SubmitWait(ctx context.Context, job Job) error {
	if wp.closed.Load() {
		return ErrPoolClosed
	}

	select {
	case wp.jobs <- job:
		wp.jobsQueued.Add(1)
		return nil
	case <-wp.ctx.Done():
		return ErrPoolStopping
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pause stops workers from picking up new jobs; running jobs finish
func (wp *WorkerPool) Pause() {
	wp.pauseMu.Lock()
	defer wp.pauseMu.Unlock()
	if wp.paused {
		return
	}
	wp.paused = true
	wp.resume = make(chan struct{})
	log.Info("Worker pool paused")
}

// Resume lets workers pick up jobs again
func (wp *WorkerPool) Resume() {
	wp.pauseMu.Lock()
	defer wp.pauseMu.Unlock()
	if !wp.paused {
		return
	}
	wp.paused = false
	close(wp.resume)
	log.Info("Worker pool resumed")
}

// Stop drains the queued jobs and waits for the workers to exit
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		wp.closed.Store(true)
		wp.Resume()
		close(wp.jobs)
		wp.wg.Wait()
		close(wp.results)
		wp.resultsWg.Wait()
		wp.cancel()
		log.Debug("Worker pool stopped")
	})
}

// Stats returns current statistics
func (wp *WorkerPool) Stats() WorkerPoolStats {
	wp.pauseMu.Lock()
	paused := wp.paused
	wp.pauseMu.Unlock()

	return WorkerPoolStats{
		WorkerCount:   wp.workerCount,
		JobsQueued:    wp.jobsQueued.Load(),
		JobsProcessed: wp.jobsProcessed.Load(),
		JobsFailed:    wp.jobsFailed.Load(),
		IsPaused:      paused,
	}
}

// WorkerPoolStats contains statistics about the worker pool
type WorkerPoolStats struct {
	WorkerCount   int   `json:"worker_count"`
	JobsQueued    int64 `json:"jobs_queued"`
	JobsProcessed int64 `json:"jobs_processed"`
	JobsFailed    int64 `json:"jobs_failed"`
	IsPaused      bool  `json:"is_paused"`
}
