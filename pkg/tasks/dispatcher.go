package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prismon/photo-library/internal/models"
	"github.com/prismon/photo-library/pkg/liberr"
	"github.com/prismon/photo-library/pkg/queue"
	"github.com/sirupsen/logrus"
)

// Coordinator hands out claimed jobs and records their results.
// The library engine implements it.
type Coordinator interface {
	// ClaimNext claims the first ready task of the given kinds, or returns nil when none is ready
	ClaimNext(ctx context.Context, kinds []models.TaskKind) (*Job, error)
	// WaitClaim blocks until a task of the given kinds can be claimed
	WaitClaim(ctx context.Context, kinds []models.TaskKind) (*Job, error)
	// NextRetry reports the earliest backoff deadline among pending tasks of the given kinds
	NextRetry(ctx context.Context, kinds []models.TaskKind) (time.Time, bool, error)
	Complete(ctx context.Context, taskID string, outcome Outcome) error
	Fail(ctx context.Context, taskID string, err error, retryable bool) error
}

// DispatcherConfig bounds concurrency and execution time
type DispatcherConfig struct {
	Workers  int
	Timeouts map[models.TaskKind]time.Duration
}

// DefaultTimeouts are the per-kind execution limits
func DefaultTimeouts() map[models.TaskKind]time.Duration {
	return map[models.TaskKind]time.Duration{
		models.TaskBookmarkResolve: 30 * time.Second,
		models.TaskQuickHash:       30 * time.Second,
		models.TaskFullHash:        30 * time.Second,
		models.TaskExif:            30 * time.Second,
		models.TaskThumbnail:       10 * time.Second,
		models.TaskAITagging:       60 * time.Second,
		models.TaskEmbeddings:      60 * time.Second,
		models.TaskFaces:           60 * time.Second,
	}
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:  4,
		Timeouts: DefaultTimeouts(),
	}
}

const (
	claimRetryDelay    = 50 * time.Millisecond
	maxClaimRetryDelay = 5 * time.Second
)

// ErrTimeout is reported to the ledger when a worker exceeds its kind's timeout
var ErrTimeout = errors.New(ReasonTimeout)

// Dispatcher pulls ready tasks from a Coordinator and runs them on a bounded pool
type Dispatcher struct {
	coord   Coordinator
	cfg     DispatcherConfig
	workers map[models.TaskKind]Worker
	kinds   []models.TaskKind

	mu   sync.Mutex
	pool *queue.WorkerPool
}

// NewDispatcher registers workers by the kinds they support. A later worker
// replaces an earlier one for the same kind.
func NewDispatcher(coord Coordinator, cfg DispatcherConfig, workers ...Worker) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Timeouts == nil {
		cfg.Timeouts = DefaultTimeouts()
	}

	d := &Dispatcher{
		coord:   coord,
		cfg:     cfg,
		workers: make(map[models.TaskKind]Worker),
	}
	for _, w := range workers {
		for _, kind := range w.Kinds() {
			d.workers[kind] = w
		}
	}
	for _, kind := range models.AllTaskKinds {
		if _, ok := d.workers[kind]; ok {
			d.kinds = append(d.kinds, kind)
		}
	}
	return d
}

// Kinds returns the task kinds this dispatcher has workers for
func (d *Dispatcher) Kinds() []models.TaskKind {
	return d.kinds
}

// Supports reports whether a worker is registered for kind
func (d *Dispatcher) Supports(kind models.TaskKind) bool {
	_, ok := d.workers[kind]
	return ok
}

func (d *Dispatcher) timeout(kind models.TaskKind) time.Duration {
	if t, ok := d.cfg.Timeouts[kind]; ok && t > 0 {
		return t
	}
	return 30 * time.Second
}

// Run dispatches tasks until ctx is cancelled, then waits for running jobs
func (d *Dispatcher) Run(ctx context.Context) error {
	if len(d.kinds) == 0 {
		return fmt.Errorf("no workers registered")
	}

	pool := d.startPool()
	defer d.stopPool(pool)

	slots := make(chan struct{}, d.cfg.Workers)
	retryDelay := claimRetryDelay
	log.WithFields(logrus.Fields{
		"workers": d.cfg.Workers,
		"kinds":   d.kinds,
	}).Info("Dispatcher started")

	for {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		job, err := d.coord.WaitClaim(ctx, d.kinds)
		if err != nil {
			<-slots
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, liberr.ErrClosed) {
				log.Info("Library closed, dispatcher stopping")
				return err
			}
			log.WithError(err).WithField("retryIn", retryDelay).Warn("Claim failed")
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return nil
			}
			retryDelay = min(2*retryDelay, maxClaimRetryDelay)
			continue
		}
		retryDelay = claimRetryDelay

		if err := d.submit(ctx, pool, job, func() { <-slots }); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// RunUntilIdle dispatches tasks until nothing is ready, nothing is running and
// no retry is scheduled. It returns the number of jobs executed.
func (d *Dispatcher) RunUntilIdle(ctx context.Context) (int, error) {
	if len(d.kinds) == 0 {
		return 0, nil
	}

	pool := d.startPool()
	defer d.stopPool(pool)

	done := make(chan struct{}, d.cfg.Workers)
	inflight, executed := 0, 0

	for {
		for inflight < d.cfg.Workers {
			job, err := d.coord.ClaimNext(ctx, d.kinds)
			if err != nil {
				return executed, d.drain(done, inflight, err)
			}
			if job == nil {
				break
			}
			if err := d.submit(ctx, pool, job, func() { done <- struct{}{} }); err != nil {
				return executed, d.drain(done, inflight, err)
			}
			inflight++
			executed++
		}

		if inflight == 0 {
			next, ok, err := d.coord.NextRetry(ctx, d.kinds)
			if err != nil {
				return executed, err
			}
			if !ok {
				return executed, nil
			}
			wait := time.Until(next)
			if wait < time.Millisecond {
				wait = time.Millisecond
			}
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return executed, ctx.Err()
			}
		}

		select {
		case <-done:
			inflight--
		case <-ctx.Done():
			return executed, d.drain(done, inflight, ctx.Err())
		}
	}
}

// drain waits for in-flight jobs before returning err
func (d *Dispatcher) drain(done chan struct{}, inflight int, err error) error {
	for ; inflight > 0; inflight-- {
		<-done
	}
	return err
}

// Pause holds queued jobs until Resume; running jobs are not interrupted
func (d *Dispatcher) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool != nil {
		d.pool.Pause()
	}
}

func (d *Dispatcher) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool != nil {
		d.pool.Resume()
	}
}

// Stats reports the pool counters of the current run
func (d *Dispatcher) Stats() queue.WorkerPoolStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool == nil {
		return queue.WorkerPoolStats{WorkerCount: d.cfg.Workers}
	}
	return d.pool.Stats()
}

func (d *Dispatcher) startPool() *queue.WorkerPool {
	pool := queue.NewWorkerPool(d.cfg.Workers, d.cfg.Workers)
	pool.Start()
	d.mu.Lock()
	d.pool = pool
	d.mu.Unlock()
	return pool
}

func (d *Dispatcher) stopPool(pool *queue.WorkerPool) {
	pool.Stop()
	d.mu.Lock()
	if d.pool == pool {
		d.pool = nil
	}
	d.mu.Unlock()
}

func (d *Dispatcher) submit(ctx context.Context, pool *queue.WorkerPool, job *Job, release func()) error {
	err := pool.SubmitWait(ctx, queue.JobFunc{
		JobID: job.Task.ID,
		Fn: func(context.Context) error {
			defer release()
			return d.execute(job)
		},
	})
	if err != nil {
		release()
		// The claimed task would otherwise stay running forever
		if failErr := d.coord.Fail(context.WithoutCancel(ctx), job.Task.ID, err, true); failErr != nil {
			log.WithError(failErr).WithField("taskID", job.Task.ID).Warn("Failed to release unsubmitted task")
		}
		return err
	}
	return nil
}

// execute runs one job and reports its result. The returned error only feeds pool statistics.
func (d *Dispatcher) execute(job *Job) error {
	kind := job.Task.Kind
	jobLog := log.WithFields(logrus.Fields{
		"taskID":  job.Task.ID,
		"assetID": job.Task.AssetID,
		"kind":    kind,
	})

	worker, ok := d.workers[kind]
	if !ok {
		err := fmt.Errorf("no worker for %s", kind)
		d.report(job, nil, Permanent(err), jobLog)
		return err
	}

	ctx, cancel := context.WithTimeout(job.Context(), d.timeout(kind))
	defer cancel()

	start := time.Now()
	outcome, err := d.executeWithDeadline(ctx, worker, job)

	switch {
	case job.Context().Err() != nil:
		jobLog.Debug("Task cancelled while running, discarding result")
		return job.Context().Err()
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		// a result that arrives after the deadline is discarded
		outcome, err = nil, Retry(ErrTimeout)
	case err == nil && outcome == nil:
		err = Permanent(fmt.Errorf("worker returned no outcome"))
	}

	jobLog.WithField("duration", time.Since(start)).Trace("Task executed")
	d.report(job, outcome, err, jobLog)
	return err
}

type workerResult struct {
	outcome Outcome
	err     error
}

// executeWithDeadline returns when the worker does or when ctx is done,
// whichever comes first. A worker that ignores ctx keeps running in the
// background and its result is dropped.
func (d *Dispatcher) executeWithDeadline(ctx context.Context, worker Worker, job *Job) (Outcome, error) {
	done := make(chan workerResult, 1)
	go func() {
		outcome, err := worker.Execute(ctx, job)
		done <- workerResult{outcome: outcome, err: err}
	}()

	select {
	case r := <-done:
		return r.outcome, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) report(job *Job, outcome Outcome, err error, jobLog *logrus.Entry) {
	ctx := context.Background()
	if err != nil {
		if ferr := d.coord.Fail(ctx, job.Task.ID, err, IsRetryable(err)); ferr != nil {
			jobLog.WithError(ferr).Debug("Failure report rejected")
		}
		return
	}
	cerr := d.coord.Complete(ctx, job.Task.ID, outcome)
	switch {
	case cerr == nil:
	case errors.Is(cerr, liberr.ErrInvalid):
		// An unusable outcome would leave the task running forever
		jobLog.WithError(cerr).Warn("Worker produced an invalid outcome")
		if ferr := d.coord.Fail(ctx, job.Task.ID, cerr, false); ferr != nil {
			jobLog.WithError(ferr).Debug("Failure report rejected")
		}
	default:
		jobLog.WithError(cerr).Debug("Completion rejected")
	}
}
