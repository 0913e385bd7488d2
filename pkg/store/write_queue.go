package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

var (
	errQueueStopped  = errors.New("write queue not started")
	errQueueShutdown = errors.New("write queue is shutting down")
)

// writeQueue runs every write on one goroutine. SQLite allows a single
// writer; funnelling writes avoids "database is locked" errors.
type writeQueue struct {
	db      *sql.DB
	queue   chan writeRequest
	done    chan struct{}
	exited  chan struct{}
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

type writeRequest struct {
	operation func(tx *sql.Tx) error
	result    chan error
	ctx       context.Context
}

func newWriteQueue(db *sql.DB, size int) *writeQueue {
	if size < 1 {
		size = 16
	}
	return &writeQueue{
		db:     db,
		queue:  make(chan writeRequest, size),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

func (wq *writeQueue) start() {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	if wq.started {
		return
	}
	wq.started = true
	wq.wg.Add(1)
	go wq.worker()
}

// stop finishes queued writes, then exits
func (wq *writeQueue) stop() {
	wq.mu.Lock()
	if !wq.started {
		wq.mu.Unlock()
		return
	}
	wq.started = false
	wq.mu.Unlock()

	close(wq.done)
	wq.wg.Wait()
}

// submitTx runs operation inside a transaction on the writer goroutine.
// The transaction commits when operation returns nil.
func (wq *writeQueue) submitTx(ctx context.Context, operation func(tx *sql.Tx) error) error {
	wq.mu.Lock()
	if !wq.started {
		wq.mu.Unlock()
		return errQueueStopped
	}
	wq.mu.Unlock()

	req := writeRequest{operation: operation, result: make(chan error, 1), ctx: ctx}
	select {
	case wq.queue <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-wq.done:
		return errQueueShutdown
	}

	select {
	case err := <-req.result:
		return err
	case <-wq.exited:
		select {
		case err := <-req.result:
			return err
		default:
			return errQueueShutdown
		}
	}
}

func (wq *writeQueue) worker() {
	defer wq.wg.Done()
	defer close(wq.exited)

	for {
		select {
		case req := <-wq.queue:
			req.result <- wq.process(req)
		case <-wq.done:
			for {
				select {
				case req := <-wq.queue:
					req.result <- wq.process(req)
				default:
					return
				}
			}
		}
	}
}

func (wq *writeQueue) process(req writeRequest) error {
	if req.ctx != nil && req.ctx.Err() != nil {
		return req.ctx.Err()
	}

	tx, err := wq.db.BeginTx(req.ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := req.operation(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.WithError(rbErr).Error("Failed to rollback transaction after error")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
