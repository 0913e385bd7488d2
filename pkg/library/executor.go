package library

import (
	"context"
	"fmt"
	"sync"

	"github.com/prismon/photo-library/pkg/liberr"
)

var (
	errExecutorStopped  = liberr.ErrClosed
	errExecutorShutdown = fmt.Errorf("%w while waiting for result", liberr.ErrClosed)
)

// executor serializes every access to the engine state through one goroutine.
// Operations receive a txn; a nil return commits whatever the txn recorded.
type executor struct {
	queue   chan request
	done    chan struct{}
	exited  chan struct{}
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex

	newTxn func() *txn
	commit func(*txn)
}

type request struct {
	op     func(tx *txn) error
	result chan error
	ctx    context.Context
}

func newExecutor(queueSize int, newTxn func() *txn, commit func(*txn)) *executor {
	if queueSize < 1 {
		queueSize = 64
	}
	return &executor{
		queue:  make(chan request, queueSize),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		newTxn: newTxn,
		commit: commit,
	}
}

func (ex *executor) start() {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	if ex.started {
		return
	}
	ex.started = true
	ex.wg.Add(1)
	go ex.worker()
}

// stop processes the requests already queued, then exits
func (ex *executor) stop() {
	ex.mu.Lock()
	if !ex.started {
		ex.mu.Unlock()
		return
	}
	ex.started = false
	ex.mu.Unlock()

	close(ex.done)
	ex.wg.Wait()
}

// submit runs op on the executor goroutine and waits for its result
func (ex *executor) submit(ctx context.Context, op func(tx *txn) error) error {
	ex.mu.Lock()
	if !ex.started {
		ex.mu.Unlock()
		return errExecutorStopped
	}
	ex.mu.Unlock()

	req := request{
		op:     op,
		result: make(chan error, 1),
		ctx:    ctx,
	}

	select {
	case ex.queue <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-ex.done:
		return errExecutorStopped
	}

	// Once queued the op runs to completion, so callers may safely read what it captured
	select {
	case err := <-req.result:
		return err
	case <-ex.exited:
		select {
		case err := <-req.result:
			return err
		default:
			return errExecutorShutdown
		}
	}
}

func (ex *executor) worker() {
	defer ex.wg.Done()
	defer close(ex.exited)

	for {
		select {
		case req := <-ex.queue:
			ex.process(req)
		case <-ex.done:
			ex.drain()
			return
		}
	}
}

func (ex *executor) process(req request) {
	if req.ctx != nil && req.ctx.Err() != nil {
		req.result <- req.ctx.Err()
		return
	}

	tx := ex.newTxn()
	err := req.op(tx)
	if err == nil && tx.dirty() {
		ex.commit(tx)
	}
	req.result <- err
}

func (ex *executor) drain() {
	for {
		select {
		case req := <-ex.queue:
			ex.process(req)
		default:
			return
		}
	}
}
