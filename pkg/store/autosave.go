package store

import (
	"context"
	"sync"
	"time"

	"github.com/prismon/photo-library/pkg/library"
)

// Autosave writes the engine's snapshot to the store shortly after changes.
// Bursts of events within delay collapse into one save.
type Autosave struct {
	engine *library.Engine
	store  *Store
	delay  time.Duration

	mu          sync.Mutex
	timer       *time.Timer
	saved       int64
	stopped     bool
	unsubscribe func()
	saving      sync.Mutex
}

// StartAutosave subscribes to engine changes. Call Stop to flush and detach.
func StartAutosave(engine *library.Engine, store *Store, delay time.Duration) *Autosave {
	if delay <= 0 {
		delay = time.Second
	}
	as := &Autosave{engine: engine, store: store, delay: delay, saved: engine.Version()}
	as.unsubscribe = engine.Subscribe(func(library.Event) { as.schedule() })
	return as
}

func (as *Autosave) schedule() {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.stopped || as.timer != nil {
		return
	}
	as.timer = time.AfterFunc(as.delay, func() {
		as.mu.Lock()
		as.timer = nil
		as.mu.Unlock()
		if err := as.Flush(context.Background()); err != nil {
			log.WithError(err).Error("Autosave failed")
		}
	})
}

// Flush saves the current snapshot if it changed since the last save
func (as *Autosave) Flush(ctx context.Context) error {
	as.saving.Lock()
	defer as.saving.Unlock()

	snap := as.engine.Snapshot()
	as.mu.Lock()
	unchanged := snap.Version == as.saved
	as.mu.Unlock()
	if unchanged {
		return nil
	}
	if err := as.store.Save(ctx, snap); err != nil {
		return err
	}
	as.mu.Lock()
	as.saved = snap.Version
	as.mu.Unlock()
	return nil
}

// Stop detaches from the engine and writes any unsaved changes
func (as *Autosave) Stop(ctx context.Context) error {
	as.mu.Lock()
	as.stopped = true
	if as.timer != nil {
		as.timer.Stop()
		as.timer = nil
	}
	as.mu.Unlock()
	as.unsubscribe()
	return as.Flush(ctx)
}
