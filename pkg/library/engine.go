// Package library implements the photo library engine: the asset index, its
// albums and settings, and the enrichment task ledger, all mutated by a single
// writer goroutine and read through immutable snapshots.
package library

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prismon/photo-library/pkg/clock"
	"github.com/prismon/photo-library/pkg/logger"
	"github.com/prismon/photo-library/pkg/tasks"
	"github.com/sirupsen/logrus"
)

var log *logrus.Entry

func init() {
	log = logger.WithName("library")
}

// FileAccess is the engine's view of the filesystem
type FileAccess interface {
	// Resolve turns a bookmark back into a path; stale means the bookmark should be re-created
	Resolve(bookmark []byte) (path string, stale bool, err error)
	CreateBookmark(path string) ([]byte, error)
	Exists(path string) bool
	Stat(path string) (size int64, createdAt time.Time, err error)
}

// QuickHasher is implemented by FileAccess values that can fingerprint a file prefix at import time
type QuickHasher interface {
	QuickHash(path string) (string, error)
}

// Options configures a new Engine
type Options struct {
	FileAccess   FileAccess
	Clock        clock.Clock
	Settings     Settings
	RetryPolicy  tasks.RetryPolicy
	QueueSize    int
	PollInterval time.Duration // upper bound on how long WaitClaim sleeps between attempts
}

// DefaultOptions returns production defaults for the given file access
func DefaultOptions(fa FileAccess) Options {
	return Options{
		FileAccess:   fa,
		Clock:        clock.Real{},
		Settings:     DefaultSettings(),
		RetryPolicy:  tasks.DefaultRetryPolicy(),
		QueueSize:    256,
		PollInterval: time.Second,
	}
}

// Engine owns the library state
type Engine struct {
	fa           FileAccess
	clock        clock.Clock
	policy       tasks.RetryPolicy
	pollInterval time.Duration

	exec    *executor
	st      *state
	running map[string]context.CancelFunc // executor only

	version atomic.Int64
	snapMu  sync.Mutex
	snap    *Snapshot

	hub    *hub
	wakeMu sync.Mutex
	wake   chan struct{}

	baseCtx    context.Context
	baseCancel context.CancelFunc
	closeOnce  sync.Once
}

// New creates and starts an engine. Call Close to stop it.
func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Settings.AIProvider == "" {
		opts.Settings.AIProvider = DefaultSettings().AIProvider
	}
	if opts.RetryPolicy.MaxRetries == nil {
		opts.RetryPolicy = tasks.DefaultRetryPolicy()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		fa:           opts.FileAccess,
		clock:        opts.Clock,
		policy:       opts.RetryPolicy,
		pollInterval: opts.PollInterval,
		st:           newState(opts.Settings, opts.RetryPolicy),
		running:      make(map[string]context.CancelFunc),
		hub:          newHub(),
		wake:         make(chan struct{}),
		baseCtx:      ctx,
		baseCancel:   cancel,
	}
	e.exec = newExecutor(opts.QueueSize, e.newTxn, e.commit)
	e.exec.start()
	return e
}

// Close stops the writer, cancels running task contexts and detaches subscribers
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.exec.stop()
		e.baseCancel()
		e.hub.close()
		log.Debug("Library engine closed")
	})
}

func (e *Engine) newTxn() *txn {
	return &txn{st: e.st, now: e.clock.Now()}
}

// commit publishes the effects of a successful operation. Runs on the executor goroutine.
func (e *Engine) commit(tx *txn) {
	e.st.version++
	for i := range tx.events {
		tx.events[i].Version = e.st.version
	}
	e.version.Store(e.st.version)
	e.hub.publish(tx.events)

	e.wakeMu.Lock()
	close(e.wake)
	e.wake = make(chan struct{})
	e.wakeMu.Unlock()
}

// changed returns a channel closed at the next commit
func (e *Engine) changed() <-chan struct{} {
	e.wakeMu.Lock()
	defer e.wakeMu.Unlock()
	return e.wake
}

// Version returns the current state version
func (e *Engine) Version() int64 {
	return e.version.Load()
}

// Snapshot returns a consistent view of the current state. Snapshots are
// cached per version, so repeated calls between mutations are cheap.
func (e *Engine) Snapshot() *Snapshot {
	e.snapMu.Lock()
	cached := e.snap
	e.snapMu.Unlock()
	if cached != nil && cached.Version == e.version.Load() {
		return cached
	}

	var snap *Snapshot
	err := e.exec.submit(context.Background(), func(tx *txn) error {
		snap = buildSnapshot(tx.st)
		return nil
	})
	if err != nil {
		log.WithError(err).Warn("Serving last known snapshot")
		if cached != nil {
			return cached
		}
		return buildSnapshot(newState(DefaultSettings(), e.policy))
	}

	e.snapMu.Lock()
	if e.snap == nil || e.snap.Version <= snap.Version {
		e.snap = snap
	}
	e.snapMu.Unlock()
	return snap
}

// Subscribe registers fn for change events, delivered serially in commit order.
// The returned function detaches the subscriber.
func (e *Engine) Subscribe(fn func(Event)) (unsubscribe func()) {
	return e.hub.subscribe(fn)
}

// Settings returns the current library settings
func (e *Engine) Settings() Settings {
	return e.Snapshot().Settings
}

// SetLocalOnlyMode toggles whether cloud AI providers may be dispatched
func (e *Engine) SetLocalOnlyMode(ctx context.Context, enabled bool) error {
	return e.updateSettings(ctx, func(s *Settings) { s.LocalOnlyMode = enabled })
}

// SetFacesEnabled controls whether imports enqueue face detection
func (e *Engine) SetFacesEnabled(ctx context.Context, enabled bool) error {
	return e.updateSettings(ctx, func(s *Settings) { s.FacesEnabled = enabled })
}

// SetAIProvider selects the provider for newly enqueued AI tasks
func (e *Engine) SetAIProvider(ctx context.Context, provider string) error {
	p, err := parseProvider("set ai provider", provider)
	if err != nil {
		return err
	}
	return e.updateSettings(ctx, func(s *Settings) { s.AIProvider = p })
}

func (e *Engine) updateSettings(ctx context.Context, fn func(*Settings)) error {
	return e.exec.submit(ctx, func(tx *txn) error {
		before := tx.st.settings
		fn(&tx.st.settings)
		if tx.st.settings != before {
			log.WithFields(logrus.Fields{
				"localOnly":  tx.st.settings.LocalOnlyMode,
				"aiProvider": tx.st.settings.AIProvider,
				"faces":      tx.st.settings.FacesEnabled,
			}).Info("Library settings changed")
			tx.emit(Event{Type: EventSettingsChanged})
		}
		return nil
	})
}
