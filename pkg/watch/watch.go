// Package watch imports new images from watched folders as they appear and
// triggers liveness scans when files disappear.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prismon/photo-library/pkg/crawler"
	"github.com/prismon/photo-library/pkg/library"
	"github.com/prismon/photo-library/pkg/liberr"
	"github.com/prismon/photo-library/pkg/logger"
	"github.com/prismon/photo-library/pkg/pathutil"
	"github.com/sirupsen/logrus"
)

var log = logger.WithName("watch")

// Library is the part of the engine the watcher drives
type Library interface {
	Import(ctx context.Context, paths []string) ([]string, error)
	ScanLiveness(ctx context.Context) (library.LivenessReport, error)
	Snapshot() *library.Snapshot
}

// Config controls how folders are watched
type Config struct {
	Recursive   bool
	Debounce    time.Duration
	InitialScan bool // import images already present when a folder is added
	QueueSize   int
}

func DefaultConfig() Config {
	return Config{Recursive: true, Debounce: 500 * time.Millisecond, InitialScan: true, QueueSize: 256}
}

// Stats counts what the watcher has done since it started
type Stats struct {
	Folders       int       `json:"folders"`
	Imported      int       `json:"imported"`
	LivenessScans int       `json:"liveness_scans"`
	Errors        int       `json:"errors"`
	LastError     string    `json:"last_error,omitempty"`
	LastActivity  time.Time `json:"last_activity"`
	DroppedEvents int       `json:"dropped_events"`
}

type eventKind int

const (
	eventAppeared eventKind = iota
	eventGone
)

type event struct {
	kind eventKind
	path string
}

// Watcher follows a set of folders with fsnotify
type Watcher struct {
	lib Library
	cfg Config

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	roots   map[string]bool
	stats   Stats
	running bool

	events      chan event
	debounceMu  sync.Mutex
	debounceMap map[string]*time.Timer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(lib Library, cfg Config) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultConfig().Debounce
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Watcher{
		lib:         lib,
		cfg:         cfg,
		roots:       make(map[string]bool),
		events:      make(chan event, cfg.QueueSize),
		debounceMap: make(map[string]*time.Timer),
	}
}

// Start begins watching folders. More folders can be added with Add.
func (w *Watcher) Start(ctx context.Context, folders ...string) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = fsw
	w.running = true
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.wg.Add(2)
	go w.watchLoop(ctx)
	go w.processEvents(ctx)

	var errs []error
	for _, folder := range folders {
		if err := w.Add(ctx, folder); err != nil {
			errs = append(errs, err)
		}
	}
	log.WithField("folders", len(folders)).Info("Folder watcher started")
	return errors.Join(errs...)
}

// Add watches one more folder and, if configured, imports what it already holds
func (w *Watcher) Add(ctx context.Context, folder string) error {
	folder, err := filepath.Abs(folder)
	if err != nil {
		return err
	}
	info, err := os.Stat(folder)
	if err != nil {
		return fmt.Errorf("cannot watch %s: %w", folder, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("cannot watch %s: not a directory", folder)
	}

	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher not running")
	}
	if w.roots[folder] {
		w.mu.Unlock()
		return nil
	}
	w.roots[folder] = true
	w.stats.Folders = len(w.roots)
	w.mu.Unlock()

	if err := w.addWatches(folder); err != nil {
		return err
	}
	if w.cfg.InitialScan {
		w.importFolder(ctx, folder)
	}
	return nil
}

// Stop ends watching. Pending debounced events are discarded.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher not running")
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	w.debounceMu.Lock()
	for path, timer := range w.debounceMap {
		timer.Stop()
		delete(w.debounceMap, path)
	}
	w.debounceMu.Unlock()

	err := w.watcher.Close()
	w.wg.Wait()
	log.Info("Folder watcher stopped")
	return err
}

func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// addWatches registers dir and, when recursive, every directory below it
func (w *Watcher) addWatches(dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	if !w.cfg.Recursive {
		return nil
	}
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == dir {
			return nil
		}
		if isHidden(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			log.WithError(err).WithField("path", path).Warn("Failed to add watch")
		}
		return nil
	})
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFsnotifyEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.recordError(err)
		}
	}
}

func (w *Watcher) handleFsnotifyEvent(ev fsnotify.Event) {
	log.WithFields(logrus.Fields{
		"path": ev.Name,
		"op":   ev.Op.String(),
	}).Trace("Received filesystem event")

	if isHidden(ev.Name) || !w.underRoot(ev.Name) {
		return
	}
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if w.cfg.Recursive && ev.Has(fsnotify.Create) {
				if err := w.addWatches(ev.Name); err != nil {
					w.recordError(err)
				}
				w.debounce(event{kind: eventAppeared, path: ev.Name})
			}
			return
		}
		if crawler.IsImageFile(ev.Name) {
			w.debounce(event{kind: eventAppeared, path: ev.Name})
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.debounce(event{kind: eventGone, path: ev.Name})
	}
}

// underRoot reports whether path lies inside one of the watched folders
func (w *Watcher) underRoot(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for root := range w.roots {
		if pathutil.IsWithin(path, root) {
			return true
		}
	}
	return false
}

// debounce delivers the last event for a path once it has been quiet for the debounce period
func (w *Watcher) debounce(ev event) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, ok := w.debounceMap[ev.path]; ok {
		timer.Stop()
	}
	w.debounceMap[ev.path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.debounceMu.Lock()
		delete(w.debounceMap, ev.path)
		w.debounceMu.Unlock()

		select {
		case w.events <- ev:
		default:
			log.WithField("path", ev.path).Warn("Event queue full, dropping event")
			w.mu.Lock()
			w.stats.DroppedEvents++
			w.mu.Unlock()
		}
	})
}

// processEvents batches whatever is queued into one import and at most one liveness scan
func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		var first event
		select {
		case <-ctx.Done():
			return
		case first = <-w.events:
		}

		var appeared []string
		gone := false
		collect := func(ev event) {
			if ev.kind == eventGone {
				gone = true
			} else {
				appeared = append(appeared, ev.path)
			}
		}
		collect(first)
	drain:
		for {
			select {
			case ev := <-w.events:
				collect(ev)
			default:
				break drain
			}
		}

		for _, path := range appeared {
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				w.importFolder(ctx, path)
			} else if err == nil {
				w.importPaths(ctx, []string{path})
			} else {
				gone = true
			}
		}
		if gone {
			w.scanLiveness(ctx)
		}
	}
}

func (w *Watcher) importFolder(ctx context.Context, dir string) {
	paths, _, err := crawler.FindImages(ctx, dir, crawler.Options{MaxDepth: w.maxDepth()})
	if err != nil {
		w.recordError(err)
		return
	}
	w.importPaths(ctx, paths)
}

func (w *Watcher) maxDepth() int {
	if w.cfg.Recursive {
		return 0
	}
	return 1
}

// importPaths imports the paths the library does not index yet
func (w *Watcher) importPaths(ctx context.Context, paths []string) {
	known := make(map[string]bool)
	for _, a := range w.lib.Snapshot().AssetsInOrder() {
		if a.ResolvedPath != "" {
			known[a.ResolvedPath] = true
		}
	}
	var fresh []string
	for _, p := range paths {
		if !known[filepath.Clean(p)] {
			fresh = append(fresh, p)
		}
	}
	if len(fresh) == 0 {
		return
	}

	ids, err := w.lib.Import(ctx, fresh)
	var importErr *library.ImportError
	switch {
	case errors.As(err, &importErr):
		for _, f := range importErr.Failures {
			if errors.Is(f, liberr.ErrConflict) {
				continue
			}
			w.recordError(f)
		}
	case err != nil:
		w.recordError(err)
	}

	w.mu.Lock()
	w.stats.Imported += len(ids)
	w.stats.LastActivity = time.Now()
	w.mu.Unlock()
	if len(ids) > 0 {
		log.WithField("count", len(ids)).Info("Imported new images from watched folder")
	}
}

func (w *Watcher) scanLiveness(ctx context.Context) {
	report, err := w.lib.ScanLiveness(ctx)
	if err != nil {
		w.recordError(err)
		return
	}
	w.mu.Lock()
	w.stats.LivenessScans++
	w.stats.LastActivity = time.Now()
	w.mu.Unlock()
	log.WithField("missing", report.NowMissing).Debug("Liveness scan after removal")
}

func (w *Watcher) recordError(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	log.WithError(err).Warn("Watch error")
	w.mu.Lock()
	w.stats.Errors++
	w.stats.LastError = err.Error()
	w.mu.Unlock()
}

func isHidden(path string) bool {
	base := filepath.Base(path)
	return len(base) > 1 && base[0] == '.'
}
