package watch

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prismon/photo-library/internal/models"
	"github.com/prismon/photo-library/pkg/library"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLibrary struct {
	mu       sync.Mutex
	imported []string
	scans    int
}

func (f *fakeLibrary) Import(_ context.Context, paths []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(paths))
	for i, p := range paths {
		f.imported = append(f.imported, p)
		ids[i] = "id-" + filepath.Base(p)
	}
	return ids, nil
}

func (f *fakeLibrary) ScanLiveness(context.Context) (library.LivenessReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	return library.LivenessReport{}, nil
}

func (f *fakeLibrary) Snapshot() *library.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := &library.Snapshot{}
	for _, p := range f.imported {
		snap.Assets = append(snap.Assets, &models.Asset{ID: "id-" + filepath.Base(p), ResolvedPath: p})
	}
	return snap
}

func (f *fakeLibrary) importedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.imported...)
	sort.Strings(out)
	return out
}

func (f *fakeLibrary) scanCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Debounce = 20 * time.Millisecond
	return cfg
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("image"), 0o644))
}

func TestInitialScanImportsExistingImages(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.jpg"))
	writeFile(t, filepath.Join(dir, "sub", "b.png"))
	writeFile(t, filepath.Join(dir, "notes.txt"))

	lib := &fakeLibrary{}
	w := New(lib, testConfig())
	require.NoError(t, w.Start(context.Background(), dir))
	defer w.Stop()

	assert.Equal(t, []string{filepath.Join(dir, "a.jpg"), filepath.Join(dir, "sub", "b.png")}, lib.importedPaths())
	assert.Equal(t, 1, w.Stats().Folders)
	assert.Equal(t, 2, w.Stats().Imported)
}

func TestNewImageIsImported(t *testing.T) {
	dir := t.TempDir()
	lib := &fakeLibrary{}
	w := New(lib, testConfig())
	require.NoError(t, w.Start(context.Background(), dir))
	defer w.Stop()

	path := filepath.Join(dir, "new.jpg")
	writeFile(t, path)
	writeFile(t, filepath.Join(dir, "ignored.txt"))

	require.Eventually(t, func() bool {
		return len(lib.importedPaths()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{path}, lib.importedPaths())
}

func TestNewSubfolderIsWatched(t *testing.T) {
	dir := t.TempDir()
	lib := &fakeLibrary{}
	w := New(lib, testConfig())
	require.NoError(t, w.Start(context.Background(), dir))
	defer w.Stop()

	sub := filepath.Join(dir, "trip")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// give the watcher a moment to register the new directory
	time.Sleep(50 * time.Millisecond)
	writeFile(t, filepath.Join(sub, "beach.jpg"))

	require.Eventually(t, func() bool {
		paths := lib.importedPaths()
		return len(paths) == 1 && paths[0] == filepath.Join(sub, "beach.jpg")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRemovalTriggersLivenessScan(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jpg")
	writeFile(t, path)

	lib := &fakeLibrary{}
	w := New(lib, testConfig())
	require.NoError(t, w.Start(context.Background(), dir))
	defer w.Stop()

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		return lib.scanCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, w.Stats().LivenessScans)
}

func TestAddRejectsFiles(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.jpg")
	writeFile(t, file)

	w := New(&fakeLibrary{}, testConfig())
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	assert.Error(t, w.Add(context.Background(), file))
	assert.Error(t, w.Add(context.Background(), filepath.Join(dir, "missing")))
	require.NoError(t, w.Add(context.Background(), dir))
	require.NoError(t, w.Add(context.Background(), dir), "adding twice is a no-op")
	assert.Equal(t, 1, w.Stats().Folders)
}

func TestStartStop(t *testing.T) {
	w := New(&fakeLibrary{}, testConfig())
	assert.Error(t, w.Stop(), "stop before start")
	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()), "already running")
	require.NoError(t, w.Stop())
	assert.Error(t, w.Add(context.Background(), t.TempDir()))
}

func TestIsHidden(t *testing.T) {
	assert.True(t, isHidden("/a/.git"))
	assert.True(t, isHidden(".DS_Store"))
	assert.False(t, isHidden("/a/b.jpg"))
	assert.False(t, isHidden("."))
}

func TestEventsOutsideWatchedFoldersAreIgnored(t *testing.T) {
	root := t.TempDir()
	w := New(&fakeLibrary{}, testConfig())
	w.roots[root] = true

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"root itself", root, true},
		{"file in root", filepath.Join(root, "a.jpg"), true},
		{"nested file", filepath.Join(root, "sub", "b.jpg"), true},
		{"sibling with shared prefix", root + "-other/c.jpg", false},
		{"parent folder", filepath.Dir(root), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.underRoot(tt.path))
		})
	}

	w.handleFsnotifyEvent(fsnotify.Event{Name: root + "-other/c.jpg", Op: fsnotify.Remove})
	w.debounceMu.Lock()
	pending := len(w.debounceMap)
	w.debounceMu.Unlock()
	assert.Zero(t, pending)

	w.handleFsnotifyEvent(fsnotify.Event{Name: filepath.Join(root, "a.jpg"), Op: fsnotify.Remove})
	w.debounceMu.Lock()
	pending = len(w.debounceMap)
	w.debounceMu.Unlock()
	assert.Equal(t, 1, pending)
}
