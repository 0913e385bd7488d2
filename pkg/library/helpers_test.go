package library

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prismon/photo-library/internal/models"
	"github.com/prismon/photo-library/pkg/clock"
	"github.com/prismon/photo-library/pkg/fileaccess"
	"github.com/prismon/photo-library/pkg/tasks"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	engine *Engine
	files  *fileaccess.Memory
	clock  *clock.Fake
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	files := fileaccess.NewMemory()
	clk := clock.NewFake(testNow)

	opts := DefaultOptions(files)
	opts.Clock = clk
	opts.RetryPolicy = tasks.DefaultRetryPolicy()
	opts.RetryPolicy.BaseDelay = 0
	opts.PollInterval = 10 * time.Millisecond

	e := New(opts)
	t.Cleanup(e.Close)
	return &testEnv{engine: e, files: files, clock: clk}
}

// addFile creates a file in the fake filesystem and returns its path
func (env *testEnv) addFile(name string) string {
	path := "/photos/" + name
	env.files.Add(path, []byte("pixels of "+name), testNow.Add(-48*time.Hour))
	return path
}

func (env *testEnv) importFiles(t *testing.T, names ...string) []string {
	t.Helper()
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = env.addFile(name)
	}
	ids, err := env.engine.Import(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, ids, len(names))
	return ids
}

func (env *testEnv) activeTask(t *testing.T, assetID string, kind models.TaskKind) models.TaskState {
	t.Helper()
	for _, task := range env.engine.Snapshot().TasksFor(assetID) {
		if task.Kind == kind && !task.Status.Terminal() {
			return task
		}
	}
	t.Fatalf("no active %s task for %s", kind, assetID)
	return models.TaskState{}
}

func (env *testEnv) taskByID(t *testing.T, id string) models.TaskState {
	t.Helper()
	task, ok := env.engine.Snapshot().Task(id)
	require.True(t, ok, "task %s", id)
	return task
}

// run claims and completes the active task of kind with outcome
func (env *testEnv) run(t *testing.T, assetID string, outcome tasks.Outcome) {
	t.Helper()
	ctx := context.Background()
	task := env.activeTask(t, assetID, outcome.Kind())
	_, err := env.engine.Claim(ctx, task.ID)
	require.NoError(t, err)
	require.NoError(t, env.engine.Complete(ctx, task.ID, outcome))
}

// prepare completes the non-AI tasks that gate AI work
func (env *testEnv) prepare(t *testing.T, assetID string) {
	t.Helper()
	env.run(t, assetID, tasks.BookmarkResolveResult{})
	env.run(t, assetID, tasks.QuickHashResult{Hash: "quick-" + assetID})
	env.run(t, assetID, tasks.ExifResult{})
	env.run(t, assetID, tasks.ThumbnailResult{Ref: fmt.Sprintf("thumbs/%s.jpg", assetID)})
}

func tag(labels ...string) models.AITag {
	return models.AITag{Labels: labels, Caption: "", Confidence: 0.9}
}
