package library

import (
	"context"
	"testing"
	"time"

	"github.com/prismon/photo-library/internal/models"
	"github.com/prismon/photo-library/pkg/liberr"
	"github.com/prismon/photo-library/pkg/query"
	"github.com/prismon/photo-library/pkg/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportTagAndSearch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ids := env.importFiles(t, "IMG_0001.JPG", "IMG_0002.jpg")
	cat := ids[0]

	asset, err := env.engine.Asset(cat)
	require.NoError(t, err)
	assert.True(t, asset.NeedsAITags)
	assert.Equal(t, "jpg", asset.FileType)
	assert.Equal(t, "photos", asset.Folder)
	assert.NotEmpty(t, asset.QuickHash, "memory file access hashes at import")
	assert.NotEmpty(t, asset.Bookmark)

	kinds := []models.TaskKind{}
	for _, task := range env.engine.Snapshot().TasksFor(cat) {
		kinds = append(kinds, task.Kind)
		assert.Equal(t, models.TaskPending, task.Status)
	}
	assert.Equal(t, models.StandardTaskKinds, kinds)

	pipeline := query.NewPipeline(nil)
	needsAI, err := pipeline.Run(env.engine.Snapshot(), query.Query{ShowNeedsAI: true})
	require.NoError(t, err)
	assert.Equal(t, ids, needsAI)

	env.prepare(t, cat)
	env.run(t, cat, tasks.AITagResult{Tag: tag("cat", "sofa")})

	asset, err = env.engine.Asset(cat)
	require.NoError(t, err)
	assert.False(t, asset.NeedsAITags)
	require.Len(t, asset.AITags, 1)
	assert.Equal(t, models.ProviderOpenAI, asset.AITags[0].Provider)
	assert.Equal(t, testNow, asset.AITags[0].Timestamp)

	found, err := pipeline.Run(env.engine.Snapshot(), query.Query{SearchQuery: "CAT"})
	require.NoError(t, err)
	assert.Equal(t, []string{cat}, found)

	needsAI, err = pipeline.Run(env.engine.Snapshot(), query.Query{ShowNeedsAI: true})
	require.NoError(t, err)
	assert.Equal(t, []string{ids[1]}, needsAI)

	require.NoError(t, env.engine.UpdateField(ctx, ids[1], AddKeyword("Catalina")))
	found, err = pipeline.Run(env.engine.Snapshot(), query.Query{SearchQuery: "cat"})
	require.NoError(t, err)
	assert.Equal(t, ids, found, "results stay in insertion order")
}

func TestSmartAlbumThisWeek(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ids := env.importFiles(t, "recent.jpg", "old.jpg", "no_exif.jpg")

	recent := testNow.Add(-2 * 24 * time.Hour)
	old := testNow.Add(-30 * 24 * time.Hour)
	require.NoError(t, env.engine.UpdateField(ctx, ids[0], SetExif(ExifFields{ExifDate: &recent})))
	require.NoError(t, env.engine.UpdateField(ctx, ids[1], SetExif(ExifFields{ExifDate: &old})))

	album, err := env.engine.CreateSmartAlbum(ctx, "This Week", []models.Rule{
		models.DateInRange(testNow.Add(-7*24*time.Hour), testNow),
	})
	require.NoError(t, err)

	got, err := query.NewPipeline(nil).Run(env.engine.Snapshot(), query.Query{SelectedSmartAlbum: album.ID})
	require.NoError(t, err)
	// the third asset falls back to its file creation time, two days ago
	assert.Equal(t, []string{ids[0], ids[2]}, got)

	t.Run("invalid rules rejected", func(t *testing.T) {
		_, err := env.engine.CreateSmartAlbum(ctx, "Bad", []models.Rule{models.RatingAtLeast(7)})
		assert.ErrorIs(t, err, liberr.ErrInvalid)
	})

	t.Run("zero rules match everything", func(t *testing.T) {
		all, err := env.engine.CreateSmartAlbum(ctx, "All", nil)
		require.NoError(t, err)
		got, err := query.NewPipeline(nil).Run(env.engine.Snapshot(), query.Query{SelectedSmartAlbum: all.ID})
		require.NoError(t, err)
		assert.Equal(t, ids, got)
	})
}

func TestMissingDetectionAndRecovery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ids := env.importFiles(t, "a.jpg", "b.jpg")
	path, _ := env.engine.Asset(ids[0])

	env.files.Remove(path.ResolvedPath)

	report, err := env.engine.ScanLiveness(ctx)
	require.NoError(t, err)
	assert.Equal(t, LivenessReport{Checked: 2, NowMissing: 1}, report)

	missing, err := query.NewPipeline(nil).Run(env.engine.Snapshot(), query.Query{ShowMissingOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{ids[0]}, missing)

	env.files.Add(path.ResolvedPath, []byte("restored"), testNow)
	report, err = env.engine.ScanLiveness(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Recovered)

	asset, _ := env.engine.Asset(ids[0])
	assert.Equal(t, models.StatusAvailable, asset.Status)

	t.Run("offline assets are not checked", func(t *testing.T) {
		require.NoError(t, env.engine.UpdateField(ctx, ids[1], SetStatus(models.StatusOffline)))
		b, _ := env.engine.Asset(ids[1])
		env.files.Remove(b.ResolvedPath)
		report, err := env.engine.ScanLiveness(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Checked)
		b, _ = env.engine.Asset(ids[1])
		assert.Equal(t, models.StatusOffline, b.Status)
	})
}

func TestRefreshBookmarksFollowsMovedFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ids := env.importFiles(t, "moved.jpg", "gone.jpg")

	require.NoError(t, env.files.Move("/photos/moved.jpg", "/archive/moved.jpg"))
	env.files.Remove("/photos/gone.jpg")

	report, err := env.engine.RefreshBookmarks(ctx)
	require.NoError(t, err)
	assert.Equal(t, LivenessReport{Checked: 2, NowMissing: 1, PathUpdates: 1}, report)

	moved, _ := env.engine.Asset(ids[0])
	assert.Equal(t, "/archive/moved.jpg", moved.ResolvedPath)
	assert.Equal(t, models.StatusAvailable, moved.Status)

	path, stale, err := env.files.Resolve(moved.Bookmark)
	require.NoError(t, err)
	assert.Equal(t, "/archive/moved.jpg", path)
	assert.False(t, stale, "stale bookmark was re-created")

	gone, _ := env.engine.Asset(ids[1])
	assert.Equal(t, models.StatusMissing, gone.Status)

	// the index follows the new path, so re-importing it is a conflict
	_, err = env.engine.Import(ctx, []string{"/archive/moved.jpg"})
	assert.True(t, IsImportConflict(err))
}

func TestLocalOnlyModeGatesCloudProviders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.importFiles(t, "cloud.jpg")[0]
	env.prepare(t, id)

	require.NoError(t, env.engine.SetLocalOnlyMode(ctx, true))
	assert.True(t, env.engine.Settings().LocalOnlyMode)

	aiKinds := []models.TaskKind{models.TaskAITagging, models.TaskEmbeddings}
	job, err := env.engine.ClaimNext(ctx, aiKinds)
	require.NoError(t, err)
	assert.Nil(t, job, "cloud tasks are not dispatched in local-only mode")

	tagging := env.activeTask(t, id, models.TaskAITagging)
	_, err = env.engine.Claim(ctx, tagging.ID)
	assert.ErrorIs(t, err, liberr.ErrPolicyRejected)
	assert.Equal(t, models.TaskPending, env.taskByID(t, tagging.ID).Status)

	// full hash is local work and still runs
	job, err = env.engine.ClaimNext(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.TaskFullHash, job.Task.Kind)

	require.NoError(t, env.engine.SetLocalOnlyMode(ctx, false))
	job, err = env.engine.ClaimNext(ctx, aiKinds)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.TaskAITagging, job.Task.Kind)

	t.Run("local provider allowed in local-only mode", func(t *testing.T) {
		require.NoError(t, env.engine.SetLocalOnlyMode(ctx, true))
		require.NoError(t, env.engine.SetAIProvider(ctx, string(models.ProviderLocalCLIP)))
		local := env.importFiles(t, "local.jpg")[0]
		env.prepare(t, local)

		assert.Equal(t, models.ProviderLocalCLIP, env.activeTask(t, local, models.TaskEmbeddings).Provider)
		job, err := env.engine.ClaimNext(ctx, []models.TaskKind{models.TaskEmbeddings})
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, local, job.Task.AssetID)
	})

	assert.ErrorIs(t, env.engine.SetAIProvider(ctx, "skynet"), liberr.ErrInvalid)
}

func TestQuickHashRetriesThenFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.importFiles(t, "flaky.jpg")[0]
	quick := env.activeTask(t, id, models.TaskQuickHash)

	for attempt := 0; attempt < 4; attempt++ {
		_, err := env.engine.Claim(ctx, quick.ID)
		require.NoError(t, err, "attempt %d", attempt)
		require.NoError(t, env.engine.Fail(ctx, quick.ID, assert.AnError, true))
	}

	final := env.taskByID(t, quick.ID)
	assert.Equal(t, models.TaskFailed, final.Status)
	assert.Equal(t, 3, final.Retries)
	require.NotNil(t, final.ErrorDescription)
	assert.Equal(t, assert.AnError.Error(), *final.ErrorDescription)

	_, err := env.engine.Claim(ctx, quick.ID)
	assert.ErrorIs(t, err, liberr.ErrConflict)

	full := env.taskByID(t, env.activeTaskOrLast(id, models.TaskFullHash).ID)
	assert.Equal(t, models.TaskFailed, full.Status)
	assert.Equal(t, "dependency failed: quick_hash", *full.ErrorDescription)

	_, err = env.engine.Requeue(ctx, id, models.TaskQuickHash)
	assert.NoError(t, err, "a user may retry after the budget is spent")
}

func (env *testEnv) activeTaskOrLast(assetID string, kind models.TaskKind) models.TaskState {
	var last models.TaskState
	for _, task := range env.engine.Snapshot().TasksFor(assetID) {
		if task.Kind == kind {
			last = task
		}
	}
	return last
}

func TestTaskOrdering(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.importFiles(t, "order.jpg")[0]

	full := env.activeTask(t, id, models.TaskFullHash)
	_, err := env.engine.Claim(ctx, full.ID)
	assert.ErrorIs(t, err, liberr.ErrConflict, "full hash before quick hash")

	tagging := env.activeTask(t, id, models.TaskAITagging)
	_, err = env.engine.Claim(ctx, tagging.ID)
	assert.ErrorIs(t, err, liberr.ErrConflict, "ai tagging before thumbnail")

	var claimed []models.TaskKind
	for {
		job, err := env.engine.ClaimNext(ctx, nil)
		require.NoError(t, err)
		if job == nil {
			break
		}
		claimed = append(claimed, job.Task.Kind)
		var outcome tasks.Outcome
		switch job.Task.Kind {
		case models.TaskBookmarkResolve:
			outcome = tasks.BookmarkResolveResult{}
		case models.TaskQuickHash:
			outcome = tasks.QuickHashResult{Hash: "q"}
		case models.TaskExif:
			outcome = tasks.ExifResult{}
		case models.TaskThumbnail:
			outcome = tasks.ThumbnailResult{Ref: "t.jpg", Dimensions: &models.Dimensions{Width: 40, Height: 30}}
		case models.TaskFullHash:
			outcome = tasks.FullHashResult{Hash: "f"}
		case models.TaskAITagging:
			outcome = tasks.AITagResult{Tag: tag("dog")}
		case models.TaskEmbeddings:
			outcome = tasks.EmbeddingResult{Embedding: models.Embedding{Vector: []float32{1, 0}}}
		}
		require.NoError(t, env.engine.Complete(ctx, job.Task.ID, outcome))
	}

	assert.Equal(t, models.StandardTaskKinds, claimed)
	asset, _ := env.engine.Asset(id)
	assert.Equal(t, "f", asset.FullHash)
	assert.Equal(t, models.Dimensions{Width: 40, Height: 30}, asset.Dimensions)
	require.NotNil(t, asset.Embedding)
	assert.Equal(t, models.ProviderOpenAI, asset.Embedding.Provider)
}

func TestRequeueAITaggingAfterThumbnailFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.importFiles(t, "broken.jpg")[0]

	thumb := env.activeTask(t, id, models.TaskThumbnail)
	_, err := env.engine.Claim(ctx, thumb.ID)
	require.NoError(t, err)
	require.NoError(t, env.engine.Fail(ctx, thumb.ID, assert.AnError, false))
	assert.Equal(t, models.TaskFailed, env.activeTaskOrLast(id, models.TaskAITagging).Status)

	requeued, err := env.engine.Requeue(ctx, id, models.TaskAITagging)
	require.NoError(t, err)
	assert.Equal(t, models.TaskAITagging, requeued.Kind)

	aiKinds := []models.TaskKind{models.TaskThumbnail, models.TaskAITagging}
	job, err := env.engine.ClaimNext(ctx, aiKinds)
	require.NoError(t, err)
	require.NotNil(t, job, "the failed thumbnail is queued again")
	assert.Equal(t, models.TaskThumbnail, job.Task.Kind)
	require.NoError(t, env.engine.Complete(ctx, job.Task.ID, tasks.ThumbnailResult{Ref: "thumbs/broken.jpg"}))

	job, err = env.engine.ClaimNext(ctx, aiKinds)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, requeued.ID, job.Task.ID)
}
