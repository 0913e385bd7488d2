package tasks

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/prismon/photo-library/internal/models"
	"github.com/prismon/photo-library/pkg/liberr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func testPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.BaseDelay = time.Second
	return p
}

func findKind(t *testing.T, l *Ledger, assetID string, kind models.TaskKind) models.TaskState {
	t.Helper()
	for _, task := range l.ForAsset(assetID) {
		if task.Kind == kind && !task.Status.Terminal() {
			return task
		}
	}
	t.Fatalf("no active %s task for %s", kind, assetID)
	return models.TaskState{}
}

func collect(seq func(func(models.TaskState) bool)) []models.TaskState {
	var out []models.TaskState
	for t := range seq {
		out = append(out, t)
	}
	return out
}

func kindsOf(ts []models.TaskState) []models.TaskKind {
	out := make([]models.TaskKind, len(ts))
	for i, t := range ts {
		out[i] = t.Kind
	}
	return out
}

func TestEnqueueStandard(t *testing.T) {
	l := NewLedger(testPolicy())

	got := l.EnqueueStandard("a1", models.ProviderOpenAI, false, t0)
	assert.Equal(t, models.StandardTaskKinds, kindsOf(got))
	for _, task := range got {
		assert.Equal(t, models.TaskPending, task.Status)
		if task.Kind.UsesProvider() {
			assert.Equal(t, models.ProviderOpenAI, task.Provider)
		} else {
			assert.Empty(t, task.Provider)
		}
	}

	t.Run("faces appended when enabled", func(t *testing.T) {
		got := l.EnqueueStandard("a2", models.ProviderLocalCLIP, true, t0)
		require.Len(t, got, len(models.StandardTaskKinds)+1)
		assert.Equal(t, models.TaskFaces, got[len(got)-1].Kind)
		assert.Empty(t, got[len(got)-1].Provider)
	})

	t.Run("duplicate active task rejected", func(t *testing.T) {
		_, err := l.Enqueue("a1", models.TaskExif, "", t0)
		assert.ErrorIs(t, err, liberr.ErrConflict)
		assert.Empty(t, l.EnqueueStandard("a1", models.ProviderOpenAI, false, t0))
	})
}

func TestPendingOrder(t *testing.T) {
	l := NewLedger(testPolicy())
	l.EnqueueStandard("a1", models.ProviderOpenAI, false, t0)
	l.EnqueueStandard("a2", models.ProviderOpenAI, false, t0)

	pending := collect(l.Pending())
	require.Len(t, pending, 14)
	for i, task := range pending {
		wantAsset := "a1"
		if i >= 7 {
			wantAsset = "a2"
		}
		assert.Equal(t, wantAsset, task.AssetID)
		assert.Equal(t, models.StandardTaskKinds[i%7], task.Kind)
	}
}

func TestReadyRespectsPrerequisites(t *testing.T) {
	l := NewLedger(testPolicy())
	l.EnqueueStandard("a1", models.ProviderLocalCLIP, false, t0)

	ready := kindsOf(collect(l.Ready(t0, false, nil)))
	assert.Equal(t, []models.TaskKind{
		models.TaskBookmarkResolve, models.TaskQuickHash, models.TaskExif, models.TaskThumbnail,
	}, ready)

	fullHash := findKind(t, l, "a1", models.TaskFullHash)
	_, err := l.Claim(fullHash.ID, t0, false)
	assert.ErrorIs(t, err, liberr.ErrConflict, "full hash waits for quick hash")

	quick := findKind(t, l, "a1", models.TaskQuickHash)
	_, err = l.Claim(quick.ID, t0, false)
	require.NoError(t, err)
	_, err = l.Complete(quick.ID, t0)
	require.NoError(t, err)

	_, err = l.Claim(fullHash.ID, t0, false)
	assert.NoError(t, err)

	t.Run("kind filter", func(t *testing.T) {
		ready := kindsOf(collect(l.Ready(t0, false, []models.TaskKind{models.TaskExif})))
		assert.Equal(t, []models.TaskKind{models.TaskExif}, ready)
	})

	t.Run("missing prerequisite task counts as met", func(t *testing.T) {
		_, err := l.Enqueue("solo", models.TaskAITagging, models.ProviderLocalCLIP, t0)
		require.NoError(t, err)
		ready := collect(l.Ready(t0, false, []models.TaskKind{models.TaskAITagging}))
		require.Len(t, ready, 1)
		assert.Equal(t, "solo", ready[0].AssetID)
	})
}

func TestLocalOnlyPolicy(t *testing.T) {
	l := NewLedger(testPolicy())
	_, err := l.Enqueue("cloud", models.TaskAITagging, models.ProviderOpenAI, t0)
	require.NoError(t, err)
	_, err = l.Enqueue("local", models.TaskAITagging, models.ProviderLocalCLIP, t0)
	require.NoError(t, err)

	ready := collect(l.Ready(t0, true, nil))
	require.Len(t, ready, 1)
	assert.Equal(t, "local", ready[0].AssetID)

	cloud := findKind(t, l, "cloud", models.TaskAITagging)
	_, err = l.Claim(cloud.ID, t0, true)
	assert.ErrorIs(t, err, liberr.ErrPolicyRejected)

	still, _ := l.Get(cloud.ID)
	assert.Equal(t, models.TaskPending, still.Status, "policy rejection leaves the task pending")

	_, err = l.Claim(cloud.ID, t0, false)
	assert.NoError(t, err, "turning local-only off releases the task")
}

func TestFailRetriesWithBackoff(t *testing.T) {
	l := NewLedger(testPolicy())
	task, err := l.Enqueue("a1", models.TaskQuickHash, "", t0)
	require.NoError(t, err)

	now := t0
	for attempt := 1; attempt <= 3; attempt++ {
		_, err := l.Claim(task.ID, now, false)
		require.NoError(t, err, "attempt %d", attempt)

		transitions, err := l.Fail(task.ID, "io error", true, now)
		require.NoError(t, err)
		require.Len(t, transitions, 2)
		assert.Equal(t, models.TaskFailed, transitions[0].Status)
		assert.Equal(t, models.TaskPending, transitions[1].Status)
		assert.Equal(t, attempt, transitions[1].Retries)

		backoff := time.Second << (attempt - 1)
		require.NotNil(t, transitions[1].NotBefore)
		assert.Equal(t, now.Add(backoff), *transitions[1].NotBefore)

		_, err = l.Claim(task.ID, now, false)
		assert.ErrorIs(t, err, liberr.ErrConflict, "backoff not elapsed")

		next, ok := l.NextRetry(now, nil)
		require.True(t, ok)
		assert.Equal(t, now.Add(backoff), next)

		now = now.Add(backoff)
	}

	_, err = l.Claim(task.ID, now, false)
	require.NoError(t, err)
	transitions, err := l.Fail(task.ID, "io error", true, now)
	require.NoError(t, err)
	require.Len(t, transitions, 1)

	final, _ := l.Get(task.ID)
	assert.Equal(t, models.TaskFailed, final.Status)
	assert.Equal(t, 3, final.Retries)
	require.NotNil(t, final.ErrorDescription)
	assert.Equal(t, "io error", *final.ErrorDescription)

	_, ok := l.NextRetry(now, nil)
	assert.False(t, ok)
}

func TestFailWithoutRetryBudget(t *testing.T) {
	tests := []struct {
		name      string
		kind      models.TaskKind
		retryable bool
		wantRetry bool
	}{
		{"ai tagging never retries", models.TaskAITagging, true, false},
		{"exif retries once", models.TaskExif, true, true},
		{"permanent failure", models.TaskBookmarkResolve, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLedger(testPolicy())
			task, err := l.Enqueue("a1", tt.kind, models.ProviderLocalCLIP, t0)
			require.NoError(t, err)
			_, err = l.Claim(task.ID, t0, false)
			require.NoError(t, err)

			transitions, err := l.Fail(task.ID, "boom", tt.retryable, t0)
			require.NoError(t, err)
			got, _ := l.Get(task.ID)
			if tt.wantRetry {
				assert.Equal(t, models.TaskPending, got.Status)
				assert.Len(t, transitions, 2)
			} else {
				assert.Equal(t, models.TaskFailed, got.Status)
				assert.Len(t, transitions, 1)
			}
		})
	}
}

func TestTerminalFailureFailsDependents(t *testing.T) {
	l := NewLedger(testPolicy())
	l.EnqueueStandard("a1", models.ProviderLocalCLIP, true, t0)

	thumb := findKind(t, l, "a1", models.TaskThumbnail)
	_, err := l.Claim(thumb.ID, t0, false)
	require.NoError(t, err)
	transitions, err := l.Fail(thumb.ID, "decode error", false, t0)
	require.NoError(t, err)

	assert.Equal(t, []models.TaskKind{
		models.TaskThumbnail, models.TaskAITagging, models.TaskEmbeddings, models.TaskFaces,
	}, kindsOf(transitions))
	for _, tr := range transitions[1:] {
		assert.Equal(t, models.TaskFailed, tr.Status)
		require.NotNil(t, tr.ErrorDescription)
		assert.Equal(t, "dependency failed: thumbnail", *tr.ErrorDescription)
	}

	// full hash is not gated on the thumbnail
	full := findKind(t, l, "a1", models.TaskFullHash)
	assert.Equal(t, models.TaskPending, full.Status)
}

func TestCompleteAndClaimConflicts(t *testing.T) {
	l := NewLedger(testPolicy())
	task, err := l.Enqueue("a1", models.TaskExif, "", t0)
	require.NoError(t, err)

	_, err = l.Complete(task.ID, t0)
	assert.ErrorIs(t, err, liberr.ErrConflict, "pending task cannot complete")

	_, err = l.Claim(task.ID, t0, false)
	require.NoError(t, err)
	_, err = l.Claim(task.ID, t0, false)
	assert.ErrorIs(t, err, liberr.ErrConflict, "already running")

	done, err := l.Complete(task.ID, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, done.Status)
	assert.Equal(t, t0.Add(time.Minute), done.LastUpdated)

	_, err = l.Fail(task.ID, "late", true, t0)
	assert.ErrorIs(t, err, liberr.ErrConflict)

	_, err = l.Claim("nope", t0, false)
	assert.ErrorIs(t, err, liberr.ErrNotFound)
}

func TestCancel(t *testing.T) {
	l := NewLedger(testPolicy())
	l.EnqueueStandard("a1", models.ProviderOpenAI, false, t0)
	exif := findKind(t, l, "a1", models.TaskExif)
	_, err := l.Claim(exif.ID, t0, false)
	require.NoError(t, err)
	_, err = l.Complete(exif.ID, t0)
	require.NoError(t, err)

	cancelled := l.Cancel("a1", t0)
	assert.Len(t, cancelled, 6)
	for _, c := range cancelled {
		assert.Equal(t, models.TaskFailed, c.Status)
		assert.Equal(t, ReasonCancelled, *c.ErrorDescription)
	}

	done, _ := l.Get(exif.ID)
	assert.Equal(t, models.TaskCompleted, done.Status, "terminal tasks are untouched")
	assert.Empty(t, collect(l.Pending()))
}

func TestRequeue(t *testing.T) {
	l := NewLedger(testPolicy())
	task, err := l.Enqueue("a1", models.TaskAITagging, models.ProviderOpenAI, t0)
	require.NoError(t, err)

	_, err = l.Requeue("a1", models.TaskAITagging, models.ProviderOpenAI, t0)
	assert.ErrorIs(t, err, liberr.ErrConflict)

	_, err = l.Claim(task.ID, t0, false)
	require.NoError(t, err)
	_, err = l.Fail(task.ID, "quota", true, t0)
	require.NoError(t, err)

	queued, err := l.Requeue("a1", models.TaskAITagging, models.ProviderAzure, t0)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	again := queued[0]
	assert.NotEqual(t, task.ID, again.ID)
	assert.Equal(t, models.ProviderAzure, again.Provider)
	assert.Greater(t, again.Seq, task.Seq)

	_, err = l.Requeue("a1", models.TaskKind("sharpen"), "", t0)
	assert.ErrorIs(t, err, liberr.ErrInvalid)
}

func TestRequeueAfterPrerequisiteFailed(t *testing.T) {
	l := NewLedger(testPolicy())
	l.EnqueueStandard("a1", models.ProviderLocalCLIP, false, t0)

	thumb := findKind(t, l, "a1", models.TaskThumbnail)
	_, err := l.Claim(thumb.ID, t0, false)
	require.NoError(t, err)
	_, err = l.Fail(thumb.ID, "corrupt image", false, t0)
	require.NoError(t, err)

	for _, kind := range []models.TaskKind{models.TaskAITagging, models.TaskEmbeddings} {
		for _, task := range l.ForAsset("a1") {
			if task.Kind == kind {
				assert.Equal(t, models.TaskFailed, task.Status, "%s fails with its prerequisite", kind)
			}
		}
	}

	queued, err := l.Requeue("a1", models.TaskAITagging, models.ProviderLocalCLIP, t0)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.Equal(t, models.TaskThumbnail, queued[0].Kind)
	assert.Equal(t, models.TaskAITagging, queued[1].Kind)

	// the requeued thumbnail is ready; once it completes, so is ai_tagging
	ready := collect(l.Ready(t0.Add(time.Hour), false, []models.TaskKind{models.TaskThumbnail, models.TaskAITagging}))
	require.Len(t, ready, 1)
	assert.Equal(t, queued[0].ID, ready[0].ID)

	_, err = l.Claim(queued[0].ID, t0, false)
	require.NoError(t, err)
	_, err = l.Complete(queued[0].ID, t0)
	require.NoError(t, err)
	ready = collect(l.Ready(t0.Add(time.Hour), false, []models.TaskKind{models.TaskAITagging}))
	require.Len(t, ready, 1)
	assert.Equal(t, queued[1].ID, ready[0].ID)

	// a second dependent reuses the active thumbnail instead of queueing another
	queued, err = l.Requeue("a1", models.TaskEmbeddings, models.ProviderLocalCLIP, t0)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, models.TaskEmbeddings, queued[0].Kind)
}

func TestRequeueWaitsForActivePrerequisite(t *testing.T) {
	l := NewLedger(testPolicy())
	quick, err := l.Enqueue("a1", models.TaskQuickHash, "", t0)
	require.NoError(t, err)

	queued, err := l.Requeue("a1", models.TaskFullHash, "", t0)
	require.NoError(t, err)
	require.Len(t, queued, 1, "a pending quick hash is not requeued")
	assert.Equal(t, models.TaskFullHash, queued[0].Kind)
	assert.Equal(t, quick.ID, findKind(t, l, "a1", models.TaskQuickHash).ID)
}

func TestResetRunning(t *testing.T) {
	l := NewLedger(testPolicy())
	task, _ := l.Enqueue("a1", models.TaskExif, "", t0)
	_, err := l.Claim(task.ID, t0, false)
	require.NoError(t, err)

	reset := l.ResetRunning(t0.Add(time.Hour))
	require.Len(t, reset, 1)
	assert.Equal(t, models.TaskPending, reset[0].Status)
	assert.Empty(t, l.ResetRunning(t0))
}

func TestRestore(t *testing.T) {
	l := NewLedger(testPolicy())
	l.EnqueueStandard("a1", models.ProviderOpenAI, false, t0)
	quick := findKind(t, l, "a1", models.TaskQuickHash)
	_, err := l.Claim(quick.ID, t0, false)
	require.NoError(t, err)
	_, err = l.Fail(quick.ID, "io", true, t0)
	require.NoError(t, err)

	restored, err := Restore(l.Policy(), l.All())
	require.NoError(t, err)
	assert.Equal(t, l.All(), restored.All())

	_, err = restored.Enqueue("a1", models.TaskQuickHash, "", t0)
	assert.ErrorIs(t, err, liberr.ErrConflict, "active index is rebuilt")

	next, err := restored.Enqueue("a2", models.TaskExif, "", t0)
	require.NoError(t, err)
	assert.Equal(t, int64(8), next.Seq, "sequence continues after the restored tasks")

	t.Run("duplicate ids", func(t *testing.T) {
		all := l.All()
		_, err := Restore(l.Policy(), append(all, all[0]))
		assert.ErrorIs(t, err, liberr.ErrInvalid)
	})

	t.Run("two active tasks for one kind", func(t *testing.T) {
		dup := l.All()[0]
		dup.ID = "other"
		_, err := Restore(l.Policy(), append(l.All(), dup))
		assert.True(t, errors.Is(err, liberr.ErrInvalid))
	})
}

func TestAtMostOneActiveTaskPerKind(t *testing.T) {
	l := NewLedger(testPolicy())
	for range 3 {
		l.EnqueueStandard("a1", models.ProviderOpenAI, true, t0)
	}
	for _, kind := range models.AllTaskKinds {
		_, _ = l.Requeue("a1", kind, models.ProviderOpenAI, t0)
	}

	active := map[models.TaskKind]int{}
	for _, task := range l.All() {
		if !task.Status.Terminal() {
			active[task.Kind]++
		}
	}
	for kind, n := range active {
		assert.Equal(t, 1, n, kind)
	}
	assert.True(t, slices.ContainsFunc(l.All(), func(t models.TaskState) bool { return t.Kind == models.TaskFaces }))
}

func TestBackoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: 500 * time.Millisecond}
	assert.Equal(t, time.Duration(0), p.Backoff(0))
	assert.Equal(t, 500*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(3))
	assert.Equal(t, time.Duration(0), RetryPolicy{}.Backoff(2))
}
