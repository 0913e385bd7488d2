package library

import (
	"context"
	"fmt"
	"time"

	"github.com/prismon/photo-library/internal/models"
	"github.com/prismon/photo-library/pkg/liberr"
	"github.com/prismon/photo-library/pkg/tasks"
	"github.com/sirupsen/logrus"
)

// Engine implements tasks.Coordinator
var _ tasks.Coordinator = (*Engine)(nil)

// Claim claims one specific task
func (e *Engine) Claim(ctx context.Context, taskID string) (*tasks.Job, error) {
	var job *tasks.Job
	err := e.exec.submit(ctx, func(tx *txn) error {
		var err error
		job, err = e.claim(tx, taskID)
		return err
	})
	return job, err
}

// ClaimNext claims the first ready task among kinds, in (enqueue, kind) order.
// It returns nil when no task is ready.
func (e *Engine) ClaimNext(ctx context.Context, kinds []models.TaskKind) (*tasks.Job, error) {
	var job *tasks.Job
	err := e.exec.submit(ctx, func(tx *txn) error {
		st := tx.st
		candidate := ""
		for t := range st.ledger.Ready(tx.now, st.settings.LocalOnlyMode, kinds) {
			if _, ok := st.assets[t.AssetID]; !ok {
				liberr.Invariant("ready task %s references missing asset %s", t.ID, t.AssetID)
				continue
			}
			candidate = t.ID
			break
		}
		if candidate == "" {
			return nil
		}
		var err error
		job, err = e.claim(tx, candidate)
		return err
	})
	return job, err
}

// WaitClaim blocks until a task among kinds can be claimed or ctx is done
func (e *Engine) WaitClaim(ctx context.Context, kinds []models.TaskKind) (*tasks.Job, error) {
	for {
		changed := e.changed()
		job, err := e.ClaimNext(ctx, kinds)
		if err != nil || job != nil {
			return job, err
		}

		timer := time.NewTimer(e.pollInterval)
		select {
		case <-changed:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
		timer.Stop()
	}
}

// NextRetry reports the earliest backoff deadline among pending tasks of the given kinds
func (e *Engine) NextRetry(ctx context.Context, kinds []models.TaskKind) (time.Time, bool, error) {
	var next time.Time
	var ok bool
	err := e.exec.submit(ctx, func(tx *txn) error {
		next, ok = tx.st.ledger.NextRetry(tx.now, kinds)
		return nil
	})
	return next, ok, err
}

// claim checks the task's asset before moving the task to running and binds
// a cancellable context to the job
func (e *Engine) claim(tx *txn, taskID string) (*tasks.Job, error) {
	st := tx.st
	task, ok := st.ledger.Get(taskID)
	if !ok {
		return nil, liberr.NotFound("claim", taskID)
	}
	asset, ok := st.assets[task.AssetID]
	if !ok {
		return nil, liberr.Invariant("task %s references missing asset %s", task.ID, task.AssetID)
	}

	claimed, err := st.ledger.Claim(taskID, tx.now, st.settings.LocalOnlyMode)
	if err != nil {
		return nil, err
	}

	jobCtx, cancel := context.WithCancel(e.baseCtx)
	e.running[claimed.ID] = cancel
	tx.taskChanged(claimed)
	return tasks.NewJob(jobCtx, claimed, asset), nil
}

func (e *Engine) finishJob(taskID string) {
	if cancel, ok := e.running[taskID]; ok {
		cancel()
		delete(e.running, taskID)
	}
}

// Complete marks a running task completed and applies its outcome to the asset
func (e *Engine) Complete(ctx context.Context, taskID string, outcome tasks.Outcome) error {
	if outcome == nil {
		return liberr.Invalidf("complete", taskID, "no outcome")
	}
	return e.exec.submit(ctx, func(tx *txn) error {
		st := tx.st
		task, ok := st.ledger.Get(taskID)
		if !ok {
			return liberr.NotFound("complete", taskID)
		}
		if task.Status != models.TaskRunning {
			return liberr.Conflict("complete", taskID, "task is %s", task.Status)
		}
		if outcome.Kind() != task.Kind {
			return liberr.Invalidf("complete", taskID, "%s outcome for a %s task", outcome.Kind(), task.Kind)
		}
		current, ok := st.assets[task.AssetID]
		if !ok {
			return liberr.Invariant("running task %s references missing asset %s", taskID, task.AssetID)
		}

		updated := current.Clone()
		fields, err := applyOutcome(updated, task, outcome, tx.now)
		if err != nil {
			return liberr.Invalid("complete", taskID, err)
		}

		completed, err := st.ledger.Complete(taskID, tx.now)
		if err != nil {
			return err
		}
		e.finishJob(taskID)
		tx.taskChanged(completed)
		if len(fields) > 0 {
			st.replaceAsset(updated)
			tx.assetMutated(updated.ID, fields...)
		}
		return nil
	})
}

// Fail records a worker failure; the retry policy decides whether the task runs again
func (e *Engine) Fail(ctx context.Context, taskID string, cause error, retryable bool) error {
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	return e.exec.submit(ctx, func(tx *txn) error {
		transitions, err := tx.st.ledger.Fail(taskID, reason, retryable, tx.now)
		if err != nil {
			return err
		}
		e.finishJob(taskID)
		for _, t := range transitions {
			tx.taskChanged(t)
		}

		last := transitions[len(transitions)-1]
		log.WithFields(logrus.Fields{
			"taskID":    taskID,
			"assetID":   last.AssetID,
			"kind":      transitions[0].Kind,
			"reason":    reason,
			"retried":   last.ID == taskID && last.Status == models.TaskPending,
			"retryable": retryable,
		}).Debug("Task failed")
		return nil
	})
}

// CancelTasks fails every outstanding task of the asset with reason "cancelled"
func (e *Engine) CancelTasks(ctx context.Context, assetID string) error {
	return e.exec.submit(ctx, func(tx *txn) error {
		e.cancelTasks(tx, assetID)
		return nil
	})
}

func (e *Engine) cancelTasks(tx *txn, assetID string) {
	for _, t := range tx.st.ledger.Cancel(assetID, tx.now) {
		e.finishJob(t.ID)
		tx.taskChanged(t)
	}
}

// Requeue enqueues a fresh task of the given kind for an asset, e.g. to retry
// failed AI tagging after the user fixed a provider problem. Prerequisites that
// failed for good are requeued along with it.
func (e *Engine) Requeue(ctx context.Context, assetID string, kind models.TaskKind) (models.TaskState, error) {
	var task models.TaskState
	err := e.exec.submit(ctx, func(tx *txn) error {
		st := tx.st
		if _, ok := st.assets[assetID]; !ok {
			return liberr.NotFound("requeue", assetID)
		}
		queued, err := st.ledger.Requeue(assetID, kind, st.settings.AIProvider, tx.now)
		if err != nil {
			return err
		}
		for _, t := range queued {
			tx.taskChanged(t)
		}
		task = queued[len(queued)-1]
		return nil
	})
	return task, err
}

// RecoverInterrupted returns tasks left running by a previous process to pending
func (e *Engine) RecoverInterrupted(ctx context.Context) (int, error) {
	var n int
	err := e.exec.submit(ctx, func(tx *txn) error {
		if len(e.running) > 0 {
			return liberr.Conflict("recover tasks", "", "%d tasks are running in this process", len(e.running))
		}
		for _, t := range tx.st.ledger.ResetRunning(tx.now) {
			tx.taskChanged(t)
			n++
		}
		return nil
	})
	return n, err
}

// TaskCounts returns the number of tasks per status
func (e *Engine) TaskCounts(ctx context.Context) (map[models.TaskStatus]int, error) {
	var counts map[models.TaskStatus]int
	err := e.exec.submit(ctx, func(tx *txn) error {
		counts = tx.st.ledger.Counts()
		return nil
	})
	return counts, err
}

// applyOutcome writes a worker result into the asset copy and names the changed fields
func applyOutcome(a *models.Asset, task models.TaskState, outcome tasks.Outcome, now time.Time) ([]string, error) {
	switch o := outcome.(type) {
	case tasks.QuickHashResult:
		a.QuickHash = o.Hash
		return []string{"quick_hash"}, nil

	case tasks.FullHashResult:
		a.FullHash = o.Hash
		return []string{"full_hash"}, nil

	case tasks.ExifResult:
		fields := applyExif(a, ExifFields{
			ExifDate:    o.ExifDate,
			Camera:      o.Camera,
			Lens:        o.Lens,
			Orientation: o.Orientation,
		})
		if o.Dimensions != nil {
			a.Dimensions = *o.Dimensions
			fields = append(fields, "dimensions")
		}
		return fields, nil

	case tasks.ThumbnailResult:
		a.ThumbnailRef = o.Ref
		fields := []string{"thumbnail_ref"}
		if o.Dimensions != nil && a.Dimensions == (models.Dimensions{}) {
			a.Dimensions = *o.Dimensions
			fields = append(fields, "dimensions")
		}
		return fields, nil

	case tasks.AITagResult:
		tag, err := normalizeTag(o.Tag, task.Provider, now)
		if err != nil {
			return nil, err
		}
		a.AITags = append(a.AITags, tag)
		a.NeedsAITags = false
		return []string{"ai_tags", "needs_ai_tags"}, nil

	case tasks.EmbeddingResult:
		emb := o.Embedding.Clone()
		if emb.Provider == "" {
			emb.Provider = task.Provider
		}
		if len(emb.Vector) == 0 {
			return nil, fmt.Errorf("embedding vector is empty")
		}
		a.Embedding = &emb
		return []string{"embedding"}, nil

	case tasks.BookmarkResolveResult:
		fields := []string{}
		if o.Path != "" && o.Path != a.ResolvedPath {
			a.ResolvedPath = o.Path
			fields = append(fields, "resolved_path")
		}
		if o.Bookmark != nil {
			a.Bookmark = append([]byte(nil), o.Bookmark...)
			fields = append(fields, "bookmark")
		}
		if a.Status == models.StatusMissing {
			a.Status = models.StatusAvailable
			fields = append(fields, "status")
		}
		return fields, nil

	case tasks.FacesResult:
		tag, err := normalizeTag(o.Tag, models.ProviderAppleVision, now)
		if err != nil {
			return nil, err
		}
		a.AITags = append(a.AITags, tag)
		return []string{"ai_tags"}, nil
	}
	return nil, fmt.Errorf("unsupported outcome %T", outcome)
}
