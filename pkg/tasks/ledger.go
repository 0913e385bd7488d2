// Package tasks tracks per-asset enrichment work and dispatches it to workers.
package tasks

import (
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/prismon/photo-library/internal/models"
	"github.com/prismon/photo-library/pkg/liberr"
	"github.com/prismon/photo-library/pkg/logger"
	"github.com/sirupsen/logrus"
)

var log = logger.WithName("tasks")

const (
	ReasonCancelled        = "cancelled"
	ReasonTimeout          = "timeout"
	ReasonDependencyFailed = "dependency failed"
)

type activeKey struct {
	assetID string
	kind    models.TaskKind
}

// Ledger records every task and its state transitions.
// It is not safe for concurrent use; the library engine owns it from its
// single writer goroutine.
type Ledger struct {
	policy  RetryPolicy
	tasks   map[string]*models.TaskState
	order   []string // task ids in enqueue order
	byAsset map[string][]string
	active  map[activeKey]string // the non-terminal task per (asset, kind)
	seq     int64
}

// NewLedger creates an empty ledger using the given retry policy
func NewLedger(policy RetryPolicy) *Ledger {
	return &Ledger{
		policy:  policy,
		tasks:   make(map[string]*models.TaskState),
		byAsset: make(map[string][]string),
		active:  make(map[activeKey]string),
	}
}

// Policy returns the retry policy in effect
func (l *Ledger) Policy() RetryPolicy {
	return l.policy
}

// Len returns the number of recorded tasks, terminal ones included
func (l *Ledger) Len() int {
	return len(l.order)
}

// Get returns a copy of the task
func (l *Ledger) Get(id string) (models.TaskState, bool) {
	t, ok := l.tasks[id]
	if !ok {
		return models.TaskState{}, false
	}
	return *t, true
}

// ForAsset returns copies of the asset's tasks in enqueue order
func (l *Ledger) ForAsset(assetID string) []models.TaskState {
	ids := l.byAsset[assetID]
	out := make([]models.TaskState, 0, len(ids))
	for _, id := range ids {
		out = append(out, *l.tasks[id])
	}
	return out
}

// All returns copies of every task in enqueue order
func (l *Ledger) All() []models.TaskState {
	out := make([]models.TaskState, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.tasks[id])
	}
	return out
}

// Counts returns the number of tasks per status
func (l *Ledger) Counts() map[models.TaskStatus]int {
	counts := make(map[models.TaskStatus]int)
	for _, t := range l.tasks {
		counts[t.Status]++
	}
	return counts
}

// Enqueue adds a pending task for (asset, kind).
// Conflict is returned when a non-terminal task already exists for the pair.
func (l *Ledger) Enqueue(assetID string, kind models.TaskKind, provider models.AIProvider, now time.Time) (models.TaskState, error) {
	key := activeKey{assetID, kind}
	if existing, ok := l.active[key]; ok {
		return models.TaskState{}, liberr.Conflict("enqueue", assetID, "%s task %s is still %s", kind, existing, l.tasks[existing].Status)
	}

	l.seq++
	t := &models.TaskState{
		ID:          models.NewID(),
		AssetID:     assetID,
		Kind:        kind,
		Status:      models.TaskPending,
		LastUpdated: now,
		Seq:         l.seq,
	}
	if kind.UsesProvider() {
		t.Provider = provider
	}

	l.tasks[t.ID] = t
	l.order = append(l.order, t.ID)
	l.byAsset[assetID] = append(l.byAsset[assetID], t.ID)
	l.active[key] = t.ID
	return *t, nil
}

// EnqueueStandard adds the standard job set for a freshly imported asset.
// Faces is appended only when faces is true.
func (l *Ledger) EnqueueStandard(assetID string, provider models.AIProvider, faces bool, now time.Time) []models.TaskState {
	kinds := models.StandardTaskKinds
	if faces {
		kinds = append(slices.Clone(kinds), models.TaskFaces)
	}

	out := make([]models.TaskState, 0, len(kinds))
	for _, kind := range kinds {
		t, err := l.Enqueue(assetID, kind, provider, now)
		if err != nil {
			log.WithError(err).WithField("assetID", assetID).Debug("Skipping standard task")
			continue
		}
		out = append(out, t)
	}
	return out
}

// Pending yields pending tasks in (enqueue, kind) order.
// The sequence is lazy and must be consumed before the ledger is mutated.
func (l *Ledger) Pending() iter.Seq[models.TaskState] {
	return func(yield func(models.TaskState) bool) {
		for _, id := range l.order {
			t := l.tasks[id]
			if t.Status != models.TaskPending {
				continue
			}
			if !yield(*t) {
				return
			}
		}
	}
}

// Ready yields the pending tasks that may be claimed now: backoff elapsed,
// prerequisites completed and not blocked by local-only mode.
// An empty kinds filter accepts every kind.
func (l *Ledger) Ready(now time.Time, localOnly bool, kinds []models.TaskKind) iter.Seq[models.TaskState] {
	return func(yield func(models.TaskState) bool) {
		for t := range l.Pending() {
			if len(kinds) > 0 && !slices.Contains(kinds, t.Kind) {
				continue
			}
			if l.dispatchable(t, now, localOnly) != nil {
				continue
			}
			if !yield(t) {
				return
			}
		}
	}
}

// NextRetry returns the earliest backoff deadline among pending tasks of the given kinds
func (l *Ledger) NextRetry(now time.Time, kinds []models.TaskKind) (time.Time, bool) {
	var next time.Time
	found := false
	for t := range l.Pending() {
		if len(kinds) > 0 && !slices.Contains(kinds, t.Kind) {
			continue
		}
		if t.NotBefore == nil || !t.NotBefore.After(now) {
			continue
		}
		if !found || t.NotBefore.Before(next) {
			next = *t.NotBefore
			found = true
		}
	}
	return next, found
}

// dispatchable explains why a pending task cannot be claimed, or returns nil
func (l *Ledger) dispatchable(t models.TaskState, now time.Time, localOnly bool) error {
	if t.NotBefore != nil && now.Before(*t.NotBefore) {
		return liberr.Conflict("claim", t.ID, "retry backoff until %s", t.NotBefore.Format(time.RFC3339))
	}
	for _, pre := range Prerequisites(t.Kind) {
		if !l.prerequisiteMet(t.AssetID, pre) {
			return liberr.Conflict("claim", t.ID, "%s waits for %s", t.Kind, pre)
		}
	}
	if BlockedByPolicy(t, localOnly) {
		return liberr.PolicyRejected("claim", t.ID, "%s is a cloud provider and local-only mode is on", t.Provider)
	}
	return nil
}

// prerequisiteMet holds when the asset has a completed task of the given kind,
// or has never had one.
func (l *Ledger) prerequisiteMet(assetID string, kind models.TaskKind) bool {
	seen := false
	for _, id := range l.byAsset[assetID] {
		t := l.tasks[id]
		if t.Kind != kind {
			continue
		}
		if t.Status == models.TaskCompleted {
			return true
		}
		seen = true
	}
	return !seen
}

// Claim moves a pending task to running
func (l *Ledger) Claim(id string, now time.Time, localOnly bool) (models.TaskState, error) {
	t, ok := l.tasks[id]
	if !ok {
		return models.TaskState{}, liberr.NotFound("claim", id)
	}
	if t.Status != models.TaskPending {
		return models.TaskState{}, liberr.Conflict("claim", id, "task is %s", t.Status)
	}
	if err := l.dispatchable(*t, now, localOnly); err != nil {
		return models.TaskState{}, err
	}

	t.Status = models.TaskRunning
	t.LastUpdated = now
	t.NotBefore = nil
	return *t, nil
}

// Complete moves a running task to completed
func (l *Ledger) Complete(id string, now time.Time) (models.TaskState, error) {
	t, ok := l.tasks[id]
	if !ok {
		return models.TaskState{}, liberr.NotFound("complete", id)
	}
	if t.Status != models.TaskRunning {
		return models.TaskState{}, liberr.Conflict("complete", id, "task is %s", t.Status)
	}

	t.Status = models.TaskCompleted
	t.LastUpdated = now
	t.ErrorDescription = nil
	delete(l.active, activeKey{t.AssetID, t.Kind})
	return *t, nil
}

// Fail moves a running task to failed and applies the retry policy.
// The returned transitions are in the order they happened: the failure, then
// either the re-queue to pending or the failures of dependent tasks.
func (l *Ledger) Fail(id, reason string, retryable bool, now time.Time) ([]models.TaskState, error) {
	t, ok := l.tasks[id]
	if !ok {
		return nil, liberr.NotFound("fail", id)
	}
	if t.Status != models.TaskRunning {
		return nil, liberr.Conflict("fail", id, "task is %s", t.Status)
	}

	t.Status = models.TaskFailed
	t.LastUpdated = now
	t.ErrorDescription = &reason
	transitions := []models.TaskState{*t}

	if retryable && t.Retries < l.policy.Limit(t.Kind) {
		t.Retries++
		t.Status = models.TaskPending
		notBefore := now.Add(l.policy.Backoff(t.Retries))
		t.NotBefore = &notBefore

		log.WithFields(logrus.Fields{
			"taskID":    t.ID,
			"kind":      t.Kind,
			"attempt":   t.Retries,
			"notBefore": notBefore,
		}).Debug("Retrying task")

		return append(transitions, *t), nil
	}

	delete(l.active, activeKey{t.AssetID, t.Kind})
	return append(transitions, l.failDependents(t.AssetID, t.Kind, now)...), nil
}

// failDependents terminally fails pending tasks gated on a kind that can no longer complete
func (l *Ledger) failDependents(assetID string, kind models.TaskKind, now time.Time) []models.TaskState {
	var out []models.TaskState
	deps := dependents(kind)
	if len(deps) == 0 {
		return nil
	}
	for _, id := range l.byAsset[assetID] {
		t := l.tasks[id]
		if t.Status != models.TaskPending || !slices.Contains(deps, t.Kind) {
			continue
		}
		reason := fmt.Sprintf("%s: %s", ReasonDependencyFailed, kind)
		t.Status = models.TaskFailed
		t.LastUpdated = now
		t.ErrorDescription = &reason
		t.NotBefore = nil
		delete(l.active, activeKey{t.AssetID, t.Kind})
		out = append(out, *t)
	}
	return out
}

// Cancel fails every non-terminal task of the asset with reason "cancelled"
func (l *Ledger) Cancel(assetID string, now time.Time) []models.TaskState {
	var out []models.TaskState
	for _, id := range l.byAsset[assetID] {
		t := l.tasks[id]
		if t.Status.Terminal() {
			continue
		}
		reason := ReasonCancelled
		t.Status = models.TaskFailed
		t.LastUpdated = now
		t.ErrorDescription = &reason
		t.NotBefore = nil
		delete(l.active, activeKey{t.AssetID, t.Kind})
		out = append(out, *t)
	}
	return out
}

// Requeue enqueues a fresh task for (asset, kind) on user request.
// Prerequisites that failed for good are requeued first, otherwise the new
// task could never become ready. The requested task is the last element.
func (l *Ledger) Requeue(assetID string, kind models.TaskKind, provider models.AIProvider, now time.Time) ([]models.TaskState, error) {
	if kind.Order() == len(models.AllTaskKinds) {
		return nil, liberr.Invalidf("requeue", assetID, "unknown task kind %q", kind)
	}
	if existing, ok := l.active[activeKey{assetID, kind}]; ok {
		return nil, liberr.Conflict("requeue", assetID, "%s task %s is still %s", kind, existing, l.tasks[existing].Status)
	}

	var out []models.TaskState
	for _, pre := range l.stalledPrerequisites(assetID, kind) {
		t, err := l.Enqueue(assetID, pre, provider, now)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	t, err := l.Enqueue(assetID, kind, provider, now)
	if err != nil {
		return nil, err
	}
	return append(out, t), nil
}

// stalledPrerequisites lists the prerequisites of kind, deepest first, that
// have neither completed nor an active task
func (l *Ledger) stalledPrerequisites(assetID string, kind models.TaskKind) []models.TaskKind {
	var out []models.TaskKind
	for _, pre := range Prerequisites(kind) {
		if l.prerequisiteMet(assetID, pre) {
			continue
		}
		if _, ok := l.active[activeKey{assetID, pre}]; ok {
			continue
		}
		for _, deeper := range append(l.stalledPrerequisites(assetID, pre), pre) {
			if !slices.Contains(out, deeper) {
				out = append(out, deeper)
			}
		}
	}
	return out
}

// ResetRunning returns running tasks to pending, for tasks that were
// interrupted by a shutdown and have no worker anymore.
func (l *Ledger) ResetRunning(now time.Time) []models.TaskState {
	var out []models.TaskState
	for _, id := range l.order {
		t := l.tasks[id]
		if t.Status != models.TaskRunning {
			continue
		}
		t.Status = models.TaskPending
		t.LastUpdated = now
		out = append(out, *t)
	}
	return out
}

// Restore rebuilds a ledger from persisted tasks in enqueue order
func Restore(policy RetryPolicy, tasks []models.TaskState) (*Ledger, error) {
	l := NewLedger(policy)
	for _, state := range tasks {
		if _, dup := l.tasks[state.ID]; dup {
			return nil, liberr.Invalidf("restore tasks", state.ID, "duplicate task id")
		}
		t := state
		if !t.Status.Terminal() {
			key := activeKey{t.AssetID, t.Kind}
			if other, ok := l.active[key]; ok {
				return nil, liberr.Invalidf("restore tasks", t.ID, "%s already has active %s task %s", t.AssetID, t.Kind, other)
			}
			l.active[key] = t.ID
		}
		l.tasks[t.ID] = &t
		l.order = append(l.order, t.ID)
		l.byAsset[t.AssetID] = append(l.byAsset[t.AssetID], t.ID)
		l.seq = max(l.seq, t.Seq)
	}
	return l, nil
}
