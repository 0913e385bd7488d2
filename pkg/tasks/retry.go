package tasks

import (
	"time"

	"github.com/prismon/photo-library/internal/models"
)

// RetryPolicy bounds automatic retries per task kind
type RetryPolicy struct {
	MaxRetries map[models.TaskKind]int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy retries file access three times, derived metadata once,
// and never retries AI work.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: map[models.TaskKind]int{
			models.TaskBookmarkResolve: 3,
			models.TaskQuickHash:       3,
			models.TaskExif:            1,
			models.TaskThumbnail:       1,
			models.TaskFullHash:        1,
			models.TaskAITagging:       0,
			models.TaskEmbeddings:      0,
			models.TaskFaces:           0,
		},
		BaseDelay: time.Second,
	}
}

// Limit returns the retry budget for kind
func (p RetryPolicy) Limit(kind models.TaskKind) int {
	return p.MaxRetries[kind]
}

// Backoff returns the delay before the given retry attempt (1-based)
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	return p.BaseDelay << (attempt - 1)
}

// prerequisites lists the kinds that must complete before a kind may start
var prerequisites = map[models.TaskKind][]models.TaskKind{
	models.TaskFullHash:   {models.TaskQuickHash},
	models.TaskAITagging:  {models.TaskThumbnail},
	models.TaskEmbeddings: {models.TaskThumbnail},
	models.TaskFaces:      {models.TaskThumbnail},
}

// Prerequisites returns the kinds that gate kind
func Prerequisites(kind models.TaskKind) []models.TaskKind {
	return prerequisites[kind]
}

// dependents is the reverse of prerequisites
func dependents(kind models.TaskKind) []models.TaskKind {
	var out []models.TaskKind
	for _, k := range models.AllTaskKinds {
		for _, pre := range prerequisites[k] {
			if pre == kind {
				out = append(out, k)
			}
		}
	}
	return out
}

// BlockedByPolicy reports whether local-only mode forbids dispatching the task
func BlockedByPolicy(task models.TaskState, localOnly bool) bool {
	return localOnly && task.Kind.UsesProvider() && task.Provider.IsCloud()
}
