package models

import (
	"fmt"
	"time"
)

// TaskKind is the type of enrichment work a task performs
type TaskKind string

const (
	TaskBookmarkResolve TaskKind = "bookmark_resolve"
	TaskQuickHash       TaskKind = "quick_hash"
	TaskExif            TaskKind = "exif"
	TaskThumbnail       TaskKind = "thumbnail"
	TaskFullHash        TaskKind = "full_hash"
	TaskAITagging       TaskKind = "ai_tagging"
	TaskEmbeddings      TaskKind = "embeddings"
	TaskFaces           TaskKind = "faces"
)

// StandardTaskKinds is the job set enqueued for every import, in order
var StandardTaskKinds = []TaskKind{
	TaskBookmarkResolve,
	TaskQuickHash,
	TaskExif,
	TaskThumbnail,
	TaskFullHash,
	TaskAITagging,
	TaskEmbeddings,
}

// AllTaskKinds includes the optional faces kind
var AllTaskKinds = append(append([]TaskKind{}, StandardTaskKinds...), TaskFaces)

// Order returns the kind's position in the standard job set
func (k TaskKind) Order() int {
	for i, kind := range AllTaskKinds {
		if kind == k {
			return i
		}
	}
	return len(AllTaskKinds)
}

// Valid reports whether k is a known kind
func (k TaskKind) Valid() bool {
	return k.Order() < len(AllTaskKinds)
}

// ParseTaskKind validates a kind name from user input
func ParseTaskKind(s string) (TaskKind, error) {
	k := TaskKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown task kind %q", s)
	}
	return k, nil
}

// UsesProvider reports whether tasks of this kind are bound to an AI provider
func (k TaskKind) UsesProvider() bool {
	return k == TaskAITagging || k == TaskEmbeddings
}

// TaskStatus is the state of a task
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether no further transition is expected
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskState tracks one unit of enrichment work for one asset
type TaskState struct {
	ID               string     `json:"id"`
	AssetID          string     `json:"asset_id"`
	Kind             TaskKind   `json:"kind"`
	Status           TaskStatus `json:"status"`
	Provider         AIProvider `json:"provider,omitempty"`
	LastUpdated      time.Time  `json:"last_updated"`
	ErrorDescription *string    `json:"error_description,omitempty"`
	Retries          int        `json:"retries"`
	NotBefore        *time.Time `json:"not_before,omitempty"`
	Seq              int64      `json:"seq"`
}
