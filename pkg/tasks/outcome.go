package tasks

import (
	"errors"
	"time"

	"github.com/prismon/photo-library/internal/models"
)

// Outcome is the typed result a worker reports for a completed task
type Outcome interface {
	Kind() models.TaskKind
}

type QuickHashResult struct {
	Hash string
}

type FullHashResult struct {
	Hash string
}

// ExifResult carries whatever metadata the image exposed; nil fields are left untouched
type ExifResult struct {
	ExifDate    *time.Time
	Camera      *string
	Lens        *string
	Orientation *string
	Dimensions  *models.Dimensions
}

type ThumbnailResult struct {
	Ref        string
	Dimensions *models.Dimensions // source image size, when the worker decoded it
}

type AITagResult struct {
	Tag models.AITag
}

type EmbeddingResult struct {
	Embedding models.Embedding
}

// BookmarkResolveResult reports the resolved path. Bookmark is set when the
// original bookmark was stale and has been re-created.
type BookmarkResolveResult struct {
	Path     string
	Bookmark []byte
}

type FacesResult struct {
	Tag models.AITag
}

func (QuickHashResult) Kind() models.TaskKind       { return models.TaskQuickHash }
func (FullHashResult) Kind() models.TaskKind        { return models.TaskFullHash }
func (ExifResult) Kind() models.TaskKind            { return models.TaskExif }
func (ThumbnailResult) Kind() models.TaskKind       { return models.TaskThumbnail }
func (AITagResult) Kind() models.TaskKind           { return models.TaskAITagging }
func (EmbeddingResult) Kind() models.TaskKind       { return models.TaskEmbeddings }
func (BookmarkResolveResult) Kind() models.TaskKind { return models.TaskBookmarkResolve }
func (FacesResult) Kind() models.TaskKind           { return models.TaskFaces }

// Failure is the error a worker returns when a task could not be completed
type Failure struct {
	Err       error
	Retryable bool
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return "task failed"
	}
	return f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Retry wraps err as a failure the ledger may retry
func Retry(err error) error {
	return &Failure{Err: err, Retryable: true}
}

// Permanent wraps err as a failure that must not be retried
func Permanent(err error) error {
	return &Failure{Err: err, Retryable: false}
}

// IsRetryable reports whether err should be retried. Errors that are not a
// *Failure are treated as transient.
func IsRetryable(err error) bool {
	var f *Failure
	if errors.As(err, &f) {
		return f.Retryable
	}
	return true
}
