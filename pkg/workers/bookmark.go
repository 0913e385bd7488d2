package workers

import (
	"context"
	"fmt"

	"github.com/prismon/photo-library/internal/models"
	"github.com/prismon/photo-library/pkg/tasks"
)

// BookmarkWorker resolves the asset's bookmark, re-creating it when stale.
// Assets imported without a bookmark get one from their resolved path.
type BookmarkWorker struct {
	fs Resolver
}

func NewBookmarkWorker(fs Resolver) *BookmarkWorker {
	return &BookmarkWorker{fs: fs}
}

func (w *BookmarkWorker) Kinds() []models.TaskKind {
	return []models.TaskKind{models.TaskBookmarkResolve}
}

func (w *BookmarkWorker) Execute(ctx context.Context, job *tasks.Job) (tasks.Outcome, error) {
	asset := job.Asset
	if len(asset.Bookmark) == 0 {
		if asset.ResolvedPath == "" {
			return nil, tasks.Permanent(fmt.Errorf("asset has neither bookmark nor path"))
		}
		mark, err := w.fs.CreateBookmark(asset.ResolvedPath)
		if err != nil {
			return nil, tasks.Retry(fmt.Errorf("failed to create bookmark: %w", err))
		}
		return tasks.BookmarkResolveResult{Path: asset.ResolvedPath, Bookmark: mark}, nil
	}

	path, stale, err := w.fs.Resolve(asset.Bookmark)
	if err != nil {
		return nil, tasks.Retry(err)
	}
	result := tasks.BookmarkResolveResult{Path: path}
	if stale {
		mark, err := w.fs.CreateBookmark(path)
		if err != nil {
			log.WithError(err).WithField("path", path).Warn("Could not re-create stale bookmark")
		} else {
			result.Bookmark = mark
		}
	}
	return result, nil
}
