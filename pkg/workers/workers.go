// Package workers implements the local enrichment workers: bookmark
// resolution, hashing, EXIF extraction and thumbnail generation.
package workers

import (
	"io"

	"github.com/prismon/photo-library/pkg/logger"
	"github.com/prismon/photo-library/pkg/tasks"
)

var log = logger.WithName("workers")

// Opener reads file contents
type Opener interface {
	Open(path string) (io.ReadCloser, error)
}

// Resolver turns bookmarks into paths and back
type Resolver interface {
	Resolve(bookmark []byte) (path string, stale bool, err error)
	CreateBookmark(path string) ([]byte, error)
}

// FileSystem is what the standard workers need from file access
type FileSystem interface {
	Opener
	Resolver
}

// Standard returns the local workers for every non-AI task kind
func Standard(fs FileSystem, thumbs ThumbnailConfig) []tasks.Worker {
	return []tasks.Worker{
		NewBookmarkWorker(fs),
		NewHashWorker(fs),
		NewExifWorker(fs),
		NewThumbnailWorker(fs, thumbs),
	}
}
