package workers

import (
	"context"
	"fmt"
	"io"

	"github.com/prismon/photo-library/internal/models"
	"github.com/prismon/photo-library/pkg/fileaccess"
	"github.com/prismon/photo-library/pkg/tasks"
)

// HashWorker computes the quick (64 KiB prefix) and full SHA-256 fingerprints
type HashWorker struct {
	fs Opener
}

func NewHashWorker(fs Opener) *HashWorker {
	return &HashWorker{fs: fs}
}

func (w *HashWorker) Kinds() []models.TaskKind {
	return []models.TaskKind{models.TaskQuickHash, models.TaskFullHash}
}

func (w *HashWorker) Execute(ctx context.Context, job *tasks.Job) (tasks.Outcome, error) {
	r, err := openJob(w.fs, job)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	switch job.Task.Kind {
	case models.TaskQuickHash:
		hash, err := fileaccess.HashPrefix(r, fileaccess.QuickHashSize)
		if err != nil {
			return nil, tasks.Retry(err)
		}
		return tasks.QuickHashResult{Hash: hash}, nil
	case models.TaskFullHash:
		hash, err := fileaccess.HashPrefix(&ctxReader{ctx: ctx, r: r}, 0)
		if err != nil {
			return nil, tasks.Retry(err)
		}
		return tasks.FullHashResult{Hash: hash}, nil
	}
	return nil, tasks.Permanent(fmt.Errorf("hash worker cannot run %s", job.Task.Kind))
}

func openJob(fs Opener, job *tasks.Job) (io.ReadCloser, error) {
	path := job.Path()
	if path == "" {
		return nil, tasks.Permanent(fmt.Errorf("asset %s has no resolved path", job.Task.AssetID))
	}
	r, err := fs.Open(path)
	if err != nil {
		return nil, tasks.Retry(err)
	}
	return r, nil
}

// ctxReader stops a long read once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
