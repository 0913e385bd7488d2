package library

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/prismon/photo-library/internal/models"
	"github.com/prismon/photo-library/pkg/liberr"
	"github.com/sirupsen/logrus"
)

// PathError is the failure to import one path
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// ImportError collects the per-path failures of an import batch.
// The paths that succeeded are still committed.
type ImportError struct {
	Failures []*PathError
}

func (e *ImportError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%d of the paths failed to import: %s", len(e.Failures), strings.Join(msgs, "; "))
}

func (e *ImportError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Import adds one asset per path and enqueues its standard task set.
// File access happens before the batch is committed in a single step.
func (e *Engine) Import(ctx context.Context, paths []string) ([]string, error) {
	var failures []*PathError
	candidates := make([]*models.Asset, 0, len(paths))

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		asset, err := e.prepareImport(path)
		if err != nil {
			failures = append(failures, &PathError{Path: path, Err: err})
			continue
		}
		candidates = append(candidates, asset)
	}

	var ids []string
	err := e.exec.submit(ctx, func(tx *txn) error {
		st := tx.st
		for _, asset := range candidates {
			if existing, ok := st.byPath[asset.ResolvedPath]; ok {
				failures = append(failures, &PathError{
					Path: asset.ResolvedPath,
					Err:  liberr.Conflict("import", asset.ResolvedPath, "already indexed as %s", existing),
				})
				continue
			}
			asset.CreatedAt = asset.CreatedAt.UTC()
			st.insertAsset(asset)
			tx.emit(Event{Type: EventAssetInserted, AssetID: asset.ID})
			for _, t := range st.ledger.EnqueueStandard(asset.ID, st.settings.AIProvider, st.settings.FacesEnabled, tx.now) {
				tx.taskChanged(t)
			}
			ids = append(ids, asset.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"imported": len(ids),
		"failed":   len(failures),
	}).Info("Import finished")

	if len(failures) > 0 {
		return ids, &ImportError{Failures: failures}
	}
	return ids, nil
}

// prepareImport does the file access for one path outside the writer
func (e *Engine) prepareImport(path string) (*models.Asset, error) {
	if path == "" {
		return nil, liberr.Invalidf("import", path, "empty path")
	}
	path = filepath.Clean(path)

	size, createdAt, err := e.fa.Stat(path)
	if err != nil {
		return nil, liberr.External("stat", path, err)
	}

	asset := models.NewImportedAsset(path, size, createdAt)

	bookmark, err := e.fa.CreateBookmark(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Warn("Could not create bookmark")
	} else {
		asset.Bookmark = bookmark
	}

	if hasher, ok := e.fa.(QuickHasher); ok {
		hash, err := hasher.QuickHash(path)
		if err != nil {
			log.WithError(err).WithField("path", path).Debug("Quick hash deferred to task")
		} else {
			asset.QuickHash = hash
		}
	}
	return asset, nil
}

// Delete removes the asset from the index and every album and cancels its
// outstanding tasks. Deleting an unknown id does nothing.
func (e *Engine) Delete(ctx context.Context, id string) error {
	return e.exec.submit(ctx, func(tx *txn) error {
		st := tx.st
		if st.removeAsset(id) == nil {
			return nil
		}

		for _, albumID := range st.albumOrder {
			album := st.albums[albumID]
			if !album.Contains(id) {
				continue
			}
			updated := album.Clone()
			updated.AssetIDs = removeString(updated.AssetIDs, id)
			st.putAlbum(updated)
			tx.albumChanged(albumID)
		}

		e.cancelTasks(tx, id)
		tx.emit(Event{Type: EventAssetDeleted, AssetID: id})
		log.WithField("assetID", id).Debug("Asset deleted")
		return nil
	})
}

// UpdateField applies a typed mutation to one asset
func (e *Engine) UpdateField(ctx context.Context, id string, update Update) error {
	if update == nil {
		return liberr.Invalidf("update", id, "no update given")
	}
	return e.exec.submit(ctx, func(tx *txn) error {
		current, ok := tx.st.assets[id]
		if !ok {
			return liberr.NotFound("update", id)
		}

		updated := current.Clone()
		fields, err := update.apply(updated, tx.now)
		if err != nil {
			return liberr.Invalid("update", id, err)
		}
		if len(fields) == 0 {
			return nil
		}

		tx.st.replaceAsset(updated)
		tx.assetMutated(id, fields...)
		return nil
	})
}

// Asset returns the current version of one asset
func (e *Engine) Asset(id string) (*models.Asset, error) {
	a, ok := e.Snapshot().Asset(id)
	if !ok {
		return nil, liberr.NotFound("get asset", id)
	}
	return a, nil
}

// IsImportConflict reports whether err only concerns paths that were already indexed
func IsImportConflict(err error) bool {
	var ie *ImportError
	if !errors.As(err, &ie) {
		return false
	}
	for _, f := range ie.Failures {
		if !errors.Is(f, liberr.ErrConflict) {
			return false
		}
	}
	return true
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
