package library

import (
	"context"
	"path/filepath"
	"slices"
	"strings"

	"github.com/prismon/photo-library/internal/models"
	"github.com/prismon/photo-library/pkg/liberr"
)

// CreateAlbum adds an empty manual album
func (e *Engine) CreateAlbum(ctx context.Context, name string) (*models.Album, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, liberr.Invalidf("create album", "", "album name is empty")
	}
	album := &models.Album{ID: models.NewID(), Name: name, AssetIDs: []string{}}
	err := e.exec.submit(ctx, func(tx *txn) error {
		tx.st.putAlbum(album)
		tx.albumChanged(album.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return album, nil
}

func (e *Engine) RenameAlbum(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return liberr.Invalidf("rename album", id, "album name is empty")
	}
	return e.exec.submit(ctx, func(tx *txn) error {
		album, ok := tx.st.albums[id]
		if !ok {
			return liberr.NotFound("rename album", id)
		}
		updated := album.Clone()
		updated.Name = name
		tx.st.putAlbum(updated)
		tx.albumChanged(id)
		return nil
	})
}

// DeleteAlbum removes a manual album; its assets are untouched. Unknown ids are ignored.
func (e *Engine) DeleteAlbum(ctx context.Context, id string) error {
	return e.exec.submit(ctx, func(tx *txn) error {
		if _, ok := tx.st.albums[id]; !ok {
			return nil
		}
		tx.st.deleteAlbum(id)
		tx.albumChanged(id)
		return nil
	})
}

// AddToAlbum adds assets to an album. Any unknown asset id rejects the whole call.
func (e *Engine) AddToAlbum(ctx context.Context, albumID string, assetIDs ...string) error {
	return e.exec.submit(ctx, func(tx *txn) error {
		album, err := e.albumForMembership(tx, "add to album", albumID, assetIDs)
		if err != nil {
			return err
		}
		updated := album.Clone()
		for _, id := range assetIDs {
			if !slices.Contains(updated.AssetIDs, id) {
				updated.AssetIDs = append(updated.AssetIDs, id)
			}
		}
		if slices.Equal(updated.AssetIDs, album.AssetIDs) {
			return nil
		}
		tx.st.putAlbum(updated)
		tx.albumChanged(albumID)
		return nil
	})
}

// RemoveFromAlbum removes assets from an album. Any unknown asset id rejects the whole call.
func (e *Engine) RemoveFromAlbum(ctx context.Context, albumID string, assetIDs ...string) error {
	return e.exec.submit(ctx, func(tx *txn) error {
		album, err := e.albumForMembership(tx, "remove from album", albumID, assetIDs)
		if err != nil {
			return err
		}
		updated := album.Clone()
		updated.AssetIDs = slices.DeleteFunc(updated.AssetIDs, func(id string) bool {
			return slices.Contains(assetIDs, id)
		})
		if len(updated.AssetIDs) == len(album.AssetIDs) {
			return nil
		}
		tx.st.putAlbum(updated)
		tx.albumChanged(albumID)
		return nil
	})
}

func (e *Engine) albumForMembership(tx *txn, op, albumID string, assetIDs []string) (*models.Album, error) {
	album, ok := tx.st.albums[albumID]
	if !ok {
		return nil, liberr.NotFound(op, albumID)
	}
	for _, id := range assetIDs {
		if _, ok := tx.st.assets[id]; !ok {
			return nil, liberr.Invalidf(op, albumID, "unknown asset %s", id)
		}
	}
	return album, nil
}

// CreateSmartAlbum adds a rule-based album after validating its rules
func (e *Engine) CreateSmartAlbum(ctx context.Context, name string, rules []models.Rule) (*models.SmartAlbum, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, liberr.Invalidf("create smart album", "", "smart album name is empty")
	}
	if err := models.ValidateRules(rules); err != nil {
		return nil, liberr.Invalid("create smart album", name, err)
	}

	album := &models.SmartAlbum{ID: models.NewID(), Name: name, Rules: slices.Clone(rules)}
	if album.Rules == nil {
		album.Rules = []models.Rule{}
	}
	err := e.exec.submit(ctx, func(tx *txn) error {
		tx.st.putSmartAlbum(album)
		tx.albumChanged(album.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return album, nil
}

func (e *Engine) RenameSmartAlbum(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return liberr.Invalidf("rename smart album", id, "smart album name is empty")
	}
	return e.updateSmartAlbum(ctx, "rename smart album", id, func(a *models.SmartAlbum) {
		a.Name = name
	})
}

// SetSmartAlbumRules replaces the rules of a smart album
func (e *Engine) SetSmartAlbumRules(ctx context.Context, id string, rules []models.Rule) error {
	if err := models.ValidateRules(rules); err != nil {
		return liberr.Invalid("set smart album rules", id, err)
	}
	return e.updateSmartAlbum(ctx, "set smart album rules", id, func(a *models.SmartAlbum) {
		a.Rules = slices.Clone(rules)
		if a.Rules == nil {
			a.Rules = []models.Rule{}
		}
	})
}

func (e *Engine) updateSmartAlbum(ctx context.Context, op, id string, fn func(*models.SmartAlbum)) error {
	return e.exec.submit(ctx, func(tx *txn) error {
		album, ok := tx.st.smart[id]
		if !ok {
			return liberr.NotFound(op, id)
		}
		updated := album.Clone()
		fn(updated)
		tx.st.putSmartAlbum(updated)
		tx.albumChanged(id)
		return nil
	})
}

// DeleteSmartAlbum removes a smart album. Unknown ids are ignored.
func (e *Engine) DeleteSmartAlbum(ctx context.Context, id string) error {
	return e.exec.submit(ctx, func(tx *txn) error {
		if _, ok := tx.st.smart[id]; !ok {
			return nil
		}
		tx.st.deleteSmartAlbum(id)
		tx.albumChanged(id)
		return nil
	})
}

// AddWatchedFolder records a folder for live import. Adding a folder twice is a no-op.
func (e *Engine) AddWatchedFolder(ctx context.Context, path string) error {
	if strings.TrimSpace(path) == "" {
		return liberr.Invalidf("add watched folder", path, "empty path")
	}
	path = filepath.Clean(path)
	return e.exec.submit(ctx, func(tx *txn) error {
		if slices.Contains(tx.st.watched, path) {
			return nil
		}
		tx.st.watched = append(tx.st.watched, path)
		tx.emit(Event{Type: EventSettingsChanged})
		return nil
	})
}

func (e *Engine) RemoveWatchedFolder(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	return e.exec.submit(ctx, func(tx *txn) error {
		if !slices.Contains(tx.st.watched, path) {
			return nil
		}
		tx.st.watched = slices.DeleteFunc(tx.st.watched, func(p string) bool { return p == path })
		tx.emit(Event{Type: EventSettingsChanged})
		return nil
	})
}
