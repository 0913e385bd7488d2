package library

import (
	"context"
	"slices"

	"github.com/prismon/photo-library/internal/models"
	"github.com/prismon/photo-library/pkg/liberr"
	"github.com/prismon/photo-library/pkg/tasks"
)

// Restore replaces the whole engine state with a snapshot, typically one
// loaded by the persistence layer. The snapshot is validated first; an
// invalid snapshot leaves the engine untouched. Tasks running in this
// process are cancelled.
func (e *Engine) Restore(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return liberr.Invalidf("restore", "", "no snapshot")
	}
	next, err := stateFromSnapshot(snap, e.policy)
	if err != nil {
		return err
	}

	return e.exec.submit(ctx, func(tx *txn) error {
		for id := range e.running {
			e.finishJob(id)
		}
		next.version = tx.st.version
		*tx.st = *next
		tx.emit(Event{Type: EventRestored})
		log.WithField("assets", len(next.order)).Info("Library restored")
		return nil
	})
}

func stateFromSnapshot(snap *Snapshot, policy tasks.RetryPolicy) (*state, error) {
	settings := snap.Settings
	if settings.AIProvider == "" {
		settings.AIProvider = DefaultSettings().AIProvider
	}
	if !settings.AIProvider.Valid() {
		return nil, liberr.Invalidf("restore", "", "unknown ai provider %q", settings.AIProvider)
	}

	st := newState(settings, policy)
	for _, a := range snap.Assets {
		if a == nil || a.ID == "" {
			return nil, liberr.Invalidf("restore", "", "asset without id")
		}
		if _, dup := st.assets[a.ID]; dup {
			return nil, liberr.Invalidf("restore", a.ID, "duplicate asset id")
		}
		if !a.Status.Valid() {
			return nil, liberr.Invalidf("restore", a.ID, "unknown status %q", a.Status)
		}
		if a.Rating != models.ClampRating(a.Rating) {
			return nil, liberr.Invalidf("restore", a.ID, "rating %d out of range", a.Rating)
		}
		st.insertAsset(a.Clone())
	}

	for _, album := range snap.Albums {
		for _, id := range album.AssetIDs {
			if _, ok := st.assets[id]; !ok {
				return nil, liberr.Invalidf("restore", album.ID, "album references unknown asset %s", id)
			}
		}
		st.putAlbum(album.Clone())
	}

	for _, album := range snap.SmartAlbums {
		if err := models.ValidateRules(album.Rules); err != nil {
			return nil, liberr.Invalid("restore", album.ID, err)
		}
		st.putSmartAlbum(album.Clone())
	}

	for _, t := range snap.Tasks {
		if _, ok := st.assets[t.AssetID]; !ok && !t.Status.Terminal() {
			return nil, liberr.Invalidf("restore", t.ID, "active task for unknown asset %s", t.AssetID)
		}
	}
	ledger, err := tasks.Restore(policy, snap.Tasks)
	if err != nil {
		return nil, err
	}
	st.ledger = ledger

	st.watched = slices.Clone(snap.WatchedFolders)
	if st.watched == nil {
		st.watched = []string{}
	}
	return st, nil
}
