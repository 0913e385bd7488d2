package library

import (
	"slices"
	"time"

	"github.com/prismon/photo-library/internal/models"
	"github.com/prismon/photo-library/pkg/tasks"
)

// Settings are the library-wide switches that affect dispatch
type Settings struct {
	LocalOnlyMode bool              `json:"local_only_mode"`
	AIProvider    models.AIProvider `json:"ai_provider"`
	FacesEnabled  bool              `json:"faces_enabled"`
}

// DefaultSettings selects OpenAI for new AI tasks with local-only mode off
func DefaultSettings() Settings {
	return Settings{AIProvider: models.ProviderOpenAI}
}

// state is the authoritative index. Only the executor goroutine touches it.
// Assets, albums and smart albums are never modified in place: a mutation
// stores a fresh copy, so snapshots can share the old pointers.
type state struct {
	assets     map[string]*models.Asset
	order      []string
	byPath     map[string]string
	albums     map[string]*models.Album
	albumOrder []string
	smart      map[string]*models.SmartAlbum
	smartOrder []string
	watched    []string
	settings   Settings
	ledger     *tasks.Ledger
	version    int64
}

func newState(settings Settings, policy tasks.RetryPolicy) *state {
	return &state{
		assets:   make(map[string]*models.Asset),
		byPath:   make(map[string]string),
		albums:   make(map[string]*models.Album),
		smart:    make(map[string]*models.SmartAlbum),
		watched:  []string{},
		settings: settings,
		ledger:   tasks.NewLedger(policy),
	}
}

func (s *state) insertAsset(a *models.Asset) {
	s.assets[a.ID] = a
	s.order = append(s.order, a.ID)
	if a.ResolvedPath != "" {
		s.byPath[a.ResolvedPath] = a.ID
	}
}

// replaceAsset swaps in a new version of an existing asset
func (s *state) replaceAsset(updated *models.Asset) {
	old := s.assets[updated.ID]
	if old != nil && old.ResolvedPath != updated.ResolvedPath {
		if s.byPath[old.ResolvedPath] == old.ID {
			delete(s.byPath, old.ResolvedPath)
		}
	}
	if updated.ResolvedPath != "" {
		s.byPath[updated.ResolvedPath] = updated.ID
	}
	s.assets[updated.ID] = updated
}

func (s *state) removeAsset(id string) *models.Asset {
	a, ok := s.assets[id]
	if !ok {
		return nil
	}
	delete(s.assets, id)
	if s.byPath[a.ResolvedPath] == id {
		delete(s.byPath, a.ResolvedPath)
	}
	s.order = slices.DeleteFunc(s.order, func(other string) bool { return other == id })
	return a
}

func (s *state) putAlbum(a *models.Album) {
	if _, exists := s.albums[a.ID]; !exists {
		s.albumOrder = append(s.albumOrder, a.ID)
	}
	s.albums[a.ID] = a
}

func (s *state) deleteAlbum(id string) {
	delete(s.albums, id)
	s.albumOrder = slices.DeleteFunc(s.albumOrder, func(other string) bool { return other == id })
}

func (s *state) putSmartAlbum(a *models.SmartAlbum) {
	if _, exists := s.smart[a.ID]; !exists {
		s.smartOrder = append(s.smartOrder, a.ID)
	}
	s.smart[a.ID] = a
}

func (s *state) deleteSmartAlbum(id string) {
	delete(s.smart, id)
	s.smartOrder = slices.DeleteFunc(s.smartOrder, func(other string) bool { return other == id })
}

// txn collects the events of one executor operation
type txn struct {
	st     *state
	now    time.Time
	events []Event
}

func (tx *txn) emit(ev Event) {
	tx.events = append(tx.events, ev)
}

func (tx *txn) dirty() bool {
	return len(tx.events) > 0
}

func (tx *txn) assetMutated(id string, fields ...string) {
	tx.emit(Event{Type: EventAssetMutated, AssetID: id, Fields: fields})
}

func (tx *txn) taskChanged(t models.TaskState) {
	tx.emit(Event{Type: EventTaskStateChanged, AssetID: t.AssetID, TaskID: t.ID, TaskKind: t.Kind, Status: t.Status})
}

func (tx *txn) albumChanged(id string) {
	tx.emit(Event{Type: EventAlbumChanged, AlbumID: id})
}
