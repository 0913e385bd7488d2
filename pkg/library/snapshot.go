package library

import (
	"encoding/json"
	"slices"
	"sync"

	"github.com/prismon/photo-library/internal/models"
)

// Snapshot is an immutable, consistent view of the library.
// The pointed-to records are shared with other snapshots and must not be modified.
type Snapshot struct {
	Version        int64                `json:"-"`
	Assets         []*models.Asset      `json:"assets"` // insertion order
	Albums         []*models.Album      `json:"albums"`
	SmartAlbums    []*models.SmartAlbum `json:"smart_albums"`
	Tasks          []models.TaskState   `json:"tasks"` // enqueue order
	WatchedFolders []string             `json:"watched_folders"`
	Settings       Settings             `json:"settings"`

	indexOnce sync.Once
	assetIdx  map[string]int
}

func buildSnapshot(st *state) *Snapshot {
	snap := &Snapshot{
		Version:        st.version,
		Assets:         make([]*models.Asset, 0, len(st.order)),
		Albums:         make([]*models.Album, 0, len(st.albumOrder)),
		SmartAlbums:    make([]*models.SmartAlbum, 0, len(st.smartOrder)),
		Tasks:          st.ledger.All(),
		WatchedFolders: slices.Clone(st.watched),
		Settings:       st.settings,
	}
	for _, id := range st.order {
		snap.Assets = append(snap.Assets, st.assets[id])
	}
	for _, id := range st.albumOrder {
		snap.Albums = append(snap.Albums, st.albums[id])
	}
	for _, id := range st.smartOrder {
		snap.SmartAlbums = append(snap.SmartAlbums, st.smart[id])
	}
	if snap.WatchedFolders == nil {
		snap.WatchedFolders = []string{}
	}
	return snap
}

// AssetsInOrder returns the assets in index insertion order
func (s *Snapshot) AssetsInOrder() []*models.Asset {
	return s.Assets
}

// Asset looks up an asset by id
func (s *Snapshot) Asset(id string) (*models.Asset, bool) {
	s.indexOnce.Do(func() {
		s.assetIdx = make(map[string]int, len(s.Assets))
		for i, a := range s.Assets {
			s.assetIdx[a.ID] = i
		}
	})
	i, ok := s.assetIdx[id]
	if !ok {
		return nil, false
	}
	return s.Assets[i], true
}

func (s *Snapshot) Album(id string) (*models.Album, bool) {
	for _, a := range s.Albums {
		if a.ID == id {
			return a, true
		}
	}
	return nil, false
}

func (s *Snapshot) SmartAlbum(id string) (*models.SmartAlbum, bool) {
	for _, a := range s.SmartAlbums {
		if a.ID == id {
			return a, true
		}
	}
	return nil, false
}

// TasksFor returns the asset's tasks in enqueue order
func (s *Snapshot) TasksFor(assetID string) []models.TaskState {
	var out []models.TaskState
	for _, t := range s.Tasks {
		if t.AssetID == assetID {
			out = append(out, t)
		}
	}
	return out
}

// Task looks up a task by id
func (s *Snapshot) Task(id string) (models.TaskState, bool) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return models.TaskState{}, false
}

// Encode returns the canonical JSON encoding used for persistence and
// round-trip comparison. The version is not part of it.
func (s *Snapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSnapshot parses the output of Encode
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	snap := &Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, err
	}
	if snap.Assets == nil {
		snap.Assets = []*models.Asset{}
	}
	if snap.Albums == nil {
		snap.Albums = []*models.Album{}
	}
	if snap.SmartAlbums == nil {
		snap.SmartAlbums = []*models.SmartAlbum{}
	}
	if snap.Tasks == nil {
		snap.Tasks = []models.TaskState{}
	}
	if snap.WatchedFolders == nil {
		snap.WatchedFolders = []string{}
	}
	return snap, nil
}
