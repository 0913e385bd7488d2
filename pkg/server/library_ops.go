package server

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/prismon/photo-library/internal/models"
	"github.com/prismon/photo-library/pkg/crawler"
	"github.com/prismon/photo-library/pkg/library"
	"github.com/prismon/photo-library/pkg/liberr"
	"github.com/prismon/photo-library/pkg/pathutil"
	"github.com/prismon/photo-library/pkg/query"
)

const defaultPageSize = 100

// searchParams is the query string of GET /api/assets and the arguments of library-search
type searchParams struct {
	Album       string `form:"album" json:"album"`
	SmartAlbum  string `form:"smartAlbum" json:"smartAlbum"`
	Missing     bool   `form:"missing" json:"missing"`
	NeedsAI     bool   `form:"needsAI" json:"needsAI"`
	Faces       bool   `form:"faces" json:"faces"`
	Documents   bool   `form:"documents" json:"documents"`
	Screenshots bool   `form:"screenshots" json:"screenshots"`
	Query       string `form:"q" json:"query"`
	Mode        string `form:"mode" json:"mode"`
	Offset      int    `form:"offset" json:"offset"`
	Limit       int    `form:"limit" json:"limit"`
	IDsOnly     bool   `form:"idsOnly" json:"idsOnly"`
}

type searchResult struct {
	Total   int             `json:"total"`
	Offset  int             `json:"offset"`
	Limit   int             `json:"limit"`
	HasMore bool            `json:"has_more"`
	IDs     []string        `json:"ids"`
	Assets  []*models.Asset `json:"assets,omitempty"`
	Version int64           `json:"version"`
}

func (s *Server) search(p searchParams) (*searchResult, error) {
	mode, err := query.ParseSearchMode(p.Mode)
	if err != nil {
		return nil, err
	}
	if p.Offset < 0 || p.Limit < 0 {
		return nil, liberr.Invalidf("search", "", "offset and limit must not be negative")
	}
	if p.Limit == 0 {
		p.Limit = defaultPageSize
	}

	snap := s.engine.Snapshot()
	ids, err := s.pipeline.Run(snap, query.Query{
		SelectedAlbum:       p.Album,
		SelectedSmartAlbum:  p.SmartAlbum,
		ShowMissingOnly:     p.Missing,
		ShowNeedsAI:         p.NeedsAI,
		ShowFacesOnly:       p.Faces,
		ShowDocumentsOnly:   p.Documents,
		ShowScreenshotsOnly: p.Screenshots,
		SearchQuery:         p.Query,
		SearchMode:          mode,
	})
	if err != nil {
		return nil, err
	}

	page := query.Paginate(ids, p.Offset, p.Limit)
	res := &searchResult{
		Total:   len(ids),
		Offset:  p.Offset,
		Limit:   p.Limit,
		HasMore: p.Offset+len(page) < len(ids),
		IDs:     page,
		Version: snap.Version,
	}
	if !p.IDsOnly {
		res.Assets = make([]*models.Asset, 0, len(page))
		for _, id := range page {
			if a, ok := snap.Asset(id); ok {
				res.Assets = append(res.Assets, a)
			}
		}
	}
	return res, nil
}

type importFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type importResult struct {
	Found    int             `json:"found"`
	Imported []string        `json:"imported"`
	Skipped  int             `json:"skipped"` // already indexed
	Failures []importFailure `json:"failures"`
}

// importPaths imports files and folders. Paths already in the library are
// counted as skipped rather than failed.
func (s *Server) importPaths(ctx context.Context, inputs []string) (*importResult, error) {
	if len(inputs) == 0 {
		return nil, liberr.Invalidf("import", "", "no paths given")
	}
	paths, err := crawler.CollectImages(ctx, inputs, crawler.Options{})
	if err != nil {
		return nil, liberr.Invalid("import", "", err)
	}

	res := &importResult{Found: len(paths), Imported: []string{}, Failures: []importFailure{}}
	if len(paths) == 0 {
		return res, nil
	}

	ids, err := s.engine.Import(ctx, paths)
	res.Imported = append(res.Imported, ids...)
	var ie *library.ImportError
	switch {
	case errors.As(err, &ie):
		for _, f := range ie.Failures {
			if errors.Is(f, liberr.ErrConflict) {
				res.Skipped++
				continue
			}
			res.Failures = append(res.Failures, importFailure{Path: f.Path, Error: f.Err.Error()})
		}
	case err != nil:
		return nil, err
	}
	return res, nil
}

type assetPatch struct {
	Rating   *int      `json:"rating"`
	Flagged  *bool     `json:"flagged"`
	Keywords *[]string `json:"keywords"`
}

func (s *Server) updateAsset(ctx context.Context, id string, patch assetPatch) (*models.Asset, error) {
	var updates []library.Update
	if patch.Rating != nil {
		updates = append(updates, library.SetRating(*patch.Rating))
	}
	if patch.Flagged != nil {
		updates = append(updates, library.SetFlagged(*patch.Flagged))
	}
	if patch.Keywords != nil {
		updates = append(updates, library.SetKeywords(*patch.Keywords...))
	}
	if len(updates) == 0 {
		return nil, liberr.Invalidf("update asset", id, "nothing to update")
	}
	for _, u := range updates {
		if err := s.engine.UpdateField(ctx, id, u); err != nil {
			return nil, err
		}
	}
	return s.engine.Asset(id)
}

type assetDetail struct {
	Asset *models.Asset      `json:"asset"`
	Tasks []models.TaskState `json:"tasks"`
}

func (s *Server) assetDetail(id string) (*assetDetail, error) {
	snap := s.engine.Snapshot()
	a, ok := snap.Asset(id)
	if !ok {
		return nil, liberr.NotFound("get asset", id)
	}
	tasks := snap.TasksFor(id)
	if tasks == nil {
		tasks = []models.TaskState{}
	}
	return &assetDetail{Asset: a, Tasks: tasks}, nil
}

// scan runs a liveness sweep, or a bookmark refresh when mode is "bookmarks"
func (s *Server) scan(ctx context.Context, mode string) (library.LivenessReport, error) {
	switch mode {
	case "", "liveness":
		return s.engine.ScanLiveness(ctx)
	case "bookmarks":
		return s.engine.RefreshBookmarks(ctx)
	}
	return library.LivenessReport{}, liberr.Invalidf("scan", mode, "unknown scan mode, want liveness or bookmarks")
}

type taskFilter struct {
	Status  string `form:"status" json:"status"`
	Kind    string `form:"kind" json:"kind"`
	AssetID string `form:"asset" json:"assetId"`
	Limit   int    `form:"limit" json:"limit"`
}

type taskList struct {
	Counts map[models.TaskStatus]int `json:"counts"`
	Total  int                       `json:"total"`
	Tasks  []models.TaskState        `json:"tasks"`
}

func (s *Server) listTasks(f taskFilter) (*taskList, error) {
	if f.Kind != "" {
		if _, err := models.ParseTaskKind(f.Kind); err != nil {
			return nil, liberr.Invalid("list tasks", f.Kind, err)
		}
	}
	switch models.TaskStatus(f.Status) {
	case "", models.TaskPending, models.TaskRunning, models.TaskCompleted, models.TaskFailed:
	default:
		return nil, liberr.Invalidf("list tasks", f.Status, "unknown task status")
	}

	snap := s.engine.Snapshot()
	res := &taskList{Counts: make(map[models.TaskStatus]int), Tasks: []models.TaskState{}}
	for _, t := range snap.Tasks {
		res.Counts[t.Status]++
		if f.Status != "" && string(t.Status) != f.Status {
			continue
		}
		if f.Kind != "" && string(t.Kind) != f.Kind {
			continue
		}
		if f.AssetID != "" && t.AssetID != f.AssetID {
			continue
		}
		res.Total++
		if f.Limit <= 0 || len(res.Tasks) < f.Limit {
			res.Tasks = append(res.Tasks, t)
		}
	}
	return res, nil
}

func (s *Server) requeue(ctx context.Context, assetID, kind string) (models.TaskState, error) {
	k, err := models.ParseTaskKind(kind)
	if err != nil {
		return models.TaskState{}, liberr.Invalid("requeue", kind, err)
	}
	return s.engine.Requeue(ctx, assetID, k)
}

type settingsPatch struct {
	LocalOnlyMode *bool   `json:"localOnlyMode"`
	FacesEnabled  *bool   `json:"facesEnabled"`
	AIProvider    *string `json:"aiProvider"`
}

type providerInfo struct {
	ID          models.AIProvider `json:"id"`
	DisplayName string            `json:"display_name"`
	Cloud       bool              `json:"cloud"`
}

type settingsView struct {
	Settings       library.Settings `json:"settings"`
	WatchedFolders []string         `json:"watched_folders"`
	Providers      []providerInfo   `json:"providers"`
}

func (s *Server) settingsView() *settingsView {
	snap := s.engine.Snapshot()
	view := &settingsView{Settings: snap.Settings, WatchedFolders: snap.WatchedFolders}
	for _, p := range models.AllProviders {
		view.Providers = append(view.Providers, providerInfo{ID: p, DisplayName: p.DisplayName(), Cloud: p.IsCloud()})
	}
	return view
}

func (s *Server) applySettings(ctx context.Context, patch settingsPatch) (*settingsView, error) {
	if patch.AIProvider != nil {
		if err := s.engine.SetAIProvider(ctx, *patch.AIProvider); err != nil {
			return nil, err
		}
	}
	if patch.LocalOnlyMode != nil {
		if err := s.engine.SetLocalOnlyMode(ctx, *patch.LocalOnlyMode); err != nil {
			return nil, err
		}
	}
	if patch.FacesEnabled != nil {
		if err := s.engine.SetFacesEnabled(ctx, *patch.FacesEnabled); err != nil {
			return nil, err
		}
	}
	return s.settingsView(), nil
}

// addWatchedFolder records the folder and starts watching it when a watcher is attached
func (s *Server) addWatchedFolder(ctx context.Context, input string) (string, error) {
	path, err := pathutil.ExpandPath(input)
	if err != nil {
		return "", liberr.Invalid("add watched folder", input, err)
	}
	if err := pathutil.ValidateDir(path); err != nil {
		return "", liberr.Invalid("add watched folder", path, err)
	}
	if err := s.engine.AddWatchedFolder(ctx, path); err != nil {
		return "", err
	}
	if s.watcher != nil {
		if err := s.watcher.Add(ctx, path); err != nil {
			return "", liberr.External("watch folder", path, err)
		}
	}
	return path, nil
}

type statusView struct {
	Version       int64                      `json:"version"`
	Assets        map[models.AssetStatus]int `json:"assets"`
	NeedsAITags   int                        `json:"needs_ai_tags"`
	Albums        int                        `json:"albums"`
	SmartAlbums   int                        `json:"smart_albums"`
	Tasks         map[models.TaskStatus]int  `json:"tasks"`
	PendingByKind []kindCount                `json:"pending_by_kind"`
	Dispatcher    any                        `json:"dispatcher,omitempty"`
	Watcher       any                        `json:"watcher,omitempty"`
}

type kindCount struct {
	Kind  models.TaskKind `json:"kind"`
	Count int             `json:"count"`
}

func (s *Server) status() *statusView {
	snap := s.engine.Snapshot()
	v := &statusView{
		Version:     snap.Version,
		Assets:      make(map[models.AssetStatus]int),
		Albums:      len(snap.Albums),
		SmartAlbums: len(snap.SmartAlbums),
		Tasks:       make(map[models.TaskStatus]int),
	}
	for _, a := range snap.Assets {
		v.Assets[a.Status]++
		if a.NeedsAITags {
			v.NeedsAITags++
		}
	}
	pending := make(map[models.TaskKind]int)
	for _, t := range snap.Tasks {
		v.Tasks[t.Status]++
		if t.Status == models.TaskPending {
			pending[t.Kind]++
		}
	}
	for kind, n := range pending {
		v.PendingByKind = append(v.PendingByKind, kindCount{Kind: kind, Count: n})
	}
	sort.Slice(v.PendingByKind, func(i, j int) bool {
		if v.PendingByKind[i].Count != v.PendingByKind[j].Count {
			return v.PendingByKind[i].Count > v.PendingByKind[j].Count
		}
		return v.PendingByKind[i].Kind.Order() < v.PendingByKind[j].Kind.Order()
	})
	if s.tasks != nil {
		v.Dispatcher = s.tasks.Stats()
	}
	if s.watcher != nil {
		v.Watcher = s.watcher.Stats()
	}
	return v
}

func describeReport(r library.LivenessReport) string {
	return fmt.Sprintf("Checked %d assets: %d now missing, %d recovered, %d moved",
		r.Checked, r.NowMissing, r.Recovered, r.PathUpdates)
}
