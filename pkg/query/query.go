// Package query derives the visible subset of the library from a selection,
// a set of filter flags and an optional text search.
package query

import (
	"strings"

	"github.com/prismon/photo-library/internal/models"
	"github.com/prismon/photo-library/pkg/liberr"
	"github.com/prismon/photo-library/pkg/rules"
)

// SearchMode selects how SearchQuery is matched
type SearchMode string

const (
	SearchKeyword  SearchMode = "keyword"
	SearchSemantic SearchMode = "semantic"
)

// ParseSearchMode accepts "keyword", "semantic" or an empty string (keyword)
func ParseSearchMode(s string) (SearchMode, error) {
	switch SearchMode(strings.ToLower(s)) {
	case "", SearchKeyword:
		return SearchKeyword, nil
	case SearchSemantic:
		return SearchSemantic, nil
	}
	return "", liberr.Invalidf("parse search mode", s, "unknown search mode")
}

// Query is the full description of a filtered view
type Query struct {
	SelectedAlbum       string     `json:"selected_album,omitempty"`
	SelectedSmartAlbum  string     `json:"selected_smart_album,omitempty"`
	ShowMissingOnly     bool       `json:"show_missing_only,omitempty"`
	ShowNeedsAI         bool       `json:"show_needs_ai,omitempty"`
	ShowFacesOnly       bool       `json:"show_faces_only,omitempty"`
	ShowDocumentsOnly   bool       `json:"show_documents_only,omitempty"`
	ShowScreenshotsOnly bool       `json:"show_screenshots_only,omitempty"`
	SearchQuery         string     `json:"search_query,omitempty"`
	SearchMode          SearchMode `json:"search_mode,omitempty"`
}

// Source is the read-only view the pipeline filters, usually a library snapshot
type Source interface {
	AssetsInOrder() []*models.Asset
	Album(id string) (*models.Album, bool)
	SmartAlbum(id string) (*models.SmartAlbum, bool)
}

// Pipeline evaluates queries against a Source
type Pipeline struct {
	matcher SemanticMatcher
}

// NewPipeline creates a pipeline; a nil matcher means semantic search never matches
func NewPipeline(matcher SemanticMatcher) *Pipeline {
	if matcher == nil {
		matcher = NoSemanticMatch{}
	}
	return &Pipeline{matcher: matcher}
}

type predicate func(a *models.Asset) bool

// Run returns the ids of matching assets in index insertion order.
// Predicates run cheapest first: album membership, status flags, name and
// tag predicates, smart album rules, then text search.
func (p *Pipeline) Run(src Source, q Query) ([]string, error) {
	preds, err := p.compile(src, q)
	if err != nil {
		return nil, err
	}

	ids := []string{}
	for _, a := range src.AssetsInOrder() {
		if matchesAll(preds, a) {
			ids = append(ids, a.ID)
		}
	}
	return ids, nil
}

func matchesAll(preds []predicate, a *models.Asset) bool {
	for _, pred := range preds {
		if !pred(a) {
			return false
		}
	}
	return true
}

func (p *Pipeline) compile(src Source, q Query) ([]predicate, error) {
	var preds []predicate

	if q.SelectedAlbum != "" {
		album, ok := src.Album(q.SelectedAlbum)
		if !ok {
			return nil, liberr.NotFound("query album", q.SelectedAlbum)
		}
		members := make(map[string]struct{}, len(album.AssetIDs))
		for _, id := range album.AssetIDs {
			members[id] = struct{}{}
		}
		preds = append(preds, func(a *models.Asset) bool {
			_, ok := members[a.ID]
			return ok
		})
	}

	var smart *models.SmartAlbum
	if q.SelectedSmartAlbum != "" {
		var ok bool
		smart, ok = src.SmartAlbum(q.SelectedSmartAlbum)
		if !ok {
			return nil, liberr.NotFound("query smart album", q.SelectedSmartAlbum)
		}
	}

	if q.ShowMissingOnly {
		preds = append(preds, func(a *models.Asset) bool { return a.Status == models.StatusMissing })
	}
	if q.ShowNeedsAI {
		preds = append(preds, func(a *models.Asset) bool { return a.NeedsAITags })
	}
	if q.ShowScreenshotsOnly {
		preds = append(preds, models.LooksLikeScreenshot)
	}
	if q.ShowFacesOnly {
		preds = append(preds, models.HasFace)
	}
	if q.ShowDocumentsOnly {
		preds = append(preds, models.HasDocument)
	}

	if smart != nil && len(smart.Rules) > 0 {
		preds = append(preds, func(a *models.Asset) bool { return rules.EvaluateSmartAlbum(smart, a) })
	}

	// surrounding spaces are part of the search text; a blank query is no search
	text := q.SearchQuery
	if strings.TrimSpace(text) != "" {
		mode := q.SearchMode
		if mode == "" {
			mode = SearchKeyword
		}
		switch mode {
		case SearchKeyword:
			needle := strings.ToLower(text)
			preds = append(preds, func(a *models.Asset) bool { return keywordMatch(a, needle) })
		case SearchSemantic:
			preds = append(preds, func(a *models.Asset) bool {
				return a.Embedding != nil && p.matcher.Matches(*a.Embedding, text)
			})
		default:
			return nil, liberr.Invalidf("query", string(mode), "unknown search mode")
		}
	}

	return preds, nil
}

// keywordMatch is a case-insensitive substring search over the file name,
// keyword names, AI captions and AI labels
func keywordMatch(a *models.Asset, needle string) bool {
	if strings.Contains(strings.ToLower(a.FileName), needle) {
		return true
	}
	for _, kw := range a.Keywords {
		if strings.Contains(strings.ToLower(kw.Name), needle) {
			return true
		}
	}
	for _, tag := range a.AITags {
		if strings.Contains(strings.ToLower(tag.Caption), needle) {
			return true
		}
		for _, label := range tag.Labels {
			if strings.Contains(strings.ToLower(label), needle) {
				return true
			}
		}
	}
	return false
}

// Paginate returns ids[offset:offset+limit], clamped to the slice. A
// non-positive limit returns everything from offset.
func Paginate(ids []string, offset, limit int) []string {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) {
		return []string{}
	}
	end := len(ids)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return ids[offset:end]
}
