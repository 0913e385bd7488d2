package models

import (
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AssetStatus is the lifecycle state of an asset's backing file
type AssetStatus string

const (
	StatusAvailable AssetStatus = "available"
	StatusMissing   AssetStatus = "missing"
	StatusOffline   AssetStatus = "offline"
)

// Valid reports whether s is one of the known statuses
func (s AssetStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusMissing, StatusOffline:
		return true
	}
	return false
}

const (
	MinRating = 0
	MaxRating = 5
)

// Asset represents a single image file tracked by the library
type Asset struct {
	ID           string      `json:"id"`
	Bookmark     []byte      `json:"bookmark,omitempty"`
	ResolvedPath string      `json:"resolved_path,omitempty"`
	QuickHash    string      `json:"quick_hash"`
	FullHash     string      `json:"full_hash,omitempty"`
	FileName     string      `json:"file_name"`
	FileType     string      `json:"file_type"` // lowercased extension without the dot
	FileSize     int64       `json:"file_size"`
	Folder       string      `json:"folder"`
	CreatedAt    time.Time   `json:"created_at"`
	ExifDate     *time.Time  `json:"exif_date,omitempty"`
	Camera       *string     `json:"camera,omitempty"`
	Lens         *string     `json:"lens,omitempty"`
	Orientation  *string     `json:"orientation,omitempty"`
	Dimensions   Dimensions  `json:"dimensions"`
	Rating       int         `json:"rating"`
	Flagged      bool        `json:"flagged"`
	Status       AssetStatus `json:"status"`
	Keywords     []Keyword   `json:"keywords"`
	AITags       []AITag     `json:"ai_tags"`
	Embedding    *Embedding  `json:"embedding,omitempty"`
	NeedsAITags  bool        `json:"needs_ai_tags"`
	ThumbnailRef string      `json:"thumbnail_ref,omitempty"`
}

// Dimensions is the pixel size of an image
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Keyword is a user-assigned label
type Keyword struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NewKeyword creates a keyword with a fresh id
func NewKeyword(name string) Keyword {
	return Keyword{ID: uuid.NewString(), Name: name}
}

// NewID returns a new opaque identifier
func NewID() string {
	return uuid.NewString()
}

// NewImportedAsset builds the record for a freshly imported file.
// The quick hash is filled in by the importer.
func NewImportedAsset(path string, size int64, createdAt time.Time) *Asset {
	name := filepath.Base(path)
	return &Asset{
		ID:           NewID(),
		ResolvedPath: path,
		FileName:     name,
		FileType:     strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")),
		FileSize:     size,
		Folder:       filepath.Base(filepath.Dir(path)),
		CreatedAt:    createdAt,
		Status:       StatusAvailable,
		Keywords:     []Keyword{},
		AITags:       []AITag{},
		NeedsAITags:  true,
	}
}

// CaptureDate returns the EXIF capture date, falling back to the file creation time
func (a *Asset) CaptureDate() time.Time {
	if a.ExifDate != nil {
		return *a.ExifDate
	}
	return a.CreatedAt
}

// Clone returns a deep copy of the asset
func (a *Asset) Clone() *Asset {
	c := *a
	c.Bookmark = slices.Clone(a.Bookmark)
	c.ExifDate = clonePtr(a.ExifDate)
	c.Camera = clonePtr(a.Camera)
	c.Lens = clonePtr(a.Lens)
	c.Orientation = clonePtr(a.Orientation)
	c.Keywords = slices.Clone(a.Keywords)
	if c.Keywords == nil {
		c.Keywords = []Keyword{}
	}
	c.AITags = make([]AITag, len(a.AITags))
	for i, tag := range a.AITags {
		c.AITags[i] = tag.Clone()
	}
	if a.Embedding != nil {
		emb := a.Embedding.Clone()
		c.Embedding = &emb
	}
	return &c
}

// HasKeyword reports whether the asset already carries a keyword with this name
func (a *Asset) HasKeyword(name string) bool {
	for _, kw := range a.Keywords {
		if kw.Name == name {
			return true
		}
	}
	return false
}

// ClampRating forces a rating into [MinRating, MaxRating]
func ClampRating(rating int) int {
	return min(max(rating, MinRating), MaxRating)
}

// HasFace reports whether any AI label mentions a face
func HasFace(a *Asset) bool {
	return hasLabelContaining(a, "face")
}

// HasDocument reports whether any AI label mentions a document
func HasDocument(a *Asset) bool {
	return hasLabelContaining(a, "document")
}

// LooksLikeScreenshot reports whether the file name suggests a screenshot
func LooksLikeScreenshot(a *Asset) bool {
	return strings.Contains(strings.ToLower(a.FileName), "screenshot")
}

func hasLabelContaining(a *Asset, needle string) bool {
	for _, tag := range a.AITags {
		for _, label := range tag.Labels {
			if strings.Contains(strings.ToLower(label), needle) {
				return true
			}
		}
	}
	return false
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
