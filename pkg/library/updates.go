package library

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/prismon/photo-library/internal/models"
	"github.com/prismon/photo-library/pkg/liberr"
)

// Update is a typed mutation of one asset. apply works on a private copy and
// returns the names of the fields it changed.
type Update interface {
	apply(a *models.Asset, now time.Time) ([]string, error)
}

type updateFunc func(a *models.Asset, now time.Time) ([]string, error)

func (f updateFunc) apply(a *models.Asset, now time.Time) ([]string, error) {
	return f(a, now)
}

// SetRating clamps the rating into [0,5]
func SetRating(rating int) Update {
	return updateFunc(func(a *models.Asset, _ time.Time) ([]string, error) {
		a.Rating = models.ClampRating(rating)
		return []string{"rating"}, nil
	})
}

func SetFlagged(flagged bool) Update {
	return updateFunc(func(a *models.Asset, _ time.Time) ([]string, error) {
		a.Flagged = flagged
		return []string{"flagged"}, nil
	})
}

// SetKeywords replaces the keyword list. Names are trimmed and de-duplicated
// in order; names the asset already has keep their keyword ids.
func SetKeywords(names ...string) Update {
	return updateFunc(func(a *models.Asset, _ time.Time) ([]string, error) {
		existing := make(map[string]models.Keyword, len(a.Keywords))
		for _, kw := range a.Keywords {
			existing[kw.Name] = kw
		}

		keywords := make([]models.Keyword, 0, len(names))
		seen := make(map[string]bool, len(names))
		for _, name := range names {
			name = strings.TrimSpace(name)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			if kw, ok := existing[name]; ok {
				keywords = append(keywords, kw)
			} else {
				keywords = append(keywords, models.NewKeyword(name))
			}
		}
		a.Keywords = keywords
		return []string{"keywords"}, nil
	})
}

// AddKeyword appends a keyword unless the asset already has it
func AddKeyword(name string) Update {
	return updateFunc(func(a *models.Asset, _ time.Time) ([]string, error) {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("keyword name is empty")
		}
		if a.HasKeyword(name) {
			return nil, nil
		}
		a.Keywords = append(a.Keywords, models.NewKeyword(name))
		return []string{"keywords"}, nil
	})
}

func RemoveKeyword(name string) Update {
	return updateFunc(func(a *models.Asset, _ time.Time) ([]string, error) {
		before := len(a.Keywords)
		a.Keywords = slices.DeleteFunc(a.Keywords, func(kw models.Keyword) bool { return kw.Name == name })
		if len(a.Keywords) == before {
			return nil, nil
		}
		return []string{"keywords"}, nil
	})
}

func SetStatus(status models.AssetStatus) Update {
	return updateFunc(func(a *models.Asset, _ time.Time) ([]string, error) {
		if !status.Valid() {
			return nil, fmt.Errorf("unknown status %q", status)
		}
		a.Status = status
		return []string{"status"}, nil
	})
}

func SetResolvedPath(path string) Update {
	return updateFunc(func(a *models.Asset, _ time.Time) ([]string, error) {
		a.ResolvedPath = path
		return []string{"resolved_path"}, nil
	})
}

func SetThumbnail(ref string) Update {
	return updateFunc(func(a *models.Asset, _ time.Time) ([]string, error) {
		a.ThumbnailRef = ref
		return []string{"thumbnail_ref"}, nil
	})
}

func SetQuickHash(hash string) Update {
	return updateFunc(func(a *models.Asset, _ time.Time) ([]string, error) {
		a.QuickHash = hash
		return []string{"quick_hash"}, nil
	})
}

func SetFullHash(hash string) Update {
	return updateFunc(func(a *models.Asset, _ time.Time) ([]string, error) {
		a.FullHash = hash
		return []string{"full_hash"}, nil
	})
}

func SetDimensions(d models.Dimensions) Update {
	return updateFunc(func(a *models.Asset, _ time.Time) ([]string, error) {
		if d.Width < 0 || d.Height < 0 {
			return nil, fmt.Errorf("negative dimensions %dx%d", d.Width, d.Height)
		}
		a.Dimensions = d
		return []string{"dimensions"}, nil
	})
}

// ExifFields are the metadata fields an EXIF update may set; nil fields are left as they are
type ExifFields struct {
	ExifDate    *time.Time
	Camera      *string
	Lens        *string
	Orientation *string
}

func SetExif(f ExifFields) Update {
	return updateFunc(func(a *models.Asset, _ time.Time) ([]string, error) {
		return applyExif(a, f), nil
	})
}

func applyExif(a *models.Asset, f ExifFields) []string {
	var fields []string
	if f.ExifDate != nil {
		d := *f.ExifDate
		a.ExifDate = &d
		fields = append(fields, "exif_date")
	}
	if f.Camera != nil {
		v := *f.Camera
		a.Camera = &v
		fields = append(fields, "camera")
	}
	if f.Lens != nil {
		v := *f.Lens
		a.Lens = &v
		fields = append(fields, "lens")
	}
	if f.Orientation != nil {
		v := *f.Orientation
		a.Orientation = &v
		fields = append(fields, "orientation")
	}
	return fields
}

// AppendAITag adds a tag. It does not clear needs_ai_tags; only a completed
// ai_tagging task does that.
func AppendAITag(tag models.AITag) Update {
	return updateFunc(func(a *models.Asset, now time.Time) ([]string, error) {
		tag, err := normalizeTag(tag, "", now)
		if err != nil {
			return nil, err
		}
		a.AITags = append(a.AITags, tag)
		return []string{"ai_tags"}, nil
	})
}

// RemoveAITag is the explicit user deletion of an AI tag
func RemoveAITag(tagID string) Update {
	return updateFunc(func(a *models.Asset, _ time.Time) ([]string, error) {
		before := len(a.AITags)
		a.AITags = slices.DeleteFunc(a.AITags, func(t models.AITag) bool { return t.ID == tagID })
		if len(a.AITags) == before {
			return nil, fmt.Errorf("no ai tag %s", tagID)
		}
		return []string{"ai_tags"}, nil
	})
}

// SetEmbedding replaces the embedding
func SetEmbedding(emb models.Embedding) Update {
	return updateFunc(func(a *models.Asset, _ time.Time) ([]string, error) {
		if !emb.Provider.Valid() {
			return nil, fmt.Errorf("unknown provider %q", emb.Provider)
		}
		if len(emb.Vector) == 0 {
			return nil, fmt.Errorf("embedding vector is empty")
		}
		c := emb.Clone()
		a.Embedding = &c
		return []string{"embedding"}, nil
	})
}

// normalizeTag fills in id, provider and timestamp and validates the confidence
func normalizeTag(tag models.AITag, provider models.AIProvider, now time.Time) (models.AITag, error) {
	tag = tag.Clone()
	if tag.ID == "" {
		tag.ID = models.NewID()
	}
	if tag.Provider == "" {
		tag.Provider = provider
	}
	if !tag.Provider.Valid() {
		return tag, fmt.Errorf("unknown provider %q", tag.Provider)
	}
	if tag.Confidence < 0 || tag.Confidence > 1 {
		return tag, fmt.Errorf("confidence %.2f outside [0,1]", tag.Confidence)
	}
	if tag.Timestamp.IsZero() {
		tag.Timestamp = now
	}
	if tag.Labels == nil {
		tag.Labels = []string{}
	}
	return tag, nil
}

func parseProvider(op, s string) (models.AIProvider, error) {
	p, err := models.ParseAIProvider(s)
	if err != nil {
		return "", liberr.Invalid(op, s, err)
	}
	return p, nil
}
