package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewImportedAsset(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewImportedAsset("/photos/2024/Trip/IMG_0001.JPG", 2048, created)

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "IMG_0001.JPG", a.FileName)
	assert.Equal(t, "jpg", a.FileType)
	assert.Equal(t, "Trip", a.Folder)
	assert.Equal(t, StatusAvailable, a.Status)
	assert.True(t, a.NeedsAITags)
	assert.Equal(t, created, a.CaptureDate())

	exif := created.Add(-48 * time.Hour)
	a.ExifDate = &exif
	assert.Equal(t, exif, a.CaptureDate())
}

func TestAssetCloneIsDeep(t *testing.T) {
	camera := "X100V"
	a := NewImportedAsset("/p/a.jpg", 1, time.Now())
	a.Camera = &camera
	a.Keywords = append(a.Keywords, NewKeyword("beach"))
	a.AITags = append(a.AITags, AITag{Labels: []string{"sea"}})

	c := a.Clone()
	*c.Camera = "other"
	c.Keywords[0].Name = "changed"
	c.AITags[0].Labels[0] = "changed"

	assert.Equal(t, "X100V", *a.Camera)
	assert.Equal(t, "beach", a.Keywords[0].Name)
	assert.Equal(t, "sea", a.AITags[0].Labels[0])
}

func TestClampRating(t *testing.T) {
	tests := map[int]int{-3: 0, 0: 0, 3: 3, 5: 5, 9: 5}
	for in, want := range tests {
		assert.Equal(t, want, ClampRating(in), in)
	}
}

func TestLabelHeuristics(t *testing.T) {
	a := NewImportedAsset("/p/Screenshot 2024-01-01.png", 1, time.Now())
	assert.True(t, LooksLikeScreenshot(a))
	assert.False(t, HasFace(a))

	a.AITags = []AITag{{Labels: []string{"Human Face", "Scanned Document"}}}
	assert.True(t, HasFace(a))
	assert.True(t, HasDocument(a))
}

func TestRuleValidate(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	valid := []Rule{
		RatingAtLeast(0), RatingAtLeast(5), KeywordContains("cat"), AILabelContains("dog"),
		DateInRange(start, end), HasFaces(true), Offline(false), Missing(true), NeedsAITags(true),
	}
	require.NoError(t, ValidateRules(valid))

	invalid := []Rule{
		RatingAtLeast(6), KeywordContains("  "), AILabelContains(""),
		DateInRange(end, start), {Type: RuleDateInRange}, {Type: "sparkly"},
	}
	for _, r := range invalid {
		assert.Error(t, r.Validate(), r.Type)
	}
}
