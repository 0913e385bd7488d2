package models

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Album is a manually curated set of assets
type Album struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	AssetIDs []string `json:"asset_ids"` // de-duplicated, insertion ordered
}

// Contains reports whether the album holds the asset
func (a *Album) Contains(assetID string) bool {
	return slices.Contains(a.AssetIDs, assetID)
}

// Clone returns a deep copy of the album
func (a *Album) Clone() *Album {
	c := *a
	c.AssetIDs = slices.Clone(a.AssetIDs)
	if c.AssetIDs == nil {
		c.AssetIDs = []string{}
	}
	return &c
}

// SmartAlbum is a named conjunction of rules
type SmartAlbum struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Rules []Rule `json:"rules"`
}

// Clone returns a deep copy of the smart album
func (s *SmartAlbum) Clone() *SmartAlbum {
	c := *s
	c.Rules = slices.Clone(s.Rules)
	if c.Rules == nil {
		c.Rules = []Rule{}
	}
	return &c
}

// RuleType selects which Rule fields are meaningful
type RuleType string

const (
	RuleRatingAtLeast   RuleType = "rating_at_least"
	RuleKeywordContains RuleType = "keyword_contains"
	RuleAILabelContains RuleType = "ai_label_contains"
	RuleDateInRange     RuleType = "date_in_range"
	RuleHasFaces        RuleType = "has_faces"
	RuleOffline         RuleType = "offline"
	RuleMissing         RuleType = "missing"
	RuleNeedsAITags     RuleType = "needs_ai_tags"
)

// Rule is one smart album predicate
type Rule struct {
	Type      RuleType   `json:"type"`
	MinRating int        `json:"min_rating,omitempty"` // rating_at_least
	Text      string     `json:"text,omitempty"`       // keyword_contains, ai_label_contains
	Start     *time.Time `json:"start,omitempty"`      // date_in_range
	End       *time.Time `json:"end,omitempty"`        // date_in_range
	Expected  bool       `json:"expected,omitempty"`   // has_faces, offline, missing, needs_ai_tags
}

func RatingAtLeast(n int) Rule {
	return Rule{Type: RuleRatingAtLeast, MinRating: n}
}

func KeywordContains(s string) Rule {
	return Rule{Type: RuleKeywordContains, Text: s}
}

func AILabelContains(s string) Rule {
	return Rule{Type: RuleAILabelContains, Text: s}
}

func DateInRange(start, end time.Time) Rule {
	return Rule{Type: RuleDateInRange, Start: &start, End: &end}
}

func HasFaces(expected bool) Rule {
	return Rule{Type: RuleHasFaces, Expected: expected}
}

func Offline(expected bool) Rule {
	return Rule{Type: RuleOffline, Expected: expected}
}

func Missing(expected bool) Rule {
	return Rule{Type: RuleMissing, Expected: expected}
}

func NeedsAITags(expected bool) Rule {
	return Rule{Type: RuleNeedsAITags, Expected: expected}
}

// Validate checks that the fields required by the rule type are present and sane
func (r Rule) Validate() error {
	switch r.Type {
	case RuleRatingAtLeast:
		if r.MinRating < MinRating || r.MinRating > MaxRating {
			return fmt.Errorf("rating must be between %d and %d, got %d", MinRating, MaxRating, r.MinRating)
		}
	case RuleKeywordContains, RuleAILabelContains:
		if strings.TrimSpace(r.Text) == "" {
			return fmt.Errorf("%s rule requires text", r.Type)
		}
	case RuleDateInRange:
		if r.Start == nil || r.End == nil {
			return fmt.Errorf("date range requires start and end")
		}
		if r.Start.After(*r.End) {
			return fmt.Errorf("date range start %s is after end %s", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
		}
	case RuleHasFaces, RuleOffline, RuleMissing, RuleNeedsAITags:
	default:
		return fmt.Errorf("unknown rule type: %q", r.Type)
	}
	return nil
}

// ValidateRules validates every rule of a smart album
func ValidateRules(rules []Rule) error {
	for i, r := range rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return nil
}
