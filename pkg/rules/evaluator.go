// Package rules evaluates smart album rules against single assets.
package rules

import (
	"strings"

	"github.com/prismon/photo-library/internal/models"
	"github.com/prismon/photo-library/pkg/logger"
)

var log = logger.WithName("rules")

// Evaluate reports whether the asset satisfies one rule.
// Unknown rule types never match.
func Evaluate(rule models.Rule, asset *models.Asset) bool {
	switch rule.Type {
	case models.RuleRatingAtLeast:
		return asset.Rating >= rule.MinRating
	case models.RuleKeywordContains:
		needle := Fold(rule.Text)
		for _, kw := range asset.Keywords {
			if strings.Contains(Fold(kw.Name), needle) {
				return true
			}
		}
		return false
	case models.RuleAILabelContains:
		return aiLabelContains(asset, Fold(rule.Text))
	case models.RuleDateInRange:
		if rule.Start == nil || rule.End == nil {
			return false
		}
		d := asset.CaptureDate()
		return !d.Before(*rule.Start) && !d.After(*rule.End)
	case models.RuleHasFaces:
		return models.HasFace(asset) == rule.Expected
	case models.RuleOffline:
		return (asset.Status == models.StatusOffline) == rule.Expected
	case models.RuleMissing:
		return (asset.Status == models.StatusMissing) == rule.Expected
	case models.RuleNeedsAITags:
		return asset.NeedsAITags == rule.Expected
	default:
		log.WithField("type", rule.Type).Warn("Unknown rule type")
		return false
	}
}

// EvaluateAll is the conjunction of rules; an empty rule list matches every asset
func EvaluateAll(rules []models.Rule, asset *models.Asset) bool {
	for _, r := range rules {
		if !Evaluate(r, asset) {
			return false
		}
	}
	return true
}

// EvaluateSmartAlbum reports whether the asset belongs to the smart album
func EvaluateSmartAlbum(album *models.SmartAlbum, asset *models.Asset) bool {
	if album == nil {
		return true
	}
	return EvaluateAll(album.Rules, asset)
}

func aiLabelContains(asset *models.Asset, needle string) bool {
	for _, tag := range asset.AITags {
		for _, label := range tag.Labels {
			if strings.Contains(Fold(label), needle) {
				return true
			}
		}
		if strings.Contains(Fold(tag.Caption), needle) {
			return true
		}
	}
	return false
}
