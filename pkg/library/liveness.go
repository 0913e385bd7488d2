package library

import (
	"bytes"
	"context"

	"github.com/prismon/photo-library/internal/models"
	"github.com/sirupsen/logrus"
)

// LivenessReport summarizes a liveness sweep or bookmark refresh
type LivenessReport struct {
	Checked     int `json:"checked"`
	NowMissing  int `json:"now_missing"`
	Recovered   int `json:"recovered"`
	PathUpdates int `json:"path_updates"`
}

type statusChange struct {
	id       string
	path     string // resolved path the check was made against
	bookmark []byte // bookmark the check was made against
	from     models.AssetStatus
	to       models.AssetStatus
	newPath  string
	newMark  []byte
}

// ScanLiveness checks every asset with a resolved path. Available assets whose
// file is gone become missing; missing assets whose file is back become
// available. Offline assets are left alone.
func (e *Engine) ScanLiveness(ctx context.Context) (LivenessReport, error) {
	var report LivenessReport
	var changes []statusChange

	for _, a := range e.Snapshot().Assets {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if a.ResolvedPath == "" || a.Status == models.StatusOffline {
			continue
		}
		report.Checked++

		exists := e.fa.Exists(a.ResolvedPath)
		switch {
		case !exists && a.Status == models.StatusAvailable:
			changes = append(changes, statusChange{id: a.ID, path: a.ResolvedPath, from: a.Status, to: models.StatusMissing})
		case exists && a.Status == models.StatusMissing:
			changes = append(changes, statusChange{id: a.ID, path: a.ResolvedPath, from: a.Status, to: models.StatusAvailable})
		}
	}

	err := e.exec.submit(ctx, func(tx *txn) error {
		for _, c := range changes {
			current, ok := tx.st.assets[c.id]
			// Skip assets that changed since they were checked
			if !ok || current.ResolvedPath != c.path || current.Status != c.from {
				continue
			}
			updated := current.Clone()
			updated.Status = c.to
			tx.st.replaceAsset(updated)
			tx.assetMutated(c.id, "status")
			countStatusChange(&report, c.to)
		}
		return nil
	})

	e.logSweep("Liveness scan finished", report)
	return report, err
}

// RefreshBookmarks re-resolves every bookmark. A resolved bookmark updates
// the path, is re-created when stale, and brings a missing asset back; a
// failed resolution marks the asset missing. Offline assets keep their status.
func (e *Engine) RefreshBookmarks(ctx context.Context) (LivenessReport, error) {
	var report LivenessReport
	var changes []statusChange

	for _, a := range e.Snapshot().Assets {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if len(a.Bookmark) == 0 {
			continue
		}
		report.Checked++

		c := statusChange{id: a.ID, bookmark: a.Bookmark, from: a.Status, to: a.Status}
		path, stale, err := e.fa.Resolve(a.Bookmark)
		if err != nil {
			log.WithError(err).WithField("assetID", a.ID).Debug("Bookmark did not resolve")
			if a.Status == models.StatusAvailable {
				c.to = models.StatusMissing
			}
		} else {
			c.newPath = path
			if a.Status == models.StatusMissing {
				c.to = models.StatusAvailable
			}
			if stale {
				mark, err := e.fa.CreateBookmark(path)
				if err != nil {
					log.WithError(err).WithField("path", path).Warn("Could not re-create stale bookmark")
				} else {
					c.newMark = mark
				}
			}
		}
		changes = append(changes, c)
	}

	err := e.exec.submit(ctx, func(tx *txn) error {
		for _, c := range changes {
			current, ok := tx.st.assets[c.id]
			if !ok || !bytes.Equal(current.Bookmark, c.bookmark) || current.Status != c.from {
				continue
			}

			updated := current.Clone()
			var fields []string
			if c.newPath != "" && c.newPath != current.ResolvedPath {
				updated.ResolvedPath = c.newPath
				fields = append(fields, "resolved_path")
				report.PathUpdates++
			}
			if c.newMark != nil {
				updated.Bookmark = c.newMark
				fields = append(fields, "bookmark")
			}
			if c.to != c.from {
				updated.Status = c.to
				fields = append(fields, "status")
				countStatusChange(&report, c.to)
			}
			if len(fields) == 0 {
				continue
			}
			tx.st.replaceAsset(updated)
			tx.assetMutated(c.id, fields...)
		}
		return nil
	})

	e.logSweep("Bookmark refresh finished", report)
	return report, err
}

func countStatusChange(report *LivenessReport, to models.AssetStatus) {
	switch to {
	case models.StatusMissing:
		report.NowMissing++
	case models.StatusAvailable:
		report.Recovered++
	}
}

func (e *Engine) logSweep(msg string, report LivenessReport) {
	log.WithFields(logrus.Fields{
		"checked":   report.Checked,
		"missing":   report.NowMissing,
		"recovered": report.Recovered,
		"moved":     report.PathUpdates,
	}).Info(msg)
}
