// Package store persists library snapshots in SQLite. Each record is kept as
// a JSON row next to the columns needed for ordering and summary queries.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/prismon/photo-library/internal/models"
	"github.com/prismon/photo-library/pkg/library"
	"github.com/prismon/photo-library/pkg/logger"
	"github.com/sirupsen/logrus"

	_ "github.com/mattn/go-sqlite3"
)

var log = logger.WithName("store")

const settingsKey = "library"

// Config tunes the SQLite connection
type Config struct {
	BusyTimeout time.Duration
	QueueSize   int
}

// DefaultConfig returns the settings used by the CLI
func DefaultConfig() Config {
	return Config{BusyTimeout: 5 * time.Second, QueueSize: 16}
}

// Store is a SQLite-backed snapshot store. Reads use the pool directly;
// writes go through a single writer goroutine.
type Store struct {
	db     *sql.DB
	path   string
	writes *writeQueue
}

// Open opens or creates the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(path string, cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps in-memory databases shared and serializes SQLite access
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if cfg.BusyTimeout > 0 {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds())); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', ?)`, strconv.Itoa(schemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to record schema version: %w", err)
	}

	s := &Store{db: db, path: path, writes: newWriteQueue(db, cfg.QueueSize)}
	s.writes.start()
	log.WithField("path", path).Debug("Store opened")
	return s, nil
}

// Close flushes pending writes and closes the database
func (s *Store) Close() error {
	s.writes.stop()
	return s.db.Close()
}

// Save replaces the stored library with snap in one transaction
func (s *Store) Save(ctx context.Context, snap *library.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("no snapshot to save")
	}
	start := time.Now()
	err := s.writes.submitTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"assets", "albums", "smart_albums", "tasks", "watched_folders", "settings"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		for i, a := range snap.Assets {
			data, err := json.Marshal(a)
			if err != nil {
				return fmt.Errorf("failed to encode asset %s: %w", a.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO assets (seq, id, path, status, needs_ai, data) VALUES (?, ?, ?, ?, ?, ?)`,
				i, a.ID, a.ResolvedPath, string(a.Status), a.NeedsAITags, string(data)); err != nil {
				return fmt.Errorf("failed to insert asset %s: %w", a.ID, err)
			}
		}
		for i, album := range snap.Albums {
			if err := insertJSON(ctx, tx, "albums", i, album.ID, album.Name, album); err != nil {
				return err
			}
		}
		for i, album := range snap.SmartAlbums {
			if err := insertJSON(ctx, tx, "smart_albums", i, album.ID, album.Name, album); err != nil {
				return err
			}
		}
		for i, t := range snap.Tasks {
			data, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("failed to encode task %s: %w", t.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tasks (seq, id, asset_id, kind, status, data) VALUES (?, ?, ?, ?, ?, ?)`,
				i, t.ID, t.AssetID, string(t.Kind), string(t.Status), string(data)); err != nil {
				return fmt.Errorf("failed to insert task %s: %w", t.ID, err)
			}
		}
		for i, path := range snap.WatchedFolders {
			if _, err := tx.ExecContext(ctx, `INSERT INTO watched_folders (seq, path) VALUES (?, ?)`, i, path); err != nil {
				return fmt.Errorf("failed to insert watched folder: %w", err)
			}
		}

		settings, err := json.Marshal(snap.Settings)
		if err != nil {
			return fmt.Errorf("failed to encode settings: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES (?, ?)`, settingsKey, string(settings)); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
		_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta (key, value) VALUES ('saved_at', ?)`,
			time.Now().UTC().Format(time.RFC3339Nano))
		return err
	})
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"assets":   len(snap.Assets),
		"tasks":    len(snap.Tasks),
		"duration": time.Since(start),
	}).Debug("Library saved")
	return nil
}

func insertJSON(ctx context.Context, tx *sql.Tx, table string, seq int, id, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s row %s: %w", table, id, err)
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO "+table+" (seq, id, name, data) VALUES (?, ?, ?, ?)", seq, id, name, string(data))
	if err != nil {
		return fmt.Errorf("failed to insert %s row %s: %w", table, id, err)
	}
	return nil
}

// Load reads the stored library. found is false when nothing was saved yet.
func (s *Store) Load(ctx context.Context) (snap *library.Snapshot, found bool, err error) {
	var settingsJSON string
	err = s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, settingsKey).Scan(&settingsJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read settings: %w", err)
	}

	snap = &library.Snapshot{
		Assets:         []*models.Asset{},
		Albums:         []*models.Album{},
		SmartAlbums:    []*models.SmartAlbum{},
		Tasks:          []models.TaskState{},
		WatchedFolders: []string{},
	}
	if err := json.Unmarshal([]byte(settingsJSON), &snap.Settings); err != nil {
		return nil, false, fmt.Errorf("failed to decode settings: %w", err)
	}

	if err := loadRows(ctx, s.db, `SELECT data FROM assets ORDER BY seq`, func(data []byte) error {
		a := &models.Asset{}
		if err := json.Unmarshal(data, a); err != nil {
			return err
		}
		snap.Assets = append(snap.Assets, a)
		return nil
	}); err != nil {
		return nil, false, fmt.Errorf("failed to load assets: %w", err)
	}
	if err := loadRows(ctx, s.db, `SELECT data FROM albums ORDER BY seq`, func(data []byte) error {
		a := &models.Album{}
		if err := json.Unmarshal(data, a); err != nil {
			return err
		}
		snap.Albums = append(snap.Albums, a)
		return nil
	}); err != nil {
		return nil, false, fmt.Errorf("failed to load albums: %w", err)
	}
	if err := loadRows(ctx, s.db, `SELECT data FROM smart_albums ORDER BY seq`, func(data []byte) error {
		a := &models.SmartAlbum{}
		if err := json.Unmarshal(data, a); err != nil {
			return err
		}
		snap.SmartAlbums = append(snap.SmartAlbums, a)
		return nil
	}); err != nil {
		return nil, false, fmt.Errorf("failed to load smart albums: %w", err)
	}
	if err := loadRows(ctx, s.db, `SELECT data FROM tasks ORDER BY seq`, func(data []byte) error {
		var t models.TaskState
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		snap.Tasks = append(snap.Tasks, t)
		return nil
	}); err != nil {
		return nil, false, fmt.Errorf("failed to load tasks: %w", err)
	}
	if err := loadRows(ctx, s.db, `SELECT path FROM watched_folders ORDER BY seq`, func(data []byte) error {
		snap.WatchedFolders = append(snap.WatchedFolders, string(data))
		return nil
	}); err != nil {
		return nil, false, fmt.Errorf("failed to load watched folders: %w", err)
	}

	return snap, true, nil
}

func loadRows(ctx context.Context, db *sql.DB, query string, fn func([]byte) error) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return err
		}
		if err := fn(data); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Summary is a cheap overview of the stored library, read without loading it
type Summary struct {
	Assets         map[models.AssetStatus]int `json:"assets"`
	Tasks          map[models.TaskStatus]int  `json:"tasks"`
	NeedsAITags    int                        `json:"needs_ai_tags"`
	WatchedFolders int                        `json:"watched_folders"`
	SavedAt        *time.Time                 `json:"saved_at,omitempty"`
}

// Summarize counts stored assets and tasks by status
func (s *Store) Summarize(ctx context.Context) (*Summary, error) {
	sum := &Summary{
		Assets: make(map[models.AssetStatus]int),
		Tasks:  make(map[models.TaskStatus]int),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM assets GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count assets: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, err
		}
		sum.Assets[models.AssetStatus(status)] = n
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, err
		}
		sum.Tasks[models.TaskStatus(status)] = n
	}
	rows.Close()

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets WHERE needs_ai = 1`).Scan(&sum.NeedsAITags); err != nil {
		return nil, fmt.Errorf("failed to count untagged assets: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM watched_folders`).Scan(&sum.WatchedFolders); err != nil {
		return nil, fmt.Errorf("failed to count watched folders: %w", err)
	}

	var savedAt string
	err = s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'saved_at'`).Scan(&savedAt)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, err
	default:
		if t, perr := time.Parse(time.RFC3339Nano, savedAt); perr == nil {
			sum.SavedAt = &t
		}
	}
	return sum, nil
}
