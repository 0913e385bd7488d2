package store

const schemaVersion = 1

var schema = []string{
	`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS assets (
		seq INTEGER PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		path TEXT,
		status TEXT NOT NULL,
		needs_ai INTEGER NOT NULL,
		data TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_assets_status ON assets(status)`,
	`CREATE TABLE IF NOT EXISTS albums (
		seq INTEGER PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS smart_albums (
		seq INTEGER PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		seq INTEGER PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		asset_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		data TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(kind, status)`,
	`CREATE TABLE IF NOT EXISTS watched_folders (
		seq INTEGER PRIMARY KEY,
		path TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}
