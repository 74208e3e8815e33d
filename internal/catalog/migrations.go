package catalog

import (
	"database/sql"

	"github.com/pkg/errors"
)

// migration is one forward-only schema step (§6: "Schema evolution is via
// forward-only migrations applied at open").
type migration struct {
	id  int
	sql string
}

var migrations = []migration{
	{1, `CREATE TABLE IF NOT EXISTS schema_migrations (id INTEGER PRIMARY KEY)`},
	{2, `CREATE TABLE IF NOT EXISTS nodes (
		node_id TEXT PRIMARY KEY,
		hostname TEXT NOT NULL,
		is_self INTEGER NOT NULL DEFAULT 0,
		total_memory INTEGER NOT NULL DEFAULT 0,
		os TEXT NOT NULL DEFAULT '',
		arch TEXT NOT NULL DEFAULT '',
		first_seen DATETIME NOT NULL,
		last_seen DATETIME NOT NULL
	)`},
	{3, `CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`},
	{4, `CREATE TABLE IF NOT EXISTS sessions (
		token_hash TEXT PRIMARY KEY,
		username TEXT NOT NULL REFERENCES users(username),
		issued_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	)`},
	{5, `CREATE TABLE IF NOT EXISTS peer_permissions (
		peer_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		path TEXT NOT NULL DEFAULT '',
		flags INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (peer_id, kind, path)
	)`},
	{6, `CREATE TABLE IF NOT EXISTS file_entries (
		hash TEXT PRIMARY KEY,
		size INTEGER NOT NULL,
		mime_type TEXT NOT NULL DEFAULT '',
		first_seen DATETIME NOT NULL,
		latest_seen DATETIME NOT NULL
	)`},
	{7, `CREATE TABLE IF NOT EXISTS file_locations (
		node_id TEXT NOT NULL,
		path TEXT NOT NULL,
		hash TEXT NOT NULL REFERENCES file_entries(hash),
		size INTEGER NOT NULL,
		PRIMARY KEY (node_id, path)
	)`},
	{8, `CREATE INDEX IF NOT EXISTS file_locations_hash_idx ON file_locations(hash)`},
	{9, `CREATE TABLE IF NOT EXISTS discovered_peers (
		peer_id TEXT PRIMARY KEY,
		multiaddr TEXT NOT NULL,
		last_seen DATETIME NOT NULL
	)`},
	{10, `CREATE TABLE IF NOT EXISTS host_inventory (
		node_id TEXT PRIMARY KEY,
		cpus_json TEXT NOT NULL DEFAULT '[]',
		disks_json TEXT NOT NULL DEFAULT '[]',
		interfaces_json TEXT NOT NULL DEFAULT '[]',
		collected_at DATETIME NOT NULL
	)`},
}

func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(migrations[0].sql); err != nil {
		return errors.Wrap(err, "create schema_migrations")
	}
	for _, m := range migrations {
		applied, err := migrationApplied(s.db, m.id)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return errors.Wrapf(err, "apply migration %d", m.id)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_migrations (id) VALUES (?)`, m.id); err != nil {
			return errors.Wrapf(err, "record migration %d", m.id)
		}
	}
	return nil
}

func migrationApplied(db *sql.DB, id int) (bool, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, errors.Wrapf(err, "check migration %d", id)
	}
	return count > 0, nil
}
