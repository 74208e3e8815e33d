// Package catalog implements the single-writer relational store (§4.2 of
// the spec): nodes, discovered_peers, users, sessions,
// peer_permissions, file_entries, file_locations, and host inventory
// snapshots. Every exported method takes the store's mutex for the
// duration of one query or transaction; callers never see a *sql.DB.
package catalog

import (
	"database/sql"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Store is the process-wide catalog handle. All access is serialized
// through mu, matching §5's "the catalog handle is wrapped in a
// process-wide mutex; every critical section is short."
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path, applies
// pending migrations, and normalizes file_locations.node_id to exactly
// NodeIDLen bytes (§4.2 invariant 1).
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "open catalog database")
	}
	// Single-writer model: SQLite itself serializes writers, but the
	// process-wide mutex already prevents concurrent use of db, so one
	// connection avoids SQLITE_BUSY churn under our own lock.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate catalog database")
	}
	if err := s.normalizeNodeIDs(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "normalize node ids")
	}
	log.WithField("path", path).Info("Catalog store opened")
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// normalizeNodeIDs truncates any file_locations.node_id longer than
// 2*NodeIDLen hex characters down to that length (the first NodeIDLen
// bytes, hex-encoded), repairing
// legacy rows exactly once per open (§9 "Node-id truncation").
func (s *Store) normalizeNodeIDs() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	const nodeIDHexLen = 32 // NodeIDLen (16) bytes, hex-encoded
	_, err := s.db.Exec(`
		UPDATE file_locations
		SET node_id = substr(node_id, 1, ?)
		WHERE length(node_id) > ?`, nodeIDHexLen, nodeIDHexLen)
	if err != nil {
		return errors.Wrap(err, "truncate over-long node ids")
	}
	return nil
}
