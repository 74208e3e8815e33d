package catalog

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// Node mirrors the `nodes` table (§3): one row with IsSelf = true for the
// local node, others appear as peers are attested.
type Node struct {
	NodeID      string
	Hostname    string
	IsSelf      bool
	TotalMemory uint64
	OS          string
	Arch        string
	FirstSeen   time.Time
	LastSeen    time.Time
}

// UpsertLocalNode implements `persist_local_node` (§3 lifecycle): the
// local node's row is written at every startup, creating it on first run
// and refreshing LastSeen/Hostname/TotalMemory thereafter.
func (s *Store) UpsertLocalNode(n Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := n.LastSeen
	_, err := s.db.Exec(`
		INSERT INTO nodes (node_id, hostname, is_self, total_memory, os, arch, first_seen, last_seen)
		VALUES (?, ?, 1, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			hostname = excluded.hostname,
			total_memory = excluded.total_memory,
			os = excluded.os,
			arch = excluded.arch,
			last_seen = excluded.last_seen`,
		n.NodeID, n.Hostname, n.TotalMemory, n.OS, n.Arch, now, now)
	if err != nil {
		return errors.Wrap(err, "upsert local node")
	}
	return nil
}

// GetNode returns the row for nodeID, or ErrNotFound.
func (s *Store) GetNode(nodeID string) (Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n Node
	var isSelf int
	err := s.db.QueryRow(`
		SELECT node_id, hostname, is_self, total_memory, os, arch, first_seen, last_seen
		FROM nodes WHERE node_id = ?`, nodeID).Scan(
		&n.NodeID, &n.Hostname, &isSelf, &n.TotalMemory, &n.OS, &n.Arch, &n.FirstSeen, &n.LastSeen)
	if err == sql.ErrNoRows {
		return Node{}, ErrNotFound
	}
	if err != nil {
		return Node{}, errors.Wrap(err, "get node")
	}
	n.IsSelf = isSelf != 0
	return n, nil
}
