package catalog

import (
	"time"

	"github.com/pkg/errors"
)

// DiscoveredPeer mirrors `discovered_peers` (§3): ephemeral but persisted
// across restarts for warm reconnect.
type DiscoveredPeer struct {
	PeerID    string
	Multiaddr string
	LastSeen  time.Time
}

// UpsertDiscoveredPeer records or refreshes a discovery sighting.
func (s *Store) UpsertDiscoveredPeer(p DiscoveredPeer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO discovered_peers (peer_id, multiaddr, last_seen)
		VALUES (?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			multiaddr = excluded.multiaddr,
			last_seen = excluded.last_seen`,
		p.PeerID, p.Multiaddr, p.LastSeen)
	if err != nil {
		return errors.Wrap(err, "upsert discovered peer")
	}
	return nil
}

// ListDiscoveredPeers returns every persisted discovery row. The daemon's
// startup path does not read these rows back, so no reconnect is
// attempted from them.
func (s *Store) ListDiscoveredPeers() ([]DiscoveredPeer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT peer_id, multiaddr, last_seen FROM discovered_peers`)
	if err != nil {
		return nil, errors.Wrap(err, "list discovered peers")
	}
	defer rows.Close()

	var out []DiscoveredPeer
	for rows.Next() {
		var p DiscoveredPeer
		if err := rows.Scan(&p.PeerID, &p.Multiaddr, &p.LastSeen); err != nil {
			return nil, errors.Wrap(err, "scan discovered peer")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
