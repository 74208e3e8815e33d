package catalog

import (
	"github.com/pkg/errors"
)

// PermissionRow mirrors one row of `peer_permissions` (§3). Kind is
// "owner" or "folder"; Path/Flags are empty/zero for "owner" rows.
type PermissionRow struct {
	PeerID string
	Kind   string
	Path   string
	Flags  uint8
}

// SetPeerPermissions replaces every rule for (peerID) atomically — "a
// SetPeerPermissions replaces all rules for that pair" (§3 lifecycle).
func (s *Store) SetPeerPermissions(peerID string, rows []PermissionRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin set peer permissions")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM peer_permissions WHERE peer_id = ?`, peerID); err != nil {
		return errors.Wrap(err, "clear existing permissions")
	}
	for _, r := range rows {
		_, err := tx.Exec(`
			INSERT INTO peer_permissions (peer_id, kind, path, flags)
			VALUES (?, ?, ?, ?)`, peerID, r.Kind, r.Path, r.Flags)
		if err != nil {
			return errors.Wrap(err, "insert permission row")
		}
	}
	return tx.Commit()
}

// ListPeerPermissions returns every persisted permission row across all
// peers, used to rehydrate the in-memory auth.PeerPermissions map at
// startup (§5: node state is single-owner in-memory, seeded from the
// catalog on open).
func (s *Store) ListPeerPermissions() ([]PermissionRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT peer_id, kind, path, flags FROM peer_permissions`)
	if err != nil {
		return nil, errors.Wrap(err, "list peer permissions")
	}
	defer rows.Close()

	var out []PermissionRow
	for rows.Next() {
		var r PermissionRow
		if err := rows.Scan(&r.PeerID, &r.Kind, &r.Path, &r.Flags); err != nil {
			return nil, errors.Wrap(err, "scan permission row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetPeerPermissions returns the persisted rule set for peerID.
func (s *Store) GetPeerPermissions(peerID string) ([]PermissionRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`
		SELECT peer_id, kind, path, flags FROM peer_permissions WHERE peer_id = ?`, peerID)
	if err != nil {
		return nil, errors.Wrap(err, "query peer permissions")
	}
	defer rows.Close()

	var out []PermissionRow
	for rows.Next() {
		var r PermissionRow
		if err := rows.Scan(&r.PeerID, &r.Kind, &r.Path, &r.Flags); err != nil {
			return nil, errors.Wrap(err, "scan permission row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
