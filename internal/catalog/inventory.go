package catalog

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// InventoryRefreshInterval bounds how often host inventory is resampled,
// per the source's `refresh_sysinfo` throttling (§C.3 of SPEC_FULL.md):
// a rapid poll burst reuses the last sample instead of hammering /proc.
const InventoryRefreshInterval = 5 * time.Second

// HostInventory mirrors the `host_inventory` table: the latest sampled
// CPU/disk/interface snapshot for a node, JSON-encoded since the shape of
// each entry is owned by the caller (wire.CPU, wire.Disk, wire.Interface).
type HostInventory struct {
	NodeID         string
	CPUsJSON       string
	DisksJSON      string
	InterfacesJSON string
	CollectedAt    time.Time
}

// GetHostInventory returns the persisted snapshot for nodeID, or
// ErrNotFound if none has ever been recorded.
func (s *Store) GetHostInventory(nodeID string) (HostInventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inv HostInventory
	err := s.db.QueryRow(`
		SELECT node_id, cpus_json, disks_json, interfaces_json, collected_at
		FROM host_inventory WHERE node_id = ?`, nodeID).Scan(
		&inv.NodeID, &inv.CPUsJSON, &inv.DisksJSON, &inv.InterfacesJSON, &inv.CollectedAt)
	if err == sql.ErrNoRows {
		return HostInventory{}, ErrNotFound
	}
	if err != nil {
		return HostInventory{}, errors.Wrap(err, "get host inventory")
	}
	return inv, nil
}

// PutHostInventory overwrites the snapshot for nodeID.
func (s *Store) PutHostInventory(inv HostInventory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO host_inventory (node_id, cpus_json, disks_json, interfaces_json, collected_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			cpus_json = excluded.cpus_json,
			disks_json = excluded.disks_json,
			interfaces_json = excluded.interfaces_json,
			collected_at = excluded.collected_at`,
		inv.NodeID, inv.CPUsJSON, inv.DisksJSON, inv.InterfacesJSON, inv.CollectedAt)
	if err != nil {
		return errors.Wrap(err, "put host inventory")
	}
	return nil
}

// Stale reports whether inv is old enough to warrant a fresh sample at
// the given time, per InventoryRefreshInterval.
func (inv HostInventory) Stale(now time.Time) bool {
	return now.Sub(inv.CollectedAt) >= InventoryRefreshInterval
}

// MarshalJSONList is a small helper so callers in internal/dispatcher can
// encode a []wire.CPU/[]wire.Disk/[]wire.Interface without importing
// encoding/json themselves at every call site.
func MarshalJSONList(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "marshal inventory list")
	}
	return string(b), nil
}

// UnmarshalJSONList is the inverse of MarshalJSONList.
func UnmarshalJSONList(data string, out interface{}) error {
	if data == "" {
		return nil
	}
	return errors.Wrap(json.Unmarshal([]byte(data), out), "unmarshal inventory list")
}
