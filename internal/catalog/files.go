package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// FileEntry mirrors `file_entries` (§3): key = SHA-256 hash of content.
type FileEntry struct {
	Hash       string
	Size       int64
	MimeType   string
	FirstSeen  time.Time
	LatestSeen time.Time
}

// FileLocation mirrors `file_locations` (§3): (node_id, path) -> hash.
type FileLocation struct {
	NodeID string
	Path   string
	Hash   string
	Size   int64
}

// UpsertFileEntry implements the `file_entries` half of the scan upsert
// rule (§4.2 invariant 2): merge by hash, refreshing latest_seen and
// mime_type; first_seen is set only on first insert.
func (s *Store) UpsertFileEntry(e FileEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO file_entries (hash, size, mime_type, first_seen, latest_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			mime_type = excluded.mime_type,
			latest_seen = excluded.latest_seen`,
		e.Hash, e.Size, e.MimeType, e.FirstSeen, e.LatestSeen)
	if err != nil {
		return errors.Wrap(err, "upsert file entry")
	}
	return nil
}

// UpsertFileLocation implements the `file_locations` half of the scan
// upsert rule: upsert by (node_id, path) with the latest hash and size.
// The referenced file_entries row must already exist (§3 invariant).
func (s *Store) UpsertFileLocation(loc FileLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO file_locations (node_id, path, hash, size)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(node_id, path) DO UPDATE SET
			hash = excluded.hash,
			size = excluded.size`,
		loc.NodeID, loc.Path, loc.Hash, loc.Size)
	if err != nil {
		return errors.Wrap(err, "upsert file location")
	}
	return nil
}

// LocationExists reports whether (nodeID, path) already has a row, used
// by the scan engine to distinguish an insert from an update (§4.3 step
// 3's inserted_count/updated_count split).
func (s *Store) LocationExists(nodeID, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM file_locations WHERE node_id = ? AND path = ?`,
		nodeID, path).Scan(&count)
	if err != nil {
		return false, errors.Wrap(err, "check location exists")
	}
	return count > 0, nil
}

// LocationsUnderRoot returns every path currently stored for (nodeID,
// root) — used by the scan engine to compute its visited set before
// pruning (§4.3 step 1, §C.4's root-scoped removal).
func (s *Store) LocationsUnderRoot(nodeID, root string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`
		SELECT path FROM file_locations WHERE node_id = ? AND (path = ? OR path LIKE ?)`,
		nodeID, root, rootLikePattern(root))
	if err != nil {
		return nil, errors.Wrap(err, "query locations under root")
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, errors.Wrap(err, "scan location path")
		}
		out[p] = true
	}
	return out, rows.Err()
}

// PruneLocations deletes file_locations rows for (nodeID, root) whose
// path is not in keep — the scan engine's removal pass (§4.3 step 5),
// scoped to the scanned root per §C.4 so sibling scans cannot prune each
// other's locations.
func (s *Store) PruneLocations(nodeID, root string, keep map[string]bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`
		SELECT path FROM file_locations WHERE node_id = ? AND (path = ? OR path LIKE ?)`,
		nodeID, root, rootLikePattern(root))
	if err != nil {
		return 0, errors.Wrap(err, "query locations for prune")
	}
	var toDelete []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, errors.Wrap(err, "scan location path for prune")
		}
		if !keep[p] {
			toDelete = append(toDelete, p)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, errors.Wrap(err, "begin prune")
	}
	defer tx.Rollback()
	for _, p := range toDelete {
		if _, err := tx.Exec(`DELETE FROM file_locations WHERE node_id = ? AND path = ?`, nodeID, p); err != nil {
			return 0, errors.Wrap(err, "delete pruned location")
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit prune")
	}
	return len(toDelete), nil
}

func rootLikePattern(root string) string {
	root = strings.TrimRight(root, "/")
	return root + "/%"
}

// SearchFilter carries the search_files parameters (§4.2): name
// substring, mime-type set, date range, replica-count range, sort and
// pagination. ContentQuery is accepted but reserved — see §9 Open
// Questions: content-search is advertised but the data path is not
// wired, so no predicate is built from it here.
type SearchFilter struct {
	NameContains string
	MimeTypes    []string
	SeenAfter    time.Time
	SeenBefore   time.Time
	MinReplicas  int
	MaxReplicas  int // 0 means unbounded
	ContentQuery string
	SortDesc     bool
	Page         int
	PageSize     int
}

// SearchResult is the search_files return shape: the matching rows, the
// distinct mime types present among them, and the total count before
// pagination.
type SearchResult struct {
	Entries      []FileEntry
	DistinctMime []string
	Total        int
}

// SearchFiles implements the search_files contract (§4.2).
func (s *Store) SearchFiles(f SearchFilter) (SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	where, args := searchWhereClause(f)

	var res SearchResult
	countQuery := "SELECT COUNT(*) FROM file_entries fe " + where
	if err := s.db.QueryRow(countQuery, args...).Scan(&res.Total); err != nil {
		return SearchResult{}, errors.Wrap(err, "count search_files")
	}

	mimeQuery := "SELECT DISTINCT mime_type FROM file_entries fe " + where
	mimeRows, err := s.db.Query(mimeQuery, args...)
	if err != nil {
		return SearchResult{}, errors.Wrap(err, "query distinct mime types")
	}
	for mimeRows.Next() {
		var m string
		if err := mimeRows.Scan(&m); err != nil {
			mimeRows.Close()
			return SearchResult{}, errors.Wrap(err, "scan distinct mime type")
		}
		res.DistinctMime = append(res.DistinctMime, m)
	}
	mimeRows.Close()
	if err := mimeRows.Err(); err != nil {
		return SearchResult{}, err
	}

	order := "ASC"
	if f.SortDesc {
		order = "DESC"
	}
	page, pageSize := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	selectQuery := fmt.Sprintf(`
		SELECT fe.hash, fe.size, fe.mime_type, fe.first_seen, fe.latest_seen
		FROM file_entries fe %s
		ORDER BY fe.latest_seen %s
		LIMIT ? OFFSET ?`, where, order)
	rows, err := s.db.Query(selectQuery, append(append([]interface{}{}, args...), pageSize, offset)...)
	if err != nil {
		return SearchResult{}, errors.Wrap(err, "query search_files page")
	}
	defer rows.Close()
	for rows.Next() {
		var e FileEntry
		if err := rows.Scan(&e.Hash, &e.Size, &e.MimeType, &e.FirstSeen, &e.LatestSeen); err != nil {
			return SearchResult{}, errors.Wrap(err, "scan file entry")
		}
		res.Entries = append(res.Entries, e)
	}
	return res, rows.Err()
}

func searchWhereClause(f SearchFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if f.NameContains != "" {
		clauses = append(clauses, `EXISTS (
			SELECT 1 FROM file_locations fl
			WHERE fl.hash = fe.hash AND fl.path LIKE ?)`)
		args = append(args, "%"+f.NameContains+"%")
	}
	if len(f.MimeTypes) > 0 {
		placeholders := make([]string, len(f.MimeTypes))
		for i, m := range f.MimeTypes {
			placeholders[i] = "?"
			args = append(args, m)
		}
		clauses = append(clauses, "fe.mime_type IN ("+strings.Join(placeholders, ",")+")")
	}
	if !f.SeenAfter.IsZero() {
		clauses = append(clauses, "fe.latest_seen >= ?")
		args = append(args, f.SeenAfter)
	}
	if !f.SeenBefore.IsZero() {
		clauses = append(clauses, "fe.latest_seen <= ?")
		args = append(args, f.SeenBefore)
	}
	if f.MinReplicas > 0 {
		clauses = append(clauses, `(SELECT COUNT(*) FROM file_locations fl WHERE fl.hash = fe.hash) >= ?`)
		args = append(args, f.MinReplicas)
	}
	if f.MaxReplicas > 0 {
		clauses = append(clauses, `(SELECT COUNT(*) FROM file_locations fl WHERE fl.hash = fe.hash) <= ?`)
		args = append(args, f.MaxReplicas)
	}
	// f.ContentQuery intentionally contributes no clause: reserved,
	// not implemented (§9 Open Questions).

	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}
