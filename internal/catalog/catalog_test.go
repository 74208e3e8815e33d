package catalog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertLocalNodeThenGet(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	n := Node{NodeID: "abc123", Hostname: "box1", TotalMemory: 1024, OS: "linux", Arch: "amd64", LastSeen: now}
	require.NoError(t, s.UpsertLocalNode(n))
	got, err := s.GetNode("abc123")
	require.NoError(t, err)
	assert.True(t, got.IsSelf)
	assert.Equal(t, "box1", got.Hostname)

	n.Hostname = "box1-renamed"
	n.LastSeen = now.Add(time.Minute)
	require.NoError(t, s.UpsertLocalNode(n))
	got, err = s.GetNode("abc123")
	require.NoError(t, err)
	assert.Equal(t, "box1-renamed", got.Hostname)
}

func TestCreateUserRejectsDuplicateUsername(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	require.NoError(t, s.CreateUser("alice", "hash1", now))
	assert.Equal(t, ErrConflict, s.CreateUser("alice", "hash2", now))
}

func TestSessionLookupPrunesExpired(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	require.NoError(t, s.CreateUser("alice", "hash1", now))
	sess := Session{TokenHash: "tok1", Username: "alice", IssuedAt: now, ExpiresAt: now.Add(time.Second)}
	require.NoError(t, s.CreateSession(sess))

	got, err := s.LookupSession("tok1", now)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	_, err = s.LookupSession("tok1", now.Add(2*time.Second))
	assert.Equal(t, ErrNotFound, err, "expected ErrNotFound after expiry")
	_, err = s.LookupSession("tok1", now)
	assert.Equal(t, ErrNotFound, err, "expected expired session to have been pruned")
}

// Scan idempotence (spec.md §8 invariant 5): upserting the same entry and
// location twice with no changes leaves a single row each.
func TestFileEntryLocationUpsertIdempotent(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	entry := FileEntry{Hash: "h1", Size: 10, MimeType: "text/plain", FirstSeen: now, LatestSeen: now}
	require.NoError(t, s.UpsertFileEntry(entry))
	loc := FileLocation{NodeID: "node1", Path: "/srv/pub/a.txt", Hash: "h1", Size: 10}
	require.NoError(t, s.UpsertFileLocation(loc))

	entry.LatestSeen = now.Add(time.Minute)
	require.NoError(t, s.UpsertFileEntry(entry))
	require.NoError(t, s.UpsertFileLocation(loc))

	locs, err := s.LocationsUnderRoot("node1", "/srv/pub")
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.True(t, locs["/srv/pub/a.txt"])
}

// Scan removal (spec.md §8 invariant 6, §C.4): deleting a file between
// scans prunes exactly that location, scoped to the scanned root.
func TestPruneLocationsScopedToRoot(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	for _, h := range []string{"h1", "h2", "h3"} {
		require.NoError(t, s.UpsertFileEntry(FileEntry{Hash: h, Size: 1, FirstSeen: now, LatestSeen: now}))
	}
	require.NoError(t, s.UpsertFileLocation(FileLocation{NodeID: "n1", Path: "/root/a.txt", Hash: "h1", Size: 1}))
	require.NoError(t, s.UpsertFileLocation(FileLocation{NodeID: "n1", Path: "/root/b.txt", Hash: "h2", Size: 1}))
	// Sibling directory on the same node — must survive the /root prune.
	require.NoError(t, s.UpsertFileLocation(FileLocation{NodeID: "n1", Path: "/other/c.txt", Hash: "h3", Size: 1}))

	keep := map[string]bool{"/root/a.txt": true}
	removed, err := s.PruneLocations("n1", "/root", keep)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	locs, err := s.LocationsUnderRoot("n1", "/root")
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.True(t, locs["/root/a.txt"])

	sibling, err := s.LocationsUnderRoot("n1", "/other")
	require.NoError(t, err)
	require.Len(t, sibling, 1)
	assert.True(t, sibling["/other/c.txt"])
}

func TestSearchFilesPaginatesAndCounts(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	for i := 0; i < 5; i++ {
		h := string(rune('a' + i))
		require.NoError(t, s.UpsertFileEntry(FileEntry{
			Hash: h, Size: int64(i), MimeType: "text/plain",
			FirstSeen: now, LatestSeen: now.Add(time.Duration(i) * time.Second),
		}))
	}
	res, err := s.SearchFiles(SearchFilter{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Total)
	assert.Len(t, res.Entries, 2)
}

func TestSetPeerPermissionsReplacesAtomically(t *testing.T) {
	s := openTestStore(t)
	initial := []PermissionRow{{PeerID: "p1", Kind: "folder", Path: "/data", Flags: 3}}
	require.NoError(t, s.SetPeerPermissions("p1", initial))
	replacement := []PermissionRow{{PeerID: "p1", Kind: "folder", Path: "/other", Flags: 3}}
	require.NoError(t, s.SetPeerPermissions("p1", replacement))
	got, err := s.GetPeerPermissions("p1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "/other", got[0].Path)
}
