package dispatcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/j45k4/puppynet/internal/auth"
	"github.com/j45k4/puppynet/internal/catalog"
	"github.com/j45k4/puppynet/internal/wire"
)

const selfPeerID = "node-self"

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	store, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return New(Config{
		Store:       store,
		GrantedByMe: auth.NewPeerPermissions(),
		GrantedToMe: auth.NewPeerPermissions(),
		SelfPeerID:  selfPeerID,
	})
}

// S1 (spec.md §8): a peer with no grant gets Access denied listing a
// directory; the local node itself (self key) is never subject to the
// check (§4.1's unconditional Owner semantics for the local identity),
// which TestListDirSelfBypassesAuthorization covers.
func TestListDirAccessDenied(t *testing.T) {
	defer leaktest.Check(t)()
	d := newTestDispatcher(t)
	dir := t.TempDir()

	res := d.handleLocal(context.Background(), auth.PeerKey("stranger"), wire.Req{
		Kind:    "list_dir",
		ListDir: &wire.ListDirReq{Path: dir},
	}, streamOrigin{local: false})

	require.Equal(t, "error", res.Kind)
	assert.Equal(t, "Access denied", *res.Error)
}

func TestListDirSelfBypassesAuthorization(t *testing.T) {
	defer leaktest.Check(t)()
	d := newTestDispatcher(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "A"), 0o755))

	res := d.handleLocal(context.Background(), auth.PeerKey(selfPeerID), wire.Req{
		Kind:    "list_dir",
		ListDir: &wire.ListDirReq{Path: dir},
	}, streamOrigin{local: true})

	require.Equal(t, "dir_entries", res.Kind)
	entries := res.DirEntries.Entries
	require.Len(t, entries, 2)
	// Dirs sort before files regardless of name (§8 S1).
	assert.Equal(t, "A", entries[0].Name)
	assert.True(t, entries[0].IsDir)
	assert.Equal(t, "b.txt", entries[1].Name)
}

func TestListDirGrantedPeerSucceeds(t *testing.T) {
	defer leaktest.Check(t)()
	d := newTestDispatcher(t)
	dir := t.TempDir()

	canonical, err := auth.Canonicalize(dir)
	require.NoError(t, err)
	perm, err := auth.NewFolder(canonical, auth.ReadMask)
	require.NoError(t, err)
	d.cfg.GrantedByMe.Set(auth.PeerKey("friend"), []auth.Permission{perm})

	res := d.handleLocal(context.Background(), auth.PeerKey("friend"), wire.Req{
		Kind:    "list_dir",
		ListDir: &wire.ListDirReq{Path: dir},
	}, streamOrigin{local: false})

	require.Equal(t, "dir_entries", res.Kind)
}

// S2 (spec.md §8): reading a file in two chunks of length N reassembles to
// the original content, with EOF on the final chunk only.
func TestReadFileChunking(t *testing.T) {
	defer leaktest.Check(t)()
	d := newTestDispatcher(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	content := []byte("0123456789")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	first := d.handleLocal(context.Background(), auth.PeerKey(selfPeerID), wire.Req{
		Kind:     "read_file",
		ReadFile: &wire.ReadFileReq{Path: path, Offset: 0, Length: 6},
	}, streamOrigin{local: true})
	require.Equal(t, "file_chunk", first.Kind)
	assert.Equal(t, content[:6], first.FileChunk.Data)
	assert.False(t, first.FileChunk.EOF)

	second := d.handleLocal(context.Background(), auth.PeerKey(selfPeerID), wire.Req{
		Kind:     "read_file",
		ReadFile: &wire.ReadFileReq{Path: path, Offset: 6, Length: 6},
	}, streamOrigin{local: true})
	require.Equal(t, "file_chunk", second.Kind)
	assert.Equal(t, content[6:], second.FileChunk.Data)
	assert.True(t, second.FileChunk.EOF)

	assert.Equal(t, content, append(first.FileChunk.Data, second.FileChunk.Data...))
}

// S4 (spec.md §8): GrantAccess installs permissions keyed by the caller's
// own identity, persists them, and echoes the final set back.
func TestGrantAccessPersistsAndRehydrates(t *testing.T) {
	defer leaktest.Check(t)()
	d := newTestDispatcher(t)
	path := "/shared/docs"

	res := d.handleLocal(context.Background(), auth.PeerKey("friend"), wire.Req{
		Kind: "grant_access",
		GrantAccess: &wire.GrantAccessReq{
			Username: "friend-display-name",
			Permissions: []wire.Permission{
				{Path: path, Search: true, Read: true},
			},
		},
	}, streamOrigin{local: false})

	require.Equal(t, "access_grant", res.Kind)
	assert.Equal(t, "friend-display-name", res.AccessGrant.Username)
	require.Len(t, res.AccessGrant.Permissions, 1)
	assert.Equal(t, path, res.AccessGrant.Permissions[0].Path)

	assert.True(t, d.cfg.GrantedByMe.HasAccess(auth.PeerKey("friend"), path, auth.ReadMask))

	fresh := newTestDispatcherSharingStore(t, d)
	require.NoError(t, fresh.LoadPermissions())
	assert.True(t, fresh.cfg.GrantedByMe.HasAccess(auth.PeerKey("friend"), path, auth.ReadMask))
}

func newTestDispatcherSharingStore(t *testing.T, d *Dispatcher) *Dispatcher {
	t.Helper()
	return New(Config{
		Store:       d.cfg.Store,
		GrantedByMe: auth.NewPeerPermissions(),
		GrantedToMe: auth.NewPeerPermissions(),
		SelfPeerID:  selfPeerID,
	})
}

func TestGrantAccessNeverInstallsOwnerFromWire(t *testing.T) {
	defer leaktest.Check(t)()
	d := newTestDispatcher(t)

	d.handleLocal(context.Background(), auth.PeerKey("friend"), wire.Req{
		Kind: "grant_access",
		GrantAccess: &wire.GrantAccessReq{
			Permissions: []wire.Permission{{Owner: true}},
		},
	}, streamOrigin{local: false})

	perms := d.cfg.GrantedByMe.Get(auth.PeerKey("friend"))
	assert.Empty(t, perms)
}

// invariant 8 (spec.md §8): every command handed to the node loop's
// command handler gets a reply within a bounded time, checked over 20
// repeated commands.
func TestNodeLoopLiveness(t *testing.T) {
	defer leaktest.Check(t)()
	store, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	d := New(Config{
		Store:       store,
		GrantedByMe: auth.NewPeerPermissions(),
		GrantedToMe: auth.NewPeerPermissions(),
		SelfPeerID:  selfPeerID,
	})

	for i := 0; i < 20; i++ {
		reply := make(chan Result, 1)
		d.handleCommand(context.Background(), Command{
			Req:   wire.Req{Kind: "list_cpus", ListCpus: &struct{}{}},
			Reply: reply,
		})
		select {
		case res := <-reply:
			require.NoError(t, res.Err)
			assert.Equal(t, "cpus", res.Res.Kind)
		case <-time.After(time.Second):
			t.Fatal("handleCommand did not reply in time")
		}
	}
}

// §4.5: a duplicate request id fails the prior waiter with "replaced"
// rather than silently dropping it.
func TestParkWaiterReplacesDuplicateRequestID(t *testing.T) {
	defer leaktest.Check(t)()
	d := newTestDispatcher(t)

	first := make(chan Result, 1)
	second := make(chan Result, 1)

	d.parkWaiter("req-1", "list_dir", first)
	d.parkWaiter("req-1", "list_dir", second)

	select {
	case res := <-first:
		require.Error(t, res.Err)
		assert.Equal(t, "replaced", res.Err.Error())
	default:
		t.Fatal("expected the first waiter to be failed immediately")
	}

	d.completeWaiter(outboundCompletion{requestID: "req-1", res: wire.DirEntriesResponse(nil)})
	select {
	case res := <-second:
		require.NoError(t, res.Err)
		assert.Equal(t, "dir_entries", res.Res.Kind)
	default:
		t.Fatal("expected the second waiter to receive the completion")
	}
}

func TestResponseMatchesRequestAcceptsEitherShellInputReply(t *testing.T) {
	assert.True(t, responseMatchesRequest("shell_input", "shell_output"))
	assert.True(t, responseMatchesRequest("shell_input", "shell_exited"))
	assert.True(t, responseMatchesRequest("shell_input", "error"))
	assert.False(t, responseMatchesRequest("shell_input", "dir_entries"))
}

func TestShellSessionLifecycle(t *testing.T) {
	defer leaktest.Check(t)()
	d := newTestDispatcher(t)

	started := d.handleLocal(context.Background(), auth.PeerKey(selfPeerID), wire.Req{
		Kind:       "start_shell",
		StartShell: &wire.StartShellReq{Cols: 80, Rows: 24},
	}, streamOrigin{local: true})
	require.Equal(t, "shell_started", started.Kind)
	id := started.ShellStarted.ID
	require.NotEmpty(t, id)

	// A bare poll (no Data) must not fail even before any output exists.
	polled := d.handleLocal(context.Background(), auth.PeerKey(selfPeerID), wire.Req{
		Kind:       "shell_input",
		ShellInput: &wire.ShellInputReq{ID: id},
	}, streamOrigin{local: true})
	assert.Contains(t, []string{"shell_output", "shell_exited"}, polled.Kind)

	d.shells.Stop(id)
}
