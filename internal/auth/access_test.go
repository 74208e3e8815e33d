package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessFlagsString(t *testing.T) {
	testCases := []struct {
		input  AccessFlags
		output string
	}{
		{0, "none"},
		{Search, "search"},
		{Read, "read"},
		{Search | Read, "search|read"},
		{Search | Read | Write, "search|read|write"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.output, tc.input.String())
	}
}

func TestNewFolderRejectsMissingSearch(t *testing.T) {
	_, err := NewFolder("/srv/pub", Read)
	assert.Error(t, err, "expected error constructing a Folder permission without search")

	_, err = NewFolder("/srv/pub", Search|Read)
	assert.NoError(t, err)
}

func TestHasAccessEmptySetDenies(t *testing.T) {
	pp := NewPeerPermissions()
	assert.False(t, pp.HasAccess("p1", "/srv/pub", ReadMask), "expected denial with no granted permissions")
}

func TestHasAccessOwnerIsUnconditional(t *testing.T) {
	pp := NewPeerPermissions()
	pp.Set("p1", []Permission{Owner()})
	assert.True(t, pp.HasAccess("p1", "/anything/at/all", WriteMask), "expected Owner to grant unconditional access")
}

// S1 Access denial (spec.md §8): a peer with only Folder{/srv/pub,
// read+search} can read /srv/pub but not /srv/priv.
func TestHasAccessFolderScoping(t *testing.T) {
	pp := NewPeerPermissions()
	pub, err := NewFolder("/srv/pub", Search|Read)
	require.NoError(t, err)
	pp.Set("p1", []Permission{pub})

	assert.True(t, pp.HasAccess("p1", "/srv/pub", ReadMask), "expected read access to the granted folder")
	assert.False(t, pp.HasAccess("p1", "/srv/priv", ReadMask), "expected denial outside the granted folder")
	assert.False(t, pp.HasAccess("p1", "/srv/pub", WriteMask), "expected denial: write not in granted mask")
}

// Subtree closure (spec.md §8 invariant 2): has_access(_, base/child,
// needed) implies has_access(_, base, needed).
func TestHasAccessSubtreeClosure(t *testing.T) {
	pp := NewPeerPermissions()
	base, err := NewFolder("/srv/pub", Search|Read)
	require.NoError(t, err)
	pp.Set("p1", []Permission{base})

	assert.True(t, pp.HasAccess("p1", "/srv/pub/sub/child.txt", ReadMask), "expected descendant path to inherit folder access")
}

// "/a/bb" is not under "/a/b" — component-wise, not string, prefix match
// (spec.md §4.1).
func TestHasAccessComponentWisePrefix(t *testing.T) {
	pp := NewPeerPermissions()
	base, err := NewFolder("/a/b", Search|Read)
	require.NoError(t, err)
	pp.Set("p1", []Permission{base})

	assert.False(t, pp.HasAccess("p1", "/a/bb", ReadMask), "expected /a/bb to NOT be considered under /a/b")
	assert.True(t, pp.HasAccess("p1", "/a/b/c", ReadMask), "expected /a/b/c to be considered under /a/b")
}

func TestMergeSemantics(t *testing.T) {
	pp := NewPeerPermissions()
	data, err := NewFolder("/data", Search|Read)
	require.NoError(t, err)
	other, err := NewFolder("/other", Search|Read)
	require.NoError(t, err)
	pp.Set("p1", []Permission{data, other})

	dataWrite, err := NewFolder("/data", Search|Read|Write)
	require.NoError(t, err)
	pp.Merge("p1", []Permission{dataWrite})

	got := pp.Get("p1")
	assert.Len(t, got, 2, "expected merge to keep unrelated permissions")
	assert.True(t, pp.HasAccess("p1", "/data", WriteMask), "expected /data permission to have been replaced in place with write added")
	assert.True(t, pp.HasAccess("p1", "/other", ReadMask), "expected unrelated /other permission to survive the merge")
}
