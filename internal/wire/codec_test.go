package wire

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadReqRoundTrip(t *testing.T) {
	req := Req{
		Kind: "list_dir",
		ListDir: &ListDirReq{
			Path: "/srv/pub",
		},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteReq(&buf, req))
	got, err := ReadReq(&buf)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(req, got), "round trip mismatch (-want +got)")
}

func TestWriteReadResRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	res := Res{
		Kind: "dir_entries",
		DirEntries: &DirEntriesRes{
			Entries: []DirEntry{
				{Name: "a.txt", IsDir: false, Size: 10, Mtime: now},
				{Name: "sub", IsDir: true},
			},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteRes(&buf, res))
	got, err := ReadRes(&buf)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(res, got), "round trip mismatch (-want +got)")
}

func TestErrorResShape(t *testing.T) {
	res := ErrorRes("access denied")
	require.NotNil(t, res.Error)
	assert.Equal(t, "access denied", *res.Error)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	var req Req
	assert.Error(t, ReadFrame(&buf, &req), "expected an error for an oversized frame length")
}
