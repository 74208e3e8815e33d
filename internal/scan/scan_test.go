package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/j45k4/puppynet/internal/catalog"
)

func openTestStore(t *testing.T) *catalog.Store {
	t.Helper()
	s, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func drain(t *testing.T, events <-chan Event) (progress []Progress, result Result) {
	t.Helper()
	finished := false
	for ev := range events {
		if ev.Progress != nil {
			assert.False(t, finished, "progress event after the terminal result")
			progress = append(progress, *ev.Progress)
		}
		if ev.Result != nil {
			finished = true
			result = *ev.Result
		}
	}
	return
}

// S3 Scan three files (spec.md §8 S3): directory with files of sizes
// {10, 20, 30} produces Finished(Ok{inserted:3, updated:0, removed:0}).
// Running again without changes yields Finished(Ok{0,0,0,_}).
func TestScanThreeFilesThenIdempotentRerun(t *testing.T) {
	store := openTestStore(t)
	dir := t.TempDir()
	for name, size := range map[string]int{"a": 10, "b": 20, "c": 30} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644))
	}

	_, result := drain(t, Run(context.Background(), store, "node1", dir, nil))
	require.True(t, result.OK)
	assert.Equal(t, 3, result.Inserted)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 0, result.Removed)
	assert.Greater(t, result.Duration.Nanoseconds(), int64(0))

	_, result = drain(t, Run(context.Background(), store, "node1", dir, nil))
	require.True(t, result.OK)
	assert.Equal(t, 0, result.Inserted)
	assert.Equal(t, 3, result.Updated)
	assert.Equal(t, 0, result.Removed)
}

// Scan removal (spec.md §8 invariant 6): deleting a file between scans
// produces exactly one removal and no other updates.
func TestScanRemoval(t *testing.T) {
	store := openTestStore(t)
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a")
	pathB := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(pathA, []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(pathB, []byte("world"), 0o644))

	_, result := drain(t, Run(context.Background(), store, "node1", dir, nil))
	require.True(t, result.OK)
	assert.Equal(t, 2, result.Inserted)

	require.NoError(t, os.Remove(pathB))
	_, result = drain(t, Run(context.Background(), store, "node1", dir, nil))
	require.True(t, result.OK)
	assert.Equal(t, 1, result.Removed)
	assert.Equal(t, 0, result.Inserted)
	assert.Equal(t, 1, result.Updated)
}

func TestScanProgressPrecedesFinishedAndTotalsMatch(t *testing.T) {
	store := openTestStore(t)
	dir := t.TempDir()
	for i := 0; i < 20; i++ {
		name := filepath.Join(dir, string(rune('a'+i)))
		require.NoError(t, os.WriteFile(name, []byte{byte(i)}, 0o644))
	}
	progress, result := drain(t, Run(context.Background(), store, "node1", dir, nil))
	require.True(t, result.OK)
	require.NotEmpty(t, progress, "expected at least one progress event")
	last := progress[len(progress)-1]
	assert.Equal(t, 20, last.Total)
}

func TestScanCancellation(t *testing.T) {
	store := openTestStore(t)
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		name := filepath.Join(dir, string(rune('a'+i)))
		require.NoError(t, os.WriteFile(name, []byte{byte(i)}, 0o644))
	}
	cancelled := func() bool { return true }
	_, result := drain(t, Run(context.Background(), store, "node1", dir, cancelled))
	assert.False(t, result.OK, "expected a cancelled scan to fail")
	require.Error(t, result.Err)
	assert.Equal(t, "cancelled", result.Err.Error())
}
