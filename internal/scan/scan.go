// Package scan implements the Scan Engine (§4.3): it walks a directory
// tree, hashes file contents concurrently, upserts file_entries and
// file_locations, and prunes locations that disappeared, publishing a
// bounded Progress/Finished event stream.
package scan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/j45k4/puppynet/internal/catalog"
)

// progressEvery controls how often a Progress event is emitted while
// hashing: "after every N files" (§4.3 step 3).
const progressEvery = 8

// maxConcurrentHashes bounds the worker pool the same way the teacher
// bounds tree growth: a buffered semaphore channel alongside an errgroup.
const maxConcurrentHashes = 8

// Progress is one in-flight update of a scan (§4.3 step 3).
type Progress struct {
	Processed int
	Total     int
	Inserted  int
	Updated   int
	Removed   int
}

// Result is the terminal outcome of a scan (§4.3 step 6).
type Result struct {
	OK       bool
	Err      error
	Inserted int
	Updated  int
	Removed  int
	Duration time.Duration
}

// Event is either a Progress or a terminal Result; exactly one field is
// set, and Result, once sent, is always the last event (§4.3 ordering
// guarantee, §8 invariant: "Progress events strictly precede Finished").
type Event struct {
	Progress *Progress
	Result   *Result
}

// CancelFunc is polled by the scan; returning true requests it to stop.
// The scan observes it at file boundaries only (§5: "cancel flag polled
// by the worker between files").
type CancelFunc func() bool

// Run walks root on behalf of nodeID, publishing events on a channel it
// creates and returns. The channel is closed after the terminal event.
// Per §9's "the catalog mutex must never be held across an await", all
// store access here is through short catalog.Store method calls, never a
// held transaction spanning file I/O.
func Run(ctx context.Context, store *catalog.Store, nodeID, root string, cancelled CancelFunc) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		runScan(ctx, store, nodeID, root, cancelled, events)
	}()
	return events
}

type fileStat struct {
	path  string
	size  int64
	mtime time.Time
}

func runScan(ctx context.Context, store *catalog.Store, nodeID, root string, cancelled CancelFunc, events chan<- Event) {
	start := time.Now()

	working, err := collect(root)
	if err != nil {
		events <- Event{Result: &Result{Err: errors.Wrap(err, "collect working set")}}
		return
	}

	// §9 Open Question: total_files may be 0 during collection; this
	// implementation defers the first Progress event until enumeration
	// completes, so total is always accurate by the time it is seen.
	events <- Event{Progress: &Progress{Total: len(working)}}

	var processed, inserted, updated int32
	var mu sync.Mutex
	visited := make(map[string]bool, len(working))

	if cancelled != nil && cancelled() {
		events <- Event{Result: &Result{Err: errors.New("cancelled")}}
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, maxConcurrentHashes)
	for _, f := range working {
		f := f
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			if cancelled != nil && cancelled() {
				return errCancelled
			}
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			hash, mimeType, err := hashFile(f.path)
			if err != nil {
				return errors.Wrapf(err, "hash %q", f.path)
			}

			now := time.Now()
			isNew, err := upsertFile(store, nodeID, f, hash, mimeType, now)
			if err != nil {
				return err
			}

			mu.Lock()
			visited[f.path] = true
			if isNew {
				atomic.AddInt32(&inserted, 1)
			} else {
				atomic.AddInt32(&updated, 1)
			}
			mu.Unlock()

			n := atomic.AddInt32(&processed, 1)
			if n%progressEvery == 0 || int(n) == len(working) {
				events <- Event{Progress: &Progress{
					Processed: int(n),
					Total:     len(working),
					Inserted:  int(atomic.LoadInt32(&inserted)),
					Updated:   int(atomic.LoadInt32(&updated)),
				}}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		msg := "cancelled"
		if !errors.Is(err, errCancelled) {
			msg = err.Error()
		}
		events <- Event{Result: &Result{Err: errors.New(msg)}}
		return
	}

	removed, err := store.PruneLocations(nodeID, root, visited)
	if err != nil {
		events <- Event{Result: &Result{Err: errors.Wrap(err, "prune stale locations")}}
		return
	}

	log.WithFields(log.Fields{
		"root":     root,
		"inserted": inserted,
		"updated":  updated,
		"removed":  removed,
	}).Info("Scan finished")

	events <- Event{Result: &Result{
		OK:       true,
		Inserted: int(inserted),
		Updated:  int(updated),
		Removed:  removed,
		Duration: time.Since(start),
	}}
}

var errCancelled = errors.New("cancelled")

// collect walks root depth-first, collecting the working set of regular
// files before any hashing begins (§4.3 step 1).
func collect(root string) ([]fileStat, error) {
	var out []fileStat
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		out = append(out, fileStat{path: path, size: info.Size(), mtime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, nil
}

func hashFile(path string) (hash, mimeType string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", "", err
	}
	mimeType = mime.TypeByExtension(filepath.Ext(path))
	return hex.EncodeToString(h.Sum(nil)), mimeType, nil
}

func upsertFile(store *catalog.Store, nodeID string, f fileStat, hash, mimeType string, now time.Time) (isNew bool, err error) {
	existed, err := store.LocationExists(nodeID, f.path)
	if err != nil {
		return false, errors.Wrap(err, "check existing location")
	}
	isNew = !existed

	if err := store.UpsertFileEntry(catalog.FileEntry{
		Hash:       hash,
		Size:       f.size,
		MimeType:   mimeType,
		FirstSeen:  now,
		LatestSeen: now,
	}); err != nil {
		return false, errors.Wrap(err, "upsert file entry")
	}
	if err := store.UpsertFileLocation(catalog.FileLocation{
		NodeID: nodeID,
		Path:   f.path,
		Hash:   hash,
		Size:   f.size,
	}); err != nil {
		return false, errors.Wrap(err, "upsert file location")
	}
	return isNew, nil
}
