// Package blob implements the optional durable content mirror backing the
// catalog's content-addressed file_entries: a fast local disk tier paired
// with a slow, durable tier (S3, or none), keyed by the SHA-256 hash that
// also identifies a FileEntry in the catalog.
package blob

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrNotImplemented = errors.New("not implemented")
)

// Key is the hex-encoded SHA-256 hash of a FileEntry's content, matching
// catalog.FileEntry.Hash.
type Key string

// Value is the raw content addressed by a Key.
type Value []byte

// Store persists content addressed by its hash.
type Store interface {
	Get(Key) (Value, error)
	Put(Key, Value) error
	Delete(Key) error
}

// Enumerable is implemented by stores that can walk all of their keys and
// test for a key's presence. No reconciliation pass against file_entries
// uses it in this tree.
type Enumerable interface {
	Store
	Contains(Key) (bool, error)
	ForEach(func(Key) error) error
}

// Tier names accepted by Config.MirrorTier.
const (
	TierNone = "none"
	TierDisk = "disk"
	TierS3   = "s3"
)

// Config configures the mirror store. MirrorTier "none" disables the
// durable tier entirely: the fast disk cache is then the only tier and
// Get on a cache miss returns ErrNotFound instead of falling back.
type Config struct {
	CacheDir string

	MirrorTier string

	S3Region    string
	S3Bucket    string
	S3Profile   string
	S3AccessKey string
	S3SecretKey string
}

// New builds the mirror store described by cfg: a disk cache paired with
// an S3 tier when MirrorTier is "s3", or a bare disk cache when
// MirrorTier is "none", "disk" or empty.
func New(cfg Config, propagationLogPath string) (Store, error) {
	fast := NewDiskStore(cfg.CacheDir)
	switch cfg.MirrorTier {
	case "", TierNone:
		return fast, nil
	case TierDisk:
		return fast, nil
	case TierS3:
		slow := newS3Store(cfg)
		return NewPaired(fast, slow, propagationLogPath)
	default:
		return nil, fmt.Errorf("%q: %w", cfg.MirrorTier, ErrNotImplemented)
	}
}
