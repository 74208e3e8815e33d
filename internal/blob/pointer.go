package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Hash is the SHA-256 digest of a file's contents — the content-addressed
// key shared by catalog.FileEntry and the mirror store.
type Hash []byte

// Null is the hash that can't be resolved to any content.
var Null = Hash(nil)

var ErrNotHash = errors.New("not a content hash")

func allZeros(bb []byte) bool {
	for _, b := range bb {
		if b != 0 {
			return false
		}
	}
	return true
}

// IsNull should be used instead of making explicit comparisons with Null.
func (p Hash) IsNull() bool {
	return allZeros(p)
}

func (p Hash) String() string {
	if p.IsNull() {
		return "Null"
	}
	return p.Hex()
}

// Hex returns the hex representation of the hash (32 bytes, 64 characters).
func (p Hash) Hex() string {
	return hex.EncodeToString(p)
}

// Bytes returns the hash as a byte slice. Read-only: callers do not own the
// backing array.
func (p Hash) Bytes() []byte {
	return p
}

func (p Hash) Len() uint8 {
	return uint8(len(p))
}

// NewHash is the inverse of Bytes: it copies b into a fresh Hash.
func NewHash(b []byte) Hash {
	if allZeros(b) {
		return Null
	}
	c := make([]byte, len(b))
	copy(c, b)
	return Hash(c)
}

// HashOf computes the content-addressing key for value.
func HashOf(value []byte) Hash {
	sum := sha256.Sum256(value)
	return Hash(sum[:])
}

// NewHashFromHex interprets a hex string as a content hash.
func NewHashFromHex(hexDigits string) (Hash, error) {
	b, err := hex.DecodeString(hexDigits)
	if len(b) != 32 || err != nil {
		return Null, fmt.Errorf("%q: %w", hexDigits, ErrNotHash)
	}
	return Hash(b), nil
}

func (p Hash) Equals(q Hash) bool {
	if len(p) != len(q) {
		return false
	}
	for i := 0; i < len(p); i++ {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

func (p Hash) Key() Key {
	return Key(p.Hex())
}

func (p Hash) Value() Value {
	return Value(p)
}
