package auth

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// PeerKey identifies a remote peer for the purposes of this package — the
// hex-encoded PeerId, so this package stays independent of the identity
// package's concrete types.
type PeerKey string

// PeerPermissions maps a PeerKey to the set of Permissions this node has
// granted that peer (§3: "granted_by_me_to"). The mirror orientation
// ("granted_to_me_by", populated from GrantAccess replies) is a distinct
// instance of this same type, owned by the dispatcher.
type PeerPermissions struct {
	mu sync.RWMutex
	m  map[PeerKey][]Permission
}

func NewPeerPermissions() *PeerPermissions {
	return &PeerPermissions{m: make(map[PeerKey][]Permission)}
}

// Set replaces the entire permission set for peer — SetPeerPermissions
// writes atomically per (granter, grantee) pair (§3).
func (pp *PeerPermissions) Set(peer PeerKey, perms []Permission) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	cp := make([]Permission, len(perms))
	copy(cp, perms)
	pp.m[peer] = cp
}

// Merge implements GrantAccess{merge: true} semantics (§C.1 of
// SPEC_FULL.md): incoming Folder permissions replace any existing Folder
// permission with the same Path; permissions for other paths are kept.
func (pp *PeerPermissions) Merge(peer PeerKey, incoming []Permission) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	existing := pp.m[peer]
	byPath := make(map[string]int, len(existing))
	var kept []Permission
	for _, p := range existing {
		if p.Kind == KindFolder {
			byPath[p.Path] = len(kept)
		}
		kept = append(kept, p)
	}
	for _, in := range incoming {
		if in.Kind != KindFolder {
			continue
		}
		if idx, ok := byPath[in.Path]; ok {
			kept[idx] = in
		} else {
			byPath[in.Path] = len(kept)
			kept = append(kept, in)
		}
	}
	pp.m[peer] = kept
}

// Get returns a copy of the permission set granted to peer.
func (pp *PeerPermissions) Get(peer PeerKey) []Permission {
	pp.mu.RLock()
	defer pp.mu.RUnlock()
	perms := pp.m[peer]
	cp := make([]Permission, len(perms))
	copy(cp, perms)
	return cp
}

// HasAccess implements the has_access contract of §4.1: the caller must
// pass an already-canonicalized (symlink-resolved, absolute) path — this
// package never canonicalizes on the caller's behalf, since an
// authorization decision must never be made on a caller-supplied string.
func (pp *PeerPermissions) HasAccess(peer PeerKey, canonicalPath string, required AccessFlags) bool {
	pp.mu.RLock()
	perms := pp.m[peer]
	pp.mu.RUnlock()
	if len(perms) == 0 {
		return false
	}
	for _, p := range perms {
		if p.Kind == KindOwner {
			return true
		}
		if p.Matches(canonicalPath, required) {
			return true
		}
	}
	return false
}

// LogDenial logs an authorization failure the way §4.1 requires: "logged
// with peer, path, and requested mask."
func LogDenial(peer PeerKey, path string, required AccessFlags) {
	log.WithFields(log.Fields{
		"peer": string(peer),
		"path": path,
		"mask": required.String(),
	}).Warn("Access denied")
}
