// Package auth implements the authorization model (§4.1 of the spec): the
// Permission types, PeerPermissions mapping, and the has_access contract
// that gates every filesystem operation the dispatcher services.
package auth

import (
	"fmt"
	"strings"
)

// AccessFlags is a bitmask of the three access kinds a Folder permission
// can grant. Every Folder permission must grant Search — otherwise the
// path is unreachable — which NewFolder enforces at construction.
type AccessFlags uint8

const (
	Search AccessFlags = 1 << iota
	Read
	Write
)

func (f AccessFlags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	if f&Search != 0 {
		parts = append(parts, "search")
	}
	if f&Read != 0 {
		parts = append(parts, "read")
	}
	if f&Write != 0 {
		parts = append(parts, "write")
	}
	return strings.Join(parts, "|")
}

// Contains reports whether f grants every flag set in required.
func (f AccessFlags) Contains(required AccessFlags) bool {
	return f&required == required
}

// ReadMask and WriteMask are the masks the dispatcher checks for the two
// operation shapes named in §4.1: "Reading a directory requires
// search|read; writing requires search|read|write."
const (
	ReadMask  = Search | Read
	WriteMask = Search | Read | Write
)

// Kind distinguishes the two Permission variants.
type Kind int

const (
	KindOwner Kind = iota
	KindFolder
)

// Permission is Owner | Folder{path, flags} (§3). Owner is unconditional;
// Folder carries a canonical base path and an access mask.
type Permission struct {
	Kind  Kind
	Path  string // canonical base path, Folder only
	Flags AccessFlags
}

// Owner returns the unconditional, all-access permission. It is granted
// only to the local identity over shared_folders; it must never be
// accepted from a GrantAccess wire request (§C.2 of SPEC_FULL.md).
func Owner() Permission {
	return Permission{Kind: KindOwner}
}

// NewFolder constructs a Folder permission, rejecting a mask that omits
// Search: "read or write without search is rejected at construction"
// (§3 invariant).
func NewFolder(path string, flags AccessFlags) (Permission, error) {
	if flags&Search == 0 {
		return Permission{}, fmt.Errorf("folder permission for %q must grant search", path)
	}
	return Permission{Kind: KindFolder, Path: path, Flags: flags}, nil
}

// Matches reports whether this Folder permission covers canonicalPath with
// at least the required flags. Only meaningful for Kind == KindFolder;
// callers should check Owner separately (has_access does).
func (p Permission) Matches(canonicalPath string, required AccessFlags) bool {
	if p.Kind != KindFolder {
		return false
	}
	if !p.Flags.Contains(required) {
		return false
	}
	return canonicalPath == p.Path || isDescendant(canonicalPath, p.Path)
}

// isDescendant reports whether child is a component-wise descendant of
// base — NOT a string prefix. "/a/bb" is not under "/a/b" (§4.1).
func isDescendant(child, base string) bool {
	base = strings.TrimRight(base, "/")
	if base == "" {
		base = "/"
	}
	prefix := base
	if prefix != "/" {
		prefix += "/"
	}
	return strings.HasPrefix(child, prefix)
}
