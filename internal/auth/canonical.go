package auth

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Canonicalize resolves path to its symlink-free, absolute form. Every
// authorization decision requires a canonicalized path (§9 design note:
// "Canonicalization is authoritative"). If path does not yet exist (e.g.
// a WriteFile target being created), its parent directory is resolved
// instead and the leaf name is appended unresolved.
func Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", errors.Wrapf(err, "failed to access %q", path)
	}
	parent, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return "", errors.Wrapf(err, "failed to access %q", path)
	}
	return filepath.Join(parent, filepath.Base(abs)), nil
}
