package source

import (
	"path/filepath"
	"strings"

	"mediabridge/work/errs"
)

// RootAuthorizer allows local paths that resolve inside one of the
// configured media roots. Deny by default: a path outside every root, or one
// that cannot be canonicalized, is rejected.
type RootAuthorizer struct {
	roots []string
}

// NewRootAuthorizer canonicalizes the configured roots once up front.
func NewRootAuthorizer(roots []string) *RootAuthorizer {
	cleaned := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(filepath.Clean(root))
		if err != nil {
			continue
		}
		cleaned = append(cleaned, abs)
	}
	return &RootAuthorizer{roots: cleaned}
}

// Authorize returns the canonical form of path when it lies inside an
// allowed root, and AccessDenied otherwise. Relative traversal segments are
// resolved before the containment check so "../" tricks cannot escape.
func (a *RootAuthorizer) Authorize(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", errs.Wrap(errs.AccessDenied, err, "cannot canonicalize %q", path)
	}

	for _, root := range a.roots {
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return abs, nil
		}
	}

	return "", errs.New(errs.AccessDenied, "path %q outside allowed media roots", path)
}
