package stream

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// resolvePath joins relPath onto root and returns the canonical absolute path,
// rejecting anything that lands outside root. Containment is checked lexically
// first, then again after symlink resolution, so neither dot-dot segments nor
// symlinks pointing out of the root can escape.
func resolvePath(root, relPath string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve folder root: %w", err)
	}
	joined := filepath.Join(rootAbs, filepath.FromSlash(relPath))
	if !within(rootAbs, joined) {
		return "", ErrAccessDenied
	}

	rootCanon, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return "", fmt.Errorf("resolve folder root: %w", err)
	}
	canon, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("resolve media path: %w", err)
	}
	if !within(rootCanon, canon) {
		return "", ErrAccessDenied
	}
	return canon, nil
}

// within reports whether path is root itself or nested beneath it, comparing
// on path-segment boundaries. A root of /music never admits /music-private.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
