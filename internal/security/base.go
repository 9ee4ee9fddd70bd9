package security

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dufeut/mik/internal/mikerrors"
)

// ValidatePathWithinBase joins baseDir and relPath, canonicalizes the result
// (resolving symlinks), and verifies the canonical path still starts with
// the canonical base directory. This is the TOCTOU-safe guard against
// symlink escapes: the caller must open the returned canonical path, never
// the raw joined one, or a symlink swapped in between check and use could
// still redirect the open.
//
// Non-existent files canonicalize their parent directory instead and
// re-append the filename, so a 404 on a file that doesn't exist yet can
// still be distinguished from a traversal attempt.
func ValidatePathWithinBase(baseDir, relPath string) (string, error) {
	fullPath := filepath.Join(baseDir, relPath)

	var canonical string
	if _, err := os.Stat(fullPath); err == nil {
		resolved, err := filepath.EvalSymlinks(fullPath)
		if err != nil {
			return "", mikerrors.New(mikerrors.KindInvalidRequest, "path escapes base directory")
		}
		canonical = resolved
	} else {
		parent := filepath.Dir(fullPath)
		filename := filepath.Base(fullPath)
		if _, err := os.Stat(parent); err == nil {
			resolvedParent, err := filepath.EvalSymlinks(parent)
			if err != nil {
				return "", mikerrors.New(mikerrors.KindInvalidRequest, "path escapes base directory")
			}
			canonical = filepath.Join(resolvedParent, filename)
		} else {
			canonical = fullPath
		}
	}

	canonicalBase, err := filepath.EvalSymlinks(baseDir)
	if err != nil {
		return "", mikerrors.New(mikerrors.KindInvalidRequest, "path escapes base directory")
	}

	rel, err := filepath.Rel(canonicalBase, canonical)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", mikerrors.New(mikerrors.KindInvalidRequest, "path escapes base directory")
	}

	return canonical, nil
}
