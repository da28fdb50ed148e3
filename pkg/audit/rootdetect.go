package audit

import (
	"os"
	"path/filepath"
)

// rootMarkers identify a project checkout regardless of language.
var rootMarkers = []string{"go.mod", ".git", "package.json", "pyproject.toml"}

// DetectRoot resolves the project root used to normalize finding paths
// for suppression matching. An explicit root always wins; otherwise
// the search walks upward from start until a marker file is found.
// Auto-detection is best effort: without a marker the start directory
// itself is the root.
func DetectRoot(explicit string, start string) (string, error) {
	if explicit != "" {
		return filepath.Abs(explicit)
	}

	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}

	for current := dir; ; {
		for _, marker := range rootMarkers {
			if _, err := os.Stat(filepath.Join(current, marker)); err == nil {
				return current, nil
			}
		}
		parent := filepath.Dir(current)
		if parent == current {
			return dir, nil
		}
		current = parent
	}
}

// relativePath normalizes an absolute file path for suppression
// matching: relative to root, forward slashes only.
func relativePath(root string, file string) string {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return filepath.ToSlash(file)
	}
	return filepath.ToSlash(rel)
}
