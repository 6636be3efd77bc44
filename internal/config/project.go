package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// rootMarkers are tried in order. Each marker is searched all the way up
// before the next is tried, so a .tinyMem directory above a nested git
// repository still wins.
var rootMarkers = []string{DirName, ".git"}

// FindProjectRoot walks up from start looking for a .tinyMem directory or a
// git repository. If neither is found the start directory is the root.
func FindProjectRoot(start string) (string, error) {
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting working directory: %w", err)
		}
		start = wd
	}
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", start, err)
	}

	for _, marker := range rootMarkers {
		current := dir
		for {
			if _, err := os.Stat(filepath.Join(current, marker)); err == nil {
				return current, nil
			}
			parent := filepath.Dir(current)
			if parent == current {
				break
			}
			current = parent
		}
	}
	return dir, nil
}

// GenerateProjectID derives the project scope identifier from its root.
// The ID is the cleaned absolute path with forward slashes, so the same
// checkout always maps to the same scope.
func GenerateProjectID(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	return filepath.ToSlash(filepath.Clean(abs))
}
