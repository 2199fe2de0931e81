package common

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// PathGuard restricts file deletion to a fixed set of managed directories.
// Database rows can carry arbitrary paths; the guard is what keeps a
// corrupted or malicious path from deleting anything outside the
// pipeline's own storage.
type PathGuard struct {
	roots []string
}

// NewPathGuard builds a guard over the given directories. Roots are
// resolved to absolute, cleaned paths once at construction.
func NewPathGuard(dirs []string) *PathGuard {
	roots := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		roots = append(roots, filepath.Clean(abs))
	}
	return &PathGuard{roots: roots}
}

// Allowed reports whether path resolves to a location inside one of the
// managed directories. The roots themselves are not deletable.
func (g *PathGuard) Allowed(path string) bool {
	if path == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	abs = filepath.Clean(abs)

	for _, root := range g.roots {
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			continue
		}
		if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return true
	}
	return false
}

// Remove deletes the file at path if the guard allows it. A path outside
// the managed directories is an error; a file that is already gone is not.
func (g *PathGuard) Remove(path string) error {
	if !g.Allowed(path) {
		return fmt.Errorf("refusing to delete %q: outside managed directories", path)
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}

// RemoveAll deletes every allowed path, logging and skipping the rest.
// It returns the number of files actually removed.
func (g *PathGuard) RemoveAll(paths []string) int {
	removed := 0
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := g.Remove(path); err != nil {
			log.Printf("⚠️  Skipping file cleanup for %s: %v", path, err)
			continue
		}
		removed++
	}
	return removed
}
