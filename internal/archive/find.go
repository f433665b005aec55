package archive

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FindExecutable walks dir depth-first in sorted name order and returns
// the path of the first file whose name ends in ext, relative to dir.
// The sorted traversal makes repeated discovery runs return the same
// path for the same tree. Returns ErrNoExecutable when nothing matches.
func FindExecutable(dir, ext string) (string, error) {
	var found string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), strings.ToLower(ext)) {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("archive: search %s: %w", dir, err)
	}
	if found == "" {
		return "", fmt.Errorf("%w (under %s)", ErrNoExecutable, dir)
	}
	rel, err := filepath.Rel(dir, found)
	if err != nil {
		return "", fmt.Errorf("archive: relativize %s: %w", found, err)
	}
	return rel, nil
}

// DirExists reports whether path exists and is a directory.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
