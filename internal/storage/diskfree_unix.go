//go:build !windows

package storage

import (
	"os"
	"path/filepath"
	"syscall"
)

// freeSpace returns the number of bytes available to unprivileged users
// on the filesystem holding path.
func freeSpace(path string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return -1, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

// candidates enumerates mount-point children of the usual volume roots,
// plus the home directory and always the current working directory.
func candidates() []string {
	var dirs []string
	seen := make(map[string]bool)

	add := func(dir string) {
		if dir == "" || seen[dir] {
			return
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}

	for _, base := range []string{"/Volumes", "/mnt", "/media"} {
		entries, err := os.ReadDir(base)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			add(filepath.Join(base, entry.Name()))
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		add(home)
	}
	if cwd, err := os.Getwd(); err == nil {
		add(cwd)
	}
	return dirs
}
