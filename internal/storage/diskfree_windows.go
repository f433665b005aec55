//go:build windows

package storage

import (
	"os"

	"golang.org/x/sys/windows"
)

// freeSpace returns the number of bytes available to the calling user on
// the volume holding path, via GetDiskFreeSpaceEx.
func freeSpace(path string) (int64, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return -1, err
	}
	var freeToCaller, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(p, &freeToCaller, &total, &totalFree); err != nil {
		return -1, err
	}
	return int64(freeToCaller), nil
}

// candidates enumerates accessible drive letters, plus always the current
// working directory.
func candidates() []string {
	var dirs []string
	for letter := 'C'; letter <= 'J'; letter++ {
		drive := string(letter) + `:\`
		if _, err := os.Stat(drive); err == nil {
			dirs = append(dirs, drive)
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	return dirs
}
