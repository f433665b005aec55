// Package reaper removes abandoned upload sessions and stray extraction
// leftovers from the storage root. Committed build directories are never
// touched.
package reaper

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/archive"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/models"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/storage"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// Reaper sweeps the chunk staging area and the builds tree.
type Reaper struct {
	db        *gorm.DB
	root      storage.Root
	locks     *storage.KeyedMutex
	retention time.Duration
	interval  time.Duration
	out       io.Writer
}

// Opts holds parameters for New.
type Opts struct {
	DB        *gorm.DB
	Root      storage.Root
	Locks     *storage.KeyedMutex // must be the same instance the upload and archive layers use
	Retention time.Duration       // defaults to 1h
	Interval  time.Duration       // defaults to 30m
	Out       io.Writer           // progress output; nil discards
}

// New returns a Reaper.
func New(opts Opts) (*Reaper, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("reaper: db is required")
	}
	if opts.Locks == nil {
		return nil, fmt.Errorf("reaper: shared lock set is required")
	}
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Minute
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Reaper{
		db:        opts.DB,
		root:      opts.Root,
		locks:     opts.Locks,
		retention: opts.Retention,
		interval:  opts.Interval,
		out:       opts.Out,
	}, nil
}

// Start runs one sweep immediately, then sweeps on the configured
// interval until ctx is cancelled. It returns after the scheduler has
// stopped.
func (r *Reaper) Start(ctx context.Context) error {
	r.Sweep()

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", r.interval), r.Sweep); err != nil {
		return fmt.Errorf("reaper: schedule sweep: %w", err)
	}
	c.Start()
	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	return nil
}

// Sweep performs one full pass: stale chunk sessions, then stray files
// and empty directories under the builds tree. Errors are reported to
// out; a failing entry never aborts the rest of the pass.
func (r *Reaper) Sweep() {
	now := time.Now()
	if n := r.sweepSessions(now); n > 0 {
		fmt.Fprintf(r.out, "reaper: removed %d stale upload sessions\n", n)
	}
	if n := r.sweepBuildsTree(); n > 0 {
		fmt.Fprintf(r.out, "reaper: removed %d stray entries from builds tree\n", n)
	}
}

// sweepSessions deletes chunk session directories whose last activity,
// read from the directory mtime, is older than the retention window.
func (r *Reaper) sweepSessions(now time.Time) int {
	entries, err := os.ReadDir(r.root.ChunkDir())
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(r.out, "reaper: read chunk dir: %v\n", err)
		}
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < r.retention {
			continue
		}

		// An in-flight request holding the session lock wins: skip the
		// session this pass rather than waiting on it.
		unlock, ok := r.locks.TryLock("upload/" + entry.Name())
		if !ok {
			continue
		}
		dir := filepath.Join(r.root.ChunkDir(), entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			fmt.Fprintf(r.out, "reaper: remove session %s: %v\n", entry.Name(), err)
		} else {
			fmt.Fprintf(r.out, "reaper: removed stale session %s (idle %s)\n",
				entry.Name(), now.Sub(info.ModTime()).Round(time.Minute))
			removed++
		}
		unlock()
	}
	return removed
}

// sweepBuildsTree removes chunk fragments left by interrupted runs and
// prunes empty directories, walking the category/project/build layout.
// Build directories holding a marker that matches a live build record
// are skipped whole.
func (r *Reaper) sweepBuildsTree() int {
	buildsDir := r.root.BuildsDir()
	removed := 0

	for _, category := range subdirs(buildsDir) {
		categoryDir := filepath.Join(buildsDir, category)
		removed += r.removeStrays(categoryDir, false)

		for _, proj := range subdirs(categoryDir) {
			projectDir := filepath.Join(categoryDir, proj)
			removed += r.removeStrays(projectDir, false)

			for _, build := range subdirs(projectDir) {
				buildDir := filepath.Join(projectDir, build)
				committed, err := r.isCommitted(buildDir)
				if err != nil {
					fmt.Fprintf(r.out, "reaper: check marker in %s: %v\n", buildDir, err)
					continue
				}
				if committed {
					continue
				}

				// Same key the extractor holds during ExtractBuild; a
				// busy build is skipped this pass.
				unlock, ok := r.locks.TryLock("build/" + category + "/" + proj + "/" + build)
				if !ok {
					continue
				}
				removed += r.removeStrays(buildDir, true)
				removed += pruneEmpty(buildDir)
				unlock()
			}
			removed += removeIfEmpty(projectDir)
		}
		removed += removeIfEmpty(categoryDir)
	}
	return removed
}

// removeStrays deletes orphaned upload fragments directly under dir, or
// in the whole subtree when recurse is set.
func (r *Reaper) removeStrays(dir string, recurse bool) int {
	removed := 0
	if recurse {
		filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if isStray(d.Name()) {
				if err := os.Remove(path); err != nil {
					fmt.Fprintf(r.out, "reaper: remove stray %s: %v\n", path, err)
				} else {
					removed++
				}
			}
			return nil
		})
		return removed
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	for _, entry := range entries {
		if entry.IsDir() || !isStray(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			fmt.Fprintf(r.out, "reaper: remove stray %s: %v\n", path, err)
		} else {
			removed++
		}
	}
	return removed
}

// pruneEmpty removes every empty directory in the subtree rooted at dir,
// dir included, deepest first.
func pruneEmpty(dir string) int {
	var dirs []string
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })

	removed := 0
	for _, d := range dirs {
		entries, err := os.ReadDir(d)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(d); err == nil {
			removed++
		}
	}
	return removed
}

// removeIfEmpty deletes dir only when it holds nothing, without looking
// inside its children.
func removeIfEmpty(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return 0
	}
	if err := os.Remove(dir); err != nil {
		return 0
	}
	return 1
}

// subdirs lists the names of dir's immediate subdirectories.
func subdirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out
}

// isCommitted reports whether dir carries a marker naming a build that
// still exists in the database.
func (r *Reaper) isCommitted(dir string) (bool, error) {
	marker, ok, err := archive.ReadMarker(dir)
	if err != nil || !ok {
		return false, err
	}
	// The persisted executable path starts with the marker's directory
	// identity, so a prefix match pins the exact build record.
	prefix := strings.Join([]string{storage.BuildsDirName, marker.Category, marker.Project, marker.Build}, "/") + "/"
	var count int64
	err = r.db.Model(&models.Build{}).
		Where("executable_path LIKE ?", prefix+"%").
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("reaper: query builds by path: %w", err)
	}
	return count > 0, nil
}

// isStray reports whether a file name is an orphaned upload fragment.
func isStray(name string) bool {
	return strings.HasPrefix(name, "chunk_") ||
		strings.HasSuffix(name, ".part") ||
		strings.HasSuffix(name, ".assembling")
}

// AfterProjectCreate is the post-creation hook: it runs a sweep in the
// background so sessions consumed by the new project vanish promptly.
func (r *Reaper) AfterProjectCreate() {
	go r.Sweep()
}
