// Package storage selects and prepares the base directory that holds
// chunk staging, extracted builds and stored model objects.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultDirName is the directory created on the selected volume.
const DefaultDirName = "model_builds"

// Subtree names under the root. Chunk staging and committed builds are
// kept in separate subtrees so the reaper can never touch a live build.
const (
	ChunkDirName   = "chunk_temp"
	BuildsDirName  = "builds"
	ObjectsDirName = "objects"
)

// Root is the resolved storage base. It is established once at startup
// and passed explicitly to every component that needs it.
type Root struct {
	Dir     string // absolute base directory
	Warning string // non-empty when no candidate met the free-space minimum
}

// ChunkDir returns the staging directory for chunked upload sessions.
func (r Root) ChunkDir() string { return filepath.Join(r.Dir, ChunkDirName) }

// BuildsDir returns the committed-builds directory.
func (r Root) BuildsDir() string { return filepath.Join(r.Dir, BuildsDirName) }

// ObjectsDir returns the model object-store directory.
func (r Root) ObjectsDir() string { return filepath.Join(r.Dir, ObjectsDirName) }

// EnsureLayout creates the root's subtrees.
func (r Root) EnsureLayout() error {
	for _, dir := range []string{r.ChunkDir(), r.BuildsDir(), r.ObjectsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("storage: create %s: %w", dir, err)
		}
	}
	return nil
}

// SelectOpts holds parameters for SelectRoot.
type SelectOpts struct {
	MinimumFreeGB int
	DirName       string    // defaults to DefaultDirName
	Fallback      string    // used when no candidate root is writable
	Out           io.Writer // progress output; nil discards
}

// SelectRoot inspects candidate volumes, picks the one with the most free
// space, and guarantees a writable root directory on it. It never fails:
// when nothing suitable is writable it falls back to opts.Fallback.
func SelectRoot(opts SelectOpts) Root {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	dirName := opts.DirName
	if dirName == "" {
		dirName = DefaultDirName
	}

	best, warning := bestCandidate(opts.MinimumFreeGB, out)

	root := Root{Dir: filepath.Join(best, dirName), Warning: warning}
	if err := prepare(root.Dir); err != nil {
		fmt.Fprintf(out, "storage: root %s not usable (%v), falling back to %s\n", root.Dir, err, opts.Fallback)
		root.Dir = opts.Fallback
		if err := prepare(root.Dir); err != nil {
			// Last resort: keep the fallback path; callers will surface
			// write errors per-operation.
			fmt.Fprintf(out, "storage: fallback %s not verified: %v\n", root.Dir, err)
		}
	}
	fmt.Fprintf(out, "storage: using root %s\n", root.Dir)
	return root
}

// bestCandidate returns the candidate volume with the most free space.
// Candidates that fail the free-space query are skipped. When none meets
// the minimum, the largest is still returned along with a warning.
func bestCandidate(minimumFreeGB int, out io.Writer) (dir string, warning string) {
	minimum := int64(minimumFreeGB) * (1 << 30)

	type stat struct {
		dir  string
		free int64
	}
	var stats []stat
	for _, cand := range candidates() {
		free, err := freeSpace(cand)
		if err != nil {
			fmt.Fprintf(out, "storage: cannot probe %s: %v\n", cand, err)
			continue
		}
		fmt.Fprintf(out, "storage: %s has %.2fGB free\n", cand, float64(free)/(1<<30))
		stats = append(stats, stat{dir: cand, free: free})
	}
	if len(stats) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			cwd = "."
		}
		return cwd, "no volume could be probed for free space"
	}

	bestIdx, qualifiedIdx := 0, -1
	for i, s := range stats {
		if s.free > stats[bestIdx].free {
			bestIdx = i
		}
		if s.free >= minimum && (qualifiedIdx < 0 || s.free > stats[qualifiedIdx].free) {
			qualifiedIdx = i
		}
	}
	if qualifiedIdx >= 0 {
		return stats[qualifiedIdx].dir, ""
	}
	chosen := stats[bestIdx]
	return chosen.dir, fmt.Sprintf("no volume has %dGB free; using %s with %.2fGB",
		minimumFreeGB, chosen.dir, float64(chosen.free)/(1<<30))
}

// prepare creates dir and verifies write permission with a scoped
// create-write-delete probe.
func prepare(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("storage: create %s: %w", dir, err)
	}
	return writeProbe(dir)
}

// writeProbe verifies dir is writable. It is a liveness check only and
// never a substitute for the free-space query.
func writeProbe(dir string) error {
	f, err := os.CreateTemp(dir, "write_probe_*.tmp")
	if err != nil {
		return fmt.Errorf("storage: probe %s: %w", dir, err)
	}
	name := f.Name()
	_, writeErr := f.Write([]byte("probe"))
	closeErr := f.Close()
	removeErr := os.Remove(name)
	if writeErr != nil {
		return fmt.Errorf("storage: probe write %s: %w", dir, writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("storage: probe close %s: %w", dir, closeErr)
	}
	if removeErr != nil {
		return fmt.Errorf("storage: probe remove %s: %w", dir, removeErr)
	}
	return nil
}
