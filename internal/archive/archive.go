// Package archive unpacks build archives into the committed builds tree
// and locates the runnable executable inside the extracted tree.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/storage"
)

// ErrNoExecutable reports an archive whose tree contains no file with
// the configured executable extension. The extracted tree is left in
// place for inspection.
var ErrNoExecutable = errors.New("archive: no executable found in build")

var whitespaceRun = regexp.MustCompile(`\s+`)

// Slug makes a name filesystem-safe: whitespace runs collapse to a
// single underscore and path separators are stripped.
func Slug(name string) string {
	s := whitespaceRun.ReplaceAllString(strings.TrimSpace(name), "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, `\`, "_")
	s = strings.ReplaceAll(s, "..", "_")
	return s
}

// BuildConfig carries the metadata for one build being extracted.
type BuildConfig struct {
	Name        string
	Description string
	Version     string
	IsMain      bool
}

// BuildArtifact is the result of extracting one archive.
type BuildArtifact struct {
	Category    string
	ProjectName string
	BuildName   string
	Dir         string // absolute extracted build directory
	// ExecutableRelativePath is relative to the storage root, in slash
	// form. This is the single path convention used end to end.
	ExecutableRelativePath string
}

// Extractor unpacks zip archives into the builds tree.
type Extractor struct {
	root    storage.Root
	locks   *storage.KeyedMutex
	execExt string
	out     io.Writer
}

// Options holds parameters for NewExtractor.
type Options struct {
	Root          storage.Root
	Locks         *storage.KeyedMutex
	ExecutableExt string    // defaults to ".exe"
	Out           io.Writer // progress output; nil discards
}

// NewExtractor returns an Extractor over the given root.
func NewExtractor(opts Options) *Extractor {
	if opts.Locks == nil {
		opts.Locks = storage.NewKeyedMutex()
	}
	if opts.ExecutableExt == "" {
		opts.ExecutableExt = ".exe"
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Extractor{
		root:    opts.Root,
		locks:   opts.Locks,
		execExt: opts.ExecutableExt,
		out:     opts.Out,
	}
}

// BuildDir returns the deterministic directory for a build identity.
func (e *Extractor) BuildDir(category, projectName, buildName string) string {
	return filepath.Join(e.root.BuildsDir(), category, Slug(projectName), Slug(buildName))
}

// LockKey returns the exclusion key for a build identity, shared with
// the reaper.
func (e *Extractor) LockKey(category, projectName, buildName string) string {
	return "build/" + category + "/" + Slug(projectName) + "/" + Slug(buildName)
}

// ExtractBuild unpacks the archive at archivePath into the build's
// directory, removing any pre-existing subtree first, then searches the
// result for the platform executable and writes the build marker.
//
// Extraction for the same (category, project, build) identity is
// serialized. On a format error or a missing executable the partially
// extracted tree is left on disk.
func (e *Extractor) ExtractBuild(ctx context.Context, archivePath, category, projectName string, cfg BuildConfig) (BuildArtifact, error) {
	unlock := e.locks.Lock(e.LockKey(category, projectName, cfg.Name))
	defer unlock()

	target := e.BuildDir(category, projectName, cfg.Name)

	// Re-creating a build with the same identity overwrites the prior
	// subtree, never merges with it.
	if err := os.RemoveAll(target); err != nil {
		return BuildArtifact{}, fmt.Errorf("archive: clear %s: %w", target, err)
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		return BuildArtifact{}, fmt.Errorf("archive: create %s: %w", target, err)
	}

	if err := e.extractZip(ctx, archivePath, target); err != nil {
		return BuildArtifact{}, err
	}

	execRel, err := FindExecutable(target, e.execExt)
	if err != nil {
		return BuildArtifact{}, err
	}

	rootRel, err := filepath.Rel(e.root.Dir, filepath.Join(target, execRel))
	if err != nil {
		return BuildArtifact{}, fmt.Errorf("archive: relativize executable: %w", err)
	}

	artifact := BuildArtifact{
		Category:               category,
		ProjectName:            projectName,
		BuildName:              cfg.Name,
		Dir:                    target,
		ExecutableRelativePath: filepath.ToSlash(rootRel),
	}
	if err := WriteMarker(target, Marker{
		Category:   category,
		Project:    Slug(projectName),
		Build:      Slug(cfg.Name),
		Executable: artifact.ExecutableRelativePath,
	}); err != nil {
		return BuildArtifact{}, err
	}

	fmt.Fprintf(e.out, "archive: extracted %s -> %s (executable %s)\n", archivePath, target, artifact.ExecutableRelativePath)
	return artifact, nil
}

// extractZip streams every archive entry into target, refusing entries
// that would escape it.
func (e *Extractor) extractZip(ctx context.Context, archivePath, target string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", archivePath, err)
	}
	defer reader.Close()

	for _, entry := range reader.File {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("archive: extraction cancelled: %w", err)
		}
		if err := e.extractEntry(entry, target); err != nil {
			return err
		}
	}
	return nil
}

func (e *Extractor) extractEntry(entry *zip.File, target string) error {
	dest, err := securePath(target, entry.Name)
	if err != nil {
		return err
	}

	if entry.FileInfo().IsDir() {
		if err := os.MkdirAll(dest, 0755); err != nil {
			return fmt.Errorf("archive: create dir %s: %w", entry.Name, err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("archive: create parent for %s: %w", entry.Name, err)
	}

	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("archive: read entry %s: %w", entry.Name, err)
	}
	defer src.Close()

	mode := entry.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	dst, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("archive: create %s: %w", entry.Name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("archive: extract %s: %w", entry.Name, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("archive: close %s: %w", entry.Name, err)
	}
	return nil
}

// securePath joins an archive entry name onto target, rejecting paths
// that would land outside it.
func securePath(target, name string) (string, error) {
	dest := filepath.Join(target, filepath.FromSlash(name))
	if dest != target && !strings.HasPrefix(dest, target+string(filepath.Separator)) {
		return "", fmt.Errorf("archive: entry %q escapes extraction dir", name)
	}
	return dest, nil
}
