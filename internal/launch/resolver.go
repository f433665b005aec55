// Package launch resolves a build's executable on disk, repairing stale
// persisted paths, and spawns the resolved binary.
package launch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/archive"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/models"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/storage"
	"gorm.io/gorm"
)

// Sentinel errors surfaced by the resolver.
var (
	// ErrBuildNotFound reports an explicit build id that does not exist
	// on the project.
	ErrBuildNotFound = errors.New("launch: build not found")

	// ErrNoMainBuild reports a project with no main build when no
	// explicit build id was given.
	ErrNoMainBuild = errors.New("launch: no main build configured")

	// ErrArtifactMissing reports that the build's extracted tree (or any
	// executable inside it) no longer exists on disk, typically because
	// temporary storage was reaped or extraction never completed.
	ErrArtifactMissing = errors.New("launch: build artifact missing")
)

// Resolver reconstructs absolute executable paths for builds.
type Resolver struct {
	db      *gorm.DB
	root    storage.Root
	execExt string
	out     io.Writer
}

// ResolverOpts holds parameters for NewResolver.
type ResolverOpts struct {
	DB            *gorm.DB
	Root          storage.Root
	ExecutableExt string    // defaults to ".exe"
	Out           io.Writer // progress output; nil discards
}

// NewResolver returns a Resolver.
func NewResolver(opts ResolverOpts) (*Resolver, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("launch: db is required")
	}
	if opts.ExecutableExt == "" {
		opts.ExecutableExt = ".exe"
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Resolver{
		db:      opts.DB,
		root:    opts.Root,
		execExt: opts.ExecutableExt,
		out:     opts.Out,
	}, nil
}

// SelectBuild picks the build to launch: the one matching buildID when
// given, otherwise the project's main build. Should more than one build
// ever be flagged main, the earliest created wins deterministically.
func SelectBuild(project *models.Project, buildID string) (*models.Build, error) {
	if buildID != "" {
		for i := range project.Builds {
			if project.Builds[i].ID == buildID {
				return &project.Builds[i], nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrBuildNotFound, buildID)
	}

	var mains []*models.Build
	for i := range project.Builds {
		if project.Builds[i].IsMain {
			mains = append(mains, &project.Builds[i])
		}
	}
	if len(mains) == 0 {
		return nil, fmt.Errorf("%w (project %s)", ErrNoMainBuild, project.ID)
	}
	sort.Slice(mains, func(i, j int) bool {
		if !mains[i].CreatedAt.Equal(mains[j].CreatedAt) {
			return mains[i].CreatedAt.Before(mains[j].CreatedAt)
		}
		return mains[i].ID < mains[j].ID
	})
	return mains[0], nil
}

// Resolve returns the verified absolute path of the build's executable.
// When the persisted path is stale it searches the build's directory,
// persists the corrected root-relative path (drift repair) and returns
// the freshly found location.
func (r *Resolver) Resolve(project *models.Project, buildID string) (string, *models.Build, error) {
	build, err := SelectBuild(project, buildID)
	if err != nil {
		return "", nil, err
	}

	expected := filepath.Join(r.root.Dir, filepath.FromSlash(build.ExecutablePath))
	if fileExists(expected) {
		return expected, build, nil
	}

	fmt.Fprintf(r.out, "launch: executable missing at %s, searching for drift\n", expected)
	buildDir := filepath.Join(r.root.BuildsDir(), build.Category, archive.Slug(project.Name), archive.Slug(build.Name))
	if !archive.DirExists(buildDir) {
		return "", nil, fmt.Errorf("%w: directory %s does not exist", ErrArtifactMissing, buildDir)
	}

	rel, err := archive.FindExecutable(buildDir, r.execExt)
	if err != nil {
		if errors.Is(err, archive.ErrNoExecutable) {
			return "", nil, fmt.Errorf("%w: no executable under %s", ErrArtifactMissing, buildDir)
		}
		return "", nil, err
	}

	found := filepath.Join(buildDir, rel)
	rootRel, err := filepath.Rel(r.root.Dir, found)
	if err != nil {
		return "", nil, fmt.Errorf("launch: relativize %s: %w", found, err)
	}

	if err := r.repair(build, filepath.ToSlash(rootRel), buildDir); err != nil {
		return "", nil, err
	}
	return found, build, nil
}

// repair persists a corrected executable path onto the build record and
// refreshes the directory marker so later lookups skip the search.
func (r *Resolver) repair(build *models.Build, rootRel, buildDir string) error {
	if err := r.db.Model(&models.Build{}).
		Where("id = ?", build.ID).
		Update("executable_path", rootRel).Error; err != nil {
		return fmt.Errorf("launch: persist repaired path for build %s: %w", build.ID, err)
	}
	build.ExecutablePath = rootRel

	if marker, ok, err := archive.ReadMarker(buildDir); err == nil && ok {
		marker.Executable = rootRel
		if err := archive.WriteMarker(buildDir, marker); err != nil {
			fmt.Fprintf(r.out, "launch: refresh marker: %v\n", err)
		}
	}
	fmt.Fprintf(r.out, "launch: repaired executable path for build %s -> %s\n", build.ID, rootRel)
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
