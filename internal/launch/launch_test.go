package launch

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/archive"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/models"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/storage"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Project{}, &models.Build{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testRoot(t *testing.T) storage.Root {
	t.Helper()
	root := storage.Root{Dir: t.TempDir()}
	if err := root.EnsureLayout(); err != nil {
		t.Fatalf("ensure layout: %v", err)
	}
	return root
}

// seedBuild writes an executable under the build's directory and a project
// plus build row pointing at it.
func seedBuild(t *testing.T, db *gorm.DB, root storage.Root, isMain bool) (*models.Project, *models.Build, string) {
	t.Helper()
	project := &models.Project{ID: "p1", Name: "Tank Trainer", Category: models.CategoryVehicles}
	buildDir := filepath.Join(root.BuildsDir(), project.Category, archive.Slug(project.Name), "alpha")
	execAbs := filepath.Join(buildDir, "bin", "trainer.exe")
	if err := os.MkdirAll(filepath.Dir(execAbs), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(execAbs, []byte("MZ"), 0o755); err != nil {
		t.Fatalf("write exe: %v", err)
	}
	rel, err := filepath.Rel(root.Dir, execAbs)
	if err != nil {
		t.Fatalf("rel: %v", err)
	}
	build := &models.Build{
		ID:             "b1",
		ProjectID:      project.ID,
		Name:           "alpha",
		ExecutablePath: filepath.ToSlash(rel),
		IsMain:         isMain,
		Category:       project.Category,
	}
	project.Builds = []models.Build{*build}
	if err := db.Create(project).Error; err != nil {
		t.Fatalf("create project: %v", err)
	}
	return project, build, execAbs
}

func newTestResolver(t *testing.T, db *gorm.DB, root storage.Root) *Resolver {
	t.Helper()
	r, err := NewResolver(ResolverOpts{DB: db, Root: root, ExecutableExt: ".exe", Out: io.Discard})
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return r
}

func TestResolveHappyPath(t *testing.T) {
	db := testDB(t)
	root := testRoot(t)
	project, _, execAbs := seedBuild(t, db, root, true)

	r := newTestResolver(t, db, root)
	path, build, err := r.Resolve(project, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if path != execAbs {
		t.Errorf("path = %q, want %q", path, execAbs)
	}
	if build.ID != "b1" {
		t.Errorf("build = %s, want b1", build.ID)
	}
}

func TestResolveExplicitBuildID(t *testing.T) {
	db := testDB(t)
	root := testRoot(t)
	project, _, _ := seedBuild(t, db, root, false)

	r := newTestResolver(t, db, root)
	if _, _, err := r.Resolve(project, "b1"); err != nil {
		t.Fatalf("resolve by id: %v", err)
	}
	if _, _, err := r.Resolve(project, "nope"); !errors.Is(err, ErrBuildNotFound) {
		t.Errorf("unknown id err = %v, want ErrBuildNotFound", err)
	}
}

func TestResolveNoMainBuild(t *testing.T) {
	db := testDB(t)
	root := testRoot(t)
	project, _, _ := seedBuild(t, db, root, false)

	r := newTestResolver(t, db, root)
	if _, _, err := r.Resolve(project, ""); !errors.Is(err, ErrNoMainBuild) {
		t.Errorf("err = %v, want ErrNoMainBuild", err)
	}
}

func TestSelectBuildMultipleMainsDeterministic(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	project := &models.Project{ID: "p1", Builds: []models.Build{
		{ID: "b-new", IsMain: true, CreatedAt: base.Add(time.Hour)},
		{ID: "b-old", IsMain: true, CreatedAt: base},
		{ID: "b-off", IsMain: false, CreatedAt: base.Add(-time.Hour)},
	}}
	for i := 0; i < 5; i++ {
		build, err := SelectBuild(project, "")
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if build.ID != "b-old" {
			t.Fatalf("run %d picked %s, want b-old (earliest main)", i, build.ID)
		}
	}
}

// A stale persisted path is repaired by searching the build's directory,
// and the corrected root-relative path is persisted so the next resolution
// hits it directly.
func TestResolveDriftRepair(t *testing.T) {
	db := testDB(t)
	root := testRoot(t)
	project, build, execAbs := seedBuild(t, db, root, true)

	// Write a marker the repair should refresh.
	buildDir := filepath.Dir(filepath.Dir(execAbs))
	if err := archive.WriteMarker(buildDir, archive.Marker{
		Category: project.Category, Project: archive.Slug(project.Name),
		Build: "alpha", Executable: build.ExecutablePath,
	}); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	// Simulate drift: the binary moved one level up inside the build dir.
	moved := filepath.Join(buildDir, "trainer.exe")
	if err := os.Rename(execAbs, moved); err != nil {
		t.Fatalf("rename: %v", err)
	}

	r := newTestResolver(t, db, root)
	path, _, err := r.Resolve(project, "")
	if err != nil {
		t.Fatalf("resolve after drift: %v", err)
	}
	if path != moved {
		t.Errorf("path = %q, want %q", path, moved)
	}

	var stored models.Build
	if err := db.First(&stored, "id = ?", "b1").Error; err != nil {
		t.Fatalf("reload build: %v", err)
	}
	wantRel, _ := filepath.Rel(root.Dir, moved)
	if stored.ExecutablePath != filepath.ToSlash(wantRel) {
		t.Errorf("persisted path = %q, want %q", stored.ExecutablePath, filepath.ToSlash(wantRel))
	}
	if strings.Contains(stored.ExecutablePath, "\\") {
		t.Errorf("persisted path %q not in slash form", stored.ExecutablePath)
	}

	marker, ok, err := archive.ReadMarker(buildDir)
	if err != nil || !ok {
		t.Fatalf("read marker: ok=%v err=%v", ok, err)
	}
	if marker.Executable != stored.ExecutablePath {
		t.Errorf("marker executable = %q, want %q", marker.Executable, stored.ExecutablePath)
	}

	// The repaired row must resolve directly without another search.
	reloaded := &models.Project{}
	if err := db.Preload("Builds").First(reloaded, "id = ?", "p1").Error; err != nil {
		t.Fatalf("reload project: %v", err)
	}
	path2, _, err := r.Resolve(reloaded, "")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if path2 != moved {
		t.Errorf("second resolve path = %q, want %q", path2, moved)
	}
}

func TestResolveArtifactMissing(t *testing.T) {
	db := testDB(t)
	root := testRoot(t)
	project, _, execAbs := seedBuild(t, db, root, true)

	t.Run("no executable in tree", func(t *testing.T) {
		if err := os.Remove(execAbs); err != nil {
			t.Fatalf("remove exe: %v", err)
		}
		r := newTestResolver(t, db, root)
		if _, _, err := r.Resolve(project, ""); !errors.Is(err, ErrArtifactMissing) {
			t.Errorf("err = %v, want ErrArtifactMissing", err)
		}
	})

	t.Run("directory gone", func(t *testing.T) {
		buildDir := filepath.Join(root.BuildsDir(), project.Category, archive.Slug(project.Name), "alpha")
		if err := os.RemoveAll(buildDir); err != nil {
			t.Fatalf("remove dir: %v", err)
		}
		r := newTestResolver(t, db, root)
		if _, _, err := r.Resolve(project, ""); !errors.Is(err, ErrArtifactMissing) {
			t.Errorf("err = %v, want ErrArtifactMissing", err)
		}
	})
}

func TestExecLauncher(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script launch target")
	}
	dir := t.TempDir()

	t.Run("clean exit", func(t *testing.T) {
		script := filepath.Join(dir, "ok.sh")
		if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
			t.Fatalf("write script: %v", err)
		}
		l := &ExecLauncher{}
		res := <-l.Launch(context.Background(), script)
		if !res.Success {
			t.Errorf("result = %+v, want success", res)
		}
	})

	t.Run("nonzero exit", func(t *testing.T) {
		script := filepath.Join(dir, "fail.sh")
		if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 3\n"), 0o755); err != nil {
			t.Fatalf("write script: %v", err)
		}
		l := &ExecLauncher{}
		res := <-l.Launch(context.Background(), script)
		if res.Success {
			t.Errorf("result = %+v, want failure", res)
		}
	})

	t.Run("missing binary", func(t *testing.T) {
		l := &ExecLauncher{}
		res := <-l.Launch(context.Background(), filepath.Join(dir, "absent"))
		if res.Success {
			t.Errorf("result = %+v, want failure", res)
		}
	})
}
