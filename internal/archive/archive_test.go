package archive

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/storage"
)

// writeZip creates a zip file at path with the given name->content entries.
func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	for name, content := range entries {
		entry, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := entry.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func newTestExtractor(t *testing.T) (*Extractor, storage.Root) {
	t.Helper()
	root := storage.Root{Dir: t.TempDir()}
	if err := root.EnsureLayout(); err != nil {
		t.Fatal(err)
	}
	return NewExtractor(Options{Root: root}), root
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Tank Simulator", "Tank_Simulator"},
		{"  padded  name  ", "padded_name"},
		{"tabs\tand\nnewlines", "tabs_and_newlines"},
		{"already_safe", "already_safe"},
		{"slash/attack", "slash_attack"},
		{`back\slash`, "back_slash"},
		{"dot..dot", "dot_dot"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Slug(tt.in); got != tt.want {
				t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractBuild_HappyPath(t *testing.T) {
	e, root := newTestExtractor(t)
	archivePath := filepath.Join(t.TempDir(), "build.zip")
	writeZip(t, archivePath, map[string]string{
		"readme.txt":           "docs",
		"Game/Data/level.dat":  "data",
		"Game/TankSim.exe":     "binary",
		"Game/Mono/helper.dll": "lib",
	})

	artifact, err := e.ExtractBuild(context.Background(), archivePath, "simulators", "Tank Sim", BuildConfig{Name: "Main Build"})
	if err != nil {
		t.Fatalf("ExtractBuild: %v", err)
	}

	wantDir := filepath.Join(root.BuildsDir(), "simulators", "Tank_Sim", "Main_Build")
	if artifact.Dir != wantDir {
		t.Errorf("Dir = %s, want %s", artifact.Dir, wantDir)
	}
	if !strings.HasSuffix(artifact.ExecutableRelativePath, "TankSim.exe") {
		t.Errorf("ExecutableRelativePath = %s, want a TankSim.exe path", artifact.ExecutableRelativePath)
	}
	// The relative path is anchored at the storage root.
	abs := filepath.Join(root.Dir, filepath.FromSlash(artifact.ExecutableRelativePath))
	if _, err := os.Stat(abs); err != nil {
		t.Errorf("executable not at root-anchored path: %v", err)
	}

	marker, ok, err := ReadMarker(artifact.Dir)
	if err != nil || !ok {
		t.Fatalf("marker missing: ok=%v err=%v", ok, err)
	}
	if marker.Executable != artifact.ExecutableRelativePath {
		t.Errorf("marker executable = %s, want %s", marker.Executable, artifact.ExecutableRelativePath)
	}
	if marker.Category != "simulators" || marker.Project != "Tank_Sim" || marker.Build != "Main_Build" {
		t.Errorf("marker identity = %+v", marker)
	}
}

func TestExtractBuild_IdempotentOverwrite(t *testing.T) {
	e, _ := newTestExtractor(t)
	dir := t.TempDir()

	first := filepath.Join(dir, "v1.zip")
	writeZip(t, first, map[string]string{
		"app.exe":   "v1",
		"stale.txt": "leftover",
	})
	second := filepath.Join(dir, "v2.zip")
	writeZip(t, second, map[string]string{
		"app.exe": "v2",
	})

	if _, err := e.ExtractBuild(context.Background(), first, "vehicles", "Jeep", BuildConfig{Name: "main"}); err != nil {
		t.Fatal(err)
	}
	artifact, err := e.ExtractBuild(context.Background(), second, "vehicles", "Jeep", BuildConfig{Name: "main"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(artifact.Dir, "stale.txt")); !os.IsNotExist(err) {
		t.Error("stale file from first extraction survived re-extraction")
	}
	content, err := os.ReadFile(filepath.Join(artifact.Dir, "app.exe"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "v2" {
		t.Errorf("app.exe = %q, want %q", content, "v2")
	}
}

func TestExtractBuild_NoExecutable_LeavesTree(t *testing.T) {
	e, _ := newTestExtractor(t)
	archivePath := filepath.Join(t.TempDir(), "webgl.zip")
	writeZip(t, archivePath, map[string]string{
		"index.html":    "<html>",
		"Build/app.wasm": "bytes",
	})

	_, err := e.ExtractBuild(context.Background(), archivePath, "weapons", "Cannon", BuildConfig{Name: "web"})
	if !errors.Is(err, ErrNoExecutable) {
		t.Fatalf("error = %v, want ErrNoExecutable", err)
	}

	// Partially extracted tree stays on disk for inspection.
	dir := e.BuildDir("weapons", "Cannon", "web")
	if _, statErr := os.Stat(filepath.Join(dir, "index.html")); statErr != nil {
		t.Errorf("extracted tree removed after ErrNoExecutable: %v", statErr)
	}
}

func TestExtractBuild_CorruptArchive(t *testing.T) {
	e, _ := newTestExtractor(t)
	archivePath := filepath.Join(t.TempDir(), "corrupt.zip")
	if err := os.WriteFile(archivePath, []byte("this is not a zip"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := e.ExtractBuild(context.Background(), archivePath, "vehicles", "Truck", BuildConfig{Name: "main"})
	if err == nil {
		t.Fatal("expected error for corrupt archive")
	}
	if errors.Is(err, ErrNoExecutable) {
		t.Error("format error must be distinct from ErrNoExecutable")
	}
}

func TestExtractBuild_RejectsZipSlip(t *testing.T) {
	e, root := newTestExtractor(t)
	archivePath := filepath.Join(t.TempDir(), "slip.zip")
	writeZip(t, archivePath, map[string]string{
		"../../escape.exe": "evil",
	})

	_, err := e.ExtractBuild(context.Background(), archivePath, "vehicles", "Evil", BuildConfig{Name: "main"})
	if err == nil {
		t.Fatal("expected error for path traversal entry")
	}
	if _, statErr := os.Stat(filepath.Join(root.Dir, "..", "escape.exe")); !os.IsNotExist(statErr) {
		t.Error("traversal entry escaped the extraction dir")
	}
}

func TestExtractBuild_Cancelled(t *testing.T) {
	e, _ := newTestExtractor(t)
	archivePath := filepath.Join(t.TempDir(), "build.zip")
	writeZip(t, archivePath, map[string]string{"app.exe": "x"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.ExtractBuild(ctx, archivePath, "vehicles", "Slow", BuildConfig{Name: "main"}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestFindExecutable_Deterministic(t *testing.T) {
	dir := t.TempDir()
	// Two executables in different subtrees; sorted DFS must always pick
	// the same one.
	mustWrite := func(rel, content string) {
		t.Helper()
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite("zz/later.exe", "b")
	mustWrite("aa/bb/first.exe", "a")
	mustWrite("aa/readme.txt", "doc")

	want := filepath.Join("aa", "bb", "first.exe")
	for i := 0; i < 5; i++ {
		got, err := FindExecutable(dir, ".exe")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("run %d: FindExecutable = %s, want %s", i, got, want)
		}
	}
}

func TestFindExecutable_CaseInsensitiveExt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "App.EXE"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := FindExecutable(dir, ".exe")
	if err != nil {
		t.Fatal(err)
	}
	if got != "App.EXE" {
		t.Errorf("FindExecutable = %s, want App.EXE", got)
	}
}

func TestMarker_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := Marker{Category: "vehicles", Project: "Jeep", Build: "main", Executable: "builds/vehicles/Jeep/main/app.exe"}
	if err := WriteMarker(dir, in); err != nil {
		t.Fatal(err)
	}
	out, ok, err := ReadMarker(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("marker should exist")
	}
	if out.Executable != in.Executable || out.Category != in.Category {
		t.Errorf("marker = %+v, want %+v", out, in)
	}
	if out.ExtractedAt.IsZero() {
		t.Error("ExtractedAt should be stamped on write")
	}

	_, ok, err = ReadMarker(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("empty dir should report no marker")
	}
}
