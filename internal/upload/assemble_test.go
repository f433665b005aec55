package upload

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestAssemble_MissingChunkIsFatal(t *testing.T) {
	s := newTestStore(t)
	id := "gap"
	sendChunk(t, s, id, 0, 3, []byte("a"))
	sendChunk(t, s, id, 2, 3, []byte("c"))

	_, err := s.Assemble(id, "demo.zip", 3)
	if !errors.Is(err, ErrMissingChunk) {
		t.Fatalf("error = %v, want ErrMissingChunk", err)
	}

	// Session must be left for inspection: chunk 0 was consumed before
	// the gap was hit, but the directory and later chunks survive.
	dir := s.SessionDir(id)
	if _, statErr := os.Stat(dir); statErr != nil {
		t.Errorf("session dir removed on integrity error: %v", statErr)
	}
	if _, statErr := os.Stat(filepath.Join(dir, chunkName(2))); statErr != nil {
		t.Errorf("chunk beyond the gap removed: %v", statErr)
	}
	// No partial output may be left behind.
	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		t.Fatal(readErr)
	}
	for _, e := range entries {
		if e.Name() == "demo.zip" || filepath.Ext(e.Name()) == ".assembling" {
			t.Errorf("partial output %s left behind", e.Name())
		}
	}
}

func TestAssemble_FailureReleasesCompletionClaim(t *testing.T) {
	s := newTestStore(t)
	id := "retry"
	sendChunk(t, s, id, 0, 2, []byte("aa"))
	if r := sendChunk(t, s, id, 1, 2, []byte("bb")); !r.Complete {
		t.Fatal("expected completion after the second chunk")
	}

	// Lose a chunk between completion and assembly so the attempt fails.
	if err := os.Remove(filepath.Join(s.SessionDir(id), chunkName(1))); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Assemble(id, "demo.zip", 2); !errors.Is(err, ErrMissingChunk) {
		t.Fatalf("error = %v, want ErrMissingChunk", err)
	}

	// The failed attempt consumed chunk 0 and must give up its
	// completion claim, so a full retransmit can win it again.
	sendChunk(t, s, id, 0, 2, []byte("aa"))
	r := sendChunk(t, s, id, 1, 2, []byte("bb"))
	if !r.Complete {
		t.Fatal("retransmit after failed assembly never re-signaled completion")
	}

	path, err := s.Assemble(id, "demo.zip", 2)
	if err != nil {
		t.Fatalf("Assemble after retransmit: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("aabb")) {
		t.Errorf("assembled = %q, want %q", got, "aabb")
	}
}

func TestAssemble_DeletesConsumedChunks(t *testing.T) {
	s := newTestStore(t)
	id := "consume"
	sendChunk(t, s, id, 0, 2, []byte("aa"))
	sendChunk(t, s, id, 1, 2, []byte("bb"))

	if _, err := s.Assemble(id, "out.bin", 2); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(s.SessionDir(id))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if chunkNamePattern.MatchString(e.Name()) {
			t.Errorf("chunk file %s survived assembly", e.Name())
		}
	}
}

func TestAssemble_UnknownSession(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Assemble("missing", "x.bin", 1); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("error = %v, want ErrSessionNotFound", err)
	}
}

func TestAssemble_SecondCallReturnsExisting(t *testing.T) {
	s := newTestStore(t)
	id := "twice"
	sendChunk(t, s, id, 0, 1, []byte("payload"))

	first, err := s.Assemble(id, "out.bin", 1)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Assemble(id, "out.bin", 1)
	if err != nil {
		t.Fatalf("second Assemble: %v", err)
	}
	if first != second {
		t.Errorf("paths differ: %s vs %s", first, second)
	}
	got, err := os.ReadFile(second)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("payload")) {
		t.Errorf("content = %q, want %q", got, "payload")
	}
}

func TestAssemble_ConcurrentCallers_OneArtifact(t *testing.T) {
	s := newTestStore(t)
	id := "parallel"
	for i := 0; i < 4; i++ {
		sendChunk(t, s, id, i, 4, bytes.Repeat([]byte{byte('a' + i)}, 128))
	}

	var wg sync.WaitGroup
	paths := make(chan string, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			path, err := s.Assemble(id, "demo.zip", 4)
			if err != nil {
				t.Errorf("Assemble: %v", err)
				return
			}
			paths <- path
		}()
	}
	wg.Wait()
	close(paths)

	var want []byte
	for i := 0; i < 4; i++ {
		want = append(want, bytes.Repeat([]byte{byte('a' + i)}, 128)...)
	}
	for path := range paths {
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("artifact corrupted by concurrent assembly")
		}
	}
}

func TestAssemble_SanitizesOutputName(t *testing.T) {
	s := newTestStore(t)
	id := "sanitize"
	sendChunk(t, s, id, 0, 1, []byte("x"))

	path, err := s.Assemble(id, "../../escape.bin", 1)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(path) != s.SessionDir(id) {
		t.Errorf("artifact escaped session dir: %s", path)
	}
	if filepath.Base(path) != "escape.bin" {
		t.Errorf("artifact name = %s, want escape.bin", filepath.Base(path))
	}
}
