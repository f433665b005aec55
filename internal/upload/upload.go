// Package upload receives chunked file transfers into per-session
// staging directories and reassembles completed sessions into single
// artifacts.
//
// A session lives at <root>/chunk_temp/<uploadId>/. Each chunk is a file
// chunk_<index>.part; the assembled artifact keeps the client's original
// filename. Completion is detected solely by comparing the count of
// distinct chunk files against the total announced with each chunk; no
// client "is last" flag is trusted.
package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/storage"
)

const chunkSuffix = ".part"

var chunkNamePattern = regexp.MustCompile(`^chunk_(\d+)\.part$`)

// Store manages chunked upload sessions under a storage root.
type Store struct {
	root     storage.Root
	locks    *storage.KeyedMutex
	maxChunk int64
	out      io.Writer

	mu      sync.Mutex
	claimed map[string]bool // sessions whose completion has been claimed
}

// Options holds parameters for NewStore.
type Options struct {
	Root          storage.Root
	Locks         *storage.KeyedMutex
	MaxChunkBytes int64     // per-chunk ceiling; 0 means 100MB
	Out           io.Writer // progress output; nil discards
}

// NewStore creates the chunk staging directory and returns a Store.
func NewStore(opts Options) (*Store, error) {
	if opts.Locks == nil {
		opts.Locks = storage.NewKeyedMutex()
	}
	if opts.MaxChunkBytes == 0 {
		opts.MaxChunkBytes = 100 << 20
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	s := &Store{
		root:     opts.Root,
		locks:    opts.Locks,
		maxChunk: opts.MaxChunkBytes,
		out:      opts.Out,
		claimed:  make(map[string]bool),
	}
	if err := os.MkdirAll(s.root.ChunkDir(), 0755); err != nil {
		return nil, fmt.Errorf("upload: create chunk dir: %w", err)
	}
	return s, nil
}

// ReceiveOpts holds one incoming chunk.
type ReceiveOpts struct {
	UploadID     string // empty -> generated
	ChunkIndex   int
	TotalChunks  int
	OriginalName string
	Body         io.Reader
}

// Receipt reports the session state after a chunk write.
type Receipt struct {
	UploadID      string
	ReceivedCount int
	// Complete is true for exactly one request per session: the one
	// whose write made the distinct-chunk count reach the total. The
	// winner is expected to call Assemble.
	Complete bool
	// Assembled is true when the session's artifact already exists, so
	// retransmitted chunks after assembly stay idempotent.
	Assembled bool
}

// NewUploadID returns a fresh session identifier.
func NewUploadID() string {
	return uuid.NewString()
}

// ReceiveChunk persists one chunk and reports whether the session became
// complete. Writing the same index twice overwrites idempotently.
func (s *Store) ReceiveChunk(opts ReceiveOpts) (Receipt, error) {
	if opts.ChunkIndex < 0 || opts.TotalChunks <= 0 || opts.ChunkIndex >= opts.TotalChunks {
		return Receipt{}, fmt.Errorf("%w: index %d of %d", ErrBadChunkCount, opts.ChunkIndex, opts.TotalChunks)
	}
	name := filepath.Base(opts.OriginalName)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return Receipt{}, ErrBadName
	}

	id := opts.UploadID
	if id == "" {
		id = NewUploadID()
	} else if err := validateID(id); err != nil {
		return Receipt{}, err
	}

	// Hold the session lock for the whole write so the reaper's TryLock
	// cannot sweep the directory out from under an in-flight chunk.
	unlock := s.locks.Lock(lockKey(id))
	defer unlock()

	dir := s.SessionDir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Receipt{}, fmt.Errorf("upload: create session %s: %w", id, err)
	}

	if err := s.writeChunk(dir, opts.ChunkIndex, opts.Body); err != nil {
		return Receipt{}, err
	}

	// Session age is measured from last activity, so bump the directory
	// mtime on every write. Best effort.
	now := time.Now()
	_ = os.Chtimes(dir, now, now)

	count, err := s.countChunks(dir)
	if err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{UploadID: id, ReceivedCount: count}
	if _, ok := s.assembledPath(id); ok {
		receipt.Assembled = true
		return receipt, nil
	}
	if count == opts.TotalChunks {
		receipt.Complete = s.claimCompletion(id)
	}
	fmt.Fprintf(s.out, "upload: session %s chunk %d/%d (%d received)\n", id, opts.ChunkIndex, opts.TotalChunks, count)
	return receipt, nil
}

// writeChunk copies the body to a temp file and renames it onto the
// final chunk name, so a retried chunk never leaves a torn write.
func (s *Store) writeChunk(dir string, index int, body io.Reader) error {
	tmp, err := os.CreateTemp(dir, "incoming_*.tmp")
	if err != nil {
		return fmt.Errorf("upload: stage chunk %d: %w", index, err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	n, err := io.Copy(tmp, io.LimitReader(body, s.maxChunk+1))
	if err != nil {
		return fmt.Errorf("upload: write chunk %d: %w", index, err)
	}
	if n > s.maxChunk {
		return fmt.Errorf("%w: %d bytes over %d", ErrChunkTooLarge, n, s.maxChunk)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("upload: sync chunk %d: %w", index, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("upload: close chunk %d: %w", index, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, chunkName(index))); err != nil {
		return fmt.Errorf("upload: commit chunk %d: %w", index, err)
	}
	return nil
}

// claimCompletion returns true for the first caller per session.
func (s *Store) claimCompletion(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed[id] {
		return false
	}
	s.claimed[id] = true
	return true
}

// forget drops a session's completion claim.
func (s *Store) forget(id string) {
	s.mu.Lock()
	delete(s.claimed, id)
	s.mu.Unlock()
}

// countChunks counts distinct chunk files in a session directory.
func (s *Store) countChunks(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("upload: list session: %w", err)
	}
	count := 0
	for _, entry := range entries {
		if chunkNamePattern.MatchString(entry.Name()) {
			count++
		}
	}
	return count, nil
}

// SessionDir returns the staging directory for an upload session.
func (s *Store) SessionDir(id string) string {
	return filepath.Join(s.root.ChunkDir(), id)
}

// AssembledPath returns the assembled artifact path for a session, or
// ErrSessionNotFound / ErrNotAssembled.
func (s *Store) AssembledPath(id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	if _, err := os.Stat(s.SessionDir(id)); err != nil {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	path, ok := s.assembledPath(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotAssembled, id)
	}
	return path, nil
}

// assembledPath finds the first non-chunk, non-temp file in the session.
func (s *Store) assembledPath(id string) (string, bool) {
	entries, err := os.ReadDir(s.SessionDir(id))
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || chunkNamePattern.MatchString(name) ||
			strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".assembling") {
			continue
		}
		return filepath.Join(s.SessionDir(id), name), true
	}
	return "", false
}

// Cancel removes a session directory. Removing an unknown session is not
// an error.
func (s *Store) Cancel(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	unlock := s.locks.Lock(lockKey(id))
	defer unlock()

	s.forget(id)
	if err := os.RemoveAll(s.SessionDir(id)); err != nil {
		return fmt.Errorf("upload: cancel %s: %w", id, err)
	}
	fmt.Fprintf(s.out, "upload: cleaned up session %s\n", id)
	return nil
}

func chunkName(index int) string {
	return fmt.Sprintf("chunk_%d%s", index, chunkSuffix)
}

func lockKey(id string) string {
	return "upload/" + id
}

// validateID rejects identifiers that could escape the staging tree.
func validateID(id string) error {
	if id == "" || id != filepath.Base(id) || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrBadUploadID, id)
	}
	return nil
}
