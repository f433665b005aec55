package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Assemble concatenates a completed session's chunks in ascending index
// order into one artifact named after the original filename, deleting
// each chunk file once its bytes have been durably appended. It returns
// the assembled file path.
//
// Assembly for a session is serialized: a second caller blocks until the
// first finishes and then receives the already-assembled path. A gap in
// the chunk sequence aborts with ErrMissingChunk and leaves the session
// on disk for inspection. Any failure releases the session's completion
// claim so a retransmitted chunk can signal completion again.
func (s *Store) Assemble(id, originalName string, totalChunks int) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	if totalChunks <= 0 {
		s.forget(id)
		return "", fmt.Errorf("%w: total %d", ErrBadChunkCount, totalChunks)
	}
	name := filepath.Base(originalName)
	if name == "" || name == "." {
		s.forget(id)
		return "", ErrBadName
	}

	unlock := s.locks.Lock(lockKey(id))
	defer unlock()

	dir := s.SessionDir(id)
	if _, err := os.Stat(dir); err != nil {
		s.forget(id)
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	finalPath := filepath.Join(dir, name)
	if _, err := os.Stat(finalPath); err == nil {
		// Already assembled by an earlier request.
		return finalPath, nil
	}

	if err := s.assembleInto(finalPath, dir, totalChunks); err != nil {
		// Release the completion claim so a retransmitted chunk can win
		// it again and retry assembly once the session is repaired.
		s.forget(id)
		return "", err
	}

	s.forget(id)
	fmt.Fprintf(s.out, "upload: assembled %s from %d chunks\n", finalPath, totalChunks)
	return finalPath, nil
}

// assembleInto writes the concatenated chunks to finalPath via a temp
// file, removing the temp file on any failure.
func (s *Store) assembleInto(finalPath, dir string, totalChunks int) error {
	tmpPath := finalPath + ".assembling"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("upload: create output: %w", err)
	}

	if err := s.appendChunks(out, dir, totalChunks); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return err
	}

	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("upload: sync output: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("upload: close output: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("upload: commit output: %w", err)
	}
	return nil
}

// appendChunks streams chunks 0..total-1 into out, removing each chunk
// file after its bytes are flushed. A write error aborts and keeps the
// remaining chunk files intact for a retry.
func (s *Store) appendChunks(out *os.File, dir string, total int) error {
	for i := 0; i < total; i++ {
		chunkPath := filepath.Join(dir, chunkName(i))
		chunk, err := os.Open(chunkPath)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%w: index %d", ErrMissingChunk, i)
			}
			return fmt.Errorf("upload: open chunk %d: %w", i, err)
		}

		_, copyErr := io.Copy(out, chunk)
		chunk.Close()
		if copyErr != nil {
			return fmt.Errorf("upload: append chunk %d: %w", i, copyErr)
		}
		// Flush before dropping the fragment so a crash loses at most
		// the chunk currently in flight.
		if err := out.Sync(); err != nil {
			return fmt.Errorf("upload: flush chunk %d: %w", i, err)
		}
		if err := os.Remove(chunkPath); err != nil {
			return fmt.Errorf("upload: remove chunk %d: %w", i, err)
		}
	}
	return nil
}
