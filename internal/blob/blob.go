// Package blob is a filesystem object store for model files and other
// project attachments. Each object is a flat file under the storage
// root's objects directory, keyed by a generated id, with a JSON sidecar
// holding its metadata.
package blob

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/storage"
)

// ErrNotFound reports an object id with no stored data.
var ErrNotFound = errors.New("blob: object not found")

// Meta describes a stored object.
type Meta struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store reads and writes objects under a single directory.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at the storage root's objects
// directory, creating it if needed.
func NewStore(root storage.Root) (*Store, error) {
	dir := root.ObjectsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create objects dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Put stores the contents of r as a new object and returns its metadata.
// Data lands under a temporary name first so a crash never leaves a
// readable half-written object.
func (s *Store) Put(r io.Reader, name, contentType string) (Meta, error) {
	id := uuid.NewString()
	dataPath := s.dataPath(id)

	tmp, err := os.CreateTemp(s.dir, ".put-*")
	if err != nil {
		return Meta{}, fmt.Errorf("blob: create temp object: %w", err)
	}
	size, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return Meta{}, fmt.Errorf("blob: write object %s: %w", id, err)
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		os.Remove(tmp.Name())
		return Meta{}, fmt.Errorf("blob: commit object %s: %w", id, err)
	}

	meta := Meta{
		ID:          id,
		Name:        name,
		ContentType: contentType,
		Size:        size,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.writeMeta(meta); err != nil {
		os.Remove(dataPath)
		return Meta{}, err
	}
	return meta, nil
}

// Open returns a seekable reader over the object's data along with its
// metadata. The caller closes the reader.
func (s *Store) Open(id string) (io.ReadSeekCloser, Meta, error) {
	if err := validateID(id); err != nil {
		return nil, Meta{}, err
	}
	meta, err := s.readMeta(id)
	if err != nil {
		return nil, Meta{}, err
	}
	f, err := os.Open(s.dataPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Meta{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, Meta{}, fmt.Errorf("blob: open object %s: %w", id, err)
	}
	return f, meta, nil
}

// Stat returns an object's metadata without opening its data.
func (s *Store) Stat(id string) (Meta, error) {
	if err := validateID(id); err != nil {
		return Meta{}, err
	}
	return s.readMeta(id)
}

// Delete removes an object and its metadata. Deleting an absent object
// is not an error.
func (s *Store) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := os.Remove(s.dataPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blob: delete object %s: %w", id, err)
	}
	if err := os.Remove(s.metaPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blob: delete object meta %s: %w", id, err)
	}
	return nil
}

func (s *Store) dataPath(id string) string { return filepath.Join(s.dir, id) }
func (s *Store) metaPath(id string) string { return filepath.Join(s.dir, id+".json") }

func (s *Store) writeMeta(meta Meta) error {
	buf, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("blob: encode meta %s: %w", meta.ID, err)
	}
	if err := os.WriteFile(s.metaPath(meta.ID), buf, 0o644); err != nil {
		return fmt.Errorf("blob: write meta %s: %w", meta.ID, err)
	}
	return nil
}

func (s *Store) readMeta(id string) (Meta, error) {
	buf, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Meta{}, fmt.Errorf("blob: read meta %s: %w", id, err)
	}
	var meta Meta
	if err := json.Unmarshal(buf, &meta); err != nil {
		return Meta{}, fmt.Errorf("blob: decode meta %s: %w", id, err)
	}
	return meta, nil
}

// validateID accepts only generated ids so path traversal through an
// object id is impossible.
func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
