// Package project manages project and build records plus their backing
// files: model blobs in the object store and extracted build trees under
// the storage root.
package project

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/archive"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/blob"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/models"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/storage"
	"gorm.io/gorm"
)

// Sentinel errors surfaced by the service.
var (
	ErrProjectNotFound = errors.New("project: not found")
	ErrBuildNotFound   = errors.New("project: build not found")
	ErrBadCategory     = errors.New("project: unknown category")
)

// GenerateID creates a project ID in pr-xxxxxxxx format (8-char hex).
func GenerateID() (string, error) {
	return generateID("pr-")
}

// GenerateBuildID creates a build ID in bd-xxxxxxxx format (8-char hex).
func GenerateBuildID() (string, error) {
	return generateID("bd-")
}

func generateID(prefix string) (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("project: generate ID: %w", err)
	}
	return prefix + hex.EncodeToString(b), nil
}

// generateUniqueID generates a prefixed ID and retries once on collision.
func generateUniqueID(db *gorm.DB, model any, prefix string) (string, error) {
	for range 2 {
		id, err := generateID(prefix)
		if err != nil {
			return "", err
		}
		var count int64
		if err := db.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
			return "", fmt.Errorf("project: check ID uniqueness: %w", err)
		}
		if count == 0 {
			return id, nil
		}
	}
	return "", fmt.Errorf("project: failed to generate unique ID after retries")
}

// Service coordinates database rows with their on-disk artifacts.
type Service struct {
	db    *gorm.DB
	root  storage.Root
	blobs *blob.Store
	out   io.Writer
}

// Opts holds parameters for NewService.
type Opts struct {
	DB    *gorm.DB
	Root  storage.Root
	Blobs *blob.Store
	Out   io.Writer // progress output; nil discards
}

// NewService returns a Service.
func NewService(opts Opts) (*Service, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("project: db is required")
	}
	if opts.Blobs == nil {
		return nil, fmt.Errorf("project: blob store is required")
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Service{db: opts.DB, root: opts.Root, blobs: opts.Blobs, out: opts.Out}, nil
}

// BuildRecord is the build-side input to Create and AddBuild. The
// executable path comes from extraction and is relative to the storage
// root.
type BuildRecord struct {
	Name           string
	Description    string
	Version        string
	IsMain         bool
	ExecutablePath string
}

// SubModelRecord is a secondary model attachment input.
type SubModelRecord struct {
	Name        string
	Description string
	FileID      string
	FileName    string
	ContentType string
}

// CreateOpts holds the inputs for Create. Model file fields reference
// objects already stored in the blob store.
type CreateOpts struct {
	Name                 string
	Description          string
	ModelName            string
	Category             string
	ModelFileID          string
	ModelFileName        string
	ModelFileContentType string
	Builds               []BuildRecord
	SubModels            []SubModelRecord
}

// Create persists a project with its builds and sub-models in a single
// transaction. At most one build keeps IsMain: when several inputs claim
// it, the first wins and the rest are stored unflagged.
func (s *Service) Create(opts CreateOpts) (*models.Project, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("project: name is required")
	}
	if !models.ValidCategory(opts.Category) {
		return nil, fmt.Errorf("%w: %q", ErrBadCategory, opts.Category)
	}

	id, err := generateUniqueID(s.db, &models.Project{}, "pr-")
	if err != nil {
		return nil, err
	}
	p := &models.Project{
		ID:                   id,
		Name:                 opts.Name,
		Description:          opts.Description,
		ModelName:            opts.ModelName,
		ModelFileID:          opts.ModelFileID,
		ModelFileName:        opts.ModelFileName,
		ModelFileContentType: opts.ModelFileContentType,
		Category:             opts.Category,
	}

	mainSeen := false
	for _, in := range opts.Builds {
		buildID, err := generateUniqueID(s.db, &models.Build{}, "bd-")
		if err != nil {
			return nil, err
		}
		isMain := in.IsMain && !mainSeen
		if isMain {
			mainSeen = true
		}
		version := in.Version
		if version == "" {
			version = "1.0.0"
		}
		p.Builds = append(p.Builds, models.Build{
			ID:             buildID,
			ProjectID:      id,
			Name:           in.Name,
			Description:    in.Description,
			ExecutablePath: in.ExecutablePath,
			IsMain:         isMain,
			Category:       opts.Category,
			Version:        version,
		})
	}
	for _, in := range opts.SubModels {
		p.SubModels = append(p.SubModels, models.SubModel{
			ProjectID:   id,
			Name:        in.Name,
			Description: in.Description,
			FileID:      in.FileID,
			FileName:    in.FileName,
			ContentType: in.ContentType,
		})
	}

	if err := s.db.Create(p).Error; err != nil {
		return nil, fmt.Errorf("project: create %s: %w", opts.Name, err)
	}
	fmt.Fprintf(s.out, "project: created %s (%s) with %d builds\n", p.Name, p.ID, len(p.Builds))
	return p, nil
}

// Get loads a project with its builds and sub-models.
func (s *Service) Get(id string) (*models.Project, error) {
	var p models.Project
	err := s.db.Preload("Builds").Preload("SubModels").First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("project: load %s: %w", id, err)
	}
	return &p, nil
}

// List returns all projects, optionally filtered by category, newest
// first.
func (s *Service) List(category string) ([]models.Project, error) {
	q := s.db.Preload("Builds").Preload("SubModels").Order("created_at DESC")
	if category != "" {
		if !models.ValidCategory(category) {
			return nil, fmt.Errorf("%w: %q", ErrBadCategory, category)
		}
		q = q.Where("category = ?", category)
	}
	var out []models.Project
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("project: list: %w", err)
	}
	return out, nil
}

// GetBuild loads a single build belonging to the project.
func (s *Service) GetBuild(projectID, buildID string) (*models.Build, error) {
	if _, err := s.Get(projectID); err != nil {
		return nil, err
	}
	var b models.Build
	err := s.db.First(&b, "id = ? AND project_id = ?", buildID, projectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBuildNotFound, buildID)
	}
	if err != nil {
		return nil, fmt.Errorf("project: load build %s: %w", buildID, err)
	}
	return &b, nil
}

// ProjectPatch carries optional project metadata updates; nil fields are
// untouched. The name is deliberately not patchable because build
// directories and stored executable paths embed its slug.
type ProjectPatch struct {
	Description *string
	ModelName   *string
}

// Update applies a metadata patch to a project and returns the fresh
// row.
func (s *Service) Update(id string, patch ProjectPatch) (*models.Project, error) {
	p, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.ModelName != nil {
		updates["model_name"] = *patch.ModelName
	}
	if len(updates) == 0 {
		return p, nil
	}
	if err := s.db.Model(&models.Project{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("project: update %s: %w", id, err)
	}
	return s.Get(id)
}

// AddBuild attaches an already-extracted build to an existing project.
// Setting IsMain clears the flag on the project's other builds in the
// same transaction.
func (s *Service) AddBuild(projectID string, in BuildRecord) (*models.Build, error) {
	p, err := s.Get(projectID)
	if err != nil {
		return nil, err
	}
	buildID, err := generateUniqueID(s.db, &models.Build{}, "bd-")
	if err != nil {
		return nil, err
	}
	version := in.Version
	if version == "" {
		version = "1.0.0"
	}
	b := &models.Build{
		ID:             buildID,
		ProjectID:      p.ID,
		Name:           in.Name,
		Description:    in.Description,
		ExecutablePath: in.ExecutablePath,
		IsMain:         in.IsMain,
		Category:       p.Category,
		Version:        version,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if b.IsMain {
			if err := tx.Model(&models.Build{}).
				Where("project_id = ?", p.ID).
				Update("is_main", false).Error; err != nil {
				return fmt.Errorf("project: clear main flags: %w", err)
			}
		}
		if err := tx.Create(b).Error; err != nil {
			return fmt.Errorf("project: add build to %s: %w", p.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// BuildPatch carries optional build updates; nil fields are untouched.
type BuildPatch struct {
	Name        *string
	Description *string
	Version     *string
	IsMain      *bool
}

// UpdateBuild applies a patch to one of the project's builds. Switching
// IsMain on moves the flag off every other build transactionally, so
// the single-main invariant holds at every commit point.
func (s *Service) UpdateBuild(projectID, buildID string, patch BuildPatch) (*models.Build, error) {
	var b models.Build
	err := s.db.First(&b, "id = ? AND project_id = ?", buildID, projectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBuildNotFound, buildID)
	}
	if err != nil {
		return nil, fmt.Errorf("project: load build %s: %w", buildID, err)
	}

	updates := map[string]any{}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.Version != nil {
		updates["version"] = *patch.Version
	}
	if patch.IsMain != nil {
		updates["is_main"] = *patch.IsMain
	}
	if len(updates) == 0 {
		return &b, nil
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if patch.IsMain != nil && *patch.IsMain {
			if err := tx.Model(&models.Build{}).
				Where("project_id = ? AND id <> ?", projectID, buildID).
				Update("is_main", false).Error; err != nil {
				return fmt.Errorf("project: clear main flags: %w", err)
			}
		}
		if err := tx.Model(&b).Updates(updates).Error; err != nil {
			return fmt.Errorf("project: update build %s: %w", buildID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Delete removes a project, its rows, its model blobs and its build
// directories. Filesystem cleanup failures are reported to out but do
// not fail the call once the rows are gone.
func (s *Service) Delete(id string) error {
	p, err := s.Get(id)
	if err != nil {
		return err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", id).Delete(&models.Build{}).Error; err != nil {
			return fmt.Errorf("project: delete builds of %s: %w", id, err)
		}
		if err := tx.Where("project_id = ?", id).Delete(&models.SubModel{}).Error; err != nil {
			return fmt.Errorf("project: delete sub-models of %s: %w", id, err)
		}
		if err := tx.Delete(&models.Project{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("project: delete %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if p.ModelFileID != "" {
		if err := s.blobs.Delete(p.ModelFileID); err != nil && !errors.Is(err, blob.ErrNotFound) {
			fmt.Fprintf(s.out, "project: delete model blob %s: %v\n", p.ModelFileID, err)
		}
	}
	for _, sm := range p.SubModels {
		if sm.FileID == "" {
			continue
		}
		if err := s.blobs.Delete(sm.FileID); err != nil && !errors.Is(err, blob.ErrNotFound) {
			fmt.Fprintf(s.out, "project: delete sub-model blob %s: %v\n", sm.FileID, err)
		}
	}

	projectDir := filepath.Join(s.root.BuildsDir(), p.Category, archive.Slug(p.Name))
	if err := os.RemoveAll(projectDir); err != nil {
		fmt.Fprintf(s.out, "project: remove build tree %s: %v\n", projectDir, err)
	}
	fmt.Fprintf(s.out, "project: deleted %s (%s)\n", p.Name, p.ID)
	return nil
}
