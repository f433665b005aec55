package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/archive"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/blob"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/project"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/upload"
)

// buildInput is the JSON shape of the mainBuild field and each subBuilds
// entry on project creation.
type buildInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
	IsMain      bool   `json:"isMain"`
}

// subModelInput is one subModels entry on project creation.
type subModelInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// chunkedFileRef is one chunkedFiles manifest entry: it substitutes the
// named multipart part with a previously uploaded session's assembled
// file. Keys follow the part they replace: mainBuildZip, modelFile,
// subBuildZip_<i>, subModelFile_<i>.
type chunkedFileRef struct {
	FileKey      string `json:"fileKey"`
	UploadID     string `json:"uploadId"`
	OriginalName string `json:"originalName"`
	TotalChunks  int    `json:"totalChunks"`
}

// intake tracks everything a create request touches, so failures roll
// back and success releases consumed sessions.
type intake struct {
	server   *Server
	tmpDir   string
	sessions []string
	blobIDs  []string
	dirs     []string
}

func (in *intake) tempFile(c *gin.Context, key string, fh *multipart.FileHeader) (string, error) {
	if in.tmpDir == "" {
		dir, err := os.MkdirTemp("", "project-create-*")
		if err != nil {
			return "", fmt.Errorf("server: create staging dir: %w", err)
		}
		in.tmpDir = dir
	}
	dst := filepath.Join(in.tmpDir, key+"-"+filepath.Base(fh.Filename))
	if err := c.SaveUploadedFile(fh, dst); err != nil {
		return "", fmt.Errorf("server: stage %s: %w", key, err)
	}
	return dst, nil
}

// fileFor resolves the data for a named part: the direct multipart file
// when present, otherwise the manifest's assembled session file.
func (in *intake) fileFor(c *gin.Context, manifest map[string]chunkedFileRef, key string, fh *multipart.FileHeader) (path, name string, found bool, err error) {
	if fh != nil {
		path, err = in.tempFile(c, key, fh)
		return path, fh.Filename, true, err
	}
	ref, ok := manifest[key]
	if !ok {
		return "", "", false, nil
	}
	path, err = in.server.uploads.AssembledPath(ref.UploadID)
	if errors.Is(err, upload.ErrNotAssembled) {
		path, err = in.server.uploads.Assemble(ref.UploadID, ref.OriginalName, ref.TotalChunks)
	}
	if err != nil {
		return "", "", true, err
	}
	in.sessions = append(in.sessions, ref.UploadID)
	return path, ref.OriginalName, true, nil
}

// rollback undoes partial side effects after a failed create.
func (in *intake) rollback() {
	for _, id := range in.blobIDs {
		in.server.blobs.Delete(id)
	}
	for _, dir := range in.dirs {
		os.RemoveAll(dir)
	}
	in.discard()
}

// discard drops staging state common to success and failure.
func (in *intake) discard() {
	if in.tmpDir != "" {
		os.RemoveAll(in.tmpDir)
	}
}

// release cleans up the upload sessions a successful create consumed.
func (in *intake) release() {
	for _, id := range in.sessions {
		if err := in.server.uploads.Cancel(id); err != nil {
			fmt.Fprintf(in.server.out, "server: release session %s: %v\n", id, err)
		}
	}
	in.discard()
}

// handleCreateProject builds a full project from one multipart request:
// archives are extracted into the builds tree, model files land in the
// object store, and the rows are written last so a failed step never
// leaves a half-visible project.
func (s *Server) handleCreateProject(c *gin.Context) {
	name := c.PostForm("name")
	category := c.PostForm("category")

	var mainBuild buildInput
	if raw := c.PostForm("mainBuild"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &mainBuild); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "mainBuild is not valid JSON"})
			return
		}
	}
	var subBuilds []buildInput
	if raw := c.PostForm("subBuilds"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &subBuilds); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "subBuilds is not valid JSON"})
			return
		}
	}
	var subModels []subModelInput
	if raw := c.PostForm("subModels"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &subModels); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "subModels is not valid JSON"})
			return
		}
	}
	manifest := map[string]chunkedFileRef{}
	if raw := c.PostForm("chunkedFiles"); raw != "" {
		var refs []chunkedFileRef
		if err := json.Unmarshal([]byte(raw), &refs); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "chunkedFiles is not valid JSON"})
			return
		}
		for _, ref := range refs {
			manifest[ref.FileKey] = ref
		}
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "multipart form required"})
		return
	}

	in := &intake{server: s}
	opts, err := s.assembleCreate(c, in, createInputs{
		name:      name,
		category:  category,
		mainBuild: mainBuild,
		subBuilds: subBuilds,
		subModels: subModels,
		manifest:  manifest,
		form:      form,
	})
	if err != nil {
		in.rollback()
		failRetryable(c, err)
		return
	}

	created, err := s.projects.Create(*opts)
	if err != nil {
		in.rollback()
		fail(c, err)
		return
	}
	in.release()
	if s.afterCreate != nil {
		s.afterCreate()
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "project": created})
}

type createInputs struct {
	name      string
	category  string
	mainBuild buildInput
	subBuilds []buildInput
	subModels []subModelInput
	manifest  map[string]chunkedFileRef
	form      *multipart.Form
}

// assembleCreate runs the filesystem half of project creation and
// returns the record set for the database half.
func (s *Server) assembleCreate(c *gin.Context, in *intake, ci createInputs) (*project.CreateOpts, error) {
	opts := &project.CreateOpts{
		Name:        ci.name,
		Description: c.PostForm("description"),
		ModelName:   c.PostForm("modelName"),
		Category:    ci.category,
	}

	// Main build archive.
	mainZip, _, found, err := in.fileFor(c, ci.manifest, "mainBuildZip", firstFile(ci.form, "mainBuildZip"))
	if err != nil {
		return nil, err
	}
	if found {
		cfg := archive.BuildConfig{
			Name:        ci.mainBuild.Name,
			Description: ci.mainBuild.Description,
			Version:     ci.mainBuild.Version,
			IsMain:      true,
		}
		if cfg.Name == "" {
			cfg.Name = "main"
		}
		artifact, err := s.extractor.ExtractBuild(c.Request.Context(), mainZip, ci.category, ci.name, cfg)
		if err != nil {
			return nil, err
		}
		in.dirs = append(in.dirs, artifact.Dir)
		opts.Builds = append(opts.Builds, project.BuildRecord{
			Name:           cfg.Name,
			Description:    cfg.Description,
			Version:        cfg.Version,
			IsMain:         true,
			ExecutablePath: artifact.ExecutableRelativePath,
		})
	}

	// Secondary build archives: direct parts are consumed in order,
	// chunked entries matched by index.
	subZips := ci.form.File["subBuildZips"]
	nextPart := 0
	for i, sb := range ci.subBuilds {
		var fh *multipart.FileHeader
		key := fmt.Sprintf("subBuildZip_%d", i)
		if _, chunked := ci.manifest[key]; !chunked && nextPart < len(subZips) {
			fh = subZips[nextPart]
			nextPart++
		}
		zipPath, _, found, err := in.fileFor(c, ci.manifest, key, fh)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w (sub build %q)", errMissingArchive, sb.Name)
		}
		artifact, err := s.extractor.ExtractBuild(c.Request.Context(), zipPath, ci.category, ci.name, archive.BuildConfig{
			Name:        sb.Name,
			Description: sb.Description,
			Version:     sb.Version,
		})
		if err != nil {
			return nil, err
		}
		in.dirs = append(in.dirs, artifact.Dir)
		opts.Builds = append(opts.Builds, project.BuildRecord{
			Name:           sb.Name,
			Description:    sb.Description,
			Version:        sb.Version,
			ExecutablePath: artifact.ExecutableRelativePath,
		})
	}

	// Primary model file.
	modelPath, modelName, found, err := in.fileFor(c, ci.manifest, "modelFile", firstFile(ci.form, "modelFile"))
	if err != nil {
		return nil, err
	}
	if found {
		meta, err := s.putBlobFromPath(modelPath, modelName)
		if err != nil {
			return nil, err
		}
		in.blobIDs = append(in.blobIDs, meta.ID)
		opts.ModelFileID = meta.ID
		opts.ModelFileName = meta.Name
		opts.ModelFileContentType = meta.ContentType
	}

	// Secondary model files, same matching rule as sub builds.
	subFiles := ci.form.File["subModelFiles"]
	nextPart = 0
	for i, sm := range ci.subModels {
		var fh *multipart.FileHeader
		key := fmt.Sprintf("subModelFile_%d", i)
		if _, chunked := ci.manifest[key]; !chunked && nextPart < len(subFiles) {
			fh = subFiles[nextPart]
			nextPart++
		}
		path, fileName, found, err := in.fileFor(c, ci.manifest, key, fh)
		if err != nil {
			return nil, err
		}
		record := project.SubModelRecord{Name: sm.Name, Description: sm.Description}
		if found {
			meta, err := s.putBlobFromPath(path, fileName)
			if err != nil {
				return nil, err
			}
			in.blobIDs = append(in.blobIDs, meta.ID)
			record.FileID = meta.ID
			record.FileName = meta.Name
			record.ContentType = meta.ContentType
		}
		opts.SubModels = append(opts.SubModels, record)
	}

	return opts, nil
}

func (s *Server) handleLaunchBuild(c *gin.Context) {
	var body struct {
		ProjectID string `json:"projectId"`
		BuildID   string `json:"buildId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.ProjectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "projectId is required"})
		return
	}

	p, err := s.projects.Get(body.ProjectID)
	if err != nil {
		fail(c, err)
		return
	}
	path, build, err := s.resolver.Resolve(p, body.BuildID)
	if err != nil {
		fail(c, err)
		return
	}

	// The process must outlive the request, so it is not tied to the
	// request context. A failure inside the grace window is still
	// reported synchronously.
	done := s.launcher.Launch(context.Background(), path)
	select {
	case res := <-done:
		status := http.StatusOK
		if !res.Success {
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{"success": res.Success, "message": res.Message})
	case <-time.After(launchGrace):
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": fmt.Sprintf("launched build %s", build.Name),
		})
	}
}

func (s *Server) handleListProjects(c *gin.Context) {
	list, err := s.projects.List(c.Query("category"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "projects": list})
}

func (s *Server) handleGetProject(c *gin.Context) {
	p, err := s.projects.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "project": p})
}

func (s *Server) handleUpdateProject(c *gin.Context) {
	var body struct {
		Description *string `json:"description"`
		ModelName   *string `json:"modelName"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid project patch"})
		return
	}
	p, err := s.projects.Update(c.Param("id"), project.ProjectPatch{
		Description: body.Description,
		ModelName:   body.ModelName,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "project": p})
}

func (s *Server) handleDeleteProject(c *gin.Context) {
	if err := s.projects.Delete(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleListBuilds(c *gin.Context) {
	p, err := s.projects.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "builds": p.Builds})
}

func (s *Server) handleGetBuild(c *gin.Context) {
	build, err := s.projects.GetBuild(c.Param("id"), c.Param("buildId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "build": build})
}

// handleAddBuild attaches a new build to an existing project from a zip
// part or an assembled upload session.
func (s *Server) handleAddBuild(c *gin.Context) {
	p, err := s.projects.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	in := &intake{server: s}
	defer in.discard()

	var zipPath string
	if fh, err := c.FormFile("zip"); err == nil {
		zipPath, err = in.tempFile(c, "zip", fh)
		if err != nil {
			failRetryable(c, err)
			return
		}
	} else if uploadID := c.PostForm("uploadId"); uploadID != "" {
		zipPath, err = s.uploads.AssembledPath(uploadID)
		if err != nil {
			fail(c, err)
			return
		}
		in.sessions = append(in.sessions, uploadID)
	} else {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "zip part or uploadId is required"})
		return
	}

	cfg := archive.BuildConfig{
		Name:        c.PostForm("name"),
		Description: c.PostForm("description"),
		Version:     c.PostForm("version"),
		IsMain:      c.PostForm("isMain") == "true",
	}
	if cfg.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "build name is required"})
		return
	}

	artifact, err := s.extractor.ExtractBuild(c.Request.Context(), zipPath, p.Category, p.Name, cfg)
	if err != nil {
		fail(c, err)
		return
	}
	build, err := s.projects.AddBuild(p.ID, project.BuildRecord{
		Name:           cfg.Name,
		Description:    cfg.Description,
		Version:        cfg.Version,
		IsMain:         cfg.IsMain,
		ExecutablePath: artifact.ExecutableRelativePath,
	})
	if err != nil {
		os.RemoveAll(artifact.Dir)
		fail(c, err)
		return
	}
	in.release()

	c.JSON(http.StatusCreated, gin.H{"success": true, "build": build})
}

func (s *Server) handleUpdateBuild(c *gin.Context) {
	var body struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		Version     *string `json:"version"`
		IsMain      *bool   `json:"isMain"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid build patch"})
		return
	}
	build, err := s.projects.UpdateBuild(c.Param("id"), c.Param("buildId"), project.BuildPatch{
		Name:        body.Name,
		Description: body.Description,
		Version:     body.Version,
		IsMain:      body.IsMain,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "build": build})
}

// handleProjectFile streams a stored model file, honoring Range requests.
func (s *Server) handleProjectFile(c *gin.Context) {
	r, meta, err := s.blobs.Open(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	defer r.Close()

	c.Header("Content-Type", modelContentType(meta.Name, meta.ContentType))
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", meta.Name))
	http.ServeContent(c.Writer, c.Request, meta.Name, meta.CreatedAt, r)
}

// putBlobFromPath stores the file at path in the object store.
func (s *Server) putBlobFromPath(path, name string) (blob.Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return blob.Meta{}, fmt.Errorf("server: open staged file %s: %w", path, err)
	}
	defer f.Close()
	return s.blobs.Put(f, name, modelContentType(name, ""))
}

// modelContentType maps model file extensions to their MIME types,
// falling back to the stored type, then octet-stream.
func modelContentType(name, stored string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".glb":
		return "model/gltf-binary"
	case ".gltf":
		return "model/gltf+json"
	case ".fbx", ".obj":
		return "application/octet-stream"
	}
	if stored != "" {
		return stored
	}
	return "application/octet-stream"
}

// firstFile returns the first uploaded file registered under key, or nil.
func firstFile(form *multipart.Form, key string) *multipart.FileHeader {
	if form == nil || len(form.File[key]) == 0 {
		return nil
	}
	return form.File[key][0]
}
