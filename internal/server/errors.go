package server

import (
	"archive/zip"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/archive"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/blob"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/launch"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/project"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/upload"
)

// errMissingArchive reports a create request that names a build without
// providing its archive, directly or through the chunked manifest.
var errMissingArchive = errors.New("server: build archive is required")

// fail writes the JSON error response for err, mapping sentinels to
// status codes. Unrecognized errors report 500.
func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err, http.StatusInternalServerError), gin.H{
		"success": false,
		"error":   err.Error(),
	})
}

// failRetryable is fail for write paths: an unrecognized error is
// treated as a transient storage failure the client may retry.
func failRetryable(c *gin.Context, err error) {
	c.JSON(statusFor(err, http.StatusServiceUnavailable), gin.H{
		"success": false,
		"error":   err.Error(),
	})
}

func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, upload.ErrBadChunkCount),
		errors.Is(err, upload.ErrBadUploadID),
		errors.Is(err, upload.ErrBadName),
		errors.Is(err, project.ErrBadCategory),
		errors.Is(err, errMissingArchive):
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrChunkTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, upload.ErrSessionNotFound),
		errors.Is(err, upload.ErrNotAssembled),
		errors.Is(err, project.ErrProjectNotFound),
		errors.Is(err, project.ErrBuildNotFound),
		errors.Is(err, blob.ErrNotFound),
		errors.Is(err, launch.ErrBuildNotFound),
		errors.Is(err, launch.ErrNoMainBuild),
		errors.Is(err, launch.ErrArtifactMissing):
		return http.StatusNotFound
	case errors.Is(err, upload.ErrMissingChunk),
		errors.Is(err, archive.ErrNoExecutable),
		errors.Is(err, zip.ErrFormat):
		return http.StatusUnprocessableEntity
	}
	return fallback
}
