package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/upload"
)

// handleUploadChunk receives one chunk of a session. When the chunk
// completes the set, the file is assembled before responding, so the
// client's final chunk request doubles as the assembly barrier.
func (s *Server) handleUploadChunk(c *gin.Context) {
	chunkIndex, err := strconv.Atoi(c.PostForm("chunkIndex"))
	if err != nil {
		fail(c, upload.ErrBadChunkCount)
		return
	}
	totalChunks, err := strconv.Atoi(c.PostForm("totalChunks"))
	if err != nil {
		fail(c, upload.ErrBadChunkCount)
		return
	}
	originalName := c.PostForm("originalName")

	part, err := c.FormFile("chunk")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "chunk file part is required"})
		return
	}
	body, err := part.Open()
	if err != nil {
		failRetryable(c, err)
		return
	}
	defer body.Close()

	receipt, err := s.uploads.ReceiveChunk(upload.ReceiveOpts{
		UploadID:     c.PostForm("uploadId"),
		ChunkIndex:   chunkIndex,
		TotalChunks:  totalChunks,
		OriginalName: originalName,
		Body:         body,
	})
	if err != nil {
		failRetryable(c, err)
		return
	}

	assembled := receipt.Assembled
	if receipt.Complete {
		if _, err := s.uploads.Assemble(receipt.UploadID, originalName, totalChunks); err != nil {
			failRetryable(c, err)
			return
		}
		assembled = true
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"uploadId":      receipt.UploadID,
		"chunkIndex":    chunkIndex,
		"receivedCount": receipt.ReceivedCount,
		"assembled":     assembled,
	})
}

// handleUploadCleanup drops a session and everything it stored.
// Cleaning an already-gone session succeeds.
func (s *Server) handleUploadCleanup(c *gin.Context) {
	if err := s.uploads.Cancel(c.Param("uploadId")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleUploadFile streams a session's assembled file.
func (s *Server) handleUploadFile(c *gin.Context) {
	path, err := s.uploads.AssembledPath(c.Param("uploadId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.File(path)
}
