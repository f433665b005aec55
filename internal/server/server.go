// Package server exposes the project and upload pipeline over HTTP.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/archive"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/blob"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/launch"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/project"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/storage"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/upload"
	"gorm.io/gorm"
)

// launchGrace is how long the launch endpoint waits for an immediate
// failure before reporting the build as running.
const launchGrace = 2 * time.Second

// Server wires the pipeline components behind the HTTP routes.
type Server struct {
	db          *gorm.DB
	root        storage.Root
	uploads     *upload.Store
	extractor   *archive.Extractor
	resolver    *launch.Resolver
	launcher    launch.Launcher
	blobs       *blob.Store
	projects    *project.Service
	afterCreate func()
	port        int
	out         io.Writer
}

// Opts holds configuration for New.
type Opts struct {
	DB        *gorm.DB
	Root      storage.Root
	Uploads   *upload.Store
	Extractor *archive.Extractor
	Resolver  *launch.Resolver
	Launcher  launch.Launcher
	Blobs     *blob.Store
	Projects  *project.Service

	// AfterCreate runs after each successful project creation; nil skips.
	AfterCreate func()

	Port int
	Out  io.Writer
}

// New validates the wiring and returns a Server.
func New(opts Opts) (*Server, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("server: db is required")
	}
	if opts.Uploads == nil || opts.Extractor == nil || opts.Resolver == nil ||
		opts.Blobs == nil || opts.Projects == nil {
		return nil, fmt.Errorf("server: pipeline components are required")
	}
	if opts.Launcher == nil {
		opts.Launcher = &launch.ExecLauncher{Out: opts.Out}
	}
	if opts.Port <= 0 {
		opts.Port = 5000
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Server{
		db:          opts.DB,
		root:        opts.Root,
		uploads:     opts.Uploads,
		extractor:   opts.Extractor,
		resolver:    opts.Resolver,
		launcher:    opts.Launcher,
		blobs:       opts.Blobs,
		projects:    opts.Projects,
		afterCreate: opts.AfterCreate,
		port:        opts.Port,
		out:         opts.Out,
	}, nil
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	s.registerRoutes(router)
	return router
}

// Start launches the HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Router(),
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	fmt.Fprintf(s.out, "Model viewer backend listening on http://localhost:%d\n", s.port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// registerRoutes sets up the API routes on the gin router.
func (s *Server) registerRoutes(router *gin.Engine) {
	api := router.Group("/api/projects")

	api.POST("/upload/chunk", s.handleUploadChunk)
	api.DELETE("/upload/cleanup/:uploadId", s.handleUploadCleanup)
	api.GET("/upload/file/:uploadId", s.handleUploadFile)

	api.POST("/create", s.handleCreateProject)
	api.POST("/launch-build", s.handleLaunchBuild)

	api.GET("", s.handleListProjects)
	api.GET("/:id", s.handleGetProject)
	api.PUT("/:id", s.handleUpdateProject)
	api.DELETE("/:id", s.handleDeleteProject)

	api.GET("/:id/builds", s.handleListBuilds)
	api.POST("/:id/builds", s.handleAddBuild)
	api.GET("/:id/builds/:buildId", s.handleGetBuild)
	api.PUT("/:id/builds/:buildId", s.handleUpdateBuild)

	api.GET("/file/:id", s.handleProjectFile)
}
