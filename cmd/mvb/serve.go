package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/archive"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/blob"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/config"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/db"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/launch"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/project"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/reaper"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/server"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/storage"
	"github.com/krishnalasya0425/MODEL-VIEWER-BACKEND/internal/upload"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the backend HTTP server",
		Long:  "Selects a storage root, migrates the database, starts the temporary-storage reaper and serves the project API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "modelviewer.yaml", "path to config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	return cmd
}

// loadConfig reads the config file, falling back to defaults when the
// file does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// chooseRoot applies the configured root when set, otherwise runs drive
// selection.
func chooseRoot(cfg *config.Config, out io.Writer) (storage.Root, error) {
	if cfg.Storage.Root != "" {
		root := storage.Root{Dir: cfg.Storage.Root}
		if err := root.EnsureLayout(); err != nil {
			return storage.Root{}, fmt.Errorf("prepare configured root: %w", err)
		}
		return root, nil
	}
	root := storage.SelectRoot(storage.SelectOpts{
		MinimumFreeGB: cfg.Storage.MinimumFreeGB,
		Fallback:      cfg.Storage.FallbackRoot,
		Out:           out,
	})
	if root.Warning != "" {
		fmt.Fprintf(out, "Warning: %s\n", root.Warning)
	}
	if err := root.EnsureLayout(); err != nil {
		return storage.Root{}, fmt.Errorf("prepare storage root: %w", err)
	}
	return root, nil
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Port = port
	}

	root, err := chooseRoot(cfg, out)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Storage root: %s\n", root.Dir)

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	locks := storage.NewKeyedMutex()
	uploads, err := upload.NewStore(upload.Options{
		Root:          root,
		Locks:         locks,
		MaxChunkBytes: cfg.Storage.ChunkMaxBytes,
		Out:           out,
	})
	if err != nil {
		return err
	}
	extractor := archive.NewExtractor(archive.Options{
		Root:          root,
		Locks:         locks,
		ExecutableExt: cfg.Storage.ExecutableExt,
		Out:           out,
	})
	resolver, err := launch.NewResolver(launch.ResolverOpts{
		DB:            gormDB,
		Root:          root,
		ExecutableExt: cfg.Storage.ExecutableExt,
		Out:           out,
	})
	if err != nil {
		return err
	}
	blobs, err := blob.NewStore(root)
	if err != nil {
		return err
	}
	projects, err := project.NewService(project.Opts{DB: gormDB, Root: root, Blobs: blobs, Out: out})
	if err != nil {
		return err
	}
	sweeper, err := reaper.New(reaper.Opts{
		DB:        gormDB,
		Root:      root,
		Locks:     locks,
		Retention: cfg.Storage.Retention,
		Interval:  cfg.Storage.SweepInterval,
		Out:       out,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	go sweeper.Start(ctx)

	srv, err := server.New(server.Opts{
		DB:          gormDB,
		Root:        root,
		Uploads:     uploads,
		Extractor:   extractor,
		Resolver:    resolver,
		Blobs:       blobs,
		Projects:    projects,
		AfterCreate: sweeper.AfterProjectCreate,
		Port:        cfg.Port,
		Out:         out,
	})
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}
