package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/vodarr/internal/database"
	internalhttp "github.com/jmylchreest/vodarr/internal/http"
	"github.com/jmylchreest/vodarr/internal/http/handlers"
	"github.com/jmylchreest/vodarr/internal/objectstore"
	"github.com/jmylchreest/vodarr/internal/relay"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/scheduler"
	"github.com/jmylchreest/vodarr/internal/service"
	"github.com/jmylchreest/vodarr/internal/startup"
	"github.com/jmylchreest/vodarr/internal/storage"
	"github.com/jmylchreest/vodarr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the vodarr server",
	Long: `Start the vodarr HTTP server and API.

The server provides:
- REST API for runner registration, job dispatch, and live sessions
- Live HLS relay at /live/{videoUUID}/{filename}
- Health check endpoint
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Like the logging flags on the root command, these override the loaded
	// config only when explicitly set.
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database-dsn", "vodarr.db", "Database DSN")
	serveCmd.Flags().String("data-dir", "./data", "Base directory for live and VOD storage")
}

func runServe(cmd *cobra.Command, args []string) error {
	applyServeFlags(cmd.Flags())

	logger := slog.Default()

	// Clean up staged uploads orphaned by a previous run
	orphansRemoved, err := startup.CleanupSystemStagedUploads(logger)
	if err != nil {
		logger.Warn("failed to clean orphaned staged uploads",
			slog.String("error", err.Error()),
		)
	} else if orphansRemoved > 0 {
		logger.Info("cleaned orphaned staged uploads on startup",
			slog.Int("removed_count", orphansRemoved),
		)
	}

	// Initialize database and schema
	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	// Initialize repositories
	tokenRepo := repository.NewRegistrationTokenRepository(db.DB)
	runnerRepo := repository.NewRunnerRepository(db.DB)
	jobRepo := repository.NewRunnerJobRepository(db.DB)
	videoRepo := repository.NewVideoRepository(db.DB)
	sessionRepo := repository.NewLiveSessionRepository(db.DB)

	// Initialize storage backends
	relayStore, err := relay.NewStore(cfg.Storage.LivePath(), logger)
	if err != nil {
		return fmt.Errorf("initializing live relay store: %w", err)
	}

	vodStore, err := storage.NewSandbox(cfg.Storage.VODPath())
	if err != nil {
		return fmt.Errorf("initializing VOD storage: %w", err)
	}

	objectStore, err := objectstore.New(cfg.ObjectStore)
	if err != nil {
		return fmt.Errorf("initializing object store: %w", err)
	}

	// Tear down relay dirs left behind by broadcasts interrupted mid-run
	relayDirsRemoved, err := startup.CleanupOrphanedRelayDirs(
		cmd.Context(), logger, cfg.Storage.LivePath(), videoRepo, sessionRepo, relayStore,
	)
	if err != nil {
		logger.Warn("failed to clean orphaned relay dirs",
			slog.String("error", err.Error()),
		)
	} else if relayDirsRemoved > 0 {
		logger.Info("cleaned orphaned relay dirs on startup",
			slog.Int("removed_count", relayDirsRemoved),
		)
	}

	// Initialize services
	regService := service.NewRegistrationService(tokenRepo, runnerRepo).
		WithLogger(logger)

	finalizer := service.NewFinalizer(videoRepo, sessionRepo, relayStore, objectStore, vodStore).
		WithLogger(logger)

	jobService := service.NewJobService(
		jobRepo,
		videoRepo,
		sessionRepo,
		regService,
		relayStore,
		finalizer,
		cfg.Jobs,
	).WithLogger(logger)

	liveService := service.NewLiveService(sessionRepo, videoRepo, jobService).
		WithLogger(logger)

	// Initialize HTTP server
	server := internalhttp.NewServer(cfg.Server, logger, version.Version, cfg.Jobs.MaxUploadBytes)

	healthHandler := handlers.NewHealthHandler(version.Version).WithDB(db.DB)
	healthHandler.Register(server.API())

	runnerHandler := handlers.NewRunnerHandler(regService)
	runnerHandler.Register(server.API())

	jobHandler := handlers.NewRunnerJobHandler(jobService)
	jobHandler.Register(server.API())

	liveHandler := handlers.NewLiveHandler(liveService, relayStore)
	liveHandler.Register(server.API())
	liveHandler.RegisterFileRoutes(server.Router())

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Background maintenance loops
	if cfg.Reaper.Enabled {
		reaper := scheduler.NewReaper(jobService, cfg.Reaper).WithLogger(logger)
		if err := reaper.Start(ctx); err != nil {
			return fmt.Errorf("starting stalled-job reaper: %w", err)
		}
		g.Go(func() error {
			<-ctx.Done()
			reaper.Stop()
			return nil
		})
	}

	if cfg.Cleanup.Enabled {
		cleanup := scheduler.NewCleanup(jobRepo, cfg.Cleanup).WithLogger(logger)
		if err := cleanup.Start(); err != nil {
			return fmt.Errorf("starting terminal-job cleanup: %w", err)
		}
		g.Go(func() error {
			<-ctx.Done()
			cleanup.Stop()
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("starting vodarr server",
			slog.String("address", cfg.Server.Address()),
			slog.String("version", version.Version),
		)
		return server.ListenAndServe(ctx)
	})

	return g.Wait()
}

// applyServeFlags overlays explicitly set serve flags onto the loaded config.
func applyServeFlags(flags *pflag.FlagSet) {
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("database-dsn") {
		cfg.Database.DSN, _ = flags.GetString("database-dsn")
	}
	if flags.Changed("data-dir") {
		cfg.Storage.BaseDir, _ = flags.GetString("data-dir")
	}
}
