package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/castarr/castarr/internal/catalog"
	"github.com/castarr/castarr/internal/config"
	"github.com/castarr/castarr/internal/database"
	"github.com/castarr/castarr/internal/engine"
	"github.com/castarr/castarr/internal/ffmpeg"
	internalhttp "github.com/castarr/castarr/internal/http"
	"github.com/castarr/castarr/internal/http/handlers"
	"github.com/castarr/castarr/internal/observability"
	"github.com/castarr/castarr/internal/repository"
	"github.com/castarr/castarr/internal/scheduler"
	"github.com/castarr/castarr/internal/service"
	"github.com/castarr/castarr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the castarr server",
	Long: `Start the castarr HTTP server and stream engine.

The server provides:
- REST API for managing broadcast channels
- Token-gated HLS playlist and segment delivery
- Telemetry, health check and M3U export endpoints
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Host to bind to")
	serveCmd.Flags().Int("port", 0, "Port to listen on")
	serveCmd.Flags().String("dsn", "", "Database DSN")
	serveCmd.Flags().String("data-dir", "", "Base directory for segments and temp files")
}

// applyFlagOverrides writes explicitly set serve flags over the loaded
// configuration. Precedence stays: CLI flag > env var > config > default.
func applyFlagOverrides(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("dsn") {
		cfg.Database.DSN, _ = flags.GetString("dsn")
	}
	if flags.Changed("data-dir") {
		cfg.Storage.BaseDir, _ = flags.GetString("data-dir")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	applyFlagOverrides(cmd.Flags(), cfg)

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	logger.Info("starting castarr",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit))

	// Storage directories
	for _, dir := range []string{cfg.Storage.SegmentsPath(), cfg.Storage.TempPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating storage directory %s: %w", dir, err)
		}
	}

	// Database
	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Repositories and catalog
	channelRepo := repository.NewChannelRepository(db.DB)
	itemRepo := repository.NewChannelItemRepository(db.DB)
	jobRepo := repository.NewJobRepository(db.DB)
	cat := catalog.NewStore(db.DB)

	// FFmpeg binaries
	detector := ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath)
	binaries, err := detector.Detect(cmd.Context())
	if err != nil {
		return fmt.Errorf("detecting ffmpeg binaries: %w", err)
	}
	logger.Info("detected ffmpeg",
		slog.String("ffmpeg", binaries.FFmpegPath),
		slog.String("ffprobe", binaries.FFprobePath),
		slog.String("version", binaries.Version))

	prober := ffmpeg.NewProber(binaries.FFprobePath)
	resolver := catalog.NewResolver(cat, prober, logger)

	// Engine
	store := engine.NewSegmentStore(cfg.Storage.SegmentsPath(), logger)
	sessions := engine.NewSessionTracker(cfg.Sessions.IdleTimeout)
	runner := engine.NewExecRunner(logger)
	supervisor := engine.NewSupervisor(engine.Config{
		FFmpegPath:       binaries.FFmpegPath,
		SegmentDuration:  cfg.Engine.SegmentDuration,
		PlaylistSize:     cfg.Engine.PlaylistSize,
		PrecacheSegments: cfg.Engine.PrecacheSegments,
		PrecacheTimeout:  cfg.Engine.PrecacheTimeout,
		MaxPipelines:     cfg.Engine.MaxPipelines,
		StopGrace:        cfg.Engine.StopGrace,
		RestartBudget:    cfg.Engine.RestartBudget,
		RestartBackoff:   cfg.Engine.RestartBackoff,
	}, runner, store, sessions, logger)
	sampler := engine.NewSampler(cfg.Telemetry.SampleInterval, cfg.Telemetry.WindowSize, sessions, store, logger)

	// Services
	channelService := service.NewChannelService(channelRepo, itemRepo, jobRepo, resolver, cat, supervisor, store, sessions, logger)
	statsService := service.NewStatsService(db, supervisor, sessions, store, sampler, cfg.Storage.SegmentsPath())

	// HTTP server and handlers
	server := internalhttp.NewServer(cfg.Server, logger, version.Version)
	handlers.NewStreamHandler(channelService).Register(server.API())
	handlers.NewSystemHandler(statsService, db).Register(server.API())
	handlers.NewHLSHandler(channelRepo, supervisor, store, sessions, logger).Register(server.Router())
	handlers.NewExportHandler(channelService, cfg.Server.BaseURL, logger).Register(server.Router())

	// Background loops
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sampler.Run(ctx)

	sched := scheduler.NewScheduler(cfg.Scheduler, channelRepo, channelService).WithLogger(logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	// Resume channels that were active before the last shutdown.
	channelService.ResumeActive(ctx)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	sched.Stop()
	supervisor.StopAll(shutdownCtx)

	logger.Info("castarr stopped")
	return nil
}
