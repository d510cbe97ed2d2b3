package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/restorr/internal/admission"
	"github.com/jmylchreest/restorr/internal/artifact"
	"github.com/jmylchreest/restorr/internal/config"
	"github.com/jmylchreest/restorr/internal/database"
	"github.com/jmylchreest/restorr/internal/ffmpeg"
	"github.com/jmylchreest/restorr/internal/filtergraph"
	internalhttp "github.com/jmylchreest/restorr/internal/http"
	"github.com/jmylchreest/restorr/internal/http/handlers"
	"github.com/jmylchreest/restorr/internal/job"
	"github.com/jmylchreest/restorr/internal/observability"
	"github.com/jmylchreest/restorr/internal/repository"
	"github.com/jmylchreest/restorr/internal/scheduler"
	"github.com/jmylchreest/restorr/internal/service"
	"github.com/jmylchreest/restorr/internal/session"
	"github.com/jmylchreest/restorr/internal/startup"
	"github.com/jmylchreest/restorr/internal/storage"
	"github.com/jmylchreest/restorr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the restorr server",
	Long: `Start the restorr HTTP server and API.

The server provides:
- Upload, process, download and session endpoints
- Admission status, noise model and job history endpoints
- Health check endpoint
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("data-dir", "./data", "Base directory for sessions and admission leases")
	serveCmd.Flags().String("database", "restorr.db", "Database DSN (file path for sqlite)")
	serveCmd.Flags().Int("max-concurrent", 10, "Maximum concurrent restoration jobs")
	serveCmd.Flags().String("models-dir", "/usr/local/share/rnnoise-models", "Directory holding RNNoise model files")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("storage.base_dir", serveCmd.Flags().Lookup("data-dir"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
	mustBindPFlag("admission.max_concurrent", serveCmd.Flags().Lookup("max-concurrent"))
	mustBindPFlag("ffmpeg.models_dir", serveCmd.Flags().Lookup("models-dir"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}

	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	detector := ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath)
	binInfo, err := detector.Detect(ctx)
	if err != nil {
		return fmt.Errorf("detecting ffmpeg: %w", err)
	}
	logger.Info("ffmpeg detected",
		slog.String("ffmpeg", binInfo.FFmpegPath),
		slog.String("ffprobe", binInfo.FFprobePath),
		slog.String("version", binInfo.Version),
	)
	if missing := binInfo.MissingRequirements(); len(missing) > 0 {
		logger.Warn("ffmpeg lacks components used by restoration",
			slog.String("missing", strings.Join(missing, ",")),
		)
	}

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing database", slog.String("error", err.Error()))
		}
	}()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	sessionsDir := cfg.Storage.SessionsPath()
	if err := os.MkdirAll(sessionsDir, 0o750); err != nil {
		return fmt.Errorf("creating sessions directory: %w", err)
	}
	if removed, err := startup.CleanupOrphanedTempFiles(logger, sessionsDir, cfg.Storage.TempFileMaxAge); err != nil {
		logger.Warn("failed to clean orphaned temp files", slog.String("error", err.Error()))
	} else if removed > 0 {
		logger.Info("cleaned orphaned temp files on startup", slog.Int("removed_count", removed))
	}

	compiler := filtergraph.NewCompiler(cfg.FFmpeg.ModelsDir,
		filtergraph.WithLogger(observability.WithComponent(logger, "filtergraph")))
	startup.ValidateNoiseModels(logger, compiler)

	sessionsRoot, err := storage.NewSandbox(sessionsDir)
	if err != nil {
		return fmt.Errorf("initializing session storage: %w", err)
	}
	sessions := session.NewStore(sessionsRoot, cfg.Session.TTL,
		session.WithLogger(observability.WithComponent(logger, "session")))

	admit, err := admission.NewController(cfg.Storage.LocksPath(), cfg.Admission.MaxConcurrent, cfg.StaleLeaseThreshold(),
		admission.WithLogger(observability.WithComponent(logger, "admission")))
	if err != nil {
		return fmt.Errorf("initializing admission controller: %w", err)
	}
	if n, err := admit.Sweep(); err != nil {
		logger.Warn("failed to sweep stale leases", slog.String("error", err.Error()))
	} else if n > 0 {
		logger.Info("removed stale leases on startup", slog.Int("count", n))
	}

	prober := ffmpeg.NewProber(binInfo.FFprobePath).WithTimeout(cfg.FFmpeg.IntakeTimeout)
	jobRepo := repository.NewProcessingJobRepository(db.DB)

	// Running jobs are killed after the server has drained, not on the signal.
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	executor := job.NewExecutor(job.Config{
		FFmpegPath:      binInfo.FFmpegPath,
		Timeout:         cfg.FFmpeg.Timeout,
		PollInterval:    cfg.FFmpeg.PollInterval,
		WaveformTimeout: cfg.FFmpeg.WaveformTimeout,
		WaveformSize:    cfg.FFmpeg.WaveformSize,
		SampleRate:      cfg.FFmpeg.OutputSampleRate,
	}, admit,
		job.WithLogger(observability.WithComponent(logger, "job")),
		job.WithHistory(jobRepo),
		job.WithLifetime(jobCtx),
	)

	intakeService := service.NewIntakeService(sessions, prober, service.IntakeConfig{
		FFmpegPath:      binInfo.FFmpegPath,
		SampleRate:      cfg.FFmpeg.OutputSampleRate,
		Timeout:         cfg.FFmpeg.IntakeTimeout,
		WaveformTimeout: cfg.FFmpeg.WaveformTimeout,
		WaveformSize:    cfg.FFmpeg.WaveformSize,
	}).WithLogger(logger)
	restoreService := service.NewRestoreService(sessions, compiler, prober, executor).WithLogger(logger)
	historyService := service.NewHistoryService(jobRepo).WithLogger(logger)

	sched := scheduler.NewScheduler().WithLogger(observability.WithComponent(logger, "scheduler"))
	if cfg.Scheduler.Enabled {
		tasks := []scheduler.Task{
			scheduler.SweepSessionsTask(cfg.Scheduler.SweepSchedule, sessions, logger),
			scheduler.SweepLeasesTask(cfg.Scheduler.SweepSchedule, admit, logger),
			scheduler.PruneHistoryTask(cfg.Scheduler.PruneSchedule, cfg.Scheduler.HistoryRetention, historyService),
		}
		for _, task := range tasks {
			if err := sched.Add(task); err != nil {
				return fmt.Errorf("registering task %s: %w", task.Name, err)
			}
		}
	}

	serverConfig := internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     internalhttp.DefaultServerConfig().IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxConnections:  cfg.Server.MaxConnections,
		CORSOrigins:     cfg.Server.CORSOrigins,
		TrustProxy:      cfg.Server.TrustProxy,
	}
	server := internalhttp.NewServer(serverConfig, logger, version.Version)

	handlers.NewHealthHandler(version.Version).
		WithDB(db.DB).
		WithAdmission(admit).
		Register(server.API())
	handlers.NewSessionHandler(sessions).Register(server.API())
	handlers.NewProcessHandler(restoreService).Register(server.API())
	handlers.NewJobHandler(historyService).Register(server.API())

	systemHandler := handlers.NewSystemHandler(admit, compiler).WithFFmpeg(detector)
	if cfg.Scheduler.Enabled {
		systemHandler = systemHandler.WithTasks(sched)
	}
	systemHandler.Register(server.API())

	handlers.NewUploadHandler(intakeService, cfg.Server.MaxUploadSize).
		WithReadTimeout(cfg.Server.UploadTimeout).
		RegisterChiRoutes(server.Router())
	handlers.NewArtifactHandler(artifact.NewGateway(sessionsRoot)).RegisterChiRoutes(server.Router())

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Scheduler.Enabled {
		if err := sched.Start(jobCtx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			sched.Stop()
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("starting restorr server",
			slog.String("address", server.Addr()),
			slog.String("version", version.Version),
			slog.Int("max_concurrent", admit.Max()),
			slog.Duration("session_ttl", cfg.Session.TTL),
		)
		return server.ListenAndServe(gctx)
	})

	err = g.Wait()
	logger.Info("restorr server stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
