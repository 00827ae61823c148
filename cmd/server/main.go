package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runner/internal/config"
	"github.com/stemsi/exstem-runner/internal/database"
	"github.com/stemsi/exstem-runner/internal/engine"
	"github.com/stemsi/exstem-runner/internal/handler"
	"github.com/stemsi/exstem-runner/internal/i18n"
	"github.com/stemsi/exstem-runner/internal/logger"
	"github.com/stemsi/exstem-runner/internal/repository"
	"github.com/stemsi/exstem-runner/internal/router"
	"github.com/stemsi/exstem-runner/internal/service"
	"github.com/stemsi/exstem-runner/internal/validator"
	"github.com/stemsi/exstem-runner/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Runner")

	// ─── Initialize Validator & Messages ───────────────────────────────
	validator.Setup()
	if err := i18n.Init(cfg.DefaultLang); err != nil {
		log.Fatal().Err(err).Msg("Failed to load locales")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	monitorRepo := repository.NewMonitorRepository(pool, rdb)
	dashboardRepo := repository.NewDashboardRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	examService := service.NewExamService(examRepo, questionRepo, attemptRepo, rdb, log)
	journal := service.NewAttemptJournal(attemptRepo, rdb, log)
	sessionService := service.NewSessionService(
		examService,
		journal,
		service.NewResultQueue(rdb),
		engine.SystemClock{},
		cfg.SessionRetention,
		log,
	)

	monitorService := service.NewMonitorService(monitorRepo, rdb, log)
	dashboardService := service.NewDashboardService(dashboardRepo, examService)

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all published exams into Redis BEFORE accepting traffic.
	if err := examService.PrewarmAllCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	handlers := &router.Handlers{
		Exam:      handler.NewExamHandler(examService),
		Attempt:   handler.NewAttemptHandler(sessionService, examService),
		WS:        handler.NewWSHandler(sessionService, cfg.TickInterval, log, cfg.AllowedOrigins),
		System:    handler.NewSystemHandler(database.NewChecker(pool, rdb), sessionService, log),
		Monitor:   handler.NewMonitorHandler(examService, monitorService, cfg.MonitorRefresh, log),
		Dashboard: handler.NewDashboardHandler(dashboardService),
	}
	r, stopRouter := router.SetupRouter(handlers, cfg, log)
	defer stopRouter()

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Run Server & Background Workers ───────────────────────────────
	// Workers get their own context so they keep draining while the HTTP
	// server finishes in-flight requests.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return worker.NewAutosaveWorker(pool, rdb, log).Start(workerCtx) })
	g.Go(func() error { return worker.NewResultWorker(pool, rdb, log).Start(workerCtx) })
	g.Go(func() error {
		return worker.NewTimeoutWorker(sessionService, cfg.TickInterval, log).Start(workerCtx)
	})

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down gracefully...")

		// 1. Stop accepting new HTTP requests (5s timeout).
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		// 2. Stop workers; the timeout worker grades anything that expired
		// and the queue workers drain what is left.
		stopWorkers()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
	}
	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
