package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-portal/internal/clock"
	"github.com/stemsi/exam-portal/internal/config"
	"github.com/stemsi/exam-portal/internal/database"
	"github.com/stemsi/exam-portal/internal/events"
	"github.com/stemsi/exam-portal/internal/handler"
	"github.com/stemsi/exam-portal/internal/lock"
	"github.com/stemsi/exam-portal/internal/logger"
	"github.com/stemsi/exam-portal/internal/middleware"
	"github.com/stemsi/exam-portal/internal/repository"
	"github.com/stemsi/exam-portal/internal/repository/memstore"
	"github.com/stemsi/exam-portal/internal/repository/mongostore"
	"github.com/stemsi/exam-portal/internal/router"
	"github.com/stemsi/exam-portal/internal/service"
	"github.com/stemsi/exam-portal/internal/validator"
	"github.com/stemsi/exam-portal/internal/worker"
)

// stores is the driver-selected set of persistence backends.
type stores struct {
	exams     service.ExamStore
	questions service.QuestionStore
	regs      service.RegistrationStore
	drafts    service.DraftStore
	close     func()
}

func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) stores {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		return stores{
			exams:     repository.NewExamRepository(pool),
			questions: repository.NewQuestionRepository(pool),
			regs:      repository.NewRegistrationRepository(pool),
			drafts:    repository.NewDraftRepository(pool),
			close:     pool.Close,
		}

	case config.StoreDriverMongo:
		client, db, err := database.NewMongoDatabase(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
		}
		store := mongostore.New(db)
		if err := store.EnsureIndexes(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to create MongoDB indexes")
		}
		return stores{
			exams:     store.Exams(),
			questions: store.Questions(),
			regs:      store.Registrations(),
			drafts:    store.Drafts(),
			close: func() {
				disconnectCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				_ = client.Disconnect(disconnectCtx)
			},
		}

	case config.StoreDriverMemory:
		log.Warn().Msg("Using in-memory store; data is lost on restart")
		store := memstore.New()
		return stores{
			exams:     store.Exams(),
			questions: store.Questions(),
			regs:      store.Registrations(),
			drafts:    store.Drafts(),
			close:     func() {},
		}
	}

	log.Fatal().Str("driver", cfg.StoreDriver).Msg("Unknown STORE_DRIVER")
	return stores{}
}

func newLocker(cfg *config.Config, rdb *redis.Client, log zerolog.Logger) lock.Locker {
	switch cfg.SubmitLock {
	case config.SubmitLockRedis:
		return lock.NewRedisLocker(rdb, cfg.SubmitLockTTL)
	case config.SubmitLockNone:
		log.Warn().Msg("Submit lock disabled; relying on conditional writes only")
		return lock.Noop{}
	default:
		return lock.NewKeyedMutex()
	}
}

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("store", cfg.StoreDriver).
		Str("submit_lock", cfg.SubmitLock).
		Msg("Starting Exam Portal")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to Stores ─────────────────────────────────────────────
	st := openStores(ctx, cfg, log)
	defer st.close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Services ──────────────────────────────────────────
	clk := clock.Real{}
	authService := service.NewAuthService(cfg)
	keys := service.NewAnswerKeyCache(st.questions, rdb, log)
	examService := service.NewExamService(st.exams, st.questions, st.regs, keys, clk, log)
	submitter := service.NewSubmissionService(st.regs, st.exams, keys, newLocker(cfg, rdb, log), clk, rdb, log)
	sessionService := service.NewExamSessionService(service.SessionDeps{
		Exams:     st.exams,
		Questions: st.questions,
		Regs:      st.regs,
		Drafts:    st.drafts,
		Resolver:  service.NewRegistrationResolver(st.regs, cfg.StudentHandleDomain, log),
		Submitter: submitter,
		Keys:      keys,
		Redis:     rdb,
		Clock:     clk,
	}, cfg.RequireEnrollment, log)
	monitorService := service.NewMonitorService(examService, st.regs, rdb, clk)

	// ─── Submission Events ─────────────────────────────────────────────
	publisher, err := events.NewPublisher(events.Config{
		KafkaBrokers: cfg.KafkaBrokers,
		Topic:        cfg.SubmissionTopic,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create submission publisher")
	}
	defer publisher.Close()

	workerCtx, workerCancel := context.WithCancel(context.Background())

	// The in-process channel drops messages nobody listens to.
	if publisher.Transport() == events.TransportInProcess {
		if err := events.Consume(workerCtx, publisher, events.LogSubmission(log), log); err != nil {
			log.Fatal().Err(err).Msg("Failed to subscribe to submission events")
		}
	}

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		StudentPortal: handler.NewStudentPortalHandler(sessionService, log),
		Exam:          handler.NewExamHandler(examService, log),
		WS:            handler.NewWSHandler(sessionService, clk, log, cfg.AllowedOrigins),
		Monitor:       handler.NewMonitorHandler(rdb, monitorService, log),
		System:        handler.NewSystemHandler(rdb, clk, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	draftWorker := worker.NewDraftWorker(st.drafts, rdb, log)
	relayWorker := worker.NewSubmissionRelayWorker(publisher, rdb, log)

	workersDone := make(chan struct{}, 2)
	go func() { draftWorker.Start(workerCtx); workersDone <- struct{}{} }()
	go func() { relayWorker.Start(workerCtx); workersDone <- struct{}{} }()

	maintenance, err := worker.NewMaintenance(worker.Schedule{
		CacheRefresh: cfg.CacheRefreshSchedule,
		DraftPurge:   cfg.DraftPurgeSchedule,
	}, examService, st.drafts, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid maintenance schedule")
	}
	maintenance.Start()

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	stopCleanup := make(chan struct{})
	go limiter.RunCleanup(stopCleanup)

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load answer keys of open exams BEFORE accepting traffic so the first
	// submissions do not all miss the cache at once.
	if err := examService.PrewarmAllCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, limiter, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop periodic jobs and the limiter sweep.
	maintenance.Stop()
	close(stopCleanup)

	// 3. Stop background workers and wait for queues to drain.
	workerCancel()
	drainTimeout := time.After(10 * time.Second)
drain:
	for i := 0; i < 2; i++ {
		select {
		case <-workersDone:
		case <-drainTimeout:
			log.Warn().Msg("Workers did not drain in time")
			break drain
		}
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
