package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exam-portal/internal/clock"
	"github.com/stemsi/exam-portal/internal/config"
	"github.com/stemsi/exam-portal/internal/database"
	"github.com/stemsi/exam-portal/internal/logger"
	"github.com/stemsi/exam-portal/internal/repository"
	"github.com/stemsi/exam-portal/internal/repository/mongostore"
	"github.com/stemsi/exam-portal/internal/service"
)

// enroll imports an xlsx roster into an exam's registrations:
//
//	enroll -exam <uuid> -file roster.xlsx [-sheet Sheet1]
func main() {
	var (
		examArg string
		file    string
		sheet   string
	)
	flag.StringVar(&examArg, "exam", "", "Exam id")
	flag.StringVar(&file, "file", "", "Roster workbook with an "+service.RosterColumn+" column")
	flag.StringVar(&sheet, "sheet", "", "Sheet name (defaults to the first sheet)")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	examID, err := uuid.Parse(examArg)
	if err != nil || file == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	f, err := os.Open(file)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open roster")
	}
	identities, err := service.ReadRoster(f, sheet)
	_ = f.Close()
	if err != nil {
		log.Fatal().Err(err).Str("file", file).Msg("Failed to read roster")
	}

	var (
		exams service.ExamStore
		regs  service.RegistrationStore
	)
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()
		exams = repository.NewExamRepository(pool)
		regs = repository.NewRegistrationRepository(pool)
	case config.StoreDriverMongo:
		client, db, err := database.NewMongoDatabase(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
		}
		defer func() { _ = client.Disconnect(context.Background()) }()
		store := mongostore.New(db)
		exams = store.Exams()
		regs = store.Registrations()
	default:
		log.Fatal().Str("driver", cfg.StoreDriver).Msg("Enrollment needs a persistent store")
	}

	// Only registrations are written; questions and the answer-key cache are untouched.
	examService := service.NewExamService(exams, nil, regs, nil, clock.Real{}, log)
	res, err := examService.Enroll(ctx, service.Staff{AccountID: "enroll-cli", Admin: true}, examID, identities)
	if err != nil {
		log.Fatal().Err(err).Msg("Enrollment failed")
	}

	log.Info().
		Str("exam_id", examID.String()).
		Int("rows", len(identities)).
		Int("created", res.Created).
		Int("existing", res.Existing).
		Msg("Enrollment complete")
}
