package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-portal/internal/clock"
	"github.com/stemsi/exam-portal/internal/config"
	"github.com/stemsi/exam-portal/internal/lock"
	"github.com/stemsi/exam-portal/internal/model"
	"github.com/stemsi/exam-portal/internal/repository"
)

// SubmissionService is the single writer of answers, score and submittedAt.
// Each commit re-reads the registration, checks the authoritative deadline
// and performs one conditional write, all inside a per-registration lock.
type SubmissionService struct {
	regs   RegistrationStore
	exams  ExamStore
	keys   *AnswerKeyCache
	locker lock.Locker
	clock  clock.Clock
	rdb    *redis.Client
	log    zerolog.Logger
}

// NewSubmissionService creates a SubmissionService. rdb may be nil; draft
// cleanup, monitor and event fan-out are then skipped.
func NewSubmissionService(
	regs RegistrationStore,
	exams ExamStore,
	keys *AnswerKeyCache,
	locker lock.Locker,
	clk clock.Clock,
	rdb *redis.Client,
	log zerolog.Logger,
) *SubmissionService {
	if locker == nil {
		locker = lock.Noop{}
	}
	return &SubmissionService{
		regs:   regs,
		exams:  exams,
		keys:   keys,
		locker: locker,
		clock:  clk,
		rdb:    rdb,
		log:    log.With().Str("component", "submission").Logger(),
	}
}

// Commit records the final answer sheet of a registration exactly once.
// scoredAt is the instant the submission was initiated; it is checked against
// the registration's own deadline, inclusive. A registration that already has
// a submission yields Accepted=false with the stored score and timestamp.
func (s *SubmissionService) Commit(ctx context.Context, ref model.RegistrationRef, answers model.Answers, scoredAt time.Time, trigger string) (*model.CommitResult, error) {
	unlock, err := s.locker.Lock(ctx, config.CacheKey.RegistrationLockKey(ref.ExamID.String(), ref.StudentIdentity))
	if err != nil {
		return nil, unavailable("lock registration", err)
	}
	defer unlock()

	reg, err := s.regs.Get(ctx, ref)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotRegistered
		}
		return nil, unavailable("read registration", err)
	}
	if reg.SubmittedAt != nil {
		return priorResult(reg), nil
	}
	if reg.StartedAt == nil {
		return nil, ErrAttemptNotStarted
	}

	exam, err := s.exams.GetByID(ctx, ref.ExamID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrExamNotFound
		}
		return nil, unavailable("read exam", err)
	}

	deadline := AttemptDeadline(exam, reg)
	if scoredAt.After(*deadline) {
		s.log.Info().
			Str("exam_id", ref.ExamID.String()).
			Str("student", ref.StudentIdentity).
			Time("deadline", *deadline).
			Time("scored_at", scoredAt).
			Str("trigger", trigger).
			Msg("Submission refused after deadline")
		return nil, ErrDeadlinePassed
	}

	key, err := s.keys.Get(ctx, ref.ExamID)
	if err != nil {
		return nil, err
	}

	sheet := model.Answers{}
	maps.Copy(sheet, answers)
	score := Score(sheet, key)
	submittedAt := s.clock.Now().UTC().Truncate(time.Millisecond)

	won, err := s.regs.CommitSubmission(ctx, ref, sheet, score, submittedAt)
	if err != nil {
		return nil, unavailable("commit submission", err)
	}
	if !won {
		current, err := s.regs.Get(ctx, ref)
		if err != nil {
			return nil, unavailable("re-read registration", err)
		}
		if current.SubmittedAt == nil {
			return nil, fmt.Errorf("%w: conditional commit matched no record", ErrStoreUnavailable)
		}
		return priorResult(current), nil
	}

	s.log.Info().
		Str("exam_id", ref.ExamID.String()).
		Str("student", ref.StudentIdentity).
		Int("score", score).
		Int("questions", len(key)).
		Str("trigger", trigger).
		Msg("Submission committed")

	s.afterCommit(ctx, ref, score, len(key), submittedAt, trigger)

	return &model.CommitResult{
		Accepted:    true,
		Status:      model.SubmissionAccepted,
		Score:       score,
		SubmittedAt: submittedAt,
	}, nil
}

func priorResult(reg *model.Registration) *model.CommitResult {
	res := &model.CommitResult{
		Accepted:    false,
		Status:      model.SubmissionAlreadySubmitted,
		SubmittedAt: reg.SubmittedAt.UTC(),
	}
	if reg.Score != nil {
		res.Score = *reg.Score
	}
	return res
}

// afterCommit clears drafts and fans the submission out to the event queue
// and the live monitor. Failures are logged; the commit already stands.
func (s *SubmissionService) afterCommit(ctx context.Context, ref model.RegistrationRef, score, questionCount int, at time.Time, trigger string) {
	if s.rdb == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	examID := ref.ExamID.String()

	event, err := json.Marshal(model.SubmissionEvent{
		EventID:         uuid.New(),
		ExamID:          ref.ExamID,
		StudentIdentity: ref.StudentIdentity,
		Score:           score,
		QuestionCount:   questionCount,
		SubmittedAt:     at,
		Trigger:         trigger,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to marshal submission event")
		return
	}
	monitor, err := json.Marshal(model.MonitorEvent{
		Type:            model.MonitorSubmitted,
		StudentIdentity: ref.StudentIdentity,
		Score:           &score,
		At:              at,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to marshal monitor event")
		return
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, config.CacheKey.RegistrationDraftKey(examID, ref.StudentIdentity))
	pipe.RPush(ctx, config.WorkerKey.SubmissionEventsQueue, event)
	pipe.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID), monitor)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().
			Err(err).
			Str("exam_id", examID).
			Str("student", ref.StudentIdentity).
			Msg("Post-commit fan-out failed")
	}
}
