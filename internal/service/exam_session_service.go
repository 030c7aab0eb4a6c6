package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-portal/internal/clock"
	"github.com/stemsi/exam-portal/internal/config"
	"github.com/stemsi/exam-portal/internal/model"
	"github.com/stemsi/exam-portal/internal/repository"
)

// draftRetention keeps a draft sheet in Redis this long past the deadline.
const draftRetention = time.Hour

// ExamSessionService is the student-facing entry point of the session engine.
type ExamSessionService struct {
	exams     ExamStore
	questions QuestionStore
	regs      RegistrationStore
	drafts    DraftStore
	resolver  *RegistrationResolver
	submitter *SubmissionService
	keys      *AnswerKeyCache
	rdb       *redis.Client
	clock     clock.Clock

	requireEnrollment bool
	log               zerolog.Logger
}

// SessionDeps groups the collaborators of ExamSessionService.
type SessionDeps struct {
	Exams     ExamStore
	Questions QuestionStore
	Regs      RegistrationStore
	Drafts    DraftStore
	Resolver  *RegistrationResolver
	Submitter *SubmissionService
	Keys      *AnswerKeyCache
	Redis     *redis.Client
	Clock     clock.Clock
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(deps SessionDeps, requireEnrollment bool, log zerolog.Logger) *ExamSessionService {
	return &ExamSessionService{
		exams:             deps.Exams,
		questions:         deps.Questions,
		regs:              deps.Regs,
		drafts:            deps.Drafts,
		resolver:          deps.Resolver,
		submitter:         deps.Submitter,
		keys:              deps.Keys,
		rdb:               deps.Redis,
		clock:             deps.Clock,
		requireEnrollment: requireEnrollment,
		log:               log.With().Str("component", "exam_session").Logger(),
	}
}

// Now exposes the engine clock to transports that drive countdowns.
func (s *ExamSessionService) Now() time.Time {
	return s.clock.Now()
}

func (s *ExamSessionService) getExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrExamNotFound
		}
		return nil, unavailable("get exam", err)
	}
	return exam, nil
}

// ResolveRegistration returns the student's registration for an exam.
func (s *ExamSessionService) ResolveRegistration(ctx context.Context, examID uuid.UUID, student Student) (*model.Registration, error) {
	if _, err := s.getExam(ctx, examID); err != nil {
		return nil, err
	}
	return s.resolver.Resolve(ctx, examID, student)
}

// GetSessionState returns the current session view. Without a registration
// the view reflects the exam schedule only, unless enrollment is required.
func (s *ExamSessionService) GetSessionState(ctx context.Context, examID uuid.UUID, student Student) (*model.SessionView, error) {
	exam, err := s.getExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	reg, err := s.resolver.Resolve(ctx, examID, student)
	if err != nil && !(errors.Is(err, ErrNotRegistered) && !s.requireEnrollment) {
		return nil, err
	}

	view := BuildSessionView(exam, reg, student.AccountID, s.clock.Now())
	if view.State == model.StateInProgress {
		drafts, err := s.loadDrafts(ctx, reg.Ref())
		if err != nil {
			s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to load drafts")
		}
		view.Drafts = drafts
	}
	return view, nil
}

// StartAttempt moves an Open session to InProgress. Repeating it on a
// started or submitted attempt returns the current view unchanged.
func (s *ExamSessionService) StartAttempt(ctx context.Context, examID uuid.UUID, student Student) (*model.SessionView, error) {
	exam, err := s.getExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	reg, err := s.resolver.Resolve(ctx, examID, student)
	if err != nil && !errors.Is(err, ErrNotRegistered) {
		return nil, err
	}

	now := s.clock.Now()
	switch EvaluateState(exam, reg, now) {
	case model.StateNotStarted:
		return nil, ErrExamNotOpen
	case model.StateExpired:
		return nil, ErrExamExpired
	case model.StateInProgress, model.StateSubmitted:
		return BuildSessionView(exam, reg, student.AccountID, now), nil
	}

	if reg == nil {
		if s.requireEnrollment || student.AccountID == "" {
			return nil, ErrNotRegistered
		}
		if reg, err = s.selfRegister(ctx, examID, student); err != nil {
			return nil, err
		}
	}

	startedAt := now.UTC().Truncate(time.Millisecond)
	won, err := s.regs.MarkStarted(ctx, reg.Ref(), startedAt)
	if err != nil {
		return nil, unavailable("mark started", err)
	}

	current, err := s.regs.Get(ctx, reg.Ref())
	if err != nil {
		return nil, unavailable("re-read registration", err)
	}

	if won {
		s.log.Info().
			Str("exam_id", examID.String()).
			Str("student", current.StudentIdentity).
			Msg("Attempt started")
		s.publishMonitor(ctx, examID, model.MonitorEvent{
			Type:            model.MonitorStarted,
			StudentIdentity: current.StudentIdentity,
			At:              startedAt,
		})
	}

	return BuildSessionView(exam, current, student.AccountID, s.clock.Now()), nil
}

// selfRegister creates an allowed registration under the account id. Any
// existing record under either identity, blocked ones included, belongs to
// the student already, so a second one is never created beside it.
func (s *ExamSessionService) selfRegister(ctx context.Context, examID uuid.UUID, student Student) (*model.Registration, error) {
	for _, id := range s.resolver.Candidates(student) {
		_, err := s.regs.Get(ctx, model.RegistrationRef{ExamID: examID, StudentIdentity: id})
		switch {
		case err == nil:
			return nil, ErrNotRegistered
		case !errors.Is(err, repository.ErrNotFound):
			return nil, unavailable("check registration", err)
		}
	}

	if _, err := s.regs.CreateIfAbsent(ctx, &model.Registration{
		ExamID:          examID,
		StudentIdentity: student.AccountID,
		Allowed:         true,
	}); err != nil {
		return nil, unavailable("create registration", err)
	}
	// Re-resolve so a concurrent or pre-existing record is seen the same way.
	return s.resolver.Resolve(ctx, examID, student)
}

// RecordAnswer stores one draft answer for an in-progress attempt. Drafts
// never touch the committed answer sheet.
func (s *ExamSessionService) RecordAnswer(ctx context.Context, examID uuid.UUID, student Student, questionID string, optionIndex int) error {
	exam, err := s.getExam(ctx, examID)
	if err != nil {
		return err
	}
	reg, err := s.resolver.Resolve(ctx, examID, student)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	if state := EvaluateState(exam, reg, now); state != model.StateInProgress {
		return fmt.Errorf("%w: state %s", ErrSessionNotActive, state)
	}

	key, err := s.keys.Get(ctx, examID)
	if err != nil {
		return err
	}
	entry, ok := key[questionID]
	if !ok {
		return ErrQuestionNotFound
	}
	if optionIndex < 0 || optionIndex >= entry.Options {
		verr := &ValidationError{}
		verr.add("option_index", fmt.Sprintf("must be between 0 and %d", entry.Options-1))
		return verr
	}

	draft := model.DraftAnswer{
		ExamID:          examID,
		StudentIdentity: reg.StudentIdentity,
		QuestionID:      questionID,
		OptionIndex:     optionIndex,
		UpdatedAt:       now.UTC(),
	}

	if s.rdb == nil {
		if err := s.drafts.UpsertBatch(ctx, []model.DraftAnswer{draft}); err != nil {
			return unavailable("save draft", err)
		}
		return nil
	}

	payload, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}

	draftKey := config.CacheKey.RegistrationDraftKey(examID.String(), reg.StudentIdentity)
	deadline := AttemptDeadline(exam, reg)

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, draftKey, questionID, optionIndex)
	pipe.Expire(ctx, draftKey, deadline.Add(draftRetention).Sub(now))
	pipe.RPush(ctx, config.WorkerKey.PersistDraftsQueue, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("save draft", err)
	}
	return nil
}

// loadDrafts returns the draft sheet of a registration, from Redis when present
// and from the draft store otherwise.
func (s *ExamSessionService) loadDrafts(ctx context.Context, ref model.RegistrationRef) (model.Answers, error) {
	if s.rdb != nil {
		raw, err := s.rdb.HGetAll(ctx, config.CacheKey.RegistrationDraftKey(ref.ExamID.String(), ref.StudentIdentity)).Result()
		if err == nil && len(raw) > 0 {
			answers := make(model.Answers, len(raw))
			for qid, v := range raw {
				idx, convErr := strconv.Atoi(v)
				if convErr != nil {
					continue
				}
				answers[qid] = idx
			}
			return answers, nil
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Msg("Draft cache read failed, using store")
		}
	}

	answers, err := s.drafts.Load(ctx, ref)
	if err != nil {
		return model.Answers{}, unavailable("load drafts", err)
	}
	return answers, nil
}

// Submit commits the student's answers. A nil answers map commits the
// stored draft sheet. The deadline check uses the arrival time of the call.
func (s *ExamSessionService) Submit(ctx context.Context, examID uuid.UUID, student Student, answers model.Answers) (*model.CommitResult, error) {
	return s.submit(ctx, examID, student, answers, s.clock.Now(), model.TriggerManual)
}

// AutoSubmit commits the draft sheet when the server-side countdown fires.
// firedAt is the instant the countdown reached zero.
func (s *ExamSessionService) AutoSubmit(ctx context.Context, examID uuid.UUID, student Student, firedAt time.Time) (*model.CommitResult, error) {
	if now := s.clock.Now(); firedAt.After(now) {
		firedAt = now
	}
	return s.submit(ctx, examID, student, nil, firedAt, model.TriggerTimer)
}

func (s *ExamSessionService) submit(ctx context.Context, examID uuid.UUID, student Student, answers model.Answers, scoredAt time.Time, trigger string) (*model.CommitResult, error) {
	reg, err := s.resolver.Resolve(ctx, examID, student)
	if err != nil {
		return nil, err
	}

	if answers == nil && reg.SubmittedAt == nil {
		drafts, err := s.loadDrafts(ctx, reg.Ref())
		if err != nil {
			return nil, err
		}
		answers = drafts
	}

	return s.submitter.Commit(ctx, reg.Ref(), answers, scoredAt, trigger)
}

// ExamPaper returns the questions of an in-progress attempt without answers.
func (s *ExamSessionService) ExamPaper(ctx context.Context, examID uuid.UUID, student Student) (*model.ExamPaper, error) {
	exam, err := s.getExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	reg, err := s.resolver.Resolve(ctx, examID, student)
	if err != nil {
		return nil, err
	}
	if state := EvaluateState(exam, reg, s.clock.Now()); state != model.StateInProgress {
		return nil, fmt.Errorf("%w: state %s", ErrSessionNotActive, state)
	}

	questions, err := s.questions.ListByExam(ctx, examID)
	if err != nil {
		return nil, unavailable("list questions", err)
	}

	paper := &model.ExamPaper{
		ExamID:    exam.ID,
		Title:     exam.Title,
		Deadline:  *AttemptDeadline(exam, reg),
		Questions: make([]model.QuestionForStudent, len(questions)),
	}
	for i, q := range questions {
		paper.Questions[i] = model.QuestionForStudent{
			ID:           q.ID,
			QuestionText: q.QuestionText,
			Options:      q.Options,
			OrderNum:     q.OrderNum,
		}
	}
	return paper, nil
}

func (s *ExamSessionService) publishMonitor(ctx context.Context, examID uuid.UUID, event model.MonitorEvent) {
	if s.rdb == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID.String()), payload).Err(); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Monitor publish failed")
	}
}
