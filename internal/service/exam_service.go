package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-portal/internal/clock"
	"github.com/stemsi/exam-portal/internal/model"
	"github.com/stemsi/exam-portal/internal/repository"
	"github.com/stemsi/exam-portal/internal/response"
)

// Staff is the caller of scheduler operations.
type Staff struct {
	AccountID string
	Admin     bool
}

// ExamService handles exam scheduling: CRUD over exam definitions and
// their questions, plus staff-side results.
type ExamService struct {
	exams     ExamStore
	questions QuestionStore
	regs      RegistrationStore
	keys      *AnswerKeyCache
	clock     clock.Clock
	log       zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(
	exams ExamStore,
	questions QuestionStore,
	regs RegistrationStore,
	keys *AnswerKeyCache,
	clk clock.Clock,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		exams:     exams,
		questions: questions,
		regs:      regs,
		keys:      keys,
		clock:     clk,
		log:       log.With().Str("component", "exam_service").Logger(),
	}
}

// ValidateSchedule checks an exam's window and duration. Violations are
// reported, never clamped.
func ValidateSchedule(exam *model.Exam) error {
	verr := &ValidationError{}
	if exam.StartTime.IsZero() {
		verr.add("start_time", "is required")
	}
	if exam.EndTime.IsZero() {
		verr.add("end_time", "is required")
	}
	if !exam.EndTime.After(exam.StartTime) {
		verr.add("end_time", "must be after start_time")
	}
	if exam.DurationMinutes <= 0 {
		verr.add("duration_minutes", "must be positive")
	} else if exam.EndTime.After(exam.StartTime) && exam.DurationMinutes > exam.WindowMinutes() {
		verr.add("duration_minutes", fmt.Sprintf("must not exceed the exam window of %d minutes", exam.WindowMinutes()))
	}
	return verr.orNil()
}

// GetByID retrieves an exam by its UUID.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	exam, err := s.exams.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrExamNotFound
		}
		return nil, unavailable("get exam", err)
	}
	return exam, nil
}

// getOwned loads an exam and checks the caller may manage it.
func (s *ExamService) getOwned(ctx context.Context, staff Staff, id uuid.UUID) (*model.Exam, error) {
	exam, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !staff.Admin && exam.OwnerID != staff.AccountID {
		return nil, ErrNotExamOwner
	}
	return exam, nil
}

// Get returns an exam the caller may manage.
func (s *ExamService) Get(ctx context.Context, staff Staff, id uuid.UUID) (*model.Exam, error) {
	return s.getOwned(ctx, staff, id)
}

// List retrieves exams, filtered by owner unless the caller is an admin.
func (s *ExamService) List(ctx context.Context, staff Staff, page, perPage int) ([]model.Exam, *response.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}

	ownerID := staff.AccountID
	if staff.Admin {
		ownerID = ""
	}

	exams, total, err := s.exams.List(ctx, ownerID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, unavailable("list exams", err)
	}
	if exams == nil {
		exams = []model.Exam{}
	}

	return exams, response.NewPagination(page, perPage, total), nil
}

// Create validates and inserts a new exam owned by the caller.
func (s *ExamService) Create(ctx context.Context, staff Staff, exam *model.Exam) error {
	if err := ValidateSchedule(exam); err != nil {
		return err
	}
	exam.OwnerID = staff.AccountID
	if err := s.exams.Create(ctx, exam); err != nil {
		return unavailable("create exam", err)
	}

	s.log.Info().
		Str("exam_id", exam.ID.String()).
		Str("owner", exam.OwnerID).
		Msg("Exam created")
	return nil
}

// ensureMutable refuses changes to an exam with started attempts unless the
// caller is an admin.
func (s *ExamService) ensureMutable(ctx context.Context, staff Staff, examID uuid.UUID) error {
	started, err := s.regs.CountStarted(ctx, examID)
	if err != nil {
		return unavailable("count attempts", err)
	}
	if started > 0 && !staff.Admin {
		return ErrExamLocked
	}
	return nil
}

// Update replaces an exam's title and timing. Committed registrations are
// never touched.
func (s *ExamService) Update(ctx context.Context, staff Staff, exam *model.Exam) error {
	existing, err := s.getOwned(ctx, staff, exam.ID)
	if err != nil {
		return err
	}
	if err := ValidateSchedule(exam); err != nil {
		return err
	}
	if err := s.ensureMutable(ctx, staff, exam.ID); err != nil {
		return err
	}

	exam.OwnerID = existing.OwnerID
	exam.CreatedAt = existing.CreatedAt
	exam.QuestionCount = existing.QuestionCount
	if err := s.exams.Update(ctx, exam); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrExamNotFound
		}
		return unavailable("update exam", err)
	}

	s.log.Info().
		Str("exam_id", exam.ID.String()).
		Str("by", staff.AccountID).
		Bool("admin", staff.Admin).
		Msg("Exam updated")
	return nil
}

// Delete removes an exam and cascades to its questions. Exams with started
// attempts cannot be deleted, even by an admin.
func (s *ExamService) Delete(ctx context.Context, staff Staff, id uuid.UUID) error {
	if _, err := s.getOwned(ctx, staff, id); err != nil {
		return err
	}
	started, err := s.regs.CountStarted(ctx, id)
	if err != nil {
		return unavailable("count attempts", err)
	}
	if started > 0 {
		return ErrExamLocked
	}

	if err := s.exams.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrExamNotFound
		}
		return unavailable("delete exam", err)
	}
	if err := s.keys.Invalidate(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Failed to drop cached answer key")
	}

	s.log.Info().Str("exam_id", id.String()).Msg("Exam deleted")
	return nil
}

// ListQuestions returns an exam's questions including correct answers.
func (s *ExamService) ListQuestions(ctx context.Context, staff Staff, examID uuid.UUID) ([]model.Question, error) {
	if _, err := s.getOwned(ctx, staff, examID); err != nil {
		return nil, err
	}
	questions, err := s.questions.ListByExam(ctx, examID)
	if err != nil {
		return nil, unavailable("list questions", err)
	}
	return questions, nil
}

// AddQuestion appends a question and re-warms the answer key.
func (s *ExamService) AddQuestion(ctx context.Context, staff Staff, q *model.Question) error {
	if _, err := s.getOwned(ctx, staff, q.ExamID); err != nil {
		return err
	}

	verr := &ValidationError{}
	if len(q.Options) != model.OptionCount {
		verr.add("options", fmt.Sprintf("must have exactly %d entries", model.OptionCount))
	}
	if q.CorrectIndex < 0 || q.CorrectIndex >= model.OptionCount {
		verr.add("correct_index", fmt.Sprintf("must be between 0 and %d", model.OptionCount-1))
	}
	if err := verr.orNil(); err != nil {
		return err
	}

	if err := s.ensureMutable(ctx, staff, q.ExamID); err != nil {
		return err
	}
	if err := s.questions.Create(ctx, q); err != nil {
		return unavailable("create question", err)
	}
	s.rewarm(ctx, q.ExamID)
	return nil
}

// DeleteQuestion removes a question and re-warms the answer key.
func (s *ExamService) DeleteQuestion(ctx context.Context, staff Staff, examID, questionID uuid.UUID) error {
	if _, err := s.getOwned(ctx, staff, examID); err != nil {
		return err
	}
	if err := s.ensureMutable(ctx, staff, examID); err != nil {
		return err
	}
	if err := s.questions.Delete(ctx, examID, questionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrQuestionNotFound
		}
		return unavailable("delete question", err)
	}
	s.rewarm(ctx, examID)
	return nil
}

func (s *ExamService) rewarm(ctx context.Context, examID uuid.UUID) {
	if err := s.keys.Warm(ctx, examID); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to warm answer key")
		// A stale key must not be served.
		_ = s.keys.Invalidate(ctx, examID)
	}
}

// PrewarmAllCaches loads the answer key of every exam whose window has not
// closed. It runs at startup and on the cache refresh schedule.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.exams.ListOpenAfter(ctx, s.clock.Now())
	if err != nil {
		return fmt.Errorf("list open exams: %w", err)
	}

	if len(exams) == 0 {
		s.log.Debug().Msg("No open exams to prewarm")
		return nil
	}

	warmed := 0
	for i := range exams {
		if err := s.keys.Warm(ctx, exams[i].ID); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}

// Results lists every registration of an exam with its current state.
func (s *ExamService) Results(ctx context.Context, staff Staff, examID uuid.UUID) (*model.Exam, []model.ResultRow, error) {
	exam, err := s.getOwned(ctx, staff, examID)
	if err != nil {
		return nil, nil, err
	}
	regs, err := s.regs.ListByExam(ctx, examID)
	if err != nil {
		return nil, nil, unavailable("list registrations", err)
	}

	now := s.clock.Now()
	rows := make([]model.ResultRow, len(regs))
	for i := range regs {
		rows[i] = model.ResultRow{
			StudentIdentity: regs[i].StudentIdentity,
			State:           EvaluateState(exam, &regs[i], now),
			StartedAt:       regs[i].StartedAt,
			Score:           regs[i].Score,
			SubmittedAt:     regs[i].SubmittedAt,
		}
	}
	return exam, rows, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
