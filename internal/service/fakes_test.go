package service

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-portal/internal/model"
	"github.com/stemsi/exam-portal/internal/repository"
)

var testLog = zerolog.Nop()

type fakeExamStore struct {
	mu    sync.Mutex
	exams map[uuid.UUID]model.Exam
	err   error
}

func newFakeExamStore(exams ...model.Exam) *fakeExamStore {
	s := &fakeExamStore{exams: make(map[uuid.UUID]model.Exam)}
	for _, e := range exams {
		s.exams[e.ID] = e
	}
	return s
}

func (s *fakeExamStore) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	e, ok := s.exams[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

func (s *fakeExamStore) List(_ context.Context, ownerID string, limit, offset int) ([]model.Exam, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Exam
	for _, e := range s.exams {
		if ownerID == "" || e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	total := len(out)
	if offset >= len(out) {
		return []model.Exam{}, total, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (s *fakeExamStore) ListOpenAfter(_ context.Context, at time.Time) ([]model.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Exam
	for _, e := range s.exams {
		if e.EndTime.After(at) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeExamStore) Create(_ context.Context, e *model.Exam) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = uuid.New()
	s.exams[e.ID] = *e
	return nil
}

func (s *fakeExamStore) Update(_ context.Context, e *model.Exam) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.exams[e.ID]; !ok {
		return repository.ErrNotFound
	}
	s.exams[e.ID] = *e
	return nil
}

func (s *fakeExamStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.exams[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.exams, id)
	return nil
}

type fakeQuestionStore struct {
	mu        sync.Mutex
	questions map[uuid.UUID][]model.Question
	loads     int
}

func newFakeQuestionStore() *fakeQuestionStore {
	return &fakeQuestionStore{questions: make(map[uuid.UUID][]model.Question)}
}

func (s *fakeQuestionStore) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	return append([]model.Question(nil), s.questions[examID]...), nil
}

func (s *fakeQuestionStore) Create(_ context.Context, q *model.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q.ID = uuid.New()
	s.questions[q.ExamID] = append(s.questions[q.ExamID], *q)
	return nil
}

func (s *fakeQuestionStore) Delete(_ context.Context, examID, questionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	qs := s.questions[examID]
	for i := range qs {
		if qs[i].ID == questionID {
			s.questions[examID] = append(qs[:i], qs[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

// fakeRegistrationStore keeps conditional-write semantics of the real stores.
type fakeRegistrationStore struct {
	mu      sync.Mutex
	regs    map[model.RegistrationRef]model.Registration
	commits int
	// dupes injects extra rows returned by FindAllowed for one identity.
	dupes map[string]int
}

func newFakeRegistrationStore() *fakeRegistrationStore {
	return &fakeRegistrationStore{regs: make(map[model.RegistrationRef]model.Registration)}
}

func clone(r model.Registration) model.Registration {
	r.Answers = maps.Clone(r.Answers)
	return r
}

func (s *fakeRegistrationStore) put(r model.Registration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Answers == nil {
		r.Answers = model.Answers{}
	}
	s.regs[r.Ref()] = clone(r)
}

func (s *fakeRegistrationStore) Get(_ context.Context, ref model.RegistrationRef) (*model.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regs[ref]
	if !ok {
		return nil, repository.ErrNotFound
	}
	r = clone(r)
	return &r, nil
}

func (s *fakeRegistrationStore) FindAllowed(_ context.Context, examID uuid.UUID, identity string, limit int) ([]model.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regs[model.RegistrationRef{ExamID: examID, StudentIdentity: identity}]
	if !ok || !r.Allowed {
		return nil, nil
	}
	out := []model.Registration{clone(r)}
	for i := 0; i < s.dupes[identity] && len(out) < limit; i++ {
		out = append(out, clone(r))
	}
	return out, nil
}

func (s *fakeRegistrationStore) CreateIfAbsent(_ context.Context, reg *model.Registration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regs[reg.Ref()]; ok {
		return false, nil
	}
	s.regs[reg.Ref()] = model.Registration{
		ExamID:          reg.ExamID,
		StudentIdentity: reg.StudentIdentity,
		Allowed:         reg.Allowed,
		Answers:         model.Answers{},
	}
	return true, nil
}

func (s *fakeRegistrationStore) MarkStarted(_ context.Context, ref model.RegistrationRef, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regs[ref]
	if !ok || r.StartedAt != nil {
		return false, nil
	}
	r.StartedAt = &at
	s.regs[ref] = r
	return true, nil
}

func (s *fakeRegistrationStore) CommitSubmission(_ context.Context, ref model.RegistrationRef, answers model.Answers, score int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regs[ref]
	if !ok || r.SubmittedAt != nil || r.StartedAt == nil {
		return false, nil
	}
	r.Answers = maps.Clone(answers)
	r.Score = &score
	r.SubmittedAt = &at
	s.regs[ref] = r
	s.commits++
	return true, nil
}

func (s *fakeRegistrationStore) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Registration{}
	for _, r := range s.regs {
		if r.ExamID == examID {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentIdentity < out[j].StudentIdentity })
	return out, nil
}

func (s *fakeRegistrationStore) CountStarted(_ context.Context, examID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.regs {
		if r.ExamID == examID && r.StartedAt != nil {
			n++
		}
	}
	return n, nil
}

func (s *fakeRegistrationStore) commitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

type fakeDraftStore struct {
	mu     sync.Mutex
	drafts map[model.RegistrationRef]model.Answers
}

func newFakeDraftStore() *fakeDraftStore {
	return &fakeDraftStore{drafts: make(map[model.RegistrationRef]model.Answers)}
}

func (s *fakeDraftStore) UpsertBatch(_ context.Context, drafts []model.DraftAnswer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range drafts {
		ref := model.RegistrationRef{ExamID: d.ExamID, StudentIdentity: d.StudentIdentity}
		if s.drafts[ref] == nil {
			s.drafts[ref] = model.Answers{}
		}
		s.drafts[ref][d.QuestionID] = d.OptionIndex
	}
	return nil
}

func (s *fakeDraftStore) Load(_ context.Context, ref model.RegistrationRef) (model.Answers, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := model.Answers{}
	maps.Copy(out, s.drafts[ref])
	return out, nil
}

func (s *fakeDraftStore) PurgeSubmitted(context.Context) (int64, error) { return 0, nil }

// ─── Fixtures ──────────────────────────────────────────────────────

func at(hhmmss string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", "2026-03-02 "+hhmmss)
	if err != nil {
		panic(err)
	}
	return t
}

// scenarioExam is the [10:00, 11:00] window with a 30 minute allowance.
func scenarioExam() model.Exam {
	return model.Exam{
		ID:              uuid.New(),
		Title:           "Physics Midterm",
		OwnerID:         "staff-1",
		StartTime:       at("10:00:00"),
		EndTime:         at("11:00:00"),
		DurationMinutes: 30,
	}
}

// seedQuestions adds four questions with correct indices 0..3.
func seedQuestions(qs *fakeQuestionStore, examID uuid.UUID) []model.Question {
	out := make([]model.Question, 4)
	for i := range out {
		q := model.Question{
			ExamID:       examID,
			QuestionText: "Q" + string(rune('1'+i)),
			Options:      []string{"a", "b", "c", "d"},
			CorrectIndex: i,
			OrderNum:     i,
		}
		_ = qs.Create(context.Background(), &q)
		out[i] = q
	}
	return out
}

func ptr[T any](v T) *T { return &v }
