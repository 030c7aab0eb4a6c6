// Package memstore keeps exams and registrations in process memory. It backs
// STORE_DRIVER=memory for local runs and the HTTP tests; state is lost on
// restart.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exam-portal/internal/model"
	"github.com/stemsi/exam-portal/internal/repository"
)

// Store holds every collection behind one mutex, so each method is atomic
// the same way a conditional UPDATE is.
type Store struct {
	mu        sync.Mutex
	exams     map[uuid.UUID]model.Exam
	questions map[uuid.UUID][]model.Question
	regs      map[model.RegistrationRef]model.Registration
	drafts    map[model.RegistrationRef]map[string]model.DraftAnswer
	now       func() time.Time
}

func New() *Store {
	return &Store{
		exams:     make(map[uuid.UUID]model.Exam),
		questions: make(map[uuid.UUID][]model.Question),
		regs:      make(map[model.RegistrationRef]model.Registration),
		drafts:    make(map[model.RegistrationRef]map[string]model.DraftAnswer),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Exams() *ExamStore                 { return &ExamStore{s} }
func (s *Store) Questions() *QuestionStore         { return &QuestionStore{s} }
func (s *Store) Registrations() *RegistrationStore { return &RegistrationStore{s} }
func (s *Store) Drafts() *DraftStore               { return &DraftStore{s} }

func cloneReg(r model.Registration) model.Registration {
	r.Answers = maps.Clone(r.Answers)
	if r.Answers == nil {
		r.Answers = model.Answers{}
	}
	return r
}

// ─── Exams ─────────────────────────────────────────────────────────

type ExamStore struct{ s *Store }

func (e *ExamStore) withCount(exam model.Exam) model.Exam {
	exam.QuestionCount = len(e.s.questions[exam.ID])
	return exam
}

func (e *ExamStore) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	exam, ok := e.s.exams[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	exam = e.withCount(exam)
	return &exam, nil
}

func (e *ExamStore) List(_ context.Context, ownerID string, limit, offset int) ([]model.Exam, int, error) {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	out := []model.Exam{}
	for _, exam := range e.s.exams {
		if ownerID == "" || exam.OwnerID == ownerID {
			out = append(out, e.withCount(exam))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })

	total := len(out)
	if offset >= total {
		return []model.Exam{}, total, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (e *ExamStore) ListOpenAfter(_ context.Context, at time.Time) ([]model.Exam, error) {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	out := []model.Exam{}
	for _, exam := range e.s.exams {
		if exam.EndTime.After(at) {
			out = append(out, e.withCount(exam))
		}
	}
	return out, nil
}

func (e *ExamStore) Create(_ context.Context, exam *model.Exam) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	now := e.s.now()
	exam.ID = uuid.New()
	exam.CreatedAt, exam.UpdatedAt = now, now
	e.s.exams[exam.ID] = *exam
	return nil
}

func (e *ExamStore) Update(_ context.Context, exam *model.Exam) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	if _, ok := e.s.exams[exam.ID]; !ok {
		return repository.ErrNotFound
	}
	exam.UpdatedAt = e.s.now()
	e.s.exams[exam.ID] = *exam
	return nil
}

// Delete removes the exam with its questions, registrations and drafts.
func (e *ExamStore) Delete(_ context.Context, id uuid.UUID) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	if _, ok := e.s.exams[id]; !ok {
		return repository.ErrNotFound
	}
	delete(e.s.exams, id)
	delete(e.s.questions, id)
	for ref := range e.s.regs {
		if ref.ExamID == id {
			delete(e.s.regs, ref)
			delete(e.s.drafts, ref)
		}
	}
	return nil
}

// ─── Questions ─────────────────────────────────────────────────────

type QuestionStore struct{ s *Store }

func (q *QuestionStore) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	out := append([]model.Question{}, q.s.questions[examID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderNum < out[j].OrderNum })
	return out, nil
}

func (q *QuestionStore) Create(_ context.Context, question *model.Question) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	if _, ok := q.s.exams[question.ExamID]; !ok {
		return repository.ErrNotFound
	}
	question.ID = uuid.New()
	question.CreatedAt = q.s.now()
	q.s.questions[question.ExamID] = append(q.s.questions[question.ExamID], *question)
	return nil
}

func (q *QuestionStore) Delete(_ context.Context, examID, questionID uuid.UUID) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	list := q.s.questions[examID]
	for i := range list {
		if list[i].ID == questionID {
			q.s.questions[examID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

// ─── Registrations ─────────────────────────────────────────────────

type RegistrationStore struct{ s *Store }

func (r *RegistrationStore) Get(_ context.Context, ref model.RegistrationRef) (*model.Registration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	reg, ok := r.s.regs[ref]
	if !ok {
		return nil, repository.ErrNotFound
	}
	reg = cloneReg(reg)
	return &reg, nil
}

// FindAllowed returns at most one row: the map key is the composite identity.
func (r *RegistrationStore) FindAllowed(_ context.Context, examID uuid.UUID, identity string, limit int) ([]model.Registration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	reg, ok := r.s.regs[model.RegistrationRef{ExamID: examID, StudentIdentity: identity}]
	if !ok || !reg.Allowed || limit < 1 {
		return nil, nil
	}
	return []model.Registration{cloneReg(reg)}, nil
}

func (r *RegistrationStore) CreateIfAbsent(_ context.Context, reg *model.Registration) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.exams[reg.ExamID]; !ok {
		return false, repository.ErrNotFound
	}
	if _, ok := r.s.regs[reg.Ref()]; ok {
		return false, nil
	}
	now := r.s.now()
	r.s.regs[reg.Ref()] = model.Registration{
		ExamID:          reg.ExamID,
		StudentIdentity: reg.StudentIdentity,
		Allowed:         reg.Allowed,
		Answers:         model.Answers{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return true, nil
}

func (r *RegistrationStore) MarkStarted(_ context.Context, ref model.RegistrationRef, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	reg, ok := r.s.regs[ref]
	if !ok || reg.StartedAt != nil {
		return false, nil
	}
	reg.StartedAt = &at
	reg.UpdatedAt = r.s.now()
	r.s.regs[ref] = reg
	return true, nil
}

func (r *RegistrationStore) CommitSubmission(_ context.Context, ref model.RegistrationRef, answers model.Answers, score int, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	reg, ok := r.s.regs[ref]
	if !ok || reg.SubmittedAt != nil || reg.StartedAt == nil {
		return false, nil
	}
	reg.Answers = maps.Clone(answers)
	if reg.Answers == nil {
		reg.Answers = model.Answers{}
	}
	reg.Score = &score
	reg.SubmittedAt = &at
	reg.UpdatedAt = r.s.now()
	r.s.regs[ref] = reg
	return true, nil
}

func (r *RegistrationStore) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Registration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.Registration{}
	for ref, reg := range r.s.regs {
		if ref.ExamID == examID {
			out = append(out, cloneReg(reg))
		}
	}
	slices.SortFunc(out, repository.CompareResultOrder)
	return out, nil
}

func (r *RegistrationStore) CountStarted(_ context.Context, examID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for ref, reg := range r.s.regs {
		if ref.ExamID == examID && reg.StartedAt != nil {
			n++
		}
	}
	return n, nil
}

// ─── Drafts ────────────────────────────────────────────────────────

type DraftStore struct{ s *Store }

// UpsertBatch keeps the newest draft per question and ignores drafts of
// unknown or submitted registrations.
func (d *DraftStore) UpsertBatch(_ context.Context, drafts []model.DraftAnswer) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	for _, draft := range drafts {
		ref := model.RegistrationRef{ExamID: draft.ExamID, StudentIdentity: draft.StudentIdentity}
		reg, ok := d.s.regs[ref]
		if !ok || reg.SubmittedAt != nil {
			continue
		}
		sheet := d.s.drafts[ref]
		if sheet == nil {
			sheet = make(map[string]model.DraftAnswer)
			d.s.drafts[ref] = sheet
		}
		if prev, ok := sheet[draft.QuestionID]; ok && prev.UpdatedAt.After(draft.UpdatedAt) {
			continue
		}
		sheet[draft.QuestionID] = draft
	}
	return nil
}

func (d *DraftStore) Load(_ context.Context, ref model.RegistrationRef) (model.Answers, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	out := model.Answers{}
	for qid, draft := range d.s.drafts[ref] {
		out[qid] = draft.OptionIndex
	}
	return out, nil
}

func (d *DraftStore) PurgeSubmitted(context.Context) (int64, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	var n int64
	for ref, sheet := range d.s.drafts {
		if reg, ok := d.s.regs[ref]; !ok || reg.SubmittedAt != nil {
			n += int64(len(sheet))
			delete(d.s.drafts, ref)
		}
	}
	return n, nil
}
