package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exam-portal/internal/model"
)

// Store contracts. Implementations return repository.ErrNotFound for
// missing records. Postgres and Mongo implementations live under
// internal/repository.

type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	List(ctx context.Context, ownerID string, limit, offset int) ([]model.Exam, int, error)
	ListOpenAfter(ctx context.Context, at time.Time) ([]model.Exam, error)
	Create(ctx context.Context, e *model.Exam) error
	Update(ctx context.Context, e *model.Exam) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type QuestionStore interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
	Create(ctx context.Context, q *model.Question) error
	Delete(ctx context.Context, examID, questionID uuid.UUID) error
}

// RegistrationStore is the only writer of registration records. MarkStarted
// and CommitSubmission are conditional writes that report whether they won.
type RegistrationStore interface {
	Get(ctx context.Context, ref model.RegistrationRef) (*model.Registration, error)
	FindAllowed(ctx context.Context, examID uuid.UUID, identity string, limit int) ([]model.Registration, error)
	CreateIfAbsent(ctx context.Context, reg *model.Registration) (bool, error)
	MarkStarted(ctx context.Context, ref model.RegistrationRef, at time.Time) (bool, error)
	CommitSubmission(ctx context.Context, ref model.RegistrationRef, answers model.Answers, score int, at time.Time) (bool, error)
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Registration, error)
	CountStarted(ctx context.Context, examID uuid.UUID) (int, error)
}

type DraftStore interface {
	UpsertBatch(ctx context.Context, drafts []model.DraftAnswer) error
	Load(ctx context.Context, ref model.RegistrationRef) (model.Answers, error)
	PurgeSubmitted(ctx context.Context) (int64, error)
}
