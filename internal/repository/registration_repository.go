package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exam-portal/internal/model"
)

const registrationColumns = `exam_id, student_identity, allowed, started_at, answers, score,
	submitted_at, created_at, updated_at`

// RegistrationRepository handles registration data access. Every mutation of
// started_at and submitted_at is a single conditional UPDATE.
type RegistrationRepository struct {
	pool *pgxpool.Pool
}

// NewRegistrationRepository creates a new RegistrationRepository.
func NewRegistrationRepository(pool *pgxpool.Pool) *RegistrationRepository {
	return &RegistrationRepository{pool: pool}
}

func scanRegistration(row rowScanner) (*model.Registration, error) {
	reg := &model.Registration{}
	if err := row.Scan(&reg.ExamID, &reg.StudentIdentity, &reg.Allowed, &reg.StartedAt,
		&reg.Answers, &reg.Score, &reg.SubmittedAt, &reg.CreatedAt, &reg.UpdatedAt); err != nil {
		return nil, err
	}
	if reg.Answers == nil {
		reg.Answers = model.Answers{}
	}
	return reg, nil
}

// Get reads one registration by composite key.
func (r *RegistrationRepository) Get(ctx context.Context, ref model.RegistrationRef) (*model.Registration, error) {
	reg, err := scanRegistration(r.pool.QueryRow(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE exam_id = $1 AND student_identity = $2`, ref.ExamID, ref.StudentIdentity))
	if err != nil {
		return nil, translate(err)
	}
	return reg, nil
}

// FindAllowed returns up to limit allowed registrations for an identity.
func (r *RegistrationRepository) FindAllowed(ctx context.Context, examID uuid.UUID, identity string, limit int) ([]model.Registration, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE exam_id = $1 AND student_identity = $2 AND allowed = TRUE
		 LIMIT $3`, examID, identity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}

// CreateIfAbsent inserts a registration unless one already exists for the key.
func (r *RegistrationRepository) CreateIfAbsent(ctx context.Context, reg *model.Registration) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO registrations (exam_id, student_identity, allowed)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (exam_id, student_identity) DO NOTHING`,
		reg.ExamID, reg.StudentIdentity, reg.Allowed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkStarted sets started_at only if it is still unset.
func (r *RegistrationRepository) MarkStarted(ctx context.Context, ref model.RegistrationRef, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE registrations
		 SET started_at = $1, updated_at = NOW()
		 WHERE exam_id = $2 AND student_identity = $3 AND started_at IS NULL`,
		at, ref.ExamID, ref.StudentIdentity)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CommitSubmission writes answers, score and submitted_at only if
// submitted_at is still unset.
func (r *RegistrationRepository) CommitSubmission(ctx context.Context, ref model.RegistrationRef, answers model.Answers, score int, at time.Time) (bool, error) {
	if answers == nil {
		answers = model.Answers{}
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE registrations
		 SET answers = $1, score = $2, submitted_at = $3, updated_at = NOW()
		 WHERE exam_id = $4 AND student_identity = $5
		   AND submitted_at IS NULL AND started_at IS NOT NULL`,
		answers, score, at, ref.ExamID, ref.StudentIdentity)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListByExam returns every registration of an exam, submitted first.
func (r *RegistrationRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Registration, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE exam_id = $1
		 ORDER BY submitted_at NULLS LAST, student_identity`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	regs := []model.Registration{}
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}

// CountStarted returns how many registrations of an exam have begun an attempt.
func (r *RegistrationRepository) CountStarted(ctx context.Context, examID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations WHERE exam_id = $1 AND started_at IS NOT NULL`,
		examID).Scan(&n)
	return n, err
}
