package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exam-portal/internal/model"
)

const examColumns = `e.id, e.title, e.owner_id, e.start_time, e.end_time, e.duration_minutes,
	(SELECT COUNT(*) FROM questions q WHERE q.exam_id = e.id),
	e.created_at, e.updated_at`

// ExamRepository handles exam data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExam(row rowScanner) (*model.Exam, error) {
	e := &model.Exam{}
	if err := row.Scan(&e.ID, &e.Title, &e.OwnerID, &e.StartTime, &e.EndTime,
		&e.DurationMinutes, &e.QuestionCount, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	return e, nil
}

// GetByID retrieves an exam by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e, err := scanExam(r.pool.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams e WHERE e.id = $1`, id))
	if err != nil {
		return nil, translate(err)
	}
	return e, nil
}

// List retrieves exams with pagination, newest window first.
// Pass ownerID="" to list every exam (admin).
func (r *ExamRepository) List(ctx context.Context, ownerID string, limit, offset int) ([]model.Exam, int, error) {
	where := ""
	var args []any
	if ownerID != "" {
		where = ` WHERE e.owner_id = $1`
		args = append(args, ownerID)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM exams e`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM exams e%s ORDER BY e.start_time DESC LIMIT $%d OFFSET $%d`,
		examColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	exams := []model.Exam{}
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, 0, err
		}
		exams = append(exams, *e)
	}
	return exams, total, rows.Err()
}

// ListOpenAfter returns exams whose window has not closed at the given instant.
func (r *ExamRepository) ListOpenAfter(ctx context.Context, at time.Time) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams e WHERE e.end_time > $1 ORDER BY e.start_time`, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *e)
	}
	return exams, rows.Err()
}

// Create inserts a new exam.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (title, owner_id, start_time, end_time, duration_minutes)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.OwnerID, e.StartTime, e.EndTime, e.DurationMinutes,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// Update replaces an exam's title and timing.
func (r *ExamRepository) Update(ctx context.Context, e *model.Exam) error {
	err := r.pool.QueryRow(ctx,
		`UPDATE exams
		 SET title = $1, start_time = $2, end_time = $3, duration_minutes = $4, updated_at = NOW()
		 WHERE id = $5
		 RETURNING updated_at`,
		e.Title, e.StartTime, e.EndTime, e.DurationMinutes, e.ID,
	).Scan(&e.UpdatedAt)
	return translate(err)
}

// Delete removes an exam. Questions and registrations cascade.
func (r *ExamRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM exams WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
