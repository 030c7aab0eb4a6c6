package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exam-portal/internal/model"
)

// DraftRepository persists in-progress answers so a reload or a Redis flush
// does not lose a student's sheet.
type DraftRepository struct {
	pool *pgxpool.Pool
}

// NewDraftRepository creates a new DraftRepository.
func NewDraftRepository(pool *pgxpool.Pool) *DraftRepository {
	return &DraftRepository{pool: pool}
}

// UpsertBatch writes a batch of drafts in one round trip. A draft only
// overwrites an older one. Drafts of submitted registrations are ignored.
func (r *DraftRepository) UpsertBatch(ctx context.Context, drafts []model.DraftAnswer) error {
	if len(drafts) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, d := range drafts {
		batch.Queue(
			`INSERT INTO registration_drafts (exam_id, student_identity, question_id, option_index, updated_at)
			 SELECT $1::uuid, $2::varchar, $3::uuid, $4::smallint, $5::timestamptz
			 WHERE EXISTS (
			     SELECT 1 FROM registrations
			     WHERE exam_id = $1::uuid AND student_identity = $2::varchar AND submitted_at IS NULL
			 )
			 ON CONFLICT (exam_id, student_identity, question_id)
			 DO UPDATE SET option_index = EXCLUDED.option_index, updated_at = EXCLUDED.updated_at
			 WHERE registration_drafts.updated_at <= EXCLUDED.updated_at`,
			d.ExamID, d.StudentIdentity, d.QuestionID, d.OptionIndex, d.UpdatedAt,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range drafts {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// Load returns the persisted draft sheet of a registration.
func (r *DraftRepository) Load(ctx context.Context, ref model.RegistrationRef) (model.Answers, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id::text, option_index
		 FROM registration_drafts
		 WHERE exam_id = $1 AND student_identity = $2`, ref.ExamID, ref.StudentIdentity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := model.Answers{}
	for rows.Next() {
		var qid string
		var idx int
		if err := rows.Scan(&qid, &idx); err != nil {
			return nil, err
		}
		answers[qid] = idx
	}
	return answers, rows.Err()
}

// PurgeSubmitted deletes drafts of registrations that have been committed.
func (r *DraftRepository) PurgeSubmitted(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM registration_drafts d
		 USING registrations r
		 WHERE d.exam_id = r.exam_id
		   AND d.student_identity = r.student_identity
		   AND r.submitted_at IS NOT NULL`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
