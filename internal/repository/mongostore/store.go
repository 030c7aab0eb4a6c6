// Package mongostore implements the exam, question, registration and draft
// stores on MongoDB. Conditional writes use single-document FindOneAndUpdate
// and UpdateOne filters, so no cross-document transaction is required.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exam-portal/internal/model"
	"github.com/stemsi/exam-portal/internal/repository"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store groups the collections used by the engine.
type Store struct {
	db            *mongo.Database
	exams         *mongo.Collection
	questions     *mongo.Collection
	registrations *mongo.Collection
	drafts        *mongo.Collection
}

// New wraps db. Call EnsureIndexes once at startup.
func New(db *mongo.Database) *Store {
	return &Store{
		db:            db,
		exams:         db.Collection(examsCollection),
		questions:     db.Collection(questionsCollection),
		registrations: db.Collection(registrationsCollection),
		drafts:        db.Collection(draftsCollection),
	}
}

// EnsureIndexes creates the unique composite index on registrations and the
// lookup indexes used by the stores.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.registrations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "exam_id", Value: 1}, {Key: "student_identity", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_exam_student"),
	}); err != nil {
		return fmt.Errorf("registrations index: %w", err)
	}
	if _, err := s.questions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "exam_id", Value: 1}, {Key: "order_num", Value: 1}},
	}); err != nil {
		return fmt.Errorf("questions index: %w", err)
	}
	if _, err := s.drafts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "exam_id", Value: 1}, {Key: "student_identity", Value: 1}},
	}); err != nil {
		return fmt.Errorf("drafts index: %w", err)
	}
	if _, err := s.exams.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "start_time", Value: -1}},
	}); err != nil {
		return fmt.Errorf("exams index: %w", err)
	}
	return nil
}

func translate(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return repository.ErrNotFound
	}
	return err
}

// Exams returns the exam store view.
func (s *Store) Exams() *ExamStore { return &ExamStore{s} }

// Questions returns the question store view.
func (s *Store) Questions() *QuestionStore { return &QuestionStore{s} }

// Registrations returns the registration store view.
func (s *Store) Registrations() *RegistrationStore { return &RegistrationStore{s} }

// Drafts returns the draft store view.
func (s *Store) Drafts() *DraftStore { return &DraftStore{s} }

// ─── Exams ─────────────────────────────────────────────────────────

type ExamStore struct{ s *Store }

func (e *ExamStore) countQuestions(ctx context.Context, examID string) (int, error) {
	n, err := e.s.questions.CountDocuments(ctx, bson.M{"exam_id": examID})
	return int(n), err
}

func (e *ExamStore) decode(ctx context.Context, doc examDoc) (*model.Exam, error) {
	n, err := e.countQuestions(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	return doc.toModel(n)
}

func (e *ExamStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	var doc examDoc
	if err := e.s.exams.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc); err != nil {
		return nil, translate(err)
	}
	return e.decode(ctx, doc)
}

func (e *ExamStore) List(ctx context.Context, ownerID string, limit, offset int) ([]model.Exam, int, error) {
	filter := bson.M{}
	if ownerID != "" {
		filter["owner_id"] = ownerID
	}

	total, err := e.s.exams.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "start_time", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
	exams, err := e.find(ctx, filter, opts)
	return exams, int(total), err
}

func (e *ExamStore) ListOpenAfter(ctx context.Context, at time.Time) ([]model.Exam, error) {
	opts := options.Find().SetSort(bson.D{{Key: "start_time", Value: 1}})
	return e.find(ctx, bson.M{"end_time": bson.M{"$gt": at}}, opts)
}

func (e *ExamStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]model.Exam, error) {
	cursor, err := e.s.exams.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	exams := []model.Exam{}
	for cursor.Next(ctx) {
		var doc examDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		exam, err := e.decode(ctx, doc)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *exam)
	}
	return exams, cursor.Err()
}

func (e *ExamStore) Create(ctx context.Context, exam *model.Exam) error {
	now := time.Now().UTC()
	exam.ID = uuid.New()
	exam.CreatedAt, exam.UpdatedAt = now, now
	_, err := e.s.exams.InsertOne(ctx, examDoc{
		ID:              exam.ID.String(),
		Title:           exam.Title,
		OwnerID:         exam.OwnerID,
		StartTime:       exam.StartTime,
		EndTime:         exam.EndTime,
		DurationMinutes: exam.DurationMinutes,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	return err
}

func (e *ExamStore) Update(ctx context.Context, exam *model.Exam) error {
	exam.UpdatedAt = time.Now().UTC()
	res, err := e.s.exams.UpdateOne(ctx, bson.M{"_id": exam.ID.String()}, bson.M{"$set": bson.M{
		"title":            exam.Title,
		"start_time":       exam.StartTime,
		"end_time":         exam.EndTime,
		"duration_minutes": exam.DurationMinutes,
		"updated_at":       exam.UpdatedAt,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete removes the exam and cascades to its questions, registrations and drafts.
func (e *ExamStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := e.s.exams.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	byExam := bson.M{"exam_id": id.String()}
	for _, col := range []*mongo.Collection{e.s.questions, e.s.drafts, e.s.registrations} {
		if _, err := col.DeleteMany(ctx, byExam); err != nil {
			return fmt.Errorf("cascade %s: %w", col.Name(), err)
		}
	}
	return nil
}

// ─── Questions ─────────────────────────────────────────────────────

type QuestionStore struct{ s *Store }

func (q *QuestionStore) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	opts := options.Find().SetSort(bson.D{{Key: "order_num", Value: 1}, {Key: "created_at", Value: 1}})
	cursor, err := q.s.questions.Find(ctx, bson.M{"exam_id": examID.String()}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	questions := []model.Question{}
	for cursor.Next(ctx) {
		var doc questionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		question, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		questions = append(questions, question)
	}
	return questions, cursor.Err()
}

func (q *QuestionStore) Create(ctx context.Context, question *model.Question) error {
	question.ID = uuid.New()
	question.CreatedAt = time.Now().UTC()
	_, err := q.s.questions.InsertOne(ctx, questionDoc{
		ID:           question.ID.String(),
		ExamID:       question.ExamID.String(),
		QuestionText: question.QuestionText,
		Options:      question.Options,
		CorrectIndex: question.CorrectIndex,
		OrderNum:     question.OrderNum,
		CreatedAt:    question.CreatedAt,
	})
	return err
}

func (q *QuestionStore) Delete(ctx context.Context, examID, questionID uuid.UUID) error {
	res, err := q.s.questions.DeleteOne(ctx, bson.M{"_id": questionID.String(), "exam_id": examID.String()})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ─── Registrations ─────────────────────────────────────────────────

type RegistrationStore struct{ s *Store }

func (r *RegistrationStore) Get(ctx context.Context, ref model.RegistrationRef) (*model.Registration, error) {
	var doc registrationDoc
	if err := r.s.registrations.FindOne(ctx, bson.M{"_id": registrationID(ref)}).Decode(&doc); err != nil {
		return nil, translate(err)
	}
	return doc.toModel()
}

// FindAllowed queries by field equality rather than _id so documents written
// by other tools under a different _id scheme are still detected.
func (r *RegistrationStore) FindAllowed(ctx context.Context, examID uuid.UUID, identity string, limit int) ([]model.Registration, error) {
	cursor, err := r.s.registrations.Find(ctx, bson.M{
		"exam_id":          examID.String(),
		"student_identity": identity,
		"allowed":          true,
	}, options.Find().SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var regs []model.Registration
	for cursor.Next(ctx) {
		var doc registrationDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		reg, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		regs = append(regs, *reg)
	}
	return regs, cursor.Err()
}

func (r *RegistrationStore) CreateIfAbsent(ctx context.Context, reg *model.Registration) (bool, error) {
	now := time.Now().UTC()
	ref := reg.Ref()
	res, err := r.s.registrations.UpdateOne(ctx,
		bson.M{"_id": registrationID(ref)},
		bson.M{"$setOnInsert": registrationDoc{
			ID:              registrationID(ref),
			ExamID:          ref.ExamID.String(),
			StudentIdentity: ref.StudentIdentity,
			Allowed:         reg.Allowed,
			Answers:         map[string]int{},
			CreatedAt:       now,
			UpdatedAt:       now,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return res.UpsertedCount == 1, nil
}

func (r *RegistrationStore) MarkStarted(ctx context.Context, ref model.RegistrationRef, at time.Time) (bool, error) {
	res, err := r.s.registrations.UpdateOne(ctx,
		bson.M{"_id": registrationID(ref), "started_at": nil},
		bson.M{"$set": bson.M{"started_at": at.UTC(), "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (r *RegistrationStore) CommitSubmission(ctx context.Context, ref model.RegistrationRef, answers model.Answers, score int, at time.Time) (bool, error) {
	if answers == nil {
		answers = model.Answers{}
	}
	err := r.s.registrations.FindOneAndUpdate(ctx,
		bson.M{
			"_id":          registrationID(ref),
			"submitted_at": nil,
			"started_at":   bson.M{"$ne": nil},
		},
		bson.M{"$set": bson.M{
			"answers":      map[string]int(answers),
			"score":        score,
			"submitted_at": at.UTC(),
			"updated_at":   time.Now().UTC(),
		}},
	).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *RegistrationStore) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Registration, error) {
	// Ascending sorts put null first; rank pending rows after submitted ones.
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"exam_id": examID.String()}}},
		{{Key: "$addFields", Value: bson.M{
			"pending": bson.M{"$eq": bson.A{bson.M{"$ifNull": bson.A{"$submitted_at", nil}}, nil}},
		}}},
		{{Key: "$sort", Value: bson.D{
			{Key: "pending", Value: 1},
			{Key: "submitted_at", Value: 1},
			{Key: "student_identity", Value: 1},
		}}},
		{{Key: "$project", Value: bson.M{"pending": 0}}},
	}
	cursor, err := r.s.registrations.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	regs := []model.Registration{}
	for cursor.Next(ctx) {
		var doc registrationDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		reg, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		regs = append(regs, *reg)
	}
	return regs, cursor.Err()
}

func (r *RegistrationStore) CountStarted(ctx context.Context, examID uuid.UUID) (int, error) {
	n, err := r.s.registrations.CountDocuments(ctx, bson.M{
		"exam_id":    examID.String(),
		"started_at": bson.M{"$ne": nil},
	})
	return int(n), err
}

// ─── Drafts ────────────────────────────────────────────────────────

type DraftStore struct{ s *Store }

func (d *DraftStore) UpsertBatch(ctx context.Context, drafts []model.DraftAnswer) error {
	if len(drafts) == 0 {
		return nil
	}

	writes := make([]mongo.WriteModel, 0, len(drafts))
	for _, draft := range drafts {
		ref := model.RegistrationRef{ExamID: draft.ExamID, StudentIdentity: draft.StudentIdentity}
		id := draftID(ref, draft.QuestionID)
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": id, "updated_at": bson.M{"$lte": draft.UpdatedAt}}).
			SetReplacement(draftDoc{
				ID:              id,
				ExamID:          draft.ExamID.String(),
				StudentIdentity: draft.StudentIdentity,
				QuestionID:      draft.QuestionID,
				OptionIndex:     draft.OptionIndex,
				UpdatedAt:       draft.UpdatedAt,
			}).
			SetUpsert(true))
	}

	_, err := d.s.drafts.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil && !isOnlyDuplicateKey(err) {
		return err
	}
	return nil
}

// isOnlyDuplicateKey reports bulk errors caused solely by a newer draft
// already holding the _id, which the upsert filter then fails to match.
func isOnlyDuplicateKey(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != 11000 {
			return false
		}
	}
	return true
}

func (d *DraftStore) Load(ctx context.Context, ref model.RegistrationRef) (model.Answers, error) {
	cursor, err := d.s.drafts.Find(ctx, bson.M{
		"exam_id":          ref.ExamID.String(),
		"student_identity": ref.StudentIdentity,
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	answers := model.Answers{}
	for cursor.Next(ctx) {
		var doc draftDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		answers[doc.QuestionID] = doc.OptionIndex
	}
	return answers, cursor.Err()
}

func (d *DraftStore) PurgeSubmitted(ctx context.Context) (int64, error) {
	cursor, err := d.s.registrations.Find(ctx,
		bson.M{"submitted_at": bson.M{"$ne": nil}},
		options.Find().SetProjection(bson.M{"exam_id": 1, "student_identity": 1}),
	)
	if err != nil {
		return 0, err
	}
	defer cursor.Close(ctx)

	var purged int64
	for cursor.Next(ctx) {
		var doc struct {
			ExamID          string `bson:"exam_id"`
			StudentIdentity string `bson:"student_identity"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return purged, err
		}
		res, err := d.s.drafts.DeleteMany(ctx, bson.M{
			"exam_id":          doc.ExamID,
			"student_identity": doc.StudentIdentity,
		})
		if err != nil {
			return purged, err
		}
		purged += res.DeletedCount
	}
	return purged, cursor.Err()
}
