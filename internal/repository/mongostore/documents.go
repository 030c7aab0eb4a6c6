package mongostore

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exam-portal/internal/model"
)

const (
	examsCollection         = "exams"
	questionsCollection     = "questions"
	registrationsCollection = "registrations"
	draftsCollection        = "registration_drafts"
)

type examDoc struct {
	ID              string    `bson:"_id"`
	Title           string    `bson:"title"`
	OwnerID         string    `bson:"owner_id"`
	StartTime       time.Time `bson:"start_time"`
	EndTime         time.Time `bson:"end_time"`
	DurationMinutes int       `bson:"duration_minutes"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

func (d examDoc) toModel(questionCount int) (*model.Exam, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	return &model.Exam{
		ID:              id,
		Title:           d.Title,
		OwnerID:         d.OwnerID,
		StartTime:       d.StartTime,
		EndTime:         d.EndTime,
		DurationMinutes: d.DurationMinutes,
		QuestionCount:   questionCount,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}, nil
}

type questionDoc struct {
	ID           string    `bson:"_id"`
	ExamID       string    `bson:"exam_id"`
	QuestionText string    `bson:"question_text"`
	Options      []string  `bson:"options"`
	CorrectIndex int       `bson:"correct_index"`
	OrderNum     int       `bson:"order_num"`
	CreatedAt    time.Time `bson:"created_at"`
}

func (d questionDoc) toModel() (model.Question, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return model.Question{}, err
	}
	examID, err := uuid.Parse(d.ExamID)
	if err != nil {
		return model.Question{}, err
	}
	return model.Question{
		ID:           id,
		ExamID:       examID,
		QuestionText: d.QuestionText,
		Options:      d.Options,
		CorrectIndex: d.CorrectIndex,
		OrderNum:     d.OrderNum,
		CreatedAt:    d.CreatedAt,
	}, nil
}

// registrationDoc is keyed "<exam_id>_<student_identity>".
type registrationDoc struct {
	ID              string         `bson:"_id"`
	ExamID          string         `bson:"exam_id"`
	StudentIdentity string         `bson:"student_identity"`
	Allowed         bool           `bson:"allowed"`
	StartedAt       *time.Time     `bson:"started_at"`
	Answers         map[string]int `bson:"answers"`
	Score           *int           `bson:"score"`
	SubmittedAt     *time.Time     `bson:"submitted_at"`
	CreatedAt       time.Time      `bson:"created_at"`
	UpdatedAt       time.Time      `bson:"updated_at"`
}

// toModel validates the document shape at the store boundary.
func (d registrationDoc) toModel() (*model.Registration, error) {
	examID, err := uuid.Parse(d.ExamID)
	if err != nil {
		return nil, err
	}
	answers := model.Answers(d.Answers)
	if answers == nil {
		answers = model.Answers{}
	}
	return &model.Registration{
		ExamID:          examID,
		StudentIdentity: d.StudentIdentity,
		Allowed:         d.Allowed,
		StartedAt:       utcPtr(d.StartedAt),
		Answers:         answers,
		Score:           d.Score,
		SubmittedAt:     utcPtr(d.SubmittedAt),
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}, nil
}

func registrationID(ref model.RegistrationRef) string {
	return ref.String()
}

type draftDoc struct {
	ID              string    `bson:"_id"`
	ExamID          string    `bson:"exam_id"`
	StudentIdentity string    `bson:"student_identity"`
	QuestionID      string    `bson:"question_id"`
	OptionIndex     int       `bson:"option_index"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

func draftID(ref model.RegistrationRef, questionID string) string {
	return ref.String() + "_" + questionID
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
