package model

import (
	"time"

	"github.com/google/uuid"
)

// OptionCount is the fixed number of options every question carries.
const OptionCount = 4

// Question is a single multiple-choice item belonging to one exam.
type Question struct {
	ID           uuid.UUID `json:"id"`
	ExamID       uuid.UUID `json:"exam_id"`
	QuestionText string    `json:"question_text"`
	Options      []string  `json:"options"`
	CorrectIndex int       `json:"correct_index"`
	OrderNum     int       `json:"order_num"`
	CreatedAt    time.Time `json:"created_at"`
}

// QuestionForStudent is a question without the correct answer, sent to students.
type QuestionForStudent struct {
	ID           uuid.UUID `json:"id"`
	QuestionText string    `json:"question_text"`
	Options      []string  `json:"options"`
	OrderNum     int       `json:"order_num"`
}

// AddQuestionRequest is the payload for adding a question to an exam.
type AddQuestionRequest struct {
	QuestionText string   `json:"question_text" binding:"required,min=1,max=2000"`
	Options      []string `json:"options" binding:"required,len=4,dive,required,max=500"`
	CorrectIndex *int     `json:"correct_index" binding:"required,min=0,max=3"`
	OrderNum     int      `json:"order_num" binding:"min=0"`
}

// KeyEntry is one question's slot in an answer key.
type KeyEntry struct {
	Correct int
	Options int
}

// AnswerKey maps question id to its correct option.
type AnswerKey map[string]KeyEntry

// BuildAnswerKey derives the answer key for a question set.
func BuildAnswerKey(questions []Question) AnswerKey {
	key := make(AnswerKey, len(questions))
	for _, q := range questions {
		key[q.ID.String()] = KeyEntry{Correct: q.CorrectIndex, Options: len(q.Options)}
	}
	return key
}
