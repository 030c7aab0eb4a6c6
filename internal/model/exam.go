package model

import (
	"time"

	"github.com/google/uuid"
)

// Exam is a scheduled, timed exam owned by a staff member.
type Exam struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	OwnerID         string    `json:"owner_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	QuestionCount   int       `json:"question_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Duration returns the per-student attempt allowance.
func (e *Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// WindowMinutes returns the length of the exam window in whole minutes.
func (e *Exam) WindowMinutes() int {
	return int(e.EndTime.Sub(e.StartTime) / time.Minute)
}

// ExamRequest is the payload for creating or replacing an exam definition.
// Cross-field rules (window order, duration vs window) are enforced by the
// service so they surface as validation errors on every write path.
type ExamRequest struct {
	Title           string    `json:"title" binding:"required,min=3,max=255"`
	StartTime       time.Time `json:"start_time" binding:"required"`
	EndTime         time.Time `json:"end_time" binding:"required"`
	DurationMinutes int       `json:"duration_minutes" binding:"required"`
}

// ExamPaper is the question sheet served to a student with an active attempt.
type ExamPaper struct {
	ExamID    uuid.UUID            `json:"exam_id"`
	Title     string               `json:"title"`
	Deadline  time.Time            `json:"deadline"`
	Questions []QuestionForStudent `json:"questions"`
}
