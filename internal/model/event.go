package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionEvent is emitted once per committed registration.
type SubmissionEvent struct {
	EventID         uuid.UUID `json:"event_id"`
	ExamID          uuid.UUID `json:"exam_id"`
	StudentIdentity string    `json:"student_identity"`
	Score           int       `json:"score"`
	QuestionCount   int       `json:"question_count"`
	SubmittedAt     time.Time `json:"submitted_at"`
	Trigger         string    `json:"trigger"`
}

// Submission triggers.
const (
	TriggerManual = "manual"
	TriggerTimer  = "timer"
)

// Monitor event types.
const (
	MonitorStarted   = "STARTED"
	MonitorSubmitted = "SUBMITTED"
)

// MonitorEvent is a compact live-monitor notification for staff.
type MonitorEvent struct {
	Type            string    `json:"type"`
	StudentIdentity string    `json:"student_identity"`
	Score           *int      `json:"score,omitempty"`
	At              time.Time `json:"at"`
}
