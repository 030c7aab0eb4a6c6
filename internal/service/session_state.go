package service

import (
	"math"
	"time"

	"github.com/stemsi/exam-portal/internal/model"
)

// AttemptDeadline returns the authoritative deadline of a started attempt:
// the earlier of the exam end and startedAt plus the allotted duration.
// It returns nil when the attempt has not started.
func AttemptDeadline(exam *model.Exam, reg *model.Registration) *time.Time {
	if reg == nil || reg.StartedAt == nil {
		return nil
	}
	deadline := reg.StartedAt.Add(exam.Duration())
	if exam.EndTime.Before(deadline) {
		deadline = exam.EndTime
	}
	return &deadline
}

// EvaluateState derives the session state from the exam schedule, the
// registration (nil when none exists yet) and now. It has no side effects.
//
// Precedence: Submitted, NotStarted, Expired, InProgress, Open. An attempt
// whose personal deadline has lapsed is Expired even while the exam window
// is still open.
func EvaluateState(exam *model.Exam, reg *model.Registration, now time.Time) model.SessionState {
	if reg != nil && reg.SubmittedAt != nil {
		return model.StateSubmitted
	}
	if now.Before(exam.StartTime) {
		return model.StateNotStarted
	}
	if !now.Before(exam.EndTime) {
		return model.StateExpired
	}
	if deadline := AttemptDeadline(exam, reg); deadline != nil {
		if now.Before(*deadline) {
			return model.StateInProgress
		}
		return model.StateExpired
	}
	return model.StateOpen
}

// BuildSessionView assembles the student-facing view for one registration.
func BuildSessionView(exam *model.Exam, reg *model.Registration, identity string, now time.Time) *model.SessionView {
	view := &model.SessionView{
		ExamID:          exam.ID,
		StudentIdentity: identity,
		State:           EvaluateState(exam, reg, now),
		StartTime:       exam.StartTime,
		EndTime:         exam.EndTime,
		DurationMinutes: exam.DurationMinutes,
	}
	if reg == nil {
		return view
	}

	view.StudentIdentity = reg.StudentIdentity
	view.StartedAt = reg.StartedAt
	view.SubmittedAt = reg.SubmittedAt
	view.Score = reg.Score
	view.Deadline = AttemptDeadline(exam, reg)

	if view.State == model.StateInProgress && view.Deadline != nil {
		view.RemainingSeconds = int64(math.Ceil(view.Deadline.Sub(now).Seconds()))
	}
	return view
}
