package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of one student's attempt at one exam.
type SessionState string

const (
	StateSubmitted  SessionState = "SUBMITTED"
	StateNotStarted SessionState = "NOT_STARTED"
	StateExpired    SessionState = "EXPIRED"
	StateInProgress SessionState = "IN_PROGRESS"
	StateOpen       SessionState = "OPEN"
)

// Terminal reports whether no further student action is possible.
func (s SessionState) Terminal() bool {
	return s == StateSubmitted || s == StateExpired
}

// Answers maps question id to the selected option index.
type Answers map[string]int

// RegistrationRef is the composite identity of a registration.
type RegistrationRef struct {
	ExamID          uuid.UUID `json:"exam_id"`
	StudentIdentity string    `json:"student_identity"`
}

func (r RegistrationRef) String() string {
	return r.ExamID.String() + "_" + r.StudentIdentity
}

// Registration links one student to one exam and carries the attempt outcome.
type Registration struct {
	ExamID          uuid.UUID  `json:"exam_id"`
	StudentIdentity string     `json:"student_identity"`
	Allowed         bool       `json:"allowed"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	Answers         Answers    `json:"answers"`
	Score           *int       `json:"score,omitempty"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Ref returns the registration's composite identity.
func (r *Registration) Ref() RegistrationRef {
	return RegistrationRef{ExamID: r.ExamID, StudentIdentity: r.StudentIdentity}
}

// SessionView is what a student sees for one exam: state, authoritative
// deadline and any draft answers held server-side.
type SessionView struct {
	ExamID           uuid.UUID    `json:"exam_id"`
	StudentIdentity  string       `json:"student_identity"`
	State            SessionState `json:"state"`
	StartTime        time.Time    `json:"start_time"`
	EndTime          time.Time    `json:"end_time"`
	DurationMinutes  int          `json:"duration_minutes"`
	Deadline         *time.Time   `json:"deadline,omitempty"`
	RemainingSeconds int64        `json:"remaining_seconds"`
	StartedAt        *time.Time   `json:"started_at,omitempty"`
	SubmittedAt      *time.Time   `json:"submitted_at,omitempty"`
	Score            *int         `json:"score,omitempty"`
	Drafts           Answers      `json:"drafts,omitempty"`
}

// Submission outcomes reported to the caller.
const (
	SubmissionAccepted         = "SUBMITTED"
	SubmissionAlreadySubmitted = "ALREADY_SUBMITTED"
)

// CommitResult is the outcome of a commit attempt. Accepted is false when an
// earlier commit already recorded the result; Score and SubmittedAt then carry
// the stored values.
type CommitResult struct {
	Accepted    bool      `json:"accepted"`
	Status      string    `json:"status"`
	Score       int       `json:"score"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// RecordAnswerRequest is the payload for saving one draft answer.
type RecordAnswerRequest struct {
	QuestionID  uuid.UUID `json:"question_id" binding:"required"`
	OptionIndex *int      `json:"option_index" binding:"required,min=0,max=3"`
}

// SubmitRequest is the payload for a final submission. A nil Answers map
// commits the draft sheet held for the registration.
type SubmitRequest struct {
	Answers Answers `json:"answers"`
}

// ResultRow is one line of an exam's results listing.
type ResultRow struct {
	StudentIdentity string       `json:"student_identity"`
	State           SessionState `json:"state"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
	Score           *int         `json:"score,omitempty"`
	SubmittedAt     *time.Time   `json:"submitted_at,omitempty"`
}

// DraftAnswer is one in-progress answer held before the final commit.
type DraftAnswer struct {
	ExamID          uuid.UUID `json:"exam_id"`
	StudentIdentity string    `json:"student_identity"`
	QuestionID      string    `json:"question_id"`
	OptionIndex     int       `json:"option_index"`
	UpdatedAt       time.Time `json:"updated_at"`
}
