package websocket

import (
	"github.com/stemsi/exam-portal/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestPayload is every client message. Fields not used by an action are
// left empty.
type RequestPayload struct {
	Action      Action        `json:"action"`
	QuestionID  string        `json:"question_id,omitempty"`
	OptionIndex *int          `json:"option_index,omitempty"`
	Answers     model.Answers `json:"answers,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState     Event = "state"
	EventTick      Event = "tick"
	EventSaved     Event = "saved"
	EventSubmitted Event = "submitted"
	EventExpired   Event = "expired"
	EventError     Event = "error"
	EventPong      Event = "pong"
)

type StateResponse struct {
	Event   Event              `json:"event"`
	Session *model.SessionView `json:"session"`
}

type TickResponse struct {
	Event            Event `json:"event"`
	RemainingSeconds int64 `json:"remaining_seconds"`
}

type SavedResponse struct {
	Event      Event  `json:"event"`
	QuestionID string `json:"question_id"`
}

// SubmittedResponse carries the commit outcome for both a manual submit
// (EventSubmitted) and the auto-submit on expiry (EventExpired).
type SubmittedResponse struct {
	Event  Event               `json:"event"`
	Result *model.CommitResult `json:"result"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
