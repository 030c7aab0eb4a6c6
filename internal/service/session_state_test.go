package service

import (
	"testing"
	"time"

	"github.com/stemsi/exam-portal/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttemptDeadline(t *testing.T) {
	exam := scenarioExam()

	assert.Nil(t, AttemptDeadline(&exam, nil))
	assert.Nil(t, AttemptDeadline(&exam, &model.Registration{}))

	early := &model.Registration{StartedAt: ptr(at("10:05:00"))}
	require.NotNil(t, AttemptDeadline(&exam, early))
	assert.Equal(t, at("10:35:00"), *AttemptDeadline(&exam, early))

	// Started at 10:50: min(11:00, 11:20) = 11:00.
	late := &model.Registration{StartedAt: ptr(at("10:50:00"))}
	assert.Equal(t, at("11:00:00"), *AttemptDeadline(&exam, late))
}

func TestEvaluateState(t *testing.T) {
	exam := scenarioExam()
	started := func(hhmmss string) *model.Registration {
		return &model.Registration{StartedAt: ptr(at(hhmmss))}
	}

	tests := []struct {
		name string
		reg  *model.Registration
		now  time.Time
		want model.SessionState
	}{
		{"no registration before window", nil, at("09:59:59"), model.StateNotStarted},
		{"no registration in window", nil, at("10:00:00"), model.StateOpen},
		{"no registration after window", nil, at("11:00:01"), model.StateExpired},
		{"enrolled not started", &model.Registration{}, at("10:30:00"), model.StateOpen},
		{"started within allowance", started("10:10:00"), at("10:39:59"), model.StateInProgress},
		{"personal allowance lapsed", started("10:10:00"), at("10:40:00"), model.StateExpired},
		{"late start one second before end", started("10:50:00"), at("10:59:59"), model.StateInProgress},
		{"late start at end", started("10:50:00"), at("11:00:00"), model.StateExpired},
		{"window end is exclusive for open", &model.Registration{}, at("11:00:00"), model.StateExpired},
		{"submitted wins over expired", &model.Registration{StartedAt: ptr(at("10:10:00")), SubmittedAt: ptr(at("10:20:00"))}, at("12:00:00"), model.StateSubmitted},
		{"submitted wins over not started", &model.Registration{SubmittedAt: ptr(at("10:20:00"))}, at("09:00:00"), model.StateSubmitted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateState(&exam, tt.reg, tt.now))
			// Same inputs, same answer.
			assert.Equal(t, tt.want, EvaluateState(&exam, tt.reg, tt.now))
		})
	}
}

func TestBuildSessionView(t *testing.T) {
	exam := scenarioExam()
	reg := &model.Registration{
		ExamID:          exam.ID,
		StudentIdentity: "2024001",
		StartedAt:       ptr(at("10:50:00")),
	}

	view := BuildSessionView(&exam, reg, "acct-1", at("10:58:30"))
	assert.Equal(t, model.StateInProgress, view.State)
	assert.Equal(t, "2024001", view.StudentIdentity)
	require.NotNil(t, view.Deadline)
	assert.Equal(t, at("11:00:00"), *view.Deadline)
	assert.Equal(t, int64(90), view.RemainingSeconds)

	expired := BuildSessionView(&exam, reg, "acct-1", at("11:00:00"))
	assert.Equal(t, model.StateExpired, expired.State)
	assert.Zero(t, expired.RemainingSeconds)

	none := BuildSessionView(&exam, nil, "acct-1", at("10:30:00"))
	assert.Equal(t, model.StateOpen, none.State)
	assert.Equal(t, "acct-1", none.StudentIdentity)
	assert.Nil(t, none.Deadline)
}
