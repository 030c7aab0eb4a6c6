package service

import (
	"context"
	"testing"

	"github.com/stemsi/exam-portal/internal/clock"
	"github.com/stemsi/exam-portal/internal/config"
	"github.com/stemsi/exam-portal/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorSnapshot(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	exam := scenarioExam()
	require.NoError(t, f.svc.Create(ctx, owner, &exam))

	f.regs.put(model.Registration{ExamID: exam.ID, StudentIdentity: "2024001", Allowed: true,
		StartedAt: ptr(at("10:01:00")), Score: ptr(2), SubmittedAt: ptr(at("10:15:00")),
		Answers: model.Answers{"a": 0, "b": 1, "c": 3}})
	f.regs.put(model.Registration{ExamID: exam.ID, StudentIdentity: "2024002", Allowed: true,
		StartedAt: ptr(at("10:05:00"))})
	f.regs.put(model.Registration{ExamID: exam.ID, StudentIdentity: "2024003", Allowed: true})

	draftKey := config.CacheKey.RegistrationDraftKey(exam.ID.String(), "2024002")
	require.NoError(t, f.rdb.HSet(ctx, draftKey, "a", 1, "b", 2).Err())

	monitor := NewMonitorService(f.svc, f.regs, f.rdb, clock.NewFake(at("10:20:00")))
	snap, err := monitor.Snapshot(ctx, owner, exam.ID)
	require.NoError(t, err)

	assert.Equal(t, map[model.SessionState]int{
		model.StateSubmitted:  1,
		model.StateInProgress: 1,
		model.StateOpen:       1,
	}, snap.Counts)

	progress := make(map[string]StudentProgress, len(snap.Students))
	for _, p := range snap.Students {
		progress[p.StudentIdentity] = p
	}
	assert.Equal(t, int64(3), progress["2024001"].Answered)
	assert.Equal(t, int64(2), progress["2024002"].Answered)
	assert.Equal(t, int64(0), progress["2024003"].Answered)

	_, err = monitor.Snapshot(ctx, other, exam.ID)
	assert.ErrorIs(t, err, ErrNotExamOwner)
}
