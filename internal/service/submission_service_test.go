package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exam-portal/internal/clock"
	"github.com/stemsi/exam-portal/internal/config"
	"github.com/stemsi/exam-portal/internal/lock"
	"github.com/stemsi/exam-portal/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type submissionFixture struct {
	exam      model.Exam
	questions []model.Question
	regs      *fakeRegistrationStore
	qs        *fakeQuestionStore
	clock     *clock.Fake
	svc       *SubmissionService
	ref       model.RegistrationRef
}

func newSubmissionFixture(t *testing.T, locker lock.Locker, rdb *redis.Client) *submissionFixture {
	t.Helper()
	exam := scenarioExam()
	qs := newFakeQuestionStore()
	questions := seedQuestions(qs, exam.ID)
	regs := newFakeRegistrationStore()
	ref := model.RegistrationRef{ExamID: exam.ID, StudentIdentity: "2024001"}
	regs.put(model.Registration{ExamID: exam.ID, StudentIdentity: "2024001", Allowed: true, StartedAt: ptr(at("10:50:00"))})

	clk := clock.NewFake(at("10:55:00"))
	keys := NewAnswerKeyCache(qs, rdb, testLog)
	svc := NewSubmissionService(regs, newFakeExamStore(exam), keys, locker, clk, rdb, testLog)

	return &submissionFixture{exam: exam, questions: questions, regs: regs, qs: qs, clock: clk, svc: svc, ref: ref}
}

func (f *submissionFixture) answers(picks ...int) model.Answers {
	out := model.Answers{}
	for i, p := range picks {
		out[f.questions[i].ID.String()] = p
	}
	return out
}

func TestCommitAtDeadlineBoundary(t *testing.T) {
	tests := []struct {
		name     string
		scoredAt time.Time
		accepted bool
	}{
		{"one second before deadline", at("10:59:59"), true},
		{"exactly at deadline", at("11:00:00"), true},
		{"one second after deadline", at("11:00:01"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSubmissionFixture(t, lock.NewKeyedMutex(), nil)
			f.clock.Set(tt.scoredAt.Add(200 * time.Millisecond))

			res, err := f.svc.Commit(context.Background(), f.ref, f.answers(0, 1, 2, 3), tt.scoredAt, model.TriggerTimer)
			if !tt.accepted {
				assert.ErrorIs(t, err, ErrDeadlinePassed)
				reg, getErr := f.regs.Get(context.Background(), f.ref)
				require.NoError(t, getErr)
				assert.Nil(t, reg.SubmittedAt, "refused commit must not write")
				return
			}
			require.NoError(t, err)
			assert.True(t, res.Accepted)
			assert.Equal(t, 4, res.Score)
		})
	}
}

func TestCommitConcurrentCallsAcceptOne(t *testing.T) {
	lockers := map[string]lock.Locker{
		"keyed mutex":       lock.NewKeyedMutex(),
		"conditional write": lock.Noop{},
	}

	for name, locker := range lockers {
		t.Run(name, func(t *testing.T) {
			f := newSubmissionFixture(t, locker, nil)

			const n = 32
			results := make([]*model.CommitResult, n)
			errs := make([]error, n)
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					// Different payloads: even callers answer all correctly, odd all zero.
					answers := f.answers(0, 1, 2, 3)
					if i%2 == 1 {
						answers = f.answers(0, 0, 0, 0)
					}
					results[i], errs[i] = f.svc.Commit(context.Background(), f.ref, answers, at("10:56:00"), model.TriggerManual)
				}(i)
			}
			wg.Wait()

			accepted := 0
			for i := 0; i < n; i++ {
				require.NoError(t, errs[i])
				if results[i].Accepted {
					accepted++
				}
			}
			assert.Equal(t, 1, accepted)
			assert.Equal(t, 1, f.regs.commitCount())

			reg, err := f.regs.Get(context.Background(), f.ref)
			require.NoError(t, err)
			for i := 0; i < n; i++ {
				assert.Equal(t, *reg.Score, results[i].Score)
				assert.True(t, reg.SubmittedAt.Equal(results[i].SubmittedAt))
			}
		})
	}
}

func TestCommitResubmitReturnsOriginal(t *testing.T) {
	f := newSubmissionFixture(t, lock.NewKeyedMutex(), nil)
	ctx := context.Background()

	first, err := f.svc.Commit(ctx, f.ref, f.answers(0, 1, 2, 3), at("10:56:00"), model.TriggerManual)
	require.NoError(t, err)
	require.True(t, first.Accepted)
	assert.Equal(t, model.SubmissionAccepted, first.Status)

	f.clock.Advance(time.Minute)
	second, err := f.svc.Commit(ctx, f.ref, f.answers(3, 3, 3, 3), at("10:57:00"), model.TriggerManual)
	require.NoError(t, err)
	assert.False(t, second.Accepted)
	assert.Equal(t, model.SubmissionAlreadySubmitted, second.Status)
	assert.Equal(t, first.Score, second.Score)
	assert.True(t, first.SubmittedAt.Equal(second.SubmittedAt))

	// A late retry after the deadline still reports the prior result.
	third, err := f.svc.Commit(ctx, f.ref, nil, at("12:00:00"), model.TriggerManual)
	require.NoError(t, err)
	assert.False(t, third.Accepted)
	assert.Equal(t, 4, third.Score)

	reg, err := f.regs.Get(ctx, f.ref)
	require.NoError(t, err)
	assert.Equal(t, f.answers(0, 1, 2, 3), reg.Answers)
}

func TestCommitWithoutStartIsRefused(t *testing.T) {
	f := newSubmissionFixture(t, lock.NewKeyedMutex(), nil)
	unstarted := model.RegistrationRef{ExamID: f.exam.ID, StudentIdentity: "2024002"}
	f.regs.put(model.Registration{ExamID: f.exam.ID, StudentIdentity: "2024002", Allowed: true})

	_, err := f.svc.Commit(context.Background(), unstarted, f.answers(0), at("11:30:00"), model.TriggerTimer)
	assert.ErrorIs(t, err, ErrAttemptNotStarted)

	_, err = f.svc.Commit(context.Background(), model.RegistrationRef{ExamID: f.exam.ID, StudentIdentity: "nobody"}, nil, at("10:30:00"), model.TriggerManual)
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestCommitToleratesQuestionsAddedAfterStart(t *testing.T) {
	f := newSubmissionFixture(t, lock.NewKeyedMutex(), nil)
	late := model.Question{ExamID: f.exam.ID, QuestionText: "Q5", Options: []string{"a", "b", "c", "d"}, CorrectIndex: 0}
	require.NoError(t, f.qs.Create(context.Background(), &late))

	res, err := f.svc.Commit(context.Background(), f.ref, f.answers(0, 1, 2, 3), at("10:56:00"), model.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Score)
}

type failingLocker struct{}

func (failingLocker) Lock(context.Context, string) (func(), error) {
	return nil, lock.ErrNotAcquired
}

func TestCommitLockFailureIsTransient(t *testing.T) {
	f := newSubmissionFixture(t, failingLocker{}, nil)
	_, err := f.svc.Commit(context.Background(), f.ref, nil, at("10:56:00"), model.TriggerManual)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.True(t, errors.Is(err, lock.ErrNotAcquired))
}

func TestCommitFansOutThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newSubmissionFixture(t, lock.NewRedisLocker(rdb, 5*time.Second), rdb)
	ctx := context.Background()

	draftKey := config.CacheKey.RegistrationDraftKey(f.exam.ID.String(), f.ref.StudentIdentity)
	require.NoError(t, rdb.HSet(ctx, draftKey, "q", 1).Err())

	sub := rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(f.exam.ID.String()))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	res, err := f.svc.Commit(ctx, f.ref, f.answers(0, 1, 0, 0), at("10:56:00"), model.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Score)

	exists, err := rdb.Exists(ctx, draftKey).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	raw, err := rdb.LPop(ctx, config.WorkerKey.SubmissionEventsQueue).Result()
	require.NoError(t, err)
	var event model.SubmissionEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &event))
	assert.Equal(t, f.ref.StudentIdentity, event.StudentIdentity)
	assert.Equal(t, 2, event.Score)
	assert.Equal(t, 4, event.QuestionCount)

	select {
	case msg := <-sub.Channel():
		var monitor model.MonitorEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &monitor))
		assert.Equal(t, model.MonitorSubmitted, monitor.Type)
	case <-time.After(time.Second):
		t.Fatal("no monitor event published")
	}

	// The answer key was cached on first use.
	cached, err := rdb.HLen(ctx, config.CacheKey.ExamAnswerKey(f.exam.ID.String())).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(4), cached)
}
