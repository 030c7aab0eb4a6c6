package service

import (
	"context"
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

type sessionFixture struct {
	exam      model.Exam
	questions []model.Question
	regs      *fakeRegistrationStore
	drafts    *fakeDraftStore
	clock     *clock.Fake
	rdb       *redis.Client
	svc       *ExamSessionService
}

func newSessionFixture(t *testing.T, withRedis, requireEnrollment bool) *sessionFixture {
	t.Helper()
	exam := scenarioExam()
	qs := newFakeQuestionStore()
	questions := seedQuestions(qs, exam.ID)
	exams := newFakeExamStore(exam)
	regs := newFakeRegistrationStore()
	drafts := newFakeDraftStore()
	clk := clock.NewFake(at("09:30:00"))

	var rdb *redis.Client
	if withRedis {
		mr := miniredis.RunT(t)
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
	}

	keys := NewAnswerKeyCache(qs, rdb, testLog)
	resolver := NewRegistrationResolver(regs, "yourdomain.local", testLog)
	submitter := NewSubmissionService(regs, exams, keys, lock.NewKeyedMutex(), clk, rdb, testLog)

	svc := NewExamSessionService(SessionDeps{
		Exams:     exams,
		Questions: qs,
		Regs:      regs,
		Drafts:    drafts,
		Resolver:  resolver,
		Submitter: submitter,
		Keys:      keys,
		Redis:     rdb,
		Clock:     clk,
	}, requireEnrollment, testLog)

	return &sessionFixture{exam: exam, questions: questions, regs: regs, drafts: drafts, clock: clk, rdb: rdb, svc: svc}
}

var enrolledStudent = Student{AccountID: "acct-7f3a", LoginHandle: "2024001@yourdomain.local"}

func TestStartAttemptStateGuards(t *testing.T) {
	f := newSessionFixture(t, false, false)
	ctx := context.Background()

	_, err := f.svc.StartAttempt(ctx, f.exam.ID, enrolledStudent)
	assert.ErrorIs(t, err, ErrExamNotOpen)
	assert.Empty(t, f.regs.regs, "no registration before the window opens")

	f.clock.Set(at("11:00:00"))
	_, err = f.svc.StartAttempt(ctx, f.exam.ID, enrolledStudent)
	assert.ErrorIs(t, err, ErrExamExpired)
}

func TestStartAttemptIsIdempotent(t *testing.T) {
	f := newSessionFixture(t, false, false)
	ctx := context.Background()
	f.clock.Set(at("10:50:00"))

	first, err := f.svc.StartAttempt(ctx, f.exam.ID, enrolledStudent)
	require.NoError(t, err)
	assert.Equal(t, model.StateInProgress, first.State)
	require.NotNil(t, first.StartedAt)
	assert.Equal(t, at("10:50:00"), *first.StartedAt)
	assert.Equal(t, at("11:00:00"), *first.Deadline)

	f.clock.Set(at("10:55:00"))
	second, err := f.svc.StartAttempt(ctx, f.exam.ID, enrolledStudent)
	require.NoError(t, err)
	assert.Equal(t, *first.StartedAt, *second.StartedAt)
	assert.Len(t, f.regs.regs, 1)
}

func TestStartAttemptConcurrentCallsShareOneStart(t *testing.T) {
	f := newSessionFixture(t, false, false)
	f.clock.Set(at("10:10:00"))

	var wg sync.WaitGroup
	views := make([]*model.SessionView, 16)
	for i := range views {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := f.svc.StartAttempt(context.Background(), f.exam.ID, enrolledStudent)
			if assert.NoError(t, err) {
				views[i] = v
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, f.regs.regs, 1)
	for _, v := range views {
		require.NotNil(t, v)
		assert.Equal(t, at("10:10:00"), *v.StartedAt)
	}
}

func TestStartAttemptRequiresEnrollment(t *testing.T) {
	f := newSessionFixture(t, false, true)
	f.clock.Set(at("10:10:00"))

	_, err := f.svc.StartAttempt(context.Background(), f.exam.ID, enrolledStudent)
	assert.ErrorIs(t, err, ErrNotRegistered)

	_, err = f.svc.GetSessionState(context.Background(), f.exam.ID, enrolledStudent)
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestBlockedRegistrationCannotSelfRegister(t *testing.T) {
	f := newSessionFixture(t, false, false)
	f.clock.Set(at("10:10:00"))
	f.regs.put(model.Registration{ExamID: f.exam.ID, StudentIdentity: enrolledStudent.AccountID, Allowed: false})

	_, err := f.svc.StartAttempt(context.Background(), f.exam.ID, enrolledStudent)
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestBlockedEnrollmentUnderApplicationNumberCannotSelfRegister(t *testing.T) {
	f := newSessionFixture(t, false, false)
	ctx := context.Background()
	f.clock.Set(at("10:10:00"))
	f.regs.put(model.Registration{ExamID: f.exam.ID, StudentIdentity: "2024001", Allowed: false})

	_, err := f.svc.StartAttempt(ctx, f.exam.ID, enrolledStudent)
	assert.ErrorIs(t, err, ErrNotRegistered)

	regs, err := f.regs.ListByExam(ctx, f.exam.ID)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, "2024001", regs[0].StudentIdentity)
	assert.Nil(t, regs[0].StartedAt)
}

func TestLateEnrollmentKeepsSelfRegisteredResult(t *testing.T) {
	f := newSessionFixture(t, false, false)
	ctx := context.Background()
	f.clock.Set(at("10:10:00"))

	view, err := f.svc.StartAttempt(ctx, f.exam.ID, enrolledStudent)
	require.NoError(t, err)
	assert.Equal(t, enrolledStudent.AccountID, view.StudentIdentity)

	first, err := f.svc.Submit(ctx, f.exam.ID, enrolledStudent, model.Answers{f.questions[0].ID.String(): 0})
	require.NoError(t, err)
	require.True(t, first.Accepted)

	// The roster is imported after the student already took the exam.
	f.regs.put(model.Registration{ExamID: f.exam.ID, StudentIdentity: "2024001", Allowed: true})
	f.clock.Set(at("10:20:00"))

	view, err = f.svc.GetSessionState(ctx, f.exam.ID, enrolledStudent)
	require.NoError(t, err)
	assert.Equal(t, model.StateSubmitted, view.State)
	assert.Equal(t, enrolledStudent.AccountID, view.StudentIdentity)

	again, err := f.svc.Submit(ctx, f.exam.ID, enrolledStudent, nil)
	require.NoError(t, err)
	assert.False(t, again.Accepted)
	assert.Equal(t, first.Score, again.Score)
	assert.True(t, first.SubmittedAt.Equal(again.SubmittedAt))
}

func TestBulkEnrolledLifecycle(t *testing.T) {
	f := newSessionFixture(t, false, true)
	ctx := context.Background()
	f.regs.put(model.Registration{ExamID: f.exam.ID, StudentIdentity: "2024001", Allowed: true})

	reg, err := f.svc.ResolveRegistration(ctx, f.exam.ID, enrolledStudent)
	require.NoError(t, err)
	assert.Equal(t, "2024001", reg.StudentIdentity)

	f.clock.Set(at("10:05:00"))
	view, err := f.svc.GetSessionState(ctx, f.exam.ID, enrolledStudent)
	require.NoError(t, err)
	assert.Equal(t, model.StateOpen, view.State)

	view, err = f.svc.StartAttempt(ctx, f.exam.ID, enrolledStudent)
	require.NoError(t, err)
	assert.Equal(t, model.StateInProgress, view.State)
	assert.Equal(t, "2024001", view.StudentIdentity)

	f.clock.Set(at("10:20:00"))
	answers := model.Answers{
		f.questions[0].ID.String(): 0,
		f.questions[1].ID.String(): 1,
		f.questions[2].ID.String(): 0,
	}
	res, err := f.svc.Submit(ctx, f.exam.ID, enrolledStudent, answers)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, 2, res.Score)

	view, err = f.svc.GetSessionState(ctx, f.exam.ID, enrolledStudent)
	require.NoError(t, err)
	assert.Equal(t, model.StateSubmitted, view.State)
	require.NotNil(t, view.Score)
	assert.Equal(t, 2, *view.Score)

	// Still only the bulk-created record.
	assert.Len(t, f.regs.regs, 1)
}

func TestRecordAnswerAndSubmitDrafts(t *testing.T) {
	f := newSessionFixture(t, true, false)
	ctx := context.Background()
	f.clock.Set(at("10:10:00"))

	_, err := f.svc.StartAttempt(ctx, f.exam.ID, enrolledStudent)
	require.NoError(t, err)

	q := func(i int) string { return f.questions[i].ID.String() }
	require.NoError(t, f.svc.RecordAnswer(ctx, f.exam.ID, enrolledStudent, q(0), 1))
	require.NoError(t, f.svc.RecordAnswer(ctx, f.exam.ID, enrolledStudent, q(0), 0))
	require.NoError(t, f.svc.RecordAnswer(ctx, f.exam.ID, enrolledStudent, q(3), 3))

	err = f.svc.RecordAnswer(ctx, f.exam.ID, enrolledStudent, q(1), 4)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "option_index")

	err = f.svc.RecordAnswer(ctx, f.exam.ID, enrolledStudent, "not-a-question", 0)
	assert.ErrorIs(t, err, ErrQuestionNotFound)

	queued, err := f.rdb.LLen(ctx, config.WorkerKey.PersistDraftsQueue).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), queued)

	view, err := f.svc.GetSessionState(ctx, f.exam.ID, enrolledStudent)
	require.NoError(t, err)
	assert.Equal(t, model.Answers{q(0): 0, q(3): 3}, view.Drafts)

	res, err := f.svc.Submit(ctx, f.exam.ID, enrolledStudent, nil)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, 2, res.Score)

	err = f.svc.RecordAnswer(ctx, f.exam.ID, enrolledStudent, q(1), 1)
	assert.ErrorIs(t, err, ErrSessionNotActive)
}

func TestDraftsFallBackToStoreWithoutRedis(t *testing.T) {
	f := newSessionFixture(t, false, false)
	ctx := context.Background()
	f.clock.Set(at("10:10:00"))

	_, err := f.svc.StartAttempt(ctx, f.exam.ID, enrolledStudent)
	require.NoError(t, err)
	require.NoError(t, f.svc.RecordAnswer(ctx, f.exam.ID, enrolledStudent, f.questions[2].ID.String(), 2))

	view, err := f.svc.GetSessionState(ctx, f.exam.ID, enrolledStudent)
	require.NoError(t, err)
	assert.Equal(t, model.Answers{f.questions[2].ID.String(): 2}, view.Drafts)
}

func TestAutoSubmitAtDeadlineIsAccepted(t *testing.T) {
	f := newSessionFixture(t, false, false)
	ctx := context.Background()
	f.clock.Set(at("10:50:00"))

	view, err := f.svc.StartAttempt(ctx, f.exam.ID, enrolledStudent)
	require.NoError(t, err)
	require.NoError(t, f.svc.RecordAnswer(ctx, f.exam.ID, enrolledStudent, f.questions[1].ID.String(), 1))

	// The countdown fired at the deadline; the commit lands shortly after.
	f.clock.Set(view.Deadline.Add(300 * time.Millisecond))
	res, err := f.svc.AutoSubmit(ctx, f.exam.ID, enrolledStudent, *view.Deadline)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, 1, res.Score)

	// A manual submit arriving after the deadline only sees the prior result.
	res, err = f.svc.Submit(ctx, f.exam.ID, enrolledStudent, model.Answers{})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, 1, res.Score)
}

func TestStaleSubmitAfterDeadlineIsRefused(t *testing.T) {
	f := newSessionFixture(t, false, false)
	ctx := context.Background()
	f.clock.Set(at("10:50:00"))

	_, err := f.svc.StartAttempt(ctx, f.exam.ID, enrolledStudent)
	require.NoError(t, err)

	f.clock.Set(at("11:00:01"))
	_, err = f.svc.Submit(ctx, f.exam.ID, enrolledStudent, model.Answers{})
	assert.ErrorIs(t, err, ErrDeadlinePassed)

	view, err := f.svc.GetSessionState(ctx, f.exam.ID, enrolledStudent)
	require.NoError(t, err)
	assert.Equal(t, model.StateExpired, view.State)
	assert.Nil(t, view.SubmittedAt)
}

func TestExamPaperHidesAnswers(t *testing.T) {
	f := newSessionFixture(t, false, false)
	ctx := context.Background()
	f.clock.Set(at("10:10:00"))

	_, err := f.svc.ExamPaper(ctx, f.exam.ID, enrolledStudent)
	assert.ErrorIs(t, err, ErrNotRegistered)

	_, err = f.svc.StartAttempt(ctx, f.exam.ID, enrolledStudent)
	require.NoError(t, err)

	paper, err := f.svc.ExamPaper(ctx, f.exam.ID, enrolledStudent)
	require.NoError(t, err)
	assert.Len(t, paper.Questions, 4)
	assert.Equal(t, at("10:40:00"), paper.Deadline)
}
