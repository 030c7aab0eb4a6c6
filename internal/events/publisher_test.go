package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-portal/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalPublisher(t *testing.T) *Publisher {
	t.Helper()
	p, err := NewPublisher(Config{Topic: "exam.registrations"}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func sampleEvent(identity string) model.SubmissionEvent {
	return model.SubmissionEvent{
		EventID:         uuid.New(),
		ExamID:          uuid.New(),
		StudentIdentity: identity,
		Score:           3,
		QuestionCount:   4,
		SubmittedAt:     time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC),
		Trigger:         model.TriggerManual,
	}
}

func TestPublishSubmissionsInProcess(t *testing.T) {
	p := newLocalPublisher(t)
	assert.Equal(t, TransportInProcess, p.Transport())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := p.Subscribe(ctx)
	require.NoError(t, err)

	sent := sampleEvent("2024001")
	require.NoError(t, p.PublishSubmissions(ctx, []model.SubmissionEvent{sent}))

	select {
	case msg := <-msgs:
		msg.Ack()
		assert.Equal(t, sent.EventID.String(), msg.UUID)
		assert.Equal(t, sent.ExamID.String(), msg.Metadata.Get("exam_id"))

		got, err := DecodeSubmission(msg)
		require.NoError(t, err)
		assert.Equal(t, sent, *got)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishEmptyBatchIsNoop(t *testing.T) {
	p := newLocalPublisher(t)
	assert.NoError(t, p.PublishSubmissions(context.Background(), nil))
}

func TestConsumeRedeliversOnFailure(t *testing.T) {
	p := newLocalPublisher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		attempts int
		handled  = make(chan *model.SubmissionEvent, 1)
	)
	handler := func(_ context.Context, ev *model.SubmissionEvent) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return errors.New("reporting store down")
		}
		handled <- ev
		return nil
	}
	require.NoError(t, Consume(ctx, p, handler, zerolog.Nop()))

	sent := sampleEvent("2024002")
	require.NoError(t, p.PublishSubmissions(ctx, []model.SubmissionEvent{sent}))

	select {
	case ev := <-handled:
		assert.Equal(t, sent.EventID, ev.EventID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not redelivered")
	}
	mu.Lock()
	assert.Equal(t, 2, attempts)
	mu.Unlock()
}
