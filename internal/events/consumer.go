package events

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stemsi/exam-portal/internal/model"
)

// Consume feeds in-process submission events to handle until ctx is done.
// A handler error nacks the message so it is redelivered.
func Consume(ctx context.Context, p *Publisher, handle func(context.Context, *model.SubmissionEvent) error, log zerolog.Logger) error {
	msgs, err := p.Subscribe(ctx)
	if err != nil {
		return err
	}
	log = log.With().Str("component", "events_consumer").Logger()

	go func() {
		for msg := range msgs {
			ev, err := DecodeSubmission(msg)
			if err != nil {
				log.Error().Err(err).Str("message_id", msg.UUID).Msg("Dropping undecodable event")
				msg.Ack()
				continue
			}
			if err := handle(ctx, ev); err != nil {
				log.Warn().Err(err).Str("event_id", ev.EventID.String()).Msg("Handler failed, redelivering")
				msg.Nack()
				continue
			}
			msg.Ack()
		}
	}()
	return nil
}

// LogSubmission is the default in-process handler: it records the event in
// the application log for reporting.
func LogSubmission(log zerolog.Logger) func(context.Context, *model.SubmissionEvent) error {
	return func(_ context.Context, ev *model.SubmissionEvent) error {
		log.Info().
			Str("event_id", ev.EventID.String()).
			Str("exam_id", ev.ExamID.String()).
			Str("student", ev.StudentIdentity).
			Int("score", ev.Score).
			Int("questions", ev.QuestionCount).
			Str("trigger", ev.Trigger).
			Time("submitted_at", ev.SubmittedAt).
			Msg("Submission recorded")
		return nil
	}
}
