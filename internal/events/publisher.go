package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-portal/internal/logger"
	"github.com/stemsi/exam-portal/internal/model"
)

const (
	eventTypeSubmitted = "registration.submitted"
	eventSource        = "exam-portal"
	eventVersion       = "1"
)

// Transports reported by Publisher.Transport.
const (
	TransportKafka     = "kafka"
	TransportInProcess = "gochannel"
)

// ErrNoLocalSubscriber is returned by Subscribe when events go to Kafka.
var ErrNoLocalSubscriber = errors.New("events: publisher has no in-process subscriber")

// SubmissionPublisher publishes committed submissions to reporting consumers.
type SubmissionPublisher interface {
	PublishSubmissions(ctx context.Context, events []model.SubmissionEvent) error
	Close() error
}

// Config selects the transport. With no brokers events stay in-process.
type Config struct {
	KafkaBrokers []string
	Topic        string
}

// Publisher implements SubmissionPublisher over watermill.
type Publisher struct {
	publisher message.Publisher
	local     *gochannel.GoChannel
	topic     string
	transport string
	log       zerolog.Logger
}

// NewPublisher creates a Kafka publisher when brokers are configured and an
// in-process gochannel otherwise.
func NewPublisher(cfg Config, log zerolog.Logger) (*Publisher, error) {
	adapter := logger.NewWatermillAdapter(log)
	p := &Publisher{
		topic: cfg.Topic,
		log:   log.With().Str("component", "events").Logger(),
	}

	if len(cfg.KafkaBrokers) > 0 {
		pub, err := kafka.NewPublisher(kafka.PublisherConfig{
			Brokers:   cfg.KafkaBrokers,
			Marshaler: kafka.DefaultMarshaler{},
		}, adapter)
		if err != nil {
			return nil, fmt.Errorf("create kafka publisher: %w", err)
		}
		p.publisher = pub
		p.transport = TransportKafka
	} else {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, adapter)
		p.publisher = ch
		p.local = ch
		p.transport = TransportInProcess
	}

	p.log.Info().Str("transport", p.transport).Str("topic", p.topic).Msg("Event publisher ready")
	return p, nil
}

// Transport reports TransportKafka or TransportInProcess.
func (p *Publisher) Transport() string { return p.transport }

// PublishSubmissions publishes a batch of submission events in one call.
func (p *Publisher) PublishSubmissions(ctx context.Context, events []model.SubmissionEvent) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]*message.Message, 0, len(events))
	for i := range events {
		payload, err := json.Marshal(&events[i])
		if err != nil {
			return fmt.Errorf("marshal submission event: %w", err)
		}
		msg := message.NewMessage(events[i].EventID.String(), payload)
		msg.Metadata.Set("event_type", eventTypeSubmitted)
		msg.Metadata.Set("source", eventSource)
		msg.Metadata.Set("version", eventVersion)
		msg.Metadata.Set("exam_id", events[i].ExamID.String())
		msg.Metadata.Set("timestamp", events[i].SubmittedAt.UTC().Format(time.RFC3339))
		msg.SetContext(ctx)
		msgs = append(msgs, msg)
	}

	if err := p.publisher.Publish(p.topic, msgs...); err != nil {
		p.log.Error().Err(err).Int("count", len(msgs)).Msg("Failed to publish submission events")
		return fmt.Errorf("publish submission events: %w", err)
	}

	p.log.Debug().Int("count", len(msgs)).Str("topic", p.topic).Msg("Published submission events")
	return nil
}

// Subscribe returns the in-process message stream. Only available when no
// Kafka brokers are configured.
func (p *Publisher) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	if p.local == nil {
		return nil, ErrNoLocalSubscriber
	}
	return p.local.Subscribe(ctx, p.topic)
}

// Close flushes and closes the underlying publisher.
func (p *Publisher) Close() error {
	return p.publisher.Close()
}

// DecodeSubmission parses a message produced by PublishSubmissions.
func DecodeSubmission(msg *message.Message) (*model.SubmissionEvent, error) {
	if t := msg.Metadata.Get("event_type"); t != eventTypeSubmitted {
		return nil, fmt.Errorf("unexpected event type %q", t)
	}
	var ev model.SubmissionEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return nil, fmt.Errorf("decode submission event: %w", err)
	}
	return &ev, nil
}
