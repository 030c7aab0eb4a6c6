package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-portal/internal/config"
	"github.com/stemsi/exam-portal/internal/events"
	"github.com/stemsi/exam-portal/internal/model"
)

const (
	RelayBatchSize    = 50
	RelayBatchTimeout = 2 * time.Second
	RelayPollTimeout  = 1 * time.Second
)

// SubmissionRelayWorker moves committed submission events from the Redis
// queue to the event publisher.
type SubmissionRelayWorker struct {
	pub events.SubmissionPublisher
	rdb *redis.Client
	log zerolog.Logger

	pollTimeout  time.Duration
	batchTimeout time.Duration
	retryBackoff time.Duration
}

func NewSubmissionRelayWorker(pub events.SubmissionPublisher, rdb *redis.Client, log zerolog.Logger) *SubmissionRelayWorker {
	return &SubmissionRelayWorker{
		pub:          pub,
		rdb:          rdb,
		log:          log.With().Str("component", "submission_relay_worker").Logger(),
		pollTimeout:  RelayPollTimeout,
		batchTimeout: RelayBatchTimeout,
		retryBackoff: 5 * time.Second,
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *SubmissionRelayWorker) Start(ctx context.Context) {
	w.log.Info().Msg("SubmissionRelayWorker started")

	batch := make([]model.SubmissionEvent, 0, RelayBatchSize)
	raws := make([]string, 0, RelayBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= RelayBatchSize || time.Since(lastFlush) >= w.batchTimeout) {
			failed := !w.flushSafe(ctx, batch, raws)
			batch, raws = batch[:0], raws[:0]
			lastFlush = time.Now()
			if failed {
				select {
				case <-ctx.Done():
				case <-time.After(w.retryBackoff):
				}
			}
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch, raws)
			return
		default:
		}

		item, err := w.rdb.BLPop(ctx, w.pollTimeout, config.WorkerKey.SubmissionEventsQueue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				w.log.Error().Err(err).Msg("BLPop error")
			}
			continue
		}
		if len(item) < 2 {
			continue
		}

		var ev model.SubmissionEvent
		if err := json.Unmarshal([]byte(item[1]), &ev); err != nil {
			w.log.Error().Err(err).Msg("Invalid JSON payload")
			continue
		}
		batch = append(batch, ev)
		raws = append(raws, item[1])
	}
}

// ----------------------------------------------------------------
// Publish with per-event fallback
// ----------------------------------------------------------------

// flushSafe reports whether every event was published.
func (w *SubmissionRelayWorker) flushSafe(ctx context.Context, batch []model.SubmissionEvent, raws []string) bool {
	if len(batch) == 0 {
		return true
	}

	err := w.pub.PublishSubmissions(ctx, batch)
	if err == nil {
		return true
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("batch publish failed, using fallback")

	ok := true
	for i := range batch {
		if err := w.pub.PublishSubmissions(ctx, batch[i:i+1]); err != nil {
			w.log.Error().Err(err).
				Str("event_id", batch[i].EventID.String()).
				Msg("publish failed, requeueing")
			w.rdb.RPush(context.Background(), config.WorkerKey.SubmissionEventsQueue, raws[i])
			ok = false
		}
	}
	return ok
}
