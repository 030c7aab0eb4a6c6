package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-portal/internal/config"
	"github.com/stemsi/exam-portal/internal/model"
)

const (
	DraftBatchSize    = 100
	DraftBatchTimeout = time.Second
	DraftPollTimeout  = time.Second
	draftRetryBackoff = 5 * time.Second
)

// DraftSink persists draft answers.
type DraftSink interface {
	UpsertBatch(ctx context.Context, drafts []model.DraftAnswer) error
}

// DraftWorker consumes persist_drafts_queue and writes drafts to the store in
// batches.
type DraftWorker struct {
	sink DraftSink
	rdb  *redis.Client
	log  zerolog.Logger

	pollTimeout  time.Duration
	batchTimeout time.Duration
	retryBackoff time.Duration
}

// NewDraftWorker creates a new DraftWorker.
func NewDraftWorker(sink DraftSink, rdb *redis.Client, log zerolog.Logger) *DraftWorker {
	return &DraftWorker{
		sink:         sink,
		rdb:          rdb,
		log:          log.With().Str("component", "draft_worker").Logger(),
		pollTimeout:  DraftPollTimeout,
		batchTimeout: DraftBatchTimeout,
		retryBackoff: draftRetryBackoff,
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *DraftWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	batch := make([]model.DraftAnswer, 0, DraftBatchSize)
	raws := make([]string, 0, DraftBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= DraftBatchSize || time.Since(lastFlush) >= w.batchTimeout) {
			if !w.flush(ctx, batch, raws) {
				w.sleep(ctx, w.retryBackoff)
			}
			batch, raws = batch[:0], raws[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			drainCtx := context.Background()
			w.flush(drainCtx, batch, raws)
			w.drain(drainCtx)
			w.log.Info().Msg("Worker stopped")
			return
		default:
		}

		item, err := w.rdb.BLPop(ctx, w.pollTimeout, config.WorkerKey.PersistDraftsQueue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				w.log.Error().Err(err).Msg("BLPop error")
				w.sleep(ctx, time.Second)
			}
			continue
		}
		if len(item) < 2 {
			continue
		}

		var d model.DraftAnswer
		if err := json.Unmarshal([]byte(item[1]), &d); err != nil {
			w.log.Error().Err(err).Msg("Invalid draft payload, dropping")
			continue
		}
		batch = append(batch, d)
		raws = append(raws, item[1])
	}
}

// flush writes a batch and requeues it on failure. It reports success.
func (w *DraftWorker) flush(ctx context.Context, batch []model.DraftAnswer, raws []string) bool {
	if len(batch) == 0 {
		return true
	}
	if err := w.sink.UpsertBatch(ctx, batch); err != nil {
		w.log.Error().Err(err).Int("count", len(batch)).Msg("Persist error, requeueing")
		w.requeue(raws)
		return false
	}
	w.log.Debug().Int("count", len(batch)).Msg("Drafts persisted")
	return true
}

func (w *DraftWorker) requeue(raws []string) {
	args := make([]any, len(raws))
	for i, r := range raws {
		args[i] = r
	}
	if err := w.rdb.RPush(context.Background(), config.WorkerKey.PersistDraftsQueue, args...).Err(); err != nil {
		w.log.Error().Err(err).Int("count", len(raws)).Msg("Requeue failed, drafts remain in the draft hash only")
	}
}

// drain persists everything left in the queue before shutdown.
func (w *DraftWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raws, err := w.rdb.LPopCount(ctx, config.WorkerKey.PersistDraftsQueue, DraftBatchSize).Result()
		if err != nil || len(raws) == 0 {
			break
		}

		batch := make([]model.DraftAnswer, 0, len(raws))
		kept := make([]string, 0, len(raws))
		for _, raw := range raws {
			var d model.DraftAnswer
			if err := json.Unmarshal([]byte(raw), &d); err != nil {
				w.log.Error().Err(err).Msg("Drain unmarshal error")
				continue
			}
			batch = append(batch, d)
			kept = append(kept, raw)
		}
		if !w.flush(ctx, batch, kept) {
			break
		}
		drained += len(batch)
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

func (w *DraftWorker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
