package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-portal/internal/config"
	"github.com/stemsi/exam-portal/internal/model"
)

// answerKeyTTL bounds how long a cached key outlives a missed rebuild.
const answerKeyTTL = 6 * time.Hour

var errStaleAnswerKey = errors.New("answer key rebuilt concurrently")

// AnswerKeyCache serves answer keys from Redis and falls back to the
// question store on a miss, re-warming the cache as it goes.
type AnswerKeyCache struct {
	questions QuestionStore
	rdb       *redis.Client
	log       zerolog.Logger
}

// NewAnswerKeyCache creates an AnswerKeyCache. rdb may be nil, in which case
// every read goes to the store.
func NewAnswerKeyCache(questions QuestionStore, rdb *redis.Client, log zerolog.Logger) *AnswerKeyCache {
	return &AnswerKeyCache{
		questions: questions,
		rdb:       rdb,
		log:       log.With().Str("component", "answer_key_cache").Logger(),
	}
}

// Get returns the answer key of an exam.
func (c *AnswerKeyCache) Get(ctx context.Context, examID uuid.UUID) (model.AnswerKey, error) {
	var version int64
	if c.rdb != nil {
		raw, err := c.rdb.HGetAll(ctx, config.CacheKey.ExamAnswerKey(examID.String())).Result()
		if err == nil && len(raw) > 0 {
			key, perr := decodeAnswerKey(raw)
			if perr == nil {
				return key, nil
			}
			c.log.Warn().Err(perr).Str("exam_id", examID.String()).Msg("Corrupt cached answer key, reloading")
		} else if err != nil && !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Answer key cache read failed")
		}
		// Read before loading so a rebuild that lands meanwhile wins.
		version = c.version(ctx, examID)
	}

	questions, err := c.questions.ListByExam(ctx, examID)
	if err != nil {
		return nil, unavailable("load questions", err)
	}
	key := model.BuildAnswerKey(questions)

	if err := c.storeIfCurrent(ctx, examID, version, key); err != nil {
		c.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to re-warm answer key")
	}
	return key, nil
}

// Warm reloads an exam's answer key from the store into Redis.
func (c *AnswerKeyCache) Warm(ctx context.Context, examID uuid.UUID) error {
	if c.rdb == nil {
		return nil
	}
	version, err := c.rdb.Incr(ctx, config.CacheKey.ExamAnswerKeyVersion(examID.String())).Result()
	if err != nil {
		return fmt.Errorf("bump answer key version: %w", err)
	}
	questions, err := c.questions.ListByExam(ctx, examID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	if err := c.storeIfCurrent(ctx, examID, version, model.BuildAnswerKey(questions)); err != nil {
		return err
	}

	c.log.Debug().
		Str("exam_id", examID.String()).
		Int("questions", len(questions)).
		Msg("Answer key warmed")
	return nil
}

// Invalidate drops a cached answer key. Bumping the version also stops an
// in-flight read from putting its copy back.
func (c *AnswerKeyCache) Invalidate(ctx context.Context, examID uuid.UUID) error {
	if c.rdb == nil {
		return nil
	}
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, config.CacheKey.ExamAnswerKey(examID.String()))
	pipe.Incr(ctx, config.CacheKey.ExamAnswerKeyVersion(examID.String()))
	_, err := pipe.Exec(ctx)
	return err
}

func (c *AnswerKeyCache) version(ctx context.Context, examID uuid.UUID) int64 {
	v, err := c.rdb.Get(ctx, config.CacheKey.ExamAnswerKeyVersion(examID.String())).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Answer key version read failed")
	}
	return v
}

// storeIfCurrent caches key only while the version counter still reads
// version. A newer rebuild, or one racing the write, keeps its own copy.
func (c *AnswerKeyCache) storeIfCurrent(ctx context.Context, examID uuid.UUID, version int64, key model.AnswerKey) error {
	if c.rdb == nil {
		return nil
	}
	cacheKey := config.CacheKey.ExamAnswerKey(examID.String())
	versionKey := config.CacheKey.ExamAnswerKeyVersion(examID.String())

	err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStaleAnswerKey
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, cacheKey)
			if len(key) > 0 {
				fields := make(map[string]any, len(key))
				for qid, entry := range key {
					fields[qid] = fmt.Sprintf("%d:%d", entry.Correct, entry.Options)
				}
				pipe.HSet(ctx, cacheKey, fields)
				pipe.Expire(ctx, cacheKey, answerKeyTTL)
			}
			return nil
		})
		return err
	}, versionKey)

	if errors.Is(err, errStaleAnswerKey) || errors.Is(err, redis.TxFailedErr) {
		c.log.Debug().Str("exam_id", examID.String()).Msg("Skipped caching a superseded answer key")
		return nil
	}
	if err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}
	return nil
}

func decodeAnswerKey(raw map[string]string) (model.AnswerKey, error) {
	key := make(model.AnswerKey, len(raw))
	for qid, v := range raw {
		correctStr, optionsStr, ok := strings.Cut(v, ":")
		if !ok {
			return nil, fmt.Errorf("question %s: malformed entry %q", qid, v)
		}
		correct, err := strconv.Atoi(correctStr)
		if err != nil {
			return nil, fmt.Errorf("question %s: %w", qid, err)
		}
		options, err := strconv.Atoi(optionsStr)
		if err != nil {
			return nil, fmt.Errorf("question %s: %w", qid, err)
		}
		key[qid] = model.KeyEntry{Correct: correct, Options: options}
	}
	return key, nil
}
