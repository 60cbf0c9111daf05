package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/photomosaic/api/internal/model"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long job records live in Redis.
const DefaultTTL = 24 * time.Hour

const maxUpdateRetries = 10

// RedisStore keeps job records as JSON under job:<id>.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisStore(redisClient *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{redis: redisClient, ttl: ttl}
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

func (s *RedisStore) Save(ctx context.Context, job *model.MosaicJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, s.ttl).Err()
}

func (s *RedisStore) Load(ctx context.Context, jobID string) (*model.MosaicJob, error) {
	return s.get(ctx, s.redis, jobID)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, c getter, jobID string) (*model.MosaicJob, error) {
	data, err := c.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var job model.MosaicJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return &job, nil
}

// Update runs fn inside an optimistic WATCH/MULTI transaction and retries
// when another writer touched the record in between.
func (s *RedisStore) Update(ctx context.Context, jobID string, fn func(job *model.MosaicJob) error) (*model.MosaicJob, error) {
	key := jobKey(jobID)
	var updated *model.MosaicJob

	txf := func(tx *redis.Tx) error {
		job, err := s.get(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if err := fn(job); err != nil {
			return err
		}
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		if err == nil {
			updated = job
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("update job %s: too much contention", jobID)
}
