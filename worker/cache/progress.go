package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"watermarker/worker/models"
)

const (
	progressKeyPrefix = "progress:"
	progressTTL       = 30 * time.Minute
)

// ProgressStore keeps per-user progress records in Redis. Records are
// TTL-bounded; a user's next task simply overwrites them.
type ProgressStore struct {
	cache *Cache
}

func NewProgressStore(cache *Cache) *ProgressStore {
	return &ProgressStore{cache: cache}
}

func (s *ProgressStore) Get(ctx context.Context, key string) (*models.ProgressRecord, error) {
	data, err := s.cache.Get(ctx, progressKeyPrefix+key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &models.ProgressRecord{}, nil
		}
		return nil, fmt.Errorf("get progress record: %w", err)
	}

	var rec models.ProgressRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decode progress record: %w", err)
	}
	return &rec, nil
}

// Merge applies a partial update on top of the stored record. The backing
// store is eventually consistent for readers; writes for one key come from a
// single handler at a time, so read-modify-write is safe here.
func (s *ProgressStore) Merge(ctx context.Context, key string, update models.ProgressUpdate) error {
	rec, err := s.Get(ctx, key)
	if err != nil {
		return err
	}

	update.Apply(rec)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode progress record: %w", err)
	}
	return s.cache.Set(ctx, progressKeyPrefix+key, data, progressTTL)
}

func (s *ProgressStore) Clear(ctx context.Context, key string) error {
	return s.cache.Del(ctx, progressKeyPrefix+key)
}
