package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"watermarker/api/database"
	"watermarker/api/dto"
)

const progressKeyPrefix = "progress:"

// ProgressCache reads the per-user progress records the worker maintains.
// Reads are eventually consistent with the worker's writes.
type ProgressCache struct {
	cache *database.Cache
}

func NewProgressCache(cache *database.Cache) *ProgressCache {
	return &ProgressCache{cache: cache}
}

// Get returns the user's progress record, or an idle record if none exists.
func (pc *ProgressCache) Get(ctx context.Context, userID string) (*dto.ProgressResponse, error) {
	data, err := pc.cache.Get(ctx, progressKeyPrefix+userID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &dto.ProgressResponse{}, nil
		}
		return nil, fmt.Errorf("get progress record: %w", err)
	}

	var resp dto.ProgressResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return nil, fmt.Errorf("decode progress record: %w", err)
	}
	return &resp, nil
}
