package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const progressTTL = 24 * time.Hour

// ProgressStore keeps the live progress snapshot and the cancellation flag
// for a running batch. Redis backs it in production so progress survives the
// worker and is pollable from any API instance.
type ProgressStore interface {
	Save(ctx context.Context, p Progress) error
	Load(ctx context.Context, batchID int64) (Progress, bool, error)
	RequestCancel(ctx context.Context, batchID int64) error
	CancelRequested(ctx context.Context, batchID int64) (bool, error)
}

// RedisProgressStore implements ProgressStore on go-redis.
type RedisProgressStore struct {
	client *redis.Client
}

// NewRedisProgressStore constructs RedisProgressStore.
func NewRedisProgressStore(client *redis.Client) *RedisProgressStore {
	return &RedisProgressStore{client: client}
}

func progressKey(batchID int64) string {
	return fmt.Sprintf("batch:progress:%d", batchID)
}

func cancelKey(batchID int64) string {
	return fmt.Sprintf("batch:cancel:%d", batchID)
}

// Save overwrites the snapshot.
func (s *RedisProgressStore) Save(ctx context.Context, p Progress) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, progressKey(p.BatchID), payload, progressTTL).Err()
}

// Load returns the snapshot if one exists.
func (s *RedisProgressStore) Load(ctx context.Context, batchID int64) (Progress, bool, error) {
	payload, err := s.client.Get(ctx, progressKey(batchID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Progress{}, false, nil
		}
		return Progress{}, false, err
	}
	var p Progress
	if err := json.Unmarshal(payload, &p); err != nil {
		return Progress{}, false, err
	}
	return p, true, nil
}

// RequestCancel sets the best-effort cancellation flag.
func (s *RedisProgressStore) RequestCancel(ctx context.Context, batchID int64) error {
	return s.client.Set(ctx, cancelKey(batchID), "1", progressTTL).Err()
}

// CancelRequested checks the flag.
func (s *RedisProgressStore) CancelRequested(ctx context.Context, batchID int64) (bool, error) {
	n, err := s.client.Exists(ctx, cancelKey(batchID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
