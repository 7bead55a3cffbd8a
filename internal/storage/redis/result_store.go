// Package redis provides Redis-backed persistence for harvested records.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/spider-orchestrator/internal/apperrors"
	"github.com/JakeFAU/spider-orchestrator/internal/config"
	"github.com/JakeFAU/spider-orchestrator/internal/tasks"
)

const resultKeyPrefix = "crawl_results:"

// NewClient connects to Redis and verifies the connection with a ping.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	return client, nil
}

// ResultStore keeps each task's harvested records in a Redis list under
// crawl_results:<task_id>. Retention is a TTL refreshed on every append,
// never on reads, so an untouched task's records age out together.
type ResultStore struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewResultStore constructs a ResultStore with the given retention window.
func NewResultStore(client *goredis.Client, ttl time.Duration) *ResultStore {
	return &ResultStore{client: client, ttl: ttl}
}

// Append pushes records onto the task's list in order and refreshes the
// retention window. An empty batch leaves the key untouched.
func (s *ResultStore) Append(ctx context.Context, taskID string, records []tasks.Record) error {
	if len(records) == 0 {
		return nil
	}
	key := resultKeyPrefix + taskID

	pipe := s.client.Pipeline()
	for _, record := range records {
		encoded, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encode record for task %s: %w", taskID, err)
		}
		pipe.RPush(ctx, key, encoded)
	}
	pipe.Expire(ctx, key, s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.Unavailable("redis", fmt.Errorf("append results for task %s: %w", taskID, err))
	}
	return nil
}

// Read returns the window [start, start+limit) of the task's records along
// with the list total. Windows past the end yield an empty page.
func (s *ResultStore) Read(ctx context.Context, taskID string, start, limit int) (tasks.ResultWindow, error) {
	key := resultKeyPrefix + taskID

	pipe := s.client.Pipeline()
	rangeCmd := pipe.LRange(ctx, key, int64(start), int64(start+limit-1))
	lenCmd := pipe.LLen(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return tasks.ResultWindow{}, apperrors.Unavailable("redis", fmt.Errorf("read results for task %s: %w", taskID, err))
	}

	raw := rangeCmd.Val()
	items := make([]json.RawMessage, 0, len(raw))
	for _, entry := range raw {
		items = append(items, json.RawMessage(entry))
	}

	total := lenCmd.Val()
	return tasks.ResultWindow{
		Items:   items,
		Total:   total,
		HasMore: int64(start+limit) < total,
	}, nil
}
