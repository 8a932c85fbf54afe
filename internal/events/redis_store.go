package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultStreamKey = "phoenix:events"

// RedisStore persists events to a Redis stream so the log survives restarts
// and can be tailed by external consumers.
type RedisStore struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password, streamKey string, logger *zap.Logger) (*RedisStore, error) {
	if streamKey == "" {
		streamKey = defaultStreamKey
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, key: streamKey, logger: logger}, nil
}

// Append adds the event to the stream.
func (s *RedisStore) Append(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.key,
		Values: map[string]interface{}{
			"type": e.Type,
			"data": payload,
		},
	}).Err()
}

// Recent returns up to limit newest events, oldest first.
func (s *RedisStore) Recent(ctx context.Context, limit int) ([]Event, error) {
	msgs, err := s.client.XRevRangeN(ctx, s.key, "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	out := make([]Event, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		raw, ok := msgs[i].Values["data"].(string)
		if !ok {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			s.logger.Warn("Skipping undecodable event", zap.String("id", msgs[i].ID), zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Trim caps the stream at keep entries (approximate trimming).
func (s *RedisStore) Trim(ctx context.Context, keep int64) error {
	return s.client.XTrimMaxLenApprox(ctx, s.key, keep, 0).Err()
}

// Ping reports backend reachability, used by the health checker.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
