package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLog is the production EventLog on top of Redis Streams.
type RedisLog struct {
	client *redis.Client
}

// NewRedisLog wraps an existing Redis client.
func NewRedisLog(client *redis.Client) *RedisLog {
	return &RedisLog{client: client}
}

// NewRedisClient creates and pings a Redis client.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (l *RedisLog) Append(ctx context.Context, key string, values map[string]string, maxlen int64) (string, error) {
	args := map[string]interface{}{}
	for k, v := range values {
		args[k] = v
	}
	id, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: maxlen,
		Approx: true,
		Values: args,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append to stream %s: %w", key, err)
	}
	return id, nil
}

func (l *RedisLog) Read(ctx context.Context, key, fromID string, block time.Duration, count int64) ([]Record, error) {
	res, err := l.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{key, fromID},
		Block:   block,
		Count:   count,
	}).Result()
	if err == redis.Nil {
		// Block timed out with no new entries.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stream %s: %w", key, err)
	}

	var records []Record
	for _, stream := range res {
		for _, msg := range stream.Messages {
			values := make(map[string]string, len(msg.Values))
			for k, v := range msg.Values {
				if s, ok := v.(string); ok {
					values[k] = s
				} else {
					values[k] = fmt.Sprintf("%v", v)
				}
			}
			records = append(records, Record{ID: msg.ID, Values: values})
		}
	}
	return records, nil
}

func (l *RedisLog) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return l.client.Expire(ctx, key, ttl).Err()
}
