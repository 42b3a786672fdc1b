package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each session's history in a Redis list of JSON messages.
type RedisStore struct {
	client     *redis.Client
	maxHistory int
	ttl        time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis at url (redis:// form) and verifies the
// connection. maxHistory bounds the stored turns per session.
func NewRedisStore(ctx context.Context, url string, maxHistory int) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client, maxHistory: maxHistory, ttl: DefaultTTL}, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func sessionKey(sessionID string) string {
	return "chat:history:" + sessionID
}

func (s *RedisStore) Get(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > s.maxHistory {
		limit = s.maxHistory
	}
	raw, err := s.client.LRange(ctx, sessionKey(sessionID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history for %s: %w", sessionID, err)
	}
	messages := make([]Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			continue
		}
		messages = append(messages, m)
	}
	return messages, nil
}

func (s *RedisStore) Append(ctx context.Context, sessionID string, messages ...Message) error {
	if len(messages) == 0 {
		return nil
	}
	key := sessionKey(sessionID)
	values := make([]interface{}, 0, len(messages))
	for _, m := range messages {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal history message: %w", err)
		}
		values = append(values, data)
	}
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, int64(-s.maxHistory), -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append history for %s: %w", sessionID, err)
	}
	return nil
}
