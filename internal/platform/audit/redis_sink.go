package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream audit entries are appended to.
const DefaultStream = "clinic:audit"

// RedisSink appends entries to a capped Redis stream so downstream consumers
// (SIEM shippers, compliance exports) can tail them.
type RedisSink struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

// NewRedisSink returns a sink appending to stream, trimming it to roughly
// maxLen entries. A maxLen of zero disables trimming.
func NewRedisSink(client redis.Cmdable, stream string, maxLen int64) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (s *RedisSink) Record(ctx context.Context, e Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("audit: marshal details: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"user_id":       e.UserID,
			"action":        string(e.Action),
			"resource_type": string(e.ResourceType),
			"resource_id":   e.ResourceID,
			"details":       string(details),
			"timestamp":     e.Timestamp.Format(time.RFC3339Nano),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("audit: xadd %s: %w", s.stream, err)
	}
	return nil
}
