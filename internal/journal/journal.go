// Package journal publishes session audit events to a Redis stream.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// publishTimeout bounds a single XADD so a slow Redis never stalls a tick.
const publishTimeout = 2 * time.Second

// StreamJournal appends audit events to a Redis stream via XADD.
// Publish failures are logged and swallowed so the caller never blocks
// on journal availability.
type StreamJournal struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

// NewStreamJournal wires a journal onto an existing Redis client.
func NewStreamJournal(client *redis.Client, stream string, logger *zap.Logger) *StreamJournal {
	return &StreamJournal{
		client: client,
		stream: stream,
		logger: logger,
	}
}

// NewRedisClient builds a Redis client for the journal connection.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Ping verifies the Redis connection.
func (j *StreamJournal) Ping(ctx context.Context) error {
	return j.client.Ping(ctx).Err()
}

// Log implements collab.EventJournal.
func (j *StreamJournal) Log(event string, fields map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	values := map[string]interface{}{
		"event":     event,
		"timestamp": time.Now().Unix(),
	}
	for k, v := range fields {
		str, err := stringify(v)
		if err != nil {
			j.logger.Warn("journal field not serializable",
				zap.String("event", event),
				zap.String("field", k),
				zap.Error(err))
			continue
		}
		values[k] = str
	}

	if _, err := j.client.XAdd(ctx, &redis.XAddArgs{
		Stream: j.stream,
		Values: values,
	}).Result(); err != nil {
		j.logger.Warn("journal publish failed",
			zap.String("event", event),
			zap.String("stream", j.stream),
			zap.Error(err))
	}
}

// Close releases the underlying Redis connection.
func (j *StreamJournal) Close() error {
	return j.client.Close()
}

// stringify flattens a field value into the string form Redis stream
// entries carry.
func stringify(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case int:
		return fmt.Sprintf("%d", val), nil
	case int32:
		return fmt.Sprintf("%d", val), nil
	case int64:
		return fmt.Sprintf("%d", val), nil
	case float32:
		return fmt.Sprintf("%f", val), nil
	case float64:
		return fmt.Sprintf("%f", val), nil
	case bool:
		if val {
			return "true", nil
		}
		return "false", nil
	default:
		jsonBytes, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(jsonBytes), nil
	}
}
