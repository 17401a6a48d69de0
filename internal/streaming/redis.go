package streaming

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	streamKeyPrefix = "prosearch:events:"
	streamMaxLen    = 1000
	streamTTL       = 1 * time.Hour
)

// RedisMirror copies every published event onto a per-run Redis Stream so
// other replicas (or the gateway tier) can serve the same progress feed.
// Mirroring is best-effort: a Redis outage degrades streaming to
// single-replica, it never fails a run.
type RedisMirror struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisMirror builds a mirror over an existing Redis client.
func NewRedisMirror(client *redis.Client, logger *zap.Logger) *RedisMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisMirror{client: client, logger: logger}
}

// MirrorEvent appends the event to the run's stream.
func (r *RedisMirror) MirrorEvent(evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := streamKeyPrefix + evt.RunID
	pipe := r.client.Pipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"type":    evt.Type,
			"seq":     evt.Seq,
			"payload": string(evt.Marshal()),
		},
	})
	pipe.Expire(ctx, key, streamTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("Failed to mirror event to Redis",
			zap.String("run_id", evt.RunID),
			zap.String("type", evt.Type),
			zap.Error(err),
		)
	}
}

// ReadEvents returns up to count mirrored events for a run after the given
// stream ID ("0" for the beginning), for consumers on other replicas.
func (r *RedisMirror) ReadEvents(ctx context.Context, runID, afterID string, count int64) ([]Event, string, error) {
	start := "-"
	if afterID != "" && afterID != "0" {
		start = "(" + afterID
	}
	entries, err := r.client.XRange(ctx, streamKeyPrefix+runID, start, "+").Result()
	if err != nil {
		return nil, afterID, err
	}
	events := make([]Event, 0, len(entries))
	lastID := afterID
	for _, entry := range entries {
		if count > 0 && int64(len(events)) >= count {
			break
		}
		payload, ok := entry.Values["payload"].(string)
		if !ok {
			continue
		}
		var evt Event
		if err := unmarshalEvent([]byte(payload), &evt); err != nil {
			r.logger.Warn("Skipping malformed mirrored event", zap.String("id", entry.ID), zap.Error(err))
			continue
		}
		events = append(events, evt)
		lastID = entry.ID
	}
	return events, lastID, nil
}

func unmarshalEvent(data []byte, evt *Event) error {
	return json.Unmarshal(data, evt)
}
