package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisWrapper "github.com/weftworks/weft/common/redis"
	"github.com/weftworks/weft/common/sdk"
)

const (
	// streamMaxLen caps the per-execution replay stream.
	streamMaxLen = 1000
	statusTTL    = 24 * time.Hour
)

// EventsChannel is the pub/sub channel carrying one execution's live events.
func EventsChannel(executionID string) string {
	return fmt.Sprintf("execution:events:%s", executionID)
}

// EventsStream is the capped stream holding one execution's event history.
func EventsStream(executionID string) string {
	return fmt.Sprintf("execution:stream:%s", executionID)
}

// StatusKey is the hot-path mirror of one execution's status.
func StatusKey(executionID string) string {
	return fmt.Sprintf("execution:status:%s", executionID)
}

// RedisPublisher mirrors engine events into Redis: a pub/sub channel for live
// consumers, a capped stream for replay, and a status key other services can
// read without touching the database. All three writes go out in one
// pipelined round-trip.
type RedisPublisher struct {
	redis  *redisWrapper.Client
	logger Logger
}

// NewRedisPublisher creates a Redis event transport.
func NewRedisPublisher(client *redisWrapper.Client, logger Logger) *RedisPublisher {
	return &RedisPublisher{redis: client, logger: logger}
}

// Publish sends the event to Redis. Failures are logged, never surfaced; the
// engine does not stall on the event path.
func (p *RedisPublisher) Publish(ctx context.Context, e *sdk.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("failed to marshal event",
			"execution_id", e.ExecutionID,
			"event_type", string(e.Type),
			"error", err)
		return
	}

	pipeline := p.redis.NewPipeline()
	pipeline.PublishEvent(ctx, EventsChannel(e.ExecutionID), string(payload))
	pipeline.AddToStream(ctx, EventsStream(e.ExecutionID), map[string]interface{}{
		"event": string(payload),
	}, streamMaxLen)
	if status := executionStatusOf(e); status != "" {
		pipeline.SetWithExpiry(ctx, StatusKey(e.ExecutionID), status, statusTTL)
	}

	if err := pipeline.Exec(ctx); err != nil {
		p.logger.Error("failed to publish event to redis",
			"execution_id", e.ExecutionID,
			"event_type", string(e.Type),
			"error", err)
	}
}

// Replay returns the events recorded in an execution's stream, oldest first.
func (p *RedisPublisher) Replay(ctx context.Context, executionID string) ([]*sdk.Event, error) {
	entries, err := p.redis.GetUnderlying().XRange(ctx, EventsStream(executionID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read event stream: %w", err)
	}
	events := make([]*sdk.Event, 0, len(entries))
	for _, entry := range entries {
		raw, ok := entry.Values["event"].(string)
		if !ok {
			continue
		}
		var e sdk.Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			p.logger.Warn("skipping undecodable stream entry",
				"execution_id", executionID,
				"stream_id", entry.ID,
				"error", err)
			continue
		}
		events = append(events, &e)
	}
	return events, nil
}

// Status reads the mirrored status of an execution. Returns "" when the
// mirror has expired or was never written.
func (p *RedisPublisher) Status(ctx context.Context, executionID string) string {
	val, err := p.redis.Get(ctx, StatusKey(executionID))
	if err != nil {
		return ""
	}
	return val
}

// executionStatusOf maps an event to the execution status it implies, or ""
// for node-level events that do not change it.
func executionStatusOf(e *sdk.Event) string {
	switch e.Type {
	case sdk.EventExecutionPaused:
		return string(sdk.StatusPaused)
	case sdk.EventExecutionResumed:
		return string(sdk.StatusRunning)
	case sdk.EventExecutionCompleted:
		return string(sdk.StatusCompleted)
	case sdk.EventExecutionFailed:
		return string(sdk.StatusFailed)
	case sdk.EventExecutionStopped:
		return string(sdk.StatusStopped)
	}
	return ""
}
