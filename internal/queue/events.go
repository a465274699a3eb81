/**
 * Job status tracking in Redis
 *
 * Keeps processing/completed/failed sets per queue and publishes every
 * transition on "<queue>:events" for live progress streaming.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Job statuses
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusRetrying   = "retrying"
	StatusFailed     = "failed"
)

// StatusEvent is published on every job transition
type StatusEvent struct {
	Event      string `json:"event"`
	JobID      string `json:"jobId"`
	ChapterID  string `json:"chapterId"`
	PageNumber int    `json:"pageNumber"`
	Status     string `json:"status"`
	WordCount  int    `json:"wordCount,omitempty"`
	ErrorCode  string `json:"errorCode,omitempty"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// StatusPublisher records job transitions outside the database
type StatusPublisher interface {
	Publish(ctx context.Context, event *StatusEvent) error
}

// RedisStatusTracker implements StatusPublisher on go-redis
type RedisStatusTracker struct {
	client    *redis.Client
	queueName string
}

// NewRedisStatusTracker connects to Redis
func NewRedisStatusTracker(redisURL, queueName string) (*RedisStatusTracker, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if queueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	return &RedisStatusTracker{client: redis.NewClient(opt), queueName: queueName}, nil
}

func (t *RedisStatusTracker) key(suffix string) string {
	return fmt.Sprintf("%s:%s", t.queueName, suffix)
}

// EventsChannel is the pub/sub channel status events go to
func (t *RedisStatusTracker) EventsChannel() string {
	return t.key("events")
}

// newStatusEvent stamps an event for a transition
func newStatusEvent(jobID, chapterID string, pageNumber int, status string) *StatusEvent {
	return &StatusEvent{
		Event:      "job:" + status,
		JobID:      jobID,
		ChapterID:  chapterID,
		PageNumber: pageNumber,
		Status:     status,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
}

// Publish updates the status sets and publishes the event in one pipeline
func (t *RedisStatusTracker) Publish(ctx context.Context, event *StatusEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}

	pipe := t.client.TxPipeline()
	switch event.Status {
	case StatusProcessing:
		pipe.SAdd(ctx, t.key("processing"), event.JobID)
	case StatusCompleted:
		pipe.SRem(ctx, t.key("processing"), event.JobID)
		pipe.SRem(ctx, t.key("failed"), event.JobID)
		pipe.SAdd(ctx, t.key("completed"), event.JobID)
		pipe.HSet(ctx, t.key("results"), event.JobID, data)
	case StatusFailed:
		pipe.SRem(ctx, t.key("processing"), event.JobID)
		pipe.SAdd(ctx, t.key("failed"), event.JobID)
		pipe.HSet(ctx, t.key("errors"), event.JobID, data)
	}
	pipe.Publish(ctx, t.EventsChannel(), data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish status event (job=%s, status=%s): %w", event.JobID, event.Status, err)
	}
	return nil
}

// GetStats returns the size of each status set
func (t *RedisStatusTracker) GetStats(ctx context.Context) (map[string]int64, error) {
	pipe := t.client.Pipeline()
	processing := pipe.SCard(ctx, t.key("processing"))
	completed := pipe.SCard(ctx, t.key("completed"))
	failed := pipe.SCard(ctx, t.key("failed"))

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return map[string]int64{
		"processing": processing.Val(),
		"completed":  completed.Val(),
		"failed":     failed.Val(),
	}, nil
}

// Close closes the Redis connection
func (t *RedisStatusTracker) Close() error {
	return t.client.Close()
}
