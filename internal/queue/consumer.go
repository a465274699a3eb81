/**
 * Queue Consumer for the vocabulary worker
 *
 * Consumes page jobs from Redis via asynq and runs them through the page
 * processor. Status transitions go to PostgreSQL (through the processor) and
 * to Redis pub/sub.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/vocab-worker/internal/errors"
	"github.com/adverant/nexus/vocab-worker/internal/logging"
	"github.com/adverant/nexus/vocab-worker/internal/processor"
)

const (
	defaultMaxRetry          = 5
	defaultProcessingTimeout = 5 * time.Minute
	baseRetryDelay           = 5 * time.Second
	maxRetryDelay            = 60 * time.Second
)

// PageProcessor runs page jobs
type PageProcessor interface {
	ProcessPage(ctx context.Context, req *processor.PageRequest) (*processor.PageResult, error)
	UpdateJobStatus(ctx context.Context, req *processor.PageRequest, status string, progress int, metadata map[string]interface{}) error
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         PageProcessor
	Events            StatusPublisher // optional
	ProcessingTimeout time.Duration
	Logger            *logging.Logger
}

// Consumer handles job consumption from the Redis queue
type Consumer struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor PageProcessor
	events    StatusPublisher
	config    *ConsumerConfig
	logger    *logging.Logger
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	c := newConsumer(cfg)

	c.server = asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			RetryDelayFunc: retryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				c.logger.Error("task failed",
					"type", task.Type(),
					"retried", retried,
					"error", err,
				)
			}),
			Logger:          &asynqLogger{log: c.logger},
			ShutdownTimeout: 30 * time.Second,
		},
	)

	c.mux = asynq.NewServeMux()
	c.mux.HandleFunc(TaskTypeExtractPage, c.handlePageTask)

	return c, nil
}

func newConsumer(cfg *ConsumerConfig) *Consumer {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("Consumer")
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = defaultProcessingTimeout
	}
	return &Consumer{
		processor: cfg.Processor,
		events:    cfg.Events,
		config:    cfg,
		logger:    logger,
	}
}

// retryDelay backs off 5s, 10s, 20s, ... capped at one minute
func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	if n < 0 {
		n = 0
	}
	if n >= 4 {
		return maxRetryDelay
	}
	return min(baseRetryDelay<<uint(n), maxRetryDelay)
}

// Start starts processing in the background
func (c *Consumer) Start() error {
	c.logger.Info("starting queue consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName,
	)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	return nil
}

// Stop waits for in-flight jobs and stops the consumer
func (c *Consumer) Stop() {
	c.logger.Info("stopping queue consumer")
	c.server.Shutdown()
	c.logger.Info("queue consumer stopped")
}

// handlePageTask processes one page job
func (c *Consumer) handlePageTask(ctx context.Context, task *asynq.Task) error {
	start := time.Now()

	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		c.logger.Error("discarding malformed job payload", "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	req := payload.PageRequest()
	log := c.logger.With("jobId", req.JobID, "chapterId", req.ChapterID, "page", req.PageNumber)
	log.Info("processing page", "bufferBytes", len(req.ImageBuffer), "hasUrl", req.ImageURL != "")

	if req.JobID != "" {
		c.transition(ctx, req, StatusProcessing, 0, nil, nil)
	}

	processCtx, cancel := context.WithTimeout(ctx, c.config.ProcessingTimeout)
	defer cancel()

	result, err := c.processor.ProcessPage(processCtx, req)
	duration := time.Since(start)

	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = errors.NewProcessingTimeoutError(req.JobID, c.config.ProcessingTimeout, err)
		}
		return c.fail(ctx, req, err, duration)
	}

	log.Info("page completed",
		"durationMs", duration.Milliseconds(),
		"tiles", result.TileCount,
		"lines", result.LineCount,
		"words", result.WordCount,
	)

	c.transition(ctx, req, StatusCompleted, 100, map[string]interface{}{
		"tileCount":        result.TileCount,
		"lineCount":        result.LineCount,
		"wordCount":        result.WordCount,
		"indexedTerms":     result.IndexedTerms,
		"upscaled":         result.Upscaled,
		"processingTimeMs": duration.Milliseconds(),
	}, result)

	return nil
}

// fail records the failure and tells asynq whether to retry
func (c *Consumer) fail(ctx context.Context, req *processor.PageRequest, err error, duration time.Duration) error {
	retryable := errors.IsRetryable(err)
	final := !retryable || retriesExhausted(ctx)

	metadata := failureMetadata(err)
	metadata["processingTimeMs"] = duration.Milliseconds()

	status, progress := StatusRetrying, 0
	if final {
		status, progress = StatusFailed, 100
	}

	c.logger.Error("page failed",
		"jobId", req.JobID,
		"status", status,
		"retryable", retryable,
		"durationMs", duration.Milliseconds(),
		"error", err,
	)

	if req.JobID != "" {
		c.transition(ctx, req, status, progress, metadata, nil)
	}

	if !retryable {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

func retriesExhausted(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func failureMetadata(err error) map[string]interface{} {
	pe, ok := errors.AsProcessingError(err)
	if !ok {
		return map[string]interface{}{"error": err.Error()}
	}

	metadata := pe.ToMap()
	metadata["errorCode"] = string(pe.Code)
	metadata["errorStage"] = string(pe.Stage)
	metadata["error"] = pe.Error()
	return metadata
}

// transition writes a status change to the store and the event channel.
// Neither failure affects the job outcome.
func (c *Consumer) transition(ctx context.Context, req *processor.PageRequest, status string, progress int, metadata map[string]interface{}, result *processor.PageResult) {
	if err := c.processor.UpdateJobStatus(ctx, req, status, progress, metadata); err != nil {
		c.logger.Warn("failed to update job status", "jobId", req.JobID, "status", status, "error", err)
	}

	if c.events == nil {
		return
	}

	event := newStatusEvent(req.JobID, req.ChapterID, req.PageNumber, status)
	if result != nil {
		event.WordCount = result.WordCount
	}
	if metadata != nil {
		if code, ok := metadata["errorCode"].(string); ok {
			event.ErrorCode = code
		}
		if msg, ok := metadata["error"].(string); ok {
			event.Error = msg
		}
	}

	if err := c.events.Publish(ctx, event); err != nil {
		c.logger.Warn("failed to publish status event", "jobId", req.JobID, "status", status, "error", err)
	}
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency":       c.config.Concurrency,
		"queue":             c.config.QueueName,
		"processingTimeout": c.config.ProcessingTimeout.String(),
	}
}

// Enqueue submits a page job. Producers outside this repo submit the same
// task shape.
func Enqueue(ctx context.Context, client *asynq.Client, queueName string, payload *JobPayload, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	task, err := NewPageTask(payload, queueName, opts...)
	if err != nil {
		return nil, err
	}

	info, err := client.EnqueueContext(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue page job %s: %w", payload.JobID, err)
	}
	return info, nil
}

// asynqLogger routes asynq's internal logging through the worker logger
type asynqLogger struct {
	log *logging.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.log.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.log.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.log.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.log.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) {
	l.log.Error(fmt.Sprint(args...))
	os.Exit(1)
}
