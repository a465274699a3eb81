/**
 * Vocabulary Worker - Main Entry Point
 *
 * Consumes page jobs for serialized story chapters and turns each page image
 * into vocabulary terms for spaced-repetition study.
 *
 * Architecture:
 * - Asynq consumer on the Redis-backed "vocab:pages" queue
 * - Pipeline: upscale -> tile -> parallel OCR -> reconcile -> LLM extraction
 * - Redis recognition cache and status events
 * - PostgreSQL persistence, optional Qdrant term index (VoyageAI embeddings)
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/vocab-worker/internal/app"
	"github.com/adverant/nexus/vocab-worker/internal/cache"
	"github.com/adverant/nexus/vocab-worker/internal/clients"
	"github.com/adverant/nexus/vocab-worker/internal/config"
	"github.com/adverant/nexus/vocab-worker/internal/health"
	"github.com/adverant/nexus/vocab-worker/internal/logging"
	"github.com/adverant/nexus/vocab-worker/internal/processor"
	"github.com/adverant/nexus/vocab-worker/internal/queue"
	"github.com/adverant/nexus/vocab-worker/internal/storage"
	"github.com/adverant/nexus/vocab-worker/internal/tesseract"
)

func main() {
	envErr := godotenv.Load(".env.vocab")

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.NewLogger("Worker").Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Configure(cfg.LogLevel, cfg.LogFormat)
	log := logging.NewLogger("Worker")
	if envErr != nil {
		log.Warn(".env.vocab not found, using system environment variables")
	}

	log.Info("vocabulary worker starting",
		"queue", cfg.QueueName,
		"workers", cfg.WorkerConcurrency,
		"ocrBackend", cfg.OCRBackend,
		"termIndex", cfg.QdrantURL != "",
	)

	ctx := context.Background()

	storageManager, err := storage.NewStorageManager(ctx, cfg.DatabaseURL, cfg.QdrantURL, cfg.QdrantCollection)
	if err != nil {
		log.Error("failed to initialize storage manager", "error", err)
		os.Exit(1)
	}
	defer storageManager.Close()

	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Error("failed to parse Redis URL", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpt)
	defer redisClient.Close()

	var recognizer processor.Recognizer
	switch cfg.OCRBackend {
	case "tesseract":
		recognizer = tesseract.NewRecognizer(nil)
	default:
		recognizer = app.NewRemoteRecognizer(cfg)
	}

	recognitionCache, err := cache.NewRecognitionCache(recognizer, redisClient, cfg.OCRCacheTTL(), logging.NewLogger("RecognitionCache"))
	if err != nil {
		log.Error("failed to initialize recognition cache", "error", err)
		os.Exit(1)
	}

	extractor, err := app.NewWordExtractor(cfg, logging.NewLogger("WordExtractor"))
	if err != nil {
		log.Error("failed to initialize word extractor", "error", err)
		os.Exit(1)
	}

	pipeline, err := processor.NewPipeline(app.PipelineConfig(cfg), recognitionCache, extractor, logging.NewLogger("Pipeline"))
	if err != nil {
		log.Error("failed to initialize pipeline", "error", err)
		os.Exit(1)
	}

	procCfg := processor.ProcessorConfig{
		MaxFileSize: cfg.MaxFileSize,
		Store:       storageManager,
	}
	if storageManager.TermIndexEnabled() {
		embedder, err := clients.NewEmbeddingClient(cfg.VoyageAPIKey, "")
		if err != nil {
			log.Error("failed to initialize embedding client", "error", err)
			os.Exit(1)
		}
		procCfg.TermIndex = storageManager
		procCfg.Embedder = embedder
	}

	proc, err := processor.NewPageProcessor(procCfg, pipeline, logging.NewLogger("PageProcessor"))
	if err != nil {
		log.Error("failed to initialize page processor", "error", err)
		os.Exit(1)
	}

	tracker, err := queue.NewRedisStatusTracker(cfg.RedisURL, cfg.QueueName)
	if err != nil {
		log.Error("failed to initialize status tracker", "error", err)
		os.Exit(1)
	}
	defer tracker.Close()

	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		Processor:         proc,
		Events:            tracker,
		ProcessingTimeout: cfg.ProcessingTimeoutDuration(),
		Logger:            logging.NewLogger("Consumer"),
	})
	if err != nil {
		log.Error("failed to initialize queue consumer", "error", err)
		os.Exit(1)
	}

	var healthServer *health.Server
	if cfg.HealthAddr != "" {
		router := health.NewRouter(storageManager, map[string]health.StatsFunc{
			"storage": storageManager.GetStats,
			"queue": func(ctx context.Context) (map[string]interface{}, error) {
				counts, err := tracker.GetStats(ctx)
				if err != nil {
					return nil, err
				}
				stats := consumer.GetStatistics()
				for k, v := range counts {
					stats[k] = v
				}
				return stats, nil
			},
			"recognitionCache": func(context.Context) (map[string]interface{}, error) {
				out := map[string]interface{}{}
				for k, v := range recognitionCache.Stats() {
					out[k] = v
				}
				return out, nil
			},
		}, logging.NewLogger("Health"))
		healthServer = health.NewServer(cfg.HealthAddr, router, logging.NewLogger("Health"))
		healthServer.Start()
	}

	if err := consumer.Start(); err != nil {
		log.Error("failed to start queue consumer", "error", err)
		os.Exit(1)
	}
	log.Info("worker ready, waiting for jobs")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("received signal, shutting down", "signal", sig.String())

	consumer.Stop()

	if healthServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("health server shutdown failed", "error", err)
		}
		cancel()
	}

	log.Info("shutdown complete")
}
