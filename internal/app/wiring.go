// Package app maps worker configuration onto pipeline components. It is shared
// by the worker and the CLI.
package app

import (
	"time"

	"github.com/adverant/nexus/vocab-worker/internal/clients"
	"github.com/adverant/nexus/vocab-worker/internal/config"
	"github.com/adverant/nexus/vocab-worker/internal/logging"
	"github.com/adverant/nexus/vocab-worker/internal/processor"
)

const (
	llmTimeout = 2 * time.Minute
)

// PipelineConfig maps configuration onto every pipeline stage
func PipelineConfig(cfg *config.Config) processor.PipelineConfig {
	return processor.PipelineConfig{
		Upscale: processor.UpscaleConfig{
			Enabled: cfg.UpscaleEnabled,
			Scale:   cfg.UpscaleScale,
		},
		Tiling: processor.TilingConfig{
			FileSizeThreshold: cfg.TileFileSizeThreshold,
			OverlapPercentage: cfg.TileOverlapPercentage,
		},
		OCR: processor.OcrConfig{
			APIKey:    cfg.OCRAPIKey,
			Language:  cfg.OCRLanguage,
			OCREngine: cfg.OCREngine,
			Scale:     cfg.OCRScale,
		},
		Recognition: processor.RecognitionConfig{
			Concurrency: cfg.RecognitionConcurrency,
			CallTimeout: cfg.RecognitionTimeout(),
		},
	}
}

// NewRemoteRecognizer creates the hosted OCR recognizer. The HTTP timeout is
// slightly above the per-call timeout so the context deadline fires first.
func NewRemoteRecognizer(cfg *config.Config) processor.Recognizer {
	client := clients.NewOCRClient(cfg.OCRAPIURL, cfg.RecognitionTimeout()+5*time.Second)
	return processor.NewOCRSpaceRecognizer(client)
}

// NewWordExtractor creates the language model backed extractor
func NewWordExtractor(cfg *config.Config, logger *logging.Logger) (*processor.WordExtractor, error) {
	llm := clients.NewLLMClient(cfg.LLMAPIURL, cfg.OpenRouterAPIKey, llmTimeout)
	return processor.NewWordExtractor(processor.WordExtractorConfig{
		APIKey: cfg.OpenRouterAPIKey,
		Model:  cfg.LLMModel,
	}, llm, logger)
}
