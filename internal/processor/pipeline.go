/**
 * Pipeline - one page image in, reconciled lines and vocabulary out
 *
 * upscale -> tile -> recognize (bounded fan-out) -> reconcile -> extract
 */

package processor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus/vocab-worker/internal/errors"
	"github.com/adverant/nexus/vocab-worker/internal/logging"
)

const (
	DefaultRecognitionConcurrency = 4
	DefaultRecognitionTimeout     = 30 * time.Second
	DefaultOCRLanguage            = "kor"
	DefaultOCREngine              = 2
)

// RecognitionConfig bounds the recognition fan-out
type RecognitionConfig struct {
	Concurrency int
	CallTimeout time.Duration
}

// PipelineConfig holds every stage's configuration
type PipelineConfig struct {
	Upscale     UpscaleConfig
	Tiling      TilingConfig
	OCR         OcrConfig
	Recognition RecognitionConfig
}

// Pipeline runs a single page through all stages. It keeps no state between
// runs and is safe for concurrent use.
type Pipeline struct {
	config     PipelineConfig
	upscaler   *Upscaler
	tiler      *Tiler
	recognizer Recognizer
	extractor  Extractor
	logger     *logging.Logger
}

// NewPipeline validates the configuration of every stage up front.
func NewPipeline(cfg PipelineConfig, recognizer Recognizer, extractor Extractor, logger *logging.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if recognizer == nil {
		return nil, errors.NewConfigError("recognizer", fmt.Errorf("is required"))
	}
	if extractor == nil {
		return nil, errors.NewConfigError("extractor", fmt.Errorf("is required"))
	}

	if cfg.Recognition.Concurrency == 0 {
		cfg.Recognition.Concurrency = DefaultRecognitionConcurrency
	}
	if cfg.Recognition.Concurrency < 0 {
		return nil, errors.NewConfigError("RecognitionConfig.Concurrency",
			fmt.Errorf("must be positive, got %d", cfg.Recognition.Concurrency))
	}
	if cfg.Recognition.CallTimeout <= 0 {
		cfg.Recognition.CallTimeout = DefaultRecognitionTimeout
	}
	if cfg.OCR.Language == "" {
		cfg.OCR.Language = DefaultOCRLanguage
	}
	if cfg.OCR.OCREngine == 0 {
		cfg.OCR.OCREngine = DefaultOCREngine
	}

	upscaler, err := NewUpscaler(cfg.Upscale, logger)
	if err != nil {
		return nil, err
	}
	tiler, err := NewTiler(cfg.Tiling, logger)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		config:     cfg,
		upscaler:   upscaler,
		tiler:      tiler,
		recognizer: recognizer,
		extractor:  extractor,
		logger:     logger,
	}, nil
}

// Run processes one page image. Any recognition or extraction failure fails
// the whole run; only upscaling degrades silently.
func (p *Pipeline) Run(ctx context.Context, imageBuffer []byte) (*PipelineResult, error) {
	start := time.Now()
	if len(imageBuffer) == 0 {
		return nil, errors.NewTilingError("empty image buffer", nil)
	}

	img, upscaled := p.upscaler.Upscale(ctx, imageBuffer)

	tiles, err := p.tiler.Tile(img)
	if err != nil {
		return nil, err
	}
	last := tiles[len(tiles)-1]
	width, height := tiles[0].Width, last.StartY+last.Height

	results, err := p.recognizeTiles(ctx, tiles)
	if err != nil {
		return nil, err
	}

	lines := Reconcile(results, width, height)

	words, err := p.extractor.Extract(ctx, JoinLines(lines))
	if err != nil {
		return nil, err
	}

	result := &PipelineResult{
		Lines:     lines,
		Words:     words,
		TileCount: len(tiles),
		Upscaled:  upscaled,
		Duration:  time.Since(start),
	}

	p.logger.Info("Page pipeline complete",
		"tiles", result.TileCount,
		"upscaled", upscaled,
		"detections", len(results),
		"lines", len(lines),
		"words", len(words),
		"duration", result.Duration)

	return result, nil
}

// recognizeTiles runs the recognizer on every tile with bounded parallelism.
// Each goroutine writes only its own slot; the first failure cancels the rest.
func (p *Pipeline) recognizeTiles(ctx context.Context, tiles []TileInfo) ([]OcrResultWithContext, error) {
	perTile := make([][]OcrResult, len(tiles))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Recognition.Concurrency)

	for i, tile := range tiles {
		if gctx.Err() != nil {
			break
		}
		i, tile := i, tile // per-iteration copies (go directive < 1.22)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return errors.NewRecognitionError(i, tile.StartY, err)
			}

			callCtx, cancel := context.WithTimeout(gctx, p.config.Recognition.CallTimeout)
			defer cancel()

			callStart := time.Now()
			res, err := p.recognizer.Recognize(callCtx, tile, p.config.OCR)
			if err != nil {
				p.logger.Warn("Tile recognition failed",
					"tile", i,
					"startY", tile.StartY,
					"elapsed", time.Since(callStart),
					"error", err)
				return errors.NewRecognitionError(i, tile.StartY, err)
			}
			perTile[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	// The loop may have stopped early on cancellation without any goroutine failing.
	if err := ctx.Err(); err != nil {
		return nil, errors.NewRecognitionError(0, 0, err)
	}

	var results []OcrResultWithContext
	for i, tile := range tiles {
		for _, r := range perTile[i] {
			results = append(results, OcrResultWithContext{OcrResult: r, TileContext: tile.Context()})
		}
	}
	return results, nil
}
