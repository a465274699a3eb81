package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/vocab-worker/internal/app"
	"github.com/adverant/nexus/vocab-worker/internal/config"
	"github.com/adverant/nexus/vocab-worker/internal/logging"
	"github.com/adverant/nexus/vocab-worker/internal/processor"
	"github.com/adverant/nexus/vocab-worker/internal/tesseract"
)

type runOutput struct {
	TileCount  int                       `json:"tileCount"`
	Upscaled   bool                      `json:"upscaled"`
	DurationMs int64                     `json:"durationMs"`
	Text       string                    `json:"text"`
	Lines      []processor.OcrLineResult `json:"lines"`
	Words      []processor.ExtractedWord `json:"words"`
}

func newRunCmd() *cobra.Command {
	var (
		imagePath string
		backend   string
		noUpscale bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline on a local page image and print JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if backend != "" {
				os.Setenv("OCR_BACKEND", backend)
			}
			cfg, err := config.LoadPipelineConfig()
			if err != nil {
				return err
			}
			if noUpscale {
				cfg.UpscaleEnabled = false
			}

			image, err := os.ReadFile(imagePath)
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}

			var recognizer processor.Recognizer
			if cfg.OCRBackend == "tesseract" {
				recognizer = tesseract.NewRecognizer(nil)
			} else {
				recognizer = app.NewRemoteRecognizer(cfg)
			}

			extractor, err := app.NewWordExtractor(cfg, logging.NewLogger("WordExtractor"))
			if err != nil {
				return err
			}

			pipeline, err := processor.NewPipeline(app.PipelineConfig(cfg), recognizer, extractor, logging.NewLogger("Pipeline"))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, cfg.ProcessingTimeoutDuration())
			defer cancel()

			result, err := pipeline.Run(ctx, image)
			if err != nil {
				return err
			}

			return writeJSON(cmd.OutOrStdout(), runOutput{
				TileCount:  result.TileCount,
				Upscaled:   result.Upscaled,
				DurationMs: result.Duration.Milliseconds(),
				Text:       processor.JoinLines(result.Lines),
				Lines:      result.Lines,
				Words:      result.Words,
			})
		},
	}

	cmd.Flags().StringVar(&imagePath, "image", "", "page image file")
	cmd.Flags().StringVar(&backend, "backend", "", "OCR backend override (ocrspace|tesseract)")
	cmd.Flags().BoolVar(&noUpscale, "no-upscale", false, "skip upscaling")
	cmd.MarkFlagRequired("image")

	return cmd
}
