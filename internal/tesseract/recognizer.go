/**
 * Tesseract recognizer - offline recognition backend
 *
 * Free, local recognition with gosseract. Used when OCR_BACKEND=tesseract,
 * e.g. for development without an OCR service key.
 */

package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/adverant/nexus/vocab-worker/internal/processor"
)

var _ processor.Recognizer = (*Recognizer)(nil)

// Config holds Tesseract configuration
type Config struct {
	// Languages maps OCR service language codes to traineddata names.
	Languages map[string]string
}

// Recognizer recognizes text lines with a local Tesseract install
type Recognizer struct {
	languages map[string]string
}

// NewRecognizer creates a new Tesseract recognizer
func NewRecognizer(cfg *Config) *Recognizer {
	langs := map[string]string{"kor": "kor", "eng": "eng"}
	if cfg != nil {
		for k, v := range cfg.Languages {
			langs[k] = v
		}
	}
	return &Recognizer{languages: langs}
}

// Recognize returns one result per text line. A fresh client is created per
// call, so concurrent tiles never share Tesseract state.
func (t *Recognizer) Recognize(ctx context.Context, tile processor.TileInfo, cfg processor.OcrConfig) ([]processor.OcrResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if lang, ok := t.languages[cfg.Language]; ok {
		if err := client.SetLanguage(lang); err != nil {
			return nil, fmt.Errorf("failed to set language %q: %w", lang, err)
		}
	}

	if err := client.SetImageFromBytes(tile.Data); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	results := make([]processor.OcrResult, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		bbox := processor.BoundingBox{X: b.Box.Min.X, Y: b.Box.Min.Y, Width: b.Box.Dx(), Height: b.Box.Dy()}
		if bbox.Degenerate() {
			continue
		}
		results = append(results, processor.OcrResult{Text: text, BBox: bbox})
	}
	return results, nil
}
