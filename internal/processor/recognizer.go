/**
 * Recognition adapters - turn a tile into tile-local text regions
 */

package processor

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/adverant/nexus/vocab-worker/internal/clients"
)

// OCRParser is the subset of clients.OCRClient the adapter needs.
type OCRParser interface {
	Parse(ctx context.Context, req *clients.OCRRequest) (*clients.OCRResponse, error)
}

// OCRSpaceRecognizer recognizes tiles through the hosted OCR service
type OCRSpaceRecognizer struct {
	client OCRParser
}

// NewOCRSpaceRecognizer wraps an OCR client as a Recognizer
func NewOCRSpaceRecognizer(client OCRParser) *OCRSpaceRecognizer {
	return &OCRSpaceRecognizer{client: client}
}

// Recognize returns one result per overlay line. Its box is the union of the
// line's word boxes, in the tile's own pixel grid.
func (r *OCRSpaceRecognizer) Recognize(ctx context.Context, tile TileInfo, cfg OcrConfig) ([]OcrResult, error) {
	resp, err := r.client.Parse(ctx, &clients.OCRRequest{
		Image:     tile.Data,
		APIKey:    cfg.APIKey,
		Language:  cfg.Language,
		OCREngine: cfg.OCREngine,
		Scale:     cfg.Scale,
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("recognition service returned no response")
	}

	results := []OcrResult{}
	for _, parsed := range resp.ParsedResults {
		if parsed.TextOverlay == nil {
			continue
		}
		for _, line := range parsed.TextOverlay.Lines {
			if res, ok := overlayLineResult(line); ok {
				results = append(results, res)
			}
		}
	}
	return results, nil
}

func overlayLineResult(line clients.OCRLine) (OcrResult, bool) {
	text := strings.TrimSpace(line.LineText)
	words := make([]string, 0, len(line.Words))

	var box BoundingBox
	boxed := false
	for _, w := range line.Words {
		if t := strings.TrimSpace(w.WordText); t != "" {
			words = append(words, t)
		}
		wb := BoundingBox{
			X:      int(math.Floor(w.Left)),
			Y:      int(math.Floor(w.Top)),
			Width:  int(math.Ceil(w.Width)),
			Height: int(math.Ceil(w.Height)),
		}
		if wb.Degenerate() {
			continue
		}
		if !boxed {
			box, boxed = wb, true
			continue
		}
		box = box.Union(wb)
	}

	if text == "" {
		text = strings.Join(words, " ")
	}
	if text == "" || !boxed {
		return OcrResult{}, false
	}
	return OcrResult{Text: text, BBox: box}, true
}
