/**
 * Pipeline Types - Shared data structures for the page pipeline
 *
 * Every value is created fresh per invocation and is not mutated once the
 * stage that produced it returns.
 */

package processor

import (
	"context"
	"time"
)

// BoundingBox represents an axis-aligned rectangle in pixel coordinates
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Degenerate reports whether the box has no area.
func (b BoundingBox) Degenerate() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Bottom returns the exclusive lower edge.
func (b BoundingBox) Bottom() int { return b.Y + b.Height }

// Right returns the exclusive right edge.
func (b BoundingBox) Right() int { return b.X + b.Width }

// CenterY returns the vertical centre.
func (b BoundingBox) CenterY() float64 { return float64(b.Y) + float64(b.Height)/2 }

// Union returns the smallest box containing both b and o.
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	x0, y0 := min(b.X, o.X), min(b.Y, o.Y)
	x1, y1 := max(b.Right(), o.Right()), max(b.Bottom(), o.Bottom())
	return BoundingBox{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// TileInfo is one horizontal band of the source image plus its placement
type TileInfo struct {
	Data   []byte
	StartY int
	Width  int
	Height int
}

// Context returns the tile's placement in full-image coordinates.
func (t TileInfo) Context() BoundingBox {
	return BoundingBox{X: 0, Y: t.StartY, Width: t.Width, Height: t.Height}
}

// OcrResult is one recognized text span in tile-local coordinates
type OcrResult struct {
	Text string      `json:"text"`
	BBox BoundingBox `json:"bbox"`
}

// OcrResultWithContext tags an OcrResult with the tile it came from
type OcrResultWithContext struct {
	OcrResult
	TileContext BoundingBox
}

// OcrLineResult is a reconciled text line in full-image coordinates
type OcrLineResult struct {
	Line string      `json:"line"`
	BBox BoundingBox `json:"bbox"`
}

// ExtractedWord is a candidate vocabulary item
type ExtractedWord struct {
	Korean          string  `json:"korean"`
	English         string  `json:"english"`
	ImportanceScore float64 `json:"importanceScore"`
}

// OcrConfig carries the recognition service parameters
type OcrConfig struct {
	APIKey    string
	Language  string
	OCREngine int
	Scale     bool
}

// Recognizer turns one tile into tile-local text regions. A failed call must
// return an error rather than an empty slice.
type Recognizer interface {
	Recognize(ctx context.Context, tile TileInfo, cfg OcrConfig) ([]OcrResult, error)
}

// Extractor turns reconciled page text into vocabulary terms.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]ExtractedWord, error)
}

// PipelineResult is the success value of one pipeline invocation
type PipelineResult struct {
	Lines     []OcrLineResult
	Words     []ExtractedWord
	TileCount int
	Upscaled  bool
	Duration  time.Duration
}
