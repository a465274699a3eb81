/**
 * Tiler - Splits oversized page images into overlapping horizontal bands
 *
 * The recognition service rejects uploads above a byte limit. Bands are
 * sized from the observed per-row byte cost and every encoded band is checked
 * against the limit before it is handed out.
 */

package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"math"

	"github.com/adverant/nexus/vocab-worker/internal/errors"
	"github.com/adverant/nexus/vocab-worker/internal/logging"
)

const (
	// DefaultFileSizeThreshold is the recognition service upload limit in bytes
	DefaultFileSizeThreshold = 1000000
	// DefaultOverlapPercentage is the fraction of a band shared with its neighbour
	DefaultOverlapPercentage = 0.10

	bandSafetyFactor   = 0.9
	maxTilingAttempts  = 6
	bandJPEGQuality    = 92
	minShrinkNumerator = 3 // shrink to at least 3/4 of the previous height on retry
)

// TilingConfig controls tiling
type TilingConfig struct {
	FileSizeThreshold int64
	OverlapPercentage float64
}

// Validate rejects thresholds and overlaps that cannot produce a tiling.
func (c TilingConfig) Validate() error {
	if c.FileSizeThreshold <= 0 {
		return errors.NewConfigError("TilingConfig.FileSizeThreshold",
			fmt.Errorf("must be positive, got %d", c.FileSizeThreshold))
	}
	if c.OverlapPercentage < 0 || c.OverlapPercentage >= 1.0 || math.IsNaN(c.OverlapPercentage) {
		return errors.NewConfigError("TilingConfig.OverlapPercentage",
			fmt.Errorf("must be in [0, 1), got %v", c.OverlapPercentage))
	}
	return nil
}

// Tiler partitions images into TileInfo bands
type Tiler struct {
	config TilingConfig
	logger *logging.Logger
}

// NewTiler validates the configuration and returns a Tiler
func NewTiler(cfg TilingConfig, logger *logging.Logger) (*Tiler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Tiler{config: cfg, logger: logger}, nil
}

// Tile returns one tile spanning the image when buf is below the threshold,
// otherwise overlapping bands that each encode below it. The last band always
// ends at the source height.
func (t *Tiler) Tile(buf []byte) ([]TileInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(buf))
	if err != nil {
		return nil, errors.NewTilingError("failed to read image dimensions", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.NewTilingError(fmt.Sprintf("image has no pixels (%dx%d)", cfg.Width, cfg.Height), nil)
	}

	if int64(len(buf)) < t.config.FileSizeThreshold {
		return []TileInfo{{Data: buf, StartY: 0, Width: cfg.Width, Height: cfg.Height}}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, errors.NewTilingError("failed to decode image", err)
	}

	height := t.bandHeight(float64(len(buf))/float64(cfg.Height), cfg.Height)

	for attempt := 1; attempt <= maxTilingAttempts; attempt++ {
		tiles, oversized, err := t.cut(img, format, cfg.Width, cfg.Height, height)
		if err != nil {
			return nil, errors.NewTilingError("failed to encode band", err)
		}
		if oversized == nil {
			t.logger.Debug("Tiled image",
				"width", cfg.Width,
				"height", cfg.Height,
				"bytes", len(buf),
				"bandHeight", height,
				"tiles", len(tiles),
				"attempt", attempt)
			return tiles, nil
		}

		if height == 1 {
			return nil, errors.NewTilingError(
				fmt.Sprintf("a single row encodes to %d bytes, limit is %d", len(oversized.Data), t.config.FileSizeThreshold), nil)
		}

		next := t.bandHeight(float64(len(oversized.Data))/float64(oversized.Height), cfg.Height)
		if next >= height {
			next = height * minShrinkNumerator / 4
		}
		t.logger.Debug("Band above size limit, shrinking",
			"bandHeight", height,
			"bandBytes", len(oversized.Data),
			"nextHeight", max(next, 1))
		height = max(next, 1)
	}

	return nil, errors.NewTilingError(
		fmt.Sprintf("could not fit bands under %d bytes after %d attempts", t.config.FileSizeThreshold, maxTilingAttempts), nil)
}

// bandHeight converts a per-row byte cost into a nominal band height.
func (t *Tiler) bandHeight(bytesPerRow float64, sourceHeight int) int {
	if bytesPerRow <= 0 {
		return sourceHeight
	}
	h := int(math.Floor(float64(t.config.FileSizeThreshold) * bandSafetyFactor / bytesPerRow))
	return min(max(h, 1), sourceHeight)
}

// bandLayout returns [startY, endY) pairs for a nominal band height.
func bandLayout(sourceHeight, height int, overlap float64) [][2]int {
	step := max(1, int(math.Floor(float64(height)*(1-overlap))))

	var bands [][2]int
	for y := 0; ; y += step {
		if y+height >= sourceHeight {
			bands = append(bands, [2]int{y, sourceHeight})
			return bands
		}
		bands = append(bands, [2]int{y, y + height})
	}
}

// cut encodes every band. It stops at the first band that does not fit and
// returns it as oversized.
func (t *Tiler) cut(img image.Image, format string, width, sourceHeight, height int) ([]TileInfo, *TileInfo, error) {
	layout := bandLayout(sourceHeight, height, t.config.OverlapPercentage)
	tiles := make([]TileInfo, 0, len(layout))

	for _, band := range layout {
		data, err := encodeBand(img, format, band[0], band[1])
		if err != nil {
			return nil, nil, err
		}
		tile := TileInfo{Data: data, StartY: band[0], Width: width, Height: band[1] - band[0]}
		if int64(len(data)) >= t.config.FileSizeThreshold {
			return nil, &tile, nil
		}
		tiles = append(tiles, tile)
	}
	return tiles, nil, nil
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func encodeBand(img image.Image, format string, startY, endY int) ([]byte, error) {
	b := img.Bounds()
	rect := image.Rect(b.Min.X, b.Min.Y+startY, b.Max.X, b.Min.Y+endY)

	var band image.Image
	if si, ok := img.(subImager); ok {
		band = si.SubImage(rect)
	} else {
		rgba := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, rect.Min, draw.Src)
		band = rgba
	}

	var out bytes.Buffer
	var err error
	if format == "jpeg" {
		err = jpeg.Encode(&out, band, &jpeg.Options{Quality: bandJPEGQuality})
	} else {
		err = png.Encode(&out, band)
	}
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
