/**
 * Upscaler - Best-effort resolution enhancement before recognition
 *
 * Resamples with a Catmull-Rom kernel and re-encodes losslessly as PNG.
 * Failures never reach the caller; the original buffer is returned instead.
 */

package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/adverant/nexus/vocab-worker/internal/errors"
	"github.com/adverant/nexus/vocab-worker/internal/logging"
)

// DefaultMaxUpscalePixels caps the resampled output (about 64 megapixels).
const DefaultMaxUpscalePixels = 64 * 1024 * 1024

// UpscaleConfig controls the upscaler
type UpscaleConfig struct {
	Enabled   bool
	Scale     float64
	MaxPixels int
}

// Validate rejects a scale that would not enlarge the image.
func (c UpscaleConfig) Validate() error {
	if c.Enabled && !(c.Scale > 1.0) {
		return errors.NewConfigError("UpscaleConfig.Scale", fmt.Errorf("must be greater than 1.0, got %v", c.Scale))
	}
	return nil
}

// Upscaler enlarges page images before tiling
type Upscaler struct {
	config UpscaleConfig
	logger *logging.Logger
}

// NewUpscaler validates the configuration and returns an Upscaler
func NewUpscaler(cfg UpscaleConfig, logger *logging.Logger) (*Upscaler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = DefaultMaxUpscalePixels
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Upscaler{config: cfg, logger: logger}, nil
}

// Upscale returns the enlarged image, or buf itself when disabled or when
// anything goes wrong. The boolean reports whether buf was replaced.
func (u *Upscaler) Upscale(ctx context.Context, buf []byte) ([]byte, bool) {
	if !u.config.Enabled {
		return buf, false
	}

	out, err := u.upscale(ctx, buf)
	if err != nil {
		u.logger.Warn("Upscale skipped, using original image",
			"code", string(errors.ErrorUpscaleFailed),
			"bytes", len(buf),
			"error", err)
		return buf, false
	}
	return out, true
}

func (u *Upscaler) upscale(ctx context.Context, buf []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("failed to read image metadata: %w", err)
	}

	targetW := int(math.Round(float64(cfg.Width) * u.config.Scale))
	targetH := int(math.Round(float64(cfg.Height) * u.config.Scale))
	if targetW < 1 || targetH < 1 {
		return nil, fmt.Errorf("degenerate target size %dx%d", targetW, targetH)
	}
	if targetW*targetH > u.config.MaxPixels {
		return nil, fmt.Errorf("target size %dx%d exceeds %d pixels", targetW, targetH, u.config.MaxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if err := png.Encode(&out, dst); err != nil {
		return nil, fmt.Errorf("failed to encode upscaled image: %w", err)
	}
	return out.Bytes(), nil
}
