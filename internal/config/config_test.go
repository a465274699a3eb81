package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://vocab@localhost/vocab?sslmode=disable")
	t.Setenv("OPENROUTER_API_KEY", "or-key")
	t.Setenv("OCR_API_KEY", "ocr-key")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, int64(1000000), cfg.TileFileSizeThreshold)
	assert.InDelta(t, 0.10, cfg.TileOverlapPercentage, 1e-9)
	assert.True(t, cfg.UpscaleEnabled)
	assert.InDelta(t, 2.0, cfg.UpscaleScale, 1e-9)
	assert.Equal(t, "kor", cfg.OCRLanguage)
	assert.Equal(t, 2, cfg.OCREngine)
	assert.True(t, cfg.OCRScale)
	assert.Equal(t, "ocrspace", cfg.OCRBackend)
	assert.Equal(t, 30*time.Second, cfg.RecognitionTimeout())
	assert.Equal(t, 5*time.Minute, cfg.ProcessingTimeoutDuration())
	assert.Equal(t, 168*time.Hour, cfg.OCRCacheTTL())
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("TILE_OVERLAP_PERCENTAGE", "0.2")
	t.Setenv("UPSCALE_ENABLED", "false")
	t.Setenv("UPSCALE_SCALE", "1.0")
	t.Setenv("OCR_SCALE", "no-a-bool")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.InDelta(t, 0.2, cfg.TileOverlapPercentage, 1e-9)
	assert.False(t, cfg.UpscaleEnabled)
	assert.True(t, cfg.OCRScale, "unparseable values fall back to the default")
}

func TestValidateRejectsBadPipelineSettings(t *testing.T) {
	cases := map[string]func(c *Config){
		"overlap of one":        func(c *Config) { c.TileOverlapPercentage = 1.0 },
		"negative overlap":      func(c *Config) { c.TileOverlapPercentage = -0.1 },
		"zero threshold":        func(c *Config) { c.TileFileSizeThreshold = 0 },
		"scale not above one":   func(c *Config) { c.UpscaleScale = 1.0 },
		"no recognition slots":  func(c *Config) { c.RecognitionConcurrency = 0 },
		"unknown backend":       func(c *Config) { c.OCRBackend = "cloudvision" },
		"qdrant without voyage": func(c *Config) { c.QdrantURL = "localhost:6334"; c.VoyageAPIKey = "" },
		"missing llm key":       func(c *Config) { c.OpenRouterAPIKey = "" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			setRequired(t)
			cfg, err := LoadConfig()
			require.NoError(t, err)

			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestTesseractBackendNeedsNoOCRKey(t *testing.T) {
	setRequired(t)
	t.Setenv("OCR_API_KEY", "")
	t.Setenv("OCR_BACKEND", "tesseract")

	_, err := LoadConfig()
	assert.NoError(t, err)
}

func TestLoadPipelineConfigSkipsStores(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("OPENROUTER_API_KEY", "or-key")
	t.Setenv("OCR_BACKEND", "tesseract")

	_, err := LoadConfig()
	assert.Error(t, err)

	cfg, err := LoadPipelineConfig()
	require.NoError(t, err)
	assert.Equal(t, "tesseract", cfg.OCRBackend)
}
