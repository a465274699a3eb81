package processor

import (
	"bytes"
	"fmt"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/vocab-worker/internal/errors"
)

func TestNewTilerRejectsInvalidConfig(t *testing.T) {
	cases := []TilingConfig{
		{FileSizeThreshold: 0, OverlapPercentage: 0.1},
		{FileSizeThreshold: -5, OverlapPercentage: 0.1},
		{FileSizeThreshold: 1000, OverlapPercentage: 1.0},
		{FileSizeThreshold: 1000, OverlapPercentage: 1.5},
		{FileSizeThreshold: 1000, OverlapPercentage: -0.1},
	}

	for _, cfg := range cases {
		_, err := NewTiler(cfg, nil)
		require.Error(t, err, "%+v", cfg)
		assert.True(t, errors.HasCode(err, errors.ErrorConfigInvalid))
		assert.False(t, errors.IsRetryable(err))
	}
}

func TestTileBelowThresholdReturnsWholeImage(t *testing.T) {
	buf := noisePNG(t, 40, 120, 1)
	tiler, err := NewTiler(TilingConfig{FileSizeThreshold: int64(len(buf)) + 1, OverlapPercentage: 0.1}, nil)
	require.NoError(t, err)

	tiles, err := tiler.Tile(buf)
	require.NoError(t, err)
	require.Len(t, tiles, 1)

	assert.Equal(t, 0, tiles[0].StartY)
	assert.Equal(t, 120, tiles[0].Height)
	assert.Equal(t, 40, tiles[0].Width)
	assert.Equal(t, buf, tiles[0].Data)
}

func TestTileCoversSourceHeight(t *testing.T) {
	const width, height = 48, 300
	buf := noisePNG(t, width, height, 7)

	for _, threshold := range []int64{int64(len(buf)) / 7, int64(len(buf)) / 3, int64(len(buf))} {
		for _, overlap := range []float64{0, 0.1, 0.25, 0.5, 0.9} {
			t.Run(fmt.Sprintf("threshold=%d/overlap=%.2f", threshold, overlap), func(t *testing.T) {
				tiler, err := NewTiler(TilingConfig{FileSizeThreshold: threshold, OverlapPercentage: overlap}, nil)
				require.NoError(t, err)

				tiles, err := tiler.Tile(buf)
				require.NoError(t, err)
				require.GreaterOrEqual(t, len(tiles), 2)

				assert.Equal(t, 0, tiles[0].StartY)
				last := tiles[len(tiles)-1]
				assert.Equal(t, height, last.StartY+last.Height)

				covered := 0
				for i, tile := range tiles {
					assert.Less(t, int64(len(tile.Data)), threshold, "tile %d too large", i)
					assert.LessOrEqual(t, tile.StartY, covered, "gap before tile %d", i)
					assert.Greater(t, tile.Height, 0)
					assert.LessOrEqual(t, tile.StartY+tile.Height, height)
					covered = max(covered, tile.StartY+tile.Height)

					cfg, format, err := image.DecodeConfig(bytes.NewReader(tile.Data))
					require.NoError(t, err)
					assert.Equal(t, "png", format)
					assert.Equal(t, width, cfg.Width)
					assert.Equal(t, tile.Height, cfg.Height)
				}
				assert.Equal(t, height, covered)
			})
		}
	}
}

func TestTileAdjacentBandsOverlap(t *testing.T) {
	buf := noisePNG(t, 32, 400, 3)
	tiler, err := NewTiler(TilingConfig{FileSizeThreshold: int64(len(buf)) / 4, OverlapPercentage: 0.2}, nil)
	require.NoError(t, err)

	tiles, err := tiler.Tile(buf)
	require.NoError(t, err)
	require.Greater(t, len(tiles), 2)

	nominal := tiles[0].Height
	for i := 1; i < len(tiles)-1; i++ {
		assert.Equal(t, nominal, tiles[i].Height)
		shared := tiles[i-1].StartY + tiles[i-1].Height - tiles[i].StartY
		assert.InDelta(t, float64(nominal)*0.2, float64(shared), 1.0)
	}
}

func TestTileKeepsJPEGSourcesAsJPEG(t *testing.T) {
	buf := noiseJPEG(t, 64, 200, 11)
	tiler, err := NewTiler(TilingConfig{FileSizeThreshold: int64(len(buf)) / 2, OverlapPercentage: 0.1}, nil)
	require.NoError(t, err)

	tiles, err := tiler.Tile(buf)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(tiles), 2)

	for _, tile := range tiles {
		_, format, err := image.DecodeConfig(bytes.NewReader(tile.Data))
		require.NoError(t, err)
		assert.Equal(t, "jpeg", format)
	}
}

func TestTileRejectsUndecodableBuffer(t *testing.T) {
	tiler, err := NewTiler(TilingConfig{FileSizeThreshold: 10, OverlapPercentage: 0.1}, nil)
	require.NoError(t, err)

	_, err = tiler.Tile([]byte("definitely not an image"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrorTilingFailed))
}

func TestTileFailsWhenOneRowExceedsThreshold(t *testing.T) {
	buf := noisePNG(t, 64, 50, 5)
	tiler, err := NewTiler(TilingConfig{FileSizeThreshold: 40, OverlapPercentage: 0.1}, nil)
	require.NoError(t, err)

	_, err = tiler.Tile(buf)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrorTilingFailed))
}

func TestBandLayoutEndsAtSourceHeight(t *testing.T) {
	for _, h := range []int{1, 2, 7, 99, 100, 101} {
		bands := bandLayout(1000, h, 0.1)
		assert.Equal(t, 0, bands[0][0])
		assert.Equal(t, 1000, bands[len(bands)-1][1])
		for i := 1; i < len(bands); i++ {
			assert.LessOrEqual(t, bands[i][0], bands[i-1][1])
			assert.Greater(t, bands[i][0], bands[i-1][0])
		}
	}
}
