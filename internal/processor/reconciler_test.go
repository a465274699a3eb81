package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTile(tile BoundingBox, text string, local BoundingBox) OcrResultWithContext {
	return OcrResultWithContext{OcrResult: OcrResult{Text: text, BBox: local}, TileContext: tile}
}

var (
	tileA = BoundingBox{X: 0, Y: 0, Width: 800, Height: 1000}
	tileB = BoundingBox{X: 0, Y: 900, Width: 800, Height: 1000}
)

func TestReconcileLiftsIntoPageCoordinates(t *testing.T) {
	lines := Reconcile([]OcrResultWithContext{
		withTile(tileA, "첫째", BoundingBox{X: 40, Y: 100, Width: 120, Height: 30}),
		withTile(tileB, "둘째", BoundingBox{X: 40, Y: 10, Width: 120, Height: 30}),
	}, 800, 1900)

	require.Len(t, lines, 2)
	assert.Equal(t, "둘째", lines[1].Line)
	assert.Equal(t, 910, lines[1].BBox.Y)
	assert.Equal(t, 40, lines[1].BBox.X)
}

func TestReconcileDropsOverlapDuplicate(t *testing.T) {
	// Both tiles see the same word inside the 100px band they share.
	lines := Reconcile([]OcrResultWithContext{
		withTile(tileA, "안녕", BoundingBox{X: 200, Y: 940, Width: 80, Height: 30}),
		withTile(tileB, "안녕", BoundingBox{X: 201, Y: 41, Width: 80, Height: 29}),
	}, 800, 1900)

	require.Len(t, lines, 1)
	assert.Equal(t, "안녕", lines[0].Line)
}

func TestReconcileDedupKeepsDetectionFurtherFromTileEdge(t *testing.T) {
	// Low in the shared band: tile A's copy sits 480px from its midpoint, tile B's 420px.
	lines := Reconcile([]OcrResultWithContext{
		withTile(tileA, "Hello  World", BoundingBox{X: 100, Y: 960, Width: 200, Height: 40}),
		withTile(tileB, "hello world", BoundingBox{X: 100, Y: 58, Width: 200, Height: 44}),
	}, 800, 1900)

	require.Len(t, lines, 1)
	assert.Equal(t, "hello world", lines[0].Line)
	assert.Equal(t, BoundingBox{X: 100, Y: 958, Width: 200, Height: 44}, lines[0].BBox)

	// High in the shared band: tile A's copy is the more central one.
	lines = Reconcile([]OcrResultWithContext{
		withTile(tileA, "Hello World", BoundingBox{X: 100, Y: 905, Width: 200, Height: 30}),
		withTile(tileB, "hello world", BoundingBox{X: 100, Y: 5, Width: 200, Height: 30}),
	}, 800, 1900)

	require.Len(t, lines, 1)
	assert.Equal(t, "Hello World", lines[0].Line)
}

func TestReconcileDedupTieKeepsEarlierTile(t *testing.T) {
	lines := Reconcile([]OcrResultWithContext{
		withTile(tileA, "반가워요", BoundingBox{X: 100, Y: 935, Width: 90, Height: 30}),
		withTile(tileB, "반가워요", BoundingBox{X: 102, Y: 34, Width: 86, Height: 32}),
	}, 800, 1900)

	require.Len(t, lines, 1)
	assert.Equal(t, BoundingBox{X: 100, Y: 935, Width: 90, Height: 30}, lines[0].BBox)
}

func TestReconcileKeepsDistinctTextInSameSpot(t *testing.T) {
	lines := Reconcile([]OcrResultWithContext{
		withTile(tileA, "사과", BoundingBox{X: 10, Y: 950, Width: 60, Height: 30}),
		withTile(tileB, "바나나우유", BoundingBox{X: 300, Y: 50, Width: 60, Height: 30}),
	}, 800, 1900)

	assert.Len(t, lines, 2)
}

func TestReconcileDoesNotDedupWithinOneTile(t *testing.T) {
	lines := Reconcile([]OcrResultWithContext{
		withTile(tileA, "네", BoundingBox{X: 10, Y: 10, Width: 30, Height: 30}),
		withTile(tileA, "네", BoundingBox{X: 10, Y: 10, Width: 30, Height: 30}),
	}, 800, 1000)

	assert.Len(t, lines, 2)
}

func TestReconcileMergesFragmentsSplitAcrossSeam(t *testing.T) {
	// Tile A only caught the first word before its bottom edge.
	lines := Reconcile([]OcrResultWithContext{
		withTile(tileA, "오늘은", BoundingBox{X: 50, Y: 960, Width: 90, Height: 30}),
		withTile(tileB, "날씨가", BoundingBox{X: 160, Y: 61, Width: 90, Height: 28}),
		withTile(tileB, "좋다", BoundingBox{X: 270, Y: 60, Width: 60, Height: 30}),
	}, 800, 1900)

	require.Len(t, lines, 1)
	assert.Equal(t, "오늘은 날씨가 좋다", lines[0].Line)
	assert.Equal(t, BoundingBox{X: 50, Y: 960, Width: 280, Height: 30}, lines[0].BBox)
}

func TestReconcileGroupsLeftToRight(t *testing.T) {
	lines := Reconcile([]OcrResultWithContext{
		withTile(tileB, "세계", BoundingBox{X: 300, Y: 500, Width: 80, Height: 40}),
		withTile(tileA, "아래", BoundingBox{X: 10, Y: 10, Width: 80, Height: 40}),
		withTile(tileB, "안녕", BoundingBox{X: 200, Y: 502, Width: 80, Height: 40}),
	}, 800, 1900)

	require.Len(t, lines, 2)
	assert.Equal(t, "아래", lines[0].Line)
	assert.Equal(t, "안녕 세계", lines[1].Line)
	assert.Equal(t, BoundingBox{X: 200, Y: 1400, Width: 180, Height: 42}, lines[1].BBox)
}

func TestReconcileSingleTileIsIdentity(t *testing.T) {
	whole := BoundingBox{X: 0, Y: 0, Width: 500, Height: 700}
	input := []OcrResultWithContext{
		withTile(whole, "둘", BoundingBox{X: 300, Y: 100, Width: 40, Height: 20}),
		withTile(whole, "하나", BoundingBox{X: 10, Y: 100, Width: 40, Height: 20}),
		withTile(whole, "셋", BoundingBox{X: 10, Y: 300, Width: 40, Height: 20}),
	}

	lines := Reconcile(input, 500, 700)

	require.Len(t, lines, 3)
	for i, r := range input {
		assert.Equal(t, r.Text, lines[i].Line)
		assert.Equal(t, r.BBox, lines[i].BBox)
	}
}

func TestReconcileDropsDegenerateAndEmpty(t *testing.T) {
	whole := BoundingBox{X: 0, Y: 0, Width: 500, Height: 700}
	lines := Reconcile([]OcrResultWithContext{
		withTile(whole, "zero width", BoundingBox{X: 10, Y: 10, Width: 0, Height: 20}),
		withTile(whole, "zero height", BoundingBox{X: 10, Y: 10, Width: 20, Height: 0}),
		withTile(whole, "   ", BoundingBox{X: 10, Y: 10, Width: 20, Height: 20}),
		withTile(whole, "off page", BoundingBox{X: 600, Y: 10, Width: 20, Height: 20}),
		withTile(whole, "kept", BoundingBox{X: 490, Y: 690, Width: 20, Height: 20}),
	}, 500, 700)

	require.Len(t, lines, 1)
	assert.Equal(t, "kept", lines[0].Line)
	assert.Equal(t, BoundingBox{X: 490, Y: 690, Width: 10, Height: 10}, lines[0].BBox)
}

func TestReconcileEmptyInput(t *testing.T) {
	assert.Empty(t, Reconcile(nil, 100, 100))
}

func TestIoU(t *testing.T) {
	a := BoundingBox{X: 0, Y: 0, Width: 10, Height: 10}
	assert.InDelta(t, 1.0, iou(a, a), 1e-9)
	assert.InDelta(t, 0.0, iou(a, BoundingBox{X: 10, Y: 0, Width: 10, Height: 10}), 1e-9)
	assert.InDelta(t, 25.0/175.0, iou(a, BoundingBox{X: 5, Y: 5, Width: 10, Height: 10}), 1e-9)
}

func TestContainment(t *testing.T) {
	whole := BoundingBox{X: 200, Y: 988, Width: 80, Height: 30}
	top := BoundingBox{X: 200, Y: 988, Width: 80, Height: 12}
	assert.InDelta(t, 1.0, containment(whole, top), 1e-9)
	assert.InDelta(t, 0.4, iou(whole, top), 1e-9)
	assert.InDelta(t, 0.0, containment(whole, BoundingBox{X: 300, Y: 988, Width: 10, Height: 10}), 1e-9)
}

func TestNormalizeLineText(t *testing.T) {
	assert.Equal(t, normalizeLineText("Hello   World "), normalizeLineText("hello world"))
	assert.NotEqual(t, normalizeLineText("가나다라마"), normalizeLineText("가나다라바"))
}

func TestReconcileDropsLineTruncatedAtSeam(t *testing.T) {
	// Tile A only caught the top 12px of the line at its bottom edge.
	lines := Reconcile([]OcrResultWithContext{
		withTile(tileA, "안녕", BoundingBox{X: 200, Y: 988, Width: 80, Height: 12}),
		withTile(tileB, "안녕", BoundingBox{X: 200, Y: 88, Width: 80, Height: 30}),
	}, 800, 1900)

	require.Len(t, lines, 1)
	assert.Equal(t, "안녕", lines[0].Line)
	assert.Equal(t, BoundingBox{X: 200, Y: 988, Width: 80, Height: 30}, lines[0].BBox)
}

func TestReconcileKeepsDifferentTextAtSameBox(t *testing.T) {
	lines := Reconcile([]OcrResultWithContext{
		withTile(tileA, "가나다라마", BoundingBox{X: 100, Y: 940, Width: 150, Height: 30}),
		withTile(tileB, "가나다라바", BoundingBox{X: 100, Y: 40, Width: 150, Height: 30}),
	}, 800, 1900)

	require.Len(t, lines, 1)
	assert.Contains(t, lines[0].Line, "가나다라마")
	assert.Contains(t, lines[0].Line, "가나다라바")
}
