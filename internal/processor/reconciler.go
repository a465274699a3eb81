/**
 * Reconciler - Merges per-tile detections into one full-page text layout
 *
 * Steps: lift tile-local boxes into page coordinates, drop duplicates seen
 * twice inside an overlap band, group fragments split across a seam into
 * lines, and assemble each line left to right.
 */

package processor

import (
	"sort"
	"strings"
)

const (
	// DedupIoUThreshold is the minimum intersection-over-union for two
	// detections from different tiles to be considered the same text. The
	// same cutoff applies to intersection over the smaller box, which catches
	// a line truncated at a tile edge and seen whole by the next tile.
	DedupIoUThreshold = 0.5

	lineToleranceRatio = 0.3
	minLineTolerancePx = 2.0
	maxWordGapRatio    = 1.5
)

type liftedResult struct {
	text    string
	box     BoundingBox
	tile    int
	tileCtx BoundingBox
	seq     int
}

// Reconcile converts tile-local detections, given in tile order, into
// deduplicated lines in full-image coordinates. A single-tile input passes
// through unchanged apart from lifting, clipping and dropping empty boxes.
func Reconcile(results []OcrResultWithContext, sourceWidth, sourceHeight int) []OcrLineResult {
	lifted, tileCount := liftResults(results, sourceWidth, sourceHeight)
	if len(lifted) == 0 {
		return []OcrLineResult{}
	}

	if tileCount <= 1 {
		lines := make([]OcrLineResult, 0, len(lifted))
		for _, r := range lifted {
			lines = append(lines, OcrLineResult{Line: r.text, BBox: r.box})
		}
		return lines
	}

	return assembleLines(groupLines(dedupOverlap(lifted)))
}

// liftResults translates boxes into page coordinates and drops degenerate
// detections. It also numbers tiles by first appearance.
func liftResults(results []OcrResultWithContext, sourceWidth, sourceHeight int) ([]liftedResult, int) {
	tileIndex := make(map[BoundingBox]int)
	lifted := make([]liftedResult, 0, len(results))

	for seq, r := range results {
		idx, ok := tileIndex[r.TileContext]
		if !ok {
			idx = len(tileIndex)
			tileIndex[r.TileContext] = idx
		}

		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}

		box := BoundingBox{
			X:      r.BBox.X + r.TileContext.X,
			Y:      r.BBox.Y + r.TileContext.Y,
			Width:  r.BBox.Width,
			Height: r.BBox.Height,
		}
		box = clipBox(box, sourceWidth, sourceHeight)
		if box.Degenerate() {
			continue
		}

		lifted = append(lifted, liftedResult{text: text, box: box, tile: idx, tileCtx: r.TileContext, seq: seq})
	}
	return lifted, len(tileIndex)
}

func clipBox(b BoundingBox, width, height int) BoundingBox {
	x0, y0 := max(b.X, 0), max(b.Y, 0)
	x1, y1 := b.Right(), b.Bottom()
	if width > 0 {
		x1 = min(x1, width)
	}
	if height > 0 {
		y1 = min(y1, height)
	}
	return BoundingBox{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

func iou(a, b BoundingBox) float64 {
	iw := min(a.Right(), b.Right()) - max(a.X, b.X)
	ih := min(a.Bottom(), b.Bottom()) - max(a.Y, b.Y)
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := float64(iw * ih)
	union := float64(a.Width*a.Height+b.Width*b.Height) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// containment is the intersection area over the smaller box's area.
func containment(a, b BoundingBox) float64 {
	iw := min(a.Right(), b.Right()) - max(a.X, b.X)
	ih := min(a.Bottom(), b.Bottom()) - max(a.Y, b.Y)
	smaller := min(a.Width*a.Height, b.Width*b.Height)
	if iw <= 0 || ih <= 0 || smaller <= 0 {
		return 0
	}
	return float64(iw*ih) / float64(smaller)
}

// edgeDistance is how far a detection sits from its own tile's vertical midpoint.
func edgeDistance(r liftedResult) float64 {
	mid := float64(r.tileCtx.Y) + float64(r.tileCtx.Height)/2
	d := r.box.CenterY() - mid
	if d < 0 {
		return -d
	}
	return d
}

func isDuplicate(a, b liftedResult) bool {
	if a.tile == b.tile || normalizeLineText(a.text) != normalizeLineText(b.text) {
		return false
	}
	return iou(a.box, b.box) >= DedupIoUThreshold || containment(a.box, b.box) >= DedupIoUThreshold
}

// dedupOverlap removes detections reported by two adjacent tiles, keeping
// the one further from its tile's edge. Ties keep the earlier tile.
func dedupOverlap(results []liftedResult) []liftedResult {
	dropped := make([]bool, len(results))

	for i := range results {
		if dropped[i] {
			continue
		}
		for j := i + 1; j < len(results); j++ {
			if dropped[j] || !isDuplicate(results[i], results[j]) {
				continue
			}

			di, dj := edgeDistance(results[i]), edgeDistance(results[j])
			loser := j
			switch {
			case dj < di:
				loser = i
			case dj == di && results[j].tile < results[i].tile:
				loser = i
			}
			dropped[loser] = true
			if loser == i {
				break
			}
		}
	}

	kept := make([]liftedResult, 0, len(results))
	for i, r := range results {
		if !dropped[i] {
			kept = append(kept, r)
		}
	}
	return kept
}

type lineGroup struct {
	box     BoundingBox
	members []liftedResult
}

// sameLine reports whether box b continues the line spanned by a.
func sameLine(a, b BoundingBox) bool {
	tol := max(minLineTolerancePx, lineToleranceRatio*float64(b.Height))
	cy := b.CenterY()
	if cy < float64(a.Y)-tol || cy > float64(a.Bottom())+tol {
		return false
	}

	gap := max(b.X-a.Right(), a.X-b.Right(), 0)
	return float64(gap) <= maxWordGapRatio*float64(min(a.Height, b.Height))
}

// groupLines greedily joins detections, top to bottom, into line groups.
func groupLines(results []liftedResult) []*lineGroup {
	sorted := append([]liftedResult(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].box.Y != sorted[j].box.Y {
			return sorted[i].box.Y < sorted[j].box.Y
		}
		if sorted[i].box.X != sorted[j].box.X {
			return sorted[i].box.X < sorted[j].box.X
		}
		return sorted[i].seq < sorted[j].seq
	})

	var groups []*lineGroup
	for _, r := range sorted {
		var target *lineGroup
		for k := len(groups) - 1; k >= 0; k-- {
			if sameLine(groups[k].box, r.box) {
				target = groups[k]
				break
			}
		}
		if target == nil {
			groups = append(groups, &lineGroup{box: r.box, members: []liftedResult{r}})
			continue
		}
		target.box = target.box.Union(r.box)
		target.members = append(target.members, r)
	}
	return mergeGroups(groups)
}

// mergeGroups joins groups that the greedy pass left side by side on one line.
func mergeGroups(groups []*lineGroup) []*lineGroup {
	for merged := true; merged; {
		merged = false
		for i := 0; i < len(groups) && !merged; i++ {
			for j := i + 1; j < len(groups); j++ {
				if !sameLine(groups[i].box, groups[j].box) && !sameLine(groups[j].box, groups[i].box) {
					continue
				}
				groups[i].box = groups[i].box.Union(groups[j].box)
				groups[i].members = append(groups[i].members, groups[j].members...)
				groups = append(groups[:j], groups[j+1:]...)
				merged = true
				break
			}
		}
	}
	return groups
}

func assembleLines(groups []*lineGroup) []OcrLineResult {
	lines := make([]OcrLineResult, 0, len(groups))
	for _, g := range groups {
		members := g.members
		sort.SliceStable(members, func(i, j int) bool { return members[i].box.X < members[j].box.X })

		parts := make([]string, 0, len(members))
		for _, m := range members {
			parts = append(parts, m.text)
		}
		lines = append(lines, OcrLineResult{Line: strings.Join(parts, " "), BBox: g.box})
	}

	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].BBox.Y != lines[j].BBox.Y {
			return lines[i].BBox.Y < lines[j].BBox.Y
		}
		return lines[i].BBox.X < lines[j].BBox.X
	})
	return lines
}

// JoinLines concatenates line text in reading order.
func JoinLines(lines []OcrLineResult) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		parts = append(parts, l.Line)
	}
	return strings.Join(parts, "\n")
}
