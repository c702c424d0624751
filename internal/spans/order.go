package spans

import (
	"math"
	"sort"
)

// rowOverlap is the fraction of the shorter span's height two spans must share
// vertically to sit on the same row
const rowOverlap = 0.5

// SortReadingOrder sorts spans top-to-bottom, left-to-right. Spans whose
// vertical extents overlap by at least half of the shorter height are treated
// as one row, so a slightly raised glyph run does not jump ahead of its line.
func SortReadingOrder(spans []TextSpan) {
	if len(spans) < 2 {
		return
	}
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Rect.Y0 != spans[j].Rect.Y0 {
			return spans[i].Rect.Y0 < spans[j].Rect.Y0
		}
		return spans[i].Rect.X0 < spans[j].Rect.X0
	})

	start := 0
	rowTop, rowBottom := spans[0].Rect.Y0, spans[0].Rect.Y1
	for i := 1; i <= len(spans); i++ {
		if i < len(spans) && sameRow(rowTop, rowBottom, spans[i]) {
			rowBottom = math.Max(rowBottom, spans[i].Rect.Y1)
			continue
		}
		row := spans[start:i]
		sort.SliceStable(row, func(a, b int) bool {
			return row[a].Rect.X0 < row[b].Rect.X0
		})
		if i < len(spans) {
			start = i
			rowTop, rowBottom = spans[i].Rect.Y0, spans[i].Rect.Y1
		}
	}
}

func sameRow(top, bottom float64, s TextSpan) bool {
	overlap := math.Min(bottom, s.Rect.Y1) - math.Max(top, s.Rect.Y0)
	if overlap <= 0 {
		return false
	}
	shorter := math.Min(bottom-top, s.Rect.Dy())
	return overlap >= rowOverlap*shorter
}
