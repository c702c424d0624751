// Package spans indexes the text spans of a page for hit-testing, snapping and
// text extraction.
package spans

import (
	"sort"
	"strings"

	"github.com/a3tai/mcp-pdf-annotator/internal/geometry"
)

// DefaultMinOverlap is the default fraction of the smaller of span and sweep
// that must be covered for a span to count as selected
const DefaultMinOverlap = 0.5

// TextSpan is a run of text with its document-space bounding rectangle
type TextSpan struct {
	Rect geometry.Rect `json:"rect"`
	Text string        `json:"text"`
}

// Index is an immutable spatial index over the spans of one page. Spans are
// kept in reading order; a second ordering by top edge together with a running
// maximum of bottom edges answers rectangle queries without a full scan.
type Index struct {
	spans []TextSpan // reading order

	byTop     []int     // indexes into spans ordered by Rect.Y0
	maxBottom []float64 // maxBottom[k] = max Y1 over byTop[:k+1]
}

// NewIndex builds an index. Spans with an empty rectangle are dropped.
func NewIndex(in []TextSpan) *Index {
	spans := make([]TextSpan, 0, len(in))
	for _, s := range in {
		s.Rect = s.Rect.Normalize()
		if s.Rect.IsEmpty() {
			continue
		}
		spans = append(spans, s)
	}
	SortReadingOrder(spans)

	idx := &Index{
		spans:     spans,
		byTop:     make([]int, len(spans)),
		maxBottom: make([]float64, len(spans)),
	}
	for i := range spans {
		idx.byTop[i] = i
	}
	sort.SliceStable(idx.byTop, func(a, b int) bool {
		return spans[idx.byTop[a]].Rect.Y0 < spans[idx.byTop[b]].Rect.Y0
	})
	running := 0.0
	for k, i := range idx.byTop {
		if k == 0 || spans[i].Rect.Y1 > running {
			running = spans[i].Rect.Y1
		}
		idx.maxBottom[k] = running
	}
	return idx
}

// Len returns the number of indexed spans
func (idx *Index) Len() int {
	return len(idx.spans)
}

// Spans returns all spans in reading order
func (idx *Index) Spans() []TextSpan {
	return append([]TextSpan(nil), idx.spans...)
}

// candidates returns the positions in reading order of every span that
// intersects the vertical band [y0, y1]
func (idx *Index) candidates(y0, y1 float64) []int {
	// spans starting at or below y1 cannot intersect
	end := sort.Search(len(idx.byTop), func(k int) bool {
		return idx.spans[idx.byTop[k]].Rect.Y0 >= y1
	})
	// spans whose prefix has no bottom edge past y0 cannot intersect
	start := sort.Search(end, func(k int) bool {
		return idx.maxBottom[k] > y0
	})

	out := make([]int, 0, end-start)
	for k := start; k < end; k++ {
		i := idx.byTop[k]
		if idx.spans[i].Rect.Y1 > y0 {
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}

// SpansNear returns the spans intersecting r in reading order
func (idx *Index) SpansNear(r geometry.Rect) []TextSpan {
	r = r.Normalize()
	var out []TextSpan
	for _, i := range idx.candidates(r.Y0, r.Y1) {
		if idx.spans[i].Rect.Intersects(r) {
			out = append(out, idx.spans[i])
		}
	}
	return out
}

// SpansWithin returns the union of the spans that overlap the sweep rectangle
// by at least minOverlap, where overlap is the intersection area divided by the
// smaller of the span and sweep areas. ok is false when no span qualifies and
// the caller should keep the raw rectangle.
func (idx *Index) SpansWithin(sweep geometry.Rect, minOverlap float64) (geometry.Rect, bool) {
	sweep = sweep.Normalize()
	if minOverlap <= 0 || minOverlap > 1 {
		minOverlap = DefaultMinOverlap
	}

	var merged geometry.Rect
	found := false
	for _, s := range idx.SpansNear(sweep) {
		if OverlapRatio(s.Rect, sweep) >= minOverlap {
			merged = merged.Union(s.Rect)
			found = true
		}
	}
	return merged, found
}

// Text returns the contents of the spans intersecting r joined in reading
// order with single spaces
func (idx *Index) Text(r geometry.Rect) string {
	near := idx.SpansNear(r)
	parts := make([]string, 0, len(near))
	for _, s := range near {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// OverlapRatio returns area(a ∩ b) / min(area(a), area(b)), 0 when either is empty
func OverlapRatio(a, b geometry.Rect) float64 {
	smaller := a.Area()
	if bArea := b.Area(); bArea < smaller {
		smaller = bArea
	}
	if smaller <= 0 {
		return 0
	}
	return a.Intersect(b).Area() / smaller
}
