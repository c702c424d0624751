package viewport

import (
	"sort"

	"github.com/a3tai/mcp-pdf-annotator/internal/geometry"
)

// Size is a width/height pair. Page sizes are in document units (points),
// layout sizes are in canvas pixels.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Layout is the vertical stacking of pages on the virtual canvas at one zoom
// level. Pages are left aligned at canvas x = 0.
//
// Offsets[0] is 0 and Offsets[i+1] = Offsets[i] + Sizes[i].Height + Gap. The gap
// is configured in document units and scaled by the zoom like everything else,
// so every canvas coordinate is a linear function of zoom.
type Layout struct {
	Offsets []float64 `json:"offsets"`
	Sizes   []Size    `json:"sizes"`
	Zoom    float64   `json:"zoom"`
	Gap     float64   `json:"gap"`
}

// NewLayout computes the layout for the given document-space page sizes
func NewLayout(pages []Size, zoom, gap float64) *Layout {
	l := &Layout{
		Offsets: make([]float64, len(pages)),
		Sizes:   make([]Size, len(pages)),
		Zoom:    zoom,
		Gap:     gap * zoom,
	}

	offset := 0.0
	for i, p := range pages {
		l.Offsets[i] = offset
		l.Sizes[i] = Size{Width: p.Width * zoom, Height: p.Height * zoom}
		offset += l.Sizes[i].Height + l.Gap
	}
	return l
}

// PageCount returns the number of pages in the layout
func (l *Layout) PageCount() int {
	return len(l.Offsets)
}

// PageAt returns the index of the last page whose top offset is at or above
// canvasY. Points in the gap below a page belong to that page; points above
// the first page belong to page 0. Returns -1 for an empty layout.
func (l *Layout) PageAt(canvasY float64) int {
	n := len(l.Offsets)
	if n == 0 {
		return -1
	}
	// first index whose offset is strictly greater than canvasY
	i := sort.Search(n, func(i int) bool { return l.Offsets[i] > canvasY })
	if i == 0 {
		return 0
	}
	return i - 1
}

// PageRect returns the canvas rectangle occupied by page i
func (l *Layout) PageRect(i int) geometry.Rect {
	if i < 0 || i >= len(l.Offsets) {
		return geometry.Rect{}
	}
	return geometry.Rect{
		X0: 0,
		Y0: l.Offsets[i],
		X1: l.Sizes[i].Width,
		Y1: l.Offsets[i] + l.Sizes[i].Height,
	}
}

// Height returns the total canvas height, without a trailing gap
func (l *Layout) Height() float64 {
	n := len(l.Offsets)
	if n == 0 {
		return 0
	}
	return l.Offsets[n-1] + l.Sizes[n-1].Height
}

// Width returns the width of the widest page
func (l *Layout) Width() float64 {
	w := 0.0
	for _, s := range l.Sizes {
		if s.Width > w {
			w = s.Width
		}
	}
	return w
}

// PagesIntersecting returns the inclusive range of pages whose canvas extent
// (including the trailing gap) overlaps [top, bottom). ok is false when no page
// does.
func (l *Layout) PagesIntersecting(top, bottom float64) (first, last int, ok bool) {
	if len(l.Offsets) == 0 || bottom <= 0 || top >= l.Height() || bottom <= top {
		return 0, 0, false
	}
	first = l.PageAt(top)
	last = l.PageAt(bottom)
	// bottom sits exactly on a page's top edge
	if last > first && l.Offsets[last] >= bottom {
		last--
	}
	return first, last, true
}
