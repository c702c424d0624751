package viewport

import (
	"github.com/a3tai/mcp-pdf-annotator/internal/geometry"
)

// DocPoint is a point in the document space of one page: points from the
// page's top-left corner.
type DocPoint struct {
	Page int     `json:"page"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// Point returns the in-page coordinates
func (d DocPoint) Point() geometry.Point {
	return geometry.Point{X: d.X, Y: d.Y}
}

// State is the part of a view that the coordinate transform depends on.
// Screen = canvas - Pan; canvas = (page offset + y*zoom, x*zoom).
type State struct {
	Zoom   float64
	Pan    geometry.Point
	Layout *Layout
}

// ToDocument maps a screen point to the document space of the page under it.
// Points that fall in an inter-page gap, above the first page or right of a
// page map to the preceding page with out-of-page coordinates, so the mapping
// is invertible everywhere.
func ToDocument(screen geometry.Point, s State) DocPoint {
	canvas := screen.Add(s.Pan)
	page := s.Layout.PageAt(canvas.Y)
	if page < 0 {
		return DocPoint{Page: -1, X: canvas.X / s.Zoom, Y: canvas.Y / s.Zoom}
	}
	return DocPoint{
		Page: page,
		X:    canvas.X / s.Zoom,
		Y:    (canvas.Y - s.Layout.Offsets[page]) / s.Zoom,
	}
}

// ToScreen is the exact inverse of ToDocument
func ToScreen(d DocPoint, s State) geometry.Point {
	top := 0.0
	if d.Page >= 0 && d.Page < len(s.Layout.Offsets) {
		top = s.Layout.Offsets[d.Page]
	}
	canvas := geometry.Point{X: d.X * s.Zoom, Y: top + d.Y*s.Zoom}
	return canvas.Sub(s.Pan)
}

// ToPage maps a screen point into the document space of the given page,
// whichever page is actually under it
func ToPage(screen geometry.Point, page int, s State) DocPoint {
	canvas := screen.Add(s.Pan)
	top := 0.0
	if page >= 0 && page < len(s.Layout.Offsets) {
		top = s.Layout.Offsets[page]
	}
	return DocPoint{Page: page, X: canvas.X / s.Zoom, Y: (canvas.Y - top) / s.Zoom}
}

// RectToScreen maps a document rectangle on page to screen space
func RectToScreen(page int, r geometry.Rect, s State) geometry.Rect {
	a := ToScreen(DocPoint{Page: page, X: r.X0, Y: r.Y0}, s)
	b := ToScreen(DocPoint{Page: page, X: r.X1, Y: r.Y1}, s)
	return geometry.RectFromPoints(a, b)
}
