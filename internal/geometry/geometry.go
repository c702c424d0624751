// Package geometry provides the points and axis-aligned rectangles shared by the
// viewport, span index, capture and store packages.
//
// Rectangles use a top-left origin: X grows to the right and Y grows downwards,
// matching both screen space and the document space used for annotations.
package geometry

import (
	"fmt"
	"math"
)

// Point represents a coordinate point
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pt is shorthand for Point{X: x, Y: y}
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// Add returns p+q
func (p Point) Add(q Point) Point {
	return Point{X: p.X + q.X, Y: p.Y + q.Y}
}

// Sub returns p-q
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Scale returns p multiplied by f
func (p Point) Scale(f float64) Point {
	return Point{X: p.X * f, Y: p.Y * f}
}

// NearlyEqual reports whether both coordinates differ by at most eps
func (p Point) NearlyEqual(q Point, eps float64) bool {
	return math.Abs(p.X-q.X) <= eps && math.Abs(p.Y-q.Y) <= eps
}

// Rect is an axis-aligned rectangle with X0 < X1 and Y0 < Y1 once normalized.
type Rect struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// RectFromPoints returns the bounding box of two corner points, in any order.
func RectFromPoints(a, b Point) Rect {
	return Rect{
		X0: math.Min(a.X, b.X),
		Y0: math.Min(a.Y, b.Y),
		X1: math.Max(a.X, b.X),
		Y1: math.Max(a.Y, b.Y),
	}
}

// Normalize swaps corners so that X0 <= X1 and Y0 <= Y1
func (r Rect) Normalize() Rect {
	return RectFromPoints(Point{r.X0, r.Y0}, Point{r.X1, r.Y1})
}

// Dx returns the width
func (r Rect) Dx() float64 {
	return r.X1 - r.X0
}

// Dy returns the height
func (r Rect) Dy() float64 {
	return r.Y1 - r.Y0
}

// Area returns the area, zero for empty rectangles
func (r Rect) Area() float64 {
	if r.IsEmpty() {
		return 0
	}
	return r.Dx() * r.Dy()
}

// IsEmpty reports whether the rectangle encloses no area
func (r Rect) IsEmpty() bool {
	return r.X0 >= r.X1 || r.Y0 >= r.Y1
}

// Center returns the midpoint
func (r Rect) Center() Point {
	return Point{X: (r.X0 + r.X1) / 2, Y: (r.Y0 + r.Y1) / 2}
}

// Contains reports whether p lies inside r, edges included
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X0 && p.X <= r.X1 && p.Y >= r.Y0 && p.Y <= r.Y1
}

// ContainsRect reports whether s lies entirely inside r
func (r Rect) ContainsRect(s Rect) bool {
	return s.X0 >= r.X0 && s.X1 <= r.X1 && s.Y0 >= r.Y0 && s.Y1 <= r.Y1
}

// Intersect returns the overlap of r and s; the result is empty when they do not overlap.
func (r Rect) Intersect(s Rect) Rect {
	out := Rect{
		X0: math.Max(r.X0, s.X0),
		Y0: math.Max(r.Y0, s.Y0),
		X1: math.Min(r.X1, s.X1),
		Y1: math.Min(r.Y1, s.Y1),
	}
	if out.IsEmpty() {
		return Rect{}
	}
	return out
}

// Intersects reports whether r and s share a region of positive area
func (r Rect) Intersects(s Rect) bool {
	return r.X0 < s.X1 && s.X0 < r.X1 && r.Y0 < s.Y1 && s.Y0 < r.Y1
}

// Union returns the smallest rectangle containing both r and s.
// An empty operand is ignored.
func (r Rect) Union(s Rect) Rect {
	if r.IsEmpty() {
		return s
	}
	if s.IsEmpty() {
		return r
	}
	return Rect{
		X0: math.Min(r.X0, s.X0),
		Y0: math.Min(r.Y0, s.Y0),
		X1: math.Max(r.X1, s.X1),
		Y1: math.Max(r.Y1, s.Y1),
	}
}

// Clamp restricts p to the rectangle
func (r Rect) Clamp(p Point) Point {
	return Point{
		X: math.Min(math.Max(p.X, r.X0), r.X1),
		Y: math.Min(math.Max(p.Y, r.Y0), r.Y1),
	}
}

// Scale multiplies all coordinates by f
func (r Rect) Scale(f float64) Rect {
	return Rect{X0: r.X0 * f, Y0: r.Y0 * f, X1: r.X1 * f, Y1: r.Y1 * f}
}

// Translate shifts the rectangle by d
func (r Rect) Translate(d Point) Rect {
	return Rect{X0: r.X0 + d.X, Y0: r.Y0 + d.Y, X1: r.X1 + d.X, Y1: r.Y1 + d.Y}
}

// NearlyEqual reports whether the corner coordinates of two rectangles
// differ by at most eps
func (r Rect) NearlyEqual(s Rect, eps float64) bool {
	return math.Abs(r.X0-s.X0) <= eps && math.Abs(r.Y0-s.Y0) <= eps &&
		math.Abs(r.X1-s.X1) <= eps && math.Abs(r.Y1-s.Y1) <= eps
}

// VerticalOverlap returns the length of the overlap of the Y ranges of r and s
func (r Rect) VerticalOverlap(s Rect) float64 {
	return math.Max(0, math.Min(r.Y1, s.Y1)-math.Max(r.Y0, s.Y0))
}

// String formats the rectangle the way it is shown to users
func (r Rect) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f, %.2f)", r.X0, r.Y0, r.X1, r.Y1)
}
