// Package viewport maintains the zoom/pan state of one open document and the
// mapping between screen pixels and document space across the vertically
// stacked pages.
package viewport

import (
	"fmt"
	"math"

	annerrors "github.com/a3tai/mcp-pdf-annotator/internal/errors"
	"github.com/a3tai/mcp-pdf-annotator/internal/geometry"
)

const (
	// DefaultMinZoom is the smallest allowed zoom factor
	DefaultMinZoom = 0.1
	// DefaultMaxZoom is the largest allowed zoom factor
	DefaultMaxZoom = 8.0
	// DefaultZoomStep is the factor applied by one zoom in/out step
	DefaultZoomStep = 1.25
	// DefaultPageGap is the gap between pages in document units
	DefaultPageGap = 20.0
	// DefaultScrollStep is the pan distance in pixels of one wheel notch
	DefaultScrollStep = 40.0

	fitWidthRatio = 0.9
	fitMinZoom    = 1.0
	fitMaxZoom    = 2.0
)

// Options configures a View
type Options struct {
	MinZoom    float64
	MaxZoom    float64
	ZoomStep   float64
	PageGap    float64
	ScrollStep float64
}

// DefaultOptions returns the default view options
func DefaultOptions() Options {
	return Options{
		MinZoom:    DefaultMinZoom,
		MaxZoom:    DefaultMaxZoom,
		ZoomStep:   DefaultZoomStep,
		PageGap:    DefaultPageGap,
		ScrollStep: DefaultScrollStep,
	}
}

// View is the transient viewing state of one open document
type View struct {
	pages    []Size
	zoom     float64
	pan      geometry.Point
	viewport Size
	opts     Options
	layout   *Layout
}

// NewView creates a view at zoom 1 with the first page at the top-left corner
func NewView(pages []Size, opts Options) (*View, error) {
	if opts.MinZoom <= 0 || opts.MaxZoom < opts.MinZoom {
		return nil, fmt.Errorf("invalid zoom range [%g, %g]", opts.MinZoom, opts.MaxZoom)
	}
	if opts.ZoomStep <= 1 {
		opts.ZoomStep = DefaultZoomStep
	}
	if opts.ScrollStep <= 0 {
		opts.ScrollStep = DefaultScrollStep
	}
	if opts.PageGap < 0 {
		return nil, fmt.Errorf("negative page gap %g", opts.PageGap)
	}
	for i, p := range pages {
		if !(p.Width > 0) || !(p.Height > 0) {
			return nil, fmt.Errorf("page %d has invalid size %gx%g", i, p.Width, p.Height)
		}
	}

	v := &View{
		pages: append([]Size(nil), pages...),
		opts:  opts,
	}
	v.zoom, _ = v.clamp(1.0)
	v.layout = NewLayout(v.pages, v.zoom, v.opts.PageGap)
	return v, nil
}

// State returns the current transform state. The returned layout is never
// mutated; zoom changes install a new one.
func (v *View) State() State {
	return State{Zoom: v.zoom, Pan: v.pan, Layout: v.layout}
}

// Zoom returns the current zoom factor
func (v *View) Zoom() float64 {
	return v.zoom
}

// Pan returns the current pan offset
func (v *View) Pan() geometry.Point {
	return v.pan
}

// Layout returns the current page layout
func (v *View) Layout() *Layout {
	return v.layout
}

// PageCount returns the number of pages
func (v *View) PageCount() int {
	return len(v.pages)
}

// PageSize returns the document-space size of page i
func (v *View) PageSize(i int) (Size, bool) {
	if i < 0 || i >= len(v.pages) {
		return Size{}, false
	}
	return v.pages[i], true
}

// PageBounds returns the document-space rectangle of page i
func (v *View) PageBounds(i int) geometry.Rect {
	s, ok := v.PageSize(i)
	if !ok {
		return geometry.Rect{}
	}
	return geometry.Rect{X1: s.Width, Y1: s.Height}
}

// ViewportSize returns the size recorded by Resize
func (v *View) ViewportSize() Size {
	return v.viewport
}

// ToDocument maps a screen point with the current state
func (v *View) ToDocument(p geometry.Point) DocPoint {
	return ToDocument(p, v.State())
}

// ToScreen maps a document point with the current state
func (v *View) ToScreen(d DocPoint) geometry.Point {
	return ToScreen(d, v.State())
}

// DocumentPointOnPage resolves a screen point to the page it lies on. ok is
// false when the point is in a gap, above the first page or beside a page.
func (v *View) DocumentPointOnPage(p geometry.Point) (DocPoint, bool) {
	d := v.ToDocument(p)
	if d.Page < 0 {
		return d, false
	}
	return d, v.PageBounds(d.Page).Contains(d.Point())
}

func (v *View) clamp(z float64) (float64, error) {
	switch {
	case z < v.opts.MinZoom:
		return v.opts.MinZoom, annerrors.Newf(annerrors.ErrorTypeInvalidZoom,
			"zoom %g below minimum, clamped to %g", z, v.opts.MinZoom)
	case z > v.opts.MaxZoom:
		return v.opts.MaxZoom, annerrors.Newf(annerrors.ErrorTypeInvalidZoom,
			"zoom %g above maximum, clamped to %g", z, v.opts.MaxZoom)
	}
	return z, nil
}

// ZoomAt multiplies the zoom by factor keeping the document point under anchor
// fixed on screen. The layout is recomputed before ZoomAt returns. A request
// outside the allowed range is clamped and reported with a non-fatal
// InvalidZoom error alongside the applied zoom.
func (v *View) ZoomAt(factor float64, anchor geometry.Point) (float64, error) {
	if !(factor > 0) || math.IsInf(factor, 0) {
		return v.zoom, annerrors.Newf(annerrors.ErrorTypeInvalidArgument, "invalid zoom factor %g", factor)
	}
	return v.setZoomAt(v.zoom*factor, anchor)
}

// SetZoom sets an absolute zoom anchored at the viewport centre
func (v *View) SetZoom(z float64) (float64, error) {
	if !(z > 0) || math.IsInf(z, 0) {
		return v.zoom, annerrors.Newf(annerrors.ErrorTypeInvalidZoom, "invalid zoom %g", z)
	}
	return v.setZoomAt(z, v.center())
}

// ZoomIn zooms one step in around the viewport centre
func (v *View) ZoomIn() (float64, error) {
	return v.ZoomAt(v.opts.ZoomStep, v.center())
}

// ZoomOut zooms one step out around the viewport centre
func (v *View) ZoomOut() (float64, error) {
	return v.ZoomAt(1/v.opts.ZoomStep, v.center())
}

// OnWheel handles a wheel event. With zoom set each notch zooms one step
// around the cursor, positive deltas zooming in; otherwise the view scrolls
// vertically, positive deltas moving towards the top of the document.
func (v *View) OnWheel(delta float64, zoom bool, cursor geometry.Point) (float64, error) {
	if delta == 0 {
		return v.zoom, nil
	}
	if zoom {
		return v.ZoomAt(math.Pow(v.opts.ZoomStep, delta), cursor)
	}
	v.PanBy(geometry.Point{Y: -delta * v.opts.ScrollStep})
	return v.zoom, nil
}

func (v *View) setZoomAt(target float64, anchor geometry.Point) (float64, error) {
	z, err := v.clamp(target)
	anchored := v.ToDocument(anchor)

	v.zoom = z
	v.layout = NewLayout(v.pages, z, v.opts.PageGap)

	// pan so the anchored document point lands back under the anchor
	canvas := ToScreen(anchored, State{Zoom: z, Layout: v.layout})
	v.pan = canvas.Sub(anchor)
	return z, err
}

func (v *View) center() geometry.Point {
	return geometry.Point{X: v.viewport.Width / 2, Y: v.viewport.Height / 2}
}

// PanBy moves the pan offset by d screen pixels
func (v *View) PanBy(d geometry.Point) {
	v.pan = v.pan.Add(d)
}

// SetPan sets the pan offset
func (v *View) SetPan(p geometry.Point) {
	v.pan = p
}

// Resize records the size of the rendering surface
func (v *View) Resize(width, height float64) error {
	if width < 0 || height < 0 {
		return annerrors.Newf(annerrors.ErrorTypeInvalidArgument, "invalid viewport size %gx%g", width, height)
	}
	v.viewport = Size{Width: width, Height: height}
	return nil
}

// FitWidth picks the initial zoom so the first page fills 90% of the viewport
// width, kept between 1x and 2x.
func (v *View) FitWidth() (float64, error) {
	if len(v.pages) == 0 || v.viewport.Width <= 0 {
		return v.zoom, nil
	}
	z := v.viewport.Width * fitWidthRatio / v.pages[0].Width
	z = math.Max(math.Min(z, fitMaxZoom), fitMinZoom)
	zoom, err := v.setZoomAt(z, geometry.Point{})
	v.pan = geometry.Point{}
	return zoom, err
}

// ScrollToPage pans so that page i is centred in the viewport
func (v *View) ScrollToPage(i int) error {
	if i < 0 || i >= len(v.pages) {
		return annerrors.Newf(annerrors.ErrorTypeInvalidArgument, "page %d out of range [0, %d)", i, len(v.pages))
	}
	v.centerOn(v.layout.PageRect(i).Center())
	return nil
}

// ScrollTo pans so that the document rectangle r on page is centred
func (v *View) ScrollTo(page int, r geometry.Rect) error {
	if page < 0 || page >= len(v.pages) {
		return annerrors.Newf(annerrors.ErrorTypeInvalidArgument, "page %d out of range [0, %d)", page, len(v.pages))
	}
	c := r.Center()
	v.centerOn(geometry.Point{X: c.X * v.zoom, Y: v.layout.Offsets[page] + c.Y*v.zoom})
	return nil
}

func (v *View) centerOn(canvas geometry.Point) {
	v.pan = canvas.Sub(v.center())
}

// CurrentPage returns the page under the viewport centre
func (v *View) CurrentPage() int {
	return v.ToDocument(v.center()).Page
}

// VisiblePages returns the inclusive range of pages intersecting the viewport
func (v *View) VisiblePages() (first, last int, ok bool) {
	return v.layout.PagesIntersecting(v.pan.Y, v.pan.Y+v.viewport.Height)
}
