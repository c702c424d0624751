// Package capture turns pointer gestures over a document view into finalized
// annotation rectangles.
//
// The state machine is
//
//	Idle --down(Shift)--> Armed(draw) --move--> Dragging --up--> Idle
//	Idle --down(Ctrl)---> Armed(snap) --move--> Dragging --up--> Idle
//	Idle --down---------> Panning --move--> Panning --up--> Idle
//	Armed | Dragging | Panning --cancel--> Idle
//
// Only one gesture is active at a time; a pointer-down outside Idle is ignored.
package capture

import (
	"fmt"

	annerrors "github.com/a3tai/mcp-pdf-annotator/internal/errors"
	"github.com/a3tai/mcp-pdf-annotator/internal/geometry"
	"github.com/a3tai/mcp-pdf-annotator/internal/spans"
	"github.com/a3tai/mcp-pdf-annotator/internal/viewport"
)

// DefaultMinArea is the default minimum candidate area in screen pixels²
const DefaultMinArea = 16.0

// State of the gesture state machine
type State int

const (
	StateIdle State = iota
	StateArmed
	StateDragging
	StatePanning
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateDragging:
		return "dragging"
	case StatePanning:
		return "panning"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Mode selects how the candidate rectangle is derived from the sweep
type Mode int

const (
	ModeDraw Mode = iota
	ModeSnap
)

// String returns the mode name as stored with annotations
func (m Mode) String() string {
	if m == ModeSnap {
		return "snap"
	}
	return "draw"
}

// MarshalText implements encoding.TextMarshaler
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *Mode) UnmarshalText(b []byte) error {
	mode, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// ParseMode parses "draw" or "snap"
func ParseMode(s string) (Mode, error) {
	switch s {
	case "draw", "":
		return ModeDraw, nil
	case "snap":
		return ModeSnap, nil
	}
	return ModeDraw, fmt.Errorf("unknown capture mode %q", s)
}

// Modifiers held during a pointer event
type Modifiers struct {
	Shift bool `json:"shift,omitempty"`
	Ctrl  bool `json:"ctrl,omitempty"`
	Alt   bool `json:"alt,omitempty"`
}

// Options configures a Capture
type Options struct {
	// MinArea is the area in screen pixels² a candidate must exceed
	MinArea float64
	// MinOverlap is the span overlap threshold for snapping
	MinOverlap float64
}

// DefaultOptions returns the default capture options
func DefaultOptions() Options {
	return Options{MinArea: DefaultMinArea, MinOverlap: spans.DefaultMinOverlap}
}

// SpanLookup provides the span index of a page
type SpanLookup interface {
	Get(page int) (*spans.Index, error)
}

// Gesture is the in-progress pointer interaction
type Gesture struct {
	Mode     Mode              `json:"mode"`
	Page     int               `json:"page"`
	Start    geometry.Point    `json:"start"`
	Current  geometry.Point    `json:"current"`
	StartDoc viewport.DocPoint `json:"start_doc"`
	EndDoc   viewport.DocPoint `json:"end_doc"`
	Sweep    geometry.Rect     `json:"sweep"`
	Result   geometry.Rect     `json:"rect"`
	Snapped  bool              `json:"snapped"`
}

// Candidate is a finalized rectangle awaiting field binding
type Candidate struct {
	Page    int           `json:"page"`
	Rect    geometry.Rect `json:"rect"`
	Sweep   geometry.Rect `json:"sweep"`
	Mode    Mode          `json:"mode"`
	Snapped bool          `json:"snapped"`
}

// Capture is the gesture state machine for one view. It is not safe for
// concurrent use; callers serialize pointer events.
type Capture struct {
	view  *viewport.View
	spans SpanLookup
	opts  Options

	state   State
	gesture *Gesture
	panLast geometry.Point
}

// New creates a Capture over view. spans may be nil, in which case snap mode
// always falls back to the raw rectangle.
func New(view *viewport.View, lookup SpanLookup, opts Options) *Capture {
	if opts.MinArea < 0 {
		opts.MinArea = 0
	}
	if opts.MinOverlap <= 0 || opts.MinOverlap > 1 {
		opts.MinOverlap = spans.DefaultMinOverlap
	}
	return &Capture{view: view, spans: lookup, opts: opts}
}

// State returns the current state
func (c *Capture) State() State {
	return c.state
}

// Gesture returns a copy of the active gesture
func (c *Capture) Gesture() (Gesture, bool) {
	if c.gesture == nil {
		return Gesture{}, false
	}
	return *c.gesture, true
}

// Candidate returns the live candidate rectangle while a gesture is active
func (c *Capture) Candidate() (Candidate, bool) {
	g := c.gesture
	if g == nil {
		return Candidate{}, false
	}
	return Candidate{Page: g.Page, Rect: g.Result, Sweep: g.Sweep, Mode: g.Mode, Snapped: g.Snapped}, true
}

// PointerDown starts a gesture. Shift draws, Ctrl snaps to text and no
// modifier pans. A draw or snap gesture must start on a page. It returns
// whether the event was accepted.
func (c *Capture) PointerDown(p geometry.Point, mods Modifiers) bool {
	if c.state != StateIdle {
		return false
	}

	if !mods.Shift && !mods.Ctrl {
		c.state = StatePanning
		c.panLast = p
		return true
	}

	d, ok := c.view.DocumentPointOnPage(p)
	if !ok {
		return false
	}

	mode := ModeDraw
	if mods.Ctrl {
		mode = ModeSnap
	}
	c.gesture = &Gesture{
		Mode:     mode,
		Page:     d.Page,
		Start:    p,
		Current:  p,
		StartDoc: d,
		EndDoc:   d,
		Sweep:    geometry.RectFromPoints(d.Point(), d.Point()),
	}
	c.gesture.Result = c.gesture.Sweep
	c.state = StateArmed
	return true
}

// PointerMove updates the active gesture or pans the view
func (c *Capture) PointerMove(p geometry.Point) {
	switch c.state {
	case StatePanning:
		c.view.PanBy(c.panLast.Sub(p))
		c.panLast = p
	case StateArmed, StateDragging:
		c.state = StateDragging
		c.update(p)
	}
}

// PointerUp finishes the gesture. A draw or snap gesture whose candidate area
// does not exceed the minimum returns a GestureDiscarded error; panning and
// stray releases return neither candidate nor error.
func (c *Capture) PointerUp(p geometry.Point) (*Candidate, error) {
	switch c.state {
	case StatePanning:
		c.view.PanBy(c.panLast.Sub(p))
		c.reset()
		return nil, nil
	case StateArmed, StateDragging:
	default:
		return nil, nil
	}

	c.update(p)
	cand, _ := c.Candidate()
	c.reset()

	zoom := c.view.Zoom()
	if area := cand.Rect.Area() * zoom * zoom; area <= c.opts.MinArea {
		return nil, annerrors.Newf(annerrors.ErrorTypeGestureDiscarded,
			"candidate area %.1fpx² below threshold %.1fpx²", area, c.opts.MinArea).
			WithPage(cand.Page)
	}
	return &cand, nil
}

// Cancel abandons the active gesture, for example when pointer capture is lost
func (c *Capture) Cancel() {
	c.reset()
}

func (c *Capture) reset() {
	c.state = StateIdle
	c.gesture = nil
}

func (c *Capture) update(p geometry.Point) {
	g := c.gesture
	g.Current = p

	// sweeps are confined to the page they started on
	end := viewport.ToPage(p, g.Page, c.view.State())
	bounds := c.view.PageBounds(g.Page)
	clamped := bounds.Clamp(end.Point())
	g.EndDoc = viewport.DocPoint{Page: g.Page, X: clamped.X, Y: clamped.Y}

	g.Sweep = geometry.RectFromPoints(g.StartDoc.Point(), clamped)
	g.Result = g.Sweep
	g.Snapped = false

	if g.Mode != ModeSnap || c.spans == nil {
		return
	}
	idx, err := c.spans.Get(g.Page)
	if err != nil {
		return
	}
	if merged, ok := idx.SpansWithin(g.Sweep, c.opts.MinOverlap); ok {
		g.Result = merged
		g.Snapped = true
	}
}
