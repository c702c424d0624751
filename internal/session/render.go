package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/a3tai/mcp-pdf-annotator/internal/engine"
	annerrors "github.com/a3tai/mcp-pdf-annotator/internal/errors"
	"github.com/a3tai/mcp-pdf-annotator/internal/geometry"
	"github.com/a3tai/mcp-pdf-annotator/internal/pagecache"
	"github.com/a3tai/mcp-pdf-annotator/internal/viewport"
)

const prefetchWorkers = 4

var (
	annotationColor = color.NRGBA{R: 0, G: 0, B: 255, A: 128}
	candidateColor  = color.NRGBA{R: 255, G: 0, B: 0, A: 96}
)

// OverlayKind tells what an overlay rectangle shows
type OverlayKind string

const (
	// OverlayStored is a persisted annotation
	OverlayStored OverlayKind = "stored"
	// OverlayUnsaved is an annotation whose write failed
	OverlayUnsaved OverlayKind = "unsaved"
	// OverlayPending is a candidate waiting for a field
	OverlayPending OverlayKind = "pending"
	// OverlayLive is the rectangle of the gesture in progress
	OverlayLive OverlayKind = "live"
)

// Overlay is one rectangle to draw over a page
type Overlay struct {
	Kind     OverlayKind   `json:"kind"`
	Page     int           `json:"page"`
	Rect     geometry.Rect `json:"rect"`
	Screen   geometry.Rect `json:"screen"`
	Field    string        `json:"field,omitempty"`
	LineItem *int          `json:"line_item,omitempty"`
	Value    string        `json:"value,omitempty"`
}

// Overlays returns the rectangles to draw on page, or on every page when
// page is negative
func (s *Session) Overlays(page int) []Overlay {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlaysLocked(page)
}

func (s *Session) overlaysLocked(page int) []Overlay {
	state := s.view.State()
	var out []Overlay
	add := func(kind OverlayKind, p int, r geometry.Rect, field string, lineItem *int, value string) {
		if page >= 0 && p != page {
			return
		}
		out = append(out, Overlay{
			Kind:     kind,
			Page:     p,
			Rect:     r,
			Screen:   viewport.RectToScreen(p, r, state),
			Field:    field,
			LineItem: lineItem,
			Value:    value,
		})
	}

	for _, a := range s.annotationsLocked() {
		kind := OverlayStored
		if _, ok := s.unsaved[keyOf(a)]; ok {
			kind = OverlayUnsaved
		}
		add(kind, a.Page, a.Rect, a.FieldName, a.LineItem, a.Value())
	}
	if s.pending != nil {
		add(OverlayPending, s.pending.Page, s.pending.Rect, "", nil, "")
	}
	if c, ok := s.capture.Candidate(); ok {
		add(OverlayLive, c.Page, c.Rect, "", nil, "")
	}
	return out
}

// RenderPage returns a preview of page with its overlays composed on top.
// A scale of zero renders at the current zoom.
func (s *Session) RenderPage(ctx context.Context, page int, scale float64) (image.Image, error) {
	if page < 0 || page >= s.doc.PageCount() {
		return nil, annerrors.Newf(annerrors.ErrorTypeInvalidArgument, "page %d out of range [0, %d)", page, s.doc.PageCount()).
			WithDocument(s.doc.ID())
	}

	s.mu.Lock()
	if scale <= 0 {
		scale = s.view.Zoom()
	}
	overlays := s.overlaysLocked(page)
	s.mu.Unlock()

	base, err := s.preview(ctx, page, scale)
	if err != nil {
		return nil, err
	}
	size, err := s.doc.PageSize(page)
	if err != nil {
		return nil, err
	}
	_, _, effective := engine.PixelSize(size, scale)

	img := imaging.Clone(base)
	for _, o := range overlays {
		r := engine.PixelRect(o.Rect, effective).Intersect(img.Bounds())
		if r.Empty() {
			continue
		}
		fill := annotationColor
		if o.Kind == OverlayPending || o.Kind == OverlayLive {
			fill = candidateColor
		}
		img = imaging.Overlay(img, imaging.New(r.Dx(), r.Dy(), fill), r.Min, 1.0)
	}
	return img, nil
}

// preview returns the cached preview of a page, rendering it on a miss. A
// render that finishes after the session closed is not cached.
func (s *Session) preview(ctx context.Context, page int, scale float64) (image.Image, error) {
	key := pagecache.NewKey(s.doc.ID(), page, scale)
	if img, ok := s.previews.Get(key); ok {
		return img, nil
	}
	img, err := s.doc.RenderPage(ctx, page, scale)
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", page, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.previews.Put(key, img)
	}
	return img, nil
}

// Prefetch builds span indexes and previews for pages in the background
// workers. Starting a new prefetch cancels the previous one, which then
// returns without error. It blocks until its pages are prepared or it is
// cancelled.
func (s *Session) Prefetch(ctx context.Context, pages []int) error {
	s.mu.Lock()
	ctx, gen, scale, ok := s.beginPrefetchLocked(ctx)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.prepare(ctx, gen, scale, pages)
}

// PrefetchVisible prefetches the visible pages and one page on either side
func (s *Session) PrefetchVisible(ctx context.Context) error {
	s.mu.Lock()
	pages := s.visiblePagesLocked()
	s.mu.Unlock()
	return s.Prefetch(ctx, pages)
}

// SchedulePrefetch starts preparing the visible pages in the background and
// returns at once. Any preparation still running is cancelled.
func (s *Session) SchedulePrefetch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedulePrefetchLocked()
}

// schedulePrefetchLocked is called after every change of the visible area so
// pages scrolled past are abandoned before their work finishes
func (s *Session) schedulePrefetchLocked() {
	ctx, gen, scale, ok := s.beginPrefetchLocked(s.background)
	if !ok {
		return
	}
	pages := s.visiblePagesLocked()
	go func() {
		if err := s.prepare(ctx, gen, scale, pages); err != nil && s.opts.Debug {
			log.Printf("Session %s: prefetch failed: %v", s.doc.ID(), err)
		}
	}()
}

// beginPrefetchLocked cancels the running generation and registers a new one
func (s *Session) beginPrefetchLocked(parent context.Context) (context.Context, uint64, float64, bool) {
	if s.closed {
		return nil, 0, 0, false
	}
	if s.cancelPrefetch != nil {
		s.cancelPrefetch()
	}
	ctx, cancel := context.WithCancel(parent)
	s.prefetchGen++
	s.cancelPrefetch = cancel
	s.prefetching.Add(1)
	return ctx, s.prefetchGen, s.view.Zoom(), true
}

func (s *Session) prepare(ctx context.Context, gen uint64, scale float64, pages []int) error {
	defer s.prefetching.Done()
	defer func() {
		s.mu.Lock()
		if s.prefetchGen == gen && s.cancelPrefetch != nil {
			s.cancelPrefetch()
			s.cancelPrefetch = nil
		}
		s.mu.Unlock()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchWorkers)
	for _, page := range pages {
		if page < 0 || page >= s.doc.PageCount() {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if _, err := s.spans.Get(page); err != nil {
				return err
			}
			if s.previews.Contains(pagecache.NewKey(s.doc.ID(), page, scale)) {
				return nil
			}
			_, err := s.preview(gctx, page, scale)
			return err
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// visiblePagesLocked returns the visible pages with one page of lookahead on
// either side. Before the viewport has a size the current page stands in.
func (s *Session) visiblePagesLocked() []int {
	first, last, ok := s.view.VisiblePages()
	if !ok {
		first = s.view.CurrentPage()
		last = first
	}
	var pages []int
	for p := max(0, first-1); p <= min(s.doc.PageCount()-1, last+1); p++ {
		pages = append(pages, p)
	}
	return pages
}

// IndexBuilt reports whether the span index of page is ready
func (s *Session) IndexBuilt(page int) bool {
	return s.spans.Built(page)
}
