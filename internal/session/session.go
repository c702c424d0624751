// Package session ties one open document to its view, gesture state machine,
// field binder and annotation store. All control operations on a Session are
// serialized; background page preparation runs alongside them.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/a3tai/mcp-pdf-annotator/internal/capture"
	"github.com/a3tai/mcp-pdf-annotator/internal/dates"
	"github.com/a3tai/mcp-pdf-annotator/internal/engine"
	annerrors "github.com/a3tai/mcp-pdf-annotator/internal/errors"
	"github.com/a3tai/mcp-pdf-annotator/internal/export"
	"github.com/a3tai/mcp-pdf-annotator/internal/fieldbind"
	"github.com/a3tai/mcp-pdf-annotator/internal/geometry"
	"github.com/a3tai/mcp-pdf-annotator/internal/pagecache"
	"github.com/a3tai/mcp-pdf-annotator/internal/schema"
	"github.com/a3tai/mcp-pdf-annotator/internal/spans"
	"github.com/a3tai/mcp-pdf-annotator/internal/store"
	"github.com/a3tai/mcp-pdf-annotator/internal/viewport"
)

// Options configures sessions
type Options struct {
	View    viewport.Options
	Capture capture.Options
	Dates   dates.Options
	Schema  *schema.Schema
	Debug   bool
}

// DefaultOptions returns options with every component at its defaults
func DefaultOptions() Options {
	return Options{
		View:    viewport.DefaultOptions(),
		Capture: capture.DefaultOptions(),
		Dates:   dates.DefaultOptions(),
		Schema:  schema.Default(),
	}
}

// ViewState is a snapshot of a session for display
type ViewState struct {
	DocumentID   string             `json:"document_id"`
	Name         string             `json:"name"`
	PageCount    int                `json:"page_count"`
	Zoom         float64            `json:"zoom"`
	Pan          geometry.Point     `json:"pan"`
	Viewport     viewport.Size      `json:"viewport"`
	CurrentPage  int                `json:"current_page"`
	FirstVisible int                `json:"first_visible"`
	LastVisible  int                `json:"last_visible"`
	Capture      string             `json:"capture_state"`
	Pending      *capture.Candidate `json:"pending,omitempty"`
	Unsaved      int                `json:"unsaved"`
}

type annotationKey struct {
	field    string
	lineItem int
}

func keyOf(a store.Annotation) annotationKey {
	k := annotationKey{field: a.FieldName, lineItem: -1}
	if a.LineItem != nil {
		k.lineItem = *a.LineItem
	}
	return k
}

// Session is one open document
type Session struct {
	doc      engine.Document
	store    store.Store
	exporter *export.Exporter
	previews *pagecache.Cache
	spans    *spans.Cache
	opts     Options

	mu      sync.Mutex
	view    *viewport.View
	capture *capture.Capture
	binder  *fieldbind.Binder
	pending *capture.Candidate
	current map[annotationKey]store.Annotation
	unsaved map[annotationKey]store.Annotation
	closed  bool

	// undo holds the binds of this session, most recent last
	undo []undoEntry

	background     context.Context
	stopBackground context.CancelFunc
	cancelPrefetch context.CancelFunc
	prefetchGen    uint64
	prefetching    sync.WaitGroup
}

// undoEntry remembers what a bind replaced
type undoEntry struct {
	key             annotationKey
	previous        *store.Annotation
	previousUnsaved bool
}

// New builds a session for doc and loads its stored annotations. On failure
// the document is left open for the caller to close.
func New(ctx context.Context, doc engine.Document, st store.Store, previews *pagecache.Cache, opts Options) (*Session, error) {
	if opts.Schema == nil {
		opts.Schema = schema.Default()
	}
	if previews == nil {
		previews = pagecache.New(pagecache.DefaultCapacity)
	}

	sizes := make([]viewport.Size, doc.PageCount())
	for i := range sizes {
		size, err := doc.PageSize(i)
		if err != nil {
			return nil, annerrors.Wrap(annerrors.ErrorTypeDocumentLoadFailure, "cannot read page size", err).
				WithDocument(doc.ID()).WithPage(i)
		}
		sizes[i] = size
	}
	view, err := viewport.NewView(sizes, opts.View)
	if err != nil {
		return nil, annerrors.Wrap(annerrors.ErrorTypeDocumentLoadFailure, "cannot lay out pages", err).
			WithDocument(doc.ID())
	}

	background, stop := context.WithCancel(context.Background())
	s := &Session{
		doc:            doc,
		store:          st,
		exporter:       export.NewExporter(st, opts.Schema),
		previews:       previews,
		spans:          spans.NewCache(doc.TextSpans),
		opts:           opts,
		view:           view,
		current:        make(map[annotationKey]store.Annotation),
		unsaved:        make(map[annotationKey]store.Annotation),
		background:     background,
		stopBackground: stop,
	}
	s.capture = capture.New(view, s.spans, opts.Capture)
	s.binder = fieldbind.New(opts.Schema, dates.New(opts.Dates), s.spans)

	stored, err := st.ListForDocument(ctx, doc.ID())
	if err != nil {
		stop()
		return nil, annerrors.Wrap(annerrors.ErrorTypeDocumentLoadFailure, "cannot load stored annotations", err).
			WithDocument(doc.ID())
	}
	for _, a := range stored {
		s.current[keyOf(a)] = a
		s.binder.Observe(a.Page, a.Rect, a.LineItem)
	}

	if opts.Debug {
		log.Printf("Session %s: %d pages, %d stored annotations", doc.ID(), len(sizes), len(stored))
	}
	return s, nil
}

// ID returns the document identity
func (s *Session) ID() string { return s.doc.ID() }

// Name returns the document name
func (s *Session) Name() string { return s.doc.Name() }

// PageCount returns the number of pages
func (s *Session) PageCount() int { return s.doc.PageCount() }

// State returns a snapshot of the view and capture state
func (s *Session) State() ViewState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() ViewState {
	first, last, ok := s.view.VisiblePages()
	if !ok {
		first, last = -1, -1
	}
	st := ViewState{
		DocumentID:   s.doc.ID(),
		Name:         s.doc.Name(),
		PageCount:    s.doc.PageCount(),
		Zoom:         s.view.Zoom(),
		Pan:          s.view.Pan(),
		Viewport:     s.view.ViewportSize(),
		CurrentPage:  s.view.CurrentPage(),
		FirstVisible: first,
		LastVisible:  last,
		Capture:      s.capture.State().String(),
		Unsaved:      len(s.unsaved),
	}
	if s.pending != nil {
		p := *s.pending
		st.Pending = &p
	}
	return st
}

// PointerDown starts a gesture. It reports whether the event was accepted.
func (s *Session) PointerDown(p geometry.Point, mods capture.Modifiers) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture.PointerDown(p, mods)
}

// PointerMove feeds a pointer move to the active gesture
func (s *Session) PointerMove(p geometry.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capture.PointerMove(p)
}

// PointerUp finishes the gesture. A finalized candidate replaces any
// candidate still waiting for a field.
func (s *Session) PointerUp(p geometry.Point) (*capture.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	panning := s.capture.State() == capture.StatePanning
	cand, err := s.capture.PointerUp(p)
	if panning {
		s.schedulePrefetchLocked()
	}
	if cand != nil {
		c := *cand
		s.pending = &c
	}
	return cand, err
}

// CancelGesture abandons the active gesture
func (s *Session) CancelGesture() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capture.Cancel()
}

// DiscardPending drops the candidate waiting for a field
func (s *Session) DiscardPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

// Pending returns the candidate waiting for a field
func (s *Session) Pending() (capture.Candidate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return capture.Candidate{}, false
	}
	return *s.pending, true
}

// Wheel handles a wheel notch, zooming around cursor when zoom is set
func (s *Session) Wheel(delta float64, zoom bool, cursor geometry.Point) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zoomed(s.view.OnWheel(delta, zoom, cursor))
}

// ZoomAt multiplies the zoom by factor around anchor
func (s *Session) ZoomAt(factor float64, anchor geometry.Point) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zoomed(s.view.ZoomAt(factor, anchor))
}

// SetZoom sets an absolute zoom around the viewport centre
func (s *Session) SetZoom(z float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zoomed(s.view.SetZoom(z))
}

// ZoomIn zooms one step in
func (s *Session) ZoomIn() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zoomed(s.view.ZoomIn())
}

// ZoomOut zooms one step out
func (s *Session) ZoomOut() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zoomed(s.view.ZoomOut())
}

// FitWidth zooms so the first page fills the viewport width
func (s *Session) FitWidth() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zoomed(s.view.FitWidth())
}

// PanBy moves the view by d screen pixels
func (s *Session) PanBy(d geometry.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.PanBy(d)
	s.schedulePrefetchLocked()
}

// Resize records the size of the rendering surface
func (s *Session) Resize(width, height float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrolled(s.view.Resize(width, height))
}

// ScrollToPage centres page i
func (s *Session) ScrollToPage(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrolled(s.view.ScrollToPage(i))
}

// ScrollToAnnotation centres the current annotation of a key
func (s *Session) ScrollToAnnotation(field string, lineItem *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(store.Annotation{FieldName: field, LineItem: lineItem})
	a, ok := s.unsaved[k]
	if !ok {
		a, ok = s.current[k]
	}
	if !ok {
		return annerrors.Newf(annerrors.ErrorTypeNotFound, "no annotation for field %s", field).
			WithDocument(s.doc.ID()).WithField(field)
	}
	return s.scrolled(s.view.ScrollTo(a.Page, a.Rect))
}

// zoomed reschedules page preparation after a zoom. A clamped zoom was still
// applied.
func (s *Session) zoomed(z float64, err error) (float64, error) {
	if err == nil || annerrors.TypeOf(err) == annerrors.ErrorTypeInvalidZoom {
		s.schedulePrefetchLocked()
	}
	return z, err
}

func (s *Session) scrolled(err error) error {
	if err == nil {
		s.schedulePrefetchLocked()
	}
	return err
}

// ToDocument maps a screen point with the current view state
func (s *Session) ToDocument(p geometry.Point) viewport.DocPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.ToDocument(p)
}

// Prompt returns what to ask the user for the waiting candidate
func (s *Session) Prompt() fieldbind.Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.binder.Prompt(s.pending)
}

// Bind assigns the waiting candidate to a field and persists it.
//
// An unknown or empty field returns UnboundField and keeps the candidate for
// another attempt. A date that cannot be normalized is stored with its raw
// text and the UnparseableDate warning is returned with the annotation. When
// the store fails the annotation stays in memory as unsaved and the
// PersistenceWriteFailure is returned; RetryPending writes it later.
func (s *Session) Bind(ctx context.Context, choice fieldbind.Choice) (store.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return store.Annotation{}, annerrors.New(annerrors.ErrorTypeInvalidArgument, "no candidate awaiting a field").
			WithDocument(s.doc.ID())
	}

	b, err := s.binder.Bind(*s.pending, choice)
	var warning error
	if err != nil {
		if annerrors.TypeOf(err) != annerrors.ErrorTypeUnparseableDate {
			return store.Annotation{}, err
		}
		warning = err
		if s.opts.Debug {
			log.Printf("Session %s: %v", s.doc.ID(), err)
		}
	}
	s.pending = nil

	a := store.Annotation{
		DocumentID:      s.doc.ID(),
		Page:            b.Page,
		Rect:            b.Rect,
		FieldName:       b.Field.Name,
		LineItem:        b.LineItem,
		RawValue:        b.Raw,
		NormalizedValue: b.Normalized,
		Normalized:      b.IsNormalized,
		Mode:            b.Mode.String(),
	}
	k := keyOf(a)
	entry := undoEntry{key: k}
	if prev, ok := s.unsaved[k]; ok {
		entry.previous = &prev
		entry.previousUnsaved = true
	} else if prev, ok := s.current[k]; ok {
		entry.previous = &prev
	}
	s.undo = append(s.undo, entry)

	saved, err := s.store.Upsert(ctx, a)
	if err != nil {
		s.unsaved[k] = a
		return a, persistFailure(a, err)
	}
	delete(s.unsaved, k)
	s.current[k] = saved
	return saved, warning
}

// UndoLast reverts the most recent bind of this session. The value it
// replaced becomes current again; a bind that replaced nothing is deleted.
// It returns the annotation that was undone and the restored one, if any.
func (s *Session) UndoLast(ctx context.Context) (store.Annotation, *store.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.undo) == 0 {
		return store.Annotation{}, nil, annerrors.New(annerrors.ErrorTypeNotFound, "nothing to undo").
			WithDocument(s.doc.ID())
	}
	entry := s.undo[len(s.undo)-1]
	k := entry.key

	undone, wasUnsaved := s.unsaved[k]
	if !wasUnsaved {
		undone = s.current[k]
	}

	var restored *store.Annotation
	switch {
	case wasUnsaved:
		// the bind never reached the store
		delete(s.unsaved, k)
		if entry.previous != nil && entry.previousUnsaved {
			s.unsaved[k] = *entry.previous
			restored = entry.previous
		} else if prev, ok := s.current[k]; ok {
			restored = &prev
		}
	case entry.previous != nil:
		saved, err := s.store.Upsert(ctx, *entry.previous)
		if err != nil {
			return store.Annotation{}, nil, persistFailure(*entry.previous, err)
		}
		s.current[k] = saved
		restored = &saved
	default:
		if err := s.store.Delete(ctx, s.doc.ID(), undone.FieldName, undone.LineItem); err != nil {
			return store.Annotation{}, nil, err
		}
		delete(s.current, k)
	}

	s.undo = s.undo[:len(s.undo)-1]
	s.reobserveLocked()
	return undone, restored, nil
}

// dropUndoLocked forgets the binds of a key once it is deleted
func (s *Session) dropUndoLocked(k annotationKey) {
	kept := s.undo[:0]
	for _, e := range s.undo {
		if e.key != k {
			kept = append(kept, e)
		}
	}
	s.undo = kept
}

func persistFailure(a store.Annotation, err error) error {
	if annerrors.TypeOf(err) == annerrors.ErrorTypePersistenceWriteFailure {
		return err
	}
	return annerrors.Wrap(annerrors.ErrorTypePersistenceWriteFailure, "annotation kept unsaved", err).
		WithDocument(a.DocumentID).WithField(a.FieldName).WithPage(a.Page)
}

// RetryPending writes unsaved annotations again. It returns how many were
// written; the ones that fail stay unsaved and the first failure is returned.
func (s *Session) RetryPending(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]store.Annotation, 0, len(s.unsaved))
	for _, a := range s.unsaved {
		list = append(list, a)
	}
	store.SortForSchema(list, s.opts.Schema)

	written := 0
	var firstErr error
	for _, a := range list {
		saved, err := s.store.Upsert(ctx, a)
		if err != nil {
			if firstErr == nil {
				firstErr = persistFailure(a, err)
			}
			continue
		}
		delete(s.unsaved, keyOf(a))
		s.current[keyOf(saved)] = saved
		written++
	}
	return written, firstErr
}

// Unsaved returns the number of annotations waiting to be written
func (s *Session) Unsaved() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unsaved)
}

// Annotations returns the current annotations, unsaved ones included, in
// listing order
func (s *Session) Annotations() []store.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.annotationsLocked()
}

func (s *Session) annotationsLocked() []store.Annotation {
	out := make([]store.Annotation, 0, len(s.current)+len(s.unsaved))
	for k, a := range s.current {
		if _, ok := s.unsaved[k]; !ok {
			out = append(out, a)
		}
	}
	for _, a := range s.unsaved {
		out = append(out, a)
	}
	store.SortForSchema(out, s.opts.Schema)
	return out
}

// Delete removes the annotation of a key from memory and the store
func (s *Session) Delete(ctx context.Context, field string, lineItem *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(store.Annotation{FieldName: field, LineItem: lineItem})
	_, wasUnsaved := s.unsaved[k]

	err := s.store.Delete(ctx, s.doc.ID(), field, lineItem)
	if err != nil && !(wasUnsaved && annerrors.TypeOf(err) == annerrors.ErrorTypeNotFound) {
		return err
	}
	delete(s.unsaved, k)
	delete(s.current, k)
	s.dropUndoLocked(k)
	s.reobserveLocked()
	return nil
}

// DeleteAll removes every annotation of the document, history included
func (s *Session) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.DeleteDocument(ctx, s.doc.ID()); err != nil {
		return err
	}
	s.current = make(map[annotationKey]store.Annotation)
	s.unsaved = make(map[annotationKey]store.Annotation)
	s.undo = nil
	s.binder.Reset()
	return nil
}

func (s *Session) reobserveLocked() {
	s.binder.Reset()
	for _, a := range s.annotationsLocked() {
		s.binder.Observe(a.Page, a.Rect, a.LineItem)
	}
}

// History returns superseded and deleted values of the document
func (s *Session) History(ctx context.Context) ([]store.Annotation, error) {
	return s.store.History(ctx, s.doc.ID())
}

// ExportCSV exports the stored annotations as CSV. Unsaved annotations are
// not part of the export until they are written.
func (s *Session) ExportCSV(ctx context.Context) ([]byte, error) {
	return s.exporter.ExportCSV(ctx, s.doc.ID())
}

// ExportYAML exports the stored annotations as a YAML record dump
func (s *Session) ExportYAML(ctx context.Context) ([]byte, error) {
	return s.exporter.ExportYAML(ctx, s.doc.ID())
}

// ExportFileName returns the default export file name for the document
func (s *Session) ExportFileName() string {
	return export.DefaultFileName(s.doc.Name())
}

// Close stops background work and releases the document
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.cancelPrefetch != nil {
		s.cancelPrefetch()
		s.cancelPrefetch = nil
	}
	s.stopBackground()
	s.capture.Cancel()
	s.pending = nil
	s.mu.Unlock()

	s.prefetching.Wait()
	s.spans.Invalidate()
	s.previews.RemoveDocument(s.doc.ID())
	if err := s.doc.Close(); err != nil {
		return fmt.Errorf("failed to close document %s: %w", s.doc.ID(), err)
	}
	return nil
}
