package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-pdf-annotator/internal/capture"
	"github.com/a3tai/mcp-pdf-annotator/internal/engine"
	annerrors "github.com/a3tai/mcp-pdf-annotator/internal/errors"
	"github.com/a3tai/mcp-pdf-annotator/internal/fieldbind"
	"github.com/a3tai/mcp-pdf-annotator/internal/geometry"
	"github.com/a3tai/mcp-pdf-annotator/internal/pagecache"
	"github.com/a3tai/mcp-pdf-annotator/internal/schema"
	"github.com/a3tai/mcp-pdf-annotator/internal/spans"
	"github.com/a3tai/mcp-pdf-annotator/internal/store"
	"github.com/a3tai/mcp-pdf-annotator/internal/viewport"
)

const testDocID = "doc-0001"

var (
	shift = capture.Modifiers{Shift: true}
	ctrl  = capture.Modifiers{Ctrl: true}
)

func intPtr(i int) *int { return &i }

func testDocument() *engine.MemoryDocument {
	letter := viewport.Size{Width: 612, Height: 792}
	return engine.NewMemoryDocument(testDocID, "rfq-0001.pdf",
		engine.MemoryPage{Size: letter, Spans: []spans.TextSpan{
			{Rect: geometry.Rect{X0: 110, Y0: 105, X1: 190, Y1: 125}, Text: "[12-31-23]"},
			{Rect: geometry.Rect{X0: 400, Y0: 600, X1: 500, Y1: 620}, Text: "Footer"},
		}},
		engine.MemoryPage{Size: letter, Spans: []spans.TextSpan{
			{Rect: geometry.Rect{X0: 55, Y0: 102, X1: 140, Y1: 116}, Text: "A-1001"},
			{Rect: geometry.Rect{X0: 55, Y0: 132, X1: 140, Y1: 146}, Text: "B-2002"},
		}},
	)
}

func openStore(t *testing.T) store.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	st, err := store.Open(store.DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", name), schema.Default(), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newSession(t *testing.T, st store.Store) *Session {
	t.Helper()
	s, err := New(context.Background(), testDocument(), st, nil, DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func drag(t *testing.T, s *Session, mods capture.Modifiers, from, to geometry.Point) *capture.Candidate {
	t.Helper()
	require.True(t, s.PointerDown(from, mods))
	s.PointerMove(to)
	cand, err := s.PointerUp(to)
	require.NoError(t, err)
	require.NotNil(t, cand)
	return cand
}

// page 1 starts at canvas y 792 + 20
const page1 = 812.0

func TestSession_EndToEndExport(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, openStore(t))

	cand := drag(t, s, shift, geometry.Pt(100, 100), geometry.Pt(200, 130))
	assert.Equal(t, 0, cand.Page)
	assert.Equal(t, geometry.Rect{X0: 100, Y0: 100, X1: 200, Y1: 130}, cand.Rect)

	date, err := s.Bind(ctx, fieldbind.Choice{Field: "rfq_date"})
	require.NoError(t, err)
	assert.Equal(t, "12-31-23", date.RawValue)
	assert.Equal(t, "2023-12-31", date.NormalizedValue)
	assert.Equal(t, "draw", date.Mode)

	drag(t, s, shift, geometry.Pt(50, page1+100), geometry.Pt(150, page1+118))
	first, err := s.Bind(ctx, fieldbind.Choice{Field: "part_number", NewItem: true})
	require.NoError(t, err)
	assert.Equal(t, 0, *first.LineItem)
	assert.Equal(t, "A-1001", first.RawValue)

	drag(t, s, shift, geometry.Pt(50, page1+130), geometry.Pt(150, page1+148))
	second, err := s.Bind(ctx, fieldbind.Choice{Field: "part_number", NewItem: true})
	require.NoError(t, err)
	assert.Equal(t, 1, *second.LineItem)

	out, err := s.ExportCSV(ctx)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(out), "\n"), "\n")
	require.Len(t, lines, 3)
	rfq := schema.Default().Position("rfq_date")
	part := schema.Default().Position("part_number")
	for i, line := range lines[1:] {
		cols := strings.Split(line, ",")
		assert.Equal(t, "2023-12-31", cols[rfq], "row %d", i)
	}
	assert.Equal(t, "A-1001", strings.Split(lines[1], ",")[part])
	assert.Equal(t, "B-2002", strings.Split(lines[2], ",")[part])

	assert.Equal(t, "rfq-0001_annotations.csv", s.ExportFileName())
}

func TestSession_SnapToText(t *testing.T) {
	s := newSession(t, openStore(t))

	cand := drag(t, s, ctrl, geometry.Pt(105, 100), geometry.Pt(160, 130))
	assert.Equal(t, capture.ModeSnap, cand.Mode)
	assert.True(t, cand.Snapped)
	assert.Equal(t, geometry.Rect{X0: 110, Y0: 105, X1: 190, Y1: 125}, cand.Rect)
}

func TestSession_UnboundFieldKeepsCandidate(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, openStore(t))

	_, err := s.Bind(ctx, fieldbind.Choice{Field: "currency"})
	assert.True(t, errors.Is(err, annerrors.ErrInvalidArgument), "nothing to bind yet")

	drag(t, s, shift, geometry.Pt(100, 100), geometry.Pt(200, 130))
	_, err = s.Bind(ctx, fieldbind.Choice{Field: ""})
	assert.True(t, errors.Is(err, annerrors.ErrUnboundField))

	_, ok := s.Pending()
	assert.True(t, ok, "candidate stays for the next prompt")
	assert.Empty(t, s.Annotations())

	_, err = s.Bind(ctx, fieldbind.Choice{Field: "currency", Text: strPtr("EUR")})
	require.NoError(t, err)
	_, ok = s.Pending()
	assert.False(t, ok)
}

func strPtr(v string) *string { return &v }

func TestSession_DiscardedGesture(t *testing.T) {
	s := newSession(t, openStore(t))

	require.True(t, s.PointerDown(geometry.Pt(100, 100), shift))
	s.PointerMove(geometry.Pt(102, 102))
	cand, err := s.PointerUp(geometry.Pt(102, 102))
	assert.Nil(t, cand)
	assert.True(t, errors.Is(err, annerrors.ErrGestureDiscarded))
	assert.True(t, annerrors.TypeOf(err).IsSilent())

	_, ok := s.Pending()
	assert.False(t, ok)
	assert.Equal(t, capture.StateIdle.String(), s.State().Capture)
}

func TestSession_UnparseableDateIsStoredRaw(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, openStore(t))

	drag(t, s, shift, geometry.Pt(10, 10), geometry.Pt(60, 40))
	a, err := s.Bind(ctx, fieldbind.Choice{Field: "due_date", Text: strPtr("when ready")})
	assert.True(t, errors.Is(err, annerrors.ErrUnparseableDate))
	assert.NotZero(t, a.ID, "stored despite the warning")
	assert.False(t, a.Normalized)
	assert.Equal(t, "when ready", a.Value())
}

type flakyStore struct {
	store.Store
	mu   sync.Mutex
	fail bool
}

func (f *flakyStore) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *flakyStore) Upsert(ctx context.Context, a store.Annotation) (store.Annotation, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return store.Annotation{}, errors.New("disk full")
	}
	return f.Store.Upsert(ctx, a)
}

func TestSession_PersistenceFailureAndRetry(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{Store: openStore(t), fail: true}
	s := newSession(t, st)

	drag(t, s, shift, geometry.Pt(100, 100), geometry.Pt(200, 130))
	a, err := s.Bind(ctx, fieldbind.Choice{Field: "rfq_date"})
	assert.True(t, errors.Is(err, annerrors.ErrPersistenceWrite))
	assert.Equal(t, "2023-12-31", a.NormalizedValue)
	assert.Equal(t, 1, s.Unsaved())

	overlays := s.Overlays(0)
	require.Len(t, overlays, 1)
	assert.Equal(t, OverlayUnsaved, overlays[0].Kind)
	assert.Len(t, s.Annotations(), 1)

	n, err := s.RetryPending(ctx)
	assert.Error(t, err)
	assert.Equal(t, 0, n)

	st.setFail(false)
	n, err = s.RetryPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, s.Unsaved())
	assert.Equal(t, OverlayStored, s.Overlays(0)[0].Kind)

	stored, err := st.ListForDocument(ctx, testDocID)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestSession_DeleteAndHistory(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, openStore(t))

	for _, v := range []string{"ACME", "ACME Corp"} {
		drag(t, s, shift, geometry.Pt(10, 10), geometry.Pt(60, 40))
		_, err := s.Bind(ctx, fieldbind.Choice{Field: "customer_name", Text: strPtr(v)})
		require.NoError(t, err)
	}
	require.Len(t, s.Annotations(), 1)
	assert.Equal(t, "ACME Corp", s.Annotations()[0].RawValue)

	require.NoError(t, s.Delete(ctx, "customer_name", nil))
	assert.Empty(t, s.Annotations())
	assert.True(t, errors.Is(s.Delete(ctx, "customer_name", nil), annerrors.ErrNotFound))

	history, err := s.History(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	drag(t, s, shift, geometry.Pt(10, 10), geometry.Pt(60, 40))
	_, err = s.Bind(ctx, fieldbind.Choice{Field: "quantity", LineItem: intPtr(2), Text: strPtr("5")})
	require.NoError(t, err)
	require.NoError(t, s.DeleteAll(ctx))
	assert.Empty(t, s.Annotations())
	history, err = s.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSession_ReopenRestoresAnnotations(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	w := NewWorkspace(nil, st, 4, DefaultOptions())

	s, err := w.Adopt(ctx, testDocument())
	require.NoError(t, err)
	drag(t, s, shift, geometry.Pt(50, page1+100), geometry.Pt(150, page1+118))
	_, err = s.Bind(ctx, fieldbind.Choice{Field: "part_number", LineItem: intPtr(3)})
	require.NoError(t, err)
	require.NoError(t, w.Close(testDocID))

	s, err = w.Adopt(ctx, testDocument())
	require.NoError(t, err)
	require.Len(t, s.Annotations(), 1)

	// a capture on the same row joins the stored line item
	drag(t, s, shift, geometry.Pt(200, page1+101), geometry.Pt(300, page1+117))
	assert.Equal(t, 3, s.Prompt().SuggestedLineItem)
	require.NoError(t, w.CloseAll())
}

func TestSession_ViewOperations(t *testing.T) {
	s := newSession(t, openStore(t))
	require.NoError(t, s.Resize(800, 600))

	z, err := s.Wheel(1, true, geometry.Pt(100, 100))
	require.NoError(t, err)
	assert.InDelta(t, 1.25, z, 1e-9)
	d := s.ToDocument(geometry.Pt(100, 100))
	assert.InDelta(t, 100, d.X, 1e-9)
	assert.InDelta(t, 100, d.Y, 1e-9)

	_, err = s.SetZoom(100)
	assert.True(t, errors.Is(err, annerrors.ErrInvalidZoom))
	assert.Equal(t, viewport.DefaultMaxZoom, s.State().Zoom)

	_, err = s.SetZoom(1)
	require.NoError(t, err)
	require.NoError(t, s.ScrollToPage(1))
	assert.Equal(t, 1, s.State().CurrentPage)
	assert.Error(t, s.ScrollToPage(5))

	// a plain drag pans
	before := s.State().Pan
	require.True(t, s.PointerDown(geometry.Pt(300, 300), capture.Modifiers{}))
	s.PointerMove(geometry.Pt(300, 250))
	cand, err := s.PointerUp(geometry.Pt(300, 250))
	assert.Nil(t, cand)
	assert.NoError(t, err)
	assert.InDelta(t, before.Y+50, s.State().Pan.Y, 1e-9)
}

func TestSession_OverlaysAndRender(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, openStore(t))

	drag(t, s, shift, geometry.Pt(100, 100), geometry.Pt(200, 130))
	overlays := s.Overlays(0)
	require.Len(t, overlays, 1)
	assert.Equal(t, OverlayPending, overlays[0].Kind)

	_, err := s.Bind(ctx, fieldbind.Choice{Field: "rfq_date"})
	require.NoError(t, err)
	overlays = s.Overlays(-1)
	require.Len(t, overlays, 1)
	assert.Equal(t, OverlayStored, overlays[0].Kind)
	assert.Equal(t, "2023-12-31", overlays[0].Value)
	assert.Empty(t, s.Overlays(1))

	img, err := s.RenderPage(ctx, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 612, img.Bounds().Dx())

	inside := color.NRGBAModel.Convert(img.At(102, 101)).(color.NRGBA)
	assert.Less(t, inside.R, uint8(200))
	assert.Greater(t, inside.B, uint8(200))
	outside := color.NRGBAModel.Convert(img.At(300, 300)).(color.NRGBA)
	assert.Equal(t, uint8(255), outside.R)

	// the cached preview itself stays clean
	base, ok := s.previews.Get(pagecache.NewKey(testDocID, 0, 1))
	require.True(t, ok)
	clean := color.NRGBAModel.Convert(base.At(102, 101)).(color.NRGBA)
	assert.Equal(t, uint8(255), clean.R)

	_, err = s.RenderPage(ctx, 9, 1)
	assert.True(t, errors.Is(err, annerrors.ErrInvalidArgument))
}

func TestSession_Prefetch(t *testing.T) {
	doc := testDocument()
	s, err := New(context.Background(), doc, openStore(t), nil, DefaultOptions())
	require.NoError(t, err)

	require.NoError(t, s.Prefetch(context.Background(), []int{0, 1, 7}))
	assert.True(t, s.IndexBuilt(0))
	assert.True(t, s.IndexBuilt(1))
	assert.True(t, s.previews.Contains(pagecache.NewKey(testDocID, 1, 1)))
	calls := doc.SpanCalls()

	require.NoError(t, s.Prefetch(context.Background(), []int{0, 1}))
	assert.Equal(t, calls, doc.SpanCalls(), "indexes are built once per page")

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Prefetch(cancelled, []int{0}))

	require.NoError(t, s.Close())
	assert.True(t, doc.Closed())
	assert.False(t, s.IndexBuilt(0))
	assert.Zero(t, s.previews.Len())
}

func TestSession_PrefetchVisible(t *testing.T) {
	s := newSession(t, openStore(t))
	require.NoError(t, s.Resize(612, 400))
	require.NoError(t, s.PrefetchVisible(context.Background()))
	assert.True(t, s.IndexBuilt(0))
	assert.True(t, s.IndexBuilt(1), "one page of lookahead")
}

// slowDocument renders each page only after a delay, or fails as soon as its
// context is cancelled
type slowDocument struct {
	*engine.MemoryDocument
	delay     time.Duration
	started   chan int
	cancelled atomic.Int64
}

func newSlowDocument(pages int, delay time.Duration) *slowDocument {
	letter := viewport.Size{Width: 612, Height: 792}
	list := make([]engine.MemoryPage, pages)
	for i := range list {
		list[i] = engine.MemoryPage{Size: letter}
	}
	return &slowDocument{
		MemoryDocument: engine.NewMemoryDocument(testDocID, "long.pdf", list...),
		delay:          delay,
		started:        make(chan int, 256),
	}
}

func (d *slowDocument) RenderPage(ctx context.Context, page int, scale float64) (image.Image, error) {
	select {
	case d.started <- page:
	default:
	}
	select {
	case <-ctx.Done():
		d.cancelled.Add(1)
		return nil, ctx.Err()
	case <-time.After(d.delay):
		return d.MemoryDocument.RenderPage(ctx, page, scale)
	}
}

func waitStarted(t *testing.T, d *slowDocument, accept func(page int) bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case p := <-d.started:
			if accept(p) {
				return
			}
		case <-deadline:
			t.Fatal("no matching render started")
		}
	}
}

func TestSession_ScrollCancelsPreparation(t *testing.T) {
	doc := newSlowDocument(30, 5*time.Second)
	s, err := New(context.Background(), doc, openStore(t), nil, DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Resize(612, 400))
	waitStarted(t, doc, func(page int) bool { return page <= 1 })

	require.NoError(t, s.ScrollToPage(25))
	require.Eventually(t, func() bool { return doc.cancelled.Load() >= 1 },
		time.Second, 10*time.Millisecond, "render of a page scrolled past is abandoned")
	waitStarted(t, doc, func(page int) bool { return page >= 24 && page <= 26 })

	before := doc.cancelled.Load()
	s.PanBy(geometry.Pt(0, 5000))
	require.Eventually(t, func() bool { return doc.cancelled.Load() > before },
		time.Second, 10*time.Millisecond)

	start := time.Now()
	require.NoError(t, s.Close())
	assert.Less(t, time.Since(start), time.Second, "close does not wait for abandoned renders")
}

func TestSession_ZoomAndPanReschedulePreparation(t *testing.T) {
	doc := newSlowDocument(30, 5*time.Second)
	s, err := New(context.Background(), doc, openStore(t), nil, DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Resize(612, 400))
	waitStarted(t, doc, func(int) bool { return true })

	_, err = s.ZoomIn()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return doc.cancelled.Load() >= 1 }, time.Second, 10*time.Millisecond)

	// a plain drag pans and reschedules on release
	before := doc.cancelled.Load()
	waitStarted(t, doc, func(int) bool { return true })
	require.True(t, s.PointerDown(geometry.Pt(300, 300), capture.Modifiers{}))
	s.PointerMove(geometry.Pt(300, 100))
	_, err = s.PointerUp(geometry.Pt(300, 100))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return doc.cancelled.Load() > before }, time.Second, 10*time.Millisecond)
}

func TestSession_SchedulePrefetchWithoutViewport(t *testing.T) {
	s := newSession(t, openStore(t))

	s.SchedulePrefetch()
	require.Eventually(t, func() bool { return s.IndexBuilt(0) && s.IndexBuilt(1) },
		2*time.Second, 10*time.Millisecond, "current page and its neighbour are prepared")
}

func TestSession_CloseDropsLateRenders(t *testing.T) {
	doc := newSlowDocument(2, 200*time.Millisecond)
	previews := pagecache.New(8)
	s, err := New(context.Background(), doc, openStore(t), previews, DefaultOptions())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.RenderPage(context.Background(), 0, 1)
		done <- err
	}()
	waitStarted(t, doc, func(int) bool { return true })

	require.NoError(t, s.Close())
	require.NoError(t, <-done)
	assert.Zero(t, previews.Len(), "a render finished after close is not cached")
}

func TestSession_UndoLast(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, openStore(t))

	_, _, err := s.UndoLast(ctx)
	assert.True(t, errors.Is(err, annerrors.ErrNotFound))

	for _, v := range []string{"ACME", "ACME Corp"} {
		drag(t, s, shift, geometry.Pt(10, 10), geometry.Pt(60, 40))
		_, err := s.Bind(ctx, fieldbind.Choice{Field: "customer_name", Text: strPtr(v)})
		require.NoError(t, err)
	}
	drag(t, s, shift, geometry.Pt(10, 10), geometry.Pt(60, 40))
	_, err = s.Bind(ctx, fieldbind.Choice{Field: "currency", Text: strPtr("EUR")})
	require.NoError(t, err)

	undone, restored, err := s.UndoLast(ctx)
	require.NoError(t, err)
	assert.Equal(t, "currency", undone.FieldName)
	assert.Nil(t, restored, "nothing was replaced")

	undone, restored, err = s.UndoLast(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ACME Corp", undone.RawValue)
	require.NotNil(t, restored)
	assert.Equal(t, "ACME", restored.RawValue)

	list := s.Annotations()
	require.Len(t, list, 1)
	assert.Equal(t, "ACME", list[0].RawValue)
	stored, err := s.store.ListForDocument(ctx, testDocID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "ACME", stored[0].RawValue)

	_, _, err = s.UndoLast(ctx)
	require.NoError(t, err)
	assert.Empty(t, s.Annotations())
	_, _, err = s.UndoLast(ctx)
	assert.True(t, errors.Is(err, annerrors.ErrNotFound))
}

func TestSession_UndoUnsavedBind(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{Store: openStore(t)}
	s := newSession(t, st)

	drag(t, s, shift, geometry.Pt(10, 10), geometry.Pt(60, 40))
	_, err := s.Bind(ctx, fieldbind.Choice{Field: "currency", Text: strPtr("EUR")})
	require.NoError(t, err)

	st.setFail(true)
	drag(t, s, shift, geometry.Pt(10, 10), geometry.Pt(60, 40))
	_, err = s.Bind(ctx, fieldbind.Choice{Field: "currency", Text: strPtr("USD")})
	require.True(t, errors.Is(err, annerrors.ErrPersistenceWrite))
	require.Equal(t, 1, s.Unsaved())

	undone, restored, err := s.UndoLast(ctx)
	require.NoError(t, err, "undoing an unsaved bind needs no write")
	assert.Equal(t, "USD", undone.RawValue)
	require.NotNil(t, restored)
	assert.Equal(t, "EUR", restored.RawValue)
	assert.Zero(t, s.Unsaved())
	assert.Equal(t, "EUR", s.Annotations()[0].RawValue)
}

func TestSession_DeleteForgetsUndo(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, openStore(t))

	drag(t, s, shift, geometry.Pt(10, 10), geometry.Pt(60, 40))
	_, err := s.Bind(ctx, fieldbind.Choice{Field: "currency", Text: strPtr("EUR")})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "currency", nil))

	_, _, err = s.UndoLast(ctx)
	assert.True(t, errors.Is(err, annerrors.ErrNotFound))
}

type memoryOpener struct {
	docs map[string]*engine.MemoryDocument
}

func (o memoryOpener) Open(path string) (engine.Document, error) {
	if d, ok := o.docs[path]; ok {
		return d, nil
	}
	return nil, annerrors.New(annerrors.ErrorTypeDocumentLoadFailure, "no such document").WithContext(path)
}

func TestWorkspace(t *testing.T) {
	ctx := context.Background()
	first, second := testDocument(), testDocument()
	w := NewWorkspace(memoryOpener{docs: map[string]*engine.MemoryDocument{
		"a.pdf": first,
		"copy-of-a.pdf": second,
	}}, openStore(t), 4, DefaultOptions())

	s1, err := w.Open(ctx, "a.pdf")
	require.NoError(t, err)
	s2, err := w.Open(ctx, "copy-of-a.pdf")
	require.NoError(t, err)
	assert.Same(t, s1, s2, "same identity, same session")
	assert.True(t, second.Closed())
	assert.False(t, first.Closed())

	_, err = w.Open(ctx, "missing.pdf")
	assert.True(t, errors.Is(err, annerrors.ErrDocumentLoad))

	got, err := w.Get(testDocID)
	require.NoError(t, err)
	assert.Same(t, s1, got)
	_, err = w.Get("nope")
	assert.True(t, errors.Is(err, annerrors.ErrNotFound))

	list := w.List()
	require.Len(t, list, 1)
	assert.Equal(t, Info{DocumentID: testDocID, Name: "rfq-0001.pdf", PageCount: 2}, list[0])

	require.NoError(t, w.Close(testDocID))
	assert.True(t, first.Closed())
	assert.True(t, errors.Is(w.Close(testDocID), annerrors.ErrNotFound))
	assert.Empty(t, w.List())
}
