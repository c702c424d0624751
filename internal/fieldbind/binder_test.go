package fieldbind

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-pdf-annotator/internal/capture"
	"github.com/a3tai/mcp-pdf-annotator/internal/dates"
	annerrors "github.com/a3tai/mcp-pdf-annotator/internal/errors"
	"github.com/a3tai/mcp-pdf-annotator/internal/geometry"
	"github.com/a3tai/mcp-pdf-annotator/internal/schema"
	"github.com/a3tai/mcp-pdf-annotator/internal/spans"
)

func intPtr(i int) *int { return &i }

func strPtr(s string) *string { return &s }

func newTestBinder() *Binder {
	cache := spans.NewCache(func(page int) ([]spans.TextSpan, error) {
		return []spans.TextSpan{
			{Rect: geometry.Rect{X0: 50, Y0: 100, X1: 120, Y1: 112}, Text: "RFQ"},
			{Rect: geometry.Rect{X0: 125, Y0: 100, X1: 160, Y1: 112}, Text: "Date:"},
			{Rect: geometry.Rect{X0: 300, Y0: 100, X1: 360, Y1: 112}, Text: "[12-31-23]"},
			{Rect: geometry.Rect{X0: 50, Y0: 200, X1: 110, Y1: 212}, Text: "A-1001"},
			{Rect: geometry.Rect{X0: 120, Y0: 200, X1: 260, Y1: 212}, Text: "Hex   bolt\tM8"},
		}, nil
	})
	return New(schema.Default(), dates.New(dates.DefaultOptions()), cache)
}

func candidate(page int, r geometry.Rect) capture.Candidate {
	return capture.Candidate{Page: page, Rect: r, Sweep: r, Mode: capture.ModeDraw}
}

func TestBind_UnboundField(t *testing.T) {
	b := newTestBinder()
	c := candidate(0, geometry.Rect{X0: 0, Y0: 0, X1: 10, Y1: 10})

	for _, field := range []string{"", "   ", "total_price"} {
		_, err := b.Bind(c, Choice{Field: field, LineItem: intPtr(0)})
		assert.True(t, errors.Is(err, annerrors.ErrUnboundField), "field %q", field)
	}
	assert.Empty(t, b.KnownLineItems(), "nothing recorded for unbound candidates")
}

func TestBind_DateField(t *testing.T) {
	b := newTestBinder()
	c := candidate(0, geometry.Rect{X0: 295, Y0: 98, X1: 365, Y1: 114})

	got, err := b.Bind(c, Choice{Field: "rfq_date"})
	require.NoError(t, err)
	assert.Equal(t, "rfq_date", got.Field.Name)
	assert.Nil(t, got.LineItem)
	assert.Equal(t, "12-31-23", got.Raw)
	assert.Equal(t, "2023-12-31", got.Normalized)
	assert.True(t, got.IsNormalized)
}

func TestBind_UnparseableDateKeepsRaw(t *testing.T) {
	b := newTestBinder()
	c := candidate(0, geometry.Rect{X0: 0, Y0: 0, X1: 10, Y1: 10})

	got, err := b.Bind(c, Choice{Field: "due_date", Text: strPtr("next  Tuesday-ish")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, annerrors.ErrUnparseableDate))
	assert.Equal(t, "due_date", got.Field.Name)
	assert.Equal(t, "next Tuesday-ish", got.Raw)
	assert.Equal(t, got.Raw, got.Normalized)
	assert.False(t, got.IsNormalized)
}

func TestBind_TextExtractionReadingOrder(t *testing.T) {
	b := newTestBinder()
	c := candidate(0, geometry.Rect{X0: 40, Y0: 95, X1: 400, Y1: 215})

	got, err := b.Bind(c, Choice{Field: "document_name"})
	require.NoError(t, err)
	assert.Equal(t, "RFQ Date: [12-31-23] A-1001 Hex bolt M8", got.Raw)
	assert.Equal(t, got.Raw, got.Normalized)
}

func TestBind_TextOverride(t *testing.T) {
	b := newTestBinder()
	c := candidate(0, geometry.Rect{X0: 50, Y0: 200, X1: 110, Y1: 212})

	got, err := b.Bind(c, Choice{Field: "quantity", Text: strPtr(" 0012 ")})
	require.NoError(t, err)
	assert.Equal(t, "0012", got.Raw, "numeric-looking values stay text")
	require.NotNil(t, got.LineItem)
	assert.Equal(t, 0, *got.LineItem)
}

func TestBind_LineItemInference(t *testing.T) {
	b := newTestBinder()

	row1 := geometry.Rect{X0: 50, Y0: 200, X1: 110, Y1: 212}
	row2 := geometry.Rect{X0: 50, Y0: 230, X1: 110, Y1: 242}

	got, err := b.Bind(candidate(0, row1), Choice{Field: "part_number", LineItem: intPtr(0)})
	require.NoError(t, err)
	assert.Equal(t, 0, *got.LineItem)

	got, err = b.Bind(candidate(0, row2), Choice{Field: "part_number", NewItem: true})
	require.NoError(t, err)
	assert.Equal(t, 1, *got.LineItem)

	// same row as row1, to the right: joins item 0
	got, err = b.Bind(candidate(0, geometry.Rect{X0: 120, Y0: 201, X1: 260, Y1: 211}), Choice{Field: "description"})
	require.NoError(t, err)
	assert.Equal(t, 0, *got.LineItem)

	// same row as row2
	assert.Equal(t, 1, b.SuggestLineItem(0, geometry.Rect{X0: 300, Y0: 228, X1: 340, Y1: 244}))

	// no row match on another page: last used item
	assert.Equal(t, 0, b.SuggestLineItem(1, geometry.Rect{X0: 300, Y0: 228, X1: 340, Y1: 244}))

	assert.Equal(t, []int{0, 1}, b.KnownLineItems())

	_, err = b.Bind(candidate(0, row1), Choice{Field: "part_number", LineItem: intPtr(-1)})
	assert.True(t, errors.Is(err, annerrors.ErrInvalidArgument))
}

func TestBind_DefaultsToZeroWithoutHistory(t *testing.T) {
	b := newTestBinder()
	assert.Equal(t, 0, b.SuggestLineItem(0, geometry.Rect{X0: 0, Y0: 0, X1: 10, Y1: 10}))

	got, err := b.Bind(candidate(0, geometry.Rect{X0: 0, Y0: 500, X1: 10, Y1: 510}), Choice{Field: "quantity", NewItem: true})
	require.NoError(t, err)
	assert.Equal(t, 0, *got.LineItem)
}

func TestBinder_ObserveAndReset(t *testing.T) {
	b := newTestBinder()
	b.Observe(2, geometry.Rect{X0: 0, Y0: 100, X1: 10, Y1: 110}, intPtr(4))
	b.Observe(2, geometry.Rect{X0: 0, Y0: 0, X1: 10, Y1: 10}, nil)

	assert.Equal(t, []int{4}, b.KnownLineItems())
	assert.Equal(t, 4, b.SuggestLineItem(2, geometry.Rect{X0: 50, Y0: 102, X1: 80, Y1: 108}))

	b.Reset()
	assert.Empty(t, b.KnownLineItems())
}

func TestBinder_Prompt(t *testing.T) {
	b := newTestBinder()
	b.Observe(0, geometry.Rect{X0: 50, Y0: 200, X1: 110, Y1: 212}, intPtr(3))

	c := candidate(0, geometry.Rect{X0: 120, Y0: 200, X1: 260, Y1: 212})
	p := b.Prompt(&c)
	assert.Len(t, p.Metadata, 6)
	assert.Len(t, p.LineItem, 10)
	assert.Equal(t, []int{3}, p.KnownLineItems)
	assert.Equal(t, 3, p.SuggestedLineItem)
	assert.Equal(t, "Hex bolt M8", p.PreviewText)

	p = b.Prompt(nil)
	assert.Equal(t, 0, p.SuggestedLineItem)
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "ABC 123", CleanText("  ＡＢＣ\n\t１２３ "))
	assert.Equal(t, "2024-04-03", StripBrackets(" [2024-04-03] "))
}
