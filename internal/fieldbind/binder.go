// Package fieldbind assigns a finalized annotation rectangle to a field of the
// schema and extracts its value.
package fieldbind

import (
	"math"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/a3tai/mcp-pdf-annotator/internal/capture"
	"github.com/a3tai/mcp-pdf-annotator/internal/dates"
	annerrors "github.com/a3tai/mcp-pdf-annotator/internal/errors"
	"github.com/a3tai/mcp-pdf-annotator/internal/geometry"
	"github.com/a3tai/mcp-pdf-annotator/internal/schema"
	"github.com/a3tai/mcp-pdf-annotator/internal/spans"
)

// sameRowOverlap is the fraction of the shorter rectangle's height two
// rectangles must share to count as the same table row
const sameRowOverlap = 0.5

// SpanLookup provides the span index of a page
type SpanLookup interface {
	Get(page int) (*spans.Index, error)
}

// Choice is the user's answer to the binding prompt
type Choice struct {
	Field string `json:"field"`
	// LineItem selects an existing or explicit line item; it wins over NewItem
	LineItem *int `json:"line_item,omitempty"`
	// NewItem starts a line item after the highest known one
	NewItem bool `json:"new_item,omitempty"`
	// Text overrides the text extracted from the page
	Text *string `json:"text,omitempty"`
}

// Binding is a candidate bound to a field with its extracted value
type Binding struct {
	Field      schema.Field  `json:"field"`
	Page       int           `json:"page"`
	Rect       geometry.Rect `json:"rect"`
	Mode       capture.Mode  `json:"mode"`
	LineItem   *int          `json:"line_item,omitempty"`
	Raw        string        `json:"raw"`
	Normalized string        `json:"normalized"`
	// IsNormalized is false for date fields whose text could not be parsed
	IsNormalized bool `json:"is_normalized"`
}

// Prompt is what the user is asked when a candidate needs a field
type Prompt struct {
	Metadata          []schema.Field `json:"metadata"`
	LineItem          []schema.Field `json:"line_item"`
	KnownLineItems    []int          `json:"known_line_items"`
	SuggestedLineItem int            `json:"suggested_line_item"`
	PreviewText       string         `json:"preview_text,omitempty"`
}

type itemRect struct {
	page int
	rect geometry.Rect
}

// Binder binds candidates for one document. It remembers the line-item
// rectangles it has seen so later captures on the same row join that item.
// A Binder is not safe for concurrent use.
type Binder struct {
	schema *schema.Schema
	dates  *dates.Normalizer
	spans  SpanLookup

	items        map[int][]itemRect
	lastLineItem *int
}

// New creates a Binder. lookup may be nil when only user-provided text is bound.
func New(s *schema.Schema, n *dates.Normalizer, lookup SpanLookup) *Binder {
	return &Binder{
		schema: s,
		dates:  n,
		spans:  lookup,
		items:  make(map[int][]itemRect),
	}
}

// Observe records an existing line-item rectangle, for example one loaded from
// the store. Metadata rectangles are ignored.
func (b *Binder) Observe(page int, rect geometry.Rect, lineItem *int) {
	if lineItem == nil {
		return
	}
	b.items[*lineItem] = append(b.items[*lineItem], itemRect{page: page, rect: rect})
}

// Reset forgets every observed rectangle and the last used line item
func (b *Binder) Reset() {
	b.items = make(map[int][]itemRect)
	b.lastLineItem = nil
}

// KnownLineItems returns the observed line-item indexes in ascending order
func (b *Binder) KnownLineItems() []int {
	out := make([]int, 0, len(b.items))
	for i := range b.items {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// SuggestLineItem infers the line item for a rectangle: the item with a
// rectangle on the same row of the same page, else the last used item, else 0.
func (b *Binder) SuggestLineItem(page int, rect geometry.Rect) int {
	if item, ok := b.sameRow(page, rect); ok {
		return item
	}
	if b.lastLineItem != nil {
		return *b.lastLineItem
	}
	return 0
}

func (b *Binder) sameRow(page int, rect geometry.Rect) (int, bool) {
	best, found := 0, false
	bestOverlap, bestDist := 0.0, math.Inf(1)

	for _, item := range b.KnownLineItems() {
		for _, r := range b.items[item] {
			if r.page != page {
				continue
			}
			overlap := rect.VerticalOverlap(r.rect)
			shorter := math.Min(rect.Dy(), r.rect.Dy())
			if shorter <= 0 || overlap < sameRowOverlap*shorter {
				continue
			}
			ratio := overlap / shorter
			dist := math.Abs(rect.Center().Y - r.rect.Center().Y)
			if ratio > bestOverlap || (ratio == bestOverlap && dist < bestDist) {
				best, found, bestOverlap, bestDist = item, true, ratio, dist
			}
		}
	}
	return best, found
}

func (b *Binder) nextLineItem() int {
	next := 0
	for i := range b.items {
		if i+1 > next {
			next = i + 1
		}
	}
	return next
}

// Prompt returns the prompt surface for a candidate
func (b *Binder) Prompt(c *capture.Candidate) Prompt {
	p := Prompt{
		Metadata:       b.schema.OfKind(schema.KindMetadata),
		LineItem:       b.schema.OfKind(schema.KindLineItem),
		KnownLineItems: b.KnownLineItems(),
	}
	if c != nil {
		p.SuggestedLineItem = b.SuggestLineItem(c.Page, c.Rect)
		p.PreviewText = b.extract(c)
	} else if b.lastLineItem != nil {
		p.SuggestedLineItem = *b.lastLineItem
	}
	return p
}

// Bind assigns the candidate to the chosen field. An empty or unknown field
// returns UnboundField and nothing is recorded. A date that cannot be parsed
// still binds, with the raw text as value, and is reported with an
// UnparseableDate error next to the binding.
func (b *Binder) Bind(c capture.Candidate, choice Choice) (Binding, error) {
	name := strings.TrimSpace(choice.Field)
	if name == "" {
		return Binding{}, annerrors.New(annerrors.ErrorTypeUnboundField, "no field selected").WithPage(c.Page)
	}
	field, ok := b.schema.Lookup(name)
	if !ok {
		return Binding{}, annerrors.Newf(annerrors.ErrorTypeUnboundField, "unknown field %q", name).
			WithPage(c.Page).WithField(name)
	}

	binding := Binding{
		Field: field,
		Page:  c.Page,
		Rect:  c.Rect,
		Mode:  c.Mode,
	}

	if field.IsLineItem() {
		var item int
		switch {
		case choice.LineItem != nil:
			if *choice.LineItem < 0 {
				return Binding{}, annerrors.Newf(annerrors.ErrorTypeInvalidArgument,
					"line item %d is negative", *choice.LineItem).WithField(name)
			}
			item = *choice.LineItem
		case choice.NewItem:
			item = b.nextLineItem()
		default:
			item = b.SuggestLineItem(c.Page, c.Rect)
		}
		binding.LineItem = &item
	}

	if choice.Text != nil {
		binding.Raw = CleanText(*choice.Text)
	} else {
		binding.Raw = b.extract(&c)
	}

	var warning error
	binding.Normalized, binding.IsNormalized = binding.Raw, true
	if field.IsDate() {
		binding.Raw = StripBrackets(binding.Raw)
		normalized, err := b.dates.Normalize(binding.Raw)
		if err != nil {
			binding.Normalized, binding.IsNormalized = binding.Raw, false
			warning = annerrors.Wrap(annerrors.ErrorTypeUnparseableDate,
				"date kept as raw text", err).WithField(name).WithPage(c.Page)
		} else {
			binding.Normalized = normalized
		}
	}

	if binding.LineItem != nil {
		b.Observe(c.Page, c.Rect, binding.LineItem)
		last := *binding.LineItem
		b.lastLineItem = &last
	}
	return binding, warning
}

func (b *Binder) extract(c *capture.Candidate) string {
	if b.spans == nil {
		return ""
	}
	idx, err := b.spans.Get(c.Page)
	if err != nil {
		return ""
	}
	return CleanText(idx.Text(c.Rect))
}

// CleanText applies NFKC normalization and collapses runs of whitespace
func CleanText(s string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}

// StripBrackets removes the square brackets form templates put around dates
func StripBrackets(s string) string {
	return strings.TrimSpace(strings.NewReplacer("[", "", "]", "").Replace(s))
}
