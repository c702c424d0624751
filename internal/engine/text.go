package engine

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/a3tai/mcp-pdf-annotator/internal/geometry"
	"github.com/a3tai/mcp-pdf-annotator/internal/spans"
)

const (
	defaultFontSize = 12.0
	// ascent and descent as fractions of the font size
	ascent  = 0.8
	descent = 0.2
	// wordGap is the horizontal gap, in font sizes, that separates two words
	wordGap = 0.25
)

// Glyph is a positioned text run in PDF user space: origin bottom-left, Y is
// the baseline
type Glyph struct {
	X, Y     float64
	W        float64
	FontSize float64
	S        string
}

// pageGlyphs reads the text runs of a 1-based page. The content parser panics
// on some malformed streams; that is reported as an error.
func pageGlyphs(r *pdf.Reader, pageNum int) (glyphs []Glyph, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			glyphs, err = nil, fmt.Errorf("malformed content stream: %v", rec)
		}
	}()

	page := r.Page(pageNum)
	if page.V.IsNull() {
		return nil, fmt.Errorf("page %d not found", pageNum)
	}
	for _, t := range page.Content().Text {
		glyphs = append(glyphs, Glyph{X: t.X, Y: t.Y, W: t.W, FontSize: t.FontSize, S: t.S})
	}
	return glyphs, nil
}

// GroupGlyphs merges runs on the same baseline that touch into word spans
// and converts them to top-left page coordinates for a page of the given
// height. Whitespace runs separate words and are dropped.
func GroupGlyphs(glyphs []Glyph, pageHeight float64) []spans.TextSpan {
	var out []spans.TextSpan
	var word strings.Builder
	var rect geometry.Rect
	var last Glyph
	open := false

	flush := func() {
		if open && strings.TrimSpace(word.String()) != "" {
			out = append(out, spans.TextSpan{Rect: rect, Text: word.String()})
		}
		word.Reset()
		open = false
	}

	for _, g := range glyphs {
		if g.FontSize <= 0 {
			g.FontSize = defaultFontSize
		}
		if strings.TrimSpace(g.S) == "" {
			flush()
			continue
		}

		r := glyphRect(g, pageHeight)
		if open && continues(last, g) {
			word.WriteString(g.S)
			rect = rect.Union(r)
		} else {
			flush()
			word.WriteString(g.S)
			rect = r
			open = true
		}
		last = g
	}
	flush()
	return out
}

func continues(prev, next Glyph) bool {
	size := math.Max(prev.FontSize, next.FontSize)
	if math.Abs(prev.Y-next.Y) > size*0.3 {
		return false
	}
	gap := next.X - (prev.X + prev.W)
	return gap <= size*wordGap && gap >= -size
}

func glyphRect(g Glyph, pageHeight float64) geometry.Rect {
	w := g.W
	if w <= 0 {
		w = g.FontSize * 0.5 * float64(len([]rune(g.S)))
	}
	return geometry.Rect{
		X0: g.X,
		Y0: pageHeight - (g.Y + g.FontSize*ascent),
		X1: g.X + w,
		Y1: pageHeight - (g.Y - g.FontSize*descent),
	}
}

func baseName(path string) string {
	return filepath.Base(path)
}
