package engine

import (
	"context"
	"fmt"
	"image"
	"sync/atomic"

	"github.com/a3tai/mcp-pdf-annotator/internal/spans"
	"github.com/a3tai/mcp-pdf-annotator/internal/viewport"
)

// MemoryPage is one page of a MemoryDocument
type MemoryPage struct {
	Size  viewport.Size
	Spans []spans.TextSpan
}

// MemoryDocument is a Document held in memory. It renders and indexes like a
// PDF document and is used where no file is involved.
type MemoryDocument struct {
	id    string
	name  string
	pages []MemoryPage

	spanCalls atomic.Int64
	closed    atomic.Bool
}

// NewMemoryDocument creates an in-memory document
func NewMemoryDocument(id, name string, pages ...MemoryPage) *MemoryDocument {
	return &MemoryDocument{id: id, name: name, pages: pages}
}

func (d *MemoryDocument) ID() string     { return d.id }
func (d *MemoryDocument) Name() string   { return d.name }
func (d *MemoryDocument) PageCount() int { return len(d.pages) }

func (d *MemoryDocument) PageSize(page int) (viewport.Size, error) {
	if page < 0 || page >= len(d.pages) {
		return viewport.Size{}, fmt.Errorf("page %d out of range [0, %d)", page, len(d.pages))
	}
	return d.pages[page].Size, nil
}

func (d *MemoryDocument) TextSpans(page int) ([]spans.TextSpan, error) {
	if _, err := d.PageSize(page); err != nil {
		return nil, err
	}
	d.spanCalls.Add(1)
	out := make([]spans.TextSpan, len(d.pages[page].Spans))
	copy(out, d.pages[page].Spans)
	return out, nil
}

func (d *MemoryDocument) RenderPage(ctx context.Context, page int, scale float64) (image.Image, error) {
	size, err := d.PageSize(page)
	if err != nil {
		return nil, err
	}
	return Wireframe(ctx, size, d.pages[page].Spans, scale)
}

func (d *MemoryDocument) Close() error {
	d.closed.Store(true)
	return nil
}

// SpanCalls returns how many times text spans were read
func (d *MemoryDocument) SpanCalls() int {
	return int(d.spanCalls.Load())
}

// Closed reports whether Close was called
func (d *MemoryDocument) Closed() bool {
	return d.closed.Load()
}
